// Package bolt implements the transport.MessageIndex port over bbolt,
// grounded on drand/chain/boltdb's BoltStore: a single bucket keyed by the
// opaque 32-byte msg_index, persisting blobs across process restarts.
package bolt

import (
	"context"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/drand/streams/log"
	"github.com/drand/streams/streamerrs"
)

var messagesBucket = []byte("messages")

// BoltFileName is the default file name a Store's database is opened at.
const BoltFileName = "streams.db"

// BoltStoreOpenPerm is the file permission used when opening the database.
const BoltStoreOpenPerm = 0660

// Store implements the transport.MessageIndex port (and the blob half of
// transport.Transport) using the boltdb storage engine. Each key maps to a
// length-prefixed concatenation of every blob recorded under that index,
// mirroring the multi-blob semantics recv_messages must support.
type Store struct {
	sync.Mutex
	db  *bolt.DB
	log log.Logger
}

// Open returns a Store backed by the bbolt file at path.
func Open(path string, l log.Logger) (*Store, error) {
	if l == nil {
		l = log.DefaultLogger()
	}
	db, err := bolt.Open(path, BoltStoreOpenPerm, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: l}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put appends blob under tag.
func (s *Store) Put(tag [32]byte, blob []byte) error {
	s.Lock()
	defer s.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messagesBucket)
		existing := bucket.Get(tag[:])
		encoded, err := decodeBlobList(existing)
		if err != nil {
			return err
		}
		encoded = append(encoded, blob)
		return bucket.Put(tag[:], encodeBlobList(encoded))
	})
}

// GetMessagesByMsgIndex implements transport.MessageIndex.
func (s *Store) GetMessagesByMsgIndex(_ context.Context, tag [32]byte) ([][]byte, error) {
	s.Lock()
	defer s.Unlock()
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messagesBucket)
		v := bucket.Get(tag[:])
		if v == nil {
			return nil
		}
		decoded, err := decodeBlobList(v)
		if err != nil {
			return err
		}
		out = decoded
		return nil
	})
	if err != nil {
		s.log.Errorw("reading message index", "bolt", "get", "err", err)
	}
	return out, err
}

// GetTagValue implements transport.MessageIndex: for this bolt-backed store
// the medium-specific tag is the msg_index itself.
func (s *Store) GetTagValue(_ context.Context, msgIndex [32]byte) ([]byte, error) {
	return msgIndex[:], nil
}

// encodeBlobList/decodeBlobList implement a trivial length-prefixed list for
// this internal bucket format: each blob is preceded by its length as a
// fixed 8-byte big-endian integer (not the variable-width size_t of
// internal/ddml.AbsorbBytes).
func encodeBlobList(blobs [][]byte) []byte {
	out := make([]byte, 0)
	for _, b := range blobs {
		var lenBytes [8]byte
		n := len(b)
		for i := 0; i < 8; i++ {
			lenBytes[7-i] = byte(n >> (8 * i))
		}
		out = append(out, lenBytes[:]...)
		out = append(out, b...)
	}
	return out
}

func decodeBlobList(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		if len(data) < 8 {
			return nil, streamerrs.NewEncoding("bolt blob list", "bolt", errShortBlobList)
		}
		n := 0
		for i := 0; i < 8; i++ {
			n = n<<8 | int(data[i])
		}
		data = data[8:]
		if len(data) < n {
			return nil, streamerrs.NewEncoding("bolt blob list", "bolt", errShortBlobList)
		}
		out = append(out, append([]byte{}, data[:n]...))
		data = data[n:]
	}
	return out, nil
}
