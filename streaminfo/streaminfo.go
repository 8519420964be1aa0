// Package streaminfo describes a stream for out-of-band distribution: the
// Streams analogue of drand's group.toml (key/group.go), marshaled with
// github.com/BurntSushi/toml rather than a bespoke format.
package streaminfo

import (
	"bytes"
	"encoding/hex"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
	"github.com/drand/streams/streamerrs"
)

// StreamInfo is everything a prospective subscriber needs to locate and
// validate a stream before fetching its Announce: the stream's address,
// the author's public identifier, the nonce the author picked at creation,
// and the default topic new branches are opened under.
type StreamInfo struct {
	Address   address.AppAddr
	AuthorID  id.Identifier
	Nonce     []byte
	BaseTopic string
}

// tomlInfo is the TOML-encodable projection of StreamInfo: byte arrays
// become hex strings, matching how the teacher's PublicTOML/GroupTOML
// render keys.
type tomlInfo struct {
	Address   string
	AuthorID  string
	Nonce     string
	BaseTopic string
}

func (s *StreamInfo) toTOML() *tomlInfo {
	return &tomlInfo{
		Address:   hex.EncodeToString(s.Address[:]),
		AuthorID:  hex.EncodeToString(s.AuthorID.Encode()),
		Nonce:     hex.EncodeToString(s.Nonce),
		BaseTopic: s.BaseTopic,
	}
}

func (s *StreamInfo) fromTOML(t *tomlInfo) error {
	addr, err := hex.DecodeString(t.Address)
	if err != nil || len(addr) != address.AppAddrSize {
		return streamerrs.NewEncoding("streaminfo.Address", "toml/hex", errBadStreamInfo)
	}
	copy(s.Address[:], addr)

	authorBytes, err := hex.DecodeString(t.AuthorID)
	if err != nil {
		return streamerrs.NewEncoding("streaminfo.AuthorID", "toml/hex", errBadStreamInfo)
	}
	author, _, err := id.Decode(authorBytes)
	if err != nil {
		return err
	}
	s.AuthorID = author

	nonce, err := hex.DecodeString(t.Nonce)
	if err != nil {
		return streamerrs.NewEncoding("streaminfo.Nonce", "toml/hex", errBadStreamInfo)
	}
	s.Nonce = nonce
	s.BaseTopic = t.BaseTopic
	return nil
}

// String renders the TOML encoding, mirroring Group.String in the teacher.
func (s *StreamInfo) String() string {
	var b bytes.Buffer
	_ = toml.NewEncoder(&b).Encode(s.toTOML())
	return b.String()
}

// WriteFile writes the TOML-encoded StreamInfo to path.
func (s *StreamInfo) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(s.toTOML())
}

// LoadFile reads and decodes a StreamInfo previously written by WriteFile.
func LoadFile(path string) (*StreamInfo, error) {
	var t tomlInfo
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, err
	}
	s := &StreamInfo{}
	if err := s.fromTOML(&t); err != nil {
		return nil, err
	}
	return s, nil
}
