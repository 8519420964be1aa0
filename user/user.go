// Package user implements the per-user Streams state machine (§4.F): the
// mutable cursors, key stores and Spongos snapshots one participant
// (author or subscriber) keeps for a single stream, plus the send/receive
// operations that drive the message pipeline in internal/ddml and
// internal/sponge through the typed schemas in message.
package user

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/sponge"
	"github.com/drand/streams/message"
	"github.com/drand/streams/psk"
	"github.com/drand/streams/streamconfig"
	"github.com/drand/streams/streamerrs"
)

// InitialCursor is the first sequence number a publisher emits in a topic.
const InitialCursor uint64 = 1

type cursorKey struct {
	publisher id.Identifier
	topic     string
}

// User holds everything one participant in a single stream owns: its
// signing/exchange Identity, the deterministic addressing state, and every
// map the message pipeline consults or updates on send/receive. A User is
// not safe for concurrent use and must never be copied: cloning would fork
// cursors and snapshots without any way to reconverge them (§5).
type User struct {
	cfg      *streamconfig.Config
	identity *id.Identity

	streamAddress    *address.AppAddr
	authorIdentifier *id.Identifier

	cursors map[cursorKey]uint64

	pskStore     psk.Store
	keyStore     map[id.Identifier][]byte
	spongosStore map[address.MsgID]sponge.State
	subscribers  map[id.Identifier]struct{}

	// sessionKeys holds, for every Keyload this user has sent or been able
	// to decrypt, the session key itself, keyed by the Keyload's own
	// address.
	sessionKeys map[address.MsgID][]byte
	// branchSessionKey holds, for every message address this user has
	// processed, the session key governing that point in the DAG: a
	// Keyload's own entry is its freshly (re)derived key; every other
	// message's entry is copied from its parent. A SignedPacket/
	// TaggedPacket whose entry is nil sits on an unprotected branch or one
	// this user cannot decrypt (see receive.go); either way the chain
	// still advances so descendants remain reachable.
	branchSessionKey map[address.MsgID][]byte

	// pendingAnnounce caches the wire bytes CreateStream produced until
	// Announce actually sends them, so the two can be called separately:
	// create_stream is a pure local computation (it's how an author learns
	// its own stream address before publishing), announce is the network
	// operation.
	pendingAnnounceWire   []byte
	pendingAnnounceAddr   address.Address
	pendingAnnounceCursor uint64
}

// New builds a User around identity (nil for a pure reader that will never
// sign, e.g. one driven entirely by PSKs) and cfg (a nil cfg is replaced by
// streamconfig.New()'s defaults; nil fields inside a non-nil cfg are used
// as given).
func New(identity *id.Identity, cfg *streamconfig.Config) *User {
	if cfg == nil {
		cfg = streamconfig.New()
	}
	return &User{
		cfg:              cfg,
		identity:         identity,
		cursors:          make(map[cursorKey]uint64),
		pskStore:         psk.NewStore(),
		keyStore:         make(map[id.Identifier][]byte),
		spongosStore:     make(map[address.MsgID]sponge.State),
		subscribers:      make(map[id.Identifier]struct{}),
		sessionKeys:      make(map[address.MsgID][]byte),
		branchSessionKey: make(map[address.MsgID][]byte),
	}
}

// AddPSK registers a pre-shared key this user may use either to resolve its
// own Keyload recipient slot (as a subscriber) or to address a recipient by
// PskId (as an author).
func (u *User) AddPSK(pskID psk.ID, key psk.Key) {
	u.pskStore.Add(pskID, key)
}

// Identifier returns this user's public Identifier, the zero value if this
// user has no Identity.
func (u *User) Identifier() id.Identifier {
	if u.identity == nil {
		return id.Identifier{}
	}
	return u.identity.Identifier()
}

// StreamAddress reports the stream's base address once known (after
// CreateStream or after receiving the Announce), and whether it is set.
func (u *User) StreamAddress() (address.AppAddr, bool) {
	if u.streamAddress == nil {
		return address.AppAddr{}, false
	}
	return *u.streamAddress, true
}

func (u *User) topic() string {
	return u.cfg.BaseTopic
}

func (u *User) cursor(publisher id.Identifier, topic string) uint64 {
	if v, ok := u.cursors[cursorKey{publisher, topic}]; ok {
		return v
	}
	return InitialCursor
}

// advanceCursor applies the monotonic cursor policy (§4.F): cursors never
// move backward, so a stale re-receive can never regress bookkeeping.
func (u *User) advanceCursor(publisher id.Identifier, topic string, next uint64) {
	key := cursorKey{publisher, topic}
	if cur, ok := u.cursors[key]; !ok || next > cur {
		u.cursors[key] = next
	}
}

// Cursors returns a snapshot of every (Identifier, Topic, cursor) this user
// currently tracks, for persistence or for seeding a Messages round.
func (u *User) Cursors() []CursorEntry {
	out := make([]CursorEntry, 0, len(u.cursors))
	for k, v := range u.cursors {
		out = append(out, CursorEntry{Publisher: k.publisher, Topic: k.topic, Cursor: v})
	}
	return out
}

// CursorEntry is one row of the cursor table.
type CursorEntry struct {
	Publisher id.Identifier
	Topic     string
	Cursor    uint64
}

// SendResult reports the address a send operation published to.
type SendResult struct {
	Address address.Address
}

// CreateStream derives this user's (author's) stream address and prepares
// the genesis Announce, without publishing it: an author needs to know its
// own stream address (e.g. to hand out via streaminfo) before it commits
// to sending anything. Announce actually transports the cached wire bytes.
func (u *User) CreateStream(nonce []byte) (address.Address, error) {
	if u.identity == nil {
		return address.Address{}, streamerrs.NewState("create stream", "no identity to author a stream with")
	}

	authorID := u.identity.Identifier()
	base := address.NewAppAddr(authorID, nonce)
	topic := u.topic()
	cursor := u.cursor(authorID, topic)
	addr := address.Gen(base, authorID, topic, cursor)

	hdr := &message.HDF{TopicHash: message.TopicHash(topic), Publisher: authorID, SeqNum: cursor}
	body := &message.AnnounceBody{AuthorID: authorID}
	wire, snapshot, err := message.WrapAnnounce(hdr, body, u.identity)
	if err != nil {
		return address.Address{}, err
	}

	u.streamAddress = &base
	u.authorIdentifier = &authorID
	u.spongosStore[addr.Relative] = snapshot
	u.pendingAnnounceWire = wire
	u.pendingAnnounceAddr = addr
	u.pendingAnnounceCursor = cursor
	return addr, nil
}

// Announce publishes the Announce CreateStream prepared and advances this
// user's own cursor. It is a State error to call before CreateStream.
func (u *User) Announce(ctx context.Context) (*SendResult, error) {
	if u.pendingAnnounceWire == nil {
		return nil, streamerrs.NewState("announce", "create_stream must be called first")
	}
	if err := u.cfg.Transport.Send(ctx, u.pendingAnnounceAddr, u.pendingAnnounceWire); err != nil {
		return nil, err
	}
	u.advanceCursor(u.identity.Identifier(), u.topic(), u.pendingAnnounceCursor+1)
	u.pendingAnnounceWire = nil
	return &SendResult{Address: u.pendingAnnounceAddr}, nil
}

// Sync drains every message currently available from the transport into
// this user's local state, collecting every yielded Message plus every
// error the Messages iterator returned along the way (transport failures
// other than "not found"). A blob that fails to handle (malformed, crypto,
// encoding) is skipped by the iterator and does not appear in the returned
// error; it does not stop sync from picking up everything else.
func (u *User) Sync(ctx context.Context) ([]*Message, error) {
	var out []*Message
	var errs *multierror.Error

	it := u.Messages()
	for {
		msg, err := it.Next(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if msg == nil {
			break
		}
		out = append(out, msg)
	}
	return out, errs.ErrorOrNil()
}
