// Package transport defines the Transport and MessageIndex ports (§6): the
// narrow interfaces the message pipeline needs from whatever untrusted,
// unordered, content-addressed medium actually carries blobs. Concrete
// transport drivers are out of scope (§1); this package only supplies the
// ports plus an in-memory double used by tests and single-process demos.
package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/drand/streams/address"
	"github.com/drand/streams/streamerrs"
)

// Transport is the send/receive port a user drives all wire traffic
// through.
type Transport interface {
	// Send publishes blob at address. Sends are idempotent: addressing is
	// by deterministic MsgId, so re-sending the same address with the same
	// blob is safe.
	Send(ctx context.Context, addr address.Address, blob []byte) error
	// RecvMessages returns every blob published at addr, in arrival order.
	// An empty, non-error result means "not found".
	RecvMessages(ctx context.Context, addr address.Address) ([][]byte, error)
}

// RecvMessage is the single-blob convenience layered over RecvMessages
// (grounded on lets/src/transport/mod.rs's recv_message): it is an error to
// find zero or more than one blob at addr.
func RecvMessage(ctx context.Context, t Transport, addr address.Address) ([]byte, error) {
	blobs, err := t.RecvMessages(ctx, addr)
	if err != nil {
		return nil, err
	}
	switch len(blobs) {
	case 0:
		return nil, streamerrs.NewTransport("not found", addr, nil)
	case 1:
		return blobs[0], nil
	default:
		return nil, streamerrs.NewTransport("more than one found", addr, nil)
	}
}

// MessageIndex is the port transports map their medium-specific tag through
// (e.g. a bucket-store object key, a ledger milestone index): it resolves
// an opaque 32-byte msg_index to the blobs stored under it.
type MessageIndex interface {
	GetMessagesByMsgIndex(ctx context.Context, tag [32]byte) ([][]byte, error)
	GetTagValue(ctx context.Context, msgIndex [32]byte) ([]byte, error)
}

// InMemory is a Transport and MessageIndex double backed by a plain map,
// the Streams analogue of drand's in-memory test stores: no persistence,
// no concurrency control, intended for tests and single-process demos.
type InMemory struct {
	// id is a per-instance debug identity, so a multi-instance test or demo
	// that juggles several unrelated InMemory transports can tell them apart
	// in logs without assuming anything about instance pointers or map
	// contents.
	id      uuid.UUID
	byIndex map[[32]byte][][]byte
}

// NewInMemory returns an empty in-memory transport.
func NewInMemory() *InMemory {
	return &InMemory{id: uuid.New(), byIndex: make(map[[32]byte][][]byte)}
}

// ID returns this transport instance's debug identity.
func (m *InMemory) ID() uuid.UUID { return m.id }

func (m *InMemory) Send(_ context.Context, addr address.Address, blob []byte) error {
	tag := addr.ToMsgIndex()
	m.byIndex[tag] = append(m.byIndex[tag], blob)
	return nil
}

func (m *InMemory) RecvMessages(_ context.Context, addr address.Address) ([][]byte, error) {
	return m.byIndex[addr.ToMsgIndex()], nil
}

func (m *InMemory) GetMessagesByMsgIndex(_ context.Context, tag [32]byte) ([][]byte, error) {
	return m.byIndex[tag], nil
}

func (m *InMemory) GetTagValue(_ context.Context, msgIndex [32]byte) ([]byte, error) {
	return msgIndex[:], nil
}

// TamperOneByte flips the low bit of the first byte of the sole blob stored
// at addr, for tamper-rejection tests (§8's property 10): it is an error to
// call this for an address with zero or more than one stored blob.
func (m *InMemory) TamperOneByte(addr address.Address) error {
	tag := addr.ToMsgIndex()
	blobs, ok := m.byIndex[tag]
	if !ok || len(blobs) != 1 || len(blobs[0]) == 0 {
		return streamerrs.NewTransport("cannot tamper: not exactly one non-empty blob", addr, nil)
	}
	blobs[0][0] ^= 0x01
	return nil
}
