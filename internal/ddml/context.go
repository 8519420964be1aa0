// Package ddml implements the typed, schema-driven wrap/unwrap codec that
// every wire message is built from. A single Context type runs in one of
// three modes (sizeof, wrap, unwrap); message schemas are written once,
// against the Context verbs (Absorb*, Mask*, MaskWithSecret, Squeeze, Commit,
// Skip, Guard, Fork, Join), and re-executed under each mode. Because the
// exact same verb
// implementation backs all three modes, emitted and consumed byte layouts
// agree by construction — there is no separate encoder/decoder to drift
// apart.
package ddml

import (
	"bytes"
	"encoding/binary"

	"github.com/drand/streams/internal/sponge"
	"github.com/drand/streams/streamerrs"
)

// Mode selects which of the three DDML contexts a Context realises.
type Mode uint8

const (
	// ModeSizeof computes the wire length of a message without producing
	// or consuming any bytes.
	ModeSizeof Mode = iota
	// ModeWrap emits bytes for a message into an output buffer.
	ModeWrap
	// ModeUnwrap consumes bytes for a message from an input buffer.
	ModeUnwrap
)

// Context is the single DDML codec primitive; a message schema is a plain
// Go function taking a *Context and calling its verbs in a fixed order.
type Context struct {
	mode    Mode
	spongos *sponge.Spongos

	buf *bytes.Buffer // ModeWrap output

	in  []byte // ModeUnwrap input
	pos *int   // ModeUnwrap read cursor, shared across forks

	size *int // ModeSizeof accumulator, shared across forks
}

// NewSizeof starts a sizeof pass.
func NewSizeof() *Context {
	size := 0
	return &Context{mode: ModeSizeof, spongos: sponge.New(nil), size: &size}
}

// NewWrap starts a wrap pass against the given initial Spongos state
// (typically a fresh state for an Announce, or a parent snapshot restored
// by the caller with sponge.FromState for a linked message).
func NewWrap(s *sponge.Spongos) *Context {
	return &Context{mode: ModeWrap, spongos: s, buf: new(bytes.Buffer)}
}

// NewUnwrap starts an unwrap pass over data, against the given initial
// Spongos state.
func NewUnwrap(s *sponge.Spongos, data []byte) *Context {
	pos := 0
	return &Context{mode: ModeUnwrap, spongos: s, in: data, pos: &pos}
}

// Mode reports which pass this Context is running.
func (c *Context) Mode() Mode { return c.mode }

// Bytes returns the bytes emitted so far; only valid in ModeWrap.
func (c *Context) Bytes() []byte { return c.buf.Bytes() }

// Size returns the accumulated length; only valid in ModeSizeof.
func (c *Context) Size() int { return *c.size }

// Remaining returns the number of unconsumed input bytes; only valid in
// ModeUnwrap.
func (c *Context) Remaining() int { return len(c.in) - *c.pos }

// Spongos exposes the underlying duplex state, e.g. so a message schema can
// restore/compare a snapshot once the body has been committed.
func (c *Context) Spongos() *sponge.Spongos { return c.spongos }

func (c *Context) takeInput(n int, what string) ([]byte, error) {
	if c.Remaining() < n {
		return nil, streamerrs.NewEncoding(what, "ddml", errShortRead)
	}
	b := c.in[*c.pos : *c.pos+n]
	*c.pos += n
	return b, nil
}

func (c *Context) emit(b []byte) {
	c.buf.Write(b)
}

// absorbRaw is the shared absorb verb: the bytes are mixed into the rate
// and, depending on mode, either measured, emitted, or consumed.
func (c *Context) absorbRaw(n int, v *[]byte, what string) error {
	switch c.mode {
	case ModeSizeof:
		*c.size += n
		return nil
	case ModeWrap:
		if len(*v) != n {
			return streamerrs.NewInvalidSize(what, n, uint64(len(*v)))
		}
		c.spongos.Absorb(*v)
		c.emit(*v)
		return nil
	default: // ModeUnwrap
		b, err := c.takeInput(n, what)
		if err != nil {
			return err
		}
		got := make([]byte, n)
		copy(got, b)
		c.spongos.Absorb(got)
		*v = got
		return nil
	}
}

func (c *Context) maskRaw(n int, v *[]byte, what string) error {
	switch c.mode {
	case ModeSizeof:
		*c.size += n
		return nil
	case ModeWrap:
		if len(*v) != n {
			return streamerrs.NewInvalidSize(what, n, uint64(len(*v)))
		}
		ct := c.spongos.Mask(*v)
		c.emit(ct)
		return nil
	default: // ModeUnwrap
		ct, err := c.takeInput(n, what)
		if err != nil {
			return err
		}
		*v = c.spongos.Unmask(ct)
		return nil
	}
}

// AbsorbNBytes implements NBytes<N> absorbed in the clear.
func (c *Context) AbsorbNBytes(n int, v *[]byte) error {
	return c.absorbRaw(n, v, "NBytes")
}

// MaskNBytes implements NBytes<N> masked under the sponge.
func (c *Context) MaskNBytes(n int, v *[]byte) error {
	return c.maskRaw(n, v, "NBytes")
}

// SkipBytes passes n bytes through unauthenticated: not mixed into the
// sponge at all. Used for fields whose integrity is established elsewhere
// (e.g. a signature, whose integrity rests on the hash it was computed
// over, already absorbed).
func (c *Context) SkipBytes(n int, v *[]byte) error {
	switch c.mode {
	case ModeSizeof:
		*c.size += n
		return nil
	case ModeWrap:
		if len(*v) != n {
			return streamerrs.NewInvalidSize("skip", n, uint64(len(*v)))
		}
		c.emit(*v)
		return nil
	default:
		b, err := c.takeInput(n, "skip")
		if err != nil {
			return err
		}
		got := make([]byte, n)
		copy(got, b)
		*v = got
		return nil
	}
}

// AbsorbUint8 implements the u8 wire primitive.
func (c *Context) AbsorbUint8(v *uint8) error {
	b := []byte{*v}
	err := c.absorbRaw(1, &b, "u8")
	if err != nil {
		return err
	}
	*v = b[0]
	return nil
}

// AbsorbUint16 implements the u16 (big-endian) wire primitive.
func (c *Context) AbsorbUint16(v *uint16) error {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, *v)
	if err := c.absorbRaw(2, &b, "u16"); err != nil {
		return err
	}
	*v = binary.BigEndian.Uint16(b)
	return nil
}

// AbsorbUint32 implements the u32 (big-endian) wire primitive.
func (c *Context) AbsorbUint32(v *uint32) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, *v)
	if err := c.absorbRaw(4, &b, "u32"); err != nil {
		return err
	}
	*v = binary.BigEndian.Uint32(b)
	return nil
}

// AbsorbUint64 implements the u64 (big-endian) wire primitive.
func (c *Context) AbsorbUint64(v *uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, *v)
	if err := c.absorbRaw(8, &b, "u64"); err != nil {
		return err
	}
	*v = binary.BigEndian.Uint64(b)
	return nil
}

// sizeTLen returns how many value bytes size_t needs to represent v (0 for
// v == 0).
func sizeTLen(v uint64) int {
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	return n
}

func encodeSizeT(v uint64) []byte {
	n := sizeTLen(v)
	out := make([]byte, 1+n)
	out[0] = byte(n)
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, v)
	copy(out[1:], val[8-n:])
	return out
}

// AbsorbSize implements the size_t wire primitive: a 1-byte length-of-length
// (0..=8) followed by that many big-endian value bytes, absorbed in the
// clear.
func (c *Context) AbsorbSize(v *uint64) error {
	switch c.mode {
	case ModeSizeof:
		*c.size += 1 + sizeTLen(*v)
		return nil
	case ModeWrap:
		enc := encodeSizeT(*v)
		c.spongos.Absorb(enc)
		c.emit(enc)
		return nil
	default:
		lb, err := c.takeInput(1, "size_t")
		if err != nil {
			return err
		}
		n := int(lb[0])
		if n > 8 {
			return streamerrs.NewEncoding("size_t", "ddml", errBadSizeT)
		}
		val, err := c.takeInput(n, "size_t")
		if err != nil {
			return err
		}
		full := append(append([]byte{}, lb...), val...)
		c.spongos.Absorb(full)
		buf := make([]byte, 8)
		copy(buf[8-n:], val)
		*v = binary.BigEndian.Uint64(buf)
		return nil
	}
}

// AbsorbBytes implements Bytes absorbed in the clear: a size_t length
// prefix followed by that many bytes.
func (c *Context) AbsorbBytes(v *[]byte) error {
	n := uint64(len(*v))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.mode == ModeUnwrap {
		*v = make([]byte, n)
	}
	return c.AbsorbNBytes(int(n), v)
}

// MaskBytes implements Bytes masked under the sponge: the size_t length
// prefix travels in the clear (as with AbsorbBytes) but the payload itself
// is masked.
func (c *Context) MaskBytes(v *[]byte) error {
	n := uint64(len(*v))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.mode == ModeUnwrap {
		*v = make([]byte, n)
	}
	return c.MaskNBytes(int(n), v)
}

// MaskNBytesWithSecret is the fixed-size counterpart of
// MaskBytesWithSecret: it masks exactly n bytes with no size_t length
// prefix, deriving its keystream from a fork of the sponge seeded
// additionally with secret. Used for Keyload's per-recipient session-key
// slots, where each slot is encrypted under a different recipient secret
// but all slots still land in the one shared chain: the ciphertext is
// absorbed into this Context's own state regardless of secret, so the
// chain's continuation and the Keyload's signature do not depend on which
// (if any) recipient slots the caller could actually decrypt.
func (c *Context) MaskNBytesWithSecret(secret []byte, n int, v *[]byte) error {
	switch c.mode {
	case ModeSizeof:
		*c.size += n
		return nil
	case ModeWrap:
		if len(*v) != n {
			return streamerrs.NewInvalidSize("NBytes", n, uint64(len(*v)))
		}
		ct := c.spongos.MaskWithSecret(secret, *v)
		c.emit(ct)
		return nil
	default: // ModeUnwrap
		ct, err := c.takeInput(n, "NBytes")
		if err != nil {
			return err
		}
		*v = c.spongos.UnmaskWithSecret(secret, ct)
		return nil
	}
}

// MaskBytesWithSecret masks v exactly like MaskBytes — same size_t-prefixed
// wire layout, same effect on the I/O cursor — but derives its keystream
// from a fork of the sponge seeded additionally with secret rather than
// from the sponge directly. The ciphertext is still absorbed into this
// Context's own state, so the resulting snapshot (and any signature
// squeezed afterwards) does not depend on secret: a reader without the
// right secret gets back garbage plaintext but an identical continuation
// state to one who has it. A nil secret still produces a (not usefully
// confidential) masking, matching the zero-knowledge case.
func (c *Context) MaskBytesWithSecret(secret []byte, v *[]byte) error {
	n := uint64(len(*v))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.mode == ModeUnwrap {
		*v = make([]byte, n)
	}
	switch c.mode {
	case ModeSizeof:
		*c.size += int(n)
		return nil
	case ModeWrap:
		if uint64(len(*v)) != n {
			return streamerrs.NewInvalidSize("NBytes", int(n), uint64(len(*v)))
		}
		ct := c.spongos.MaskWithSecret(secret, *v)
		c.emit(ct)
		return nil
	default: // ModeUnwrap
		ct, err := c.takeInput(int(n), "NBytes")
		if err != nil {
			return err
		}
		*v = c.spongos.UnmaskWithSecret(secret, ct)
		return nil
	}
}

// Squeeze extracts n bytes derived from the current state. It has no wire
// effect in any mode: it is used to derive the hash that signatures are
// computed over, or a MAC to compare against.
func (c *Context) Squeeze(n int) []byte {
	return c.spongos.Squeeze(n)
}

// SqueezeVerify is the unwrap-side dual of Squeeze: it fails unwrap if the
// current state does not squeeze to the expected value.
func (c *Context) SqueezeVerify(expected []byte) error {
	if !c.spongos.SqueezeVerify(expected) {
		return streamerrs.NewCrypto("verify squeeze guard", errGuardFailed)
	}
	return nil
}

// Commit applies the permutation and clears the rate, returning the
// resulting snapshot.
func (c *Context) Commit() sponge.State {
	return c.spongos.Commit()
}

// Fork returns a child Context that shares this Context's I/O cursor (wrap
// buffer, unwrap position, or sizeof accumulator) but has an independently
// forked Spongos, so per-recipient keyload encryption cannot affect
// siblings or the parent.
func (c *Context) Fork() *Context {
	return &Context{
		mode:    c.mode,
		spongos: c.spongos.Fork(),
		buf:     c.buf,
		in:      c.in,
		pos:     c.pos,
		size:    c.size,
	}
}

// Join absorbs other's committed Spongos state into this Context's state,
// chaining a parent message's snapshot into a child message.
func (c *Context) Join(other *Context) {
	c.spongos.Join(other.spongos)
}

// Guard aborts the current pass if cond is false.
func Guard(cond bool, err error) error {
	if !cond {
		return err
	}
	return nil
}

// GuardOneof checks that tag is one of the schema's declared discriminator
// values; an unknown tag is a hard unwrap error.
func GuardOneof(tag uint8, allowed ...uint8) error {
	for _, a := range allowed {
		if a == tag {
			return nil
		}
	}
	return streamerrs.NewEncoding("oneof tag", "ddml", errBadOneof)
}
