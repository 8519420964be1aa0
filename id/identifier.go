// Package id implements the tagged-union Identifier/Identity pair (§4.C):
// an Identifier names a participant (an Ed25519 public key or a PskId), an
// Identity is the corresponding private counterpart able to sign and to
// perform key exchange.
package id

import (
	"crypto/ed25519"

	"github.com/drand/streams/psk"
	"github.com/drand/streams/streamerrs"
)

// Kind discriminates the two Identifier variants.
type Kind uint8

const (
	// KindEd25519 is tag 0: a 32-byte Ed25519 public key.
	KindEd25519 Kind = 0
	// KindPskID is tag 1: a 16-byte PreSharedKey id.
	KindPskID Kind = 1
)

// Identifier is the tagged union {Ed25519PubKey, PreSharedKeyId}. Two
// Identifiers are equal iff their tagged contents match exactly, which Go's
// struct equality gives for free since all fields are fixed-size arrays.
type Identifier struct {
	Kind   Kind
	PubKey [ed25519.PublicKeySize]byte
	PskID  psk.ID
}

// FromEd25519 builds an Identifier from an Ed25519 public key.
func FromEd25519(pub ed25519.PublicKey) Identifier {
	var id Identifier
	id.Kind = KindEd25519
	copy(id.PubKey[:], pub)
	return id
}

// FromPskID builds an Identifier from a PskId.
func FromPskID(pskID psk.ID) Identifier {
	return Identifier{Kind: KindPskID, PskID: pskID}
}

// Ed25519PublicKey returns the wrapped public key and whether this
// Identifier is of that kind.
func (id Identifier) Ed25519PublicKey() (ed25519.PublicKey, bool) {
	if id.Kind != KindEd25519 {
		return nil, false
	}
	pk := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pk, id.PubKey[:])
	return pk, true
}

// EncodedSize is the wire size of an encoded Identifier: 1 tag byte plus
// the variant's payload.
func (id Identifier) EncodedSize() int {
	switch id.Kind {
	case KindEd25519:
		return 1 + ed25519.PublicKeySize
	case KindPskID:
		return 1 + psk.IDSize
	default:
		return 1
	}
}

// Encode writes tag‖payload.
func (id Identifier) Encode() []byte {
	switch id.Kind {
	case KindEd25519:
		out := make([]byte, 1+ed25519.PublicKeySize)
		out[0] = byte(KindEd25519)
		copy(out[1:], id.PubKey[:])
		return out
	case KindPskID:
		out := make([]byte, 1+psk.IDSize)
		out[0] = byte(KindPskID)
		copy(out[1:], id.PskID[:])
		return out
	default:
		return []byte{255}
	}
}

// Decode reads tag‖payload, returning the Identifier and the number of
// bytes consumed.
func Decode(b []byte) (Identifier, int, error) {
	if len(b) < 1 {
		return Identifier{}, 0, streamerrs.NewEncoding("identifier", "ddml", errShortIdentifier)
	}
	switch Kind(b[0]) {
	case KindEd25519:
		if len(b) < 1+ed25519.PublicKeySize {
			return Identifier{}, 0, streamerrs.NewEncoding("identifier", "ddml", errShortIdentifier)
		}
		var id Identifier
		id.Kind = KindEd25519
		copy(id.PubKey[:], b[1:1+ed25519.PublicKeySize])
		return id, 1 + ed25519.PublicKeySize, nil
	case KindPskID:
		if len(b) < 1+psk.IDSize {
			return Identifier{}, 0, streamerrs.NewEncoding("identifier", "ddml", errShortIdentifier)
		}
		var id Identifier
		id.Kind = KindPskID
		copy(id.PskID[:], b[1:1+psk.IDSize])
		return id, 1 + psk.IDSize, nil
	default:
		return Identifier{}, 0, streamerrs.NewEncoding("identifier", "ddml", errBadIdentifierTag)
	}
}

// String renders a short, stable, debug-friendly form for logging.
func (id Identifier) String() string {
	switch id.Kind {
	case KindEd25519:
		return "ed25519:" + hexShort(id.PubKey[:])
	case KindPskID:
		return "psk:" + hexShort(id.PskID[:])
	default:
		return "unknown-identifier"
	}
}

func hexShort(b []byte) string {
	const hexdigits = "0123456789abcdef"
	n := len(b)
	if n > 8 {
		n = 8
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = hexdigits[b[i]>>4]
		out[i*2+1] = hexdigits[b[i]&0xf]
	}
	return string(out)
}
