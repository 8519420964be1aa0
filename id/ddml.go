package id

import (
	"crypto/ed25519"

	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/psk"
)

// Codec is the DDML schema for Identifier: a u8 Oneof discriminator
// followed by the variant payload. The Ed25519 variant is absorbed in the
// clear (identities are public); the PskId variant is masked, so a passive
// observer cannot tell which pre-shared key a Keyload recipient slot
// belongs to. The same function serves sizeof, wrap and unwrap: on wrap,
// ident's Kind selects the branch; on unwrap, the wire tag populates it.
func Codec(c *ddml.Context, ident *Identifier) error {
	tag := uint8(ident.Kind)
	if err := c.AbsorbUint8(&tag); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		if err := ddml.GuardOneof(tag, uint8(KindEd25519), uint8(KindPskID)); err != nil {
			return err
		}
		ident.Kind = Kind(tag)
	}

	switch ident.Kind {
	case KindEd25519:
		buf := append([]byte{}, ident.PubKey[:]...)
		if err := c.AbsorbNBytes(ed25519.PublicKeySize, &buf); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			copy(ident.PubKey[:], buf)
		}
	case KindPskID:
		buf := append([]byte{}, ident.PskID[:]...)
		if err := c.MaskNBytes(psk.IDSize, &buf); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			copy(ident.PskID[:], buf)
		}
	}
	return nil
}
