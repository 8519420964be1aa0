package id

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"math/big"

	"golang.org/x/crypto/curve25519"

	"github.com/drand/streams/psk"
	"github.com/drand/streams/streamerrs"
)

// Identity is the private counterpart of an Identifier: whatever secret
// material is needed to sign and to perform key exchange. An Identity can
// always expose its Identifier.
type Identity struct {
	kind Kind

	ed25519Priv ed25519.PrivateKey
	exchgPriv   [32]byte // X25519 scalar; static (seed-derived) unless an ephemeral was generated

	pskID  psk.ID
	pskKey psk.Key
}

// NewEd25519 derives an Ed25519 signing keypair from seed (e.g. a
// cryptographically random byte string of at least ed25519.SeedSize), and
// an X25519 exchange scalar clamped from the same seed's SHA-512 hash — the
// same clamping Ed25519 itself performs internally, so the scalar is the
// birational-equivalent Montgomery private key for this identity.
func NewEd25519(seed []byte) *Identity {
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	id := &Identity{kind: KindEd25519, ed25519Priv: priv}
	id.exchgPriv = clampedScalarFromSeed(seed[:ed25519.SeedSize])
	return id
}

// NewPSK builds an Identity backed purely by a pre-shared key: it cannot
// sign (signing is a no-op) and its "key exchange" is simply returning the
// shared secret directly.
func NewPSK(pskID psk.ID, key psk.Key) *Identity {
	return &Identity{kind: KindPskID, pskID: pskID, pskKey: key}
}

// Identifier returns the public Identifier for this Identity.
func (i *Identity) Identifier() Identifier {
	switch i.kind {
	case KindEd25519:
		return FromEd25519(i.ed25519Priv.Public().(ed25519.PublicKey))
	default:
		return FromPskID(i.pskID)
	}
}

// Sign signs a hash already squeezed from the sponge. On PSK identities,
// signing is a no-op: authentication for those messages instead comes from
// the MAC implicit in the sponge's duplex state.
func (i *Identity) Sign(hash []byte) ([]byte, error) {
	if i.kind != KindEd25519 {
		return nil, nil
	}
	return ed25519.Sign(i.ed25519Priv, hash), nil
}

// Verify checks a signature over hash against identifier. For PSK
// identifiers verification is a no-op for the same reason signing is: the
// sponge duplex construction already authenticates the content.
func Verify(identifier Identifier, hash, sig []byte) error {
	if identifier.Kind != KindEd25519 {
		return nil
	}
	pub, _ := identifier.Ed25519PublicKey()
	if !ed25519.Verify(pub, hash, sig) {
		return streamerrs.NewCrypto("verify signature", errSignatureRequired)
	}
	return nil
}

// GenerateExchangeEphemeral replaces this identity's exchange scalar with a
// fresh, freely random one, as used for the one-time exchange ephemeral a
// Subscribe message sends. It returns the new public key.
func (i *Identity) GenerateExchangeEphemeral() ([]byte, error) {
	if i.kind != KindEd25519 {
		return nil, streamerrs.NewState("generate exchange ephemeral", "only ed25519 identities exchange keys")
	}
	var scalar [32]byte
	if _, err := rand.Read(scalar[:]); err != nil {
		return nil, err
	}
	clamp(&scalar)
	i.exchgPriv = scalar
	return i.ExchangePublicKey()
}

// ExchangePublicKey returns this identity's current X25519 public key.
func (i *Identity) ExchangePublicKey() ([]byte, error) {
	if i.kind != KindEd25519 {
		return nil, streamerrs.NewState("exchange public key", "psk identities have no exchange key")
	}
	pub, err := curve25519.X25519(i.exchgPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, streamerrs.NewCrypto("derive exchange public key", err)
	}
	return pub, nil
}

// Exchange derives a shared secret with peer. If knownExchangeKey is
// non-nil (e.g. a one-time ephemeral recorded in the key store from the
// peer's Subscribe message), it is used directly; otherwise, for an
// Ed25519 peer, the X25519 public key is derived from the peer's Ed25519
// public key via the standard Edwards-to-Montgomery birational map (the
// same derivation the author's own identity implicitly exposes, since
// Announce carries only the raw Ed25519 identifier).
func (i *Identity) Exchange(peer Identifier, knownExchangeKey []byte) ([]byte, error) {
	switch i.kind {
	case KindPskID:
		return append([]byte{}, i.pskKey[:]...), nil
	case KindEd25519:
		peerPub := knownExchangeKey
		if peerPub == nil {
			if peer.Kind != KindEd25519 {
				return nil, streamerrs.NewCrypto("exchange", errPskHasNoExchange)
			}
			peerPub = edwardsYToMontgomeryU(peer.PubKey)
		}
		secret, err := curve25519.X25519(i.exchgPriv[:], peerPub)
		if err != nil {
			return nil, streamerrs.NewCrypto("exchange", err)
		}
		return secret, nil
	default:
		return nil, streamerrs.NewCrypto("exchange", errUnknownExchange)
	}
}

// Export serialises the private material of an Identity for persistence:
// tag byte followed by the Ed25519 seed and current exchange scalar (32
// bytes each), or the PskId and PSK (16 and 32 bytes) for a PSK identity.
// The exchange scalar is exported explicitly (rather than re-derived from
// the seed) because GenerateExchangeEphemeral may have replaced it with a
// fresh random one since the Identity was created.
func (i *Identity) Export() []byte {
	switch i.kind {
	case KindEd25519:
		out := make([]byte, 0, 1+ed25519.SeedSize+32)
		out = append(out, byte(KindEd25519))
		out = append(out, i.ed25519Priv.Seed()...)
		out = append(out, i.exchgPriv[:]...)
		return out
	default:
		out := make([]byte, 0, 1+psk.IDSize+psk.KeySize)
		out = append(out, byte(KindPskID))
		out = append(out, i.pskID[:]...)
		out = append(out, i.pskKey[:]...)
		return out
	}
}

// DecodeIdentity is Export's inverse.
func DecodeIdentity(b []byte) (*Identity, error) {
	if len(b) < 1 {
		return nil, streamerrs.NewEncoding("identity", "ddml", errShortIdentifier)
	}
	switch Kind(b[0]) {
	case KindEd25519:
		if len(b) != 1+ed25519.SeedSize+32 {
			return nil, streamerrs.NewEncoding("identity", "ddml", errShortIdentifier)
		}
		seed := b[1 : 1+ed25519.SeedSize]
		identity := NewEd25519(seed)
		copy(identity.exchgPriv[:], b[1+ed25519.SeedSize:])
		return identity, nil
	case KindPskID:
		if len(b) != 1+psk.IDSize+psk.KeySize {
			return nil, streamerrs.NewEncoding("identity", "ddml", errShortIdentifier)
		}
		var pskID psk.ID
		copy(pskID[:], b[1:1+psk.IDSize])
		var key psk.Key
		copy(key[:], b[1+psk.IDSize:])
		return NewPSK(pskID, key), nil
	default:
		return nil, streamerrs.NewEncoding("identity", "ddml", errBadIdentifierTag)
	}
}

func clamp(scalar *[32]byte) {
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
}

func clampedScalarFromSeed(seed []byte) [32]byte {
	h := sha512.Sum512(seed)
	var scalar [32]byte
	copy(scalar[:], h[:32])
	clamp(&scalar)
	return scalar
}

// field prime p = 2^255 - 19, used to convert an Ed25519 (Edwards) public
// key into its birationally equivalent X25519 (Montgomery) public key.
var fieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// edwardsYToMontgomeryU converts a compressed Edwards25519 point (an
// Ed25519 public key) to the Montgomery u-coordinate (an X25519 public
// key), via u = (1+y) / (1-y) mod p. The sign bit in the top bit of the
// encoding is irrelevant to this conversion (both curve points share the
// same u-coordinate for either sign of the corresponding x-coordinate).
func edwardsYToMontgomeryU(pub [32]byte) []byte {
	yBytes := make([]byte, 32)
	copy(yBytes, pub[:])
	yBytes[31] &= 0x7f // clear sign bit

	// Decode little-endian.
	reversed := make([]byte, 32)
	for i := 0; i < 32; i++ {
		reversed[i] = yBytes[31-i]
	}
	y := new(big.Int).SetBytes(reversed)

	one := big.NewInt(1)
	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)
	denominator.ModInverse(denominator, fieldPrime)

	u := new(big.Int).Mul(numerator, denominator)
	u.Mod(u, fieldPrime)

	out := make([]byte, 32)
	uBytes := u.Bytes()
	for i := 0; i < len(uBytes); i++ {
		out[i] = uBytes[len(uBytes)-1-i]
	}
	return out
}
