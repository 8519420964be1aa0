package message

import (
	"crypto/rand"

	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
	"github.com/drand/streams/streamerrs"
)

const nonceSize = 16
const sessionKeySize = 32

// RecipientSecretFunc resolves the shared secret between the local identity
// and a Keyload recipient slot: key exchange for an Ed25519 recipient, or
// the pre-shared key itself for a PskId recipient. When wrapping, the
// caller is always the stream's author and every listed recipient must
// resolve (ok == true, err == nil). When unwrapping, ok reports whether the
// local identity recognises recipient as itself or a held PSK; recipients
// that don't resolve still have their slot processed (to keep the chain's
// continuation and signature identical for every reader) but with a nil
// secret, so the caller never learns a usable plaintext for it.
type RecipientSecretFunc func(recipient id.Identifier) (secret []byte, ok bool, err error)

// KeyloadBody distributes a fresh session key to a listed set of
// recipients, each under its own per-recipient encryption. Every slot's
// ciphertext is absorbed into the one shared chain regardless of secret,
// so the message's signature and continuation snapshot never depend on
// which recipient (if any) a given reader is.
type KeyloadBody struct {
	Nonce      [16]byte
	Recipients []id.Identifier
}

func keyloadBodySizeof(body *KeyloadBody) int {
	c := ddml.NewSizeof()
	nonce := append([]byte{}, body.Nonce[:]...)
	_ = c.AbsorbNBytes(nonceSize, &nonce)

	count := uint64(len(body.Recipients))
	_ = c.AbsorbSize(&count)

	for _, r := range body.Recipients {
		_ = id.Codec(c, &r)
		key := make([]byte, sessionKeySize)
		_ = c.MaskNBytesWithSecret(nil, sessionKeySize, &key)
	}
	return c.Size()
}

// WrapKeyload wraps a Keyload message, generating a fresh nonce and session
// key. secretFunc must resolve every recipient in body.Recipients. The
// caller receives the session key back so it can store it for its own
// future sends under this Keyload.
func WrapKeyload(hdr *HDF, body *KeyloadBody, identity *id.Identity, secretFunc RecipientSecretFunc, spongosAfterParent sponge.State) ([]byte, []byte, sponge.State, error) {
	if body.Nonce == ([16]byte{}) {
		if _, err := rand.Read(body.Nonce[:]); err != nil {
			return nil, nil, sponge.State{}, err
		}
	}
	sessionKey := make([]byte, sessionKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, nil, sponge.State{}, err
	}

	hdr.FrameType = FrameKeyload
	hdr.PayloadLength = uint64(keyloadBodySizeof(body)) + uint64(sizeofSignature(identity.Identifier()))

	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewWrap(s)

	if err := hdr.Codec(c); err != nil {
		return nil, nil, sponge.State{}, err
	}
	c.Commit()

	nonce := append([]byte{}, body.Nonce[:]...)
	if err := c.AbsorbNBytes(nonceSize, &nonce); err != nil {
		return nil, nil, sponge.State{}, err
	}

	count := uint64(len(body.Recipients))
	if err := c.AbsorbSize(&count); err != nil {
		return nil, nil, sponge.State{}, err
	}

	for i := range body.Recipients {
		recipient := body.Recipients[i]
		if err := id.Codec(c, &recipient); err != nil {
			return nil, nil, sponge.State{}, err
		}

		secret, ok, err := secretFunc(recipient)
		if err != nil {
			return nil, nil, sponge.State{}, err
		}
		if !ok {
			return nil, nil, sponge.State{}, streamerrs.NewState("wrap keyload", "no secret resolved for listed recipient "+recipient.String())
		}

		keyCopy := append([]byte{}, sessionKey...)
		if err := c.MaskNBytesWithSecret(secret, sessionKeySize, &keyCopy); err != nil {
			return nil, nil, sponge.State{}, err
		}
	}

	if err := signWrap(c, identity); err != nil {
		return nil, nil, sponge.State{}, err
	}

	return c.Bytes(), sessionKey, c.Commit(), nil
}

// UnwrapKeyload is the dual of WrapKeyload. secretFunc is asked about every
// listed recipient; every slot is unmasked through the shared chain so the
// chain's state and the Keyload's signature never depend on which slots
// the caller could actually resolve, but the returned sessionKey is only
// set from a slot secretFunc resolved — a reader who isn't a recipient
// gets back a signature-verified Keyload and nil sessionKey, not an error.
func UnwrapKeyload(data []byte, secretFunc RecipientSecretFunc, spongosAfterParent sponge.State) (*HDF, *KeyloadBody, []byte, sponge.State, error) {
	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewUnwrap(s, data)

	var hdr HDF
	if err := hdr.Codec(c); err != nil {
		return nil, nil, nil, sponge.State{}, err
	}
	c.Commit()

	var body KeyloadBody
	nonce := make([]byte, nonceSize)
	if err := c.AbsorbNBytes(nonceSize, &nonce); err != nil {
		return nil, nil, nil, sponge.State{}, err
	}
	copy(body.Nonce[:], nonce)

	var count uint64
	if err := c.AbsorbSize(&count); err != nil {
		return nil, nil, nil, sponge.State{}, err
	}

	var sessionKey []byte
	body.Recipients = make([]id.Identifier, 0, count)
	for i := uint64(0); i < count; i++ {
		var recipient id.Identifier
		if err := id.Codec(c, &recipient); err != nil {
			return nil, nil, nil, sponge.State{}, err
		}
		body.Recipients = append(body.Recipients, recipient)

		secret, ok, err := secretFunc(recipient)
		if err != nil {
			return nil, nil, nil, sponge.State{}, err
		}

		var key []byte
		if err := c.MaskNBytesWithSecret(secret, sessionKeySize, &key); err != nil {
			return nil, nil, nil, sponge.State{}, err
		}
		if ok {
			sessionKey = key
		}
	}

	if err := signUnwrap(c, hdr.Publisher); err != nil {
		return nil, nil, nil, sponge.State{}, err
	}

	return &hdr, &body, sessionKey, c.Commit(), nil
}
