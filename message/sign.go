package message

import (
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
)

const hashSize = 64
const tagSize = 32

// TopicHash derives the 16-byte value an HDF's topic_hash field carries,
// partitioning the channel by topic.
func TopicHash(topic string) [16]byte {
	var out [16]byte
	copy(out[:], sponge.New([]byte(topic)).Squeeze(16))
	return out
}

// signWrap closes out a signed body: commit, squeeze the hash, sign it,
// then skip the signature bytes onto the wire unauthenticated (their
// integrity rests on the hash already committed into the sponge, not on a
// second round of absorption).
func signWrap(c *ddml.Context, identity *id.Identity) error {
	c.Commit()
	hash := c.Squeeze(hashSize)
	sig, err := identity.Sign(hash)
	if err != nil {
		return err
	}
	return c.SkipBytes(len(sig), &sig)
}

// signUnwrap is the dual of signWrap: it reads a signature of the length
// implied by publisher's kind and verifies it against the freshly squeezed
// hash.
func signUnwrap(c *ddml.Context, publisher id.Identifier) error {
	c.Commit()
	hash := c.Squeeze(hashSize)

	sigLen := 0
	if _, ok := publisher.Ed25519PublicKey(); ok {
		sigLen = 64
	}
	var sig []byte
	if err := c.SkipBytes(sigLen, &sig); err != nil {
		return err
	}
	return id.Verify(publisher, hash, sig)
}

// sizeofSignature reports how many signature bytes a publisher's kind
// contributes to the wire length, used by the two-pass sizeof/wrap flow.
func sizeofSignature(publisher id.Identifier) int {
	if _, ok := publisher.Ed25519PublicKey(); ok {
		return 64
	}
	return 0
}

// tagWrap closes out a TaggedPacket body: commit, then emit a 32-byte tag
// squeezed from the committed state. There is no asymmetric signature;
// authentication rests entirely on having derived the right sponge state,
// which in turn rests on Keyload membership.
func tagWrap(c *ddml.Context) error {
	c.Commit()
	tag := c.Squeeze(tagSize)
	return c.SkipBytes(tagSize, &tag)
}

// tagUnwrap is the dual of tagWrap.
func tagUnwrap(c *ddml.Context) error {
	c.Commit()
	var tag []byte
	if err := c.SkipBytes(tagSize, &tag); err != nil {
		return err
	}
	return c.SqueezeVerify(tag)
}
