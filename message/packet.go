package message

import (
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
)

// SignedPacketBody carries a plaintext-absorbed public payload and a masked
// private payload, closed with a signature.
type SignedPacketBody struct {
	PublicPayload []byte
	MaskedPayload []byte
}

func packetBodySizeof(public, masked []byte) int {
	c := ddml.NewSizeof()
	pub := append([]byte{}, public...)
	_ = c.AbsorbBytes(&pub)
	msk := append([]byte{}, masked...)
	_ = c.MaskBytesWithSecret(nil, &msk)
	return c.Size()
}

// packetBodyCodec runs public_payload through the Context's own state (so
// every reader ends up with the same continuation regardless of Keyload
// membership) and masked_payload through MaskBytesWithSecret keyed by
// sessionKey. sessionKey is nil when the caller has none: the field still
// masks and unmasks, just without confidentiality on wrap or without
// correct plaintext on unwrap. Either way the Context's own spongos only
// ever absorbs the ciphertext bytes actually on the wire, so the signature
// or tag squeezed afterwards, and the snapshot this body commits to, come
// out identical for every reader regardless of whether they hold
// sessionKey. Gating on Keyload membership (a SignedPacket/TaggedPacket is
// only meant to be readable by a recipient of its governing Keyload) is
// therefore enforced by the caller, not by this codec.
func packetBodyCodec(c *ddml.Context, sessionKey []byte, public, masked *[]byte) error {
	pub := append([]byte{}, (*public)...)
	if err := c.AbsorbBytes(&pub); err != nil {
		return err
	}
	*public = pub

	msk := append([]byte{}, (*masked)...)
	if err := c.MaskBytesWithSecret(sessionKey, &msk); err != nil {
		return err
	}
	*masked = msk
	return nil
}

// WrapSignedPacket wraps a SignedPacket message linked to a parent whose
// committed snapshot is spongosAfterParent. sessionKey is the Keyload
// session key governing this branch, or nil if the branch carries no
// Keyload.
func WrapSignedPacket(hdr *HDF, body *SignedPacketBody, identity *id.Identity, sessionKey []byte, spongosAfterParent sponge.State) ([]byte, sponge.State, error) {
	hdr.FrameType = FrameSignedPacket
	hdr.PayloadLength = uint64(packetBodySizeof(body.PublicPayload, body.MaskedPayload)) + uint64(sizeofSignature(identity.Identifier()))

	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewWrap(s)

	if err := hdr.Codec(c); err != nil {
		return nil, sponge.State{}, err
	}
	c.Commit()

	if err := packetBodyCodec(c, sessionKey, &body.PublicPayload, &body.MaskedPayload); err != nil {
		return nil, sponge.State{}, err
	}
	if err := signWrap(c, identity); err != nil {
		return nil, sponge.State{}, err
	}

	return c.Bytes(), c.Commit(), nil
}

// UnwrapSignedPacket is the dual of WrapSignedPacket. sessionKey may be nil
// when the caller hasn't recovered the governing Keyload's session key: the
// signature still verifies and the returned snapshot is still usable to
// unwrap children linked off this message, but MaskedPayload will be
// garbage. Callers that enforce Keyload membership should treat a nil
// sessionKey as "don't trust MaskedPayload, don't surface this message to
// the application" while still recording the returned snapshot so later
// messages linked off it remain reachable.
func UnwrapSignedPacket(data []byte, sessionKey []byte, spongosAfterParent sponge.State) (*HDF, *SignedPacketBody, sponge.State, error) {
	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewUnwrap(s, data)

	var hdr HDF
	if err := hdr.Codec(c); err != nil {
		return nil, nil, sponge.State{}, err
	}
	c.Commit()

	var body SignedPacketBody
	if err := packetBodyCodec(c, sessionKey, &body.PublicPayload, &body.MaskedPayload); err != nil {
		return nil, nil, sponge.State{}, err
	}
	if err := signUnwrap(c, hdr.Publisher); err != nil {
		return nil, nil, sponge.State{}, err
	}

	return &hdr, &body, c.Commit(), nil
}

// TaggedPacketBody is a SignedPacketBody without the asymmetric signature:
// authentication rests entirely on sponge state and Keyload membership.
type TaggedPacketBody struct {
	PublicPayload []byte
	MaskedPayload []byte
}

// WrapTaggedPacket wraps a TaggedPacket message.
func WrapTaggedPacket(hdr *HDF, body *TaggedPacketBody, publisher id.Identifier, sessionKey []byte, spongosAfterParent sponge.State) ([]byte, sponge.State, error) {
	hdr.FrameType = FrameTaggedPacket
	hdr.Publisher = publisher
	hdr.PayloadLength = uint64(packetBodySizeof(body.PublicPayload, body.MaskedPayload)) + tagSize

	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewWrap(s)

	if err := hdr.Codec(c); err != nil {
		return nil, sponge.State{}, err
	}
	c.Commit()

	if err := packetBodyCodec(c, sessionKey, &body.PublicPayload, &body.MaskedPayload); err != nil {
		return nil, sponge.State{}, err
	}
	if err := tagWrap(c); err != nil {
		return nil, sponge.State{}, err
	}

	return c.Bytes(), c.Commit(), nil
}

// UnwrapTaggedPacket is the dual of WrapTaggedPacket.
func UnwrapTaggedPacket(data []byte, sessionKey []byte, spongosAfterParent sponge.State) (*HDF, *TaggedPacketBody, sponge.State, error) {
	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewUnwrap(s, data)

	var hdr HDF
	if err := hdr.Codec(c); err != nil {
		return nil, nil, sponge.State{}, err
	}
	c.Commit()

	var body TaggedPacketBody
	if err := packetBodyCodec(c, sessionKey, &body.PublicPayload, &body.MaskedPayload); err != nil {
		return nil, nil, sponge.State{}, err
	}
	if err := tagUnwrap(c); err != nil {
		return nil, nil, sponge.State{}, err
	}

	return &hdr, &body, c.Commit(), nil
}
