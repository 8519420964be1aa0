package message

import (
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
)

// AnnounceBody is the genesis message of a stream, self-signed by the
// author identifier: "mask author_id; sign; commit".
type AnnounceBody struct {
	AuthorID id.Identifier
}

func announceBodySizeof(body *AnnounceBody) int {
	c := ddml.NewSizeof()
	maskedID := body.AuthorID.Encode()
	_ = c.MaskBytes(&maskedID)
	return c.Size() + sizeofSignature(body.AuthorID)
}

func announceBodyCodec(c *ddml.Context, body *AnnounceBody) error {
	enc := body.AuthorID.Encode()
	if err := c.MaskBytes(&enc); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		decoded, _, err := id.Decode(enc)
		if err != nil {
			return err
		}
		body.AuthorID = decoded
	}
	return nil
}

// WrapAnnounce wraps the HDF and AnnounceBody into a wire blob. The initial
// Spongos state is the fresh permutation seeded by the author identifier.
func WrapAnnounce(hdr *HDF, body *AnnounceBody, identity *id.Identity) ([]byte, sponge.State, error) {
	hdr.FrameType = FrameAnnounce
	hdr.PayloadLength = uint64(announceBodySizeof(body))

	s := sponge.New(body.AuthorID.Encode())
	c := ddml.NewWrap(s)

	if err := hdr.Codec(c); err != nil {
		return nil, sponge.State{}, err
	}
	c.Commit()

	if err := announceBodyCodec(c, body); err != nil {
		return nil, sponge.State{}, err
	}
	if err := signWrap(c, identity); err != nil {
		return nil, sponge.State{}, err
	}

	return c.Bytes(), c.Commit(), nil
}

// UnwrapAnnounce is the dual of WrapAnnounce.
func UnwrapAnnounce(data []byte) (*HDF, *AnnounceBody, sponge.State, error) {
	// The initial Spongos seed depends on the author identifier, which is
	// itself part of the header. A throwaway pass with a zero seed decodes
	// the (plain-byte, seed-independent) header fields far enough to learn
	// the publisher, then the real pass re-runs seeded correctly.
	peeked, err := PeekHDF(data)
	if err != nil {
		return nil, nil, sponge.State{}, err
	}
	s := sponge.New(peeked.Publisher.Encode())
	c := ddml.NewUnwrap(s, data)

	var hdr2 HDF
	if err := hdr2.Codec(c); err != nil {
		return nil, nil, sponge.State{}, err
	}
	c.Commit()

	var body AnnounceBody
	if err := announceBodyCodec(c, &body); err != nil {
		return nil, nil, sponge.State{}, err
	}
	if err := signUnwrap(c, body.AuthorID); err != nil {
		return nil, nil, sponge.State{}, err
	}

	return &hdr2, &body, c.Commit(), nil
}
