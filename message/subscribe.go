package message

import (
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
)

const exchangeKeySize = 32

// SubscribeBody masks the subscriber's Identifier and a one-time exchange
// ephemeral public key, then signs. The header links to the stream's
// Announce.
type SubscribeBody struct {
	SubscriberID      id.Identifier
	ExchangeEphemeral []byte
}

func subscribeBodySizeof(body *SubscribeBody) int {
	c := ddml.NewSizeof()
	enc := body.SubscriberID.Encode()
	_ = c.MaskBytes(&enc)
	eph := append([]byte{}, body.ExchangeEphemeral...)
	_ = c.MaskNBytes(exchangeKeySize, &eph)
	return c.Size() + sizeofSignature(body.SubscriberID)
}

func subscribeBodyCodec(c *ddml.Context, body *SubscribeBody) error {
	enc := body.SubscriberID.Encode()
	if err := c.MaskBytes(&enc); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		decoded, _, err := id.Decode(enc)
		if err != nil {
			return err
		}
		body.SubscriberID = decoded
	}

	eph := append([]byte{}, body.ExchangeEphemeral...)
	if err := c.MaskNBytes(exchangeKeySize, &eph); err != nil {
		return err
	}
	body.ExchangeEphemeral = eph
	return nil
}

// WrapSubscribe wraps a Subscribe message. spongosAfterAnnounce is the
// committed Spongos snapshot restored from the linked Announce.
func WrapSubscribe(hdr *HDF, body *SubscribeBody, identity *id.Identity, spongosAfterAnnounce sponge.State) ([]byte, sponge.State, error) {
	hdr.FrameType = FrameSubscribe
	hdr.PayloadLength = uint64(subscribeBodySizeof(body))

	s := sponge.FromState(spongosAfterAnnounce)
	c := ddml.NewWrap(s)

	if err := hdr.Codec(c); err != nil {
		return nil, sponge.State{}, err
	}
	c.Commit()

	if err := subscribeBodyCodec(c, body); err != nil {
		return nil, sponge.State{}, err
	}
	if err := signWrap(c, identity); err != nil {
		return nil, sponge.State{}, err
	}

	return c.Bytes(), c.Commit(), nil
}

// UnwrapSubscribe is the dual of WrapSubscribe.
func UnwrapSubscribe(data []byte, spongosAfterAnnounce sponge.State) (*HDF, *SubscribeBody, sponge.State, error) {
	s := sponge.FromState(spongosAfterAnnounce)
	c := ddml.NewUnwrap(s, data)

	var hdr HDF
	if err := hdr.Codec(c); err != nil {
		return nil, nil, sponge.State{}, err
	}
	c.Commit()

	var body SubscribeBody
	if err := subscribeBodyCodec(c, &body); err != nil {
		return nil, nil, sponge.State{}, err
	}
	if err := signUnwrap(c, body.SubscriberID); err != nil {
		return nil, nil, sponge.State{}, err
	}

	return &hdr, &body, c.Commit(), nil
}
