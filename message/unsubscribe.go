package message

import (
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
)

// UnsubscribeBody carries no content beyond the signature: the header's
// linked_msg_address (the subscriber's last known branch head) is all the
// semantic payload there is.
type UnsubscribeBody struct{}

func unsubscribeBodySizeof(publisher id.Identifier) int {
	return sizeofSignature(publisher)
}

// WrapUnsubscribe wraps an Unsubscribe message. spongosAfterParent is the
// committed snapshot restored from the linked message.
func WrapUnsubscribe(hdr *HDF, identity *id.Identity, spongosAfterParent sponge.State) ([]byte, sponge.State, error) {
	hdr.FrameType = FrameUnsubscribe
	hdr.PayloadLength = uint64(unsubscribeBodySizeof(identity.Identifier()))

	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewWrap(s)

	if err := hdr.Codec(c); err != nil {
		return nil, sponge.State{}, err
	}
	c.Commit()

	if err := signWrap(c, identity); err != nil {
		return nil, sponge.State{}, err
	}

	return c.Bytes(), c.Commit(), nil
}

// UnwrapUnsubscribe is the dual of WrapUnsubscribe.
func UnwrapUnsubscribe(data []byte, spongosAfterParent sponge.State) (*HDF, *UnsubscribeBody, sponge.State, error) {
	s := sponge.FromState(spongosAfterParent)
	c := ddml.NewUnwrap(s, data)

	var hdr HDF
	if err := hdr.Codec(c); err != nil {
		return nil, nil, sponge.State{}, err
	}
	c.Commit()

	if err := signUnwrap(c, hdr.Publisher); err != nil {
		return nil, nil, sponge.State{}, err
	}

	return &hdr, &UnsubscribeBody{}, c.Commit(), nil
}
