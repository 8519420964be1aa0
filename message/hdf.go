// Package message implements the five wire messages of the Streams
// protocol (§4.E): Announce, Subscribe, Unsubscribe, Keyload and
// Signed/TaggedPacket, each as a DDML schema run over a shared HDF header.
package message

import (
	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/streamerrs"
)

// FrameType is the closed set of message kinds. The set is closed by
// design (messages form a DAG rooted at the Announce); unknown frame types
// are a hard unwrap error, never an extension point.
type FrameType uint8

const (
	FrameAnnounce     FrameType = 1
	FrameSubscribe    FrameType = 2
	FrameUnsubscribe  FrameType = 3
	FrameKeyload      FrameType = 4
	FrameSignedPacket FrameType = 5
	FrameTaggedPacket FrameType = 6
)

const protocolVersion uint8 = 1

// HDF is the header every message carries.
type HDF struct {
	Encoding          uint8
	PayloadFrameType  uint8
	PayloadFrameCount uint32
	PayloadLength     uint64
	FrameType         FrameType
	SeqNum            uint64
	TopicHash         [16]byte
	Publisher         id.Identifier
	// LinkedMsgAddress is absent iff FrameType == FrameAnnounce.
	LinkedMsgAddress *address.MsgID
}

// Codec runs the HDF schema. payloadLength must already be known by the
// caller (computed via a preceding sizeof pass of the body) when wrapping.
func (h *HDF) Codec(c *ddml.Context) error {
	enc := h.Encoding
	if err := c.AbsorbUint8(&enc); err != nil {
		return err
	}
	h.Encoding = enc

	pft := h.PayloadFrameType
	if err := c.AbsorbUint8(&pft); err != nil {
		return err
	}
	h.PayloadFrameType = pft

	pfc := h.PayloadFrameCount
	if err := c.AbsorbUint32(&pfc); err != nil {
		return err
	}
	h.PayloadFrameCount = pfc

	if err := c.AbsorbSize(&h.PayloadLength); err != nil {
		return err
	}

	ft := uint8(h.FrameType)
	if err := c.AbsorbUint8(&ft); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		if err := ddml.GuardOneof(ft,
			uint8(FrameAnnounce), uint8(FrameSubscribe), uint8(FrameUnsubscribe),
			uint8(FrameKeyload), uint8(FrameSignedPacket), uint8(FrameTaggedPacket),
		); err != nil {
			return err
		}
		h.FrameType = FrameType(ft)
	}

	if err := c.AbsorbSize(&h.SeqNum); err != nil {
		return err
	}

	topicHash := append([]byte{}, h.TopicHash[:]...)
	if err := c.AbsorbNBytes(16, &topicHash); err != nil {
		return err
	}
	copy(h.TopicHash[:], topicHash)

	if err := id.Codec(c, &h.Publisher); err != nil {
		return err
	}

	if h.FrameType != FrameAnnounce {
		var linked [address.MsgIDSize]byte
		if h.LinkedMsgAddress != nil {
			linked = *h.LinkedMsgAddress
		}
		buf := append([]byte{}, linked[:]...)
		if err := c.AbsorbNBytes(address.MsgIDSize, &buf); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			var m address.MsgID
			copy(m[:], buf)
			h.LinkedMsgAddress = &m
		}
	} else if c.Mode() == ddml.ModeUnwrap {
		h.LinkedMsgAddress = nil
	}

	return nil
}

// CheckTopic verifies that TopicHash matches the given topic, returning a
// Malformed error on mismatch (§7: "HDF declares ... a topic hash that does
// not match").
func (h *HDF) CheckTopic(expected [16]byte) error {
	if h.TopicHash != expected {
		return streamerrs.NewMalformed("HDF", "topic_hash", "does not match the address's topic")
	}
	return nil
}
