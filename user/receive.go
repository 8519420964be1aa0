package user

import (
	"context"

	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/sponge"
	"github.com/drand/streams/message"
	"github.com/drand/streams/streamerrs"
	"github.com/drand/streams/transport"
)

// Message is a yielded application-visible payload: either a Keyload's
// recipient list or a SignedPacket/TaggedPacket's public/masked payloads
// once this user was able to recover the session key governing its branch.
type Message struct {
	Address       address.Address
	Linked        address.MsgID
	Publisher     id.Identifier
	Topic         string
	SeqNum        uint64
	Kind          message.FrameType
	PublicPayload []byte
	MaskedPayload []byte
	Recipients    []id.Identifier
}

// HandleResult reports the outcome of processing a single blob: FrameType
// is always set; Message is nil for frame types the protocol never yields
// (Announce/Subscribe/Unsubscribe) and for content messages this user could
// not decrypt (Undecryptable == true).
type HandleResult struct {
	Address       address.Address
	FrameType     message.FrameType
	Message       *Message
	Undecryptable bool
}

// Receive fetches and processes exactly one blob at addr, dispatching on its
// frame type (§4.F's handle_message). A *streamerrs.MissingError return
// means the blob is an orphan: its declared parent snapshot is not yet known
// locally, and the caller (normally the Messages iterator) should retry once
// that parent has been processed.
func (u *User) Receive(ctx context.Context, addr address.Address) (*HandleResult, error) {
	blob, err := transport.RecvMessage(ctx, u.cfg.Transport, addr)
	if err != nil {
		return nil, err
	}
	return u.handleMessage(addr, blob)
}

// handleMessage is handle_message proper: it dispatches on an already
// fetched blob, so the Messages iterator (which fetches blobs itself while
// probing cursors) never fetches the same address twice.
func (u *User) handleMessage(addr address.Address, blob []byte) (*HandleResult, error) {
	hdr, err := message.PeekHDF(blob)
	if err != nil {
		return nil, err
	}
	if err := hdr.CheckTopic(message.TopicHash(u.topic())); err != nil {
		return nil, err
	}

	if hdr.FrameType == message.FrameAnnounce {
		return u.handleAnnounce(addr, blob)
	}

	if hdr.LinkedMsgAddress == nil {
		return nil, streamerrs.NewMalformed("message", "linked_msg_address", "non-announce frame must link a parent")
	}
	parent, ok := u.spongosStore[*hdr.LinkedMsgAddress]
	if !ok {
		return nil, streamerrs.NewMissing(addr.Relative[:], blob, hdr.LinkedMsgAddress[:])
	}

	switch hdr.FrameType {
	case message.FrameSubscribe:
		return u.handleSubscribe(addr, blob, parent)
	case message.FrameUnsubscribe:
		return u.handleUnsubscribe(addr, blob, parent)
	case message.FrameKeyload:
		return u.handleKeyload(addr, blob, hdr.Publisher, parent)
	case message.FrameSignedPacket:
		return u.handleSignedPacket(addr, blob, *hdr.LinkedMsgAddress, parent)
	case message.FrameTaggedPacket:
		return u.handleTaggedPacket(addr, blob, *hdr.LinkedMsgAddress, parent)
	default:
		return nil, streamerrs.NewMalformed("message", "frame_type", "unknown frame type")
	}
}

// checkOrReplay detects a duplicate receive at an address already bound to
// a snapshot: a matching snapshot is an idempotent no-op, a mismatching one
// is a tamper/equivocation signal.
func (u *User) checkOrReplay(addr address.Address, snapshot sponge.State) (replay bool, err error) {
	existing, ok := u.spongosStore[addr.Relative]
	if !ok {
		return false, nil
	}
	if existing != snapshot {
		return false, streamerrs.NewMalformed("message", "address", "duplicate address bound to a different snapshot than previously recorded")
	}
	return true, nil
}

func (u *User) handleAnnounce(addr address.Address, blob []byte) (*HandleResult, error) {
	hdr, body, snapshot, err := message.UnwrapAnnounce(blob)
	if err != nil {
		return nil, err
	}
	if replay, err := u.checkOrReplay(addr, snapshot); err != nil {
		return nil, err
	} else if replay {
		return &HandleResult{Address: addr, FrameType: message.FrameAnnounce}, nil
	}

	base := addr.Base
	u.streamAddress = &base
	author := body.AuthorID
	u.authorIdentifier = &author
	u.spongosStore[addr.Relative] = snapshot
	u.advanceCursor(hdr.Publisher, u.topic(), hdr.SeqNum+1)
	return &HandleResult{Address: addr, FrameType: message.FrameAnnounce}, nil
}

func (u *User) handleSubscribe(addr address.Address, blob []byte, parent sponge.State) (*HandleResult, error) {
	hdr, body, snapshot, err := message.UnwrapSubscribe(blob, parent)
	if err != nil {
		return nil, err
	}
	if replay, err := u.checkOrReplay(addr, snapshot); err != nil {
		return nil, err
	} else if replay {
		return &HandleResult{Address: addr, FrameType: message.FrameSubscribe}, nil
	}

	u.subscribers[body.SubscriberID] = struct{}{}
	u.keyStore[body.SubscriberID] = body.ExchangeEphemeral
	u.spongosStore[addr.Relative] = snapshot
	if prev, ok := u.branchSessionKey[*hdr.LinkedMsgAddress]; ok {
		u.branchSessionKey[addr.Relative] = prev
	}
	u.advanceCursor(hdr.Publisher, u.topic(), hdr.SeqNum+1)
	return &HandleResult{Address: addr, FrameType: message.FrameSubscribe}, nil
}

func (u *User) handleUnsubscribe(addr address.Address, blob []byte, parent sponge.State) (*HandleResult, error) {
	hdr, _, snapshot, err := message.UnwrapUnsubscribe(blob, parent)
	if err != nil {
		return nil, err
	}
	if replay, err := u.checkOrReplay(addr, snapshot); err != nil {
		return nil, err
	} else if replay {
		return &HandleResult{Address: addr, FrameType: message.FrameUnsubscribe}, nil
	}

	delete(u.subscribers, hdr.Publisher)
	u.spongosStore[addr.Relative] = snapshot
	u.advanceCursor(hdr.Publisher, u.topic(), hdr.SeqNum+1)
	return &HandleResult{Address: addr, FrameType: message.FrameUnsubscribe}, nil
}

func (u *User) handleKeyload(addr address.Address, blob []byte, publisher id.Identifier, parent sponge.State) (*HandleResult, error) {
	secretFunc := u.readerRecipientSecretFunc(publisher)
	hdr, body, sessionKey, snapshot, err := message.UnwrapKeyload(blob, secretFunc, parent)
	if err != nil {
		return nil, err
	}
	if replay, err := u.checkOrReplay(addr, snapshot); err != nil {
		return nil, err
	} else if replay {
		return &HandleResult{Address: addr, FrameType: message.FrameKeyload}, nil
	}

	u.spongosStore[addr.Relative] = snapshot
	if sessionKey != nil {
		u.sessionKeys[addr.Relative] = sessionKey
	}
	u.branchSessionKey[addr.Relative] = sessionKey
	u.advanceCursor(hdr.Publisher, u.topic(), hdr.SeqNum+1)

	// A Keyload is always yielded, whether or not the local user is one of
	// its recipients: S3 requires a non-recipient to still see the Keyload
	// itself, just not the content it protects.
	msg := &Message{
		Address:    addr,
		Linked:     *hdr.LinkedMsgAddress,
		Publisher:  hdr.Publisher,
		Topic:      u.topic(),
		SeqNum:     hdr.SeqNum,
		Kind:       message.FrameKeyload,
		Recipients: body.Recipients,
	}
	return &HandleResult{Address: addr, FrameType: message.FrameKeyload, Message: msg}, nil
}

func (u *User) handleSignedPacket(addr address.Address, blob []byte, linked address.MsgID, parent sponge.State) (*HandleResult, error) {
	sessionKey := u.branchSessionKey[linked]
	hdr, body, snapshot, err := message.UnwrapSignedPacket(blob, sessionKey, parent)
	if err != nil {
		return nil, err
	}
	if replay, err := u.checkOrReplay(addr, snapshot); err != nil {
		return nil, err
	} else if replay {
		return &HandleResult{Address: addr, FrameType: message.FrameSignedPacket, Undecryptable: sessionKey == nil}, nil
	}

	u.spongosStore[addr.Relative] = snapshot
	u.branchSessionKey[addr.Relative] = sessionKey
	u.advanceCursor(hdr.Publisher, u.topic(), hdr.SeqNum+1)

	if sessionKey == nil {
		return &HandleResult{Address: addr, FrameType: message.FrameSignedPacket, Undecryptable: true}, nil
	}
	msg := &Message{
		Address:       addr,
		Linked:        linked,
		Publisher:     hdr.Publisher,
		Topic:         u.topic(),
		SeqNum:        hdr.SeqNum,
		Kind:          message.FrameSignedPacket,
		PublicPayload: body.PublicPayload,
		MaskedPayload: body.MaskedPayload,
	}
	return &HandleResult{Address: addr, FrameType: message.FrameSignedPacket, Message: msg}, nil
}

func (u *User) handleTaggedPacket(addr address.Address, blob []byte, linked address.MsgID, parent sponge.State) (*HandleResult, error) {
	sessionKey := u.branchSessionKey[linked]
	hdr, body, snapshot, err := message.UnwrapTaggedPacket(blob, sessionKey, parent)
	if err != nil {
		return nil, err
	}
	if replay, err := u.checkOrReplay(addr, snapshot); err != nil {
		return nil, err
	} else if replay {
		return &HandleResult{Address: addr, FrameType: message.FrameTaggedPacket, Undecryptable: sessionKey == nil}, nil
	}

	u.spongosStore[addr.Relative] = snapshot
	u.branchSessionKey[addr.Relative] = sessionKey
	u.advanceCursor(hdr.Publisher, u.topic(), hdr.SeqNum+1)

	if sessionKey == nil {
		return &HandleResult{Address: addr, FrameType: message.FrameTaggedPacket, Undecryptable: true}, nil
	}
	msg := &Message{
		Address:       addr,
		Linked:        linked,
		Publisher:     hdr.Publisher,
		Topic:         u.topic(),
		SeqNum:        hdr.SeqNum,
		Kind:          message.FrameTaggedPacket,
		PublicPayload: body.PublicPayload,
		MaskedPayload: body.MaskedPayload,
	}
	return &HandleResult{Address: addr, FrameType: message.FrameTaggedPacket, Message: msg}, nil
}
