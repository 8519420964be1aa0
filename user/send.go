package user

import (
	"context"

	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/sponge"
	"github.com/drand/streams/message"
	"github.com/drand/streams/streamerrs"
)

func (u *User) base() (address.AppAddr, error) {
	if u.streamAddress == nil {
		return address.AppAddr{}, streamerrs.NewState("send", "stream address not known: create_stream or receive the announce first")
	}
	return *u.streamAddress, nil
}

// send is the shared tail of every SendX operation: it stores the new
// snapshot, transports the wire bytes and advances this user's own cursor.
func (u *User) send(ctx context.Context, addr address.Address, wire []byte, snapshot sponge.State, cursor uint64) (*SendResult, error) {
	if err := u.cfg.Transport.Send(ctx, addr, wire); err != nil {
		return nil, err
	}
	u.spongosStore[addr.Relative] = snapshot
	u.advanceCursor(u.Identifier(), u.topic(), cursor+1)
	return &SendResult{Address: addr}, nil
}

// Subscribe sends a Subscribe message linked to the stream's Announce,
// generating a fresh one-time exchange ephemeral for this user.
func (u *User) Subscribe(ctx context.Context, announceRelative address.MsgID) (*SendResult, error) {
	if u.identity == nil {
		return nil, streamerrs.NewState("subscribe", "no identity to subscribe with")
	}
	base, err := u.base()
	if err != nil {
		return nil, err
	}
	parent, ok := u.spongosStore[announceRelative]
	if !ok {
		return nil, streamerrs.NewState("subscribe", "announce snapshot not known locally")
	}

	eph, err := u.identity.GenerateExchangeEphemeral()
	if err != nil {
		return nil, err
	}

	selfID := u.identity.Identifier()
	topic := u.topic()
	cursor := u.cursor(selfID, topic)
	addr := address.Gen(base, selfID, topic, cursor)

	hdr := &message.HDF{TopicHash: message.TopicHash(topic), Publisher: selfID, SeqNum: cursor, LinkedMsgAddress: &announceRelative}
	body := &message.SubscribeBody{SubscriberID: selfID, ExchangeEphemeral: eph}
	wire, snapshot, err := message.WrapSubscribe(hdr, body, u.identity, parent)
	if err != nil {
		return nil, err
	}
	return u.send(ctx, addr, wire, snapshot, cursor)
}

// Unsubscribe sends an Unsubscribe linked to this user's last known branch
// head (parentRelative).
func (u *User) Unsubscribe(ctx context.Context, parentRelative address.MsgID) (*SendResult, error) {
	if u.identity == nil {
		return nil, streamerrs.NewState("unsubscribe", "no identity to unsubscribe with")
	}
	base, err := u.base()
	if err != nil {
		return nil, err
	}
	parent, ok := u.spongosStore[parentRelative]
	if !ok {
		return nil, streamerrs.NewState("unsubscribe", "parent snapshot not known locally")
	}

	selfID := u.identity.Identifier()
	topic := u.topic()
	cursor := u.cursor(selfID, topic)
	addr := address.Gen(base, selfID, topic, cursor)

	hdr := &message.HDF{TopicHash: message.TopicHash(topic), Publisher: selfID, SeqNum: cursor, LinkedMsgAddress: &parentRelative}
	wire, snapshot, err := message.WrapUnsubscribe(hdr, u.identity, parent)
	if err != nil {
		return nil, err
	}
	return u.send(ctx, addr, wire, snapshot, cursor)
}

// SendKeyload distributes a fresh session key to recipients (Ed25519
// identifiers or PskId identifiers), linked off parentRelative. Author
// only.
func (u *User) SendKeyload(ctx context.Context, parentRelative address.MsgID, recipients []id.Identifier) (*SendResult, error) {
	if u.identity == nil {
		return nil, streamerrs.NewState("send keyload", "author identity required")
	}
	base, err := u.base()
	if err != nil {
		return nil, err
	}
	parent, ok := u.spongosStore[parentRelative]
	if !ok {
		return nil, streamerrs.NewState("send keyload", "parent snapshot not known locally")
	}

	selfID := u.identity.Identifier()
	topic := u.topic()
	cursor := u.cursor(selfID, topic)
	addr := address.Gen(base, selfID, topic, cursor)

	hdr := &message.HDF{TopicHash: message.TopicHash(topic), Publisher: selfID, SeqNum: cursor, LinkedMsgAddress: &parentRelative}
	body := &message.KeyloadBody{Recipients: recipients}
	wire, sessionKey, snapshot, err := message.WrapKeyload(hdr, body, u.identity, u.authorRecipientSecretFunc(), parent)
	if err != nil {
		return nil, err
	}

	u.sessionKeys[addr.Relative] = sessionKey
	u.branchSessionKey[addr.Relative] = sessionKey
	return u.send(ctx, addr, wire, snapshot, cursor)
}

// SendKeyloadForEveryone is SendKeyload with recipients set to every known
// subscriber plus every known PSK.
func (u *User) SendKeyloadForEveryone(ctx context.Context, parentRelative address.MsgID) (*SendResult, error) {
	recipients := make([]id.Identifier, 0, len(u.subscribers)+len(u.pskStore))
	for sub := range u.subscribers {
		recipients = append(recipients, sub)
	}
	for pskID := range u.pskStore {
		recipients = append(recipients, id.FromPskID(pskID))
	}
	return u.SendKeyload(ctx, parentRelative, recipients)
}

// SendSignedPacket sends a signed content message linked off parentRelative.
// The Keyload session key in effect on that branch (if any) is looked up
// automatically; an unprotected branch sends with no confidentiality.
func (u *User) SendSignedPacket(ctx context.Context, parentRelative address.MsgID, public, masked []byte) (*SendResult, error) {
	if u.identity == nil {
		return nil, streamerrs.NewState("send signed packet", "no identity to sign with")
	}
	base, err := u.base()
	if err != nil {
		return nil, err
	}
	parent, ok := u.spongosStore[parentRelative]
	if !ok {
		return nil, streamerrs.NewState("send signed packet", "parent snapshot not known locally")
	}
	sessionKey := u.branchSessionKey[parentRelative]

	selfID := u.identity.Identifier()
	topic := u.topic()
	cursor := u.cursor(selfID, topic)
	addr := address.Gen(base, selfID, topic, cursor)

	hdr := &message.HDF{TopicHash: message.TopicHash(topic), Publisher: selfID, SeqNum: cursor, LinkedMsgAddress: &parentRelative}
	body := &message.SignedPacketBody{PublicPayload: public, MaskedPayload: masked}
	wire, snapshot, err := message.WrapSignedPacket(hdr, body, u.identity, sessionKey, parent)
	if err != nil {
		return nil, err
	}
	u.branchSessionKey[addr.Relative] = sessionKey
	return u.send(ctx, addr, wire, snapshot, cursor)
}

// SendTaggedPacket sends an unsigned, MAC-only content message linked off
// parentRelative.
func (u *User) SendTaggedPacket(ctx context.Context, parentRelative address.MsgID, public, masked []byte) (*SendResult, error) {
	base, err := u.base()
	if err != nil {
		return nil, err
	}
	parent, ok := u.spongosStore[parentRelative]
	if !ok {
		return nil, streamerrs.NewState("send tagged packet", "parent snapshot not known locally")
	}
	sessionKey := u.branchSessionKey[parentRelative]

	selfID := u.Identifier()
	topic := u.topic()
	cursor := u.cursor(selfID, topic)
	addr := address.Gen(base, selfID, topic, cursor)

	hdr := &message.HDF{TopicHash: message.TopicHash(topic), SeqNum: cursor, LinkedMsgAddress: &parentRelative}
	body := &message.TaggedPacketBody{PublicPayload: public, MaskedPayload: masked}
	wire, snapshot, err := message.WrapTaggedPacket(hdr, body, selfID, sessionKey, parent)
	if err != nil {
		return nil, err
	}
	u.branchSessionKey[addr.Relative] = sessionKey
	return u.send(ctx, addr, wire, snapshot, cursor)
}
