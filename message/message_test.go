package message

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/streams/id"
	"github.com/drand/streams/psk"
)

func seed(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

func TestAnnounceRoundTrip(t *testing.T) {
	author := id.NewEd25519(seed(1))
	topic := TopicHash("my-topic")

	hdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	body := &AnnounceBody{AuthorID: author.Identifier()}

	wire, afterWrap, err := WrapAnnounce(hdr, body, author)
	require.NoError(t, err)

	gotHdr, gotBody, afterUnwrap, err := UnwrapAnnounce(wire)
	require.NoError(t, err)
	require.Equal(t, FrameAnnounce, gotHdr.FrameType)
	require.Equal(t, author.Identifier(), gotBody.AuthorID)
	require.Equal(t, afterWrap, afterUnwrap)
}

func TestSubscribeRoundTrip(t *testing.T) {
	author := id.NewEd25519(seed(1))
	subscriber := id.NewEd25519(seed(2))
	topic := TopicHash("my-topic")

	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	abody := &AnnounceBody{AuthorID: author.Identifier()}
	_, afterAnnounce, err := WrapAnnounce(ahdr, abody, author)
	require.NoError(t, err)

	eph, err := subscriber.GenerateExchangeEphemeral()
	require.NoError(t, err)

	shdr := &HDF{TopicHash: topic, Publisher: subscriber.Identifier(), SeqNum: 1}
	sbody := &SubscribeBody{SubscriberID: subscriber.Identifier(), ExchangeEphemeral: eph}

	wire, afterSubscribe, err := WrapSubscribe(shdr, sbody, subscriber, afterAnnounce)
	require.NoError(t, err)

	gotHdr, gotBody, afterUnwrap, err := UnwrapSubscribe(wire, afterAnnounce)
	require.NoError(t, err)
	require.Equal(t, FrameSubscribe, gotHdr.FrameType)
	require.Equal(t, subscriber.Identifier(), gotBody.SubscriberID)
	require.Equal(t, eph, gotBody.ExchangeEphemeral)
	require.Equal(t, afterSubscribe, afterUnwrap)
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	author := id.NewEd25519(seed(1))
	topic := TopicHash("t")
	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	_, afterAnnounce, err := WrapAnnounce(ahdr, &AnnounceBody{AuthorID: author.Identifier()}, author)
	require.NoError(t, err)

	uhdr := &HDF{TopicHash: topic, Publisher: author.Identifier(), SeqNum: 1}
	wire, _, err := WrapUnsubscribe(uhdr, author, afterAnnounce)
	require.NoError(t, err)

	gotHdr, _, _, err := UnwrapUnsubscribe(wire, afterAnnounce)
	require.NoError(t, err)
	require.Equal(t, FrameUnsubscribe, gotHdr.FrameType)
}

func TestKeyloadRoundTripOnlyRecipientsRecoverKey(t *testing.T) {
	author := id.NewEd25519(seed(1))
	sub1 := id.NewEd25519(seed(2))
	sub2 := id.NewEd25519(seed(3)) // not a recipient
	topic := TopicHash("t")

	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	_, afterAnnounce, err := WrapAnnounce(ahdr, &AnnounceBody{AuthorID: author.Identifier()}, author)
	require.NoError(t, err)

	recipients := []id.Identifier{sub1.Identifier()}

	secretFuncForAuthor := func(recipient id.Identifier) ([]byte, bool, error) {
		secret, err := author.Exchange(recipient, nil)
		return secret, true, err
	}

	khdr := &HDF{TopicHash: topic, Publisher: author.Identifier(), SeqNum: 1}
	kbody := &KeyloadBody{Recipients: recipients}
	wire, sessionKey, afterKeyload, err := WrapKeyload(khdr, kbody, author, secretFuncForAuthor, afterAnnounce)
	require.NoError(t, err)
	require.Len(t, sessionKey, sessionKeySize)

	secretFuncForSub1 := func(recipient id.Identifier) ([]byte, bool, error) {
		if recipient != sub1.Identifier() {
			return nil, false, nil
		}
		secret, err := sub1.Exchange(author.Identifier(), nil)
		return secret, true, err
	}
	_, _, gotKey1, afterUnwrap1, err := UnwrapKeyload(wire, secretFuncForSub1, afterAnnounce)
	require.NoError(t, err)
	require.Equal(t, sessionKey, gotKey1)
	require.Equal(t, afterKeyload, afterUnwrap1)

	secretFuncForSub2 := func(recipient id.Identifier) ([]byte, bool, error) {
		if recipient != sub2.Identifier() {
			return nil, false, nil
		}
		secret, err := sub2.Exchange(author.Identifier(), nil)
		return secret, true, err
	}
	_, _, gotKey2, afterUnwrap2, err := UnwrapKeyload(wire, secretFuncForSub2, afterAnnounce)
	require.NoError(t, err)
	require.Nil(t, gotKey2)
	require.Equal(t, afterKeyload, afterUnwrap2)
}

func TestKeyloadWithPSKRecipient(t *testing.T) {
	author := id.NewEd25519(seed(1))
	topic := TopicHash("t")

	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	_, afterAnnounce, err := WrapAnnounce(ahdr, &AnnounceBody{AuthorID: author.Identifier()}, author)
	require.NoError(t, err)

	pskID, pskKey, err := psk.New(seed(5))
	require.NoError(t, err)
	pskIdentity := id.NewPSK(pskID, pskKey)

	secretFuncForAuthor := func(recipient id.Identifier) ([]byte, bool, error) {
		if recipient.Kind == id.KindPskID {
			return append([]byte{}, pskKey[:]...), true, nil
		}
		secret, err := author.Exchange(recipient, nil)
		return secret, true, err
	}

	khdr := &HDF{TopicHash: topic, Publisher: author.Identifier(), SeqNum: 1}
	kbody := &KeyloadBody{Recipients: []id.Identifier{pskIdentity.Identifier()}}
	wire, sessionKey, _, err := WrapKeyload(khdr, kbody, author, secretFuncForAuthor, afterAnnounce)
	require.NoError(t, err)

	secretFuncForPSK := func(recipient id.Identifier) ([]byte, bool, error) {
		secret, err := pskIdentity.Exchange(recipient, nil)
		return secret, true, err
	}
	_, _, gotKey, _, err := UnwrapKeyload(wire, secretFuncForPSK, afterAnnounce)
	require.NoError(t, err)
	require.Equal(t, sessionKey, gotKey)
}

func TestSignedPacketRoundTrip(t *testing.T) {
	author := id.NewEd25519(seed(1))
	topic := TopicHash("t")
	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	_, afterAnnounce, err := WrapAnnounce(ahdr, &AnnounceBody{AuthorID: author.Identifier()}, author)
	require.NoError(t, err)

	sessionKey := seed(9)

	phdr := &HDF{TopicHash: topic, Publisher: author.Identifier(), SeqNum: 1}
	pbody := &SignedPacketBody{PublicPayload: []byte("pub1"), MaskedPayload: []byte("msk1")}
	wire, afterWrap, err := WrapSignedPacket(phdr, pbody, author, sessionKey, afterAnnounce)
	require.NoError(t, err)

	gotHdr, gotBody, afterUnwrap, err := UnwrapSignedPacket(wire, sessionKey, afterAnnounce)
	require.NoError(t, err)
	require.Equal(t, FrameSignedPacket, gotHdr.FrameType)
	require.Equal(t, []byte("pub1"), gotBody.PublicPayload)
	require.Equal(t, []byte("msk1"), gotBody.MaskedPayload)
	require.Equal(t, afterWrap, afterUnwrap)
}

// TestSignedPacketWrongSessionKeyStillChains demonstrates the property the
// Keyload/SignedPacket split relies on: a reader without the right session
// key gets garbage MaskedPayload but the *same* snapshot and a verifying
// signature as a reader with it, so a message linked off this one remains
// reachable for every reader regardless of Keyload membership. Enforcing
// that a non-member must not see this message at all is the caller's job
// (see user.branchSessionKey), not this codec's.
func TestSignedPacketWrongSessionKeyStillChains(t *testing.T) {
	author := id.NewEd25519(seed(1))
	topic := TopicHash("t")
	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	_, afterAnnounce, err := WrapAnnounce(ahdr, &AnnounceBody{AuthorID: author.Identifier()}, author)
	require.NoError(t, err)

	phdr := &HDF{TopicHash: topic, Publisher: author.Identifier(), SeqNum: 1}
	pbody := &SignedPacketBody{PublicPayload: []byte("pub1"), MaskedPayload: []byte("msk1")}
	wire, afterWrap, err := WrapSignedPacket(phdr, pbody, author, seed(9), afterAnnounce)
	require.NoError(t, err)

	gotHdr, gotBody, afterUnwrap, err := UnwrapSignedPacket(wire, seed(42), afterAnnounce)
	require.NoError(t, err)
	require.Equal(t, FrameSignedPacket, gotHdr.FrameType)
	require.NotEqual(t, []byte("msk1"), gotBody.MaskedPayload)
	require.Equal(t, afterWrap, afterUnwrap)
}

func TestTaggedPacketRoundTrip(t *testing.T) {
	author := id.NewEd25519(seed(1))
	topic := TopicHash("t")
	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	_, afterAnnounce, err := WrapAnnounce(ahdr, &AnnounceBody{AuthorID: author.Identifier()}, author)
	require.NoError(t, err)

	sessionKey := seed(7)

	phdr := &HDF{TopicHash: topic, SeqNum: 1}
	pbody := &TaggedPacketBody{PublicPayload: []byte("pub"), MaskedPayload: []byte("msk")}
	wire, _, err := WrapTaggedPacket(phdr, pbody, author.Identifier(), sessionKey, afterAnnounce)
	require.NoError(t, err)

	gotHdr, gotBody, _, err := UnwrapTaggedPacket(wire, sessionKey, afterAnnounce)
	require.NoError(t, err)
	require.Equal(t, FrameTaggedPacket, gotHdr.FrameType)
	require.Equal(t, []byte("pub"), gotBody.PublicPayload)
	require.Equal(t, []byte("msk"), gotBody.MaskedPayload)
}

func TestPeekHDF(t *testing.T) {
	author := id.NewEd25519(seed(1))
	topic := TopicHash("t")
	ahdr := &HDF{TopicHash: topic, Publisher: author.Identifier()}
	wire, _, err := WrapAnnounce(ahdr, &AnnounceBody{AuthorID: author.Identifier()}, author)
	require.NoError(t, err)

	peeked, err := PeekHDF(wire)
	require.NoError(t, err)
	require.Equal(t, FrameAnnounce, peeked.FrameType)
	require.Nil(t, peeked.LinkedMsgAddress)
}
