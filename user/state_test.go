package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/streams/id"
	"github.com/drand/streams/psk"
	"github.com/drand/streams/streamconfig"
	"github.com/drand/streams/transport"
)

func TestMarshalUnmarshalStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr := transport.NewInMemory()
	author := newTestUser(t, id.NewEd25519(seed(1)), tr)
	sub := newTestUser(t, id.NewEd25519(seed(2)), tr)

	announceAddr, err := author.CreateStream([]byte("nonce"))
	require.NoError(t, err)
	_, err = author.Announce(ctx)
	require.NoError(t, err)
	_, err = sub.Receive(ctx, announceAddr)
	require.NoError(t, err)

	pskID, pskKey, err := psk.New(nil)
	require.NoError(t, err)
	sub.AddPSK(pskID, pskKey)
	author.AddPSK(pskID, pskKey)

	kRes, err := author.SendKeyload(ctx, announceAddr.Relative, []id.Identifier{sub.Identifier(), id.FromPskID(pskID)})
	require.NoError(t, err)
	_, err = sub.Receive(ctx, kRes.Address)
	require.NoError(t, err)

	blob, err := sub.MarshalState()
	require.NoError(t, err)

	restored, err := UnmarshalState(blob, streamconfig.New(
		streamconfig.WithTransport(tr),
		streamconfig.WithBaseTopic("test-topic"),
	))
	require.NoError(t, err)

	require.Equal(t, sub.Identifier(), restored.Identifier())
	gotAddr, ok := restored.StreamAddress()
	require.True(t, ok)
	wantAddr, _ := sub.StreamAddress()
	require.Equal(t, wantAddr, gotAddr)
	require.Equal(t, sub.cursors, restored.cursors)
	require.Equal(t, sub.spongosStore, restored.spongosStore)
	require.Equal(t, sub.branchSessionKey, restored.branchSessionKey)

	// The restored user can carry on receiving on the branch the original
	// had a session key for.
	pRes, err := author.SendSignedPacket(ctx, kRes.Address.Relative, []byte("pub"), []byte("masked"))
	require.NoError(t, err)
	hr, err := restored.Receive(ctx, pRes.Address)
	require.NoError(t, err)
	require.NotNil(t, hr.Message)
	require.Equal(t, []byte("masked"), hr.Message.MaskedPayload)
}

func TestUnmarshalStateRejectsTamperedBlob(t *testing.T) {
	ctx := context.Background()
	tr := transport.NewInMemory()
	author := newTestUser(t, id.NewEd25519(seed(1)), tr)

	_, err := author.CreateStream([]byte("nonce"))
	require.NoError(t, err)
	_, err = author.Announce(ctx)
	require.NoError(t, err)

	blob, err := author.MarshalState()
	require.NoError(t, err)
	require.NotEmpty(t, blob)
	blob[0] ^= 0x01

	_, err = UnmarshalState(blob, streamconfig.New(streamconfig.WithTransport(tr)))
	require.Error(t, err)
}

func TestMarshalStateRejectsPendingAnnounce(t *testing.T) {
	tr := transport.NewInMemory()
	author := newTestUser(t, id.NewEd25519(seed(1)), tr)

	_, err := author.CreateStream([]byte("nonce"))
	require.NoError(t, err)

	_, err = author.MarshalState()
	require.Error(t, err)
}
