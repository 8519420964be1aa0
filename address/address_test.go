package address

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/streams/id"
)

func TestMsgIDIsPureFunction(t *testing.T) {
	author := id.NewEd25519(make([]byte, 32)).Identifier()
	app := NewAppAddr(author, []byte("nonce-1"))

	a := GenMsgID(app, author, "topic", 1)
	b := GenMsgID(app, author, "topic", 1)
	require.Equal(t, a, b)

	c := GenMsgID(app, author, "topic", 2)
	require.NotEqual(t, a, c)

	d := GenMsgID(app, author, "other-topic", 1)
	require.NotEqual(t, a, d)
}

func TestAppAddrVariesWithNonce(t *testing.T) {
	author := id.NewEd25519(make([]byte, 32)).Identifier()
	a1 := NewAppAddr(author, []byte("nonce-1"))
	a2 := NewAppAddr(author, []byte("nonce-2"))
	require.NotEqual(t, a1, a2)
}

func TestToMsgIndexDeterministic(t *testing.T) {
	author := id.NewEd25519(make([]byte, 32)).Identifier()
	app := NewAppAddr(author, []byte("nonce"))
	addr := Gen(app, author, "topic", 5)

	require.Equal(t, addr.ToMsgIndex(), addr.ToMsgIndex())

	other := Gen(app, author, "topic", 6)
	require.NotEqual(t, addr.ToMsgIndex(), other.ToMsgIndex())
}
