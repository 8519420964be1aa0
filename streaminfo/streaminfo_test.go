package streaminfo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	author := id.NewEd25519(make([]byte, 32))
	app := address.NewAppAddr(author.Identifier(), []byte("nonce"))

	info := &StreamInfo{
		Address:   app,
		AuthorID:  author.Identifier(),
		Nonce:     []byte("nonce"),
		BaseTopic: "default",
	}

	path := filepath.Join(t.TempDir(), "stream.toml")
	require.NoError(t, info.WriteFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, info.Address, loaded.Address)
	require.Equal(t, info.AuthorID, loaded.AuthorID)
	require.Equal(t, info.Nonce, loaded.Nonce)
	require.Equal(t, info.BaseTopic, loaded.BaseTopic)
}
