package message

import (
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
)

// PeekHDF decodes only the HDF from data, using a throwaway Spongos state.
// Absorbed header fields are plain bytes independent of the sponge's
// content, so this is safe even though the "real" unwrap of the header
// (chained into the message's signature or tag) requires the correct
// parent snapshot — which callers generally don't know until they've read
// frame_type and linked_msg_address from here. Callers use the result only
// to decide which snapshot to restore and which Unwrap* function to call;
// they must re-run the real unwrap afterwards.
func PeekHDF(data []byte) (*HDF, error) {
	c := ddml.NewUnwrap(sponge.New(nil), data)
	var hdr HDF
	if err := hdr.Codec(c); err != nil {
		return nil, err
	}
	return &hdr, nil
}
