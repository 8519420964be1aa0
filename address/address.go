// Package address implements deterministic message addressing (§4.D): the
// AppAddr naming a stream, the MsgId naming a message within it, and their
// conversion to the opaque 32-byte transport index.
package address

import (
	"encoding/binary"
	"fmt"

	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/sponge"
)

// AppAddrSize is the width, in bytes, of an AppAddr.
const AppAddrSize = 32

// MsgIDSize is the width, in bytes, of a MsgId.
const MsgIDSize = 12

// AppAddr names a stream: derived once from the author identifier and a
// random nonce chosen at stream creation.
type AppAddr [AppAddrSize]byte

// MsgID is the relative part of an Address, a pure function of
// (AppAddr, publisher, topic, cursor).
type MsgID [MsgIDSize]byte

// Address names a single message: a stream plus a relative MsgId.
type Address struct {
	Base     AppAddr
	Relative MsgID
}

// String renders a stable debug form, "base:relative" in hex, with base
// shortened to its first 8 bytes.
func (a Address) String() string {
	return fmt.Sprintf("%x:%x", a.Base[:8], a.Relative[:])
}

// permute derives n bytes deterministically from input using the same
// duplex sponge construction the message pipeline is built on (§4.A), so
// address derivation inherits its collision-resistance properties from a
// single primitive rather than a second hash function.
func permute(input []byte, n int) []byte {
	return sponge.New(input).Squeeze(n)
}

// NewAppAddr derives AppAddr = truncate32(permute(author_id ‖ nonce)).
func NewAppAddr(author id.Identifier, nonce []byte) AppAddr {
	data := append(append([]byte{}, author.Encode()...), nonce...)
	var out AppAddr
	copy(out[:], permute(data, AppAddrSize))
	return out
}

// GenMsgID derives MsgId = truncate12(permute(app ‖ publisher_id ‖ topic ‖ cursor_be32)).
func GenMsgID(app AppAddr, publisher id.Identifier, topic string, cursor uint64) MsgID {
	var cursorBytes [4]byte
	binary.BigEndian.PutUint32(cursorBytes[:], uint32(cursor))

	data := make([]byte, 0, AppAddrSize+publisher.EncodedSize()+len(topic)+4)
	data = append(data, app[:]...)
	data = append(data, publisher.Encode()...)
	data = append(data, []byte(topic)...)
	data = append(data, cursorBytes[:]...)

	var out MsgID
	copy(out[:], permute(data, MsgIDSize))
	return out
}

// Gen is the LinkGenerator operation: derive the full Address for a
// publisher's message at a given cursor in a given topic.
func Gen(base AppAddr, publisher id.Identifier, topic string, cursor uint64) Address {
	return Address{Base: base, Relative: GenMsgID(base, publisher, topic, cursor)}
}

// ToMsgIndex derives the opaque 32-byte transport index, permute(app ‖ msg_id).
func (a Address) ToMsgIndex() [32]byte {
	data := make([]byte, 0, AppAddrSize+MsgIDSize)
	data = append(data, a.Base[:]...)
	data = append(data, a.Relative[:]...)
	var out [32]byte
	copy(out[:], permute(data, 32))
	return out
}
