// Persisted user state (§6): User serialises to (and restores from) an
// opaque byte blob via the same DDML sizeof/wrap/unwrap machinery every
// wire message uses, sealed with a sponge-derived MAC so a corrupted or
// truncated blob is rejected on load rather than silently mis-parsed.
package user

import (
	"bytes"
	"errors"
	"sort"

	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
	"github.com/drand/streams/internal/ddml"
	"github.com/drand/streams/internal/sponge"
	"github.com/drand/streams/psk"
	"github.com/drand/streams/streamconfig"
	"github.com/drand/streams/streamerrs"
)

var errShortState = errors.New("state: blob shorter than the MAC seal")

// macSize is the width of the seal appended to a persisted state blob:
// commit, then squeeze 32 bytes from the resulting state.
const macSize = 32

// MarshalState serialises this user's state per §6's persisted layout:
// app_addr, author_identifier, own identity, cursor map, psk store, key
// store, spongos store, subscriber set, each collection sorted and
// size_t-length-prefixed, sealed with a MAC. A user with a pending
// CreateStream that has not yet been Announce-d cannot be persisted: the
// caller must complete or discard the announce first.
func (u *User) MarshalState() ([]byte, error) {
	if u.pendingAnnounceWire != nil {
		return nil, streamerrs.NewState("marshal state", "announce is pending; call Announce or discard CreateStream first")
	}
	c := ddml.NewWrap(sponge.New(nil))
	if err := u.codecState(c); err != nil {
		return nil, err
	}
	c.Commit()
	mac := c.Squeeze(macSize)
	return append(c.Bytes(), mac...), nil
}

// UnmarshalState restores a User from a blob MarshalState produced, wiring
// it to cfg (nil uses streamconfig defaults, exactly like New). The MAC is
// verified before any field is trusted; a mismatch aborts with a Crypto
// error and no User is returned.
func UnmarshalState(data []byte, cfg *streamconfig.Config) (*User, error) {
	if len(data) < macSize {
		return nil, streamerrs.NewEncoding("state", "ddml", errShortState)
	}
	body, mac := data[:len(data)-macSize], data[len(data)-macSize:]

	u := New(nil, cfg)
	c := ddml.NewUnwrap(sponge.New(nil), body)
	if err := u.codecState(c); err != nil {
		return nil, err
	}
	c.Commit()
	if err := c.SqueezeVerify(mac); err != nil {
		return nil, err
	}
	return u, nil
}

// codecState runs the persisted-state schema against c in whichever mode
// c was constructed with; the same code path builds the wrap output and
// parses it back on unwrap, so the two can never drift apart.
func (u *User) codecState(c *ddml.Context) error {
	if err := u.codecStreamAddress(c); err != nil {
		return err
	}
	if err := u.codecAuthorIdentifier(c); err != nil {
		return err
	}
	if err := u.codecIdentity(c); err != nil {
		return err
	}
	if err := u.codecCursors(c); err != nil {
		return err
	}
	if err := u.codecPSKStore(c); err != nil {
		return err
	}
	if err := u.codecKeyStore(c); err != nil {
		return err
	}
	if err := u.codecSpongosStore(c); err != nil {
		return err
	}
	if err := u.codecSubscribers(c); err != nil {
		return err
	}
	if err := u.codecSessionKeys(c); err != nil {
		return err
	}
	return u.codecBranchSessionKeys(c)
}

func codecPresence(c *ddml.Context, present bool) (bool, error) {
	flag := uint8(0)
	if present {
		flag = 1
	}
	if err := c.AbsorbUint8(&flag); err != nil {
		return false, err
	}
	return flag != 0, nil
}

func (u *User) codecStreamAddress(c *ddml.Context) error {
	present, err := codecPresence(c, u.streamAddress != nil)
	if err != nil {
		return err
	}
	if c.Mode() != ddml.ModeUnwrap && !present {
		return nil
	}
	var app address.AppAddr
	if u.streamAddress != nil {
		app = *u.streamAddress
	}
	if present {
		buf := append([]byte{}, app[:]...)
		if err := c.AbsorbNBytes(address.AppAddrSize, &buf); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			copy(app[:], buf)
			u.streamAddress = &app
		}
	}
	return nil
}

func (u *User) codecAuthorIdentifier(c *ddml.Context) error {
	present, err := codecPresence(c, u.authorIdentifier != nil)
	if err != nil {
		return err
	}
	var ident id.Identifier
	if u.authorIdentifier != nil {
		ident = *u.authorIdentifier
	}
	if present {
		if err := id.Codec(c, &ident); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			u.authorIdentifier = &ident
		}
	}
	return nil
}

func (u *User) codecIdentity(c *ddml.Context) error {
	present, err := codecPresence(c, u.identity != nil)
	if err != nil {
		return err
	}
	var exported []byte
	if u.identity != nil {
		exported = u.identity.Export()
	}
	if present {
		if err := c.MaskBytes(&exported); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			identity, err := id.DecodeIdentity(exported)
			if err != nil {
				return err
			}
			u.identity = identity
		}
	}
	return nil
}

func (u *User) codecCursors(c *ddml.Context) error {
	type entry struct {
		publisher id.Identifier
		topic     string
		cursor    uint64
	}
	var entries []entry
	if c.Mode() != ddml.ModeUnwrap {
		for k, v := range u.cursors {
			entries = append(entries, entry{k.publisher, k.topic, v})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].publisher != entries[j].publisher {
				return bytes.Compare(entries[i].publisher.Encode(), entries[j].publisher.Encode()) < 0
			}
			return entries[i].topic < entries[j].topic
		})
	}
	n := uint64(len(entries))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		entries = make([]entry, n)
	}
	for i := range entries {
		if err := id.Codec(c, &entries[i].publisher); err != nil {
			return err
		}
		topic := []byte(entries[i].topic)
		if err := c.AbsorbBytes(&topic); err != nil {
			return err
		}
		entries[i].topic = string(topic)
		if err := c.AbsorbUint64(&entries[i].cursor); err != nil {
			return err
		}
	}
	if c.Mode() == ddml.ModeUnwrap {
		u.cursors = make(map[cursorKey]uint64, len(entries))
		for _, e := range entries {
			u.cursors[cursorKey{e.publisher, e.topic}] = e.cursor
		}
	}
	return nil
}

func (u *User) codecPSKStore(c *ddml.Context) error {
	type entry struct {
		id  psk.ID
		key psk.Key
	}
	var entries []entry
	if c.Mode() != ddml.ModeUnwrap {
		for id, key := range u.pskStore {
			entries = append(entries, entry{id, key})
		}
		sort.Slice(entries, func(i, j int) bool { return string(entries[i].id[:]) < string(entries[j].id[:]) })
	}
	n := uint64(len(entries))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		entries = make([]entry, n)
	}
	for i := range entries {
		idBuf := append([]byte{}, entries[i].id[:]...)
		if err := c.AbsorbNBytes(psk.IDSize, &idBuf); err != nil {
			return err
		}
		keyBuf := append([]byte{}, entries[i].key[:]...)
		if err := c.MaskNBytes(psk.KeySize, &keyBuf); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			copy(entries[i].id[:], idBuf)
			copy(entries[i].key[:], keyBuf)
		}
	}
	if c.Mode() == ddml.ModeUnwrap {
		u.pskStore = psk.NewStore()
		for _, e := range entries {
			u.pskStore.Add(e.id, e.key)
		}
	}
	return nil
}

func (u *User) codecKeyStore(c *ddml.Context) error {
	type entry struct {
		ident id.Identifier
		key   []byte
	}
	var entries []entry
	if c.Mode() != ddml.ModeUnwrap {
		for k, v := range u.keyStore {
			entries = append(entries, entry{k, v})
		}
		sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].ident.Encode(), entries[j].ident.Encode()) < 0 })
	}
	n := uint64(len(entries))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		entries = make([]entry, n)
	}
	for i := range entries {
		if err := id.Codec(c, &entries[i].ident); err != nil {
			return err
		}
		if err := c.AbsorbBytes(&entries[i].key); err != nil {
			return err
		}
	}
	if c.Mode() == ddml.ModeUnwrap {
		u.keyStore = make(map[id.Identifier][]byte, len(entries))
		for _, e := range entries {
			u.keyStore[e.ident] = e.key
		}
	}
	return nil
}

func (u *User) codecSpongosStore(c *ddml.Context) error {
	type entry struct {
		msgID address.MsgID
		state sponge.State
	}
	var entries []entry
	if c.Mode() != ddml.ModeUnwrap {
		for k, v := range u.spongosStore {
			entries = append(entries, entry{k, v})
		}
		sort.Slice(entries, func(i, j int) bool { return string(entries[i].msgID[:]) < string(entries[j].msgID[:]) })
	}
	n := uint64(len(entries))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		entries = make([]entry, n)
	}
	for i := range entries {
		idBuf := append([]byte{}, entries[i].msgID[:]...)
		if err := c.AbsorbNBytes(address.MsgIDSize, &idBuf); err != nil {
			return err
		}
		stateBuf := append([]byte{}, entries[i].state[:]...)
		if err := c.AbsorbNBytes(sponge.StateSize, &stateBuf); err != nil {
			return err
		}
		if c.Mode() == ddml.ModeUnwrap {
			copy(entries[i].msgID[:], idBuf)
			copy(entries[i].state[:], stateBuf)
		}
	}
	if c.Mode() == ddml.ModeUnwrap {
		u.spongosStore = make(map[address.MsgID]sponge.State, len(entries))
		for _, e := range entries {
			u.spongosStore[e.msgID] = e.state
		}
	}
	return nil
}

func (u *User) codecSubscribers(c *ddml.Context) error {
	var entries []id.Identifier
	if c.Mode() != ddml.ModeUnwrap {
		for s := range u.subscribers {
			entries = append(entries, s)
		}
		sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].Encode(), entries[j].Encode()) < 0 })
	}
	n := uint64(len(entries))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		entries = make([]id.Identifier, n)
	}
	for i := range entries {
		if err := id.Codec(c, &entries[i]); err != nil {
			return err
		}
	}
	if c.Mode() == ddml.ModeUnwrap {
		u.subscribers = make(map[id.Identifier]struct{}, len(entries))
		for _, e := range entries {
			u.subscribers[e] = struct{}{}
		}
	}
	return nil
}

// codecSessionKeys and codecBranchSessionKeys extend §6's layout with the
// two maps a reloaded user needs to keep sending/receiving correctly on an
// already-keyloaded branch without re-deriving every session key from
// scratch: the spec's persisted layout (app_addr .. subscriber set) is
// silent on them, so they are appended after it rather than interleaved,
// keeping every field §6 does name at the byte offsets it implies.
func (u *User) codecSessionKeys(c *ddml.Context) error {
	return codecMsgIDKeyedSecrets(c, &u.sessionKeys)
}

func (u *User) codecBranchSessionKeys(c *ddml.Context) error {
	return codecMsgIDKeyedSecrets(c, &u.branchSessionKey)
}

func codecMsgIDKeyedSecrets(c *ddml.Context, m *map[address.MsgID][]byte) error {
	type entry struct {
		msgID address.MsgID
		key   []byte
	}
	var entries []entry
	if c.Mode() != ddml.ModeUnwrap {
		for k, v := range *m {
			entries = append(entries, entry{k, v})
		}
		sort.Slice(entries, func(i, j int) bool { return string(entries[i].msgID[:]) < string(entries[j].msgID[:]) })
	}
	n := uint64(len(entries))
	if err := c.AbsorbSize(&n); err != nil {
		return err
	}
	if c.Mode() == ddml.ModeUnwrap {
		entries = make([]entry, n)
	}
	for i := range entries {
		idBuf := append([]byte{}, entries[i].msgID[:]...)
		if err := c.AbsorbNBytes(address.MsgIDSize, &idBuf); err != nil {
			return err
		}
		present, err := codecPresence(c, entries[i].key != nil)
		if err != nil {
			return err
		}
		if present {
			if err := c.MaskBytes(&entries[i].key); err != nil {
				return err
			}
		}
		if c.Mode() == ddml.ModeUnwrap {
			copy(entries[i].msgID[:], idBuf)
		}
	}
	if c.Mode() == ddml.ModeUnwrap {
		*m = make(map[address.MsgID][]byte, len(entries))
		for _, e := range entries {
			(*m)[e.msgID] = e.key
		}
	}
	return nil
}
