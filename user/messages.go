// Package user's Messages iterator (§4.G): a lazy, reorder-tolerant reader
// that polls the transport over every known (publisher, topic) cursor,
// queues orphaned messages by their declared parent, and yields messages in
// topological (parent-before-child) order regardless of arrival order.
package user

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/drand/streams/address"
	"github.com/drand/streams/id"
	"github.com/drand/streams/streamerrs"
	"github.com/drand/streams/transport"
)

type idCursor struct {
	publisher id.Identifier
	cursor    uint64
}

type stageItem struct {
	addr address.Address
	blob []byte
}

// exhaustedCacheSize bounds the per-round "already missed at this cursor"
// memo: a round never needs to remember more lanes than this many distinct
// publishers, and a fixed cap means a pathological subscriber list can't
// grow the iterator's working set without bound (the open question on
// unbounded cursor probing).
const exhaustedCacheSize = 256

// Messages is a resumable iterator over this User's stream. It holds no
// reference to any particular round: Next can be called repeatedly,
// including after a prior call returned end-of-stream, and will pick up
// anything new the transport has received since.
type Messages struct {
	u *User

	idsStack        []idCursor
	stage           []stageItem
	msgQueue        map[address.MsgID][]stageItem
	successfulRound bool

	// exhausted memoizes, within a single Next call, which publishers
	// already missed a transport probe at which cursor, so a call that runs
	// several rounds does not re-fetch a lane that already missed. It is
	// purged at the start of every Next call, so a later call re-probes
	// every lane and picks up anything sent since.
	exhausted *lru.Cache

	// probed records, per publisher, the highest cursor this iterator has
	// already fetched a blob for, independent of whether handling that blob
	// went on to succeed, orphan, or hard-fail. A hard-failing blob (bad
	// signature, malformed body) never reaches User.advanceCursor — rightly
	// so, since §3's invariant ties cursors to snapshots that actually exist
	// — but without this, a permanently-undecodable message at cursor N
	// would make every future round re-derive the same address forever,
	// since nothing else ever moves the probe past it. probed is purely
	// iterator-local bookkeeping and never touches u.cursors.
	probed map[id.Identifier]uint64
}

// Messages returns a fresh iterator over u's stream.
func (u *User) Messages() *Messages {
	c, _ := lru.New(exhaustedCacheSize)
	return &Messages{
		u:         u,
		msgQueue:  make(map[address.MsgID][]stageItem),
		exhausted: c,
		probed:    make(map[id.Identifier]uint64),
	}
}

// knownPublishers lists every identifier this user has ever seen publish,
// plus itself: the author (once known), every subscriber, and the local
// identity.
func (u *User) knownPublishers() []id.Identifier {
	seen := make(map[id.Identifier]struct{})
	var out []id.Identifier
	add := func(i id.Identifier) {
		if i == (id.Identifier{}) {
			return
		}
		if _, ok := seen[i]; ok {
			return
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	if u.authorIdentifier != nil {
		add(*u.authorIdentifier)
	}
	for s := range u.subscribers {
		add(s)
	}
	add(u.Identifier())
	return out
}

// newRound starts a fresh probe round: one cursor per known publisher, the
// later of the user's authoritative next-cursor and one past anything this
// iterator has already probed for that publisher (see Messages.probed).
func (m *Messages) newRound() []idCursor {
	publishers := m.u.knownPublishers()
	out := make([]idCursor, 0, len(publishers))
	for _, p := range publishers {
		cursor := m.u.cursor(p, m.u.topic())
		if probed, ok := m.probed[p]; ok && probed+1 > cursor {
			cursor = probed + 1
		}
		out = append(out, idCursor{publisher: p, cursor: cursor})
	}
	return out
}

// Next returns the next message in topological order, or (nil, nil) at
// end-of-stream for now (safe to call again once more blobs may have
// arrived). A blob that fails to handle (malformed, crypto, encoding) is
// skipped and its error is not returned. A non-nil error is a transport
// failure other than "not found"; the iterator is still safe to call again
// afterwards.
func (m *Messages) Next(ctx context.Context) (*Message, error) {
	m.exhausted.Purge()
	for {
		if len(m.stage) > 0 {
			item := m.stage[0]
			m.stage = m.stage[1:]

			res, err := m.u.handleMessage(item.addr, item.blob)
			if err != nil {
				if missing, ok := err.(*streamerrs.MissingError); ok {
					var parent address.MsgID
					copy(parent[:], missing.Parent)
					m.msgQueue[parent] = append(m.msgQueue[parent], item)
					continue
				}
				// Any other handling error (malformed, crypto, encoding):
				// skip this blob and keep going. A bad blob must not wedge
				// the whole stream.
				continue
			}

			if queued, ok := m.msgQueue[item.addr.Relative]; ok {
				m.stage = append(m.stage, queued...)
				delete(m.msgQueue, item.addr.Relative)
			}

			if res.Message != nil {
				return res.Message, nil
			}
			// Non-yielded kinds (bookkeeping frames, and content this user
			// could not decrypt) are handled exactly like orphans from the
			// iterator's point of view: already-queued descendants were just
			// released into stage above, but this blob itself is not
			// returned to the caller.
			continue
		}

		if len(m.idsStack) == 0 {
			m.idsStack = m.newRound()
			m.successfulRound = false
			if len(m.idsStack) == 0 {
				return nil, nil
			}
		}

		next := m.idsStack[len(m.idsStack)-1]
		m.idsStack = m.idsStack[:len(m.idsStack)-1]

		// A lane already known to have missed at this exact cursor during
		// this Next call is treated exactly like a fresh transport miss,
		// without spending a transport round-trip on it: a publisher that
		// never advances (most commonly this user's own, pre-first-send
		// lane) would otherwise be re-fetched in every round of the call.
		if v, ok := m.exhausted.Get(next.publisher); ok && v.(uint64) == next.cursor {
			if len(m.idsStack) == 0 && !m.successfulRound {
				return nil, nil
			}
			continue
		}

		base, ok := m.u.StreamAddress()
		if !ok {
			return nil, nil
		}
		addr := address.Gen(base, next.publisher, m.u.topic(), next.cursor)

		blob, err := transport.RecvMessage(ctx, m.u.cfg.Transport, addr)
		if err != nil {
			if streamerrs.IsNotFound(err) {
				m.exhausted.Add(next.publisher, next.cursor)
				if len(m.idsStack) == 0 && !m.successfulRound {
					return nil, nil
				}
				continue
			}
			return nil, err
		}

		m.stage = append(m.stage, stageItem{addr: addr, blob: blob})
		m.successfulRound = true
		if cur, ok := m.probed[next.publisher]; !ok || next.cursor > cur {
			m.probed[next.publisher] = next.cursor
		}
	}
}

// FilteredMessages wraps Messages with the filter_branch combinator: it
// skips messages while predicate holds, then yields only the linear chain
// of messages descending from the first message predicate rejected (each
// next message's Linked address must equal the previously yielded
// message's address).
type FilteredMessages struct {
	inner     *Messages
	predicate func(*Message) bool
	started   bool
	lastAddr  address.MsgID
}

// FilterBranch returns a FilteredMessages built on top of m.
func (m *Messages) FilterBranch(predicate func(*Message) bool) *FilteredMessages {
	return &FilteredMessages{inner: m, predicate: predicate}
}

// Next returns the next message on the selected branch, or (nil, nil) at
// end-of-stream for now.
func (f *FilteredMessages) Next(ctx context.Context) (*Message, error) {
	for {
		msg, err := f.inner.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}
		if !f.started {
			if f.predicate(msg) {
				continue
			}
			f.started = true
			f.lastAddr = msg.Address.Relative
			return msg, nil
		}
		if msg.Linked != f.lastAddr {
			continue
		}
		f.lastAddr = msg.Address.Relative
		return msg, nil
	}
}
