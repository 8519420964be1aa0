// Package sponge implements the duplex sponge ("Spongos") construction that
// drives every absorb/squeeze/mask/commit operation in the message pipeline.
// The permutation is realised with golang.org/x/crypto/sha3's cSHAKE256
// sponge (Write = absorb into the rate, Read = squeeze from the rate,
// Clone = fork); commit re-seeds a fresh cSHAKE instance from a squeeze of
// the current state, which both applies the permutation and clears the
// rate, matching the spec's commit semantics.
package sponge

import (
	"crypto/subtle"

	"golang.org/x/crypto/sha3"
)

// StateSize is the width, in bytes, of a committed Spongos snapshot.
const StateSize = 32

// domain is the cSHAKE customization string separating this sponge's
// keystream from any other consumer of cSHAKE256 in the process.
var domain = []byte("github.com/drand/streams/spongos/v1")

// State is a committed Spongos snapshot: the sponge state immediately after
// commit, with an empty rate. It is the unit stored in the spongos_store.
type State [StateSize]byte

// Spongos is a duplex sponge instance. It is not safe for concurrent use.
type Spongos struct {
	h sha3.ShakeHash
}

// New creates a Spongos seeded from raw bytes, e.g. an Identifier or an
// empty seed for the initial state before any operation.
func New(seed []byte) *Spongos {
	s := &Spongos{h: sha3.NewCShake256(nil, domain)}
	if len(seed) > 0 {
		s.h.Write(seed)
	}
	return s
}

// FromState restores a Spongos from a previously committed snapshot.
func FromState(st State) *Spongos {
	s := &Spongos{h: sha3.NewCShake256(nil, domain)}
	s.h.Write(st[:])
	return s
}

// Absorb mixes public input into the rate.
func (s *Spongos) Absorb(x []byte) {
	if len(x) == 0 {
		return
	}
	s.h.Write(x)
}

// Squeeze extracts n bytes from the current state without disturbing it:
// squeezing is implemented against a clone so the live hasher never leaves
// write mode.
func (s *Spongos) Squeeze(n int) []byte {
	out := make([]byte, n)
	clone := s.h.Clone()
	_, _ = clone.Read(out)
	return out
}

// SqueezeVerify is the dual of Squeeze used to check a MAC or signature
// hash: it squeezes len(expected) bytes and compares in constant time.
func (s *Spongos) SqueezeVerify(expected []byte) bool {
	got := s.Squeeze(len(expected))
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// Mask XOR-streams x with a squeeze of the rate and absorbs the resulting
// ciphertext, providing encryption authenticated by the evolving state.
func (s *Spongos) Mask(plaintext []byte) []byte {
	ks := s.Squeeze(len(plaintext))
	ciphertext := make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ ks[i]
	}
	s.Absorb(ciphertext)
	return ciphertext
}

// Unmask is the dual of Mask.
func (s *Spongos) Unmask(ciphertext []byte) []byte {
	ks := s.Squeeze(len(ciphertext))
	plaintext := make([]byte, len(ciphertext))
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ ks[i]
	}
	s.Absorb(ciphertext)
	return plaintext
}

// MaskWithSecret behaves like Mask but derives its keystream from a forked
// copy of s additionally seeded with secret, so only a party able to
// reproduce secret recovers the correct plaintext. The resulting ciphertext
// is absorbed into s itself, not the fork, so the chain's continuation (and
// any signature squeezed from s afterwards) is the same for every reader
// regardless of whether they know secret.
func (s *Spongos) MaskWithSecret(secret, plaintext []byte) []byte {
	fork := s.Fork()
	fork.Absorb(secret)
	ks := fork.Squeeze(len(plaintext))
	ciphertext := make([]byte, len(plaintext))
	for i := range plaintext {
		ciphertext[i] = plaintext[i] ^ ks[i]
	}
	s.Absorb(ciphertext)
	return ciphertext
}

// UnmaskWithSecret is the dual of MaskWithSecret. A caller that passes the
// wrong secret (or none) gets back garbage plaintext, but s's state ends up
// identical to every other reader's: the ciphertext absorbed is the bytes
// read off the wire, not a function of secret.
func (s *Spongos) UnmaskWithSecret(secret, ciphertext []byte) []byte {
	fork := s.Fork()
	fork.Absorb(secret)
	ks := fork.Squeeze(len(ciphertext))
	plaintext := make([]byte, len(ciphertext))
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ ks[i]
	}
	s.Absorb(ciphertext)
	return plaintext
}

// Commit applies the permutation (by squeezing a fresh capacity value) and
// zeroes the rate, returning the resulting snapshot. The returned State is
// both the persisted representation and a valid seed for FromState.
func (s *Spongos) Commit() State {
	var st State
	clone := s.h.Clone()
	_, _ = clone.Read(st[:])
	s.h = sha3.NewCShake256(nil, domain)
	s.h.Write(st[:])
	return st
}

// Fork returns an independent child whose state equals the parent's at fork
// time; mutating the child never affects the parent. Used for per-recipient
// keyload encryption.
func (s *Spongos) Fork() *Spongos {
	return &Spongos{h: s.h.Clone()}
}

// Join absorbs other's current committed state into self, used to chain a
// parent message's snapshot into a child message's initial state.
func (s *Spongos) Join(other *Spongos) {
	var st State
	clone := other.h.Clone()
	_, _ = clone.Read(st[:])
	s.Absorb(st[:])
}
