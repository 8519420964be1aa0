package sponge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterminism(t *testing.T) {
	a := New([]byte("seed"))
	b := New([]byte("seed"))

	a.Absorb([]byte("hello"))
	b.Absorb([]byte("hello"))

	require.Equal(t, a.Squeeze(32), b.Squeeze(32))
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	wrapSide := New([]byte("seed"))
	unwrapSide := New([]byte("seed"))

	plaintext := []byte("masked payload contents")
	ciphertext := wrapSide.Mask(plaintext)
	recovered := unwrapSide.Unmask(ciphertext)

	require.Equal(t, plaintext, recovered)
	require.Equal(t, wrapSide.Commit(), unwrapSide.Commit())
}

func TestCommitClearsRate(t *testing.T) {
	s := New([]byte("seed"))
	s.Absorb([]byte("section one"))
	afterFirstCommit := s.Commit()

	fresh := FromState(afterFirstCommit)
	require.Equal(t, fresh.Squeeze(16), s.Squeeze(16))
}

func TestForkIsIndependent(t *testing.T) {
	parent := New([]byte("seed"))
	parent.Absorb([]byte("shared prefix"))

	child := parent.Fork()
	child.Absorb([]byte("child only"))

	parentSqueeze := parent.Squeeze(16)
	child.Absorb(nil) // no-op, keep child distinct from parent regardless
	require.NotEqual(t, parentSqueeze, child.Squeeze(16))
}

func TestJoinChainsParentState(t *testing.T) {
	parent := New([]byte("parent-seed"))
	parent.Absorb([]byte("parent body"))
	parentState := parent.Commit()

	child1 := New([]byte("child-seed"))
	child1.Join(FromState(parentState))

	child2 := New([]byte("child-seed"))
	child2.Join(FromState(parentState))

	require.Equal(t, child1.Squeeze(32), child2.Squeeze(32))
}

func TestSqueezeVerify(t *testing.T) {
	s := New([]byte("seed"))
	s.Absorb([]byte("data"))
	expected := s.Squeeze(32)

	verifier := New([]byte("seed"))
	verifier.Absorb([]byte("data"))
	require.True(t, verifier.SqueezeVerify(expected))

	tampered := New([]byte("seed"))
	tampered.Absorb([]byte("tampered"))
	require.False(t, tampered.SqueezeVerify(expected))
}
