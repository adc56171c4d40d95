package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIsStrictlyIncreasing(t *testing.T) {
	s := New()
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		next := s.Next(0)
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNextRespectsSeed(t *testing.T) {
	s := New()
	next := s.Next(1_000_000_000_000)
	require.Greater(t, next, int64(1_000_000_000_000))
}

func TestStartStopIdempotent(t *testing.T) {
	s := New()
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
