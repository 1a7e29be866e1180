package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreKeepsLastN(t *testing.T) {
	s := NewStore(Options{MaxEntries: 3})
	for i := 0; i < 5; i++ {
		s.Append("sess", Entry{ID: fmt.Sprint(i)})
	}

	got := s.Snapshot("sess")
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "4", got[2].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	last, ok := s.Last("sess")
	require.True(t, ok)
	assert.Equal(t, "4", last.ID)
}

func TestStoreSessionsAreIsolated(t *testing.T) {
	s := NewStore(Options{})
	s.Append("a", Entry{ID: "1"})
	s.Append("", Entry{ID: "ignored"})

	assert.Empty(t, s.Snapshot("b"))
	_, ok := s.Last("b")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Sessions())

	s.Clear("a")
	assert.Empty(t, s.Snapshot("a"))
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := NewStore(Options{})
	s.Append("a", Entry{ID: "1"})

	snap := s.Snapshot("a")
	snap[0].ID = "mutated"
	assert.Equal(t, "1", s.Snapshot("a")[0].ID)
}

func TestStoreExpires(t *testing.T) {
	s := NewStore(Options{TTL: 20 * time.Millisecond})
	s.Append("a", Entry{ID: "1"})
	require.Len(t, s.Snapshot("a"), 1)

	assert.Eventually(t, func() bool {
		return len(s.Snapshot("a")) == 0
	}, time.Second, 10*time.Millisecond)
}
