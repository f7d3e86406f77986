package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	st := NewStore()

	s1, created := st.GetOrCreate("room-1")
	assert.True(t, created)
	require.NotNil(t, s1)

	s2, created := st.GetOrCreate("room-1")
	assert.False(t, created)
	assert.Same(t, s1, s2)

	assert.Equal(t, 1, st.Count())
}

func TestGetMissing(t *testing.T) {
	st := NewStore()

	_, ok := st.Get("no-such-room")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	st := NewStore()
	st.GetOrCreate("room-1")

	st.Remove("room-1")
	assert.Equal(t, 0, st.Count())

	// removing twice is harmless
	st.Remove("room-1")
}

func TestCleanupIdleSkipsActiveSessions(t *testing.T) {
	st := NewStore()

	active, _ := st.GetOrCreate("room-active")
	active.Admit("u1", "Alice", "conn-1")

	idle, _ := st.GetOrCreate("room-idle")
	idle.Admit("u2", "Bob", "conn-2")
	idle.MarkInactive("conn-2")

	// everything is younger than maxAge, nothing is reaped
	removed := st.CleanupIdle(time.Hour)
	assert.Equal(t, 0, removed)

	// with a zero maxAge only the session without live connections goes
	time.Sleep(5 * time.Millisecond)
	removed = st.CleanupIdle(time.Millisecond)
	assert.Equal(t, 1, removed)

	_, ok := st.Get("room-active")
	assert.True(t, ok)
	_, ok = st.Get("room-idle")
	assert.False(t, ok)
}
