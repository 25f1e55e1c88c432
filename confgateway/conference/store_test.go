package conference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/realtime/internal/errors"
)

func TestStoreCreateGetDelete(t *testing.T) {
	store := NewStore()
	session := NewSession("team1", "userA", time.Now())

	require.NoError(t, store.Create(session))
	assert.Equal(t, 1, store.Count())

	got, ok := store.Get(session.ID)
	require.True(t, ok)
	assert.Same(t, session, got)

	err := store.Create(session)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExists))

	store.Delete(session.ID)
	assert.Equal(t, 0, store.Count())
	_, ok = store.Get(session.ID)
	assert.False(t, ok)
}

func TestStoreGetByTeam(t *testing.T) {
	store := NewStore()
	s1 := NewSession("team1", "userA", time.Now())
	s2 := NewSession("team2", "userB", time.Now())
	require.NoError(t, store.Create(s1))
	require.NoError(t, store.Create(s2))

	got, ok := store.GetByTeam("team2")
	require.True(t, ok)
	assert.Same(t, s2, got)

	_, ok = store.GetByTeam("team3")
	assert.False(t, ok)
}

func TestStoreList(t *testing.T) {
	store := NewStore()
	assert.Empty(t, store.List())

	require.NoError(t, store.Create(NewSession("team1", "userA", time.Now())))
	require.NoError(t, store.Create(NewSession("team2", "userB", time.Now())))
	assert.Len(t, store.List(), 2)
}
