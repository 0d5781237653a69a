package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	session "github.com/medichecks/go-session"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := session.NewMemoryStore()

	_, held := store.Get()
	assert.False(t, held)

	store.Set(session.Credential{Access: "a1", Refresh: "r1"})

	cred, held := store.Get()
	assert.True(t, held)
	assert.Equal(t, "a1", cred.Access)
	assert.Equal(t, "r1", cred.Refresh)

	store.Clear()

	cred, held = store.Get()
	assert.False(t, held)
	assert.True(t, cred.IsZero())
}

func TestMemoryStoreSetAccess(t *testing.T) {
	store := session.NewMemoryStore()

	// No credential held: the silent-refresh write is a no-op.
	store.SetAccess("a1")
	_, held := store.Get()
	assert.False(t, held)

	store.Set(session.Credential{Access: "a1", Refresh: "r1"})
	store.SetAccess("a2")

	cred, held := store.Get()
	assert.True(t, held)
	assert.Equal(t, "a2", cred.Access)
	assert.Equal(t, "r1", cred.Refresh, "refresh token survives an access rotation")
}

func TestMemoryStoreSetZeroClears(t *testing.T) {
	store := session.NewMemoryStore()
	store.Set(session.Credential{Access: "a1", Refresh: "r1"})

	store.Set(session.Credential{})

	_, held := store.Get()
	assert.False(t, held)
}
