package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
)

func newTestKV(t *testing.T) *store.SQLiteStore {
	t.Helper()
	kv, err := store.NewSQLiteStore(":memory:", 0, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestRegisterOrLoginCreatesThenReuses(t *testing.T) {
	kv := newTestKV(t)
	ids := NewIdentityStore(kv, logger.NewNop())
	require.True(t, ids.IsGuest())
	require.Empty(t, ids.Users())

	ada, created, err := ids.RegisterOrLogin("ada", true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, ada.ID)
	assert.True(t, ada.IsVerified)
	assert.Equal(t, ada, ids.Current())
	assert.Equal(t, []store.UserProfile{ada}, ids.Users())

	// A later process sees the same roster and pointer.
	again := NewIdentityStore(kv, logger.NewNop())
	assert.Equal(t, ada, again.Current())

	require.True(t, again.Logout())
	same, created, err := again.RegisterOrLogin("ADA", false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ada.ID, same.ID)
	assert.True(t, same.IsVerified, "verified flag is ignored for existing profiles")
	assert.Len(t, again.Users(), 1)
}

func TestRegisterOrLoginRejectsBlank(t *testing.T) {
	ids := NewIdentityStore(newTestKV(t), logger.NewNop())
	_, _, err := ids.RegisterOrLogin("   ", false)
	assert.ErrorIs(t, err, ErrInvalidUsername)
	assert.True(t, ids.IsGuest())
}

func TestLogoutAsGuestIsNoop(t *testing.T) {
	kv := newTestKV(t)
	ids := NewIdentityStore(kv, logger.NewNop())
	assert.False(t, ids.Logout())

	_, _, err := ids.RegisterOrLogin("bob", false)
	require.NoError(t, err)
	assert.True(t, ids.Logout())
	assert.Equal(t, store.GuestProfile, ids.Current())

	var pointer store.UserProfile
	assert.False(t, kv.Load(store.KeyCurrentUser, &pointer), "guest is never persisted")
}

func TestLoginUnknownProfileJoinsRoster(t *testing.T) {
	ids := NewIdentityStore(newTestKV(t), logger.NewNop())
	p := store.UserProfile{ID: "u-42", Username: "grace"}

	require.NoError(t, ids.Login(p))
	assert.Equal(t, p, ids.Current())
	got, ok := ids.Lookup("u-42")
	require.True(t, ok)
	assert.Equal(t, p, got)

	err := ids.Login(store.UserProfile{ID: "u-43", Username: "Grace"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUpdateProfile(t *testing.T) {
	ids := NewIdentityStore(newTestKV(t), logger.NewNop())
	ada, _, err := ids.RegisterOrLogin("ada", false)
	require.NoError(t, err)
	require.NoError(t, ids.Login(store.UserProfile{ID: "u-b", Username: "bob"}))

	ada.Username = "Bob"
	_, err = ids.UpdateProfile(ada)
	assert.True(t, errors.Is(err, ErrUsernameTaken))

	ada.Username = "lovelace"
	updated, err := ids.UpdateProfile(ada)
	require.NoError(t, err)
	assert.Equal(t, "lovelace", updated.Username)
	assert.Equal(t, "bob", ids.Current().Username, "current pointer only refreshes for the current profile")

	require.NoError(t, ids.Login(ada))
	assert.Equal(t, "lovelace", ids.Current().Username)

	bob := store.UserProfile{ID: "u-b", Username: "bobby", ProfilePicture: "data:image/png;base64,AA=="}
	_, err = ids.UpdateProfile(bob)
	require.NoError(t, err)
	got, _ := ids.Lookup("u-b")
	assert.Equal(t, bob, got)

	_, err = ids.UpdateProfile(store.GuestProfile)
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestIdentityStoreMalformedRoster(t *testing.T) {
	kv := newTestKV(t)
	require.NoError(t, kv.SaveRaw(store.KeyUsers, "[{broken"))
	require.NoError(t, kv.SaveRaw(store.KeyCurrentUser, "nope"))

	ids := NewIdentityStore(kv, logger.NewNop())
	assert.True(t, ids.IsGuest())
	assert.Empty(t, ids.Users())
}

func TestIdentityStorePointerWithoutRoster(t *testing.T) {
	kv := newTestKV(t)
	p := store.UserProfile{ID: "u-1", Username: "orphan"}
	require.NoError(t, kv.Save(store.KeyCurrentUser, p))

	ids := NewIdentityStore(kv, logger.NewNop())
	assert.Equal(t, p, ids.Current())
	assert.Equal(t, []store.UserProfile{p}, ids.Users())
}

func TestIdentityStorePrefersRosterOverStalePointer(t *testing.T) {
	kv := newTestKV(t)
	stale := store.UserProfile{ID: "u-1", Username: "ada"}
	renamed := store.UserProfile{ID: "u-1", Username: "ada.l", IsVerified: true}
	require.NoError(t, kv.Save(store.KeyUsers, []store.UserProfile{renamed}))
	require.NoError(t, kv.Save(store.KeyCurrentUser, stale))

	ids := NewIdentityStore(kv, logger.NewNop())
	assert.Equal(t, renamed, ids.Current())

	var pointer store.UserProfile
	require.True(t, kv.Load(store.KeyCurrentUser, &pointer))
	assert.Equal(t, renamed, pointer)
}

func TestIdentityStoreDropsPointerWithTakenUsername(t *testing.T) {
	kv := newTestKV(t)
	ada := store.UserProfile{ID: "u-1", Username: "ada"}
	require.NoError(t, kv.Save(store.KeyUsers, []store.UserProfile{ada}))
	require.NoError(t, kv.Save(store.KeyCurrentUser, store.UserProfile{ID: "u-2", Username: "ADA"}))

	ids := NewIdentityStore(kv, logger.NewNop())
	assert.True(t, ids.IsGuest())
	assert.Equal(t, []store.UserProfile{ada}, ids.Users())

	var pointer store.UserProfile
	assert.False(t, kv.Load(store.KeyCurrentUser, &pointer))
}
