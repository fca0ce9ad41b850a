package credential

import (
	"strings"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/redmine-bridge/internal/model"
)

func TestStore_SetGetDelete(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))
	key := ConnectionKey("conn-1")
	assert.Equal(t, "redmine-conn-1", key)

	require.NoError(t, s.Set(key, "secret"))

	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	require.NoError(t, s.Set(key, "rotated"))
	got, err = s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got)

	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))
	assert.NoError(t, s.Delete("redmine-nope"))
}

func TestMailKey(t *testing.T) {
	assert.Equal(t, "mail-issues@example.com", MailKey("issues@example.com"))
	assert.NotEqual(t, ConnectionKey("x"), MailKey("x"))
}

func TestConnectionKeys(t *testing.T) {
	a := NewConnectionKey("conn-1")
	b := NewConnectionKey("conn-1")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "redmine-conn-1-"))

	assert.Equal(t, a, KeyFor(model.ConnectionConfig{ID: "conn-1", CredentialKey: a}))
	assert.Equal(t, "redmine-conn-1", KeyFor(model.ConnectionConfig{ID: "conn-1"}))
}
