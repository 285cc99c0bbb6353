package oauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlehmann/billsync/pkg/calendar"
)

func testCredentials() *Credentials {
	return &Credentials{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		UserInfo:     &UserInfo{Email: "user@example.com", Name: "Test User"},
	}
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)

	creds := testCredentials()
	require.True(t, storage.Store("google", "user@example.com", creds, "pw"))

	got, err := storage.Retrieve("google", "user@example.com", "pw")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, creds.AccessToken, got.AccessToken)
	assert.Equal(t, creds.RefreshToken, got.RefreshToken)
	assert.True(t, creds.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, creds.UserInfo.Email, got.UserInfo.Email)
}

func TestRetrieveMissingIsNil(t *testing.T) {
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)

	got, err := storage.Retrieve("google", "nobody@example.com", "pw")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRetrieveWrongKeyIsAuthError(t *testing.T) {
	dir := t.TempDir()

	first, err := NewCredentialStorage(dir)
	require.NoError(t, err)
	require.True(t, first.Store("google", "user@example.com", testCredentials(), "pw"))

	// Fresh storage with a different password derives a different key.
	// The persisted salt is removed so the key cannot match.
	require.NoError(t, os.Remove(filepath.Join(dir, "salt.bin")))
	second, err := NewCredentialStorage(dir)
	require.NoError(t, err)

	got, err := second.Retrieve("google", "user@example.com", "other")
	assert.Nil(t, got)
	var authErr *calendar.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestCorruptSaltIsNotRegenerated(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewCredentialStorage(dir)
	require.NoError(t, err)

	saltPath := filepath.Join(dir, "salt.bin")
	require.NoError(t, os.WriteFile(saltPath, []byte("short"), 0o600))

	_, err = storage.Encrypt(testCredentials(), "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")

	// The truncated salt file must survive untouched
	data, err := os.ReadFile(saltPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), data)
}

func TestDecryptTamperedBlob(t *testing.T) {
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)

	var creds Credentials
	err = storage.Decrypt([]byte("too short"), &creds, "pw")
	var authErr *calendar.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestEncryptFreshIVPerCall(t *testing.T) {
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)

	a, err := storage.Encrypt(testCredentials(), "pw")
	require.NoError(t, err)
	b, err := storage.Encrypt(testCredentials(), "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a[:ivLength], b[:ivLength])
}

func TestDeleteIsIdempotent(t *testing.T) {
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)

	require.True(t, storage.Store("outlook", "user@example.com", testCredentials(), "pw"))
	assert.True(t, storage.Delete("outlook", "user@example.com"))
	assert.True(t, storage.Delete("outlook", "user@example.com"))

	got, err := storage.Retrieve("outlook", "user@example.com", "pw")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListProvidersAndUsers(t *testing.T) {
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)

	require.True(t, storage.Store("google", "a@example.com", testCredentials(), "pw"))
	require.True(t, storage.Store("google", "b@example.com", testCredentials(), "pw"))
	require.True(t, storage.Store("outlook", "a@example.com", testCredentials(), "pw"))

	providers := storage.ListProviders()
	assert.ElementsMatch(t, []string{"google", "outlook"}, providers)

	users := storage.ListUsers("google")
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, users)
	assert.ElementsMatch(t, []string{"a@example.com"}, storage.ListUsers("outlook"))
	assert.Empty(t, storage.ListUsers("apple"))
}

func TestCredentialsExpired(t *testing.T) {
	creds := testCredentials()
	assert.False(t, creds.Expired())
	creds.ExpiresAt = time.Now().Add(-time.Minute)
	assert.True(t, creds.Expired())
}
