package session

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aytekaytemur/perseptor/internal/store"
)

func newManager(t *testing.T, secret string, expiry time.Duration) *Manager {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m, err := New(secret, expiry, st)
	require.NoError(t, err)
	return m
}

func TestSessionRoundtrip(t *testing.T) {
	m := newManager(t, "unit-test-secret", time.Hour)
	ctx := context.Background()

	created, err := m.Create(ctx, "sk-ant-api03-abcdef123456", "anthropic", "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.NotEmpty(t, created.Token)
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, "anthropic", created.Provider)

	resolved, err := m.Validate(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-api03-abcdef123456", resolved.APIKey)
	assert.Equal(t, "anthropic", resolved.Provider)
	assert.Equal(t, "claude-sonnet-4-5", resolved.ModelPreference)
	assert.Equal(t, created.SessionID, resolved.SessionID)
}

func TestValidate_UnknownToken(t *testing.T) {
	m := newManager(t, "unit-test-secret", time.Hour)
	_, err := m.Validate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidate_WrongKeyFailsDecryption(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	first, err := New("secret-one", time.Hour, st)
	require.NoError(t, err)
	created, err := first.Create(context.Background(), "sk-proj-1234567890", "openai", "")
	require.NoError(t, err)

	// a manager with a different secret cannot decrypt the stored key
	second, err := New("secret-two", time.Hour, st)
	require.NoError(t, err)
	_, err = second.Validate(context.Background(), created.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestDestroy(t *testing.T) {
	m := newManager(t, "unit-test-secret", time.Hour)
	ctx := context.Background()

	created, err := m.Create(ctx, "sk-proj-1234567890", "openai", "")
	require.NoError(t, err)

	destroyed, err := m.Destroy(ctx, created.Token)
	require.NoError(t, err)
	assert.True(t, destroyed)

	destroyed, err = m.Destroy(ctx, created.Token)
	require.NoError(t, err)
	assert.False(t, destroyed)

	_, err = m.Validate(ctx, created.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestEncryptString_UniqueNonces(t *testing.T) {
	m := newManager(t, "unit-test-secret", time.Hour)

	a, err := m.encryptString("same plaintext")
	require.NoError(t, err)
	b, err := m.encryptString("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	decrypted, err := m.decryptString(a)
	require.NoError(t, err)
	assert.Equal(t, "same plaintext", decrypted)
}

func TestValidateURL(t *testing.T) {
	orig := LookupIP
	LookupIP = func(host string) ([]net.IP, error) {
		switch host {
		case "public.example":
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		case "internal.example":
			return []net.IP{net.ParseIP("10.0.0.5")}, nil
		default:
			return nil, &net.DNSError{Err: "no such host", Name: host}
		}
	}
	defer func() { LookupIP = orig }()

	assert.NoError(t, ValidateURL("https://public.example/report"))

	err := ValidateURL("https://internal.example/report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restricted network address")

	assert.Error(t, ValidateURL("https://192.168.1.10/admin"))
	assert.Error(t, ValidateURL("https://127.0.0.1/"))
	assert.Error(t, ValidateURL("ftp://public.example/file"))
	assert.Error(t, ValidateURL("public.example/report"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("https://unresolvable.example/x"))
}

func TestValidateAPIKey(t *testing.T) {
	assert.NoError(t, ValidateAPIKey("sk-proj-1234567890abcdef"))
	assert.Error(t, ValidateAPIKey(""))
	assert.Error(t, ValidateAPIKey("short"))
	assert.Error(t, ValidateAPIKey("<script>alert(1)</script>"))
	assert.Error(t, ValidateAPIKey("javascript:void(0)xxxx"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "etcpasswd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "report.pdf", SanitizeFilename("report.pdf"))
	assert.Equal(t, "hidden", SanitizeFilename("...hidden"))
	assert.Equal(t, "unnamed", SanitizeFilename("///"))
}
