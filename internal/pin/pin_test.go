package pin

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/p-blackswan/vessel-dashboard/internal/errors"
)

// newTestVerifier lowers the iteration count to keep tests fast.
func newTestVerifier(t *testing.T) (*Verifier, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard_pin.hash")
	return NewVerifier(path, zerolog.Nop(), WithIterations(1000)), path
}

func TestSetAndVerify(t *testing.T) {
	v, path := newTestVerifier(t)
	assert.False(t, v.IsSet())

	require.NoError(t, v.Set("1234"))
	assert.True(t, v.IsSet())

	ok, err := v.Verify("1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify("4321")
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSet_SaltedFormat(t *testing.T) {
	v, path := newTestVerifier(t)
	require.NoError(t, v.Set("0000"))
	first, _ := os.ReadFile(path)
	require.NoError(t, v.Set("0000"))
	second, _ := os.ReadFile(path)

	salt, digest, ok := strings.Cut(string(first), ":")
	require.True(t, ok)
	assert.Len(t, salt, 32)
	assert.Len(t, digest, 64)
	assert.NotEqual(t, string(first), string(second), "fresh salt each time")
}

func TestVerify_NoFile(t *testing.T) {
	v, _ := newTestVerifier(t)
	ok, err := v.Verify("1234")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_LegacyMigrates(t *testing.T) {
	v, path := newTestVerifier(t)
	sum := sha256.Sum256([]byte("2468"))
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(sum[:])+"\n"), 0o644))

	ok, err := v.Verify("1357")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Verify("2468")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ":", "migrated to salted format")

	ok, err = v.Verify("2468")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_CorruptSalt(t *testing.T) {
	v, path := newTestVerifier(t)
	require.NoError(t, os.WriteFile(path, []byte("zz:abcd"), 0o600))
	_, err := v.Verify("1234")
	assert.Error(t, err)
}

func TestValidateNew(t *testing.T) {
	assert.NoError(t, ValidateNew("0420"))
	for _, bad := range []string{"", "123", "12345", "12a4", "١٢٣٤"} {
		err := ValidateNew(bad)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, bad)
	}
}
