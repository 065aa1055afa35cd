package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemResolver(t *testing.T, files map[string]string) *Resolver {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(DefaultRoot, name), []byte(content), 0o600))
	}
	return New("", WithFs(fs))
}

func TestResolveMissingReturnsDefault(t *testing.T) {
	t.Parallel()

	r := newMemResolver(t, nil)
	assert.Equal(t, "fallback", r.Resolve("missing_secret", "fallback"))

	_, ok := r.Lookup("missing_secret")
	assert.False(t, ok)
}

func TestResolveReadsFirstLineTrimmed(t *testing.T) {
	t.Parallel()

	r := newMemResolver(t, map[string]string{
		"db_password":  "s3cret\nsecond line\n",
		"secret_key":   "  spaced-key \r\n",
		"no_newline":   "value",
		"empty_secret": "",
	})

	assert.Equal(t, "s3cret", r.Resolve("db_password", "x"))
	assert.Equal(t, "spaced-key", r.Resolve("secret_key", "x"))
	assert.Equal(t, "value", r.Resolve("no_newline", "x"))

	value, ok := r.Lookup("empty_secret")
	assert.True(t, ok)
	assert.Equal(t, "", value)
}

func TestLookupRejectsNonLocalNames(t *testing.T) {
	t.Parallel()

	r := newMemResolver(t, map[string]string{"ok": "v"})
	for _, name := range []string{"", "../etc/passwd", "/etc/passwd"} {
		_, ok := r.Lookup(name)
		assert.False(t, ok, name)
	}
}

func TestResolveOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "redis_password"), []byte("hunter2\n"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a_directory"), 0o700))

	r := New(dir)
	assert.Equal(t, dir, r.Root())
	assert.Equal(t, "hunter2", r.Resolve("redis_password", ""))
	assert.Equal(t, "def", r.Resolve("a_directory", "def"))
}
