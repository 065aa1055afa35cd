package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/eugenenazirov/peerconf/internal/scripts"
	"github.com/eugenenazirov/peerconf/internal/storage"
)

const dir = "/opt/peering-manager/startup_scripts"

func run(t *testing.T, store storage.Storage, files map[string]string) (scripts.Report, error) {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, name), []byte(content), 0o644))
	}
	seeder := New(store, WithLogger(zaptest.NewLogger(t)), WithBcryptCost(bcrypt.MinCost))
	opts := append([]scripts.Option{scripts.WithFs(fs)}, seeder.Options()...)
	return scripts.NewRunner(opts...).RunAll(context.Background(), dir)
}

func TestSeedAll(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStorage()
	report, err := run(t, store, map[string]string{
		"000_users.yaml": `kind: users
items:
  admin:
    password: admin
    api_token: 0123456789abcdef0123456789abcdef01234567
    is_superuser: true
    is_staff: true
  jdoe:
    email: jdoe@example.com
    first_name: John
    is_active: false
`,
		"010_groups.yaml": `kind: groups
items:
  operators:
    users: [admin, jdoe]
  readers:
`,
		"020_tags.yaml": `kind: tags
items:
  - name: Transit
    color: Red
  - name: IXP Peering
    slug: ixp
    color: "#2196F3"
  - name: Café
    color: mauve
`,
	})
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.Equal(t, scripts.StateCompleted, res.State, res.Name)
	}

	ctx := context.Background()
	users, err := store.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.True(t, users[0].IsSuperuser)
	assert.True(t, users[0].IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users[0].PasswordHash), []byte("admin")))
	assert.False(t, users[1].IsActive)
	assert.NotEmpty(t, users[1].PasswordHash, "random password expected")

	token, ok := store.Token("0123456789abcdef0123456789abcdef01234567")
	require.True(t, ok)
	assert.Equal(t, "admin", token.Username)

	groups, err := store.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.Group{
		{Name: "operators", Members: []string{"admin", "jdoe"}},
		{Name: "readers"},
	}, groups)

	tags, err := store.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.Tag{
		{Name: "Café", Slug: "cafe"},
		{Name: "IXP Peering", Slug: "ixp", Color: "2196f3"},
		{Name: "Transit", Slug: "transit", Color: "f44336"},
	}, tags)
}

func TestSeedExistingUserIsUntouched(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateUser(context.Background(), storage.User{Username: "admin", PasswordHash: "kept"}))

	_, err := run(t, store, map[string]string{
		"000_users.yaml": "kind: users\nitems:\n  admin:\n    password: changed\n",
	})
	require.NoError(t, err)

	users, err := store.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "kept", users[0].PasswordHash)
}

func TestSeedEmptyItemsSoftSkip(t *testing.T) {
	t.Parallel()

	report, err := run(t, storage.NewMemoryStorage(), map[string]string{
		"000_users.yaml":  "kind: users\n",
		"010_groups.yaml": "kind: groups\nitems: {}\n",
		"020_tags.yaml":   "kind: tags\nitems: []\n",
	})
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.Equal(t, scripts.StateSoftSkipped, res.State, res.Name)
	}
}

func TestSeedGroupWithMissingUserAborts(t *testing.T) {
	t.Parallel()

	report, err := run(t, storage.NewMemoryStorage(), map[string]string{
		"010_groups.yaml": "kind: groups\nitems:\n  operators:\n    users: [ghost]\n",
		"020_tags.yaml":   "kind: tags\nitems:\n  - name: never\n",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	failed, ok := report.Failed()
	require.True(t, ok)
	assert.Equal(t, "010_groups.yaml", failed.Name)
	assert.Equal(t, scripts.StatePending, report.Results[1].State)
}

func TestSeedUnknownUserFieldIsFatal(t *testing.T) {
	t.Parallel()

	_, err := run(t, storage.NewMemoryStorage(), map[string]string{
		"000_users.yaml": "kind: users\nitems:\n  admin:\n    pasword: typo\n",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pasword")
}

func TestSeedIntoSQLite(t *testing.T) {
	t.Parallel()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = run(t, store, map[string]string{
		"000_users.yaml":  "kind: users\nitems:\n  admin: {password: admin}\n",
		"010_groups.yaml": "kind: groups\nitems:\n  operators: {users: [admin]}\n",
	})
	require.NoError(t, err)

	groups, err := store.Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.Group{{Name: "operators", Members: []string{"admin"}}}, groups)
}

func TestLookupColor(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		hex string
		ok  bool
	}{
		"f44336":     {"f44336", true},
		"#F44336":    {"f44336", true},
		"Dark green": {"2f6a31", true},
		"dark GREEN": {"2f6a31", true},
		"mauve":      {"", false},
		"":           {"", false},
	}
	for in, want := range cases {
		hex, ok := LookupColor(in)
		assert.Equal(t, want.ok, ok, in)
		assert.Equal(t, want.hex, hex, in)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Transit":          "transit",
		"IXP Peering":      "ixp-peering",
		"Café  Crème":      "cafe-creme",
		"  leading/trail ": "leading-trail",
		"v6_only":          "v6_only",
		"AS-65000":         "as-65000",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}
