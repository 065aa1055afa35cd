package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/peerconf/internal/envx"
	"github.com/eugenenazirov/peerconf/internal/secrets"
)

const testDir = "/etc/peering-manager/config"

func newTestLoader(t *testing.T, files map[string]string, env envx.Map, opts ...Option) *Loader {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testDir, 0o755))
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}

	base := []Option{
		WithFs(fs),
		WithEnv(envx.New(env)),
		WithSecrets(secrets.New("", secrets.WithFs(fs))),
		WithLogger(zaptest.NewLogger(t)),
	}
	return NewLoader(append(base, opts...)...)
}

func TestAuxiliaryOverridesMain(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": "X: 1\nY: main\n",
		testDir + "/extra.yaml":         "X: 2\n",
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)
	assert.Equal(t, []string{testDir + "/extra.yaml", testDir + "/configuration.yaml"}, chain.Paths())

	f := NewFacade(chain)
	x, err := f.Get("X")
	require.NoError(t, err)
	assert.Equal(t, 2, x)

	y, err := f.Get("Y")
	require.NoError(t, err)
	assert.Equal(t, "main", y)

	origin, err := f.Origin("X")
	require.NoError(t, err)
	assert.Equal(t, testDir+"/extra.yaml", origin)
	assert.Equal(t, []string{testDir + "/configuration.yaml"}, f.Shadowed("X"))
	assert.Empty(t, f.Shadowed("Y"))
}

func TestLaterAuxiliarySourcesRankHigher(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": "X: main\n",
		testDir + "/a_extra.yaml":       "X: a\nA: only-a\n",
		testDir + "/b_ldap.yaml":        "X: b\n",
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)
	require.Equal(t, 3, chain.Len())
	assert.Equal(t, testDir+"/configuration.yaml", chain.Sources()[2].Path(), "main must be last")

	f := NewFacade(chain)
	x, err := f.Get("X")
	require.NoError(t, err)
	assert.Equal(t, "b", x)

	a, err := f.Get("A")
	require.NoError(t, err)
	assert.Equal(t, "only-a", a)
}

func TestReservedAndUnrelatedFilesAreSkipped(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": "X: main\n",
		testDir + "/__init__.yaml":      "X: reserved\n",
		testDir + "/config.yaml":        "X: dir-named\n",
		testDir + "/notes.txt":          "X: text\n",
		testDir + "/nested/extra.yaml":  "X: nested\n",
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)
	assert.Equal(t, []string{testDir + "/configuration.yaml"}, chain.Paths())
}

func TestMissingMainStillLoadsAuxiliary(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/extra.yaml": "X: 2\n",
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)
	assert.Equal(t, 1, chain.Len())
}

func TestNoConfigurationFound(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/__init__.yaml": "X: 1\n",
	}, nil)

	_, err := loader.Load(testDir, "configuration")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoConfiguration)

	_, err = loader.Load("/does/not/exist", "configuration")
	assert.ErrorIs(t, err, ErrNoConfiguration)
}

func TestMalformedSourceFailsWholeLoad(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": "X: 1\n",
		testDir + "/extra.yaml":         "X: [unterminated\n",
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.Error(t, err)
	assert.Nil(t, chain)

	var serr *SourceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, testDir+"/extra.yaml", serr.Path)
}

func TestDirectiveParseErrorIsFatal(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": "PORT: !env {name: REDIS_PORT, default: \"6379\", as: int}\n",
	}, envx.Map{"REDIS_PORT": "not-a-port"})

	_, err := loader.Load(testDir, "configuration")
	require.Error(t, err)
	assert.ErrorIs(t, err, envx.ErrParse)
}

func TestTopLevelMustBeMapping(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": "- a\n- b\n",
	}, nil)

	_, err := loader.Load(testDir, "configuration")
	require.Error(t, err)
}

func TestYAMLMergeKeys(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": `
DEFAULT_DB: &db
  HOST: h
  PORT: 1
DATABASE:
  <<: *db
  PORT: 2
REDIS_BASE: &redis
  HOST: redis
  SSL: false
CACHING: &caching
  DATABASE: 1
  SSL: true
REDIS:
  <<: [*caching, *redis]
`,
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)
	f := NewFacade(chain)

	db, err := f.Get("DATABASE")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"HOST": "h", "PORT": 2}, db)

	redis, err := f.Get("REDIS")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"HOST": "redis", "DATABASE": 1, "SSL": true}, redis)

	_, err = f.Get("<<")
	assert.ErrorIs(t, err, ErrAttributeNotFound)
}

func TestYAMLMergeKeyAtTopLevel(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": `COMMON: &common {TIME_ZONE: UTC}
<<: *common
DEBUG: true
`,
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)
	f := NewFacade(chain)

	assert.Equal(t, []string{"COMMON", "DEBUG", "TIME_ZONE"}, f.Names())
}

func TestYAMLMergeKeyRequiresMapping(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": `HOSTS: &hosts [a, b]
DATABASE:
  <<: *hosts
`,
	}, nil)

	_, err := loader.Load(testDir, "configuration")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge key expects a mapping")
}

func TestEmptySourceDefinesNothing(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.yaml": "X: 1\n",
		testDir + "/extra.yaml":         "# only comments\n",
	}, nil)

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Len())

	x, err := NewFacade(chain).Get("X")
	require.NoError(t, err)
	assert.Equal(t, 1, x)
}

func TestHuJSONSources(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, map[string]string{
		testDir + "/configuration.json": `{
			// database settings
			"DATABASE": {
				"NAME": {"$env": "DB_NAME", "default": "peering_manager"},
				"CONN_MAX_AGE": {"$env": "DB_CONN_MAX_AGE", "default": 300, "as": "int"},
				"PASSWORD": {"$secret": "db_password", "default": {"$env": "DB_PASSWORD", "default": ""}},
			},
			"PAGINATE_COUNT": 20,
		}`,
		testDir + "/extra.json": `{"PAGINATE_COUNT": 50}`,
	}, envx.Map{"DB_PASSWORD": "from-env"}, WithSuffix("json"))

	chain, err := loader.Load(testDir, "configuration")
	require.NoError(t, err)

	f := NewFacade(chain)
	db, err := f.Get("DATABASE")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"NAME":         "peering_manager",
		"CONN_MAX_AGE": 300,
		"PASSWORD":     "from-env",
	}, db)

	count, err := f.Get("PAGINATE_COUNT")
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}

func TestUnsupportedSuffix(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t, nil, nil, WithSuffix(".py"))
	_, err := loader.Load(testDir, "configuration")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoConfiguration)
}

func TestLoadFollowsSymlinksOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := filepath.Join(dir, "..data")
	require.NoError(t, os.Mkdir(data, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "configuration.yaml"), []byte("X: linked\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(data, "configuration.yaml"), filepath.Join(dir, "configuration.yaml")))

	loader := NewLoader(WithEnv(envx.New(envx.Map{})), WithLogger(zaptest.NewLogger(t)))
	chain, err := loader.Load(dir, "configuration")
	require.NoError(t, err)

	x, err := NewFacade(chain).Get("X")
	require.NoError(t, err)
	assert.Equal(t, "linked", x)
}
