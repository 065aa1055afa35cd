package overlay

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/eugenenazirov/peerconf/internal/envx"
	"github.com/eugenenazirov/peerconf/internal/secrets"
)

const (
	// DefaultSuffix is the file type of configuration sources.
	DefaultSuffix = ".yaml"
	// DefaultMain is the conventional name of the main source, without suffix.
	DefaultMain = "configuration"
	// ReservedPrefix marks files that are not configuration sources.
	ReservedPrefix = "__"
)

// Option configures a Loader.
type Option func(*Loader)

// WithFs overrides the filesystem the loader reads from.
func WithFs(fs afero.Fs) Option {
	return func(l *Loader) {
		if fs != nil {
			l.fs = fs
		}
	}
}

// WithEnv sets the accessor used by !env directives.
func WithEnv(env *envx.Accessor) Option {
	return func(l *Loader) {
		if env != nil {
			l.env = env
		}
	}
}

// WithSecrets sets the resolver used by !secret directives.
func WithSecrets(r *secrets.Resolver) Option {
	return func(l *Loader) {
		if r != nil {
			l.secrets = r
		}
	}
}

// WithLogger sets the logger used to report discovered sources.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSuffix selects the configuration file type, e.g. ".yaml" or ".json".
func WithSuffix(suffix string) Option {
	return func(l *Loader) {
		if suffix == "" {
			return
		}
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		l.suffix = suffix
	}
}

// Loader discovers configuration sources in a directory and orders them into
// a Chain.
type Loader struct {
	fs      afero.Fs
	env     *envx.Accessor
	secrets *secrets.Resolver
	logger  *zap.Logger
	suffix  string
}

// NewLoader creates a Loader reading the OS filesystem and process
// environment unless overridden.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		fs:     afero.NewOsFs(),
		logger: zap.NewNop(),
		suffix: DefaultSuffix,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.env == nil {
		l.env = envx.New(nil)
	}
	if l.secrets == nil {
		l.secrets = secrets.New("", secrets.WithFs(l.fs))
	}
	return l
}

// Load reads dir/<main><suffix> and every other <suffix> file in dir.
//
// Priority is the inverse of load order: the main source is loaded first and
// ends up last, and each auxiliary source is placed ahead of everything loaded
// before it. An auxiliary file therefore overrides any setting of the main
// file, including security-sensitive ones such as SECRET_KEY. Deployments rely
// on this; do not reorder.
//
// Files whose name starts with ReservedPrefix, and the file named after the
// directory itself, are skipped. A single unparsable source fails the whole
// load.
func (l *Loader) Load(dir, main string) (*Chain, error) {
	decode, ok := decoderFor(l.suffix)
	if !ok {
		return nil, fmt.Errorf("unsupported configuration suffix %q", l.suffix)
	}
	if main == "" {
		main = DefaultMain
	}
	eval := &evaluator{env: l.env, secrets: l.secrets}
	chain := &Chain{}

	mainName := main + l.suffix
	mainPath := filepath.Join(dir, mainName)
	if l.isRegular(mainPath) {
		src, err := l.loadSource(eval, decode, mainPath)
		if err != nil {
			return nil, err
		}
		chain.pushFront(src)
	} else {
		l.logger.Warn("main configuration not found", zap.String("path", mainPath))
	}

	entries, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		l.logger.Warn("cannot list configuration directory", zap.String("dir", dir), zap.Error(err))
	}
	dirName := filepath.Base(filepath.Clean(dir)) + l.suffix
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, l.suffix) ||
			strings.HasPrefix(name, ReservedPrefix) ||
			name == mainName || name == dirName {
			continue
		}
		path := filepath.Join(dir, name)
		if !l.isRegular(path) {
			continue
		}
		src, err := l.loadSource(eval, decode, path)
		if err != nil {
			return nil, err
		}
		chain.pushFront(src)
	}

	if chain.Len() == 0 {
		l.logger.Error("no configuration files found", zap.String("dir", dir))
		return nil, &NoConfigurationError{Dir: dir}
	}
	return chain, nil
}

func (l *Loader) loadSource(eval *evaluator, decode decodeFunc, path string) (*Source, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	values, err := decode(eval, data)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	l.logger.Info("loaded config", zap.String("path", path), zap.Int("settings", len(values)))
	return newSource(path, values), nil
}

// isRegular follows symlinks, so ConfigMap-style mounts are picked up.
func (l *Loader) isRegular(path string) bool {
	fi, err := l.fs.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
