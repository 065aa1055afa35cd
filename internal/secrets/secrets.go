// Package secrets reads single-line secrets from files under a fixed root,
// the layout used by Docker and Kubernetes secret mounts.
package secrets

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultRoot is where container runtimes mount secrets.
const DefaultRoot = "/run/secrets"

// Resolver looks up secrets by name. A missing or unreadable file is not an
// error; callers get their default instead.
type Resolver struct {
	fs   afero.Fs
	root string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFs overrides the filesystem, primarily for tests.
func WithFs(fs afero.Fs) Option {
	return func(r *Resolver) {
		if fs != nil {
			r.fs = fs
		}
	}
}

// New creates a Resolver rooted at root. An empty root means DefaultRoot.
func New(root string, opts ...Option) *Resolver {
	if root == "" {
		root = DefaultRoot
	}
	r := &Resolver{
		fs:   afero.NewOsFs(),
		root: root,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the directory secrets are read from.
func (r *Resolver) Root() string {
	return r.root
}

// Lookup returns the first line of the secret file, trimmed, and whether the
// file could be read.
func (r *Resolver) Lookup(name string) (string, bool) {
	if name == "" || !filepath.IsLocal(name) {
		return "", false
	}

	f, err := r.fs.Open(filepath.Join(r.root, name))
	if err != nil {
		return "", false
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		// empty file: present but blank
		if fi, statErr := f.Stat(); statErr == nil && !fi.IsDir() {
			return "", true
		}
		return "", false
	}
	return strings.TrimSpace(line), true
}

// Resolve returns the secret or def when it cannot be read.
func (r *Resolver) Resolve(name, def string) string {
	if value, ok := r.Lookup(name); ok {
		return value
	}
	return def
}
