package overlay

import (
	"path/filepath"
	"slices"
	"strings"
)

// Source is the namespace produced by loading one configuration file. It is
// never modified after loading; Lookup hands out copies of nested values.
type Source struct {
	path   string
	values map[string]any
}

func newSource(path string, values map[string]any) *Source {
	if values == nil {
		values = map[string]any{}
	}
	return &Source{path: path, values: values}
}

// Path identifies the source.
func (s *Source) Path() string {
	return s.path
}

// Name is the file name without its suffix.
func (s *Source) Name() string {
	base := filepath.Base(s.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Lookup returns the value bound to name.
func (s *Source) Lookup(name string) (any, bool) {
	v, ok := s.values[name]
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// Has reports whether the source defines name.
func (s *Source) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Names returns the defined names in sorted order.
func (s *Source) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = clone(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = clone(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
