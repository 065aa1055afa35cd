package overlay

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/go-viper/mapstructure/v2"

	"github.com/eugenenazirov/peerconf/internal/envx"
)

// Chain is the priority-ordered list of loaded sources. Index 0 has the
// highest priority. It is built once by Loader.Load and read-only afterwards.
type Chain struct {
	sources []*Source
}

// NewChain builds a chain from sources listed in priority order, highest
// first.
func NewChain(sources ...*Source) *Chain {
	return &Chain{sources: slices.Clone(sources)}
}

func (c *Chain) pushFront(src *Source) {
	c.sources = slices.Insert(c.sources, 0, src)
}

// Len returns the number of sources.
func (c *Chain) Len() int {
	return len(c.sources)
}

// Sources returns the sources in priority order.
func (c *Chain) Sources() []*Source {
	return slices.Clone(c.sources)
}

// Paths returns the source paths in priority order.
func (c *Chain) Paths() []string {
	paths := make([]string, len(c.sources))
	for i, src := range c.sources {
		paths[i] = src.Path()
	}
	return paths
}

// Facade is the single lookup surface over a Chain. Consumers read settings
// through it and never through individual sources.
type Facade struct {
	chain *Chain
}

// NewFacade wraps chain.
func NewFacade(chain *Chain) *Facade {
	if chain == nil {
		chain = &Chain{}
	}
	return &Facade{chain: chain}
}

// Chain returns the underlying resolution chain.
func (f *Facade) Chain() *Chain {
	return f.chain
}

// Get returns the value from the highest-priority source defining name.
func (f *Facade) Get(name string) (any, error) {
	if v, ok := f.Lookup(name); ok {
		return v, nil
	}
	return nil, &AttributeNotFoundError{Name: name}
}

// Lookup is Get without the error.
func (f *Facade) Lookup(name string) (any, bool) {
	for _, src := range f.chain.sources {
		if v, ok := src.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Origin returns the path of the source that wins for name.
func (f *Facade) Origin(name string) (string, error) {
	for _, src := range f.chain.sources {
		if src.Has(name) {
			return src.Path(), nil
		}
	}
	return "", &AttributeNotFoundError{Name: name}
}

// Shadowed returns the paths of sources that define name but are outranked.
func (f *Facade) Shadowed(name string) []string {
	var out []string
	found := false
	for _, src := range f.chain.sources {
		if !src.Has(name) {
			continue
		}
		if found {
			out = append(out, src.Path())
		}
		found = true
	}
	return out
}

// Names returns the union of all defined names, sorted. Intended for
// introspection.
func (f *Facade) Names() []string {
	seen := make(map[string]struct{})
	for _, src := range f.chain.sources {
		for _, name := range src.Names() {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Decode copies the winning value of every setting into target, a pointer to
// a struct with mapstructure tags. Values are resolved per top-level name;
// nested maps are never merged across sources.
func (f *Facade) Decode(target any) error {
	resolved := make(map[string]any)
	for _, name := range f.Names() {
		v, _ := f.Lookup(name)
		resolved[name] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToListHook,
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("build settings decoder: %w", err)
	}
	if err := dec.Decode(resolved); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// stringToListHook splits plain strings bound to slice fields the same way
// `as: list` directives do.
func stringToListHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	return envx.AsList(reflect.ValueOf(data).String())
}
