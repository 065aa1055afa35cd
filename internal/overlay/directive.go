package overlay

import (
	"errors"
	"fmt"

	"github.com/eugenenazirov/peerconf/internal/envx"
	"github.com/eugenenazirov/peerconf/internal/secrets"
)

// evaluator resolves !env and !secret directives while a source is loaded.
type evaluator struct {
	env     *envx.Accessor
	secrets *secrets.Resolver
}

// omitted is the value of an optional directive whose variable is unset. The
// enclosing mapping or sequence drops it, so the setting stays undefined.
type omitted struct{}

func (e *evaluator) evalEnv(name string, def *string, as string, optional bool) (any, error) {
	if name == "" {
		return nil, errors.New("env directive requires a name")
	}
	coerce, ok := envx.CoercionByName(as)
	if !ok {
		return nil, fmt.Errorf("env %s: unknown coercion %q", name, as)
	}
	if optional {
		if _, set := e.env.Lookup(name); !set {
			return omitted{}, nil
		}
	}
	return e.env.Get(envx.Binding{Name: name, Default: def, Coerce: coerce})
}

func (e *evaluator) evalSecret(name string, def *string) (any, error) {
	if name == "" {
		return nil, errors.New("secret directive requires a name")
	}
	if value, ok := e.secrets.Lookup(name); ok {
		return value, nil
	}
	if def == nil {
		return nil, nil
	}
	return *def, nil
}

// defaultString narrows the result of a nested directive used as a default.
func defaultString(v any) (*string, error) {
	switch t := v.(type) {
	case nil, omitted:
		return nil, nil
	case string:
		return &t, nil
	default:
		return nil, fmt.Errorf("default must resolve to a string, got %T", v)
	}
}
