package envx

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment is the source of variable values for an Accessor.
type Environment interface {
	LookupEnv(name string) (string, bool)
}

type osEnvironment struct{}

func (osEnvironment) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// OS returns an Environment backed by the live process environment. Every
// lookup reads the current value.
func OS() Environment {
	return osEnvironment{}
}

// Map is a fixed snapshot of variables.
type Map map[string]string

// LookupEnv implements Environment.
func (m Map) LookupEnv(name string) (string, bool) {
	value, ok := m[name]
	return value, ok
}

// FromEnviron builds a snapshot from KEY=VALUE pairs as returned by os.Environ.
// Entries without '=' are ignored.
func FromEnviron(environ []string) Map {
	m := make(Map, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		m[key] = value
	}
	return m
}

// Binding names a variable together with its default and coercion.
type Binding struct {
	Name    string
	Default *string
	Coerce  Coercion
}

// Var starts a Binding without default or coercion.
func Var(name string) Binding {
	return Binding{Name: name}
}

// Or sets the default used when the variable is unset.
func (b Binding) Or(def string) Binding {
	b.Default = &def
	return b
}

// As sets the coercion applied to the resolved string.
func (b Binding) As(c Coercion) Binding {
	b.Coerce = c
	return b
}

// Accessor reads typed values from an Environment.
type Accessor struct {
	env Environment
}

// New creates an Accessor over env. A nil env reads the process environment.
func New(env Environment) *Accessor {
	if env == nil {
		env = OS()
	}
	return &Accessor{env: env}
}

// Lookup returns the raw value of name and whether it is set.
func (a *Accessor) Lookup(name string) (string, bool) {
	return a.env.LookupEnv(name)
}

// Get evaluates b. The default is applied before coercion so string defaults
// take the same path as environment values. When the variable is unset and no
// default exists the result is nil and the coercion is not invoked; a variable
// set to "" is still coerced.
func (a *Accessor) Get(b Binding) (any, error) {
	value, ok := a.env.LookupEnv(b.Name)
	if !ok {
		if b.Default == nil {
			return nil, nil
		}
		value = *b.Default
	}
	if b.Coerce == nil {
		return value, nil
	}
	out, err := b.Coerce(value)
	if err != nil {
		return nil, &ParseError{Name: b.Name, Value: value, Err: err}
	}
	return out, nil
}

// String returns the value of name or def when unset.
func (a *Accessor) String(name, def string) string {
	if value, ok := a.env.LookupEnv(name); ok {
		return value
	}
	return def
}

// Bool returns name coerced with AsBool.
func (a *Accessor) Bool(name, def string) bool {
	v, _ := a.Get(Var(name).Or(def).As(AsBool))
	b, _ := v.(bool)
	return b
}

// Int returns name coerced with AsInt.
func (a *Accessor) Int(name, def string) (int, error) {
	v, err := a.Get(Var(name).Or(def).As(AsInt))
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Float returns name parsed as a float64.
func (a *Accessor) Float(name, def string) (float64, error) {
	v, err := a.Get(Var(name).Or(def).As(AsFloat))
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// List returns name coerced with AsList.
func (a *Accessor) List(name, def string) []string {
	v, _ := a.Get(Var(name).Or(def).As(AsList))
	list, _ := v.([]string)
	return list
}

// Struct returns name coerced with AsStruct.
func (a *Accessor) Struct(name, def string) (any, error) {
	return a.Get(Var(name).Or(def).As(AsStruct))
}

// Duration returns name parsed with time.ParseDuration.
func (a *Accessor) Duration(name, def string) (time.Duration, error) {
	v, err := a.Get(Var(name).Or(def).As(AsDuration))
	if err != nil {
		return 0, err
	}
	return v.(time.Duration), nil
}

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("malformed environment value")

// ParseError reports a variable whose value could not be coerced.
type ParseError struct {
	Name  string
	Value string
	Err   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("env %s=%q: %v", e.Name, e.Value, e.Err)
}

// Unwrap returns the coercion error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
