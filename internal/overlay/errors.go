package overlay

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConfiguration is matched by NoConfigurationError.
	ErrNoConfiguration = errors.New("no configuration files found")
	// ErrAttributeNotFound is matched by AttributeNotFoundError.
	ErrAttributeNotFound = errors.New("setting is not defined by any configuration source")
)

// NoConfigurationError is returned when a directory yields no usable source.
type NoConfigurationError struct {
	Dir string
}

func (e *NoConfigurationError) Error() string {
	return fmt.Sprintf("no configuration files found in %q", e.Dir)
}

func (e *NoConfigurationError) Is(target error) bool {
	return target == ErrNoConfiguration
}

// AttributeNotFoundError is returned when no source in the chain defines a
// setting.
type AttributeNotFoundError struct {
	Name string
}

func (e *AttributeNotFoundError) Error() string {
	return fmt.Sprintf("setting %q is not defined by any configuration source", e.Name)
}

func (e *AttributeNotFoundError) Is(target error) bool {
	return target == ErrAttributeNotFound
}

// SourceError wraps a failure to read, parse or evaluate one configuration
// file. It aborts the whole load.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("load config %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
