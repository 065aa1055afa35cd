package scripts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Unit is one startup script: a YAML document naming the handler kind and
// the items it seeds.
//
//	kind: users
//	items:
//	  admin: {password: admin, is_superuser: true}
//
// Items may instead live in a separate initializer file:
//
//	kind: tags
//	initializer: /opt/peering-manager/initializers/tags.yml
//
// A missing initializer file means there are no items.
type Unit struct {
	Name  string
	Path  string
	Kind  string
	items *yaml.Node
}

type unitFile struct {
	Kind        string    `yaml:"kind"`
	Initializer string    `yaml:"initializer"`
	Items       yaml.Node `yaml:"items"`
}

// Empty reports whether the unit carries no items.
func (u *Unit) Empty() bool {
	n := u.items
	if n == nil || n.Kind == 0 {
		return true
	}
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		return len(n.Content) == 0
	case yaml.ScalarNode:
		return n.Tag == "!!null" || n.Value == ""
	}
	return false
}

// Decode decodes the unit's items into v.
func (u *Unit) Decode(v any) error {
	if u.Empty() {
		return nil
	}
	if err := u.items.Decode(v); err != nil {
		return fmt.Errorf("decode %s items: %w", u.Kind, err)
	}
	return nil
}

// Handler seeds the items of one unit kind.
type Handler interface {
	Run(ctx context.Context, unit *Unit) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, unit *Unit) error

func (f HandlerFunc) Run(ctx context.Context, unit *Unit) error {
	return f(ctx, unit)
}

func readUnit(fs afero.Fs, path string) (*Unit, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	var file unitFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse unit: %w", err)
	}
	if file.Kind == "" {
		return nil, fmt.Errorf("parse unit: missing kind")
	}

	unit := &Unit{
		Name:  filepath.Base(path),
		Path:  path,
		Kind:  file.Kind,
		items: &file.Items,
	}
	if file.Initializer != "" && unit.Empty() {
		items, err := readInitializer(fs, resolvePath(filepath.Dir(path), file.Initializer))
		if err != nil {
			return nil, err
		}
		unit.items = items
	}
	return unit, nil
}

func readInitializer(fs afero.Fs, path string) (*yaml.Node, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read initializer: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse initializer %s: %w", path, err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0], nil
	}
	return &doc, nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
