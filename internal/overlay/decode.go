package overlay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

const (
	envTag    = "!env"
	secretTag = "!secret"
	mergeTag  = "!!merge"

	envKey    = "$env"
	secretKey = "$secret"
)

type decodeFunc func(e *evaluator, data []byte) (map[string]any, error)

var decoders = map[string]decodeFunc{
	".yaml":   decodeYAML,
	".yml":    decodeYAML,
	".json":   decodeHuJSON,
	".jsonc":  decodeHuJSON,
	".hujson": decodeHuJSON,
}

func decoderFor(suffix string) (decodeFunc, bool) {
	fn, ok := decoders[strings.ToLower(suffix)]
	return fn, ok
}

func decodeYAML(e *evaluator, data []byte) (map[string]any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return map[string]any{}, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return map[string]any{}, nil
	}
	if root.Kind != yaml.MappingNode || isLocalTag(root.Tag) {
		return nil, fmt.Errorf("line %d: top level must be a mapping of setting names", root.Line)
	}
	v, err := e.yamlValue(root)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func (e *evaluator) yamlValue(n *yaml.Node) (any, error) {
	if n.Kind == yaml.AliasNode {
		return e.yamlValue(n.Alias)
	}

	switch n.Tag {
	case envTag:
		return e.yamlEnv(n)
	case secretTag:
		return e.yamlSecret(n)
	}
	if isLocalTag(n.Tag) {
		return nil, fmt.Errorf("line %d: unsupported tag %s", n.Line, n.Tag)
	}

	switch n.Kind {
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Tag == mergeTag {
				if err := e.yamlMerge(out, n.Content[i+1]); err != nil {
					return nil, err
				}
			}
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Tag == mergeTag {
				continue
			}
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
			}
			v, err := e.yamlValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			if _, skip := v.(omitted); skip {
				continue
			}
			out[key.Value] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := e.yamlValue(item)
			if err != nil {
				return nil, err
			}
			if _, skip := v.(omitted); skip {
				continue
			}
			out = append(out, v)
		}
		return out, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
}

// yamlMerge applies a `<<` merge key: one mapping or a sequence of mappings,
// where earlier mappings win. Keys written next to the merge key are applied
// afterwards and override merged ones.
func (e *evaluator) yamlMerge(out map[string]any, n *yaml.Node) error {
	sources := []*yaml.Node{n}
	if n.Kind == yaml.SequenceNode {
		sources = n.Content
	}
	for i := len(sources) - 1; i >= 0; i-- {
		v, err := e.yamlValue(sources[i])
		if err != nil {
			return err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("line %d: merge key expects a mapping or a sequence of mappings", sources[i].Line)
		}
		for k, item := range m {
			out[k] = item
		}
	}
	return nil
}

func (e *evaluator) yamlEnv(n *yaml.Node) (any, error) {
	if n.Kind == yaml.ScalarNode {
		return e.evalEnv(n.Value, nil, "", false)
	}
	fields, err := directiveFields(n, "name", "default", "as", "optional")
	if err != nil {
		return nil, err
	}
	def, err := e.yamlDefault(fields["default"])
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	var optional bool
	if n := fields["optional"]; n != nil {
		if err := n.Decode(&optional); err != nil {
			return nil, fmt.Errorf("line %d: optional: %w", n.Line, err)
		}
	}
	v, err := e.evalEnv(scalarValue(fields["name"]), def, scalarValue(fields["as"]), optional)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	return v, nil
}

func (e *evaluator) yamlSecret(n *yaml.Node) (any, error) {
	if n.Kind == yaml.ScalarNode {
		return e.evalSecret(n.Value, nil)
	}
	fields, err := directiveFields(n, "name", "default")
	if err != nil {
		return nil, err
	}
	def, err := e.yamlDefault(fields["default"])
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	v, err := e.evalSecret(scalarValue(fields["name"]), def)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	return v, nil
}

// yamlDefault keeps the literal text of plain scalars so `default: 6379`
// reaches the coercion as "6379".
func (e *evaluator) yamlDefault(n *yaml.Node) (*string, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Tag == envTag || n.Tag == secretTag {
		v, err := e.yamlValue(n)
		if err != nil {
			return nil, err
		}
		return defaultString(v)
	}
	if n.Kind != yaml.ScalarNode {
		return nil, errors.New("default must be a scalar or a directive")
	}
	if n.Tag == "!!null" {
		return nil, nil
	}
	value := n.Value
	return &value, nil
}

func directiveFields(n *yaml.Node, allowed ...string) (map[string]*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: %s expects a scalar or a mapping", n.Line, n.Tag)
	}
	fields := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if !slices.Contains(allowed, key) {
			return nil, fmt.Errorf("line %d: unknown %s field %q", n.Content[i].Line, n.Tag, key)
		}
		fields[key] = n.Content[i+1]
	}
	return fields, nil
}

func scalarValue(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

func isLocalTag(tag string) bool {
	return strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!") && tag != "!"
}

func decodeHuJSON(e *evaluator, data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(std))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok || isJSONDirective(obj) {
		return nil, errors.New("top level must be an object of setting names")
	}
	v, err := e.jsonValue(obj)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func isJSONDirective(obj map[string]any) bool {
	_, env := obj[envKey]
	_, secret := obj[secretKey]
	return env || secret
}

func (e *evaluator) jsonValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t[envKey]; ok {
			return e.jsonEnv(t)
		}
		if _, ok := t[secretKey]; ok {
			return e.jsonSecret(t)
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			resolved, err := e.jsonValue(item)
			if err != nil {
				return nil, err
			}
			if _, skip := resolved.(omitted); skip {
				continue
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			resolved, err := e.jsonValue(item)
			if err != nil {
				return nil, err
			}
			if _, skip := resolved.(omitted); skip {
				continue
			}
			out = append(out, resolved)
		}
		return out, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", t, err)
		}
		return f, nil
	default:
		return t, nil
	}
}

func (e *evaluator) jsonEnv(obj map[string]any) (any, error) {
	if err := checkKeys(obj, envKey, "default", "as", "optional"); err != nil {
		return nil, err
	}
	name, _ := obj[envKey].(string)
	as, _ := obj["as"].(string)
	optional, _ := obj["optional"].(bool)
	def, err := e.jsonDefault(obj["default"])
	if err != nil {
		return nil, fmt.Errorf("env %s: %w", name, err)
	}
	return e.evalEnv(name, def, as, optional)
}

func (e *evaluator) jsonSecret(obj map[string]any) (any, error) {
	if err := checkKeys(obj, secretKey, "default"); err != nil {
		return nil, err
	}
	name, _ := obj[secretKey].(string)
	def, err := e.jsonDefault(obj["default"])
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", name, err)
	}
	return e.evalSecret(name, def)
}

func (e *evaluator) jsonDefault(v any) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &t, nil
	case json.Number:
		s := t.String()
		return &s, nil
	case bool:
		s := strconv.FormatBool(t)
		return &s, nil
	case map[string]any:
		if !isJSONDirective(t) {
			return nil, errors.New("default must be a scalar or a directive")
		}
		resolved, err := e.jsonValue(t)
		if err != nil {
			return nil, err
		}
		return defaultString(resolved)
	default:
		return nil, errors.New("default must be a scalar or a directive")
	}
}

func checkKeys(obj map[string]any, allowed ...string) error {
	for key := range obj {
		if !slices.Contains(allowed, key) {
			return fmt.Errorf("unknown directive field %q", key)
		}
	}
	return nil
}
