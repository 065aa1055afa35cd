package envx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Coercion transforms a raw environment string into a typed value.
type Coercion func(string) (any, error)

// AsBool is true only for a case-insensitive "true". Anything else, including
// "1", "yes" and "true " with trailing space, is false. It never fails.
func AsBool(value string) (any, error) {
	return strings.EqualFold(value, "true"), nil
}

// AsInt parses a base-10 integer.
func AsInt(value string) (any, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("parse int: %w", err)
	}
	return n, nil
}

// AsFloat parses a float64.
func AsFloat(value string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return nil, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

// AsList splits on single spaces and drops empty tokens. Other whitespace is
// kept inside tokens.
func AsList(value string) (any, error) {
	out := []string{}
	for _, token := range strings.Split(value, " ") {
		if token != "" {
			out = append(out, token)
		}
	}
	return out, nil
}

// AsStruct decodes a JSON document. Objects become map[string]any and arrays
// []any.
func AsStruct(value string) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return out, nil
}

// AsDuration parses a Go duration string such as "10s".
func AsDuration(value string) (any, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("parse duration: %w", err)
	}
	return d, nil
}

var coercions = map[string]Coercion{
	"bool":     AsBool,
	"int":      AsInt,
	"float":    AsFloat,
	"list":     AsList,
	"struct":   AsStruct,
	"json":     AsStruct,
	"duration": AsDuration,
}

// CoercionByName returns the coercion registered under name. "" and "str"
// resolve to nil, meaning the raw string is kept.
func CoercionByName(name string) (Coercion, bool) {
	switch strings.ToLower(name) {
	case "", "str", "string":
		return nil, true
	}
	c, ok := coercions[strings.ToLower(name)]
	return c, ok
}
