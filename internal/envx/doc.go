// Package envx reads environment variables with defaults and typed coercion.
// Values are looked up through an explicit Environment so callers can pass a
// fixed snapshot instead of the process environment.
package envx
