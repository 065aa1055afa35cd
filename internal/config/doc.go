// Package config loads the bootstrap configuration (directory locations,
// logging and HTTP server settings) from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults.
//
// Application settings themselves are resolved by package overlay; this
// package only decides where overlay looks.
package config
