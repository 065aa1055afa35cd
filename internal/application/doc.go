// Package application provides application initialization and dependency wiring.
// It resolves the configuration chain, decodes the typed settings, opens the
// seed store, runs the startup scripts and builds the introspection server,
// keeping the main package focused on CLI parsing and orchestration.
package application
