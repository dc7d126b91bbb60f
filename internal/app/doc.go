// Package app loads configuration and wires application dependencies for the
// CLI.
//
// Load reads the YAML config, expanding environment variables and 1Password
// references, and NewWire builds the concrete stores, clients, plugin registry
// and orchestrator from it.
package app
