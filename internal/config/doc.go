// Package config loads the runtime configuration from a JSON or YAML file,
// overlays OPENMCP_* environment variables and fills in defaults so that a
// bare checkout can talk to Sui testnet.
package config
