// Package config loads the daemon configuration from a JSON file and
// applies defaults and validation before any subsystem starts.
package config
