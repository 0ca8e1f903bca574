// Package plugin holds the plugin catalogue: definitions loaded from the
// declarative manifest, the static entry-point registry, stored parameter
// values and the precedence rules that resolve one value per parameter for
// a given job.
package plugin
