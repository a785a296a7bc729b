// Package version carries the build version string for the worker substrate.
package version

// V is the current version of the worker substrate. Overridden at build time
// with -ldflags "-X worker.orly.dev/pkg/version.V=...".
var V = "v0.1.0"
