// Package pointers has small generic helpers for working with optional
// fields represented as pointers.
package pointers

// Present reports whether a pointer field is non-nil.
func Present[T any](p *T) bool { return p != nil }
