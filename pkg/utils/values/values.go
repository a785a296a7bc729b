// Package values has small generic helpers for constructing pointers to
// literal values, for optional struct fields like filter.F.Limit.
package values

// ToUintPointer returns a pointer to v.
func ToUintPointer(v uint) *uint { return &v }

// ToPointer returns a pointer to v, of any type.
func ToPointer[T any](v T) *T { return &v }
