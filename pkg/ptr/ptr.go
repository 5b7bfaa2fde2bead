// Package ptr provides helpers for optional values.
package ptr

// Deref returns the value pointed to, or the zero value for nil.
func Deref[T any](ptr *T) T {
	if ptr == nil {
		var zero T

		return zero
	}

	return *ptr
}

// DerefOr returns the value pointed to, or fallback for nil.
func DerefOr[T any](ptr *T, fallback T) T {
	if ptr == nil {
		return fallback
	}

	return *ptr
}

// Of returns a pointer to the given value.
func Of[T any](s T) *T { return &s }

// Or returns v unless it is the zero value.
func Or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}

	return v
}
