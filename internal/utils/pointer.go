package utils

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Get dereferences p, returning the zero value when p is nil.
func Get[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
