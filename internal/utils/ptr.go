package utils

func Ptr[T any](v T) *T {
	return &v
}

func OrZero[T comparable](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

// PtrEquals reports whether p is set and holds v.
func PtrEquals[T comparable](p *T, v T) bool {
	return p != nil && *p == v
}
