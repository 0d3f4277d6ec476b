package gen

// Clamp limits v to the closed interval [lo, hi]
func Clamp[T Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
