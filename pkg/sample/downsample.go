package sample

// Decimate reduces points to at most maxPoints by picking evenly spaced
// elements, for display. dst is reused when it has enough capacity.
// If len(points) <= maxPoints, all points are copied.
func Decimate[T any](dst []T, points []T, maxPoints int) []T {
	if maxPoints <= 0 {
		return dst[:0]
	}

	if len(points) <= maxPoints {
		if cap(dst) >= len(points) {
			dst = dst[:len(points)]
			copy(dst, points)
			return dst
		}
		result := make([]T, len(points))
		copy(result, points)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(points)) / float64(maxPoints)
	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(points) {
			dst = append(dst, points[idx])
		}
	}

	return dst
}
