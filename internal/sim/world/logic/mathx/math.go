package mathx

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// MinInt returns the smallest of its arguments.
func MinInt(x int, xs ...int) int {
	for _, v := range xs {
		if v < x {
			x = v
		}
	}
	return x
}
