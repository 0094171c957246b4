package zarr

// Strides computes the C-order strides for a given shape.
func Strides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// Size returns the number of elements of an array with the given shape.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// IterateGrid calls fn for every index in the box [0, shape) in C order (the
// last dimension varies fastest). The slice passed to fn is reused between
// calls. A zero-length shape yields exactly one call with an empty index.
func IterateGrid(shape []int, fn func(indices []int) error) error {
	return IterateSubGrid(make([]int, len(shape)), shape, fn)
}

// IterateSubGrid iterates from start (inclusive) to end (exclusive) in each dimension.
func IterateSubGrid(start, end []int, fn func(indices []int) error) error {
	if len(start) == 0 {
		return fn([]int{})
	}
	for i := range start {
		if end[i] <= start[i] {
			return nil
		}
	}
	indices := make([]int, len(start))
	copy(indices, start)

	for {
		if err := fn(indices); err != nil {
			return err
		}

		// Increment
		i := len(start) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < end[i] {
				break
			}
			indices[i] = start[i] // Reset to start, not 0
		}
		if i < 0 {
			break
		}
	}
	return nil
}
