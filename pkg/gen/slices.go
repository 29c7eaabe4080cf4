package gen

// DeleteFromSliceUnordered removes element i by swapping the last element into its place
func DeleteFromSliceUnordered[T any](s []T, i int) []T {
	last := len(s) - 1
	s[i] = s[last]
	var zero T
	s[last] = zero
	return s[:last]
}
