package gen

// Drain returns whatever is buffered in ch, without blocking
func Drain[T any](ch <-chan T) []T {
	items := []T{}
	for {
		select {
		case v := <-ch:
			items = append(items, v)
		default:
			return items
		}
	}
}
