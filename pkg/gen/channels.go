package gen

// DrainChannelIntoSlice performs non-blocking reads until the channel is empty
func DrainChannelIntoSlice[T any](ch chan T) []T {
	items := make([]T, 0, len(ch))
	for {
		select {
		case v := <-ch:
			items = append(items, v)
		default:
			return items
		}
	}
}

// TrySend sends v if the channel has room, and returns false if it would have blocked
func TrySend[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
