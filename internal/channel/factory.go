//go:build !debug

package channel

// New returns a channel buffering up to size values.
func New[T any](size int) Channel[T] {
	return newChan[T](size)
}
