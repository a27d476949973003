package audio

// Drain reads from ch until it is closed and discards every value. Callers
// that abandon a synthesis stream early use it so the producing goroutine can
// exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
