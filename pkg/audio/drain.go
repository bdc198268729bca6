package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it on a [CaptureStream] frame channel after Close so the capture
// callback never blocks on a full buffer.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
