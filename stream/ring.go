package stream

import (
	"sync"
)

// RingBuffer keeps the last size values added.
// https://medium.com/@nathanbcrocker/a-practical-guide-to-implementing-a-generic-ring-buffer-in-go-866d27ec1a05
type RingBuffer[T any] struct {
	mu     sync.Mutex
	buffer []T
	write  int
	count  int
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{buffer: make([]T, size)}
}

// Add inserts a value, overwriting the oldest if full.
func (rb *RingBuffer[T]) Add(value T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buffer[rb.write] = value
	rb.write = (rb.write + 1) % len(rb.buffer)
	if rb.count < len(rb.buffer) {
		rb.count++
	}
}

// Get returns the contents oldest first.
func (rb *RingBuffer[T]) Get() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	size := len(rb.buffer)
	out := make([]T, 0, rb.count)
	for i := 0; i < rb.count; i++ {
		out = append(out, rb.buffer[(rb.write+size-rb.count+i)%size])
	}
	return out
}

func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}
