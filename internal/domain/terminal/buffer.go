package terminal

import "sync"

// Buffer is a thread-safe circular buffer that keeps the most recent bytes
// written to it.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	head int // index of the oldest byte
	n    int // bytes held
}

// NewBuffer creates a circular buffer holding up to size bytes
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{data: make([]byte, size)}
}

// Write appends p, overwriting the oldest bytes once the buffer is full
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := len(p)
	size := len(b.data)

	// Only the tail of an oversized write survives
	if len(p) >= size {
		copy(b.data, p[len(p)-size:])
		b.head = 0
		b.n = size
		return written, nil
	}

	tail := (b.head + b.n) % size
	first := copy(b.data[tail:], p)
	copy(b.data, p[first:])

	b.n += len(p)
	if b.n > size {
		b.head = (b.head + b.n - size) % size
		b.n = size
	}
	return written, nil
}

// ReadAll drains and returns the buffered bytes in write order
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.n)
	first := copy(out, b.data[b.head:min(b.head+b.n, len(b.data))])
	copy(out[first:], b.data[:b.n-first])

	b.head = 0
	b.n = 0
	return out
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}
