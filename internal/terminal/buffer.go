package terminal

import "sync"

// Buffer is a bounded FIFO of display output. When full, the oldest
// bytes are overwritten.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	size int
	head int
	n    int
}

// NewBuffer creates a buffer holding at most size bytes.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{data: make([]byte, size), size: size}
}

// Write appends p, dropping the oldest bytes on overflow.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := len(p)
	if len(p) >= b.size {
		p = p[len(p)-b.size:]
		copy(b.data, p)
		b.head, b.n = 0, b.size
		return written, nil
	}
	for _, c := range p {
		tail := (b.head + b.n) % b.size
		b.data[tail] = c
		if b.n == b.size {
			b.head = (b.head + 1) % b.size
		} else {
			b.n++
		}
	}
	return written, nil
}

// Len reports the buffered byte count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// ReadAll returns and clears the buffered bytes.
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.n)
	first := copy(out, b.data[b.head:min(b.head+b.n, b.size)])
	copy(out[first:], b.data[:b.n-first])
	b.head, b.n = 0, 0
	return out
}
