// Package ringbuf implements the bounded output queue that sits between
// a session engine and the display consumer, plus the hysteresis
// controller that turns its fill level into pause/resume signals.
package ringbuf

import "sync"

// DefaultCapacity is the default soft limit of a Buffer (256 KiB).
const DefaultCapacity = 256 * 1024

const (
	highWatermarkPct = 80
	lowWatermarkPct  = 20
)

// Buffer is a FIFO byte queue with a soft capacity and 80%/20%
// watermarks.  Push never drops data: a push that overflows the
// capacity is still accepted and reported as such.  All methods are
// safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	head int // index of the first unread byte in data

	capacity int
	high     int
	low      int
}

// New returns a Buffer with the given capacity; non-positive values
// select DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	high := capacity * highWatermarkPct / 100
	low := capacity * lowWatermarkPct / 100
	// Keep low < high < capacity for tiny capacities.
	if high >= capacity {
		high = capacity - 1
	}
	if low >= high {
		low = high - 1
	}
	return &Buffer{capacity: capacity, high: high, low: low}
}

// Push appends p.  It returns false when the buffer now holds more than
// its capacity; the data is kept either way.
func (b *Buffer) Push(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	fits := b.lenLocked()+len(p) <= b.capacity
	if b.head > 0 && b.head >= len(b.data)/2 {
		// Compact before growing so the backing array stays bounded by
		// the peak queued size rather than the lifetime throughput.
		n := copy(b.data, b.data[b.head:])
		b.data = b.data[:n]
		b.head = 0
	}
	b.data = append(b.data, p...)
	return fits
}

// PopChunk removes and returns up to max bytes from the front, or nil
// when the buffer is empty.
func (b *Buffer) PopChunk(max int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.lenLocked()
	if n == 0 || max <= 0 {
		return nil
	}
	if max < n {
		n = max
	}
	out := make([]byte, n)
	copy(out, b.data[b.head:b.head+n])
	b.head += n
	if b.head == len(b.data) {
		b.data = b.data[:0]
		b.head = 0
	}
	return out
}

// DrainAll discards all queued bytes and returns how many there were.
func (b *Buffer) DrainAll() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.lenLocked()
	b.data = b.data[:0]
	b.head = 0
	return n
}

// ShouldPause reports whether the fill level is at or above the high
// watermark.
func (b *Buffer) ShouldPause() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked() >= b.high
}

// CanResume reports whether the fill level is at or below the low
// watermark.
func (b *Buffer) CanResume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked() <= b.low
}

// Len returns the number of queued bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

// Cap returns the soft capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Watermarks returns the low and high watermarks in bytes.
func (b *Buffer) Watermarks() (low, high int) { return b.low, b.high }

// FillPercent returns the fill level as a percentage of capacity.  It
// exceeds 100 when the buffer has overflowed.
func (b *Buffer) FillPercent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.lenLocked()) * 100 / float64(b.capacity)
}

func (b *Buffer) lenLocked() int { return len(b.data) - b.head }
