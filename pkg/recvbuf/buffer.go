package recvbuf

import "sync"

// Buffer wraps a Ring with the single-writer/multi-reader discipline
// The recovery log and recovery buffer are written
// only by the publisher and read by the recovery server, and readers must
// observe a consistent (low, high) snapshot.
type Buffer struct {
	mu   sync.RWMutex
	ring *Ring
}

// NewBuffer constructs a Buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{ring: NewRing(capacity)}
}

// Insert is called by the publisher, the sole writer, once per transmitted
// message.
func (b *Buffer) Insert(seq uint64, encoded []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.Insert(seq, encoded)
}

// Bounds returns a consistent snapshot of the buffer's current range.
func (b *Buffer) Bounds() (low, high uint64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.Bounds()
}

// Lookup is called by the recovery server.
func (b *Buffer) Lookup(seq uint64) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.Lookup(seq)
}

// LookupRange is called by the recovery server.
func (b *Buffer) LookupRange(seq uint64, count uint16) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.LookupRange(seq, count)
}
