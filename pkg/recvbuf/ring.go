// Package recvbuf implements the recovery buffer: a bounded, contiguous
// ring of the most recently transmitted encoded messages, keyed by
// sequence number, giving O(1) lookup for the hot tail of a stream.
package recvbuf

// Ring holds the most recent Capacity (seq, encoded) entries for a stream.
// Entries always form a contiguous range [Low, High]; inserting past
// capacity evicts the oldest entry. A Ring is not safe for concurrent use
// by multiple writers — the publisher is the sole writer — but Lookup and
// LookupRange may be called concurrently with each other under an external
// reader lock (see Buffer).
type Ring struct {
	capacity int
	entries  []([]byte) // entries[i] holds seq = low+i, always len == high-low+1 once non-empty
	low      uint64
	high     uint64
	empty    bool
}

// NewRing constructs a Ring with the given capacity. Capacity must be >= 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		capacity: capacity,
		entries:  make([]([]byte), 0, capacity),
		empty:    true,
	}
}

// Insert appends the entry for seq, which must equal the current high+1 (or be the
// first insert ever). If the buffer is at capacity, the oldest entry is
// dropped first, advancing Low.
func (r *Ring) Insert(seq uint64, encoded []byte) {
	if r.empty {
		r.low = seq
		r.high = seq
		r.empty = false
		r.entries = append(r.entries, encoded)
		return
	}
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
		r.low++
	}
	r.entries = append(r.entries, encoded)
	r.high = seq
}

// Bounds returns the current contiguous range held in the buffer. ok is
// false if the buffer is empty.
func (r *Ring) Bounds() (low, high uint64, ok bool) {
	if r.empty {
		return 0, 0, false
	}
	return r.low, r.high, true
}

// Lookup returns the encoded message for seq and true, or nil and false if
// seq is outside the buffer's current range.
func (r *Ring) Lookup(seq uint64) ([]byte, bool) {
	if r.empty || seq < r.low || seq > r.high {
		return nil, false
	}
	return r.entries[seq-r.low], true
}

// LookupRange returns the prefix of [seq, seq+count) that lies wholly
// inside the buffer. If seq itself is below Low or above High, it returns
// no entries — the caller (the recovery server) is expected to consult the
// log for the portion outside the buffer.
func (r *Ring) LookupRange(seq uint64, count uint16) [][]byte {
	if r.empty || count == 0 || seq > r.high || seq < r.low {
		return nil
	}
	end := seq + uint64(count)
	if end > r.high+1 {
		end = r.high + 1
	}
	out := make([][]byte, 0, end-seq)
	for s := seq; s < end; s++ {
		out = append(out, r.entries[s-r.low])
	}
	return out
}
