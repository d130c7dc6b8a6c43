// Package reclog implements the recovery log: an append-only file of
// length-prefixed encoded messages, one per sequence number, with a
// positional index for random-access reads. The physical layout mirrors
// wire.EncodeMessage's framing exactly — a log record IS an encoded
// message — so a reply built from the log needs no re-encoding.
package reclog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"moldudp64/pkg/wire"
)

// ErrNotFound is returned by Read/ReadRange when the requested sequence
// number has never been written.
var ErrNotFound = errors.New("reclog: sequence not found")

// Log is an append-only, randomly-readable store of encoded messages. Seq N
// is the N-th record written, starting at 1. A Log is safe for concurrent
// use by one writer and many readers.
type Log struct {
	mu sync.RWMutex

	f    *os.File
	path string

	// offsets[i] is the file offset of seq i+1. last is len(offsets).
	offsets []int64
	last    uint64
	endOff  int64
}

// Open opens the log file at path, creating it if it does not exist. If the
// file exists, it is scanned once to rebuild the seq->offset index and
// determine LastWritten; a publisher resumes sequencing at LastWritten()+1.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reclog: open %s: %w", path, err)
	}
	l := &Log{f: f, path: path}
	if err := l.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) rebuildIndex() error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("reclog: seek %s: %w", l.path, err)
	}
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("reclog: stat %s: %w", l.path, err)
	}
	size := info.Size()
	var offsets []int64
	var off int64
	var lenBuf [wire.LengthPrefixLen]byte
	for {
		if _, err := io.ReadFull(l.f, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				// Trailing partial record from a crash mid-write; stop
				// indexing here, the file is truncated to this point
				// below so future reads never see it.
				break
			}
			return fmt.Errorf("reclog: scan %s: %w", l.path, err)
		}
		payloadLen := int64(binary.BigEndian.Uint16(lenBuf[:]))
		recStart := off
		recLen := int64(wire.LengthPrefixLen) + payloadLen
		if recStart+recLen > size {
			// Length prefix written but payload cut short: also a
			// trailing partial record, dropped the same way.
			break
		}
		if _, err := l.f.Seek(off+int64(wire.LengthPrefixLen)+payloadLen, io.SeekStart); err != nil {
			return fmt.Errorf("reclog: scan %s: %w", l.path, err)
		}
		offsets = append(offsets, recStart)
		off += recLen
	}
	l.offsets = offsets
	l.last = uint64(len(offsets))
	l.endOff = off
	if err := l.f.Truncate(off); err != nil {
		return fmt.Errorf("reclog: truncate %s: %w", l.path, err)
	}
	if _, err := l.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("reclog: seek %s: %w", l.path, err)
	}
	return nil
}

// LastWritten returns the highest sequence number durably appended.
func (l *Log) LastWritten() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// Append writes encoded (an EncodeMessage result) at the end of the file
// and advances LastWritten by one. It returns once the write has been
// accepted by the OS and fsynced, satisfying spec invariant 2 (log write
// completes before the corresponding multicast send).
func (l *Log) Append(encoded []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.f.WriteAt(encoded, l.endOff)
	if err != nil {
		return fmt.Errorf("reclog: append %s: %w", l.path, err)
	}
	if n != len(encoded) {
		return fmt.Errorf("reclog: short write to %s: wrote %d of %d bytes", l.path, n, len(encoded))
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("reclog: fsync %s: %w", l.path, err)
	}
	l.offsets = append(l.offsets, l.endOff)
	l.endOff += int64(len(encoded))
	l.last++
	return nil
}

// Read returns the encoded message at seq, failing with ErrNotFound if seq
// is outside [1, LastWritten()].
func (l *Log) Read(seq uint64) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.readLocked(seq)
}

func (l *Log) readLocked(seq uint64) ([]byte, error) {
	if seq < 1 || seq > l.last {
		return nil, fmt.Errorf("%w: seq=%d last=%d", ErrNotFound, seq, l.last)
	}
	off := l.offsets[seq-1]
	var lenBuf [wire.LengthPrefixLen]byte
	if _, err := l.f.ReadAt(lenBuf[:], off); err != nil {
		return nil, fmt.Errorf("reclog: read %s at %d: %w", l.path, off, err)
	}
	payloadLen := int(binary.BigEndian.Uint16(lenBuf[:]))
	rec := make([]byte, wire.LengthPrefixLen+payloadLen)
	if _, err := l.f.ReadAt(rec, off); err != nil {
		return nil, fmt.Errorf("reclog: read %s at %d: %w", l.path, off, err)
	}
	return rec, nil
}

// ReadRange returns up to count consecutive encoded messages starting at
// seq, truncated at LastWritten. It returns ErrNotFound only if seq itself
// is out of range; a partially-out-of-range request returns the in-range
// prefix.
func (l *Log) ReadRange(seq uint64, count uint16) ([][]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 1 || seq > l.last {
		return nil, fmt.Errorf("%w: seq=%d last=%d", ErrNotFound, seq, l.last)
	}
	end := seq + uint64(count)
	if end > l.last+1 {
		end = l.last + 1
	}
	out := make([][]byte, 0, end-seq)
	for s := seq; s < end; s++ {
		rec, err := l.readLocked(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Size returns the current length of the log file in bytes.
func (l *Log) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endOff
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
