package reclog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"moldudp64/pkg/wire"
)

func mustEncode(t *testing.T, s string) []byte {
	enc, err := wire.EncodeMessage([]byte(s), 0)
	if err != nil {
		t.Fatalf("EncodeMessage(%q) failed: %v", s, err)
	}
	return enc
}

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	if l.LastWritten() != 0 {
		t.Fatalf("LastWritten on empty log = %d, want 0", l.LastWritten())
	}

	msgs := []string{"message01", "message02", "message03"}
	for _, m := range msgs {
		if err := l.Append(mustEncode(t, m)); err != nil {
			t.Fatalf("Append(%q) failed: %v", m, err)
		}
	}
	if l.LastWritten() != uint64(len(msgs)) {
		t.Fatalf("LastWritten = %d, want %d", l.LastWritten(), len(msgs))
	}

	for i, m := range msgs {
		rec, err := l.Read(uint64(i + 1))
		if err != nil {
			t.Fatalf("Read(%d) failed: %v", i+1, err)
		}
		if !bytes.Equal(rec, mustEncode(t, m)) {
			t.Fatalf("Read(%d) = %q, want %q", i+1, rec, mustEncode(t, m))
		}
	}

	if _, err := l.Read(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read(0) err = %v, want ErrNotFound", err)
	}
	if _, err := l.Read(uint64(len(msgs) + 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read(out of range) err = %v, want ErrNotFound", err)
	}
}

func TestReadRangeTruncatesAtLastWritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	for _, m := range []string{"a", "b", "c"} {
		if err := l.Append(mustEncode(t, m)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recs, err := l.ReadRange(2, 10)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("ReadRange returned %d records, want 2", len(recs))
	}
	if !bytes.Equal(recs[0], mustEncode(t, "b")) || !bytes.Equal(recs[1], mustEncode(t, "c")) {
		t.Fatalf("ReadRange returned wrong records: %q", recs)
	}
}

func TestOpenResumesIndexAfterRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, m := range []string{"message01", "message02"} {
		if err := l.Append(mustEncode(t, m)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open failed: %v", err)
	}
	defer l2.Close()
	if l2.LastWritten() != 2 {
		t.Fatalf("LastWritten after reopen = %d, want 2", l2.LastWritten())
	}
	if err := l2.Append(mustEncode(t, "message03")); err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	rec, err := l2.Read(3)
	if err != nil {
		t.Fatalf("Read(3) failed: %v", err)
	}
	if !bytes.Equal(rec, mustEncode(t, "message03")) {
		t.Fatalf("Read(3) = %q, want message03 encoding", rec)
	}
}

func TestOpenTruncatesPartialTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := l.Append(mustEncode(t, "message01")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash mid-write: append a length prefix of 5 followed by
	// only 2 of its payload bytes.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen for corruption failed: %v", err)
	}
	if _, err := f.Write([]byte{0x00, 0x05, 'a', 'b'}); err != nil {
		t.Fatalf("corrupt write failed: %v", err)
	}
	f.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open after corruption failed: %v", err)
	}
	defer l2.Close()
	if l2.LastWritten() != 1 {
		t.Fatalf("LastWritten after truncating partial record = %d, want 1", l2.LastWritten())
	}
}
