package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.yaml")
	yamlBody := `
streams:
  - name: foo
    multicast_group: 239.1.1.1
    multicast_port: 12345
    recovery_port: 12346
    log_path: /tmp/foo.log
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(f.Streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(f.Streams))
	}
	s := f.Streams[0]
	if s.HeartbeatIntervalMs != 1000 {
		t.Fatalf("HeartbeatIntervalMs = %d, want 1000", s.HeartbeatIntervalMs)
	}
	if s.MTU != 1400 {
		t.Fatalf("MTU = %d, want 1400", s.MTU)
	}
	if s.RecoveryBufferCap != 10000 {
		t.Fatalf("RecoveryBufferCap = %d, want 10000", s.RecoveryBufferCap)
	}
}

func TestLoadValidatesRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streams.yaml")
	if err := os.WriteFile(path, []byte("streams:\n  - name: foo\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing multicast_group")
	}
}
