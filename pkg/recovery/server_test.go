package recovery

import (
	"net"
	"testing"
	"time"

	"moldudp64/pkg/reclog"
	"moldudp64/pkg/recvbuf"
	"moldudp64/pkg/transport"
	"moldudp64/pkg/wire"
)

// fakeStream is a minimal StreamSource backed by a real log and buffer,
// populated directly rather than through a publisher, to keep the
// recovery server's tests independent of the publisher's actor loop.
type fakeStream struct {
	name [wire.StreamNameLen]byte
	log  *reclog.Log
	buf  *recvbuf.Buffer
}

func (f *fakeStream) StreamName() [wire.StreamNameLen]byte { return f.name }
func (f *fakeStream) Log() *reclog.Log                     { return f.log }
func (f *fakeStream) Buffer() *recvbuf.Buffer              { return f.buf }

func newFakeStream(t *testing.T, name string, n int, bufCap int) *fakeStream {
	t.Helper()
	l, err := reclog.Open(t.TempDir() + "/" + name + ".log")
	if err != nil {
		t.Fatalf("reclog.Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	buf := recvbuf.NewBuffer(bufCap)
	for i := 1; i <= n; i++ {
		enc, err := wire.EncodeMessage([]byte{byte(i)}, 0)
		if err != nil {
			t.Fatalf("EncodeMessage failed: %v", err)
		}
		if err := l.Append(enc); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		buf.Insert(uint64(i), enc)
	}
	return &fakeStream{name: wire.PadStreamName(name), log: l, buf: buf}
}

func newTestServer(t *testing.T, lookup Lookup) (*Server, *net.UDPAddr) {
	t.Helper()
	srv, err := New(Config{BindAddr: "127.0.0.1:0", MTU: 1400, Lookup: lookup})
	if err != nil {
		t.Skipf("recovery server unavailable in this environment: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	addr := srv.sock.Conn().LocalAddr().(*net.UDPAddr)
	return srv, addr
}

func roundTrip(t *testing.T, serverAddr *net.UDPAddr, req []byte) ([]byte, bool) {
	t.Helper()
	client, err := transport.NewUnicastSocket("127.0.0.1:0")
	if err != nil {
		t.Fatalf("client socket failed: %v", err)
	}
	defer client.Close()

	if err := client.WriteTo(req, serverAddr); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	client.Conn().SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 2048)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		return nil, false
	}
	return buf[:n], true
}

func TestRecoveryServesFromBuffer(t *testing.T) {
	stream := newFakeStream(t, "BUF", 10, 100)
	_, addr := newTestServer(t, func(name [wire.StreamNameLen]byte) (StreamSource, bool) {
		if name == stream.name {
			return stream, true
		}
		return nil, false
	})

	req := wire.PackRecoveryRequest(stream.name, 3, 4)
	reply, ok := roundTrip(t, addr, req)
	if !ok {
		t.Fatal("expected a reply, got none")
	}
	pkt, err := wire.ParsePacket(reply)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if pkt.MessageCount != 4 {
		t.Fatalf("MessageCount = %d, want 4", pkt.MessageCount)
	}
	for i, m := range pkt.Messages {
		if m[0] != byte(3+i) {
			t.Fatalf("message %d = %d, want %d", i, m[0], 3+i)
		}
	}
}

func TestRecoveryFallsBackToLogBelowBufferFloor(t *testing.T) {
	// Buffer capacity 3 holds only seqs 8-10 once 10 messages are written;
	// a request for seq 2 must be served from the log instead.
	stream := newFakeStream(t, "FALLBACK", 10, 3)
	_, addr := newTestServer(t, func(name [wire.StreamNameLen]byte) (StreamSource, bool) {
		return stream, true
	})

	req := wire.PackRecoveryRequest(stream.name, 2, 2)
	reply, ok := roundTrip(t, addr, req)
	if !ok {
		t.Fatal("expected a reply, got none")
	}
	pkt, err := wire.ParsePacket(reply)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if pkt.MessageCount != 2 || pkt.Messages[0][0] != 2 {
		t.Fatalf("unexpected reply: count=%d first=%v", pkt.MessageCount, pkt.Messages)
	}
}

func TestRecoverySilentlyDropsUnknownStream(t *testing.T) {
	_, addr := newTestServer(t, func(name [wire.StreamNameLen]byte) (StreamSource, bool) {
		return nil, false
	})

	req := wire.PackRecoveryRequest(wire.PadStreamName("GHOST"), 1, 1)
	if _, ok := roundTrip(t, addr, req); ok {
		t.Fatal("expected no reply for unknown stream")
	}
}

func TestRecoverySilentlyDropsRequestBeyondHigh(t *testing.T) {
	stream := newFakeStream(t, "BEYOND", 5, 100)
	_, addr := newTestServer(t, func(name [wire.StreamNameLen]byte) (StreamSource, bool) {
		return stream, true
	})

	req := wire.PackRecoveryRequest(stream.name, 50, 2)
	if _, ok := roundTrip(t, addr, req); ok {
		t.Fatal("expected no reply for a request entirely beyond high")
	}
}

func TestRecoverySilentlyDropsMalformedRequest(t *testing.T) {
	_, addr := newTestServer(t, func(name [wire.StreamNameLen]byte) (StreamSource, bool) {
		return nil, false
	})

	if _, ok := roundTrip(t, addr, []byte("too short")); ok {
		t.Fatal("expected no reply for a malformed request")
	}
}
