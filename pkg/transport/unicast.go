package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// UnicastSocket is the recovery server's listening/replying socket. It sets
// SO_REUSEPORT on bind, the way other_examples/maxschuele-distributed-kv-store
// sets it for its multicast/unicast listeners, so that tests can run
// several recovery servers against the same port without racing each other
// for exclusive ownership.
type UnicastSocket struct {
	conn *net.UDPConn
}

// NewUnicastSocket binds a UDP socket on bindAddr (host:port, host may be
// empty) for the recovery server to receive requests and reply on.
func NewUnicastSocket(bindAddr string) (*UnicastSocket, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind recovery socket on %s: %w", bindAddr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("transport: unexpected PacketConn type %T", pc)
	}
	return &UnicastSocket{conn: conn}, nil
}

// ReadFrom reads one datagram, returning the sender's address for the
// reply.
func (s *UnicastSocket) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return n, addr, fmt.Errorf("transport: recovery read: %w", err)
	}
	return n, addr, nil
}

// WriteTo sends a reply to the given unicast address — never the multicast
// group.
func (s *UnicastSocket) WriteTo(data []byte, addr *net.UDPAddr) error {
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("transport: recovery reply send: %w", err)
	}
	return nil
}

// Close releases the socket.
func (s *UnicastSocket) Close() error {
	return s.conn.Close()
}

// Conn exposes the underlying *net.UDPConn for callers that need deadline
// control (e.g. read deadlines in tests).
func (s *UnicastSocket) Conn() *net.UDPConn {
	return s.conn
}
