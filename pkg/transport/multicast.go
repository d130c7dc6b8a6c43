package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// MulticastSocket is the publisher's downstream socket: a UDP socket bound
// to a source interface, sending to a fixed multicast destination with a
// configured TTL and loopback setting.
type MulticastSocket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	dest *net.UDPAddr
}

// MulticastOptions configures TTL and loopback on a MulticastSocket. The
// zero value means "leave the OS default".
type MulticastOptions struct {
	TTL      int // 0 means unset; the OS default (usually 1) applies.
	Loopback *bool
}

// NewMulticastSocket opens a UDP socket bound to endpoint.SourceAddress
// (any free port) and configures it to send to endpoint's multicast group
// and port, with the multicast TTL and loop flags set per configuration.
func NewMulticastSocket(endpoint Endpoint, opts MulticastOptions) (*MulticastSocket, error) {
	dest, err := endpoint.ResolveDest()
	if err != nil {
		return nil, err
	}

	laddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(endpoint.SourceAddress, "0"))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve source %s: %w", endpoint.SourceAddress, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind multicast socket on %s: %w", laddr, err)
	}

	pc := ipv4.NewPacketConn(conn)

	if iface, err := interfaceForSource(endpoint.SourceAddress); err != nil {
		conn.Close()
		return nil, err
	} else if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: set multicast interface %s: %w", iface.Name, err)
		}
	}

	if opts.TTL > 0 {
		if err := pc.SetMulticastTTL(opts.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: set multicast TTL: %w", err)
		}
	}
	if opts.Loopback != nil {
		if err := pc.SetMulticastLoopback(*opts.Loopback); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: set multicast loopback: %w", err)
		}
	}

	return &MulticastSocket{conn: conn, pc: pc, dest: dest}, nil
}

// Send writes data to the configured multicast destination. Send failures
// are treated as transient and do not roll back sequencing; the caller
// decides how to react.
func (s *MulticastSocket) Send(data []byte) error {
	if _, err := s.conn.WriteToUDP(data, s.dest); err != nil {
		return fmt.Errorf("transport: multicast send: %w", err)
	}
	return nil
}

// Close releases the socket.
func (s *MulticastSocket) Close() error {
	return s.conn.Close()
}
