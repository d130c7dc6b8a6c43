// Package transport owns the two socket types a stream publisher and its
// recovery server need: a multicast downstream socket and a unicast
// recovery socket. A destination is modeled as a bindable source address
// plus a destination group/port, backed by golang.org/x/net/ipv4 for
// multicast control (TTL, loopback, egress interface) and
// golang.org/x/sys/unix for SO_REUSEPORT on the recovery listener.
package transport

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint describes a UDP destination plus the local interface a socket
// bound to it should use. SourceAddress of "" lets the kernel pick.
type Endpoint struct {
	SourceAddress string
	GroupAddress  string
	Port          int
}

// NewEndpoint constructs an Endpoint.
func NewEndpoint(source, group string, port int) Endpoint {
	return Endpoint{SourceAddress: source, GroupAddress: group, Port: port}
}

// BindAddr returns the address to pass to net.ListenPacket for a socket
// bound to this endpoint's source interface.
func (e Endpoint) BindAddr() string {
	return net.JoinHostPort(e.SourceAddress, strconv.Itoa(e.Port))
}

// DestAddr returns "group:port", suitable for net.ResolveUDPAddr.
func (e Endpoint) DestAddr() string {
	return net.JoinHostPort(e.GroupAddress, strconv.Itoa(e.Port))
}

// ResolveDest resolves the destination group address.
func (e Endpoint) ResolveDest() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", e.DestAddr())
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", e.DestAddr(), err)
	}
	return addr, nil
}

// interfaceForSource finds the local *net.Interface whose addresses
// include sourceIP. It returns nil if sourceIP is empty (letting the
// kernel choose the egress interface) and an error if no local interface
// has that address.
func interfaceForSource(sourceIP string) (*net.Interface, error) {
	if sourceIP == "" {
		return nil, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("transport: list interfaces: %w", err)
	}
	ip := net.ParseIP(sourceIP)
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("transport: no local interface has address %s", sourceIP)
}
