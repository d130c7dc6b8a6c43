// Package recovery implements the recovery server: a unicast UDP listener
// that answers gap-fill requests for a set of streams by consulting each
// stream's recovery buffer first, falling back to its recovery log for
// anything older than the buffer's low-water mark. Generalized from an
// in-process observer/event-dispatch callback into a real network
// request loop, the way ogzhanolguncu-gossip-protocol-go's Node.Run
// drains a socket from one goroutine per listener.
package recovery

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"moldudp64/internal/logutil"
	"moldudp64/pkg/metrics"
	"moldudp64/pkg/reclog"
	"moldudp64/pkg/recvbuf"
	"moldudp64/pkg/tracing"
	"moldudp64/pkg/transport"
	"moldudp64/pkg/wire"
)

// ErrUnknownStream names the unknown-stream case. A Lookup reports it as
// ok == false and the server drops the request; no function in this
// package returns this error.
var ErrUnknownStream = errors.New("recovery: unknown stream")

// StreamSource is the read side of a stream a recovery server can answer
// requests for. pkg/publisher.Publisher satisfies this.
type StreamSource interface {
	StreamName() [wire.StreamNameLen]byte
	Buffer() *recvbuf.Buffer
	Log() *reclog.Log
}

// Lookup resolves a padded stream name to its StreamSource, or reports
// !ok if no such stream exists. The registry builds one per stream, as a
// closure in Registry.start.
type Lookup func(streamName [wire.StreamNameLen]byte) (StreamSource, bool)

// maxReplyMessages bounds how many messages the server will read for a
// single request regardless of the requester's Count. The reply is always
// one packet, trimmed further so that it fits within the MTU.
const maxReplyMessages = 4096

// Server listens on a unicast UDP socket and answers MoldUDP64 recovery
// requests for every stream its Lookup function can resolve.
type Server struct {
	sock   *transport.UnicastSocket
	lookup Lookup
	mtu    int
	logger *log.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// Config bundles the values needed to construct a Server.
type Config struct {
	BindAddr string
	MTU      int
	Lookup   Lookup
	Logger   *log.Logger
}

// New binds the recovery socket and returns a Server not yet accepting
// requests; call Serve to run its receive loop.
func New(cfg Config) (*Server, error) {
	if cfg.MTU == 0 {
		cfg.MTU = 1400
	}
	sock, err := transport.NewUnicastSocket(cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		sock:   sock,
		lookup: cfg.Lookup,
		mtu:    cfg.MTU,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Serve runs the receive loop until Close is called. It is meant to be run
// in its own goroutine. The registry runs one Server per stream, each on
// that stream's own recovery port; a Server whose Lookup resolves several
// streams tells their requests apart by stream name.
func (s *Server) Serve() {
	s.wg.Add(1)
	defer s.wg.Done()

	buf := make([]byte, wire.RecoveryRequestLen+16)
	for {
		n, from, err := s.sock.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				logutil.Warnf(s.logger, "recovery: read failed: %v", err)
				continue
			}
		}
		s.handleRequest(buf[:n], from)
	}
}

// handleRequest parses a recovery request and replies with the requested
// message range. Malformed requests and requests for unknown streams are
// silently dropped (a third party spoofing or misaddressing requests
// should not be able to learn anything from the server's behavior), and a
// request entirely beyond the stream's current high-water mark draws no
// reply since there is nothing yet to serve.
func (s *Server) handleRequest(data []byte, from *net.UDPAddr) {
	_, endSpan := tracing.StartSpan(context.Background(), "recovery.handleRequest")
	defer endSpan()

	streamName, seq, count, err := wire.ParseRecoveryRequest(data)
	if err != nil {
		metrics.RecoveryRequestsTotal.WithLabelValues("", "malformed").Inc()
		return
	}

	name := wire.StreamNameString(streamName)
	src, ok := s.lookup(streamName)
	if !ok {
		metrics.RecoveryRequestsTotal.WithLabelValues(name, "unknown_stream").Inc()
		return
	}

	if count == 0 || count > maxReplyMessages {
		count = maxReplyMessages
	}

	encoded, source := s.collect(src, seq, count)
	if len(encoded) == 0 {
		metrics.RecoveryRequestsTotal.WithLabelValues(name, "beyond_high").Inc()
		return
	}

	reply := wire.PackPacket(streamName, seq, encoded)
	if err := s.sock.WriteTo(reply, from); err != nil {
		logutil.Warnf(s.logger, "recovery: reply to %s for stream %s failed: %v", from, name, err)
		metrics.SendErrorsTotal.WithLabelValues(name, "unicast").Inc()
		return
	}
	metrics.RecoveryRequestsTotal.WithLabelValues(name, "served").Inc()
	metrics.RecoveryMessagesServed.WithLabelValues(name, source).Add(float64(len(encoded)))
}

// collect consults the buffer first (the hot path for recent gaps), and
// falls back to the log for anything below the buffer's low-water mark.
// It also caps the batch it returns so the reply stays within mtu.
func (s *Server) collect(src StreamSource, seq uint64, count uint16) ([][]byte, string) {
	var encoded [][]byte
	source := "buffer"

	if low, high, ok := src.Buffer().Bounds(); ok && seq >= low && seq <= high {
		encoded = src.Buffer().LookupRange(seq, count)
	} else if rows, err := src.Log().ReadRange(seq, count); err == nil {
		encoded = rows
		source = "log"
	} else if !errors.Is(err, reclog.ErrNotFound) {
		logutil.Warnf(s.logger, "recovery: log read failed for seq %d: %v", seq, err)
	}

	return s.capToMTU(encoded), source
}

func (s *Server) capToMTU(encoded [][]byte) [][]byte {
	size := 0
	for i, m := range encoded {
		projected := wire.ProjectedPacketSize(size, m)
		if projected > s.mtu {
			return encoded[:i]
		}
		size = projected
	}
	return encoded
}

// Close stops the receive loop and releases the socket.
func (s *Server) Close() error {
	close(s.stopCh)
	err := s.sock.Close()
	s.wg.Wait()
	return err
}
