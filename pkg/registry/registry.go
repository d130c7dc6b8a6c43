// Package registry implements the stream registry/supervisor: the
// component that owns the set of live (publisher, recovery server) pairs,
// routes Send calls to the right publisher by name, and, on an explicit
// Restart call, replaces a stream's publisher and recovery server with
// fresh ones that resume from the recovery log without losing sequence
// continuity. The registry does not watch for a failed publisher or
// recovery server and does not restart either on its own. Generalized from a
// single hardcoded sender session into a name-keyed registry the way
// amirimatin-go-cluster's cluster manager supervises per-peer goroutines.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"moldudp64/pkg/config"
	"moldudp64/pkg/publisher"
	"moldudp64/pkg/recovery"
	"moldudp64/pkg/transport"
	"moldudp64/pkg/wire"
)

// shutdownTimeout bounds how long the registry waits for a single
// publisher's graceful teardown (flush, end-of-session send, log close)
// during CloseAll or Restart before giving up on that stream and moving on.
const shutdownTimeout = 5 * time.Second

// ErrStreamAlreadyExists is returned by CreateStream when a stream with
// the same name is already registered.
var ErrStreamAlreadyExists = errors.New("registry: stream already exists")

// ErrStreamNotFound is returned by Send, Flush and Restart when no stream
// with the given name is registered.
var ErrStreamNotFound = errors.New("registry: stream not found")

// Registry owns every live stream in the process, keyed by its padded
// name: a publisher and the recovery server bound to that stream's own
// recovery port.
type Registry struct {
	mu      sync.RWMutex
	streams map[[wire.StreamNameLen]byte]*entry
	logger  *log.Logger
}

type entry struct {
	name    string
	pubCfg  publisher.Config
	recvCfg recovery.Config
	pub     *publisher.Publisher
	recv    *recovery.Server
}

// New constructs an empty Registry.
func New(logger *log.Logger) *Registry {
	return &Registry{
		streams: make(map[[wire.StreamNameLen]byte]*entry),
		logger:  logger,
	}
}

// CreateStream starts a new publisher and recovery server for the given
// stream configuration. It fails with ErrStreamAlreadyExists if a stream
// with this name is already registered in this process.
func (r *Registry) CreateStream(sc config.StreamConfig) error {
	padded := wire.PadStreamName(sc.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[padded]; exists {
		return fmt.Errorf("%w: %s", ErrStreamAlreadyExists, sc.Name)
	}

	e, err := r.start(sc)
	if err != nil {
		return fmt.Errorf("registry: start stream %s: %w", sc.Name, err)
	}
	r.streams[padded] = e
	return nil
}

// start builds and launches the publisher and recovery server for sc. The
// recovery server's lookup closure only ever resolves this one entry's own
// publisher, since each stream owns a distinct recovery port.
func (r *Registry) start(sc config.StreamConfig) (*entry, error) {
	pubCfg := streamConfigToPublisherConfig(sc, r.logger)
	pub, err := publisher.New(pubCfg)
	if err != nil {
		return nil, err
	}

	e := &entry{name: sc.Name, pubCfg: pubCfg, pub: pub}

	recvCfg := recovery.Config{
		BindAddr: net.JoinHostPort(sc.SourceIP, fmt.Sprint(sc.RecoveryPort)),
		MTU:      sc.MTU,
		Logger:   r.logger,
		Lookup: func(name [wire.StreamNameLen]byte) (recovery.StreamSource, bool) {
			if name != e.pub.StreamName() {
				return nil, false
			}
			return e.pub, true
		},
	}
	recv, err := recovery.New(recvCfg)
	if err != nil {
		pub.Close()
		return nil, err
	}
	go recv.Serve()

	e.recvCfg = recvCfg
	e.recv = recv
	return e, nil
}

func streamConfigToPublisherConfig(sc config.StreamConfig, logger *log.Logger) publisher.Config {
	return publisher.Config{
		StreamName:         sc.Name,
		MTU:                sc.MTU,
		HeartbeatInterval:  time.Duration(sc.HeartbeatIntervalMs) * time.Millisecond,
		CoalesceCountLimit: sc.CoalesceCountLimit,
		CoalesceIdleTime:   time.Duration(sc.CoalesceIdleUs) * time.Microsecond,
		RecoveryBufferCap:  sc.RecoveryBufferCap,
		Endpoint:           transport.NewEndpoint(sc.SourceIP, sc.MulticastGroup, sc.MulticastPort),
		MulticastTTL:       sc.MulticastTTL,
		MulticastLoopback:  sc.MulticastLoopback,
		LogPath:            sc.LogPath,
		Logger:             logger,
	}
}

// Send routes payload to the named stream's publisher.
func (r *Registry) Send(streamName string, payload []byte) error {
	pub, err := r.resolve(streamName)
	if err != nil {
		return err
	}
	return pub.Send(payload)
}

// Flush forces the named stream's publisher to transmit any pending batch.
func (r *Registry) Flush(streamName string) error {
	pub, err := r.resolve(streamName)
	if err != nil {
		return err
	}
	return pub.Flush()
}

func (r *Registry) resolve(streamName string) (*publisher.Publisher, error) {
	padded := wire.PadStreamName(streamName)
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.streams[padded]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, streamName)
	}
	return e.pub, nil
}

// Restart replaces a stream's publisher and recovery server with fresh
// ones built from the same configuration. Because the new publisher
// reopens the same log path, it resumes at LastWritten()+1 and sequence
// numbering stays continuous across the restart — nothing already
// durably logged is renumbered or skipped.
func (r *Registry) Restart(streamName string) error {
	padded := wire.PadStreamName(streamName)

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.streams[padded]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, streamName)
	}

	sc := config.StreamConfig{
		Name:                old.name,
		MulticastGroup:      old.pubCfg.Endpoint.GroupAddress,
		MulticastPort:       old.pubCfg.Endpoint.Port,
		SourceIP:            old.pubCfg.Endpoint.SourceAddress,
		LogPath:             old.pubCfg.LogPath,
		HeartbeatIntervalMs: int(old.pubCfg.HeartbeatInterval / time.Millisecond),
		MTU:                 old.pubCfg.MTU,
		RecoveryBufferCap:   old.pubCfg.RecoveryBufferCap,
		CoalesceCountLimit:  old.pubCfg.CoalesceCountLimit,
		CoalesceIdleUs:      int(old.pubCfg.CoalesceIdleTime / time.Microsecond),
		MulticastTTL:        old.pubCfg.MulticastTTL,
		MulticastLoopback:   old.pubCfg.MulticastLoopback,
	}
	if old.recv != nil {
		sc.RecoveryPort = extractPort(old.recvCfg.BindAddr)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	old.pub.CloseWithContext(closeCtx)
	cancel()
	if old.recv != nil {
		old.recv.Close()
	}

	fresh, err := r.start(sc)
	if err != nil {
		return fmt.Errorf("registry: restart stream %s: %w", streamName, err)
	}
	r.streams[padded] = fresh
	return nil
}

func extractPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

// CloseAll flushes and tears down every registered stream.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, e := range r.streams {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := e.pub.CloseWithContext(ctx)
		cancel()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if e.recv != nil {
			if err := e.recv.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Names returns every currently registered stream name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.streams))
	for _, e := range r.streams {
		out = append(out, e.name)
	}
	return out
}
