// Package publisher implements the per-stream publisher: the actor that
// owns sequencing, MTU-bounded batch assembly, the multicast socket, the
// heartbeat timer and the recovery log/buffer writes. Modeled on a
// per-session run loop (the kind of carousel/flush timing a FLUTE sender
// session drives) but reworked into a single-threaded mailbox actor, the
// way ogzhanolguncu-gossip-protocol-go's Node drains a ticker and a
// message channel from one goroutine: producers never touch publisher
// state directly, they hand payloads to the mailbox and the actor
// goroutine is the only writer of next_seq, pending, the log and the
// buffer.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"moldudp64/internal/logutil"
	"moldudp64/pkg/metrics"
	"moldudp64/pkg/reclog"
	"moldudp64/pkg/recvbuf"
	"moldudp64/pkg/tracing"
	"moldudp64/pkg/transport"
	"moldudp64/pkg/wire"
)

// ErrClosed is returned by Send, Flush and Close once the publisher has
// torn down.
var ErrClosed = errors.New("publisher: stream closed")

// ErrLogFatal is returned by Send/Flush after an append to the recovery
// log has failed. A log write failure is fatal to the stream: the
// publisher stops accepting submissions until it is replaced, e.g. by
// Registry.Restart; nothing restarts it automatically.
var ErrLogFatal = errors.New("publisher: recovery log write failed, stream halted")

// Config bundles a stream's recognised tuning options plus the values
// required to construct its sockets and log.
type Config struct {
	StreamName          string
	MTU                 int
	HeartbeatInterval   time.Duration
	CoalesceCountLimit  int
	CoalesceIdleTime    time.Duration
	RecoveryBufferCap   int
	Endpoint            transport.Endpoint
	MulticastTTL        int
	MulticastLoopback   *bool
	LogPath             string
	Logger              *log.Logger
}

// Publisher is one stream's single-threaded actor.
type Publisher struct {
	cfg        Config
	streamName [wire.StreamNameLen]byte

	mcast *transport.MulticastSocket
	log   *reclog.Log
	buf   *recvbuf.Buffer

	mailbox chan submission
	flushCh chan chan error
	closeCh chan chan error

	wg   sync.WaitGroup
	done chan struct{}
}

type submission struct {
	payload []byte
	result  chan error
}

// New constructs a Publisher, opening its recovery log (resuming
// sequencing at LastWritten()+1) and its multicast socket, then starts
// its actor goroutine.
func New(cfg Config) (*Publisher, error) {
	if cfg.MTU == 0 {
		cfg.MTU = 1400
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.CoalesceCountLimit == 0 {
		cfg.CoalesceCountLimit = 100
	}
	if cfg.CoalesceIdleTime == 0 {
		cfg.CoalesceIdleTime = time.Millisecond
	}
	if cfg.RecoveryBufferCap == 0 {
		cfg.RecoveryBufferCap = 10000
	}

	l, err := reclog.Open(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	mcast, err := transport.NewMulticastSocket(cfg.Endpoint, transport.MulticastOptions{
		TTL:      cfg.MulticastTTL,
		Loopback: cfg.MulticastLoopback,
	})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("publisher: %w", err)
	}

	p := &Publisher{
		cfg:        cfg,
		streamName: wire.PadStreamName(cfg.StreamName),
		mcast:      mcast,
		log:        l,
		buf:        recvbuf.NewBuffer(cfg.RecoveryBufferCap),
		mailbox:    make(chan submission),
		flushCh:    make(chan chan error),
		closeCh:    make(chan chan error),
		done:       make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// NextSeqForRestart exposes LastWritten()+1 so a supervisor reopening the
// same log can log the resumed sequence without reaching into internals.
func (p *Publisher) NextSeqForRestart() uint64 {
	return p.log.LastWritten() + 1
}

// Buffer returns the recovery buffer for the recovery server to read.
func (p *Publisher) Buffer() *recvbuf.Buffer { return p.buf }

// Log returns the recovery log for the recovery server to read.
func (p *Publisher) Log() *reclog.Log { return p.log }

// StreamName returns the padded 10-byte stream name.
func (p *Publisher) StreamName() [wire.StreamNameLen]byte { return p.streamName }

// Send enqueues payload for transmission, returning once it has been
// accepted (encoded and appended to the pending batch, possibly after an
// overflow flush) or rejected. Concurrent callers are serialized by the
// actor goroutine reading p.mailbox.
func (p *Publisher) Send(payload []byte) error {
	result := make(chan error, 1)
	select {
	case p.mailbox <- submission{payload: payload, result: result}:
	case <-p.done:
		return ErrClosed
	}
	return <-result
}

// Flush forces transmission of any pending batch.
func (p *Publisher) Flush() error {
	req := make(chan error, 1)
	select {
	case p.flushCh <- req:
	case <-p.done:
		return ErrClosed
	}
	return <-req
}

// Close flushes any pending batch, multicasts an end-of-session packet,
// then closes the sockets and the log.
func (p *Publisher) Close() error {
	req := make(chan error, 1)
	select {
	case p.closeCh <- req:
	case <-p.done:
		return ErrClosed
	}
	err := <-req
	p.wg.Wait()
	return err
}

// actor state, owned exclusively by run().
type actorState struct {
	nextSeq     uint64
	pending     [][]byte
	pendingSize int
	lastSend    time.Time
	fatal       error
}

func (p *Publisher) run() {
	defer p.wg.Done()
	defer close(p.done)

	st := &actorState{
		nextSeq:  p.log.LastWritten() + 1,
		lastSend: time.Now(),
	}

	idleTimer := time.NewTimer(p.cfg.CoalesceIdleTime)
	heartbeatTimer := time.NewTimer(p.cfg.HeartbeatInterval)
	defer idleTimer.Stop()
	defer heartbeatTimer.Stop()

	for {
		select {
		case sub := <-p.mailbox:
			sub.result <- p.handleSend(st, sub.payload)
			resetTimer(idleTimer, p.cfg.CoalesceIdleTime)

		case <-idleTimer.C:
			if len(st.pending) > 0 {
				_ = p.flush(st)
			}
			idleTimer.Reset(p.cfg.CoalesceIdleTime)

		case <-heartbeatTimer.C:
			p.maybeHeartbeat(st)
			heartbeatTimer.Reset(p.cfg.HeartbeatInterval)

		case req := <-p.flushCh:
			req <- p.flush(st)

		case req := <-p.closeCh:
			req <- p.teardown(st)
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// handleSend encodes and enqueues a payload, flushing the current batch
// first if appending would overflow the MTU.
func (p *Publisher) handleSend(st *actorState, payload []byte) error {
	if st.fatal != nil {
		return st.fatal
	}

	enc, err := wire.EncodeMessage(payload, p.cfg.MTU)
	if err != nil {
		return err
	}

	projected := wire.ProjectedPacketSize(st.pendingSize, enc)
	if projected > p.cfg.MTU {
		if err := p.flush(st); err != nil {
			return err
		}
		projected = wire.ProjectedPacketSize(0, enc)
	}

	st.pending = append(st.pending, enc)
	st.pendingSize = projected

	if len(st.pending) >= p.cfg.CoalesceCountLimit {
		return p.flush(st)
	}
	return nil
}

// flush assigns sequence numbers to the pending batch, logs it, inserts
// it into the recovery buffer, and multicasts it. Log-then-send is
// all-or-nothing from the caller's perspective: if the log append fails,
// no sequence numbers are consumed and no packet is sent; once the log
// append has succeeded, a multicast send failure is logged but does not
// roll back sequencing.
func (p *Publisher) flush(st *actorState) error {
	if len(st.pending) == 0 {
		return nil
	}
	if st.fatal != nil {
		return st.fatal
	}

	_, endSpan := tracing.StartSpan(context.Background(), "publisher.flush")
	defer endSpan()

	batch := st.pending
	count := len(batch)
	startSeq := st.nextSeq

	for _, enc := range batch {
		if err := p.log.Append(enc); err != nil {
			st.fatal = fmt.Errorf("%w: %v", ErrLogFatal, err)
			logutil.Errorf(p.cfg.Logger, "stream %s: recovery log append failed, halting: %v", wire.StreamNameString(p.streamName), err)
			return st.fatal
		}
	}

	for i, enc := range batch {
		p.buf.Insert(startSeq+uint64(i), enc)
	}

	pkt := wire.PackPacket(p.streamName, startSeq, batch)
	if err := p.mcast.Send(pkt); err != nil {
		metrics.SendErrorsTotal.WithLabelValues(wire.StreamNameString(p.streamName), "multicast").Inc()
		logutil.Warnf(p.cfg.Logger, "stream %s: multicast send failed (messages %d..%d already logged): %v",
			wire.StreamNameString(p.streamName), startSeq, startSeq+uint64(count)-1, err)
	}

	st.nextSeq += uint64(count)
	st.pending = st.pending[:0]
	st.pendingSize = 0
	st.lastSend = time.Now()

	name := wire.StreamNameString(p.streamName)
	metrics.PacketsSent.WithLabelValues(name, "data").Inc()
	metrics.MessagesSent.WithLabelValues(name).Add(float64(count))
	metrics.NextSeq.WithLabelValues(name).Set(float64(st.nextSeq))
	metrics.LogBytes.WithLabelValues(name).Set(float64(p.log.Size()))
	if low, high, ok := p.buf.Bounds(); ok {
		metrics.BufferOccupancy.WithLabelValues(name).Set(float64(high - low + 1))
	}
	return nil
}

// maybeHeartbeat sends a heartbeat only once the full heartbeat interval
// has elapsed with no transmission at all.
func (p *Publisher) maybeHeartbeat(st *actorState) {
	if st.fatal != nil {
		return
	}
	if time.Since(st.lastSend) < p.cfg.HeartbeatInterval {
		return
	}
	pkt := wire.PackHeartbeat(p.streamName, st.nextSeq)
	if err := p.mcast.Send(pkt); err != nil {
		metrics.SendErrorsTotal.WithLabelValues(wire.StreamNameString(p.streamName), "multicast").Inc()
		logutil.Warnf(p.cfg.Logger, "stream %s: heartbeat send failed: %v", wire.StreamNameString(p.streamName), err)
	}
	st.lastSend = time.Now()
	metrics.PacketsSent.WithLabelValues(wire.StreamNameString(p.streamName), "heartbeat").Inc()
}

func (p *Publisher) teardown(st *actorState) error {
	var flushErr error
	if st.fatal == nil {
		flushErr = p.flush(st)
	}

	if st.fatal == nil {
		pkt := wire.PackEndOfSession(p.streamName, st.nextSeq)
		if err := p.mcast.Send(pkt); err != nil {
			logutil.Warnf(p.cfg.Logger, "stream %s: end-of-session send failed: %v", wire.StreamNameString(p.streamName), err)
		} else {
			metrics.PacketsSent.WithLabelValues(wire.StreamNameString(p.streamName), "eos").Inc()
		}
	}

	mcastErr := p.mcast.Close()
	logErr := p.log.Close()

	for _, err := range []error{flushErr, mcastErr, logErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// CloseWithContext is Close bounded by ctx, for callers (the registry's
// Restart and CloseAll) that want to give up waiting on a graceful teardown
// after a deadline rather than block indefinitely.
func (p *Publisher) CloseWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
