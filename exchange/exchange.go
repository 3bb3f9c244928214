// Package exchange owns the connected socket to one remote peer: a
// reader goroutine that turns bytes into wire.Message values, a writer
// goroutine that drains an outbound queue, and the connection lifecycle
// state machine of §4.2 (New -> Connected -> Closing -> Closed, with a
// side transition to Errored).
package exchange

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"peerwire/torrentiface"
	"peerwire/wire"
)

// State is a PeerExchange's position in the §4.2 lifecycle.
type State int

const (
	StateNew State = iota
	StateConnected
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Defaults for the tunables §4.2 leaves to the implementer.
const (
	DefaultIdleKeepalive = 2 * time.Minute
	DefaultReadTimeout   = 130 * time.Second
)

// Handler receives parsed messages and terminal errors from an
// Exchange's reader. HandleMessage is called synchronously from the
// reader goroutine, so implementations (the SharingPeer) must not block
// it for long, matching §5's "observers see a serialized event stream
// per peer" guarantee.
type Handler interface {
	HandleMessage(msg wire.Message)
	HandleError(err error)
}

// Exchange is a PeerExchange: one connected socket plus its reader and
// writer goroutines.
type Exchange struct {
	SessionID string

	conn    net.Conn
	torrent torrentiface.Torrent
	handler Handler

	idleKeepalive time.Duration
	readTimeout   time.Duration

	queue *outboundQueue

	mu    sync.Mutex
	state State

	terminate  chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
}

// New wraps conn in an Exchange in state New. Start must be called to
// begin the reader/writer goroutines.
func New(conn net.Conn, t torrentiface.Torrent, handler Handler) *Exchange {
	sessionID := uuid.Must(uuid.NewV4()).String()
	return &Exchange{
		SessionID:     sessionID,
		conn:          conn,
		torrent:       t,
		handler:       handler,
		idleKeepalive: DefaultIdleKeepalive,
		readTimeout:   DefaultReadTimeout,
		queue:         newOutboundQueue(),
		state:         StateNew,
		terminate:     make(chan struct{}),
		readerDone:    make(chan struct{}),
		writerDone:    make(chan struct{}),
	}
}

// SetTimeouts overrides the idle-keepalive and dead-peer-read timeouts
// before Start is called. Nothing in this module calls it: sharing.Peer.Bind
// starts every exchange with DefaultIdleKeepalive and DefaultReadTimeout.
func (e *Exchange) SetTimeouts(idleKeepalive, readTimeout time.Duration) {
	e.idleKeepalive = idleKeepalive
	e.readTimeout = readTimeout
}

// Start transitions the exchange to Connected and launches the reader
// and writer goroutines.
func (e *Exchange) Start() {
	e.mu.Lock()
	e.state = StateConnected
	e.mu.Unlock()

	go e.readLoop()
	go e.writeLoop()
}

// State reports the exchange's current lifecycle state.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Send enqueues m for the writer without blocking the caller. It is a
// silent no-op once the exchange has stopped accepting new writes
// (Closing past its drain, Closed, or Errored) — mirroring §3 invariant
// 6's "send on an unbound peer is a silent no-op" one level down, at the
// transport rather than the SharingPeer.
func (e *Exchange) Send(m wire.Message) {
	if s := e.State(); s == StateClosed || s == StateErrored {
		return
	}
	e.queue.push(m)
}

// Close performs a graceful shutdown: stop accepting new writes, let the
// writer flush whatever is already queued, then tear down the socket.
func (e *Exchange) Close() error {
	e.mu.Lock()
	if e.state == StateClosed || e.state == StateErrored {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosing
	e.mu.Unlock()

	e.queue.closeForDrain()
	<-e.writerDone
	e.conn.Close()
	<-e.readerDone

	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()
	return nil
}

// Terminate tears the connection down immediately, dropping any writes
// still queued. It does not wait for the reader/writer goroutines to
// exit: HandleMessage and HandleError run synchronously on those very
// goroutines (via readLoop/writeLoop -> markErrored), so a SharingPeer
// reacting to a protocol violation or I/O error calls Terminate
// reentrantly from inside one of them. Blocking here on readerDone or
// writerDone would deadlock that goroutine against itself; instead the
// loops notice the closed terminate channel or connection on their own
// next iteration and exit independently.
func (e *Exchange) Terminate() {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	e.state = StateClosed
	e.mu.Unlock()

	close(e.terminate)
	e.conn.Close()
}

func (e *Exchange) markErrored(err error) {
	e.mu.Lock()
	already := e.state == StateErrored || e.state == StateClosed
	if !already {
		e.state = StateErrored
	}
	e.mu.Unlock()
	if !already {
		log.Warn().Str("session", e.SessionID).Err(err).Msg("exchange errored")
		e.handler.HandleError(err)
	}
}

func (e *Exchange) readLoop() {
	defer close(e.readerDone)
	for {
		if e.readTimeout > 0 {
			e.conn.SetReadDeadline(time.Now().Add(e.readTimeout))
		}
		payload, err := wire.ReadFrame(e.conn)
		if err != nil {
			if s := e.State(); s == StateClosed || s == StateClosing {
				return
			}
			e.markErrored(fmt.Errorf("exchange: read: %w", err))
			return
		}

		msg, err := wire.Decode(payload, e.torrent)
		if err != nil {
			e.markErrored(fmt.Errorf("exchange: decode: %w", err))
			return
		}

		e.handler.HandleMessage(msg)
	}
}

func (e *Exchange) writeLoop() {
	defer close(e.writerDone)

	idle := time.NewTimer(e.idleKeepalive)
	defer idle.Stop()

	for {
		select {
		case <-e.terminate:
			return

		case <-e.queue.notify:
			if !idle.Stop() {
				drainTimer(idle)
			}
			idle.Reset(e.idleKeepalive)

			items := e.queue.drain()
			for _, m := range items {
				if err := e.writeOne(m); err != nil {
					e.markErrored(fmt.Errorf("exchange: write: %w", err))
					return
				}
			}

			e.mu.Lock()
			closing := e.state == StateClosing
			e.mu.Unlock()
			if closing && e.queue.isEmpty() {
				return
			}

		case <-idle.C:
			if err := e.writeOne(wire.KeepAliveMsg{}); err != nil {
				e.markErrored(fmt.Errorf("exchange: keepalive write: %w", err))
				return
			}
			idle.Reset(e.idleKeepalive)
		}
	}
}

func (e *Exchange) writeOne(m wire.Message) error {
	_, err := e.conn.Write(wire.Encode(m))
	if err != nil && errors.Is(err, io.EOF) {
		return err
	}
	return err
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
