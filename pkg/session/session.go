// Package session implements the reconnect-tolerant session state machine
// (spec §4.E/§4.F) on top of the wire mechanics in pkg/proto: a session
// survives a dropped transport by buffering outbound traffic while
// RECONNECTING and replaying it once a new transport re-attaches under the
// same identifier, within a bounded grace period.
package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/zentalk/relaynet/pkg/proto"
	"github.com/zentalk/relaynet/pkg/wire"
)

// inboundQueueDepth bounds the inbound queue used by Receive consumers
// (spec §4.E's "dispatcher" is a registered OnReceive handler; this is the
// alternative "explicit receive()" consumer mode for sessions started
// without one).
const inboundQueueDepth = 4096

// State is one of the three states a Session can occupy (spec §4.E).
type State int32

const (
	// StateOpen means a live transport is attached; sends go straight to
	// the wire.
	StateOpen State = iota
	// StateReconnecting means the transport dropped; sends are buffered
	// and a reconnect deadline is running.
	StateReconnecting
	// StateClosed is terminal: the session is gone, its identifier is
	// retired, and any buffered traffic has been discarded.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned by Send and Reattach once a session has
	// transitioned to StateClosed.
	ErrClosed = errors.New("session: closed")
	// ErrAlreadyOpen is returned by Reattach when a new transport claims an
	// identifier whose session is already OPEN — spec's resolved reconnect
	// race: the incumbent transport wins, the newcomer is rejected.
	ErrAlreadyOpen = errors.New("session: identifier already has a live transport")
)

// Message is the envelope handed to OnReceive: a decoded value together
// with both the sender's claimed send time and the local receive time, and
// a reference back to the originating session (spec §4.E, §6).
type Message struct {
	Value      wire.Value
	SentAt     float64
	ReceivedAt float64
	Session    *Session
}

// Handlers are the application callbacks a Session drives. OnReceive and
// OnFrameDecrypted run on the session's reader goroutine; OnFrameEncrypted
// runs on the goroutine calling Send or Reattach, OnReconnect on the one
// calling Reattach, and OnDisconnect on whichever goroutine triggers
// Shutdown. Slow or panicking handlers are the caller's responsibility to
// isolate (pkg/server wraps these for the server-managed case).
type Handlers struct {
	OnReceive    func(Message)
	OnDisconnect func(*Session)
	OnReconnect  func(*Session)

	// OnFrameEncrypted fires once per frame successfully written to the
	// wire, whether sent immediately while OPEN or flushed from the
	// outbound buffer on reattach.
	OnFrameEncrypted func()
	// OnFrameDecrypted fires once per frame successfully read and
	// authenticated off the wire, before payload/value decoding.
	OnFrameDecrypted func()
	// OnProtocolError fires for every wire-level failure below the
	// application message itself: an HMAC mismatch (kind "tamper"), a
	// too-short payload (kind "malformed-frame"), or an undecodable value
	// (kind "malformed-value"). It is purely diagnostic — the session's
	// own handling of each failure (abort on tamper, skip-and-continue on
	// a malformed payload/value) does not depend on this callback being
	// set.
	OnProtocolError func(kind string, err error)
}

// Config holds the tunables governing reconnect behavior.
type Config struct {
	// ReconnectTimeout is how long a session waits in StateReconnecting
	// for a new transport to reattach before transitioning to StateClosed.
	ReconnectTimeout time.Duration
	// MaxBufferedFrames caps the outbound buffer accumulated while
	// RECONNECTING; once it holds this many frames, further sends fail
	// with an error instead of growing it. Zero means unbounded.
	MaxBufferedFrames int
}

// DefaultConfig returns the tunables used when none are supplied.
func DefaultConfig() Config {
	return Config{
		ReconnectTimeout:  30 * time.Second,
		MaxBufferedFrames: 1024,
	}
}

// Session is one logical peer conversation: a 128-bit identifier, a
// symmetric encryption context, and the live (or recently dropped)
// transport carrying it. It is safe for concurrent use.
type Session struct {
	id       proto.ID
	cfg      Config
	handlers Handlers
	log      logging.LeveledLogger

	mu             sync.Mutex
	state          State
	conn           net.Conn
	ctx            *proto.EncryptionContext
	outbound       [][]byte
	reconnectTimer *time.Timer
	readGen        uint64

	inbound chan Message

	closeOnce sync.Once
	doneCh    chan struct{}
}

// New constructs a Session in StateOpen over an already-handshaked
// transport and starts its reader goroutine.
func New(id proto.ID, conn net.Conn, ctx *proto.EncryptionContext, cfg Config, handlers Handlers, log logging.LeveledLogger) *Session {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("session")
	}
	s := &Session{
		id:       id,
		cfg:      cfg,
		handlers: handlers,
		log:      log,
		state:    StateOpen,
		conn:     conn,
		ctx:      ctx,
		inbound:  make(chan Message, inboundQueueDepth),
		doneCh:   make(chan struct{}),
	}
	go s.readLoop(conn, ctx, 0)
	return s
}

// ID returns the session's 128-bit identifier.
func (s *Session) ID() proto.ID {
	return s.id
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether the session has reached its terminal state. Used
// by pkg/group to prune dead members without relying solely on GC timing.
func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

// Send encodes v and transmits it. While OPEN the frame is written
// straight to the wire; while RECONNECTING it is appended to the outbound
// buffer for replay on reattach, unless the buffer is already full; once
// CLOSED, Send always fails. The TooLarge check is state-independent
// (spec §4.E): a payload that can never fit in a frame is rejected up
// front rather than accepted into the buffer and failing invisibly later
// on reattach.
func (s *Session) Send(v wire.Value) error {
	encoded, err := wire.Encode(v)
	if err != nil {
		return err
	}
	payload := proto.EncodePayload(nowUnix(), encoded)
	if len(payload) > proto.MaxPlaintextLen {
		return proto.ErrFrameTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateReconnecting:
		if s.cfg.MaxBufferedFrames > 0 && len(s.outbound) >= s.cfg.MaxBufferedFrames {
			return errors.New("session: outbound buffer full")
		}
		s.outbound = append(s.outbound, payload)
		return nil
	default: // StateOpen
		if err := proto.WriteFrame(s.conn, s.ctx, payload); err != nil {
			return err
		}
		if s.handlers.OnFrameEncrypted != nil {
			s.handlers.OnFrameEncrypted()
		}
		return nil
	}
}

// Reattach binds a newly handshaked transport to this session's
// identifier. An OPEN session rejects the newcomer outright (the
// incumbent transport wins); a RECONNECTING session adopts it, flushes
// its buffered frames in order, and resumes normal operation; a CLOSED
// session can never be reattached.
func (s *Session) Reattach(conn net.Conn, ctx *proto.EncryptionContext) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateOpen:
		s.mu.Unlock()
		return ErrAlreadyOpen
	}

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.conn = conn
	s.ctx = ctx
	s.state = StateOpen
	s.readGen++
	gen := s.readGen
	buffered := s.outbound
	s.outbound = nil

	// The lock is held across the flush so no concurrent Send can reach the
	// new transport before the buffered frames have been written.
	for _, payload := range buffered {
		if err := proto.WriteFrame(conn, ctx, payload); err != nil {
			s.log.Warnf("session %x: failed to flush buffered frame on reattach: %v", s.id, err)
			break
		}
		if s.handlers.OnFrameEncrypted != nil {
			s.handlers.OnFrameEncrypted()
		}
	}
	s.mu.Unlock()

	if s.handlers.OnReconnect != nil {
		s.handlers.OnReconnect(s)
	}
	go s.readLoop(conn, ctx, gen)
	return nil
}

// Shutdown forces the session to StateClosed immediately, discarding any
// buffered traffic and closing the underlying transport.
func (s *Session) Shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		conn := s.conn
		s.outbound = nil
		if s.reconnectTimer != nil {
			s.reconnectTimer.Stop()
		}
		s.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		close(s.doneCh)

		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(s)
		}
	})
}

// Done returns a channel closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// readLoop pulls frames off conn until it errs, then either starts the
// reconnect grace period or closes the session outright, depending on the
// failure (spec §7: authentication failures are fatal, transport errors
// are recoverable).
func (s *Session) readLoop(conn net.Conn, ctx *proto.EncryptionContext, gen uint64) {
	for {
		plaintext, err := proto.ReadFrame(conn, ctx)
		if err != nil {
			s.handleReadError(conn, gen, err)
			return
		}
		if s.handlers.OnFrameDecrypted != nil {
			s.handlers.OnFrameDecrypted()
		}

		sentAt, encodedValue, err := proto.DecodePayload(plaintext)
		if err != nil {
			s.log.Warnf("session %x: malformed payload: %v", s.id, err)
			if s.handlers.OnProtocolError != nil {
				s.handlers.OnProtocolError("malformed-frame", err)
			}
			continue
		}
		value, _, err := wire.Decode(encodedValue)
		if err != nil {
			s.log.Warnf("session %x: malformed value: %v", s.id, err)
			if s.handlers.OnProtocolError != nil {
				s.handlers.OnProtocolError("malformed-value", err)
			}
			continue
		}

		msg := Message{
			Value:      value,
			SentAt:     sentAt,
			ReceivedAt: nowUnix(),
			Session:    s,
		}
		if s.handlers.OnReceive != nil {
			s.handlers.OnReceive(msg)
		} else {
			s.inbound <- msg
		}
	}
}

// Receive blocks until a decoded message is available, the session
// reaches StateClosed, or ctx is canceled. It is the alternative to
// registering Handlers.OnReceive: a session either has a callback bound,
// in which case Receive always returns ErrClosed once the session closes,
// or it has none, in which case every received message is delivered
// through Receive in FIFO order (spec §4.E).
func (s *Session) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-s.inbound:
		return m, nil
	default:
	}

	select {
	case m := <-s.inbound:
		return m, nil
	case <-s.doneCh:
		select {
		case m := <-s.inbound:
			return m, nil
		default:
			return Message{}, ErrClosed
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *Session) handleReadError(conn net.Conn, gen uint64, err error) {
	if errors.Is(err, proto.ErrTamper) {
		s.log.Errorf("session %x: authentication failure, closing: %v", s.id, err)
		if s.handlers.OnProtocolError != nil {
			s.handlers.OnProtocolError("tamper", err)
		}
		s.Shutdown()
		return
	}

	s.mu.Lock()
	if s.state == StateClosed || s.readGen != gen {
		s.mu.Unlock()
		return
	}
	if s.conn == conn {
		conn.Close()
		s.conn = nil
	}
	s.state = StateReconnecting
	timeout := s.cfg.ReconnectTimeout
	s.reconnectTimer = time.AfterFunc(timeout, s.expireReconnect)
	s.mu.Unlock()

	s.log.Infof("session %x: transport lost, reconnecting within %v", s.id, timeout)
}

func (s *Session) expireReconnect() {
	s.mu.Lock()
	if s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.log.Warnf("session %x: reconnect grace period elapsed, closing", s.id)
	s.Shutdown()
}

// nowUnix returns the current time as a Unix epoch float, the wire
// format's send-timestamp representation (spec §4.B, §6).
func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
