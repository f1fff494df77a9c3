// Package server implements the connection supervisor (spec §4.G): it
// accepts TCP connections, drives the RSA handshake, creates or reattaches
// sessions under their claimed identifier, and fans application callbacks
// out to user code with panic isolation. An optional gin-backed admin API
// and Prometheus metrics surface the registry for operators.
package server

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pion/logging"
	"github.com/rs/xid"

	"github.com/zentalk/relaynet/pkg/crypto"
	"github.com/zentalk/relaynet/pkg/group"
	"github.com/zentalk/relaynet/pkg/proto"
	"github.com/zentalk/relaynet/pkg/session"
)

// Handlers are the application callbacks the supervisor drives. Every
// callback is invoked from an internal goroutine with panics recovered
// and reported through the diagnostic sink and handlerPanics metric,
// so a misbehaving handler can never take the server down.
type Handlers struct {
	// OnNewConnection fires once a handshake completes and a brand new
	// session (not a reattach) is registered.
	OnNewConnection func(*session.Session)
	// OnReceivingMessage fires for every decoded application message.
	OnReceivingMessage func(session.Message)
	// OnClientDisconnect fires once a session reaches StateClosed.
	OnClientDisconnect func(*session.Session)
	// OnReconnect fires when a dropped transport successfully reattaches
	// to an existing RECONNECTING session.
	OnReconnect func(*session.Session)
}

// Server is the connection supervisor: it owns the listener, the RSA
// keypair backing the handshake, the session registry, and the named
// group registry.
type Server struct {
	cfg      Config
	priv     *rsa.PrivateKey
	handlers Handlers
	log      logging.LeveledLogger
	diag     *diagnostics
	metrics  *metrics

	mu       sync.RWMutex
	sessions map[proto.ID]*session.Session

	groupsMu sync.RWMutex
	groups   map[xid.ID]*group.Group

	listener net.Listener
	admin    *adminServer
	readyCh  chan struct{}

	wg sync.WaitGroup
}

// New constructs a Server. It loads the RSA key from cfg.RSAKeyPath if set,
// generating and persisting one if the file does not yet exist, or
// generates an ephemeral in-memory key when RSAKeyPath is empty.
func New(cfg Config, handlers Handlers) (*Server, error) {
	priv, err := loadOrGenerateKey(cfg.RSAKeyPath)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	log := logging.NewDefaultLoggerFactory().NewLogger("relaynet")
	s := &Server{
		cfg:      cfg,
		priv:     priv,
		handlers: handlers,
		log:      log,
		diag:     newDiagnostics(log),
		metrics:  newMetrics(),
		sessions: make(map[proto.ID]*session.Session),
		groups:   make(map[xid.ID]*group.Group),
		readyCh:  make(chan struct{}),
	}
	if cfg.AdminAddr != "" {
		s.admin = newAdminServer(cfg.AdminAddr, s)
	}
	return s, nil
}

func loadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return crypto.GenerateRSAKeyPair()
	}
	if data, err := os.ReadFile(path); err == nil {
		return crypto.ImportPrivateKeyPEM(data)
	}
	priv, err := crypto.GenerateRSAKeyPair()
	if err != nil {
		return nil, err
	}
	pemData, err := crypto.ExportPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyToFile(path, pemData); err != nil {
		return nil, err
	}
	return priv, nil
}

// Serve listens on cfg.ListenAddr and accepts connections until ctx is
// canceled or Shutdown is called. It blocks until the accept loop exits.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	close(s.readyCh)

	if s.admin != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.admin.Serve(); err != nil {
				s.log.Errorf("admin API stopped: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Infof("listening on %s", s.cfg.ListenAddr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptConn(conn)
		}()
	}
}

// Addr blocks until the listener is bound and returns its address. Callers
// typically use this after starting Serve in a goroutine, e.g. in tests
// that need to connect to an ephemeral port.
func (s *Server) Addr() net.Addr {
	<-s.readyCh
	return s.listener.Addr()
}

// Shutdown closes the listener, the admin API, and every tracked session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.admin != nil {
		_ = s.admin.Shutdown(ctx)
	}

	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Shutdown()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acceptConn runs the handshake on a freshly accepted connection and
// either creates a new session or reattaches an existing one.
func (s *Server) acceptConn(conn net.Conn) {
	ctx, id, err := proto.ServerHandshake(conn, s.priv)
	if err != nil {
		s.metrics.handshakeFailures.Inc()
		s.diag.warn("handshake-failed", conn.RemoteAddr().String())
		conn.Close()
		return
	}

	s.mu.Lock()
	existing, ok := s.sessions[id]
	s.mu.Unlock()

	if ok {
		if err := existing.Reattach(conn, ctx); err != nil {
			s.diag.warn("reattach-rejected", fmt.Sprintf("%x: %v", id, err))
			conn.Close()
			if err == session.ErrClosed {
				s.mu.Lock()
				delete(s.sessions, id)
				s.mu.Unlock()
			}
			return
		}
		s.metrics.reconnects.Inc()
		return
	}

	sess := session.New(id, conn, ctx, session.Config{
		ReconnectTimeout:  s.cfg.ReconnectTimeout,
		MaxBufferedFrames: s.cfg.MaxBufferedFrames,
	}, session.Handlers{
		OnReceive:        s.dispatchReceive,
		OnDisconnect:     s.dispatchDisconnect,
		OnReconnect:      s.dispatchReconnect,
		OnFrameEncrypted: s.metrics.framesEncrypted.Inc,
		OnFrameDecrypted: s.metrics.framesDecrypted.Inc,
		OnProtocolError:  s.dispatchProtocolError,
	}, s.log)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.metrics.sessionsOpened.Inc()
	s.metrics.sessionsActive.Set(float64(s.SessionCount()))

	s.safeCall("OnNewConnection", func() {
		if s.handlers.OnNewConnection != nil {
			s.handlers.OnNewConnection(sess)
		}
	})
}

func (s *Server) dispatchReceive(msg session.Message) {
	s.metrics.messagesReceived.Inc()
	s.safeCall("OnReceivingMessage", func() {
		if s.handlers.OnReceivingMessage != nil {
			s.handlers.OnReceivingMessage(msg)
		}
	})
}

func (s *Server) dispatchDisconnect(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()

	s.metrics.sessionsClosed.Inc()
	s.metrics.sessionsActive.Set(float64(s.SessionCount()))

	s.safeCall("OnClientDisconnect", func() {
		if s.handlers.OnClientDisconnect != nil {
			s.handlers.OnClientDisconnect(sess)
		}
	})
}

// dispatchProtocolError records a wire-level failure reported by a
// session (tamper, malformed frame, malformed value) into the appropriate
// metric and the deduped diagnostic sink.
func (s *Server) dispatchProtocolError(kind string, err error) {
	switch kind {
	case "tamper":
		s.metrics.tamperRejections.Inc()
	case "malformed-frame", "malformed-value":
		s.metrics.malformedFrames.Inc()
	}
	s.diag.warn(kind, err.Error())
}

func (s *Server) dispatchReconnect(sess *session.Session) {
	s.safeCall("OnReconnect", func() {
		if s.handlers.OnReconnect != nil {
			s.handlers.OnReconnect(sess)
		}
	})
}

// safeCall runs fn, recovering any panic and reporting it through the
// diagnostic sink and the handlerPanics metric rather than letting it
// escape onto a server-owned goroutine.
func (s *Server) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.handlerPanics.WithLabelValues(name).Inc()
			s.diag.warn("handler-panic", fmt.Sprintf("%s: %v", name, r))
		}
	}()
	fn()
}

// Session looks up a tracked session by identifier.
func (s *Server) Session(id proto.ID) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns a snapshot of every tracked session.
func (s *Server) Sessions() []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SessionCount returns the number of tracked sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CreateGroup registers and returns a new, empty named group.
func (s *Server) CreateGroup(name string) *group.Group {
	g := group.New(name)
	s.groupsMu.Lock()
	s.groups[g.ID] = g
	s.groupsMu.Unlock()
	return g
}

// Group looks up a registered group by identifier.
func (s *Server) Group(id xid.ID) (*group.Group, bool) {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()
	g, ok := s.groups[id]
	return g, ok
}

// Groups returns a snapshot of every registered group.
func (s *Server) Groups() []*group.Group {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()
	out := make([]*group.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out
}
