package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentalk/relaynet/pkg/proto"
	"github.com/zentalk/relaynet/pkg/session"
	"github.com/zentalk/relaynet/pkg/wire"
)

func startTestServer(t *testing.T, handlers Handlers) (*Server, func()) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ReconnectTimeout = 200 * time.Millisecond

	srv, err := New(cfg, handlers)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	srv.Addr() // blocks until listening

	return srv, func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		<-serveDone
	}
}

func TestServerAcceptsHandshakeAndDeliversMessages(t *testing.T) {
	received := make(chan session.Message, 1)
	connected := make(chan *session.Session, 1)

	srv, stop := startTestServer(t, Handlers{
		OnNewConnection: func(s *session.Session) { connected <- s },
		OnReceivingMessage: func(m session.Message) {
			received <- m
		},
	})
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	clientID := mustGenerateClientID(t)
	ctx, id, err := proto.ClientHandshake(conn, clientID)
	require.NoError(t, err)
	assert.Equal(t, clientID, id)

	select {
	case s := <-connected:
		assert.Equal(t, id, s.ID())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnNewConnection")
	}

	require.NoError(t, proto.WriteFrame(conn, ctx, proto.EncodePayload(1.0, mustEncode(t, "ping"))))

	select {
	case m := <-received:
		assert.Equal(t, "ping", m.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestServerGivesDistinctClientsDistinctSessions(t *testing.T) {
	srv, stop := startTestServer(t, Handlers{})
	defer stop()

	conn1, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()
	_, id1, err := proto.ClientHandshake(conn1, mustGenerateClientID(t))
	require.NoError(t, err)

	conn2, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()
	_, id2, err := proto.ClientHandshake(conn2, mustGenerateClientID(t))
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Eventually(t, func() bool { return srv.SessionCount() == 2 }, time.Second, 10*time.Millisecond)
}

// TestServerRejectsSecondTransportWhileOpen exercises the real reconnect
// race through Server.acceptConn: a second transport presenting the same
// session identifier while the first is still OPEN must be rejected, not
// allowed to hijack the live session (spec §4.F/§9's resolved Open
// Question), and the original connection must remain untouched.
func TestServerRejectsSecondTransportWhileOpen(t *testing.T) {
	connected := make(chan *session.Session, 2)
	srv, stop := startTestServer(t, Handlers{
		OnNewConnection: func(s *session.Session) { connected <- s },
	})
	defer stop()

	sharedID := mustGenerateClientID(t)

	conn1, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()
	ctx1, id1, err := proto.ClientHandshake(conn1, sharedID)
	require.NoError(t, err)
	assert.Equal(t, sharedID, id1)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first OnNewConnection")
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn2, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()
	_, _, err = proto.ClientHandshake(conn2, sharedID)
	require.NoError(t, err)

	// The rejected transport gets closed server-side without ever firing
	// OnNewConnection a second time; the registry still holds exactly one
	// session for the shared identifier.
	select {
	case <-connected:
		t.Fatal("OnNewConnection fired for a rejected reattach")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 1, srv.SessionCount())

	buf := make([]byte, 1)
	conn2.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn2.Read(buf)
	assert.Error(t, err)

	// The original transport is unaffected and can still send.
	require.NoError(t, proto.WriteFrame(conn1, ctx1, proto.EncodePayload(1.0, mustEncode(t, "still-open"))))
}

func mustGenerateClientID(t *testing.T) proto.ID {
	t.Helper()
	id, err := proto.GenerateID()
	require.NoError(t, err)
	return id
}

func TestServerDisconnectCallbackFiresOnClose(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	srv, stop := startTestServer(t, Handlers{
		OnClientDisconnect: func(*session.Session) { disconnected <- struct{}{} },
	})
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	_, _, err = proto.ClientHandshake(conn, mustGenerateClientID(t))
	require.NoError(t, err)

	conn.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}
}

func TestCreateGroupAndAdminLookup(t *testing.T) {
	srv, stop := startTestServer(t, Handlers{})
	defer stop()

	g := srv.CreateGroup("lobby")
	got, ok := srv.Group(g.ID)
	assert.True(t, ok)
	assert.Equal(t, "lobby", got.Name)
}

func mustEncode(t *testing.T, v wire.Value) []byte {
	t.Helper()
	buf, err := wire.Encode(v)
	require.NoError(t, err)
	return buf
}
