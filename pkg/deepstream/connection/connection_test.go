package connection

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/internal/fakes"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
)

const testURL = "ws://localhost:6020/deepstream"

type fakeSocket struct {
	url    string
	events deepstream.SocketEvents
	sent   [][]byte
	closed bool
}

func (s *fakeSocket) Send(data []byte) error {
	if s.closed {
		return errors.New("socket closed")
	}
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

// messages decodes everything written to the socket.
func (s *fakeSocket) messages(t *testing.T) []*protocol.Message {
	t.Helper()
	var out []*protocol.Message
	for _, frame := range s.sent {
		results, rest := protocol.Parse(frame)
		require.Empty(t, rest)
		for _, r := range results {
			require.Nil(t, r.Err)
			out = append(out, r.Message)
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	env     *fakes.Env
	conn    *Connection
	sockets []*fakeSocket
	states  []deepstream.ConnectionState
}

func newHarness(t *testing.T, options deepstream.Options) *harness {
	h := &harness{t: t, env: fakes.NewEnv(options)}
	h.conn = New(h.env.Services, func(url string, events deepstream.SocketEvents) deepstream.Socket {
		s := &fakeSocket{url: url, events: events}
		h.sockets = append(h.sockets, s)
		return s
	})
	h.env.Services.Connection = h.conn
	h.conn.OnStateChange(func(change deepstream.StateChange) {
		h.states = append(h.states, change.To)
	})
	return h
}

func (h *harness) socket() *fakeSocket {
	h.t.Helper()
	require.NotEmpty(h.t, h.sockets)
	return h.sockets[len(h.sockets)-1]
}

func (h *harness) drain() { h.env.Loop.Drain() }

func (h *harness) open() {
	h.t.Helper()
	h.socket().events.OnOpen()
	h.drain()
}

func (h *harness) receive(msgs ...*protocol.Message) {
	h.t.Helper()
	var stream []byte
	for _, m := range msgs {
		frame, err := protocol.Encode(m)
		require.NoError(h.t, err)
		stream = append(stream, frame...)
	}
	h.socket().events.OnMessage(stream)
	h.drain()
}

func (h *harness) dropSocket(err error) {
	h.t.Helper()
	s := h.socket()
	if err != nil {
		s.events.OnError(err)
	}
	s.events.OnClose()
	h.drain()
}

func (h *harness) handshake() {
	h.t.Helper()
	h.open()
	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionChallenge})
	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionAccept})
}

func (h *harness) authSuccess() {
	h.t.Helper()
	h.receive(&protocol.Message{Topic: protocol.TopicAuth, Action: protocol.AuthSuccessful,
		ParsedData: map[string]any{"id": "user"}})
}

type authResult struct {
	success bool
	data    any
}

func (h *harness) login() *[]authResult {
	h.t.Helper()
	var results []authResult
	require.NoError(h.t, h.conn.Authenticate(map[string]any{"username": "alice"}, func(success bool, data any) {
		results = append(results, authResult{success, data})
	}))
	h.drain()
	return &results
}

func (h *harness) connectAndLogin() *[]authResult {
	h.t.Helper()
	require.NoError(h.t, h.conn.Open(testURL))
	h.handshake()
	results := h.login()
	h.authSuccess()
	require.Equal(h.t, deepstream.StateOpen, h.conn.State())
	return results
}

func (h *harness) count(event deepstream.Event) int {
	n := 0
	for _, e := range h.env.Events() {
		if e == string(event) {
			n++
		}
	}
	return n
}

func actions(msgs []*protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("%s %s", m.Topic, protocol.ActionName(m.Topic, m.Action))
	}
	return out
}

func TestHandshake(t *testing.T) {
	h := newHarness(t, deepstream.Options{})
	require.NoError(t, h.conn.Open("localhost:6020"))
	assert.Equal(t, testURL, h.socket().url)
	assert.Equal(t, deepstream.StateClosed, h.conn.State())

	h.open()
	assert.Equal(t, deepstream.StateAwaitingConnection, h.conn.State())

	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionChallenge})
	assert.Equal(t, deepstream.StateChallenging, h.conn.State())
	sent := h.socket().messages(t)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.ConnectionChallengeResponse, sent[0].Action)
	assert.Equal(t, testURL, sent[0].URL)

	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionAccept})
	assert.Equal(t, deepstream.StateAwaitingAuthentication, h.conn.State())

	results := h.login()
	assert.Equal(t, deepstream.StateAuthenticating, h.conn.State())
	sent = h.socket().messages(t)
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.TopicAuth, sent[1].Topic)
	assert.Equal(t, protocol.AuthRequest, sent[1].Action)
	assert.Equal(t, map[string]any{"username": "alice"}, sent[1].ParsedData)

	h.authSuccess()
	assert.Equal(t, deepstream.StateOpen, h.conn.State())
	assert.True(t, h.conn.IsConnected())
	assert.Equal(t, []authResult{{true, map[string]any{"id": "user"}}}, *results)

	assert.Equal(t, []deepstream.ConnectionState{
		deepstream.StateAwaitingConnection,
		deepstream.StateChallenging,
		deepstream.StateAwaitingAuthentication,
		deepstream.StateAuthenticating,
		deepstream.StateOpen,
	}, h.states)
}

func TestAuthenticateBeforeAccept(t *testing.T) {
	h := newHarness(t, deepstream.Options{})
	require.NoError(t, h.conn.Open(testURL))
	results := h.login()
	assert.Equal(t, deepstream.StateClosed, h.conn.State())

	h.handshake()
	assert.Equal(t, deepstream.StateAuthenticating, h.conn.State())
	h.authSuccess()
	assert.Len(t, *results, 1)
}

func TestAuthenticateAgain(t *testing.T) {
	t.Run("later call before accept supersedes the pending one", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		require.NoError(t, h.conn.Open(testURL))
		first := h.login()

		var second []authResult
		require.NoError(t, h.conn.Authenticate(map[string]any{"username": "bob"}, func(success bool, data any) {
			second = append(second, authResult{success, data})
		}))
		assert.Equal(t, []authResult{{false, map[string]any{"reason": "AUTHENTICATION_SUPERSEDED"}}}, *first)
		assert.Equal(t, 1, h.count(deepstream.EventAuthenticationSuperseded))

		h.handshake()
		sent := h.socket().messages(t)
		require.Len(t, sent, 2)
		assert.Equal(t, map[string]any{"username": "bob"}, sent[1].ParsedData)

		h.authSuccess()
		assert.Equal(t, []authResult{{true, map[string]any{"id": "user"}}}, second)
		assert.Len(t, *first, 1)
	})

	t.Run("while open answers with the current session", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		h.connectAndLogin()
		before := len(h.socket().messages(t))

		var again []authResult
		require.NoError(t, h.conn.Authenticate(map[string]any{"username": "mallory"}, func(success bool, data any) {
			again = append(again, authResult{success, data})
		}))
		assert.Equal(t, []authResult{{true, map[string]any{"id": "user"}}}, again)
		assert.Equal(t, deepstream.StateOpen, h.conn.State())
		assert.Len(t, h.socket().messages(t), before, "nothing is sent")

		h.dropSocket(nil)
		h.env.Timers.Advance(0)
		h.handshake()
		sent := h.socket().messages(t)
		require.Len(t, sent, 2)
		assert.Equal(t, map[string]any{"username": "alice"}, sent[1].ParsedData, "the accepted params are resent")
	})
}

func TestStateMachineIsDeterministic(t *testing.T) {
	run := func() ([]deepstream.ConnectionState, []string) {
		h := newHarness(t, deepstream.Options{MaxReconnectAttempts: 2})
		h.connectAndLogin()
		h.conn.Send(&protocol.Message{Topic: protocol.TopicEvent, Action: protocol.EventEmit, Name: "a"})
		h.dropSocket(syscall.ECONNRESET)
		h.env.Timers.Advance(0)
		h.handshake()
		h.authSuccess()
		h.conn.Close()
		h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionClosed})

		var sent []string
		for _, s := range h.sockets {
			sent = append(sent, actions(s.messages(t))...)
		}
		return h.states, sent
	}

	states1, sent1 := run()
	states2, sent2 := run()
	assert.Equal(t, states1, states2)
	assert.Equal(t, sent1, sent2)
	assert.Equal(t, deepstream.StateClosed, states1[len(states1)-1])
}

func TestAuthenticationFailures(t *testing.T) {
	t.Run("unsuccessful calls back and waits", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		require.NoError(t, h.conn.Open(testURL))
		h.handshake()
		results := h.login()

		h.receive(&protocol.Message{Topic: protocol.TopicAuth, Action: protocol.AuthUnsuccessful})
		assert.Equal(t, deepstream.StateAwaitingAuthentication, h.conn.State())
		assert.Equal(t, []authResult{{false, map[string]any{"reason": "INVALID_AUTHENTICATION_DETAILS"}}}, *results)

		second := h.login()
		assert.Equal(t, deepstream.StateAuthenticating, h.conn.State())
		h.authSuccess()
		assert.Len(t, *second, 1)
		assert.Len(t, *results, 1)
	})

	t.Run("reauthentication failure after reconnect", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		results := h.connectAndLogin()

		h.dropSocket(nil)
		h.env.Timers.Advance(0)
		h.handshake()
		assert.Equal(t, deepstream.StateAuthenticating, h.conn.State(), "params are resent automatically")

		h.receive(&protocol.Message{Topic: protocol.TopicAuth, Action: protocol.AuthUnsuccessful})
		assert.Equal(t, 1, h.count(deepstream.EventReauthenticationFailure))
		assert.Len(t, *results, 1)
	})

	t.Run("server payload is kept beside the reason", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		require.NoError(t, h.conn.Open(testURL))
		h.handshake()
		results := h.login()

		h.receive(&protocol.Message{Topic: protocol.TopicAuth, Action: protocol.AuthUnsuccessful,
			ParsedData: map[string]any{"hint": "locked"}})
		assert.Equal(t, []authResult{{false, map[string]any{
			"reason": "INVALID_AUTHENTICATION_DETAILS",
			"data":   map[string]any{"hint": "locked"},
		}}}, *results)
	})

	t.Run("failed first login is not a reauthentication failure", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		require.NoError(t, h.conn.Open(testURL))
		h.handshake()
		results := h.login()
		h.receive(&protocol.Message{Topic: protocol.TopicAuth, Action: protocol.AuthUnsuccessful})
		require.Len(t, *results, 1)

		h.dropSocket(nil)
		h.env.Timers.Advance(0)
		h.handshake()
		require.Equal(t, deepstream.StateAuthenticating, h.conn.State())

		h.receive(&protocol.Message{Topic: protocol.TopicAuth, Action: protocol.AuthUnsuccessful})
		assert.Equal(t, 0, h.count(deepstream.EventReauthenticationFailure))
		assert.Equal(t, 1, h.count(deepstream.EventInvalidAuthenticationDetails))
	})

	t.Run("too many attempts is terminal", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		require.NoError(t, h.conn.Open(testURL))
		h.handshake()
		results := h.login()

		h.receive(&protocol.Message{Topic: protocol.TopicAuth, Action: protocol.AuthTooManyAttempts})
		assert.Equal(t, deepstream.StateTooManyAuthAttempts, h.conn.State())
		assert.True(t, h.socket().closed)
		assert.Equal(t, 1, h.count(deepstream.EventTooManyAuthAttempts))
		assert.Equal(t, []authResult{{false, map[string]any{"reason": "TOO_MANY_AUTH_ATTEMPTS"}}}, *results)

		h.env.Timers.Advance(time.Hour)
		assert.Len(t, h.sockets, 1)

		err := h.conn.Authenticate(nil, nil)
		assert.ErrorIs(t, err, deepstream.ErrConnectionClosed)
		assert.True(t, deepstream.IsTerminal(err))
		assert.Equal(t, 1, h.count(deepstream.EventIsClosed))
	})

	t.Run("authentication timeout is terminal", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{})
		require.NoError(t, h.conn.Open(testURL))
		h.handshake()

		h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionAuthenticationTimeout})
		assert.Equal(t, deepstream.StateAuthenticationTimeout, h.conn.State())
		h.env.Timers.Advance(time.Hour)
		assert.Len(t, h.sockets, 1)
	})
}

func TestChallengeRejected(t *testing.T) {
	h := newHarness(t, deepstream.Options{})
	require.NoError(t, h.conn.Open(testURL))
	h.open()
	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionChallenge})
	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionReject})

	assert.Equal(t, deepstream.StateChallengeDenied, h.conn.State())
	assert.True(t, h.socket().closed)
	assert.Equal(t, 1, h.count(deepstream.EventChallengeDenied))

	h.env.Timers.Advance(time.Hour)
	assert.Len(t, h.sockets, 1)
	assert.Equal(t, deepstream.StateChallengeDenied, h.conn.State())
}

func TestRedirect(t *testing.T) {
	const other = "ws://other:7000/deepstream"
	h := newHarness(t, deepstream.Options{})
	require.NoError(t, h.conn.Open(testURL))
	h.open()
	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionChallenge})
	first := h.socket()

	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionRedirect, URL: other})
	assert.True(t, first.closed)
	require.Len(t, h.sockets, 2)
	assert.Equal(t, other, h.socket().url)
	assert.Equal(t, other, h.conn.URL())
	assert.Equal(t, testURL, h.conn.OriginalURL())
	assert.Contains(t, h.states, deepstream.StateRedirecting)

	t.Run("stale callbacks are ignored", func(t *testing.T) {
		first.events.OnClose()
		frame, err := protocol.Encode(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionReject})
		require.NoError(t, err)
		first.events.OnMessage(frame)
		h.drain()
		assert.Len(t, h.sockets, 2)
		assert.Equal(t, deepstream.StateRedirecting, h.conn.State())
	})

	t.Run("challenge response carries the original url", func(t *testing.T) {
		h.open()
		h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionChallenge})
		sent := h.socket().messages(t)
		require.Len(t, sent, 1)
		assert.Equal(t, testURL, sent[0].URL)
	})

	t.Run("reconnect goes back to the original url", func(t *testing.T) {
		h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionAccept})
		h.login()
		h.authSuccess()

		h.dropSocket(nil)
		h.env.Timers.Advance(0)
		require.Len(t, h.sockets, 3)
		assert.Equal(t, testURL, h.socket().url)
		assert.Equal(t, testURL, h.conn.URL())
	})
}

func TestReconnectionBound(t *testing.T) {
	h := newHarness(t, deepstream.Options{
		MaxReconnectAttempts:       3,
		ReconnectIntervalIncrement: 4 * time.Second,
		MaxReconnectInterval:       6 * time.Second,
	})
	require.NoError(t, h.conn.Open(testURL))

	refused := fmt.Errorf("dial: %w", syscall.ECONNREFUSED)

	// first retry is immediate
	h.dropSocket(refused)
	assert.Equal(t, deepstream.StateReconnecting, h.conn.State())
	h.env.Timers.Advance(0)
	require.Len(t, h.sockets, 2)

	// second waits one increment
	h.dropSocket(refused)
	h.env.Timers.Advance(3999 * time.Millisecond)
	require.Len(t, h.sockets, 2)
	h.env.Timers.Advance(time.Millisecond)
	require.Len(t, h.sockets, 3)

	// third is capped by maxReconnectInterval
	h.dropSocket(refused)
	h.env.Timers.Advance(5999 * time.Millisecond)
	require.Len(t, h.sockets, 3)
	h.env.Timers.Advance(time.Millisecond)
	require.Len(t, h.sockets, 4)

	h.dropSocket(refused)
	assert.Equal(t, deepstream.StateClosed, h.conn.State())
	assert.Equal(t, 1, h.count(deepstream.EventMaxReconnectionAttempts))

	h.env.Timers.Advance(time.Hour)
	assert.Len(t, h.sockets, 4)
	assert.Equal(t, 1, h.count(deepstream.EventMaxReconnectionAttempts))
	assert.Equal(t, 4, h.count(deepstream.EventConnectionError))

	t.Run("socket errors are readable", func(t *testing.T) {
		entries := h.env.Logs.FilterMessage("Can't connect! Deepstream server unreachable on " + testURL).All()
		assert.Len(t, entries, 4)
	})

	t.Run("authenticate reopens after giving up", func(t *testing.T) {
		require.NoError(t, h.conn.Authenticate(nil, nil))
		h.drain()
		assert.Len(t, h.sockets, 5)
		assert.Equal(t, testURL, h.socket().url)
	})
}

func TestOpenResetsAttempts(t *testing.T) {
	h := newHarness(t, deepstream.Options{MaxReconnectAttempts: 2})
	require.NoError(t, h.conn.Open(testURL))

	for i := 0; i < 5; i++ {
		h.open()
		h.dropSocket(nil)
		h.env.Timers.Advance(0)
	}
	assert.Len(t, h.sockets, 6)
	assert.Zero(t, h.count(deepstream.EventMaxReconnectionAttempts))
}

func TestNoReconnect(t *testing.T) {
	h := newHarness(t, deepstream.Options{MaxReconnectAttempts: deepstream.NoReconnect})
	h.connectAndLogin()

	h.dropSocket(nil)
	h.env.Timers.Advance(time.Minute)
	assert.Len(t, h.sockets, 1)
	assert.Equal(t, deepstream.StateClosed, h.conn.State())
	assert.Equal(t, 1, h.count(deepstream.EventMaxReconnectionAttempts))
}

func TestHeartbeat(t *testing.T) {
	interval := 15 * time.Millisecond

	t.Run("missed heartbeats close the socket", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{HeartbeatInterval: interval})
		h.connectAndLogin()
		opened := h.socket()

		h.env.Timers.Advance(interval * 3 / 2)
		assert.Zero(t, h.count(deepstream.EventHeartbeatTimeout))
		assert.Equal(t, deepstream.StateOpen, h.conn.State())

		h.env.Timers.Advance(interval * 3 / 2)
		assert.Equal(t, 1, h.count(deepstream.EventHeartbeatTimeout))
		assert.True(t, opened.closed)
		assert.Equal(t, deepstream.StateReconnecting, h.conn.State())

		h.env.Timers.Advance(10 * interval)
		assert.Equal(t, 1, h.count(deepstream.EventHeartbeatTimeout))
	})

	t.Run("pings keep the connection alive", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{HeartbeatInterval: interval})
		h.connectAndLogin()
		before := len(h.socket().sent)

		for i := 0; i < 10; i++ {
			h.env.Timers.Advance(interval)
			h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionPing})
		}
		assert.Zero(t, h.count(deepstream.EventHeartbeatTimeout))
		assert.Equal(t, deepstream.StateOpen, h.conn.State())

		sent := h.socket().messages(t)[before:]
		require.Len(t, sent, 10)
		for _, m := range sent {
			assert.Equal(t, protocol.ConnectionPong, m.Action)
		}
	})
}

func TestSendBuffering(t *testing.T) {
	h := newHarness(t, deepstream.Options{})
	require.NoError(t, h.conn.Open(testURL))

	emit := func(name string) *protocol.Message {
		return &protocol.Message{Topic: protocol.TopicEvent, Action: protocol.EventEmit, Name: name}
	}
	h.conn.Send(emit("one"))
	h.conn.Send(emit("two"))
	assert.Equal(t, 2, h.conn.Buffered())

	h.handshake()
	h.login()
	h.authSuccess()
	assert.Zero(t, h.conn.Buffered())

	h.conn.Send(emit("three"))
	assert.Equal(t, []string{
		"CONNECTION CHALLENGE_RESPONSE",
		"AUTH REQUEST",
		"EVENT EMIT",
		"EVENT EMIT",
		"EVENT EMIT",
	}, actions(h.socket().messages(t)))

	var names []string
	for _, m := range h.socket().messages(t)[2:] {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"one", "two", "three"}, names)
}

func TestClose(t *testing.T) {
	h := newHarness(t, deepstream.Options{})
	h.connectAndLogin()
	lost := 0
	h.conn.OnLost(func() { lost++ })

	h.conn.Close()
	assert.Equal(t, deepstream.StateClosing, h.conn.State())
	assert.Equal(t, "CONNECTION CLOSING", actions(h.socket().messages(t))[2])
	assert.Equal(t, 1, lost)

	h.receive(&protocol.Message{Topic: protocol.TopicConnection, Action: protocol.ConnectionClosed})
	assert.Equal(t, deepstream.StateClosed, h.conn.State())
	assert.True(t, h.socket().closed)

	h.env.Timers.Advance(time.Hour)
	assert.Len(t, h.sockets, 1)

	h.conn.Send(&protocol.Message{Topic: protocol.TopicEvent, Action: protocol.EventEmit, Name: "late"})
	assert.Zero(t, h.conn.Buffered())
	assert.Equal(t, 1, h.count(deepstream.EventIsClosed))

	t.Run("authenticate reopens", func(t *testing.T) {
		results := h.login()
		require.Len(t, h.sockets, 2)
		h.handshake()
		h.authSuccess()
		assert.Equal(t, deepstream.StateOpen, h.conn.State())
		assert.Len(t, *results, 1)
	})
}

func TestCloseWhileReconnecting(t *testing.T) {
	h := newHarness(t, deepstream.Options{ReconnectIntervalIncrement: time.Second})
	h.connectAndLogin()
	h.dropSocket(nil)
	h.env.Timers.Advance(0)
	h.dropSocket(nil)
	require.Equal(t, deepstream.StateReconnecting, h.conn.State())

	h.conn.Close()
	assert.Equal(t, deepstream.StateClosed, h.conn.State())
	h.env.Timers.Advance(time.Hour)
	assert.Len(t, h.sockets, 2)
}

func TestLimbo(t *testing.T) {
	t.Run("expires after the offline buffer timeout", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{OfflineBufferTimeout: 2 * time.Second})
		h.connectAndLogin()
		var events []string
		h.conn.OnLost(func() { events = append(events, "lost") })
		h.conn.OnExitLimbo(func() { events = append(events, "exitLimbo") })
		h.conn.OnReestablished(func() { events = append(events, "reestablished") })

		h.dropSocket(nil)
		assert.True(t, h.conn.IsInLimbo())
		assert.Equal(t, []string{"lost"}, events)

		h.env.Timers.Advance(1999 * time.Millisecond)
		assert.True(t, h.conn.IsInLimbo())
		h.env.Timers.Advance(time.Millisecond)
		assert.False(t, h.conn.IsInLimbo())
		assert.Equal(t, []string{"lost", "exitLimbo"}, events)

		h.handshake()
		h.authSuccess()
		assert.Equal(t, []string{"lost", "exitLimbo", "reestablished"}, events)
	})

	t.Run("reconnecting in time ends limbo quietly", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{OfflineBufferTimeout: 2 * time.Second})
		h.connectAndLogin()
		var events []string
		h.conn.OnExitLimbo(func() { events = append(events, "exitLimbo") })
		h.conn.OnReestablished(func() { events = append(events, "reestablished") })

		h.dropSocket(nil)
		h.env.Timers.Advance(0)
		h.handshake()
		h.authSuccess()
		assert.False(t, h.conn.IsInLimbo())

		h.env.Timers.Advance(3 * time.Second)
		assert.Equal(t, []string{"reestablished"}, events)
	})

	t.Run("giving up exits limbo at once", func(t *testing.T) {
		h := newHarness(t, deepstream.Options{MaxReconnectAttempts: 1, OfflineBufferTimeout: time.Minute})
		h.connectAndLogin()
		exits := 0
		h.conn.OnExitLimbo(func() { exits++ })

		h.dropSocket(nil)
		h.env.Timers.Advance(0)
		h.dropSocket(nil)
		assert.Equal(t, deepstream.StateClosed, h.conn.State())
		assert.False(t, h.conn.IsInLimbo())
		assert.Equal(t, 1, exits)
	})
}

func TestIncomingMessages(t *testing.T) {
	h := newHarness(t, deepstream.Options{})
	h.connectAndLogin()
	var got []*protocol.Message
	h.conn.RegisterHandler(protocol.TopicEvent, func(m *protocol.Message) { got = append(got, m) })

	t.Run("routed to topic handler", func(t *testing.T) {
		h.receive(&protocol.Message{Topic: protocol.TopicEvent, Action: protocol.EventEmit, Name: "a", Data: []byte(`1`)})
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Name)
	})

	t.Run("unsolicited topic", func(t *testing.T) {
		h.receive(&protocol.Message{Topic: protocol.TopicPresence, Action: protocol.PresenceJoin, Name: "bob"})
		assert.Equal(t, 1, h.count(deepstream.EventUnsolicitedMessage))
	})

	t.Run("parse errors are reported and skipped", func(t *testing.T) {
		bad := []byte{0x2a, 0x01, 0, 0, 0, 0, 0, 0}
		good, err := protocol.Encode(&protocol.Message{Topic: protocol.TopicEvent, Action: protocol.EventEmit, Name: "b"})
		require.NoError(t, err)
		h.socket().events.OnMessage(append(bad, good...))
		h.drain()
		assert.Equal(t, 1, h.count(deepstream.EventUnknownTopic))
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[1].Name)
	})

	t.Run("invalid messages are dropped", func(t *testing.T) {
		// RPC RESPONSE without a correlation id
		frame := []byte{byte(protocol.TopicRPC), byte(protocol.RPCResponse), 0, 0, 0, 0, 0, 0}
		h.socket().events.OnMessage(frame)
		h.drain()
		assert.Equal(t, 1, h.count(deepstream.EventInvalidMessage))
	})

	t.Run("frames split across reads", func(t *testing.T) {
		frame, err := protocol.Encode(&protocol.Message{Topic: protocol.TopicEvent, Action: protocol.EventEmit, Name: "split"})
		require.NoError(t, err)
		h.socket().events.OnMessage(frame[:3])
		h.socket().events.OnMessage(frame[3:])
		h.drain()
		require.Len(t, got, 3)
		assert.Equal(t, "split", got[2].Name)
	})
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"localhost:6020", "ws://localhost:6020/deepstream", false},
		{":6020", "ws://localhost:6020/deepstream", false},
		{"ws://host:6020/custom", "ws://host:6020/custom", false},
		{"https://host", "wss://host/deepstream", false},
		{"//host:1/", "ws://host:1/deepstream", false},
		{"ftp://host", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in, "/deepstream")
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
