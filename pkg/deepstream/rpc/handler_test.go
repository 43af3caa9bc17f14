package rpc

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/deepstream/pkg/deepstream"
	"github.com/tsarna/deepstream/pkg/deepstream/ack"
	"github.com/tsarna/deepstream/pkg/deepstream/internal/fakes"
	"github.com/tsarna/deepstream/pkg/deepstream/limbo"
	"github.com/tsarna/deepstream/pkg/deepstream/o11y"
	"github.com/tsarna/deepstream/pkg/deepstream/protocol"
)

type result struct {
	err   error
	value any
}

type callRecorder struct {
	results []result
}

func (c *callRecorder) callback(err error, value any) {
	c.results = append(c.results, result{err, value})
}

func setup(t *testing.T) (*fakes.Env, *Handler) {
	t.Helper()
	env := fakes.NewEnv(deepstream.Options{})
	env.Services.Timeouts = ack.NewRegistry(env.Services)
	env.Services.Offline = limbo.NewQueue(env.Services)
	h := NewHandler(env.Services)
	next := 0
	h.newID = func() string {
		next++
		return strconv.Itoa(next)
	}
	return env, h
}

func rpcMessage(action protocol.Action, cid string) *protocol.Message {
	return &protocol.Message{Topic: protocol.TopicRPC, Action: action, Name: "add", CorrelationID: cid}
}

func actions(msgs []*protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = protocol.ActionName(m.Topic, m.Action)
	}
	return out
}

func TestMakeSuccess(t *testing.T) {
	env, h := setup(t)
	rec := &callRecorder{}

	h.MakeAsync("add", []any{1.0, 2.0}, rec.callback)
	env.Loop.Drain()

	req := env.Conn.Last()
	require.NotNil(t, req)
	assert.Equal(t, protocol.RPCRequest, req.Action)
	assert.Equal(t, "add", req.Name)
	assert.Equal(t, "1", req.CorrelationID)
	assert.Equal(t, []any{1.0, 2.0}, req.ParsedData)
	assert.Equal(t, 1, h.Pending())

	env.Conn.Deliver(rpcMessage(protocol.RPCAccept, "1"))
	assert.Empty(t, rec.results)

	resp := rpcMessage(protocol.RPCResponse, "1")
	resp.ParsedData = 3.0
	env.Conn.Deliver(resp)
	require.Len(t, rec.results, 1)
	assert.NoError(t, rec.results[0].err)
	assert.Equal(t, 3.0, rec.results[0].value)
	assert.Zero(t, h.Pending())

	t.Run("late replies are ignored", func(t *testing.T) {
		env.Conn.Deliver(resp)
		env.Timers.Advance(time.Minute)
		assert.Len(t, rec.results, 1)
		assert.Empty(t, env.Events())
	})
}

func TestMakeTimeouts(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		env, h := setup(t)
		rec := &callRecorder{}
		h.MakeAsync("add", nil, rec.callback)
		env.Loop.Drain()

		env.Timers.Advance(5999 * time.Millisecond)
		assert.Empty(t, rec.results)
		env.Timers.Advance(time.Millisecond)
		require.Len(t, rec.results, 1)
		assert.ErrorIs(t, rec.results[0].err, deepstream.ErrAcceptTimeout)
		assert.True(t, deepstream.IsTransient(rec.results[0].err))

		env.Timers.Advance(time.Minute)
		assert.Len(t, rec.results, 1)
	})

	t.Run("response", func(t *testing.T) {
		env, h := setup(t)
		rec := &callRecorder{}
		h.MakeAsync("add", nil, rec.callback)
		env.Loop.Drain()
		env.Conn.Deliver(rpcMessage(protocol.RPCAccept, "1"))

		env.Timers.Advance(10 * time.Second)
		require.Len(t, rec.results, 1)
		assert.ErrorIs(t, rec.results[0].err, deepstream.ErrResponseTimeout)
	})

	t.Run("server side timeout", func(t *testing.T) {
		env, h := setup(t)
		rec := &callRecorder{}
		h.MakeAsync("add", nil, rec.callback)
		env.Loop.Drain()

		msg := rpcMessage(protocol.RPCAcceptTimeout, "1")
		msg.IsError = true
		env.Conn.Deliver(msg)
		require.Len(t, rec.results, 1)
		assert.ErrorIs(t, rec.results[0].err, deepstream.ErrAcceptTimeout)
	})
}

func TestMakeFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply *protocol.Message
		check func(t *testing.T, err error)
	}{
		{
			name: "request error",
			reply: &protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCRequestError, Name: "add",
				CorrelationID: "1", ParsedData: "division by zero"},
			check: func(t *testing.T, err error) {
				assert.True(t, IsRequestError(err))
				assert.Contains(t, err.Error(), "division by zero")
			},
		},
		{
			name:  "no provider",
			reply: &protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCNoProvider, IsError: true, Name: "add", CorrelationID: "1"},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, deepstream.ErrNoRPCProvider) },
		},
		{
			name: "message denied",
			reply: &protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCMessageDenied, IsError: true, Name: "add",
				CorrelationID: "1", OriginalAction: protocol.RPCRequest},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, deepstream.ErrMessageDenied) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, h := setup(t)
			rec := &callRecorder{}
			h.MakeAsync("add", nil, rec.callback)
			env.Loop.Drain()

			env.Conn.Deliver(tt.reply)
			require.Len(t, rec.results, 1)
			tt.check(t, rec.results[0].err)
			assert.Nil(t, rec.results[0].value)

			env.Timers.Advance(time.Minute)
			assert.Len(t, rec.results, 1)
		})
	}
}

func TestMakeValidation(t *testing.T) {
	env, h := setup(t)
	rec := &callRecorder{}
	h.MakeAsync("", nil, rec.callback)
	env.Loop.Drain()
	require.Len(t, rec.results, 1)
	assert.Equal(t, deepstream.ErrorInvalid, deepstream.Classify(rec.results[0].err))
	assert.Empty(t, env.Conn.Sent)
}

func TestMakeOffline(t *testing.T) {
	t.Run("fails at once when not in limbo", func(t *testing.T) {
		env, h := setup(t)
		env.Conn.Connected = false
		rec := &callRecorder{}

		h.MakeAsync("add", nil, rec.callback)
		env.Loop.Drain()
		require.Len(t, rec.results, 1)
		assert.ErrorIs(t, rec.results[0].err, deepstream.ErrClientOffline)
		assert.Empty(t, env.Conn.Sent)
	})

	t.Run("waits in limbo and replays", func(t *testing.T) {
		env, h := setup(t)
		env.Conn.Lose()
		rec := &callRecorder{}

		h.MakeAsync("add", 1, rec.callback)
		h.MakeAsync("add", 2, rec.callback)
		env.Loop.Drain()
		assert.Empty(t, env.Conn.Sent)

		env.Conn.Reestablish()
		sent := env.Conn.Take()
		require.Len(t, sent, 2)
		assert.Equal(t, 1, sent[0].ParsedData)
		assert.Equal(t, 2, sent[1].ParsedData)
		assert.Empty(t, rec.results)
	})

	t.Run("fails when limbo expires", func(t *testing.T) {
		env, h := setup(t)
		env.Conn.Lose()
		rec := &callRecorder{}

		h.MakeAsync("add", nil, rec.callback)
		env.Loop.Drain()
		env.Conn.ExitLimbo()
		require.Len(t, rec.results, 1)
		assert.ErrorIs(t, rec.results[0].err, deepstream.ErrClientOffline)
	})

	t.Run("in flight calls fail on loss", func(t *testing.T) {
		env, h := setup(t)
		rec := &callRecorder{}
		h.MakeAsync("a", nil, rec.callback)
		h.MakeAsync("b", nil, rec.callback)
		env.Loop.Drain()

		env.Conn.Lose()
		require.Len(t, rec.results, 2)
		for _, r := range rec.results {
			assert.ErrorIs(t, r.err, deepstream.ErrClientOffline)
		}
		assert.Zero(t, h.Pending())
	})
}

func TestMakeBlocking(t *testing.T) {
	env, h := setup(t)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := h.Make(context.Background(), "add", nil)
		done <- outcome{v, err}
	}()

	require.Eventually(t, func() bool {
		env.Loop.Drain()
		return len(env.Conn.Sent) > 0
	}, 5*time.Second, time.Millisecond)

	resp := rpcMessage(protocol.RPCResponse, "1")
	resp.ParsedData = "ok"
	env.Conn.Deliver(resp)

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, "ok", o.value)
	case <-time.After(5 * time.Second):
		t.Fatal("Make did not return")
	}

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.Make(ctx, "add", nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type recordedSpan struct {
	name   string
	labels []o11y.Label
	status o11y.SpanStatusCode
	desc   string
	ended  bool
}

func (s *recordedSpan) SetAttributes(labels ...o11y.Label) { s.labels = append(s.labels, labels...) }
func (s *recordedSpan) SetStatus(code o11y.SpanStatusCode, desc string) {
	s.status, s.desc = code, desc
}
func (s *recordedSpan) End() { s.ended = true }

type recordingTracer struct {
	spans []*recordedSpan
}

func (r *recordingTracer) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	span := &recordedSpan{name: name}
	r.spans = append(r.spans, span)
	return ctx, span
}

func TestMakeTracing(t *testing.T) {
	env := fakes.NewEnv(deepstream.Options{})
	env.Services.Timeouts = ack.NewRegistry(env.Services)
	env.Services.Offline = limbo.NewQueue(env.Services)
	tracer := &recordingTracer{}
	env.Services.Tracing = tracer
	h := NewHandler(env.Services)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Make(ctx, "add", nil)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, tracer.spans, 1)
	span := tracer.spans[0]
	assert.Equal(t, "deepstream.rpc.make", span.name)
	assert.Equal(t, []o11y.Label{{Key: "rpc.name", Value: "add"}}, span.labels)
	assert.Equal(t, o11y.SpanStatusError, span.status)
	assert.Equal(t, context.Canceled.Error(), span.desc)
	assert.True(t, span.ended)
}

func TestProvide(t *testing.T) {
	env, h := setup(t)
	var requests []any
	var responses []*Response
	require.NoError(t, h.Provide("add", func(data any, r *Response) {
		requests = append(requests, data)
		responses = append(responses, r)
	}))
	env.Loop.Drain()
	assert.Equal(t, []string{"PROVIDE"}, actions(env.Conn.Take()))
	assert.Equal(t, []string{"add"}, h.Provided())

	request := func(cid string, data any) *Response {
		msg := rpcMessage(protocol.RPCRequest, cid)
		msg.ParsedData = data
		env.Conn.Deliver(msg)
		return responses[len(responses)-1]
	}

	t.Run("send accepts first", func(t *testing.T) {
		r := request("c1", 1.0)
		assert.Equal(t, []any{1.0}, requests)
		r.Send(2.0)
		r.Send(3.0)
		env.Loop.Drain()

		sent := env.Conn.Take()
		assert.Equal(t, []string{"ACCEPT", "RESPONSE"}, actions(sent))
		assert.Equal(t, "c1", sent[1].CorrelationID)
		assert.Equal(t, 2.0, sent[1].ParsedData)
	})

	t.Run("explicit accept is sent once", func(t *testing.T) {
		r := request("c2", nil)
		r.Accept()
		r.Accept()
		r.Send("done")
		env.Loop.Drain()
		assert.Equal(t, []string{"ACCEPT", "RESPONSE"}, actions(env.Conn.Take()))
	})

	t.Run("error", func(t *testing.T) {
		r := request("c3", nil)
		r.Error("nope")
		r.Send("ignored")
		env.Loop.Drain()
		sent := env.Conn.Take()
		assert.Equal(t, []string{"ACCEPT", "REQUEST_ERROR"}, actions(sent))
		assert.Equal(t, "nope", sent[1].ParsedData)
	})

	t.Run("reject", func(t *testing.T) {
		r := request("c4", nil)
		r.Reject()
		r.Accept()
		env.Loop.Drain()
		assert.Equal(t, []string{"REJECT"}, actions(env.Conn.Take()))
	})

	t.Run("unknown rpc is rejected", func(t *testing.T) {
		env.Conn.Deliver(&protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCRequest, Name: "missing",
			CorrelationID: "c5"})
		sent := env.Conn.Take()
		assert.Equal(t, []string{"REJECT"}, actions(sent))
		assert.Equal(t, "missing", sent[0].Name)
	})

	t.Run("duplicate provide", func(t *testing.T) {
		require.NoError(t, h.Provide("add", func(any, *Response) {}))
		env.Loop.Drain()
		assert.Empty(t, env.Conn.Take())
		assert.Contains(t, env.Events(), string(deepstream.EventRPCError))
	})

	t.Run("unprovide", func(t *testing.T) {
		h.Unprovide("add")
		env.Loop.Drain()
		assert.Equal(t, []string{"UNPROVIDE"}, actions(env.Conn.Take()))

		h.Unprovide("add")
		env.Loop.Drain()
		assert.Empty(t, env.Conn.Take())
		assert.Contains(t, env.Events(), string(deepstream.EventNotProviding))
	})
}

func TestProviderPanic(t *testing.T) {
	env, h := setup(t)
	require.NoError(t, h.Provide("boom", func(any, *Response) { panic("kaboom") }))
	env.Loop.Drain()
	env.Conn.Take()

	env.Conn.Deliver(&protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCRequest, Name: "boom", CorrelationID: "x"})
	sent := env.Conn.Take()
	assert.Equal(t, []string{"ACCEPT", "REQUEST_ERROR"}, actions(sent))
	assert.Equal(t, "kaboom", sent[1].ParsedData)
}

func TestProvideAcks(t *testing.T) {
	env, h := setup(t)
	require.NoError(t, h.Provide("a", func(any, *Response) {}))
	require.NoError(t, h.Provide("b", func(any, *Response) {}))
	env.Loop.Drain()

	env.Conn.Deliver(&protocol.Message{Topic: protocol.TopicRPC, Action: protocol.RPCProvide, IsAck: true, Name: "a"})
	env.Timers.Advance(2 * time.Second)
	assert.Equal(t, []string{string(deepstream.EventAckTimeout)}, env.Events())

	t.Run("reprovided after reconnect", func(t *testing.T) {
		env.Conn.Take()
		env.Conn.Lose()
		env.Conn.Reestablish()
		sent := env.Conn.Take()
		assert.Equal(t, []string{"PROVIDE", "PROVIDE"}, actions(sent))
		assert.Equal(t, "a", sent[0].Name)
		assert.Equal(t, "b", sent[1].Name)
	})
}

func TestProvideValidation(t *testing.T) {
	_, h := setup(t)
	assert.Error(t, h.Provide("", func(any, *Response) {}))
	assert.Error(t, h.Provide("x", nil))
}
