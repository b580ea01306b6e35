package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// scriptConn is an in-memory Conn. Reads block until a message is delivered
// or the conn is closed; writes are recorded, failing after failAfter
// successes when failAfter >= 0.
type scriptConn struct {
	inbound chan []byte
	closed  chan struct{}

	mu        sync.Mutex
	writes    [][]byte
	failAfter int // -1 = never fail
	closeOnce sync.Once
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		inbound:   make(chan []byte, 16),
		closed:    make(chan struct{}),
		failAfter: -1,
	}
}

func (s *scriptConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.inbound:
		return msg, nil
	case <-s.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptConn) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	if s.failAfter >= 0 && len(s.writes) >= s.failAfter {
		s.mu.Unlock()
		s.Close()
		return errors.New("write failed")
	}
	s.writes = append(s.writes, data)
	s.mu.Unlock()
	return nil
}

func (s *scriptConn) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptConn) deliver(msg string) {
	s.inbound <- []byte(msg)
}

func (s *scriptConn) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writes))
	for i, w := range s.writes {
		out[i] = string(w)
	}
	return out
}

// sequenceDialer hands out the scripted conns in order, failing dials while
// failures > 0.
type sequenceDialer struct {
	mu       sync.Mutex
	conns    []*scriptConn
	failures int
	dials    int
}

func (d *sequenceDialer) dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial failed")
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more conns scripted")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *sequenceDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestClient(dialer *sequenceDialer, queueCap int) *Client {
	return New(Options{
		Logger:      newTestLogger(),
		Dial:        dialer.dial,
		BackoffBase: time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
		QueueCap:    queueCap,
	})
}

func kindsOf(t *testing.T, raw []string) []string {
	t.Helper()
	out := make([]string, len(raw))
	for i, r := range raw {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal([]byte(r), &env))
		out[i] = env.Type
	}
	return out
}

func TestConnectIsIdempotent(t *testing.T) {
	conn := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{conn}}
	c := newTestClient(dialer, 20)
	defer c.Close()

	ctx := context.Background()
	c.Connect(ctx)
	c.Connect(ctx)
	c.Connect(ctx)

	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount(), "repeated Connect must not redial")
}

func TestOfflineActionsQueueAndFlushInOrder(t *testing.T) {
	conn := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{conn}}
	c := newTestClient(dialer, 20)
	defer c.Close()

	c.Send(protocol.TypeReaction, protocol.Reaction{Type: protocol.TypeReaction, Symbol: "👀"})
	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "first"})
	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "second"})

	c.Connect(context.Background())

	require.Eventually(t, func() bool { return len(conn.written()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"reaction", "text", "text"}, kindsOf(t, conn.written()))

	var first protocol.Text
	require.NoError(t, json.Unmarshal([]byte(conn.written()[1]), &first))
	assert.Equal(t, "first", first.Text, "earliest queued action flushes first")
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	conn := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{conn}}
	c := newTestClient(dialer, 2)
	defer c.Close()

	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "kept 1"})
	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "kept 2"})
	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "dropped"})

	c.Connect(context.Background())

	require.Eventually(t, func() bool { return len(conn.written()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.Len(t, conn.written(), 2)

	var last protocol.Text
	require.NoError(t, json.Unmarshal([]byte(conn.written()[1]), &last))
	assert.Equal(t, "kept 2", last.Text)
}

func TestStaleKindsFilteredBeforeFlush(t *testing.T) {
	conn := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{conn}}
	c := newTestClient(dialer, 20)
	defer c.Close()

	// queued while offline: a join would double-register (reconciliation
	// re-sends it) and a minutes-old color no longer reflects intent
	c.Send(protocol.TypeJoin, protocol.Join{Type: protocol.TypeJoin, Name: "Ana", Color: "#ffffff"})
	c.Send(protocol.TypeColor, protocol.Color{Type: protocol.TypeColor, Color: "#ff0000"})
	c.Send(protocol.TypeReaction, protocol.Reaction{Type: protocol.TypeReaction, Symbol: "👀"})
	c.Send(protocol.TypeQuestion, protocol.Text{Type: protocol.TypeQuestion, Text: "why?"})

	c.Connect(context.Background())

	require.Eventually(t, func() bool { return len(conn.written()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"reaction", "question"}, kindsOf(t, conn.written()))
}

func TestMidFlushFailureRequeuesRemainder(t *testing.T) {
	first := newScriptConn()
	first.failAfter = 1 // one write lands, then the connection dies
	second := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{first, second}}
	c := newTestClient(dialer, 20)
	defer c.Close()

	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "one"})
	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "two"})
	c.Send(protocol.TypeText, protocol.Text{Type: protocol.TypeText, Text: "three"})

	c.Connect(context.Background())

	require.Eventually(t, func() bool { return len(second.written()) == 2 }, time.Second, time.Millisecond)

	require.Len(t, first.written(), 1)
	var got protocol.Text
	require.NoError(t, json.Unmarshal([]byte(first.written()[0]), &got))
	assert.Equal(t, "one", got.Text)

	require.NoError(t, json.Unmarshal([]byte(second.written()[0]), &got))
	assert.Equal(t, "two", got.Text, "unsent remainder replays on the next connection, earliest first")
	require.NoError(t, json.Unmarshal([]byte(second.written()[1]), &got))
	assert.Equal(t, "three", got.Text)
}

func TestDialFailuresRetryUntilSuccess(t *testing.T) {
	conn := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{conn}, failures: 3}
	c := newTestClient(dialer, 20)
	defer c.Close()

	c.Send(protocol.TypeReaction, protocol.Reaction{Type: protocol.TypeReaction, Symbol: "🔥"})
	c.Connect(context.Background())

	require.Eventually(t, func() bool { return len(conn.written()) == 1 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, dialer.dialCount(), 4)
}

func TestInboundMessagesReachTheBus(t *testing.T) {
	conn := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{conn}}
	c := newTestClient(dialer, 20)
	defer c.Close()

	modeCh := make(chan string, 1)
	anyCh := make(chan string, 2)
	c.Bus().Subscribe(protocol.TypeMode, func(msg json.RawMessage) { modeCh <- string(msg) })
	c.Bus().Subscribe(TypeAny, func(msg json.RawMessage) { anyCh <- string(msg) })

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, time.Second, time.Millisecond)

	conn.deliver(`{"type":"mode","mode":"ambient"}`)
	conn.deliver(`{"type":"demo-trigger"}`)

	select {
	case msg := <-modeCh:
		assert.JSONEq(t, `{"type":"mode","mode":"ambient"}`, msg)
	case <-time.After(time.Second):
		t.Fatal("mode subscriber never fired")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-anyCh:
		case <-time.After(time.Second):
			t.Fatal("wildcard subscriber missed a message")
		}
	}
}

func TestGarbageInboundIsIgnored(t *testing.T) {
	conn := newScriptConn()
	dialer := &sequenceDialer{conns: []*scriptConn{conn}}
	c := newTestClient(dialer, 20)
	defer c.Close()

	got := make(chan string, 4)
	c.Bus().Subscribe(TypeAny, func(msg json.RawMessage) { got <- string(msg) })

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, time.Second, time.Millisecond)

	conn.deliver(`not json`)
	conn.deliver(`{"no":"type"}`)
	conn.deliver(`{"type":"mode","mode":"ambient"}`)

	select {
	case msg := <-got:
		assert.Contains(t, msg, "ambient", "only the well-formed message is published")
	case <-time.After(time.Second):
		t.Fatal("subscriber never fired")
	}
	assert.Empty(t, got)
}
