package realtime_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medichecks/go-session/realtime"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type tokenBox struct {
	mu    sync.Mutex
	token string
}

func (b *tokenBox) set(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

func (b *tokenBox) AccessToken() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token, b.token != ""
}

type fakeConn struct {
	inbound   chan []byte
	writes    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 8),
		writes:  make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.done:
		return 0, nil, io.EOF
	case data := <-c.inbound:
		return websocket.MessageText, data, nil
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	select {
	case <-c.done:
		return io.EOF
	case c.writes <- data:
		return nil
	}
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

type fakeDialer struct {
	mu     sync.Mutex
	tokens []string
	conns  []*fakeConn
	fails  int
}

func (d *fakeDialer) dial(ctx context.Context, wsURL, token string) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tokens = append(d.tokens, token)
	if d.fails > 0 {
		d.fails--
		return nil, io.ErrUnexpectedEOF
	}

	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.conns) > i {
			conn := d.conns[i]
			d.mu.Unlock()
			return conn
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for connection %d", i)
	return nil
}

func (d *fakeDialer) dialToken(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tokens) <= i {
		return ""
	}
	return d.tokens[i]
}

func newTestChannel(tokens realtime.TokenSource, dialer *fakeDialer, opts ...realtime.Option) (*realtime.Channel, <-chan realtime.State) {
	base := []realtime.Option{
		realtime.WithDialer(dialer.dial),
		realtime.WithLogger(nopLogger{}),
		realtime.WithBackoff(time.Millisecond, 5*time.Millisecond),
	}

	ch := realtime.New("ws://chat.test/ws", tokens, append(base, opts...)...)

	states := make(chan realtime.State, 32)
	ch.OnStateChange(func(s realtime.State) {
		select {
		case states <- s:
		default:
		}
	})

	return ch, states
}

func waitState(t *testing.T, states <-chan realtime.State, want realtime.State) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func nextFrame(t *testing.T, conn *fakeConn) realtime.Envelope {
	t.Helper()

	select {
	case data := <-conn.writes:
		var env realtime.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
	}
	return realtime.Envelope{}
}

func TestChannelConnectAndAuthenticate(t *testing.T) {
	dialer := &fakeDialer{}
	ch, states := newTestChannel(&tokenBox{token: "tok1"}, dialer)
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateAuthenticated)

	assert.Equal(t, "tok1", dialer.dialToken(0), "dial carries the bearer token")

	frame := nextFrame(t, dialer.conn(t, 0))
	assert.Equal(t, realtime.EventAuthenticate, frame.Event)

	var auth realtime.AuthPayload
	require.NoError(t, json.Unmarshal(frame.Data, &auth))
	assert.Equal(t, "tok1", auth.Token)
}

func TestChannelConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	ch, states := newTestChannel(&tokenBox{token: "tok1"}, dialer)
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateAuthenticated)
	require.NoError(t, ch.Connect(context.Background()))

	time.Sleep(20 * time.Millisecond)

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	assert.Len(t, dialer.conns, 1, "repeated Connect never opens a second connection")
}

func TestChannelSendRequiresConnection(t *testing.T) {
	dialer := &fakeDialer{}
	ch, _ := newTestChannel(&tokenBox{token: "tok1"}, dialer)

	err := ch.Send(context.Background(), "hola")
	require.Error(t, err)
	assert.ErrorContains(t, err, "not connected")
}

func TestChannelSendChatMessage(t *testing.T) {
	dialer := &fakeDialer{}
	ch, states := newTestChannel(&tokenBox{token: "tok1"}, dialer, realtime.WithUserID("user-9"))
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateAuthenticated)

	conn := dialer.conn(t, 0)
	nextFrame(t, conn) // authenticate

	require.NoError(t, ch.Send(context.Background(), "me duele la cabeza"))

	frame := nextFrame(t, conn)
	assert.Equal(t, realtime.EventChatMessage, frame.Event)

	var msg realtime.ChatMessage
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Equal(t, "me duele la cabeza", msg.Message)
	assert.Equal(t, "user-9", msg.UserID)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
	assert.NotNil(t, msg.Context)
}

func TestChannelReconnectUsesRotatedToken(t *testing.T) {
	dialer := &fakeDialer{}
	box := &tokenBox{token: "tok1"}
	ch, states := newTestChannel(box, dialer)
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateAuthenticated)

	first := dialer.conn(t, 0)
	nextFrame(t, first) // authenticate with tok1

	// The session refreshed while we were connected, then the connection
	// dropped.
	box.set("tok2")
	first.Close(websocket.StatusNormalClosure, "server went away")

	second := dialer.conn(t, 1)
	waitState(t, states, realtime.StateAuthenticated)

	assert.Equal(t, "tok2", dialer.dialToken(1), "reconnect dials with the rotated token")

	frame := nextFrame(t, second)
	assert.Equal(t, realtime.EventAuthenticate, frame.Event)

	var auth realtime.AuthPayload
	require.NoError(t, json.Unmarshal(frame.Data, &auth))
	assert.Equal(t, "tok2", auth.Token)
}

func TestChannelRetriesFailedDials(t *testing.T) {
	dialer := &fakeDialer{fails: 2}
	ch, states := newTestChannel(&tokenBox{token: "tok1"}, dialer)
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateErrored)
	waitState(t, states, realtime.StateAuthenticated)

	dialer.mu.Lock()
	attempts := len(dialer.tokens)
	dialer.mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestChannelReauthenticate(t *testing.T) {
	dialer := &fakeDialer{}
	box := &tokenBox{token: "tok1"}
	ch, states := newTestChannel(box, dialer)
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateAuthenticated)

	conn := dialer.conn(t, 0)
	nextFrame(t, conn) // initial authenticate

	box.set("tok3")
	require.NoError(t, ch.Reauthenticate(context.Background()))

	frame := nextFrame(t, conn)
	assert.Equal(t, realtime.EventAuthenticate, frame.Event)

	var auth realtime.AuthPayload
	require.NoError(t, json.Unmarshal(frame.Data, &auth))
	assert.Equal(t, "tok3", auth.Token)
}

func TestChannelInboundDispatch(t *testing.T) {
	dialer := &fakeDialer{}
	ch, states := newTestChannel(&tokenBox{token: "tok1"}, dialer)
	defer ch.Disconnect()

	messages := make(chan realtime.Message, 8)
	ch.OnMessage(func(msg realtime.Message) {
		select {
		case messages <- msg:
		default:
		}
	})

	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateAuthenticated)

	conn := dialer.conn(t, 0)
	conn.inbound <- []byte(`{"event":"chat_response","data":{"response":"toma paracetamol"}}`)

	select {
	case msg := <-messages:
		assert.Equal(t, realtime.EventChatResponse, msg.Event)
		assert.Equal(t, "toma paracetamol", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an inbound message")
	}
}

func TestChannelDisconnectStopsReconnecting(t *testing.T) {
	dialer := &fakeDialer{}
	ch, states := newTestChannel(&tokenBox{token: "tok1"}, dialer)

	require.NoError(t, ch.Connect(context.Background()))
	waitState(t, states, realtime.StateAuthenticated)

	ch.Disconnect()
	assert.Equal(t, realtime.StateDisconnected, ch.State())

	time.Sleep(30 * time.Millisecond)

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	assert.Len(t, dialer.conns, 1, "no redial after an explicit disconnect")
}
