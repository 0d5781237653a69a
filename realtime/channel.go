// Package realtime maintains the chat channel: a websocket connection
// that authenticates with the session's access token, reconnects with
// capped backoff, and re-authenticates with the rotated token after
// every reconnect.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// State is the channel's connection state.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateErrored        State = "errored"
)

const (
	defaultBackoffMin  = time.Second
	defaultBackoffMax  = 30 * time.Second
	defaultSendTimeout = 10 * time.Second
	defaultUserID      = "guest"
)

var (
	// ErrNotReady rejects outbound traffic while the channel is not in a
	// state that can carry it.
	ErrNotReady = goerrors.New("channel is not connected", goerrors.CategoryInternal).
		WithTextCode("CHANNEL_NOT_READY")

	// ErrNoToken rejects a dial or reauthentication when the token source
	// holds no access token.
	ErrNoToken = goerrors.New("no access token available for channel", goerrors.CategoryAuth).
		WithTextCode("CHANNEL_NO_TOKEN").
		WithCode(goerrors.CodeUnauthorized)
)

// TokenSource yields the current access token. The channel reads it fresh
// on every dial and reauthentication so a rotated token is always the one
// on the wire.
type TokenSource interface {
	AccessToken() (string, bool)
}

// TokenSourceFunc adapts a closure to TokenSource.
type TokenSourceFunc func() (string, bool)

func (f TokenSourceFunc) AccessToken() (string, bool) { return f() }

// Logger is the leveled logger the channel reports through.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] REALTIME "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] REALTIME "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] REALTIME "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] REALTIME "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// Conn is the subset of the websocket connection the channel uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens a Conn against the given URL carrying the bearer token.
type DialFunc func(ctx context.Context, wsURL, token string) (Conn, error)

func defaultDial(ctx context.Context, wsURL, token string) (Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Message is one normalized inbound chat payload.
type Message struct {
	Event   string
	Content string
}

// Channel is a reconnecting, re-authenticating chat connection.
type Channel struct {
	url         string
	tokens      TokenSource
	logger      Logger
	dial        DialFunc
	sendTimeout time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration

	mu        sync.Mutex
	state     State
	conn      Conn
	cancel    context.CancelFunc
	userID    string
	gen       int
	msgSubs   map[int]func(Message)
	stateSubs map[int]func(State)
	nextSub   int
}

// Option customizes Channel construction.
type Option func(*Channel)

// WithLogger overrides the channel logger.
func WithLogger(logger Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer overrides how the underlying connection is opened.
func WithDialer(dial DialFunc) Option {
	return func(c *Channel) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithBackoff bounds the reconnect backoff window.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Channel) {
		if min > 0 {
			c.backoffMin = min
		}
		if max >= min {
			c.backoffMax = max
		}
	}
}

// WithSendTimeout bounds each outbound write.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

// WithUserID sets the identity attached to outbound chat messages.
func WithUserID(id string) Option {
	return func(c *Channel) {
		if id != "" {
			c.userID = id
		}
	}
}

// New builds a Channel for the given websocket URL and token source.
func New(wsURL string, tokens TokenSource, opts ...Option) *Channel {
	c := &Channel{
		url:         wsURL,
		tokens:      tokens,
		logger:      defLogger{},
		dial:        defaultDial,
		sendTimeout: defaultSendTimeout,
		backoffMin:  defaultBackoffMin,
		backoffMax:  defaultBackoffMax,
		state:       StateDisconnected,
		userID:      defaultUserID,
		msgSubs:     map[int]func(Message){},
		stateSubs:   map[int]func(State){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetUser updates the identity attached to outbound chat messages, e.g.
// after the profile is fetched.
func (c *Channel) SetUser(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" {
		c.userID = id
	}
}

// OnMessage registers a subscriber for normalized inbound messages.
func (c *Channel) OnMessage(fn func(Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.msgSubs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.msgSubs, id)
	}
}

// OnStateChange registers a subscriber for connection state transitions.
func (c *Channel) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// Connect starts the connection loop. Calling it while a connection is
// being established or already open is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateAuthenticating, StateAuthenticated:
		c.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.setState(StateConnecting)
	go c.run(runCtx, gen)

	return nil
}

// Disconnect tears the connection down and stops reconnecting.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	c.setState(StateDisconnected)
}

// Send delivers one chat message. It fails unless the channel is connected
// or authenticated.
func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	userID := c.userID
	c.mu.Unlock()

	if conn == nil || (state != StateConnected && state != StateAuthenticated) {
		return ErrNotReady
	}

	body := ChatMessage{
		ID:        uuid.NewString(),
		Message:   text,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Context:   map[string]any{},
	}

	return c.write(ctx, conn, EventChatMessage, body)
}

// Reauthenticate sends the current access token over the open connection.
// The session façade calls this after a token rotation so the server sees
// the fresh token without a reconnect.
func (c *Channel) Reauthenticate(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotReady
	}

	return c.authenticate(ctx, conn)
}

// run is the connection loop: dial, authenticate, read until failure,
// back off, repeat. A fresh token is read on every attempt.
func (c *Channel) run(ctx context.Context, gen int) {
	backoff := c.backoffMin

	for {
		if ctx.Err() != nil {
			return
		}

		token, ok := c.tokens.AccessToken()
		if !ok || token == "" {
			c.logger.Warn("channel dial skipped, no access token")
			c.setStateGen(gen, StateErrored)
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		conn, err := c.dial(ctx, c.url, token)
		if err != nil {
			c.logger.Warn("channel dial failed: %v", err)
			c.setStateGen(gen, StateErrored)
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.setStateGen(gen, StateConnected)

		if err := c.authenticate(ctx, conn); err != nil {
			c.logger.Warn("channel authentication failed: %v", err)
			_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
			c.dropConn(gen, conn)
			c.setStateGen(gen, StateErrored)
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		backoff = c.backoffMin

		err = c.readLoop(ctx, gen, conn)
		c.dropConn(gen, conn)
		if ctx.Err() != nil {
			return
		}

		c.logger.Info("channel connection lost, reconnecting: %v", err)
		c.setStateGen(gen, StateDisconnected)
		if !c.sleep(ctx, backoff) {
			return
		}
		backoff = c.nextBackoff(backoff)
	}
}

// authenticate sends the authenticate event with the current token and
// flips the channel to authenticated on a successful write.
func (c *Channel) authenticate(ctx context.Context, conn Conn) error {
	token, ok := c.tokens.AccessToken()
	if !ok || token == "" {
		return ErrNoToken
	}

	c.setState(StateAuthenticating)

	if err := c.write(ctx, conn, EventAuthenticate, AuthPayload{Token: token}); err != nil {
		return err
	}

	c.setState(StateAuthenticated)
	return nil
}

func (c *Channel) readLoop(ctx context.Context, gen int, conn Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("channel dropped malformed frame: %v", err)
			continue
		}

		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	switch env.Event {
	case EventChatResponse:
		c.deliver(Message{Event: env.Event, Content: NormalizeInbound(env.Data)})
	case EventConnectionSuccess:
		c.logger.Debug("channel acknowledged by server")
	case EventTyping:
		c.deliver(Message{Event: env.Event})
	case EventError, EventConnectionError:
		c.logger.Warn("channel server error: %s", NormalizeInbound(env.Data))
		c.deliver(Message{Event: EventError, Content: NormalizeInbound(env.Data)})
	default:
		c.logger.Debug("channel ignoring event %q", env.Event)
	}
}

func (c *Channel) deliver(msg Message) {
	c.mu.Lock()
	handlers := make([]func(Message), 0, len(c.msgSubs))
	for _, fn := range c.msgSubs {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func (c *Channel) write(ctx context.Context, conn Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode channel payload")
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode channel frame")
	}

	wctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	if err := conn.Write(wctx, websocket.MessageText, frame); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("failed to send %s event", event))
	}
	return nil
}

// dropConn clears the stored connection if it still belongs to this
// generation.
func (c *Channel) dropConn(gen int, conn Conn) {
	c.mu.Lock()
	if gen == c.gen && c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Channel) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > c.backoffMax {
		next = c.backoffMax
	}
	return next
}

func (c *Channel) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	handlers := make([]func(State), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(next)
	}
}

// setStateGen applies a state change only while the given connection
// generation is still current, so a superseded loop cannot clobber state.
func (c *Channel) setStateGen(gen int, next State) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	handlers := make([]func(State), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(next)
	}
}
