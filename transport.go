package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// API endpoints, relative to the configured base URL.
const (
	endpointToken     = "token/"
	endpointFederated = "token/google/"
	endpointRefresh   = "token/refresh/"
	endpointLogout    = "logout/"
	endpointProfile   = "profile/"
	endpointRegister  = "register/"
)

// Client is the authenticated HTTP transport. It attaches the bearer token
// read fresh from the Store on every request and runs the single-flight
// refresh protocol on authorization failure. It is an explicit, constructed
// instance: the Store and Mirror are injected, never ambient globals.
type Client struct {
	httpc   *http.Client
	base    *url.URL
	scheme  string
	store   Store
	mirror  *Mirror
	logger  Logger
	refresh singleflight.Group

	mu      sync.Mutex
	rotated []func(access string)
}

// ClientOption customizes Client construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client (useful for tests).
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithClientLogger overrides the logger.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds the transport over the given Store and Mirror.
func NewClient(cfg Config, store Store, mirror *Mirror, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(cfg.GetBaseURL())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid base URL").
			WithCode(goerrors.CodeBadRequest)
	}

	c := &Client{
		httpc:  &http.Client{Timeout: cfg.GetHTTPTimeout()},
		base:   base,
		scheme: cfg.GetAuthScheme(),
		store:  store,
		mirror: mirror,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// OnAccessRotated registers a callback invoked after a silent refresh
// rotates the access token. Open realtime connections hook in here to
// re-authenticate with the fresh token.
func (c *Client) OnAccessRotated(fn func(access string)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotated = append(c.rotated, fn)
}

// Get issues an authenticated GET, decoding the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do issues one authenticated JSON exchange. On a 401 it runs the
// single-flight refresh and replays the original request exactly once; a
// second 401 propagates. Refresh failure tears the session down (store
// cleared, mirror synced) before surfacing the error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to encode request body").
				WithCode(goerrors.CodeBadRequest)
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		original := c.statusError(resp)

		cred, held := c.store.Get()
		if !held {
			// No session to refresh: a plain rejected exchange (e.g. bad
			// login credentials). Surface as-is.
			return original
		}

		if _, rerr := c.refreshAccess(ctx, cred); rerr != nil {
			return refreshFailure(original)
		}

		resp, err = c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// Already retried once; never loop.
			drain(resp)
			return ErrCredentialExpired
		}
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}

	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to decode response body").
			WithCode(goerrors.CodeInternal)
	}

	return nil
}

// send builds and issues a fresh request. The bearer token is read from the
// Store per call, never cached, so a replay picks up a rotated token.
func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	target := c.base.JoinPath(path).String()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to build request").
			WithCode(goerrors.CodeBadRequest)
	}

	req.Header.Set("Content-Type", "application/json")
	if cred, ok := c.store.Get(); ok && cred.Access != "" {
		req.Header.Set("Authorization", c.scheme+" "+cred.Access)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, goerrors.Wrap(err, ErrNetworkFailure.Category, ErrNetworkFailure.Message).
			WithTextCode(ErrNetworkFailure.TextCode).
			WithMetadata(map[string]any{"path": path})
	}

	return resp, nil
}

// refreshAccess exchanges the refresh token for a new access token. All
// concurrent callers share one in-flight exchange (single-flight); whoever
// loses the race simply awaits the winner's result.
func (c *Client) refreshAccess(ctx context.Context, cred Credential) (string, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		if cred.Refresh == "" {
			c.logger.Warn("no refresh token held, tearing session down")
			c.teardown()
			return nil, ErrRefreshFailed
		}

		// The exchange outlives the winning caller: a cancelled caller must
		// not fail the refresh, and with it the session, for everyone piled
		// up behind the single flight.
		timeout := c.httpc.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		access, err := c.exchangeRefresh(rctx, cred.Refresh)
		if err != nil {
			c.logger.Warn("refresh exchange rejected, tearing session down: %v", err)
			c.teardown()
			return nil, goerrors.Wrap(err, ErrRefreshFailed.Category, ErrRefreshFailed.Message).
				WithTextCode(ErrRefreshFailed.TextCode)
		}

		c.store.SetAccess(access)
		c.syncMirror()
		c.notifyRotated(access)

		return access, nil
	})

	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (c *Client) exchangeRefresh(ctx context.Context, refresh string) (string, error) {
	payload, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "unable to encode refresh payload")
	}

	target := c.base.JoinPath(endpointRefresh).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "unable to build refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", goerrors.Wrap(err, ErrNetworkFailure.Category, ErrNetworkFailure.Message).
			WithTextCode(ErrNetworkFailure.TextCode)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", goerrors.New("refresh token rejected", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithMetadata(map[string]any{"status": resp.StatusCode})
	}

	var result struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "unable to decode refresh response")
	}
	if result.Access == "" {
		return "", goerrors.New("refresh response missing access token", goerrors.CategoryInternal)
	}

	return result.Access, nil
}

// refreshFailure wraps the 401 that triggered the refresh so the caller
// sees both the unrecoverable-refresh classification and the rejection that
// started it. The refresh exchange's own error is already logged where it
// happened; it is shared across single-flight callers and must not be
// mutated per caller.
func refreshFailure(original error) error {
	failure := goerrors.Wrap(original, ErrRefreshFailed.Category, ErrRefreshFailed.Message).
		WithTextCode(ErrRefreshFailed.TextCode).
		WithCode(goerrors.CodeUnauthorized)

	var origErr *goerrors.Error
	if goerrors.As(original, &origErr) {
		failure = failure.WithMetadata(map[string]any{
			"original_status": origErr.Metadata["status"],
			"original_detail": origErr.Message,
		})
	}

	return failure
}

func (c *Client) notifyRotated(access string) {
	c.mu.Lock()
	handlers := make([]func(string), len(c.rotated))
	copy(handlers, c.rotated)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(access)
	}
}

// teardown clears the credential and invalidates the mirror in one
// synchronous step. The Orchestrator observes the mirror change and
// redirects to the login surface.
func (c *Client) teardown() {
	c.store.Clear()
	c.syncMirror()
}

func (c *Client) syncMirror() {
	if c.mirror != nil {
		c.mirror.Sync()
	}
}

// statusError converts a non-2xx response into a categorized error, reading
// the API's {"detail": "..."} body when present.
func (c *Client) statusError(resp *http.Response) error {
	defer resp.Body.Close()

	message := http.StatusText(resp.StatusCode)
	var apiErr struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil && len(raw) > 0 {
		if jerr := json.Unmarshal(raw, &apiErr); jerr == nil {
			switch {
			case apiErr.Detail != "":
				message = apiErr.Detail
			case apiErr.Error != "":
				message = apiErr.Error
			default:
				if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 200 {
					message = s
				}
			}
		}
	}

	category := goerrors.CategoryInternal
	code := goerrors.CodeInternal
	switch resp.StatusCode {
	case http.StatusBadRequest:
		category, code = goerrors.CategoryBadInput, goerrors.CodeBadRequest
	case http.StatusUnauthorized:
		category, code = goerrors.CategoryAuth, goerrors.CodeUnauthorized
	case http.StatusForbidden:
		category, code = goerrors.CategoryAuthz, goerrors.CodeUnauthorized
	case http.StatusConflict:
		category, code = goerrors.CategoryConflict, goerrors.CodeConflict
	}

	return goerrors.New(message, category).
		WithCode(code).
		WithMetadata(map[string]any{"status": resp.StatusCode})
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
