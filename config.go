package session

import "time"

// SessionConfig is the default Config implementation.
type SessionConfig struct {
	BaseURL      string
	RealtimeURL  string
	AuthScheme   string
	FactMaxAge   time.Duration
	SyncInterval time.Duration
	HTTPTimeout  time.Duration
}

var _ Config = (*SessionConfig)(nil)

// ConfigOption customizes a SessionConfig.
type ConfigOption func(*SessionConfig)

// NewConfig builds a SessionConfig with defaults matching the production
// deployment: Bearer scheme, day-long fact records, 60s sync poll.
func NewConfig(baseURL string, opts ...ConfigOption) *SessionConfig {
	cfg := &SessionConfig{
		BaseURL:      baseURL,
		AuthScheme:   "Bearer",
		FactMaxAge:   24 * time.Hour,
		SyncInterval: time.Minute,
		HTTPTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	return cfg
}

// WithRealtimeURL sets the websocket endpoint for the chat channel.
func WithRealtimeURL(url string) ConfigOption {
	return func(cfg *SessionConfig) {
		cfg.RealtimeURL = url
	}
}

// WithAuthScheme overrides the Authorization scheme.
func WithAuthScheme(scheme string) ConfigOption {
	return func(cfg *SessionConfig) {
		if scheme != "" {
			cfg.AuthScheme = scheme
		}
	}
}

// WithFactMaxAge bounds the lifetime of mirrored fact records.
func WithFactMaxAge(d time.Duration) ConfigOption {
	return func(cfg *SessionConfig) {
		if d > 0 {
			cfg.FactMaxAge = d
		}
	}
}

// WithSyncInterval sets the coarse mirror poll used to catch externally
// expired tokens.
func WithSyncInterval(d time.Duration) ConfigOption {
	return func(cfg *SessionConfig) {
		if d > 0 {
			cfg.SyncInterval = d
		}
	}
}

// WithHTTPTimeout bounds individual API exchanges.
func WithHTTPTimeout(d time.Duration) ConfigOption {
	return func(cfg *SessionConfig) {
		if d > 0 {
			cfg.HTTPTimeout = d
		}
	}
}

func (c *SessionConfig) GetBaseURL() string             { return c.BaseURL }
func (c *SessionConfig) GetRealtimeURL() string         { return c.RealtimeURL }
func (c *SessionConfig) GetAuthScheme() string          { return c.AuthScheme }
func (c *SessionConfig) GetFactMaxAge() time.Duration   { return c.FactMaxAge }
func (c *SessionConfig) GetSyncInterval() time.Duration { return c.SyncInterval }
func (c *SessionConfig) GetHTTPTimeout() time.Duration  { return c.HTTPTimeout }
