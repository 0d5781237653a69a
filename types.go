package session

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Credential is the access/refresh token pair identifying a session. The
// zero value means "logged out".
type Credential struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// IsZero reports whether no session is held.
func (c Credential) IsZero() bool {
	return c.Access == "" && c.Refresh == ""
}

// Store holds the active Credential for the lifetime of a browsing tab.
// Implementations must be side-effect free: no network calls, no navigation.
// Cross-tab synchronization is the Mirror's job, never the Store's.
type Store interface {
	Set(Credential)
	// SetAccess replaces only the access token, as the silent-refresh
	// exchange does. A no-op when no credential is held.
	SetAccess(access string)
	Get() (Credential, bool)
	Clear()
}

// FactStore persists the small edge-readable records the Route Guard reads.
// Records carry a bounded lifetime and are a cache of Store+DecodeClaims,
// never a source of truth.
type FactStore interface {
	SetFact(name, value string, maxAge time.Duration)
	Fact(name string) string
	ClearFact(name string)
}

// Navigator drives post-action navigation for the Orchestrator.
type Navigator interface {
	ToLogin(from string)
	ToDashboard()
	ToProfileComplete()
	ToPath(path string)
}

// Config holds session client options
type Config interface {
	GetBaseURL() string
	GetRealtimeURL() string
	GetAuthScheme() string
	GetFactMaxAge() time.Duration
	GetSyncInterval() time.Duration
	GetHTTPTimeout() time.Duration
}

type noopNavigator struct{}

func (noopNavigator) ToLogin(string)     {}
func (noopNavigator) ToDashboard()       {}
func (noopNavigator) ToProfileComplete() {}
func (noopNavigator) ToPath(string)      {}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
