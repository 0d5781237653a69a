package session

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Edge-readable record names consumed by the Route Guard.
const (
	FactAuthenticated     = "isAuthenticated"
	FactUserType          = "userType"
	FactProfileCompleted  = "isProfileCompleted"
	FactRecoveryInitiated = "recoveryInitiated"
	FactRecoveryEmailSent = "recoveryEmailSent"
)

const recoveryFactMaxAge = time.Hour

// AuthFacts is the mirrored projection of Credential + Claims that the edge
// Route Guard decides on. It is a cache: it must always be recomputable from
// the Store via DecodeClaims.
type AuthFacts struct {
	Authenticated     bool
	UserCategory      string
	ProfileCompleted  bool
	RecoveryInitiated bool
	RecoveryEmailSent bool
}

// Mirror propagates authentication facts from the Store into edge-readable
// records plus local and cross-tab notification channels. Sync must be
// called in the same synchronous step as every Store mutation.
type Mirror struct {
	store    Store
	facts    FactStore
	notifier Notifier
	logger   Logger
	maxAge   time.Duration

	mu      sync.Mutex
	subs    map[int]func(AuthChanged)
	nextSub int
	last    AuthFacts
	hasLast bool
}

// MirrorOption customizes Mirror construction.
type MirrorOption func(*Mirror)

// WithFactStore overrides the edge record backend (e.g. a cookie writer).
func WithFactStore(fs FactStore) MirrorOption {
	return func(m *Mirror) {
		if fs != nil {
			m.facts = fs
		}
	}
}

// WithNotifier sets the cross-tab change feed backend.
func WithNotifier(n Notifier) MirrorOption {
	return func(m *Mirror) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithMirrorLogger overrides the logger.
func WithMirrorLogger(logger Logger) MirrorOption {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMirrorFactMaxAge bounds the lifetime of mirrored records.
func WithMirrorFactMaxAge(d time.Duration) MirrorOption {
	return func(m *Mirror) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// NewMirror builds a Mirror over the given Store and runs the initial Sync.
// The Mirror subscribes to its notifier so a change announced by another tab
// triggers a local re-sync.
func NewMirror(store Store, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		store:    store,
		facts:    NewMemoryFactStore(),
		notifier: noopNotifier{},
		logger:   defLogger{},
		maxAge:   24 * time.Hour,
		subs:     map[int]func(AuthChanged){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.notifier.Subscribe(func(AuthChanged) {
		m.Sync()
	})

	m.Sync()

	return m
}

// Sync reads the Store, recomputes AuthFacts, writes the edge records, and
// notifies subscribers. The read-recompute-write sequence holds the mirror
// lock, so concurrent syncs serialize: a sync that read the Store earlier
// can never write its facts over those of a later teardown. Writes happen
// before any notification fires, so every subsequent fact read is
// consistent with the Store at sync time. Sync is idempotent: with no
// Store mutation in between, two calls produce identical facts and no
// cross-tab publish.
func (m *Mirror) Sync() {
	m.mu.Lock()

	current := m.recompute()

	m.facts.SetFact(FactAuthenticated, strconv.FormatBool(current.Authenticated), m.maxAge)
	if current.Authenticated {
		if current.UserCategory != "" {
			m.facts.SetFact(FactUserType, current.UserCategory, m.maxAge)
		}
		m.facts.SetFact(FactProfileCompleted, strconv.FormatBool(current.ProfileCompleted), m.maxAge)
	} else {
		m.facts.ClearFact(FactUserType)
		m.facts.ClearFact(FactProfileCompleted)
	}

	changed := !m.hasLast || m.last != current
	m.last = current
	m.hasLast = true

	handlers := make([]func(AuthChanged), 0, len(m.subs))
	for _, fn := range m.subs {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	evt := AuthChanged{Authenticated: current.Authenticated}
	for _, fn := range handlers {
		fn(evt)
	}

	if changed {
		m.notifier.Publish(evt)
	}
}

// Wake re-syncs after a tab regains visibility.
func (m *Mirror) Wake() {
	m.Sync()
}

// AutoSync runs the coarse re-sync poll until the context is cancelled.
// This is what catches externally expired tokens.
func (m *Mirror) AutoSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sync()
			}
		}
	}()
}

// Facts returns the current mirrored view, as the Route Guard would read it.
func (m *Mirror) Facts() AuthFacts {
	m.mu.Lock()
	defer m.mu.Unlock()

	return AuthFacts{
		Authenticated:     m.facts.Fact(FactAuthenticated) == "true",
		UserCategory:      m.facts.Fact(FactUserType),
		ProfileCompleted:  m.facts.Fact(FactProfileCompleted) == "true",
		RecoveryInitiated: m.facts.Fact(FactRecoveryInitiated) == "true",
		RecoveryEmailSent: m.facts.Fact(FactRecoveryEmailSent) == "true",
	}
}

// OnChange registers a local subscriber, returning its unsubscribe func.
func (m *Mirror) OnChange(fn func(AuthChanged)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// MarkRecoveryInitiated records that the password-recovery flow was entered
// from the login surface.
func (m *Mirror) MarkRecoveryInitiated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts.SetFact(FactRecoveryInitiated, "true", recoveryFactMaxAge)
}

// MarkRecoveryEmailSent records that the recovery email step completed.
func (m *Mirror) MarkRecoveryEmailSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts.SetFact(FactRecoveryEmailSent, "true", recoveryFactMaxAge)
}

// ClearRecovery resets the recovery flow after a completed password reset.
func (m *Mirror) ClearRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts.ClearFact(FactRecoveryInitiated)
	m.facts.ClearFact(FactRecoveryEmailSent)
}

func (m *Mirror) recompute() AuthFacts {
	cred, ok := m.store.Get()
	if !ok {
		return AuthFacts{}
	}

	facts := AuthFacts{Authenticated: true}

	claims, err := DecodeClaims(cred.Access)
	if err != nil {
		// Claims unknown: stay authenticated but assume profile incomplete
		// and category unknown.
		m.logger.Warn("mirror could not decode token claims: %v", err)
		return facts
	}

	facts.UserCategory = claims.UserCategory
	facts.ProfileCompleted = claims.ProfileCompleted
	return facts
}

type factRecord struct {
	value   string
	expires time.Time
}

// MemoryFactStore is the in-process FactStore backend. Records honor their
// bounded lifetime; expired records read as absent.
type MemoryFactStore struct {
	mu      sync.RWMutex
	records map[string]factRecord
	now     func() time.Time
}

var _ FactStore = (*MemoryFactStore)(nil)

func NewMemoryFactStore() *MemoryFactStore {
	return &MemoryFactStore{
		records: map[string]factRecord{},
		now:     time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (s *MemoryFactStore) WithClock(clock func() time.Time) *MemoryFactStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *MemoryFactStore) SetFact(name, value string, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = factRecord{
		value:   value,
		expires: s.now().Add(maxAge),
	}
}

func (s *MemoryFactStore) Fact(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok || s.now().After(rec.expires) {
		return ""
	}
	return rec.value
}

func (s *MemoryFactStore) ClearFact(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
}
