package session

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// State is the Orchestrator's lifecycle state.
type State string

const (
	StateUnknown       State = "unknown"
	StateChecking      State = "checking"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

const logoutTimeout = 5 * time.Second

// Orchestrator is the user-facing session façade: login, federated login,
// logout, registration, and profile refresh, composed over the Store,
// Mirror, and authenticated Client. It exposes reactive state and drives
// post-action navigation.
type Orchestrator struct {
	client *Client
	store  Store
	mirror *Mirror
	nav    Navigator
	logger Logger
	debug  bool

	mu             sync.Mutex
	state          State
	profile        *Profile
	lastErr        error
	exchanging     bool
	signupCategory string
	returnPath     string
	subs           map[int]func(State)
	nextSub        int

	unsubscribeMirror func()
}

// OrchestratorOption customizes Orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithNavigator wires post-action navigation.
func WithNavigator(nav Navigator) OrchestratorOption {
	return func(o *Orchestrator) {
		if nav != nil {
			o.nav = nav
		}
	}
}

// WithOrchestratorLogger overrides the logger.
func WithOrchestratorLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDebug enables payload dumps on credential exchanges.
func WithDebug(debug bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.debug = debug
	}
}

// NewOrchestrator builds the façade. It subscribes to the Mirror so a
// teardown performed elsewhere (the transport's refresh failure, another
// tab's logout) transitions this instance to anonymous.
func NewOrchestrator(client *Client, store Store, mirror *Mirror, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client: client,
		store:  store,
		mirror: mirror,
		nav:    noopNavigator{},
		logger: defLogger{},
		state:  StateUnknown,
		subs:   map[int]func(State){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	o.unsubscribeMirror = mirror.OnChange(o.onAuthChanged)

	return o
}

// Start resolves the initial session state: sync the mirror, inspect the
// store, and fetch the profile when a credential is held. A profile fetch
// failure tears down through the same path Logout uses.
func (o *Orchestrator) Start(ctx context.Context) {
	o.setState(StateChecking)
	o.mirror.Sync()

	cred, ok := o.store.Get()
	if !ok || cred.Access == "" {
		o.setState(StateAnonymous)
		return
	}

	if err := o.fetchProfile(ctx); err != nil {
		o.logger.Warn("initial profile fetch failed, tearing down: %v", err)
		o.Logout(ctx)
		return
	}

	o.setState(StateAuthenticated)
}

// Login exchanges an identifier/password pair for a Credential, persists
// it, syncs the mirror, fetches the profile, and navigates. A call while
// another exchange is in flight is ignored.
func (o *Orchestrator) Login(ctx context.Context, identifier, password string) error {
	payload := LoginRequest{Identifier: identifier, Password: password}
	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login payload").
			WithCode(goerrors.CodeBadRequest)
	}

	return o.exchange(ctx, endpointToken, payload)
}

// LoginWithFederatedToken exchanges an external identity token. The
// category defaults to the remembered signup category, then to patient.
func (o *Orchestrator) LoginWithFederatedToken(ctx context.Context, token, category string) error {
	if category == "" {
		category = o.SignupCategory()
	}
	if category == "" {
		category = CategoryPatient
	}

	payload := FederatedLoginRequest{Token: token, Category: category}
	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid federated login payload").
			WithCode(goerrors.CodeBadRequest)
	}

	return o.exchange(ctx, endpointFederated, payload)
}

// Logout invalidates the session server-side on a best-effort basis, then
// unconditionally clears the store, syncs the mirror, and navigates to
// login. Every teardown in this package funnels through here.
func (o *Orchestrator) Logout(ctx context.Context) {
	if cred, ok := o.store.Get(); ok && cred.Refresh != "" {
		bctx, cancel := context.WithTimeout(ctx, logoutTimeout)
		defer cancel()

		if err := o.client.Post(bctx, endpointLogout, map[string]string{"refresh": cred.Refresh}, nil); err != nil {
			o.logger.Debug("server-side logout failed, proceeding: %v", err)
		}
	}

	o.store.Clear()
	o.mirror.Sync()

	o.mu.Lock()
	o.profile = nil
	o.returnPath = ""
	o.mu.Unlock()

	o.setState(StateAnonymous)
	o.nav.ToLogin("")
}

// Register delegates to the registration endpoint. Success never creates a
// session: registration and session creation are deliberately decoupled,
// and the user is routed back to login.
func (o *Orchestrator) Register(ctx context.Context, data RegisterData) error {
	if data.Category == "" {
		data.Category = o.SignupCategory()
	}

	if err := data.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload").
			WithCode(goerrors.CodeBadRequest)
	}

	if err := o.client.Post(ctx, endpointRegister, data, nil); err != nil {
		o.setErr(err)
		return err
	}

	o.nav.ToLogin("")
	return nil
}

// RefreshProfile re-fetches the profile for the current credential.
func (o *Orchestrator) RefreshProfile(ctx context.Context) error {
	if _, ok := o.store.Get(); !ok {
		return ErrCredentialMissing
	}
	return o.fetchProfile(ctx)
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Profile returns the last fetched profile, nil when anonymous.
func (o *Orchestrator) Profile() *Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profile
}

// Err returns the last user-visible failure.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// IsAuthenticated reports whether a session is established.
func (o *Orchestrator) IsAuthenticated() bool {
	return o.State() == StateAuthenticated
}

// OnStateChange registers a subscriber for lifecycle transitions.
func (o *Orchestrator) OnStateChange(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// Reauthenticator is anything holding an open authenticated connection
// that must present the fresh token after a rotation, typically the
// realtime chat channel.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// AttachReauthenticator wires a live connection into the silent-refresh
// path: whenever the transport rotates the access token, the connection is
// told to re-authenticate with it.
func (o *Orchestrator) AttachReauthenticator(r Reauthenticator) {
	if r == nil {
		return
	}

	o.client.OnAccessRotated(func(string) {
		if err := r.Reauthenticate(context.Background()); err != nil {
			o.logger.Warn("post-rotation reauthentication failed: %v", err)
		}
	})
}

// RememberSignupCategory records the profile type chosen on the signup
// surface; it seeds the federated-login and registration defaults.
func (o *Orchestrator) RememberSignupCategory(category string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signupCategory = category
}

// SignupCategory returns the remembered signup category.
func (o *Orchestrator) SignupCategory() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.signupCategory
}

// SetReturnPath records the pending post-login return path, typically the
// "from" parameter the guard appended. The login path itself is ignored.
func (o *Orchestrator) SetReturnPath(path string) {
	if path == PathLogin {
		path = ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.returnPath = path
}

// Close detaches the mirror subscription.
func (o *Orchestrator) Close() {
	if o.unsubscribeMirror != nil {
		o.unsubscribeMirror()
	}
}

// exchange runs one credential exchange end to end. Re-entrant calls while
// one is in flight are rejected without starting a second exchange.
func (o *Orchestrator) exchange(ctx context.Context, endpoint string, payload any) error {
	o.mu.Lock()
	if o.exchanging {
		o.mu.Unlock()
		o.logger.Debug("credential exchange already in flight, ignoring")
		return ErrExchangeInFlight
	}
	o.exchanging = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.exchanging = false
		o.mu.Unlock()
	}()

	if o.debug {
		o.logger.Debug("credential exchange payload: %s", print.MaybePrettyJSON(payload))
	}

	var cred Credential
	if err := o.client.Post(ctx, endpoint, payload, &cred); err != nil {
		o.setErr(err)
		o.setState(StateAnonymous)
		return err
	}

	o.store.Set(cred)
	o.mirror.Sync()

	if err := o.fetchProfile(ctx); err != nil {
		o.logger.Warn("post-login profile fetch failed, tearing down: %v", err)
		o.Logout(ctx)
		o.setErr(err)
		return err
	}

	o.setErr(nil)
	o.setState(StateAuthenticated)
	o.navigateAfterLogin()

	return nil
}

func (o *Orchestrator) fetchProfile(ctx context.Context) error {
	var profile Profile
	if err := o.client.Get(ctx, endpointProfile, &profile); err != nil {
		return err
	}

	o.mu.Lock()
	o.profile = &profile
	o.mu.Unlock()

	return nil
}

// navigateAfterLogin routes on the fetched profile, not the decoded
// claims: profile completion first, then any pending return path, then
// the dashboard.
func (o *Orchestrator) navigateAfterLogin() {
	o.mu.Lock()
	profile := o.profile
	returnPath := o.returnPath
	o.returnPath = ""
	o.mu.Unlock()

	switch {
	case profile != nil && !profile.ProfileCompleted:
		o.nav.ToProfileComplete()
	case returnPath != "" && returnPath != PathLogin:
		o.nav.ToPath(returnPath)
	default:
		o.nav.ToDashboard()
	}
}

// onAuthChanged reacts to mirror updates: a de-authentication observed
// while this instance believes it is authenticated (an expired token torn
// down by the transport, or another tab's logout) forces anonymous state.
func (o *Orchestrator) onAuthChanged(evt AuthChanged) {
	if evt.Authenticated {
		return
	}

	o.mu.Lock()
	wasAuthenticated := o.state == StateAuthenticated
	if wasAuthenticated {
		o.profile = nil
	}
	o.mu.Unlock()

	if !wasAuthenticated {
		return
	}

	o.setState(StateAnonymous)
	o.nav.ToLogin("")
}

func (o *Orchestrator) setState(next State) {
	o.mu.Lock()
	if o.state == next {
		o.mu.Unlock()
		return
	}
	o.state = next
	handlers := make([]func(State), 0, len(o.subs))
	for _, fn := range o.subs {
		handlers = append(handlers, fn)
	}
	o.mu.Unlock()

	for _, fn := range handlers {
		fn(next)
	}
}

func (o *Orchestrator) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = err
}
