package auth

import (
	"context"
	"time"

	"github.com/inplacehq/inplace/internal/model"
)

// Status is the session lifecycle state.
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticating
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Mode is the authenticated user's working mode. Viewer is the default;
// author mode is what enables editing.
type Mode string

const (
	ModeAuthor Mode = "author"
	ModeViewer Mode = "viewer"
)

// API is the slice of the content API the session manager needs.
type API interface {
	ValidateKey(ctx context.Context) (bool, error)
	GetMember(ctx context.Context) (*model.Member, error)
}

// Manager drives the session state machine: restore a stored credential on
// load, run the popup flow on sign-in, and hand the live bearer key to the
// transport layer. All methods run on the caller's event turn; the manager
// holds no locks.
type Manager struct {
	store    *KeyStorage
	api      API
	flow     *PopupFlow
	loginURL string
	keyTTL   time.Duration
	now      func() time.Time

	status      Status
	mode        Mode
	credential  *Credential
	permissions model.Permissions
}

func NewManager(store *KeyStorage, api API, flow *PopupFlow, loginURL string, keyTTL time.Duration) *Manager {
	return &Manager{
		store:    store,
		api:      api,
		flow:     flow,
		loginURL: loginURL,
		keyTTL:   keyTTL,
		now:      time.Now,
		status:   StatusAnonymous,
		mode:     ModeViewer,
	}
}

// SetClock overrides the time source. Used by tests to drive expiry.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) Status() Status                 { return m.status }
func (m *Manager) Mode() Mode                     { return m.mode }
func (m *Manager) Permissions() model.Permissions { return m.permissions }

// CanEdit reports whether the session may enter editing: authenticated, in
// author mode, and holding the content-write capability.
func (m *Manager) CanEdit() bool {
	return m.status == StatusAuthenticated && m.mode == ModeAuthor && m.permissions.CanEdit()
}

// CredentialKey is the bearer key supplier installed on the transport
// client. Expiry is evaluated against the local clock at each read.
func (m *Manager) CredentialKey() (string, bool) {
	if !m.credential.Valid(m.now()) {
		return "", false
	}
	return m.credential.Key, true
}

// RefreshCredential rolls the stored credential's expiry forward. Installed
// as the transport client's post-success hook so every authenticated call
// extends the session.
func (m *Manager) RefreshCredential() {
	if m.credential == nil {
		return
	}
	m.credential.Refresh(m.now(), m.keyTTL)
	if err := m.store.SetCredential(m.credential); err != nil {
		authLogger.Warn().Err(err).Msg("Error persisting refreshed credential")
	}
}

// Restore attempts to resume a prior session from the stored credential.
// A missing, locally expired, or server-rejected credential leaves the
// session anonymous; validation transport errors also stay anonymous so a
// flaky load never shows a half-authenticated state.
func (m *Manager) Restore(ctx context.Context) (Status, error) {
	cred, ok := m.store.Credential()
	if !ok {
		return StatusAnonymous, nil
	}
	if !cred.Valid(m.now()) {
		authLogger.Debug().Msg("Stored credential expired, discarding")
		if err := m.store.ClearCredential(); err != nil {
			authLogger.Warn().Err(err).Msg("Error clearing expired credential")
		}
		return StatusAnonymous, nil
	}
	m.credential = cred
	valid, err := m.api.ValidateKey(ctx)
	if err != nil {
		m.credential = nil
		return StatusAnonymous, err
	}
	if !valid {
		m.credential = nil
		if err := m.store.ClearCredential(); err != nil {
			authLogger.Warn().Err(err).Msg("Error clearing rejected credential")
		}
		return StatusAnonymous, nil
	}
	if err := m.completeSignIn(ctx); err != nil {
		return StatusAnonymous, err
	}
	return m.status, nil
}

// SignIn runs the popup flow. A flow that resolves without a credential
// (closed window, timeout) returns the session to anonymous without error.
func (m *Manager) SignIn(ctx context.Context) (Status, error) {
	m.status = StatusAuthenticating
	key, state, err := m.flow.Run(ctx, m.loginURL)
	if err != nil || state != FlowResolved {
		authLogger.Debug().Stringer("flow", state).Msg("Sign-in flow ended without credential")
		m.status = StatusAnonymous
		return m.status, err
	}
	cred := &Credential{Key: key}
	cred.Refresh(m.now(), m.keyTTL)
	m.credential = cred
	if err := m.store.SetCredential(cred); err != nil {
		authLogger.Warn().Err(err).Msg("Error persisting credential")
	}
	if err := m.completeSignIn(ctx); err != nil {
		m.credential = nil
		m.status = StatusAnonymous
		return m.status, err
	}
	return m.status, nil
}

// completeSignIn fetches the member's permissions and restores the prior
// mode preference, defaulting to viewer.
func (m *Manager) completeSignIn(ctx context.Context) error {
	member, err := m.api.GetMember(ctx)
	if err != nil {
		return err
	}
	m.permissions = member.Role.Permissions
	m.mode = ModeViewer
	if mode, ok := m.store.Mode(); ok {
		m.mode = mode
	}
	m.status = StatusAuthenticated
	authLogger.Info().Str("member", string(member.ID)).Str("mode", string(m.mode)).Msg("Session authenticated")
	return nil
}

// SetMode switches the working mode and persists the preference.
func (m *Manager) SetMode(mode Mode) error {
	if mode != ModeAuthor && mode != ModeViewer {
		return nil
	}
	m.mode = mode
	return m.store.SetMode(mode)
}

// SignOut ends the session. When hasDirty is set and a confirm callback is
// installed, the callback gates the transition so in-progress edits are not
// discarded by accident; the draft slot itself is not touched, so unsaved
// work survives into the next session. Returns false when the user declined.
func (m *Manager) SignOut(hasDirty bool, confirm func() bool) bool {
	if hasDirty && confirm != nil && !confirm() {
		return false
	}
	m.ForceSignOut()
	return true
}

// ForceSignOut clears the session unconditionally. Used when the server
// rejects the credential mid-session.
func (m *Manager) ForceSignOut() {
	if err := m.store.ClearCredential(); err != nil {
		authLogger.Warn().Err(err).Msg("Error clearing credential on sign-out")
	}
	m.credential = nil
	m.permissions = nil
	m.mode = ModeViewer
	m.status = StatusAnonymous
	authLogger.Info().Msg("Signed out")
}
