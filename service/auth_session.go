package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/internal/notify"
	"github.com/layer-3/passport-sandbox/ports"
	"go.uber.org/zap"
)

// SessionState is a snapshot of the authenticated session
type SessionState struct {
	Authenticated        bool
	User                 *core.User
	IsNew                bool
	NeedsWalletReconnect bool
	Signing              bool
	Loading              bool
	Error                string

	// IssuedAPIKey is set right after login or regeneration handed out a key.
	// It is meant to be shown once.
	IssuedAPIKey string
}

func (s SessionState) clone() SessionState {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// expiryNotifier is implemented by backends that can report an ended session
type expiryNotifier interface {
	OnSessionExpired(fn func(ctx context.Context, reason string))
}

// AuthSessionController runs the challenge-response login against the
// sandbox backend and owns the session lifecycle.
type AuthSessionController struct {
	backend  ports.Backend
	wallet   *WalletConnector
	store    ports.Store
	events   ports.EventPublisher
	logger   *zap.Logger
	validate *validator.Validate
	appName  string

	mu    sync.Mutex
	state SessionState

	subs notify.Listeners[SessionState]
}

// NewAuthSessionController creates the controller and binds it to the wallet
// connector. When backend reports expired sessions, the controller follows them.
func NewAuthSessionController(
	backend ports.Backend,
	wallet *WalletConnector,
	store ports.Store,
	events ports.EventPublisher,
	logger *zap.Logger,
) *AuthSessionController {
	c := &AuthSessionController{
		backend:  backend,
		wallet:   wallet,
		store:    store,
		events:   events,
		logger:   logger,
		validate: validator.New(),
		appName:  DefaultAppName,
	}
	wallet.bindAuthState(c.IsAuthenticated)
	if n, ok := backend.(expiryNotifier); ok {
		n.OnSessionExpired(c.HandleSessionExpired)
	}
	return c
}

// SetAppName changes the name announced to wallet extensions on reconnect
func (c *AuthSessionController) SetAppName(name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appName = name
}

// Subscribe registers fn for every state change. The returned func removes it.
func (c *AuthSessionController) Subscribe(fn func(SessionState)) func() {
	return c.subs.Add(fn)
}

// State returns a snapshot of the session
func (c *AuthSessionController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// IsAuthenticated reports whether a session is active
func (c *AuthSessionController) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Authenticated
}

// Wallet returns the connector the controller signs with
func (c *AuthSessionController) Wallet() *WalletConnector {
	return c.wallet
}

// RequestChallenge fetches a fresh one-time challenge for address
func (c *AuthSessionController) RequestChallenge(ctx context.Context, address string) (*core.Challenge, error) {
	challenge, err := c.backend.RequestChallenge(ctx, address)
	if err != nil {
		return nil, err
	}
	challenge.Address = address
	return challenge, nil
}

// Login signs a challenge with the selected account and submits it together
// with contactEmail. A prefetched challenge for the same address is consumed
// instead of requesting a new one. Failures are reported through the state
// error and a false result; the session stays unauthenticated.
func (c *AuthSessionController) Login(ctx context.Context, contactEmail string, prefetched *core.Challenge) bool {
	account := c.wallet.Selected()
	if account == nil {
		c.setError(core.ErrNoAccountSelected.Error())
		return false
	}

	contactEmail = strings.TrimSpace(contactEmail)
	if contactEmail != "" {
		if err := c.validate.Var(contactEmail, "email"); err != nil {
			c.setError(fmt.Sprintf("%s: %s", core.ErrInvalidEmail, contactEmail))
			return false
		}
	}

	c.mutate(func(s *SessionState) {
		s.Signing = true
		s.Loading = true
		s.Error = ""
	})

	challenge := prefetched
	if challenge == nil || challenge.Message == "" || (challenge.Address != "" && challenge.Address != account.Address) {
		fresh, err := c.RequestChallenge(ctx, account.Address)
		if err != nil {
			c.loginFailed(account.Address, err)
			return false
		}
		challenge = fresh
	}

	signature, ok := c.wallet.Sign(ctx, *account, challenge.Message)
	if !ok {
		c.loginFailed(account.Address, fmt.Errorf("%w: the wallet did not sign the challenge", core.ErrSigningUnavailable))
		return false
	}

	result, err := c.backend.Authenticate(ctx, core.AuthRequest{
		Address:      account.Address,
		Message:      challenge.Message,
		Signature:    signature,
		ContactEmail: contactEmail,
	})
	if err != nil {
		c.loginFailed(account.Address, err)
		return false
	}

	c.persist(ctx, map[string]string{
		core.KeyAccessToken:     result.AccessToken,
		core.KeyRefreshToken:    result.RefreshToken,
		core.KeySelectedAddress: account.Address,
		core.KeyAPIKey:          result.User.APIKey,
		core.KeyWalletSource:    account.Source,
	})

	user := result.User
	if user.Address == "" {
		user.Address = account.Address
	}
	c.mutate(func(s *SessionState) {
		*s = SessionState{
			Authenticated: true,
			User:          &user,
			IsNew:         result.IsNew,
			IssuedAPIKey:  user.APIKey,
		}
	})

	c.logger.Info("logged in",
		zap.String("address", account.Address),
		zap.String("wallet", account.Source),
		zap.Bool("is_new", result.IsNew),
	)
	c.publish(ctx, ports.TopicLoggedIn, ports.SessionEvent{
		Address: account.Address,
		Source:  account.Source,
		IsNew:   result.IsNew,
	})
	return true
}

func (c *AuthSessionController) loginFailed(address string, err error) {
	c.logger.Warn("login failed", zap.String("address", address), zap.Error(err))
	c.mutate(func(s *SessionState) {
		s.Signing = false
		s.Loading = false
		s.Error = core.StatusMessage(err)
	})
}

// RestoreSession resumes a persisted session on startup. A restored session
// whose wallet cannot be reconnected stays authenticated and is flagged with
// NeedsWalletReconnect.
func (c *AuthSessionController) RestoreSession(ctx context.Context) {
	token := c.read(ctx, core.KeyAccessToken)
	if token == "" {
		return
	}
	address := c.read(ctx, core.KeySelectedAddress)
	if address == "" {
		c.logger.Warn("persisted session has no address, discarding it")
		c.clearPersisted(ctx)
		return
	}

	c.mutate(func(s *SessionState) {
		s.Loading = true
		s.Error = ""
	})

	user, err := c.backend.Me(ctx, address)
	if err != nil {
		c.logger.Warn("failed to restore session", zap.String("address", address), zap.Error(err))
		if errors.Is(err, core.ErrSessionExpired) {
			// the expiry hook already reset everything
			return
		}
		c.clearPersisted(ctx)
		c.mutate(func(s *SessionState) {
			*s = SessionState{}
		})
		return
	}
	if user.APIKey == "" {
		user.APIKey = c.read(ctx, core.KeyAPIKey)
	}
	if user.Address == "" {
		user.Address = address
	}

	c.mutate(func(s *SessionState) {
		s.Authenticated = true
		s.User = user
	})

	source := c.read(ctx, core.KeyWalletSource)
	reconnected := false
	if source != "" {
		reconnected = c.wallet.Connect(ctx, source, c.currentAppName()) && c.wallet.Selected() != nil
	}

	c.mutate(func(s *SessionState) {
		s.Loading = false
		s.NeedsWalletReconnect = !reconnected
	})

	c.logger.Info("session restored",
		zap.String("address", address),
		zap.Bool("wallet_connected", reconnected),
	)
	if !reconnected {
		c.publish(ctx, ports.TopicReconnectNeeded, ports.SessionEvent{Address: address, Source: source})
	}
}

// ReconnectWallet connects walletID for an already authenticated session and
// clears NeedsWalletReconnect once the session's account is selected again.
func (c *AuthSessionController) ReconnectWallet(ctx context.Context, walletID string) bool {
	if !c.IsAuthenticated() {
		c.setError(core.ErrNotAuthenticated.Error())
		return false
	}

	c.mutate(func(s *SessionState) {
		s.Loading = true
		s.Error = ""
	})

	if !c.wallet.Connect(ctx, walletID, c.currentAppName()) {
		msg := c.wallet.State().Error
		c.mutate(func(s *SessionState) {
			s.Loading = false
			s.NeedsWalletReconnect = true
			s.Error = msg
		})
		return false
	}

	if c.wallet.Selected() == nil {
		address := ""
		if st := c.State(); st.User != nil {
			address = st.User.Address
		}
		c.mutate(func(s *SessionState) {
			s.Loading = false
			s.NeedsWalletReconnect = true
			s.Error = fmt.Sprintf("Account %s was not found in %s", core.ShortAddress(address), walletID)
		})
		return false
	}

	c.mutate(func(s *SessionState) {
		s.Loading = false
		s.NeedsWalletReconnect = false
	})
	return true
}

// Logout tells the backend the session ended, then clears every persisted
// session key and the wallet subscription whatever the backend answered.
func (c *AuthSessionController) Logout(ctx context.Context) {
	var address string
	if st := c.State(); st.User != nil {
		address = st.User.Address
	}

	if err := c.backend.Logout(ctx); err != nil && !errors.Is(err, core.ErrNotAuthenticated) {
		c.logger.Warn("backend logout failed", zap.Error(err))
	}

	c.clearPersisted(ctx)
	c.wallet.Reset()
	c.mutate(func(s *SessionState) {
		*s = SessionState{}
	})

	c.logger.Info("logged out", zap.String("address", address))
	c.publish(ctx, ports.TopicLoggedOut, ports.SessionEvent{Address: address})
}

// HandleSessionExpired drops the in-memory session after the backend gave up
// refreshing it. The persisted keys are already gone at that point.
func (c *AuthSessionController) HandleSessionExpired(ctx context.Context, reason string) {
	var address string
	if st := c.State(); st.User != nil {
		address = st.User.Address
	}

	c.wallet.Reset()
	c.mutate(func(s *SessionState) {
		*s = SessionState{Error: core.ErrSessionExpired.Error()}
	})

	c.logger.Warn("session expired", zap.String("address", address), zap.String("reason", reason))
	c.publish(ctx, ports.TopicSessionExpired, ports.SessionEvent{Address: address, Reason: reason})
}

// RefreshUsage reloads usage counters and rate limits. Failures are logged and dropped.
func (c *AuthSessionController) RefreshUsage(ctx context.Context) {
	st := c.State()
	if !st.Authenticated || st.User == nil {
		return
	}

	fresh, err := c.backend.Me(ctx, st.User.Address)
	if err != nil {
		c.logger.Debug("usage refresh failed", zap.Error(err))
		return
	}

	c.mutate(func(s *SessionState) {
		if !s.Authenticated || s.User == nil || s.User.Address != st.User.Address {
			return
		}
		s.User.Usage = fresh.Usage
		s.User.RateLimits = fresh.RateLimits
		if fresh.Tier != "" {
			s.User.Tier = fresh.Tier
		}
	})
}

// PollUsage runs RefreshUsage every interval until ctx ends
func (c *AuthSessionController) PollUsage(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RefreshUsage(ctx)
		}
	}
}

// RegenerateAPIKey proves ownership of the session address with a fresh
// signed challenge and returns the new API key.
func (c *AuthSessionController) RegenerateAPIKey(ctx context.Context) (string, error) {
	st := c.State()
	if !st.Authenticated || st.User == nil {
		return "", core.ErrNotAuthenticated
	}
	account := c.wallet.Selected()
	if account == nil || !sameAddress(account.Address, st.User.Address) {
		return "", core.ErrNoAccountSelected
	}

	challenge, err := c.RequestChallenge(ctx, account.Address)
	if err != nil {
		return "", err
	}

	c.mutate(func(s *SessionState) { s.Signing = true })
	signature, ok := c.wallet.Sign(ctx, *account, challenge.Message)
	c.mutate(func(s *SessionState) { s.Signing = false })
	if !ok {
		return "", core.ErrSigningUnavailable
	}

	key, err := c.backend.RegenerateKey(ctx, core.SignedChallenge{
		Address:   account.Address,
		Message:   challenge.Message,
		Signature: signature,
	})
	if err != nil {
		return "", err
	}

	c.persist(ctx, map[string]string{core.KeyAPIKey: key})
	c.mutate(func(s *SessionState) {
		if s.User != nil {
			s.User.APIKey = key
		}
		s.IssuedAPIKey = key
	})

	c.logger.Info("api key regenerated", zap.String("address", account.Address))
	return key, nil
}

// APIKey returns the key of the session, falling back to the cached one
func (c *AuthSessionController) APIKey(ctx context.Context) string {
	if st := c.State(); st.User != nil && st.User.APIKey != "" {
		return st.User.APIKey
	}
	return c.read(ctx, core.KeyAPIKey)
}

// Stats fetches the usage statistics of the session
func (c *AuthSessionController) Stats(ctx context.Context) (*core.Stats, error) {
	return c.backend.Stats(ctx)
}

// Logs fetches a page of request logs
func (c *AuthSessionController) Logs(ctx context.Context, filter core.LogFilter) (*core.LogPage, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("invalid log range: %s is before %s", filter.To, filter.From)
	}
	return c.backend.Logs(ctx, filter)
}

// Origins fetches the origins allowed to embed the widget
func (c *AuthSessionController) Origins(ctx context.Context) ([]string, error) {
	return c.backend.Origins(ctx)
}

// UpdateOrigins replaces the allowed origins. Entries are trimmed and
// de-duplicated; every entry must be an http(s) origin.
func (c *AuthSessionController) UpdateOrigins(ctx context.Context, origins []string) ([]string, error) {
	normalized, err := c.normalizeOrigins(origins)
	if err != nil {
		return nil, err
	}
	return c.backend.UpdateOrigins(ctx, normalized)
}

func (c *AuthSessionController) normalizeOrigins(origins []string) ([]string, error) {
	seen := make(map[string]bool, len(origins))
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || seen[o] {
			continue
		}
		if err := c.validate.Var(o, "url"); err != nil {
			return nil, fmt.Errorf("%w: %s", core.ErrInvalidOrigin, o)
		}
		u, err := url.Parse(o)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %s", core.ErrInvalidOrigin, o)
		}
		seen[o] = true
		out = append(out, o)
	}
	return out, nil
}

func (c *AuthSessionController) currentAppName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appName
}

func (c *AuthSessionController) setError(msg string) {
	c.mutate(func(s *SessionState) { s.Error = msg })
}

func (c *AuthSessionController) mutate(fn func(*SessionState)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.state.clone()
	c.mu.Unlock()
	c.subs.Emit(snapshot)
}

func (c *AuthSessionController) read(ctx context.Context, key string) string {
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("failed to read persisted state", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return value
}

func (c *AuthSessionController) persist(ctx context.Context, values map[string]string) {
	for key, value := range values {
		if value == "" {
			continue
		}
		if err := c.store.Set(ctx, key, value); err != nil {
			c.logger.Warn("failed to persist state", zap.String("key", key), zap.Error(err))
		}
	}
}

func (c *AuthSessionController) clearPersisted(ctx context.Context) {
	if err := c.store.Delete(context.WithoutCancel(ctx), core.SessionKeys...); err != nil {
		c.logger.Warn("failed to clear session state", zap.Error(err))
	}
}

func (c *AuthSessionController) publish(ctx context.Context, topic string, event ports.SessionEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishSession(context.WithoutCancel(ctx), topic, event); err != nil {
		c.logger.Warn("failed to publish session event", zap.String("topic", topic), zap.Error(err))
	}
}
