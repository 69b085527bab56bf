package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/internal/notify"
	"github.com/layer-3/passport-sandbox/ports"
	"go.uber.org/zap"
)

// DefaultAppName is announced to wallet extensions when none is configured
const DefaultAppName = "DotPassport Sandbox"

// KnownWallets are the extensions offered in the wallet picker
var KnownWallets = []core.WalletOption{
	{ID: "polkadot-js", Name: "Polkadot.js"},
	{ID: "talisman", Name: "Talisman"},
	{ID: "subwallet-js", Name: "SubWallet"},
}

// WalletState is a snapshot of the connector
type WalletState struct {
	Connected  bool
	Connecting bool
	Source     string
	Accounts   []core.WalletAccount
	Selected   *core.WalletAccount
	Error      string
}

func (s WalletState) clone() WalletState {
	out := s
	out.Accounts = append([]core.WalletAccount(nil), s.Accounts...)
	if s.Selected != nil {
		sel := *s.Selected
		out.Selected = &sel
	}
	return out
}

// WalletConnector wraps the injected wallet extensions: discovery, connection,
// the account-list subscription and raw signing.
type WalletConnector struct {
	provider ports.WalletProvider
	store    ports.Store
	logger   *zap.Logger

	mu          sync.Mutex
	state       WalletState
	remembered  string
	appName     string
	injected    map[string]ports.InjectedAPI
	unsubscribe func()
	generation  int
	authState   func() bool

	subs notify.Listeners[WalletState]
}

// NewWalletConnector creates a connector over the injected extensions
func NewWalletConnector(provider ports.WalletProvider, store ports.Store, logger *zap.Logger) *WalletConnector {
	return &WalletConnector{
		provider: provider,
		store:    store,
		logger:   logger,
		appName:  DefaultAppName,
	}
}

// bindAuthState tells the connector how to learn whether a session is active
func (c *WalletConnector) bindAuthState(fn func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authState = fn
}

func (c *WalletConnector) isAuthenticated() bool {
	c.mu.Lock()
	fn := c.authState
	c.mu.Unlock()
	return fn != nil && fn()
}

// Subscribe registers fn for every state change. The returned func removes it.
func (c *WalletConnector) Subscribe(fn func(WalletState)) func() {
	return c.subs.Add(fn)
}

// State returns a snapshot of the connector
func (c *WalletConnector) State() WalletState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Selected returns the selected account or nil
func (c *WalletConnector) Selected() *core.WalletAccount {
	return c.State().Selected
}

func (c *WalletConnector) extensions() []ports.Extension {
	if c.provider == nil {
		return nil
	}
	return c.provider.Extensions()
}

// ListInstalledWallets marks every known wallet as installed or not and
// appends injected extensions that are not in the known list
func (c *WalletConnector) ListInstalledWallets() []core.WalletOption {
	injected := make(map[string]bool)
	var order []string
	for _, ext := range c.extensions() {
		if !injected[ext.Name()] {
			order = append(order, ext.Name())
		}
		injected[ext.Name()] = true
	}

	options := make([]core.WalletOption, 0, len(KnownWallets)+len(order))
	known := make(map[string]bool)
	for _, w := range KnownWallets {
		w.Installed = injected[w.ID]
		options = append(options, w)
		known[w.ID] = true
	}
	for _, name := range order {
		if !known[name] {
			options = append(options, core.WalletOption{ID: name, Name: name, Installed: true})
		}
	}
	return options
}

// Connect enables the extensions, subscribes to the account list of walletID
// and reports whether the subscription is established. Any previous
// subscription is torn down first.
func (c *WalletConnector) Connect(ctx context.Context, walletID, appName string) bool {
	if appName == "" {
		appName = DefaultAppName
	}
	c.teardown()

	c.mutate(func(s *WalletState) {
		*s = WalletState{Connecting: true, Source: walletID}
	})

	enabled := make(map[string]ports.InjectedAPI)
	for _, ext := range c.extensions() {
		api, err := ext.Enable(ctx, appName)
		if err != nil {
			c.logger.Debug("extension did not authorize",
				zap.String("extension", ext.Name()),
				zap.Error(err),
			)
			continue
		}
		enabled[ext.Name()] = api
	}

	if len(enabled) == 0 {
		c.fail(fmt.Sprintf("%s. Install a Polkadot wallet extension and try again", core.ErrNoExtensions))
		return false
	}

	api, ok := enabled[walletID]
	if !ok {
		c.fail(fmt.Sprintf("%s %s", walletID, core.ErrWalletNotInstalled))
		return false
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.injected = enabled
	c.appName = appName
	c.mu.Unlock()

	unsubscribe, err := api.SubscribeAccounts(func(list []core.WalletAccount) {
		c.applyAccounts(gen, walletID, list)
	})
	if err != nil {
		c.fail(fmt.Sprintf("Failed to read accounts from %s: %v", walletID, err))
		return false
	}

	c.mu.Lock()
	if gen != c.generation {
		// replaced by a newer Connect or Disconnect meanwhile
		c.mu.Unlock()
		unsubscribe()
		return false
	}
	c.unsubscribe = unsubscribe
	c.state.Connected = true
	c.state.Connecting = false
	c.state.Error = ""
	snapshot := c.state.clone()
	c.mu.Unlock()

	if err := c.store.Set(ctx, core.KeyWalletSource, walletID); err != nil {
		c.logger.Warn("failed to persist wallet source", zap.Error(err))
	}

	c.logger.Info("wallet connected",
		zap.String("wallet", walletID),
		zap.Int("accounts", len(snapshot.Accounts)),
	)
	c.notify(snapshot)
	return true
}

func (c *WalletConnector) fail(msg string) {
	c.logger.Warn("wallet connection failed", zap.String("reason", msg))
	c.mutate(func(s *WalletState) {
		s.Connecting = false
		s.Connected = false
		s.Error = msg
	})
}

// applyAccounts replaces the account list wholesale and recomputes the selection
func (c *WalletConnector) applyAccounts(gen int, source string, list []core.WalletAccount) {
	authed := c.isAuthenticated()
	persisted := ""
	if authed {
		persisted = c.persistedAddress()
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	accounts := make([]core.WalletAccount, 0, len(list))
	for _, a := range list {
		if a.Source == "" {
			a.Source = source
		}
		if a.Source == source {
			accounts = append(accounts, a)
		}
	}

	var target string
	switch {
	case c.state.Selected != nil:
		target = c.state.Selected.Address
	case authed && c.remembered != "":
		target = c.remembered
	case authed:
		target = persisted
	}

	var selected *core.WalletAccount
	if target != "" {
		for i := range accounts {
			if sameAddress(accounts[i].Address, target) {
				match := accounts[i]
				selected = &match
				break
			}
		}
	}
	if selected != nil && authed {
		c.remembered = selected.Address
	}

	c.state.Accounts = accounts
	c.state.Selected = selected
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.logger.Debug("account list updated",
		zap.String("wallet", source),
		zap.Int("accounts", len(accounts)),
		zap.Bool("selected", selected != nil),
	)
	c.notify(snapshot)
}

func (c *WalletConnector) persistedAddress() string {
	address, err := c.store.Get(context.Background(), core.KeySelectedAddress)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("failed to read selected address", zap.Error(err))
		}
		return ""
	}
	return address
}

// SelectAccount marks account as the active identity. It must be in the current list.
func (c *WalletConnector) SelectAccount(ctx context.Context, account core.WalletAccount) error {
	c.mu.Lock()
	var found *core.WalletAccount
	for i := range c.state.Accounts {
		if sameAddress(c.state.Accounts[i].Address, account.Address) {
			match := c.state.Accounts[i]
			found = &match
			break
		}
	}
	if found == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is not in the wallet", core.ErrNoAccountSelected, account.Address)
	}
	c.state.Selected = found
	c.remembered = found.Address
	snapshot := c.state.clone()
	c.mu.Unlock()

	if err := c.store.Set(ctx, core.KeySelectedAddress, found.Address); err != nil {
		c.logger.Warn("failed to persist selected address", zap.Error(err))
	}
	c.notify(snapshot)
	return nil
}

// Disconnect tears down the account subscription. Safe to call when not connected.
func (c *WalletConnector) Disconnect() {
	if !c.teardown() {
		return
	}
	c.mutate(func(s *WalletState) {
		*s = WalletState{}
	})
}

// Reset disconnects and forgets the remembered selection
func (c *WalletConnector) Reset() {
	c.mu.Lock()
	c.remembered = ""
	c.mu.Unlock()
	c.Disconnect()
}

// teardown drops the active subscription and reports whether there was anything to drop
func (c *WalletConnector) teardown() bool {
	c.mu.Lock()
	c.generation++
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	had := unsubscribe != nil || c.state.Connected || c.state.Connecting || len(c.state.Accounts) > 0
	c.injected = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return had
}

// Sign asks the account's extension for a raw signature over message.
// It never fails loudly: ok is false when signing is unsupported, refused or broken.
func (c *WalletConnector) Sign(ctx context.Context, account core.WalletAccount, message string) (signature string, ok bool) {
	c.mu.Lock()
	api := c.injected[account.Source]
	appName := c.appName
	c.mu.Unlock()

	if api == nil {
		for _, ext := range c.extensions() {
			if ext.Name() != account.Source {
				continue
			}
			enabled, err := ext.Enable(ctx, appName)
			if err != nil {
				c.logger.Warn("failed to enable extension for signing",
					zap.String("extension", account.Source),
					zap.Error(err),
				)
				return "", false
			}
			api = enabled
			break
		}
	}
	if api == nil {
		c.logger.Warn("no extension available for signing", zap.String("extension", account.Source))
		return "", false
	}

	signer := api.Signer()
	if signer == nil {
		c.logger.Warn("extension does not support raw signing", zap.String("extension", account.Source))
		return "", false
	}

	sig, err := signer.SignRaw(ctx, core.SignRawPayload{
		Address: account.Address,
		Data:    hexutil.Encode([]byte(message)),
		Type:    "bytes",
	})
	if err != nil {
		c.logger.Warn("signing failed",
			zap.String("address", account.Address),
			zap.Error(err),
		)
		return "", false
	}
	if sig == "" {
		return "", false
	}
	return sig, true
}

func (c *WalletConnector) mutate(fn func(*WalletState)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.state.clone()
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *WalletConnector) notify(s WalletState) {
	c.subs.Emit(s)
}

// sameAddress compares SS58 addresses exactly and hex addresses case-insensitively
func sameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") && strings.HasPrefix(b, "0x") {
		return strings.EqualFold(a, b)
	}
	return a == b
}
