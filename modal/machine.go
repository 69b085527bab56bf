package modal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/internal/notify"
	"github.com/layer-3/passport-sandbox/ports"
	"github.com/layer-3/passport-sandbox/service"
	"go.uber.org/zap"
)

// Delays before the dialog closes itself after a success screen
type Delays struct {
	// NewAccount leaves time to copy a freshly issued API key
	NewAccount time.Duration
	Default    time.Duration
	Reconnect  time.Duration
}

// DefaultDelays are the auto-close delays of the dashboard
var DefaultDelays = Delays{
	NewAccount: 6000 * time.Millisecond,
	Default:    2000 * time.Millisecond,
	Reconnect:  1500 * time.Millisecond,
}

// Option configures a Machine
type Option func(*Machine)

// WithDelays overrides the auto-close delays. Zero fields keep their default.
func WithDelays(d Delays) Option {
	return func(m *Machine) {
		if d.NewAccount > 0 {
			m.delays.NewAccount = d.NewAccount
		}
		if d.Default > 0 {
			m.delays.Default = d.Default
		}
		if d.Reconnect > 0 {
			m.delays.Reconnect = d.Reconnect
		}
	}
}

// WithAppName sets the name announced to wallet extensions
func WithAppName(name string) Option {
	return func(m *Machine) { m.appName = name }
}

// Machine drives the connect dialog over a wallet connector and a session
// controller. Handlers set the step explicitly; every change of the connector
// or the session re-derives it unless a handler holds the guard.
type Machine struct {
	wallet    *service.WalletConnector
	session   *service.AuthSessionController
	scheduler ports.Scheduler
	logger    *zap.Logger
	delays    Delays
	appName   string

	guard Guard

	mu        sync.Mutex
	state     State
	closeTask ports.Task
	closeGen  int
	onClose   func(State)

	stop []func()
	subs notify.Listeners[State]
}

// New creates a closed dialog and starts following wallet and session
func New(
	wallet *service.WalletConnector,
	session *service.AuthSessionController,
	scheduler ports.Scheduler,
	logger *zap.Logger,
	opts ...Option,
) *Machine {
	m := &Machine{
		wallet:    wallet,
		session:   session,
		scheduler: scheduler,
		logger:    logger,
		delays:    DefaultDelays,
		appName:   service.DefaultAppName,
		state:     State{Step: StepSelectWallet},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.stop = append(m.stop,
		wallet.Subscribe(func(service.WalletState) { m.sync() }),
		session.Subscribe(func(service.SessionState) { m.sync() }),
	)
	return m
}

// Stop detaches the dialog from the connector and the session and cancels a
// pending auto-close
func (m *Machine) Stop() {
	for _, fn := range m.stop {
		fn()
	}
	m.stop = nil

	m.mu.Lock()
	m.cancelCloseLocked()
	m.mu.Unlock()
}

// OnClose registers fn to run when the dialog closes itself after success,
// with the final state. This is where the caller navigates away.
func (m *Machine) OnClose(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// Subscribe registers fn for every state change. The returned func removes it.
func (m *Machine) Subscribe(fn func(State)) func() {
	return m.subs.Add(fn)
}

// State returns a snapshot of the dialog
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Guard exposes the operation guard of the dialog
func (m *Machine) Guard() *Guard {
	return &m.guard
}

// Open shows the dialog. A fresh flow always starts over at wallet selection;
// the reconnect flow jumps to whatever the session and wallet already allow.
func (m *Machine) Open(reconnect bool) {
	m.mu.Lock()
	m.cancelCloseLocked()
	m.mu.Unlock()

	m.apply(Event{Kind: EventOpen, Reconnect: reconnect})
	m.sync()
}

// RequestClose closes the dialog unless a credential is being minted: closing
// is refused while signing or on the success screen, except in reconnect mode.
func (m *Machine) RequestClose() error {
	m.mu.Lock()
	s := m.state
	if s.Open && !s.Reconnect && (s.Step == StepSigning || s.Step == StepAuthSuccess) {
		m.state.Status = "Please wait until the login completes"
		snapshot := m.state.clone()
		m.mu.Unlock()

		m.subs.Emit(snapshot)
		return core.ErrCloseBlocked
	}
	m.cancelCloseLocked()
	m.mu.Unlock()

	m.apply(Event{Kind: EventClose})
	return nil
}

// PickWallet connects walletID. On failure the dialog returns to wallet selection.
func (m *Machine) PickWallet(ctx context.Context, walletID string) bool {
	s := m.apply(Event{Kind: EventWalletPicked, WalletID: walletID})
	if s.Step != StepConnecting {
		return false
	}

	var ok bool
	if s.Reconnect {
		ok = m.session.ReconnectWallet(ctx, walletID)
	} else {
		ok = m.wallet.Connect(ctx, walletID, m.appName)
	}

	if !ok {
		status := m.wallet.State().Error
		if s.Reconnect {
			if st := m.session.State(); st.Error != "" {
				status = st.Error
			}
		}
		m.apply(Event{Kind: EventConnectFailed, Status: status})
		m.logger.Debug("wallet connection failed", zap.String("wallet", walletID), zap.String("status", status))
		return false
	}

	m.sync()
	return true
}

// PickAccount selects account and runs the registration check. A registered
// address logs in straight away and falls back to email capture if that
// fails; an unregistered one, or a failed check, goes to email capture.
func (m *Machine) PickAccount(ctx context.Context, account core.WalletAccount) {
	// taken before the first suspension point so no derivation can slip in
	m.guard.Begin()
	defer func() {
		m.guard.End()
		m.sync()
	}()

	if st := m.State(); !st.Open || st.Step != StepSelectAccount {
		return
	}

	if err := m.wallet.SelectAccount(ctx, account); err != nil {
		m.setStatus(core.StatusMessage(err))
		return
	}
	m.apply(Event{Kind: EventAccountPicked, Account: &account})

	challenge, err := m.session.RequestChallenge(ctx, account.Address)
	if err != nil {
		m.logger.Warn("registration check failed", zap.String("address", account.Address), zap.Error(err))
		m.apply(Event{
			Kind:   EventCheckFailed,
			Status: fmt.Sprintf("Could not check registration (%s). Enter a contact email to continue or pick the account again to retry", core.StatusMessage(err)),
		})
		return
	}

	if !challenge.IsRegistered {
		m.apply(Event{Kind: EventUnregistered, Challenge: challenge})
		return
	}

	if s := m.apply(Event{Kind: EventRegistered, Challenge: challenge}); s.Step != StepSigning {
		return
	}
	m.take()

	if m.session.Login(ctx, "", challenge) {
		m.succeed()
		return
	}

	status := m.session.State().Error
	m.logger.Info("direct login failed, asking for a contact email",
		zap.String("address", account.Address),
		zap.String("status", status),
	)
	m.apply(Event{Kind: EventLoginFailed, Status: status})
}

// SubmitEmail logs in with contactEmail. On failure the dialog stays on email
// capture with the selected account kept.
func (m *Machine) SubmitEmail(ctx context.Context, contactEmail string) bool {
	m.guard.Begin()
	defer func() {
		m.guard.End()
		m.sync()
	}()

	contactEmail = strings.TrimSpace(contactEmail)
	if st := m.State(); !st.Open || st.Step != StepEmailInput {
		return false
	}
	if contactEmail == "" {
		m.setStatus("Please enter a contact email")
		return false
	}

	prev := m.State()
	if s := m.apply(Event{Kind: EventEmailSubmitted}); s.Step != StepSigning {
		return false
	}

	if m.session.Login(ctx, contactEmail, prev.Challenge) {
		m.succeed()
		return true
	}

	m.apply(Event{Kind: EventLoginFailed, Status: m.session.State().Error})
	return false
}

// take marks the prefetched challenge as consumed
func (m *Machine) take() {
	m.mu.Lock()
	m.state.Challenge = nil
	m.mu.Unlock()
}

func (m *Machine) succeed() {
	st := m.session.State()
	m.apply(Event{Kind: EventAuthenticated, IsNew: st.IsNew, APIKey: st.IssuedAPIKey})
}

func (m *Machine) setStatus(status string) {
	m.mu.Lock()
	m.state.Status = status
	snapshot := m.state.clone()
	m.mu.Unlock()
	m.subs.Emit(snapshot)
}

func (m *Machine) snapshot() Snapshot {
	ws := m.wallet.State()
	ss := m.session.State()
	return Snapshot{
		Authenticated: ss.Authenticated,
		Loading:       ss.Loading,
		IsNew:         ss.IsNew,
		APIKey:        ss.IssuedAPIKey,
		SessionError:  ss.Error,
		Connected:     ws.Connected,
		Connecting:    ws.Connecting,
		Accounts:      ws.Accounts,
		Selected:      ws.Selected,
		WalletError:   ws.Error,
	}
}

// sync re-derives the step from the wallet and the session unless a handler
// holds the guard. The guard check, the snapshot and the result all happen
// under one lock. The connector and the session never call back into the
// dialog while holding their own locks.
func (m *Machine) sync() {
	m.mu.Lock()
	if m.guard.Active() || !m.state.Open {
		m.mu.Unlock()
		return
	}
	// read under m.mu so concurrent syncs apply snapshots in the order taken
	snap := m.snapshot()
	prev := m.state
	m.state = Derive(m.state, snap)
	changed := m.commitLocked(prev)
	snapshot := m.state.clone()
	m.mu.Unlock()

	if changed {
		m.subs.Emit(snapshot)
	}
}

// apply runs e through Transition and returns the new state
func (m *Machine) apply(e Event) State {
	m.mu.Lock()
	prev := m.state
	m.state = Transition(m.state, e)
	m.commitLocked(prev)
	snapshot := m.state.clone()
	m.mu.Unlock()

	m.logger.Debug("dialog transition",
		zap.Stringer("event", e.Kind),
		zap.String("from", string(prev.Step)),
		zap.String("to", string(snapshot.Step)),
	)
	m.subs.Emit(snapshot)
	return snapshot
}

// commitLocked schedules the auto-close when a success screen was just
// entered and reports whether anything visible changed
func (m *Machine) commitLocked(prev State) bool {
	next := m.state
	switch {
	case next.Step.Done() && !(prev.Open && prev.Step == next.Step):
		m.scheduleCloseLocked(next)
	case prev.Step.Done() && !next.Step.Done():
		m.cancelCloseLocked()
	}
	return prev.Open != next.Open || prev.Step != next.Step || prev.Status != next.Status
}

func (m *Machine) scheduleCloseLocked(s State) {
	m.cancelCloseLocked()

	delay := m.delays.Default
	switch {
	case s.Step == StepReconnectSuccess:
		delay = m.delays.Reconnect
	case s.IsNew && s.IssuedAPIKey != "":
		delay = m.delays.NewAccount
	}

	m.closeGen++
	gen := m.closeGen
	m.closeTask = m.scheduler.Schedule(delay, func() { m.autoClose(gen) })
}

func (m *Machine) cancelCloseLocked() {
	if m.closeTask != nil {
		m.closeTask.Cancel()
		m.closeTask = nil
	}
}

func (m *Machine) autoClose(gen int) {
	m.mu.Lock()
	if m.closeTask == nil || m.closeGen != gen {
		m.mu.Unlock()
		return
	}
	m.closeTask = nil
	final := m.state.clone()
	m.state = Transition(m.state, Event{Kind: EventClose})
	snapshot := m.state.clone()
	onClose := m.onClose
	m.mu.Unlock()

	m.logger.Debug("dialog closed after success", zap.String("step", string(final.Step)))
	m.subs.Emit(snapshot)
	if onClose != nil {
		onClose(final)
	}
}
