package modal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/passport-sandbox/adapters/backend"
	"github.com/layer-3/passport-sandbox/adapters/extension"
	"github.com/layer-3/passport-sandbox/adapters/store"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/sandboxtest"
	"github.com/layer-3/passport-sandbox/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dave = "5DAAnrj7VHTznn2AWBemMuyBwZWs6FNFjdyVXUeYum3PTXFy"

type fixture struct {
	srv       *sandboxtest.Server
	wallet    *sandboxtest.Wallet
	connector *service.WalletConnector
	session   *service.AuthSessionController
	scheduler *sandboxtest.Scheduler
	machine   *Machine

	mu    sync.Mutex
	steps []Step
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		srv:       sandboxtest.NewServer(t),
		wallet:    sandboxtest.NewWallet("talisman"),
		scheduler: &sandboxtest.Scheduler{},
	}
	f.wallet.SetAccounts(f.wallet.Account("Alice", alice.Address), f.wallet.Account("Bob", bob.Address))

	s := store.NewMemoryStore()
	client := backend.New(f.srv.URL, s, zap.NewNop())
	f.connector = service.NewWalletConnector(extension.NewRegistry(f.wallet), s, zap.NewNop())
	f.session = service.NewAuthSessionController(client, f.connector, s, nil, zap.NewNop())
	f.machine = New(f.connector, f.session, f.scheduler, zap.NewNop())
	t.Cleanup(f.machine.Stop)

	f.machine.Subscribe(func(s State) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if n := len(f.steps); s.Open && (n == 0 || f.steps[n-1] != s.Step) {
			f.steps = append(f.steps, s.Step)
		}
	})
	return f
}

func (f *fixture) Steps() []Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Step(nil), f.steps...)
}

// toAccounts opens the dialog and connects the wallet
func (f *fixture) toAccounts(t *testing.T) {
	t.Helper()
	f.machine.Open(false)
	require.True(t, f.machine.PickWallet(context.Background(), "talisman"))
	require.Equal(t, StepSelectAccount, f.machine.State().Step)
}

func TestMachine_RegisteredAccountLogsInDirectly(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "alice@example.com")
	ctx := context.Background()

	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)

	s := f.machine.State()
	assert.Equal(t, StepAuthSuccess, s.Step)
	assert.False(t, s.IsNew)
	assert.Empty(t, s.IssuedAPIKey)
	assert.True(t, f.session.IsAuthenticated())

	assert.Equal(t, []Step{
		StepSelectWallet,
		StepConnecting,
		StepSelectAccount,
		StepCheckingRegistration,
		StepSigning,
		StepAuthSuccess,
	}, f.Steps())
	assert.NotContains(t, f.Steps(), StepEmailInput)

	// one challenge was fetched and signed
	reqs := f.srv.AuthRequests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].ContactEmail)
	assert.Len(t, f.wallet.Signed(), 1)

	pending := f.scheduler.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, DefaultDelays.Default, pending[0].Delay)
}

func TestMachine_NewAccountCapturesEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)

	s := f.machine.State()
	require.Equal(t, StepEmailInput, s.Step)
	require.NotNil(t, s.Challenge)
	prefetched := s.Challenge.Message

	assert.False(t, f.machine.SubmitEmail(ctx, "  "))
	assert.Equal(t, "Please enter a contact email", f.machine.State().Status)
	assert.Equal(t, StepEmailInput, f.machine.State().Step)

	require.True(t, f.machine.SubmitEmail(ctx, "dev@example.com"))

	s = f.machine.State()
	assert.Equal(t, StepAuthSuccess, s.Step)
	assert.True(t, s.IsNew)
	assert.True(t, strings.HasPrefix(s.IssuedAPIKey, "dp_sandbox_"), s.IssuedAPIKey)
	assert.Nil(t, s.Challenge)

	// the challenge of the registration check is the one that got signed
	reqs := f.srv.AuthRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, prefetched, reqs[0].Message)
	assert.Equal(t, "dev@example.com", reqs[0].ContactEmail)

	pending := f.scheduler.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 6000*time.Millisecond, pending[0].Delay)

	var closed *State
	f.machine.OnClose(func(s State) { closed = &s })
	assert.Equal(t, 1, f.scheduler.Fire())

	require.NotNil(t, closed)
	assert.Equal(t, StepAuthSuccess, closed.Step)
	assert.Equal(t, s.IssuedAPIKey, closed.IssuedAPIKey)
	assert.False(t, f.machine.State().Open)
}

func TestMachine_InvalidEmailStaysOnCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.toAccounts(t)
	f.machine.PickAccount(ctx, bob)
	require.Equal(t, StepEmailInput, f.machine.State().Step)

	assert.False(t, f.machine.SubmitEmail(ctx, "not-an-email"))
	s := f.machine.State()
	assert.Equal(t, StepEmailInput, s.Step)
	assert.Contains(t, s.Status, core.ErrInvalidEmail.Error())
	require.NotNil(t, s.Account)
	assert.Equal(t, bob.Address, s.Account.Address)

	// a fresh challenge is fetched for the retry
	require.True(t, f.machine.SubmitEmail(ctx, "bob@example.com"))
	assert.Equal(t, StepAuthSuccess, f.machine.State().Step)
}

func TestMachine_SigningFailureFallsBackToEmail(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "alice@example.com")
	f.wallet.FailSigning(sandboxtest.ErrRejected)

	f.toAccounts(t)
	f.machine.PickAccount(context.Background(), alice)

	s := f.machine.State()
	assert.Equal(t, StepEmailInput, s.Step)
	assert.Contains(t, s.Status, core.ErrSigningUnavailable.Error())
	assert.NotContains(t, f.Steps(), StepAuthSuccess)
	assert.False(t, f.session.IsAuthenticated())
	assert.Empty(t, f.srv.AuthRequests())
	assert.Empty(t, f.scheduler.Tasks())
}

func TestMachine_RegistrationCheckFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.FailChallenges(&core.APIError{StatusCode: 503, Message: "maintenance"})

	f.toAccounts(t)
	f.machine.PickAccount(context.Background(), alice)

	s := f.machine.State()
	assert.Equal(t, StepEmailInput, s.Step)
	assert.Contains(t, s.Status, "Could not check registration (maintenance)")
	assert.Nil(t, s.Challenge)
}

func TestMachine_GuardHoldsStepDuringCheck(t *testing.T) {
	tests := []struct {
		name     string
		accounts []string
		final    Step
	}{
		{"account added", []string{alice.Address, bob.Address, dave}, StepEmailInput},
		{"picked account removed", []string{bob.Address}, StepSelectAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.toAccounts(t)

			started, release := f.srv.HoldChallenges()
			defer release()

			done := make(chan struct{})
			go func() {
				defer close(done)
				f.machine.PickAccount(context.Background(), alice)
			}()

			select {
			case <-started:
			case <-time.After(2 * time.Second):
				t.Fatal("registration check did not start")
			}
			assert.True(t, f.machine.Guard().Active())

			accounts := make([]core.WalletAccount, 0, len(tt.accounts))
			for _, a := range tt.accounts {
				accounts = append(accounts, f.wallet.Account("", a))
			}
			f.wallet.SetAccounts(accounts...)

			assert.Equal(t, StepCheckingRegistration, f.machine.State().Step)

			release()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("account handler did not finish")
			}

			assert.False(t, f.machine.Guard().Active())
			assert.Equal(t, tt.final, f.machine.State().Step)
		})
	}
}

func TestMachine_WalletChangesOutsideHandlers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)
	require.Equal(t, StepEmailInput, f.machine.State().Step)

	f.wallet.SetAccounts(f.wallet.Account("Bob", bob.Address))
	s := f.machine.State()
	assert.Equal(t, StepSelectAccount, s.Step)
	assert.Nil(t, s.Account)

	f.wallet.SetAccounts()
	s = f.machine.State()
	assert.Equal(t, StepSelectWallet, s.Step)
	assert.NotEmpty(t, s.Status)
}

func TestMachine_ConcurrentWalletUpdates(t *testing.T) {
	f := newFixture(t)
	f.toAccounts(t)
	both := []core.WalletAccount{f.wallet.Account("Alice", alice.Address), f.wallet.Account("Bob", bob.Address)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				f.wallet.SetAccounts(both...)
				_ = f.machine.State()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StepSelectAccount, f.machine.State().Step)

	// the last update wins once every sync has run
	f.wallet.SetAccounts()
	assert.Equal(t, StepSelectWallet, f.machine.State().Step)
	assert.Empty(t, f.connector.State().Accounts)
}

func TestMachine_ConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.wallet.Deny(true)

	f.machine.Open(false)
	assert.False(t, f.machine.PickWallet(context.Background(), "talisman"))

	s := f.machine.State()
	assert.Equal(t, StepSelectWallet, s.Step)
	assert.Contains(t, s.Status, core.ErrNoExtensions.Error())

	assert.False(t, f.machine.PickWallet(context.Background(), "subwallet-js"))
}

func TestMachine_CloseSemantics(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "alice@example.com")
	ctx := context.Background()

	// subscribers run on the handler goroutine, so the dialog is still signing here
	var (
		tried        bool
		whileSigning error
	)
	f.machine.Subscribe(func(s State) {
		if s.Step == StepSigning && !tried {
			tried = true
			whileSigning = f.machine.RequestClose()
		}
	})

	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)

	assert.ErrorIs(t, whileSigning, core.ErrCloseBlocked)
	require.Equal(t, StepAuthSuccess, f.machine.State().Step)

	assert.ErrorIs(t, f.machine.RequestClose(), core.ErrCloseBlocked)
	s := f.machine.State()
	assert.True(t, s.Open)
	assert.Equal(t, "Please wait until the login completes", s.Status)

	closedWith := make(chan State, 1)
	f.machine.OnClose(func(s State) { closedWith <- s })
	require.Equal(t, 1, f.scheduler.Fire())

	final := <-closedWith
	assert.Equal(t, StepAuthSuccess, final.Step)
	assert.False(t, f.machine.State().Open)

	// a closed dialog does not follow the wallet
	f.wallet.SetAccounts()
	assert.False(t, f.machine.State().Open)
}

func TestMachine_CloseIsAllowedBeforeSigning(t *testing.T) {
	f := newFixture(t)
	f.toAccounts(t)

	require.NoError(t, f.machine.RequestClose())
	assert.False(t, f.machine.State().Open)

	f.machine.Open(false)
	assert.Equal(t, StepSelectWallet, f.machine.State().Step)
}

func TestMachine_ReopenCancelsAutoClose(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "")
	f.toAccounts(t)
	f.machine.PickAccount(context.Background(), alice)
	require.Equal(t, StepAuthSuccess, f.machine.State().Step)

	closed := false
	f.machine.OnClose(func(State) { closed = true })

	f.machine.Open(true)
	tasks := f.scheduler.Tasks()
	require.NotEmpty(t, tasks)
	assert.True(t, tasks[0].Cancelled())
	f.scheduler.Fire()
	assert.True(t, closed, "the reconnect success screen closes itself")
	assert.Equal(t, StepReconnectSuccess, f.Steps()[len(f.Steps())-1])
}

func TestMachine_LogoutOnSuccessCancelsAutoClose(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "")
	ctx := context.Background()
	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)
	require.Equal(t, StepAuthSuccess, f.machine.State().Step)
	require.Len(t, f.scheduler.Pending(), 1)

	closed := false
	f.machine.OnClose(func(State) { closed = true })

	f.session.Logout(ctx)

	s := f.machine.State()
	assert.True(t, s.Open)
	assert.Equal(t, StepSelectWallet, s.Step)
	assert.NotEmpty(t, s.Status)
	assert.Empty(t, f.scheduler.Pending())
	assert.Equal(t, 0, f.scheduler.Fire())
	assert.False(t, closed, "no redirect for a session that ended")
	assert.NoError(t, f.machine.RequestClose())
}

func TestMachine_ExpiryOnSuccessCancelsAutoClose(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "")
	ctx := context.Background()
	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)
	require.Equal(t, StepAuthSuccess, f.machine.State().Step)

	f.session.HandleSessionExpired(ctx, "refresh rejected")

	s := f.machine.State()
	assert.Equal(t, StepSelectWallet, s.Step)
	assert.Equal(t, core.ErrSessionExpired.Error(), s.Status)
	assert.Empty(t, f.scheduler.Pending())
}

func TestMachine_ReconnectFlow(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "")
	ctx := context.Background()

	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)
	require.Equal(t, StepAuthSuccess, f.machine.State().Step)
	f.scheduler.Fire()

	// the wallet went away but the session is still valid
	f.connector.Disconnect()
	require.True(t, f.session.IsAuthenticated())

	f.machine.Open(true)
	s := f.machine.State()
	require.True(t, s.Reconnect)
	require.Equal(t, StepReconnectWallet, s.Step)

	require.True(t, f.machine.PickWallet(ctx, "talisman"))
	s = f.machine.State()
	assert.Equal(t, StepReconnectSuccess, s.Step)

	pending := f.scheduler.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1500*time.Millisecond, pending[0].Delay)

	// closing is always allowed while reconnecting
	require.NoError(t, f.machine.RequestClose())
	assert.False(t, f.machine.State().Open)
	assert.True(t, pending[0].Cancelled())
}

func TestMachine_ReconnectWrongWallet(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "")
	ctx := context.Background()

	other := sandboxtest.NewWallet("polkadot-js")
	other.SetAccounts(other.Account("Eve", dave))
	s := store.NewMemoryStore()
	connector := service.NewWalletConnector(extension.NewRegistry(f.wallet, other), s, zap.NewNop())
	session := service.NewAuthSessionController(backend.New(f.srv.URL, s, zap.NewNop()), connector, s, nil, zap.NewNop())
	m := New(connector, session, f.scheduler, zap.NewNop(), WithDelays(Delays{Reconnect: time.Second}))
	defer m.Stop()

	m.Open(false)
	require.True(t, m.PickWallet(ctx, "talisman"))
	m.PickAccount(ctx, alice)
	require.Equal(t, StepAuthSuccess, m.State().Step)
	connector.Disconnect()

	m.Open(true)
	assert.False(t, m.PickWallet(ctx, "polkadot-js"))
	st := m.State()
	assert.Equal(t, StepReconnectWallet, st.Step)
	assert.Contains(t, st.Status, "was not found in polkadot-js")

	require.True(t, m.PickWallet(ctx, "talisman"))
	assert.Equal(t, StepReconnectSuccess, m.State().Step)
	pending := f.scheduler.Pending()
	require.NotEmpty(t, pending)
	assert.Equal(t, time.Second, pending[len(pending)-1].Delay)
}

func TestMachine_SessionLossDuringReconnect(t *testing.T) {
	f := newFixture(t)
	f.srv.Register(alice.Address, "")
	ctx := context.Background()

	f.toAccounts(t)
	f.machine.PickAccount(ctx, alice)
	f.scheduler.Fire()
	f.connector.Disconnect()

	f.machine.Open(true)
	f.session.HandleSessionExpired(ctx, "refresh failed")

	s := f.machine.State()
	assert.True(t, s.Open)
	assert.False(t, s.Reconnect)
	assert.Equal(t, StepSelectWallet, s.Step)
	assert.Equal(t, core.ErrSessionExpired.Error(), s.Status)
}

func TestMachine_HandlersIgnoreWrongStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.machine.PickAccount(ctx, alice)
	assert.False(t, f.machine.State().Open)
	assert.False(t, f.machine.SubmitEmail(ctx, "dev@example.com"))
	assert.False(t, f.machine.PickWallet(ctx, "talisman"))
	assert.False(t, f.machine.Guard().Active())
	assert.NoError(t, f.machine.RequestClose())
}
