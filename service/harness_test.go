package service

import (
	"context"
	"sync"
	"testing"

	"github.com/layer-3/passport-sandbox/adapters/backend"
	"github.com/layer-3/passport-sandbox/adapters/extension"
	"github.com/layer-3/passport-sandbox/adapters/store"
	"github.com/layer-3/passport-sandbox/ports"
	"github.com/layer-3/passport-sandbox/sandboxtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
	dave  = "5DAAnrj7VHTznn2AWBemMuyBwZWs6FNFjdyVXUeYum3PTXFy"
)

type recorder struct {
	mu     sync.Mutex
	topics []string
	events []ports.SessionEvent
}

func (r *recorder) PublishSession(_ context.Context, topic string, event ports.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

type harness struct {
	srv       *sandboxtest.Server
	store     *store.MemoryStore
	wallet    *sandboxtest.Wallet
	registry  *extension.Registry
	client    *backend.Client
	connector *WalletConnector
	session   *AuthSessionController
	events    *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv := sandboxtest.NewServer(t)
	s := store.NewMemoryStore()
	wallet := sandboxtest.NewWallet("talisman")
	wallet.SetAccounts(wallet.Account("Alice", alice), wallet.Account("Bob", bob))

	h := &harness{srv: srv, store: s, wallet: wallet}
	h.registry = extension.NewRegistry(wallet)
	h.reload(t)
	return h
}

// reload builds fresh controllers over the same store and backend, like a page reload
func (h *harness) reload(t *testing.T) {
	t.Helper()
	h.client = backend.New(h.srv.URL, h.store, zap.NewNop())
	h.connector = NewWalletConnector(h.registry, h.store, zap.NewNop())
	h.events = &recorder{}
	h.session = NewAuthSessionController(h.client, h.connector, h.store, h.events, zap.NewNop())
}

// login connects the wallet, selects address and logs in
func (h *harness) login(t *testing.T, address, email string) {
	t.Helper()
	ctx := context.Background()

	require.True(t, h.connector.Connect(ctx, "talisman", ""))
	require.NoError(t, h.connector.SelectAccount(ctx, h.wallet.Account("", address)))
	require.True(t, h.session.Login(ctx, email, nil), h.session.State().Error)
}
