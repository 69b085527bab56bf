package service

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/passport-sandbox/adapters/extension"
	"github.com/layer-3/passport-sandbox/adapters/store"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/sandboxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newConnector(wallets ...*sandboxtest.Wallet) (*WalletConnector, *store.MemoryStore) {
	registry := extension.NewRegistry()
	for _, w := range wallets {
		registry.Inject(w)
	}
	s := store.NewMemoryStore()
	return NewWalletConnector(registry, s, zap.NewNop()), s
}

func TestWalletConnector_ListInstalledWallets(t *testing.T) {
	t.Run("no extension", func(t *testing.T) {
		c, _ := newConnector()
		wallets := c.ListInstalledWallets()
		require.Len(t, wallets, len(KnownWallets))
		for _, w := range wallets {
			assert.False(t, w.Installed, w.ID)
		}
	})

	t.Run("known and unknown extensions", func(t *testing.T) {
		c, _ := newConnector(sandboxtest.NewWallet("talisman"), sandboxtest.NewWallet("nova"))
		wallets := c.ListInstalledWallets()

		installed := map[string]bool{}
		for _, w := range wallets {
			installed[w.ID] = w.Installed
		}
		assert.False(t, installed["polkadot-js"])
		assert.True(t, installed["talisman"])
		assert.False(t, installed["subwallet-js"])
		assert.True(t, installed["nova"])
		assert.Equal(t, "nova", wallets[len(wallets)-1].ID)
	})
}

func TestWalletConnector_ConnectFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no extension", func(t *testing.T) {
		c, _ := newConnector()
		assert.False(t, c.Connect(ctx, "talisman", ""))
		st := c.State()
		assert.False(t, st.Connected)
		assert.False(t, st.Connecting)
		assert.Contains(t, st.Error, core.ErrNoExtensions.Error())
	})

	t.Run("requested wallet absent", func(t *testing.T) {
		c, _ := newConnector(sandboxtest.NewWallet("talisman"))
		assert.False(t, c.Connect(ctx, "subwallet-js", ""))
		assert.Contains(t, c.State().Error, "subwallet-js "+core.ErrWalletNotInstalled.Error())
	})

	t.Run("permission denied", func(t *testing.T) {
		denied := sandboxtest.NewWallet("talisman")
		denied.Deny(true)
		c, _ := newConnector(denied, sandboxtest.NewWallet("polkadot-js"))
		assert.False(t, c.Connect(ctx, "talisman", ""))
		assert.Contains(t, c.State().Error, core.ErrWalletNotInstalled.Error())
	})
}

func TestWalletConnector_ConnectReplacesSubscription(t *testing.T) {
	ctx := context.Background()
	w := sandboxtest.NewWallet("talisman")
	w.SetAccounts(w.Account("Alice", alice))
	c, s := newConnector(w)

	var updates int
	c.Subscribe(func(WalletState) { updates++ })

	require.True(t, c.Connect(ctx, "talisman", ""))
	require.True(t, c.Connect(ctx, "talisman", "Another App"))
	assert.Equal(t, 1, w.Subscribers())
	assert.Positive(t, updates)

	source, err := s.Get(ctx, core.KeyWalletSource)
	require.NoError(t, err)
	assert.Equal(t, "talisman", source)

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, 0, w.Subscribers())
	assert.False(t, c.State().Connected)

	// updates after teardown are ignored
	w.SetAccounts(w.Account("Bob", bob))
	assert.Empty(t, c.State().Accounts)
}

func TestWalletConnector_FiltersBySource(t *testing.T) {
	w := sandboxtest.NewWallet("talisman")
	w.SetAccounts(
		w.Account("Alice", alice),
		core.WalletAccount{Address: bob, Source: "polkadot-js"},
	)
	c, _ := newConnector(w)

	require.True(t, c.Connect(context.Background(), "talisman", ""))
	accounts := c.State().Accounts
	require.Len(t, accounts, 1)
	assert.Equal(t, alice, accounts[0].Address)
}

func TestWalletConnector_UnauthenticatedNeverAutoSelects(t *testing.T) {
	ctx := context.Background()
	w := sandboxtest.NewWallet("talisman")
	w.SetAccounts(w.Account("Alice", alice), w.Account("Bob", bob))
	c, s := newConnector(w)
	require.NoError(t, s.Set(ctx, core.KeySelectedAddress, bob))

	require.True(t, c.Connect(ctx, "talisman", ""))
	assert.Nil(t, c.Selected())

	require.NoError(t, c.SelectAccount(ctx, w.Account("Bob", bob)))
	w.SetAccounts(w.Account("Dave", dave), w.Account("Bob", bob))
	require.NotNil(t, c.Selected())
	assert.Equal(t, bob, c.Selected().Address)

	w.SetAccounts(w.Account("Alice", alice))
	assert.Nil(t, c.Selected())

	// not remembered once gone while unauthenticated
	w.SetAccounts(w.Account("Alice", alice), w.Account("Bob", bob))
	assert.Nil(t, c.Selected())

	err := c.SelectAccount(ctx, core.WalletAccount{Address: dave})
	assert.ErrorIs(t, err, core.ErrNoAccountSelected)
}

func TestWalletConnector_AuthenticatedReselectsAcrossUpdates(t *testing.T) {
	ctx := context.Background()
	w := sandboxtest.NewWallet("talisman")
	w.SetAccounts(w.Account("Alice", alice), w.Account("Bob", bob))
	c, _ := newConnector(w)
	c.bindAuthState(func() bool { return true })

	require.True(t, c.Connect(ctx, "talisman", ""))
	require.NoError(t, c.SelectAccount(ctx, w.Account("Bob", bob)))

	pool := []string{alice, bob, dave}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		var list []core.WalletAccount
		present := false
		for _, idx := range rng.Perm(len(pool))[:rng.Intn(len(pool)+1)] {
			list = append(list, w.Account("", pool[idx]))
			present = present || pool[idx] == bob
		}
		w.SetAccounts(list...)

		selected := c.Selected()
		if present {
			require.NotNil(t, selected, "update %d: %v", i, list)
			assert.Equal(t, bob, selected.Address)
		} else {
			assert.Nil(t, selected, "update %d: %v", i, list)
		}
	}
}

func TestWalletConnector_AuthenticatedFallsBackToPersistedAddress(t *testing.T) {
	ctx := context.Background()
	w := sandboxtest.NewWallet("talisman")
	w.SetAccounts(w.Account("Alice", alice), w.Account("Bob", bob))
	c, s := newConnector(w)
	c.bindAuthState(func() bool { return true })
	require.NoError(t, s.Set(ctx, core.KeySelectedAddress, bob))

	require.True(t, c.Connect(ctx, "talisman", ""))
	require.NotNil(t, c.Selected())
	assert.Equal(t, bob, c.Selected().Address)

	// Reset forgets the in-memory selection too
	c.Reset()
	require.NoError(t, s.Set(ctx, core.KeySelectedAddress, alice))
	require.True(t, c.Connect(ctx, "talisman", ""))
	assert.Equal(t, alice, c.Selected().Address)
}

func TestWalletConnector_Sign(t *testing.T) {
	ctx := context.Background()
	w := sandboxtest.NewWallet("talisman")
	w.SetAccounts(w.Account("Alice", alice))
	c, _ := newConnector(w)
	account := w.Account("Alice", alice)

	// enables the extension on demand
	sig, ok := c.Sign(ctx, account, "hello")
	require.True(t, ok)
	assert.Equal(t, sandboxtest.Signature(alice, "hello"), sig)

	signed := w.Signed()
	require.Len(t, signed, 1)
	assert.Equal(t, hexutil.Encode([]byte("hello")), signed[0].Data)
	assert.Equal(t, "bytes", signed[0].Type)
	assert.Equal(t, alice, signed[0].Address)

	w.FailSigning(sandboxtest.ErrRejected)
	_, ok = c.Sign(ctx, account, "hello")
	assert.False(t, ok)

	w.FailSigning(nil)
	w.DisableSigner(true)
	_, ok = c.Sign(ctx, account, "hello")
	assert.False(t, ok)

	_, ok = c.Sign(ctx, core.WalletAccount{Address: alice, Source: "polkadot-js"}, "hello")
	assert.False(t, ok)
}
