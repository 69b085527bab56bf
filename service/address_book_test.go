package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/layer-3/passport-sandbox/adapters/store"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddressBook_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	fs, err := store.NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	book := NewAddressBook(fs, zap.NewNop())

	require.NoError(t, book.Add(ctx, bob, "Bob"))
	require.NoError(t, book.Add(ctx, alice, ""))
	require.NoError(t, book.Add(ctx, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "hardhat"))

	err = book.Add(ctx, bob, "again")
	assert.ErrorIs(t, err, core.ErrAddressExists)
	err = book.Add(ctx, "0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266", "")
	assert.ErrorIs(t, err, core.ErrAddressExists)

	want := book.List(ctx)

	reopened, err := store.NewFileStore(path, zap.NewNop())
	require.NoError(t, err)
	got := NewAddressBook(reopened, zap.NewNop()).List(ctx)

	assert.Equal(t, want, got)
	require.Len(t, got, 3)
	assert.Equal(t, []string{bob, alice, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		[]string{got[0].Address, got[1].Address, got[2].Address})
}

func TestAddressBook_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	book := NewAddressBook(store.NewMemoryStore(), zap.NewNop())

	for _, bad := range []string{"", "hello", "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQZ", "0x1234"} {
		assert.ErrorIs(t, book.Add(ctx, bad, ""), core.ErrInvalidAddress, bad)
	}
	assert.Empty(t, book.List(ctx))
}

func TestAddressBook_DefaultAndRemove(t *testing.T) {
	ctx := context.Background()
	book := NewAddressBook(store.NewMemoryStore(), zap.NewNop())

	require.NoError(t, book.Add(ctx, alice, "Alice"))
	require.NoError(t, book.Add(ctx, bob, "Bob"))

	assert.ErrorIs(t, book.SetDefault(ctx, dave), core.ErrNotFound)
	require.NoError(t, book.SetDefault(ctx, bob))
	assert.Equal(t, bob, book.Default(ctx))

	require.NoError(t, book.Remove(ctx, bob))
	assert.Empty(t, book.Default(ctx))
	assert.ErrorIs(t, book.Remove(ctx, bob), core.ErrNotFound)
	require.Len(t, book.List(ctx), 1)

	require.NoError(t, book.SetDefault(ctx, alice))
	require.NoError(t, book.SetDefault(ctx, ""))
	assert.Empty(t, book.Default(ctx))

	book.SetLastUsed(ctx, alice)
	assert.Equal(t, alice, book.LastUsed(ctx))
}

func TestAddressBook_CorruptStateDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Set(ctx, core.KeyCustomAddresses, "{not json"))

	book := NewAddressBook(s, zap.NewNop())
	assert.Empty(t, book.List(ctx))

	require.NoError(t, book.Add(ctx, alice, ""))
	assert.Len(t, book.List(ctx), 1)
}
