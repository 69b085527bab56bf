package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
	"go.uber.org/zap"
)

// SavedAddress is an address the developer keeps around for the playground
type SavedAddress struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// AddressBook keeps the custom address list, the default address and the
// last used address in the store. The list keeps insertion order.
type AddressBook struct {
	store  ports.Store
	logger *zap.Logger

	mu sync.Mutex
}

// NewAddressBook creates an address book over store
func NewAddressBook(store ports.Store, logger *zap.Logger) *AddressBook {
	return &AddressBook{store: store, logger: logger}
}

// List returns the saved addresses in the order they were added
func (b *AddressBook) List(ctx context.Context) []SavedAddress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx)
}

// Add validates and appends address. Duplicates are rejected with ErrAddressExists.
func (b *AddressBook) Add(ctx context.Context, address, label string) error {
	address = strings.TrimSpace(address)
	if err := core.ValidateAddress(address); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.load(ctx)
	for _, a := range list {
		if sameAddress(a.Address, address) {
			return fmt.Errorf("%w: %s", core.ErrAddressExists, address)
		}
	}
	list = append(list, SavedAddress{Address: address, Label: strings.TrimSpace(label)})
	return b.save(ctx, list)
}

// Remove drops address from the list. Removing the default address clears the default.
func (b *AddressBook) Remove(ctx context.Context, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.load(ctx)
	out := list[:0]
	removed := false
	for _, a := range list {
		if sameAddress(a.Address, address) {
			removed = true
			continue
		}
		out = append(out, a)
	}
	if !removed {
		return fmt.Errorf("%w: %s", core.ErrNotFound, address)
	}
	if err := b.save(ctx, out); err != nil {
		return err
	}

	if def, err := b.store.Get(ctx, core.KeyDefaultAddress); err == nil && sameAddress(def, address) {
		if err := b.store.Delete(ctx, core.KeyDefaultAddress); err != nil {
			return fmt.Errorf("failed to clear default address: %w", err)
		}
	}
	return nil
}

// SetDefault makes address the default. It must be in the list; an empty
// address clears the default.
func (b *AddressBook) SetDefault(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return b.store.Delete(ctx, core.KeyDefaultAddress)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, a := range b.load(ctx) {
		if sameAddress(a.Address, address) {
			return b.store.Set(ctx, core.KeyDefaultAddress, a.Address)
		}
	}
	return fmt.Errorf("%w: %s", core.ErrNotFound, address)
}

// Default returns the default address or ""
func (b *AddressBook) Default(ctx context.Context) string {
	return b.get(ctx, core.KeyDefaultAddress)
}

// SetLastUsed records the address last queried from the playground
func (b *AddressBook) SetLastUsed(ctx context.Context, address string) {
	if err := b.store.Set(ctx, core.KeyLastUsedAddress, address); err != nil {
		b.logger.Warn("failed to persist last used address", zap.Error(err))
	}
}

// LastUsed returns the address last queried from the playground or ""
func (b *AddressBook) LastUsed(ctx context.Context) string {
	return b.get(ctx, core.KeyLastUsedAddress)
}

func (b *AddressBook) get(ctx context.Context, key string) string {
	value, err := b.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			b.logger.Warn("failed to read address", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return value
}

func (b *AddressBook) load(ctx context.Context) []SavedAddress {
	raw := b.get(ctx, core.KeyCustomAddresses)
	if raw == "" {
		return nil
	}
	var list []SavedAddress
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		b.logger.Warn("stored address list is corrupt, starting empty", zap.Error(err))
		return nil
	}
	return list
}

func (b *AddressBook) save(ctx context.Context, list []SavedAddress) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal address list: %w", err)
	}
	if err := b.store.Set(ctx, core.KeyCustomAddresses, string(payload)); err != nil {
		return fmt.Errorf("failed to persist address list: %w", err)
	}
	return nil
}
