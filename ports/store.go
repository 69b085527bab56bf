package ports

import "context"

// Store persists the dashboard's local state as plain string values.
// Get returns core.ErrNotFound for missing keys. Values never expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
