package ports

import (
	"context"

	"github.com/layer-3/passport-sandbox/core"
)

// WalletProvider exposes the wallet extensions injected into the runtime
type WalletProvider interface {
	// Extensions returns every injected extension, possibly none
	Extensions() []Extension
}

// Extension is one injected wallet extension
type Extension interface {
	Name() string

	// Enable asks the user to authorize appName and returns the injected API
	Enable(ctx context.Context, appName string) (InjectedAPI, error)
}

// InjectedAPI is what an extension hands out once enabled
type InjectedAPI interface {
	// SubscribeAccounts calls fn with the full account list now and on every change.
	// The returned function removes the subscription.
	SubscribeAccounts(fn func([]core.WalletAccount)) (unsubscribe func(), err error)

	// Signer returns nil when the extension cannot sign
	Signer() RawSigner
}

// RawSigner signs raw bytes for an account
type RawSigner interface {
	SignRaw(ctx context.Context, payload core.SignRawPayload) (signature string, err error)
}
