package sandboxtest

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
)

var ErrRejected = errors.New("cancelled by user")

// Wallet is a scriptable wallet extension holding SS58 accounts.
// Account list pushes, access denial and signing outcomes are driven by the test.
type Wallet struct {
	name string

	mu        sync.Mutex
	accounts  []core.WalletAccount
	subs      map[int]func([]core.WalletAccount)
	nextID    int
	denied    bool
	noSigner  bool
	signErr   error
	signed    []core.SignRawPayload
	enableCnt int
}

// NewWallet creates an extension called name exposing accounts
func NewWallet(name string, accounts ...core.WalletAccount) *Wallet {
	w := &Wallet{name: name, subs: make(map[int]func([]core.WalletAccount))}
	w.accounts = w.own(accounts)
	return w
}

// Account builds an account of this wallet
func (w *Wallet) Account(displayName, address string) core.WalletAccount {
	return core.WalletAccount{Address: address, DisplayName: displayName, Source: w.name}
}

func (w *Wallet) own(accounts []core.WalletAccount) []core.WalletAccount {
	out := make([]core.WalletAccount, len(accounts))
	for i, a := range accounts {
		if a.Source == "" {
			a.Source = w.name
		}
		out[i] = a
	}
	return out
}

var _ ports.Extension = (*Wallet)(nil)

// Name returns the extension name
func (w *Wallet) Name() string { return w.name }

// Enable authorizes the app unless access is denied
func (w *Wallet) Enable(ctx context.Context, appName string) (ports.InjectedAPI, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.enableCnt++
	if w.denied {
		return nil, ErrRejected
	}
	return walletAPI{w: w}, nil
}

// SetAccounts replaces the account list and pushes it to every subscriber
func (w *Wallet) SetAccounts(accounts ...core.WalletAccount) {
	w.mu.Lock()
	w.accounts = w.own(accounts)
	list := append([]core.WalletAccount(nil), w.accounts...)
	subs := make([]func([]core.WalletAccount), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, fn := range subs {
		fn(list)
	}
}

// Deny makes Enable fail
func (w *Wallet) Deny(denied bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.denied = denied
}

// FailSigning makes SignRaw return err. nil restores signing.
func (w *Wallet) FailSigning(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signErr = err
}

// DisableSigner removes raw signing support
func (w *Wallet) DisableSigner(disabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.noSigner = disabled
}

// Subscribers counts the live account subscriptions
func (w *Wallet) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Signed returns every payload handed to SignRaw
func (w *Wallet) Signed() []core.SignRawPayload {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]core.SignRawPayload(nil), w.signed...)
}

// EnableCalls counts Enable calls
func (w *Wallet) EnableCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enableCnt
}

type walletAPI struct {
	w *Wallet
}

func (a walletAPI) SubscribeAccounts(fn func([]core.WalletAccount)) (func(), error) {
	w := a.w

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	list := append([]core.WalletAccount(nil), w.accounts...)
	w.mu.Unlock()

	fn(list)

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}, nil
}

func (a walletAPI) Signer() ports.RawSigner {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	if a.w.noSigner {
		return nil
	}
	return a
}

// SignRaw signs with Signature over the decoded message
func (a walletAPI) SignRaw(ctx context.Context, payload core.SignRawPayload) (string, error) {
	w := a.w

	w.mu.Lock()
	w.signed = append(w.signed, payload)
	err := w.signErr
	w.mu.Unlock()

	if err != nil {
		return "", err
	}
	message, err := hexutil.Decode(payload.Data)
	if err != nil {
		return "", err
	}
	return Signature(payload.Address, string(message)), nil
}
