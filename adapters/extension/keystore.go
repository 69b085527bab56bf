package extension

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
)

// KeystoreName is the extension name of the local development wallet
const KeystoreName = "sandbox-keystore"

var (
	ErrAccountUnknown = errors.New("account not managed by this keystore")
	ErrAccessDenied   = errors.New("access denied by user")
)

type keyEntry struct {
	account core.WalletAccount
	key     *ecdsa.PrivateKey
}

// Keystore is a wallet extension backed by in-process secp256k1 keys.
// Its accounts are ethereum-type (0x) accounts and it signs raw payloads
// as EIP-191 personal messages.
type Keystore struct {
	name string

	mu     sync.Mutex
	keys   []keyEntry
	subs   map[int]func([]core.WalletAccount)
	nextID int
	denied bool
}

// NewKeystore creates an empty keystore extension. An empty name defaults to KeystoreName
func NewKeystore(name string) *Keystore {
	if name == "" {
		name = KeystoreName
	}
	return &Keystore{
		name: name,
		subs: make(map[int]func([]core.WalletAccount)),
	}
}

var _ ports.Extension = (*Keystore)(nil)

// Name returns the extension name
func (k *Keystore) Name() string {
	return k.name
}

// Import adds an account from a hex encoded private key
func (k *Keystore) Import(displayName, hexKey string) (core.WalletAccount, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return core.WalletAccount{}, fmt.Errorf("failed to parse private key: %w", err)
	}
	return k.add(displayName, key), nil
}

// Generate adds an account with a fresh random key
func (k *Keystore) Generate(displayName string) (core.WalletAccount, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return core.WalletAccount{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return k.add(displayName, key), nil
}

func (k *Keystore) add(displayName string, key *ecdsa.PrivateKey) core.WalletAccount {
	account := core.WalletAccount{
		Address:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		DisplayName: displayName,
		Source:      k.name,
	}

	k.mu.Lock()
	k.keys = append(k.keys, keyEntry{account: account, key: key})
	k.mu.Unlock()

	k.notify()
	return account
}

// Remove drops the account with address
func (k *Keystore) Remove(address string) {
	k.mu.Lock()
	kept := k.keys[:0]
	for _, e := range k.keys {
		if !strings.EqualFold(e.account.Address, address) {
			kept = append(kept, e)
		}
	}
	k.keys = kept
	k.mu.Unlock()

	k.notify()
}

// Deny makes future Enable calls fail as if the user refused access
func (k *Keystore) Deny(denied bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.denied = denied
}

// Accounts returns the current account list
func (k *Keystore) Accounts() []core.WalletAccount {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.snapshotLocked()
}

func (k *Keystore) snapshotLocked() []core.WalletAccount {
	out := make([]core.WalletAccount, len(k.keys))
	for i, e := range k.keys {
		out[i] = e.account
	}
	return out
}

// notify delivers the account list to subscribers outside the lock
func (k *Keystore) notify() {
	k.mu.Lock()
	list := k.snapshotLocked()
	subs := make([]func([]core.WalletAccount), 0, len(k.subs))
	for _, fn := range k.subs {
		subs = append(subs, fn)
	}
	k.mu.Unlock()

	for _, fn := range subs {
		fn(list)
	}
}

// Enable authorizes the app unless access is denied
func (k *Keystore) Enable(ctx context.Context, appName string) (ports.InjectedAPI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	denied := k.denied
	k.mu.Unlock()

	if denied {
		return nil, ErrAccessDenied
	}
	return &injected{k: k}, nil
}

type injected struct {
	k *Keystore
}

func (i *injected) SubscribeAccounts(fn func([]core.WalletAccount)) (func(), error) {
	k := i.k

	k.mu.Lock()
	id := k.nextID
	k.nextID++
	k.subs[id] = fn
	list := k.snapshotLocked()
	k.mu.Unlock()

	fn(list)

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.subs, id)
			k.mu.Unlock()
		})
	}, nil
}

func (i *injected) Signer() ports.RawSigner {
	return i.k
}

// SignRaw signs the hex payload data with the account key
func (k *Keystore) SignRaw(ctx context.Context, payload core.SignRawPayload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	k.mu.Lock()
	var key *ecdsa.PrivateKey
	for _, e := range k.keys {
		if strings.EqualFold(e.account.Address, payload.Address) {
			key = e.key
			break
		}
	}
	k.mu.Unlock()

	if key == nil {
		return "", ErrAccountUnknown
	}

	data, err := hexutil.Decode(payload.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}

	sig, err := crypto.Sign(accounts.TextHash(data), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	sig[64] += 27

	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the 0x address that produced signature over message
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes: %w", core.ErrInvalidSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
