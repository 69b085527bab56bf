package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/ports"
	"go.uber.org/zap"
)

// MaxHistory caps the persisted playground history
const MaxHistory = 50

// KeySource supplies the API key playground calls are made with
type KeySource interface {
	APIKey(ctx context.Context) string
}

// PlaygroundEntry is one recorded playground call
type PlaygroundEntry struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	Params     map[string]string `json:"params,omitempty"`
	StatusCode int               `json:"statusCode"`
	DurationMS int64             `json:"durationMs"`
	Error      string            `json:"error,omitempty"`
	Cancelled  bool              `json:"cancelled,omitempty"`
	At         time.Time         `json:"at"`
}

// PlaygroundResult is the outcome of Run
type PlaygroundResult struct {
	Entry PlaygroundEntry
	Body  json.RawMessage
}

// Playground runs DotPassport API methods with the session's API key.
// One call runs at a time; starting a call cancels the running one.
type Playground struct {
	api       ports.PassportAPI
	keys      KeySource
	addresses *AddressBook
	store     ports.Store
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running uint64
	current uint64
	history sync.Mutex
}

// NewPlayground creates a playground. addresses may be nil.
func NewPlayground(api ports.PassportAPI, keys KeySource, addresses *AddressBook, store ports.Store, logger *zap.Logger) *Playground {
	return &Playground{
		api:       api,
		keys:      keys,
		addresses: addresses,
		store:     store,
		logger:    logger,
	}
}

// Run calls method with params and records the call in the history
func (p *Playground) Run(ctx context.Context, method string, params map[string]string) (*PlaygroundResult, error) {
	apiKey := p.keys.APIKey(ctx)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no api key, log in first", core.ErrNotAuthenticated)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.current++
	id := p.current
	p.cancel = cancel
	p.running = id
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.running == id {
			p.running = 0
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	if address := params["address"]; address != "" && p.addresses != nil {
		p.addresses.SetLastUsed(ctx, address)
	}

	started := time.Now()
	body, status, err := p.api.Call(runCtx, apiKey, method, params)

	entry := PlaygroundEntry{
		ID:         uuid.NewString(),
		Method:     method,
		Params:     params,
		StatusCode: status,
		DurationMS: time.Since(started).Milliseconds(),
		At:         started.UTC(),
	}
	if err != nil {
		if runCtx.Err() != nil || errors.Is(err, core.ErrCancelled) {
			entry.Cancelled = true
			err = core.ErrCancelled
		}
		entry.Error = core.StatusMessage(err)
	}
	p.record(context.WithoutCancel(ctx), entry)

	p.logger.Debug("playground call",
		zap.String("method", method),
		zap.Int("status", status),
		zap.Bool("cancelled", entry.Cancelled),
	)
	return &PlaygroundResult{Entry: entry, Body: body}, err
}

// Cancel aborts the running call. It reports whether a call was running.
func (p *Playground) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return false
	}
	p.cancel()
	p.cancel = nil
	p.running = 0
	return true
}

// Running reports whether a call is in flight
func (p *Playground) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running != 0
}

// History returns the recorded calls, newest first
func (p *Playground) History(ctx context.Context) []PlaygroundEntry {
	p.history.Lock()
	defer p.history.Unlock()
	return p.loadHistory(ctx)
}

// ClearHistory drops the recorded calls
func (p *Playground) ClearHistory(ctx context.Context) error {
	p.history.Lock()
	defer p.history.Unlock()
	return p.store.Delete(ctx, core.KeyPlaygroundLog)
}

func (p *Playground) loadHistory(ctx context.Context) []PlaygroundEntry {
	raw, err := p.store.Get(ctx, core.KeyPlaygroundLog)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			p.logger.Warn("failed to read playground history", zap.Error(err))
		}
		return nil
	}
	var entries []PlaygroundEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		p.logger.Warn("stored playground history is corrupt", zap.Error(err))
		return nil
	}
	return entries
}

// record prepends entry to the history. Failures are logged, never returned.
func (p *Playground) record(ctx context.Context, entry PlaygroundEntry) {
	p.history.Lock()
	defer p.history.Unlock()

	entries := append([]PlaygroundEntry{entry}, p.loadHistory(ctx)...)
	if len(entries) > MaxHistory {
		entries = entries[:MaxHistory]
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		p.logger.Warn("failed to marshal playground history", zap.Error(err))
		return
	}
	if err := p.store.Set(ctx, core.KeyPlaygroundLog, string(payload)); err != nil {
		p.logger.Warn("failed to persist playground history", zap.Error(err))
	}
}
