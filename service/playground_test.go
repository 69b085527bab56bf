package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/layer-3/passport-sandbox/adapters/dotpassport"
	"github.com/layer-3/passport-sandbox/adapters/store"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticKey string

func (k staticKey) APIKey(context.Context) string { return string(k) }

func passportServer(t *testing.T, release <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "dp_key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid api key"}`)
			return
		}
		if r.URL.Path == "/api/v1/badges/definitions" && release != nil {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPlayground_RunRecordsHistory(t *testing.T) {
	ctx := context.Background()
	srv := passportServer(t, nil)
	s := store.NewMemoryStore()
	book := NewAddressBook(s, zap.NewNop())
	pg := NewPlayground(dotpassport.New(srv.URL, time.Second), staticKey("dp_key"), book, s, zap.NewNop())

	res, err := pg.Run(ctx, "profile", map[string]string{"address": alice})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Entry.StatusCode)
	assert.JSONEq(t, `{"path":"/api/v1/profile/`+alice+`"}`, string(res.Body))
	assert.Equal(t, alice, book.LastUsed(ctx))

	_, err = pg.Run(ctx, "scores", map[string]string{})
	assert.Error(t, err)

	history := pg.History(ctx)
	require.Len(t, history, 2)
	assert.Equal(t, "scores", history[0].Method)
	assert.NotEmpty(t, history[0].Error)
	assert.Equal(t, "profile", history[1].Method)
	assert.False(t, pg.Running())

	require.NoError(t, pg.ClearHistory(ctx))
	assert.Empty(t, pg.History(ctx))
}

func TestPlayground_HistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	srv := passportServer(t, nil)
	s := store.NewMemoryStore()
	pg := NewPlayground(dotpassport.New(srv.URL, time.Second), staticKey("dp_key"), nil, s, zap.NewNop())

	for i := 0; i < MaxHistory+5; i++ {
		_, err := pg.Run(ctx, "badges", map[string]string{"address": bob})
		require.NoError(t, err)
	}
	assert.Len(t, pg.History(ctx), MaxHistory)
}

func TestPlayground_RequiresKey(t *testing.T) {
	pg := NewPlayground(dotpassport.New("http://127.0.0.1:1", time.Second), staticKey(""), nil, store.NewMemoryStore(), zap.NewNop())
	_, err := pg.Run(context.Background(), "profile", map[string]string{"address": alice})
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
}

func TestPlayground_CancelAndSupersede(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)
	srv := passportServer(t, release)
	s := store.NewMemoryStore()
	pg := NewPlayground(dotpassport.New(srv.URL, 5*time.Second), staticKey("dp_key"), nil, s, zap.NewNop())

	assert.False(t, pg.Cancel())

	done := make(chan error, 1)
	go func() {
		_, err := pg.Run(ctx, "badge-definitions", nil)
		done <- err
	}()
	require.Eventually(t, pg.Running, time.Second, time.Millisecond)

	// a new call cancels the running one
	second := make(chan error, 1)
	go func() {
		_, err := pg.Run(ctx, "badge-definitions", nil)
		second <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("first call was not cancelled")
	}

	require.Eventually(t, pg.Running, time.Second, time.Millisecond)
	assert.True(t, pg.Cancel())
	select {
	case err := <-second:
		assert.ErrorIs(t, err, core.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("second call was not cancelled")
	}
	assert.False(t, pg.Running())

	require.Eventually(t, func() bool { return len(pg.History(ctx)) == 2 }, time.Second, time.Millisecond)
	for _, entry := range pg.History(ctx) {
		assert.True(t, entry.Cancelled)
	}
}
