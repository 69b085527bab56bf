package ports

import (
	"context"

	"github.com/layer-3/passport-sandbox/core"
)

// Backend is the sandbox REST API
type Backend interface {
	RequestChallenge(ctx context.Context, address string) (*core.Challenge, error)
	Authenticate(ctx context.Context, req core.AuthRequest) (*core.AuthResult, error)
	Me(ctx context.Context, address string) (*core.User, error)
	Logout(ctx context.Context) error
	RegenerateKey(ctx context.Context, req core.SignedChallenge) (string, error)

	Stats(ctx context.Context) (*core.Stats, error)
	Logs(ctx context.Context, filter core.LogFilter) (*core.LogPage, error)
	Origins(ctx context.Context) ([]string, error)
	UpdateOrigins(ctx context.Context, origins []string) ([]string, error)
}

// PassportAPI is the hosted DotPassport API exercised from the playground
type PassportAPI interface {
	Call(ctx context.Context, apiKey, method string, params map[string]string) ([]byte, int, error)
}
