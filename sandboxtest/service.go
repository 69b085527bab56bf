package sandboxtest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/layer-3/passport-sandbox/adapters/extension"
	"github.com/layer-3/passport-sandbox/core"
)

// DefaultRateLimits are granted to every new fake account
var DefaultRateLimits = core.RateLimits{Hourly: 100, Daily: 1000, Monthly: 10000}

// Signature is what the fake Wallet produces for SS58 accounts and what the
// fake backend accepts for them
func Signature(address, message string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(address), []byte(message)))
}

// Service is the business logic of the fake sandbox backend
type Service struct {
	tokenizer *tokenizer

	accessTTL  time.Duration
	refreshTTL time.Duration

	mu          sync.Mutex
	challenges  map[string]string // message -> address
	users       map[string]*core.User
	invalidated map[string]bool // refresh IDs
	generation  int
	origins     []string
	logs        []core.RequestLog

	hold           chan struct{}
	held           chan string
	challengeError *core.APIError
	authError      *core.APIError
	refreshBroken  bool
	refreshDelay   time.Duration

	refreshCalls int
	logoutCalls  int
	authRequests []core.AuthRequest
}

// NewService creates a fake backend with no accounts
func NewService() *Service {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("failed to generate signing key: %v", err))
	}
	return &Service{
		tokenizer:   &tokenizer{signKey: key},
		accessTTL:   5 * time.Minute,
		refreshTTL:  5 * 24 * time.Hour, // 5 days
		challenges:  make(map[string]string),
		users:       make(map[string]*core.User),
		invalidated: make(map[string]bool),
	}
}

// Register creates an account for address without a login
func (s *Service) Register(address, contactEmail string) *core.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUserLocked(address, contactEmail)
}

func (s *Service) createUserLocked(address, contactEmail string) *core.User {
	user := &core.User{
		Address:      address,
		Tier:         "free",
		ContactEmail: contactEmail,
		RateLimits:   DefaultRateLimits,
		APIKey:       newAPIKey(),
		CreatedAt:    time.Now().UTC(),
	}
	s.users[address] = user
	return user
}

func newAPIKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate api key: %v", err))
	}
	return "dp_sandbox_" + hex.EncodeToString(b)
}

// SetUsage overwrites the usage counters of address
func (s *Service) SetUsage(address string, usage core.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[address]; u != nil {
		u.Usage = usage
	}
}

// HoldChallenges makes challenge requests block until release is called.
// started receives the address of every held request.
func (s *Service) HoldChallenges() (started <-chan string, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hold := make(chan struct{})
	held := make(chan string, 16)
	s.hold = hold
	s.held = held

	var once sync.Once
	return held, func() {
		once.Do(func() {
			s.mu.Lock()
			s.hold = nil
			s.mu.Unlock()
			close(hold)
		})
	}
}

// FailChallenges makes challenge requests answer err. nil restores them.
func (s *Service) FailChallenges(err *core.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challengeError = err
}

// FailAuth makes auth requests answer err. nil restores them.
func (s *Service) FailAuth(err *core.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authError = err
}

// BreakRefresh makes every refresh fail as if the refresh token was revoked
func (s *Service) BreakRefresh(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshBroken = broken
}

// DelayRefresh slows down refresh answers so concurrent requests line up behind it
func (s *Service) DelayRefresh(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// ExpireAccessTokens rejects every access token issued so far
func (s *Service) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RefreshCalls counts refresh requests
func (s *Service) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// LogoutCalls counts logout requests
func (s *Service) LogoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCalls
}

// AuthRequests returns the auth requests received so far
func (s *Service) AuthRequests() []core.AuthRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuthRequest(nil), s.authRequests...)
}

// AddLog records a request log entry served from /sandbox/logs
func (s *Service) AddLog(entry core.RequestLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.logs = append(s.logs, entry)
}

// CreateChallenge issues a single-use message for address
func (s *Service) CreateChallenge(ctx context.Context, address string) (*core.Challenge, error) {
	s.mu.Lock()
	hold, held, failure := s.hold, s.held, s.challengeError
	s.mu.Unlock()

	if hold != nil {
		select {
		case held <- address:
		default:
		}
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	message := fmt.Sprintf("DotPassport Sandbox wants you to sign in with %s\n\nNonce: %s\nIssued At: %s",
		address, hex.EncodeToString(nonce), time.Now().UTC().Format(time.RFC3339))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[message] = address
	return &core.Challenge{
		Address:      address,
		Message:      message,
		IsRegistered: s.users[address] != nil,
	}, nil
}

// consumeChallengeLocked checks that message was issued for address and burns it
func (s *Service) consumeChallengeLocked(address, message, signature string) error {
	issuedFor, ok := s.challenges[message]
	if !ok || issuedFor != address {
		return core.ErrInvalidChallenge
	}
	delete(s.challenges, message)
	return verifySignature(address, message, signature)
}

func verifySignature(address, message, signature string) error {
	if strings.HasPrefix(address, "0x") {
		recovered, err := extension.RecoverAddress(message, signature)
		if err != nil {
			return err
		}
		if !strings.EqualFold(recovered, address) {
			return core.ErrInvalidSignature
		}
		return nil
	}
	if signature != Signature(address, message) {
		return core.ErrInvalidSignature
	}
	return nil
}

// Authenticate verifies a signed challenge and opens a session
func (s *Service) Authenticate(req core.AuthRequest) (*core.AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authRequests = append(s.authRequests, req)
	if s.authError != nil {
		return nil, s.authError
	}
	if err := s.consumeChallengeLocked(req.Address, req.Message, req.Signature); err != nil {
		return nil, err
	}

	user, isNew := s.users[req.Address], false
	if user == nil {
		user = s.createUserLocked(req.Address, req.ContactEmail)
		isNew = true
	}

	access, refresh, err := s.openSessionLocked(req.Address)
	if err != nil {
		return nil, err
	}

	out := *user
	if !isNew {
		// the key is only handed out when it is issued
		out.APIKey = ""
	}
	return &core.AuthResult{AccessToken: access, RefreshToken: refresh, User: out, IsNew: isNew}, nil
}

func (s *Service) openSessionLocked(address string) (string, string, error) {
	now := time.Now()
	sess := &session{
		ID:            uuid.New().String(),
		Address:       address,
		RefreshID:     uuid.New().String(),
		Generation:    s.generation,
		IssuedAt:      now,
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshExpiry: now.Add(s.refreshTTL),
	}

	access, err := s.tokenizer.accessToken(sess)
	if err != nil {
		return "", "", fmt.Errorf("failed to create access token: %w", err)
	}
	refresh, err := s.tokenizer.refreshToken(sess)
	if err != nil {
		return "", "", fmt.Errorf("failed to create refresh token: %w", err)
	}
	return access, refresh, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *Service) Refresh(refreshToken string) (string, string, error) {
	s.mu.Lock()
	s.refreshCalls++
	delay := s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	sess, err := s.tokenizer.parseRefresh(refreshToken)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshBroken || s.invalidated[sess.RefreshID] {
		return "", "", core.ErrTokenInvalidated
	}
	s.invalidated[sess.RefreshID] = true
	return s.openSessionLocked(sess.Address)
}

// ValidateAccessToken returns the session of a live access token
func (s *Service) ValidateAccessToken(token string) (*session, error) {
	sess, err := s.tokenizer.parseAccess(token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Generation < s.generation {
		return nil, core.ErrTokenExpired
	}
	if s.invalidated[sess.RefreshID] {
		return nil, core.ErrTokenInvalidated
	}
	return sess, nil
}

// Logout invalidates the refresh token behind sess
func (s *Service) Logout(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutCalls++
	s.invalidated[sess.RefreshID] = true
}

// Me returns the profile of address
func (s *Service) Me(address string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.users[address]
	if user == nil {
		return nil, core.ErrNotFound
	}
	out := *user
	return &out, nil
}

// RegenerateKey replaces the API key after a fresh signed challenge
func (s *Service) RegenerateKey(sess *session, req core.SignedChallenge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Address != sess.Address {
		return "", core.ErrUnauthorized
	}
	if err := s.consumeChallengeLocked(req.Address, req.Message, req.Signature); err != nil {
		return "", err
	}
	user := s.users[req.Address]
	if user == nil {
		return "", core.ErrNotFound
	}
	user.APIKey = newAPIKey()
	return user.APIKey, nil
}

// Stats summarises the recorded logs
func (s *Service) Stats(address string) core.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := core.Stats{ByMethod: make(map[string]int)}
	if user := s.users[address]; user != nil {
		stats.Usage = user.Usage
		stats.RateLimits = user.RateLimits
	}

	var ok, total int
	for _, l := range s.logs {
		stats.TotalRequests++
		stats.ByMethod[l.Method]++
		total += l.ResponseTime
		if l.StatusCode < 400 {
			ok++
		}
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(ok) / float64(stats.TotalRequests) * 100
		stats.AvgResponseTime = float64(total) / float64(stats.TotalRequests)
	}
	return stats
}

// Logs returns one page of logs matching method
func (s *Service) Logs(method string, page, limit int) core.LogPage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var matched []core.RequestLog
	for _, l := range s.logs {
		if method == "" || l.Method == method {
			matched = append(matched, l)
		}
	}

	out := core.LogPage{Items: []core.RequestLog{}, Total: len(matched), Page: page, Limit: limit}
	start := (page - 1) * limit
	if start < len(matched) {
		end := start + limit
		if end > len(matched) {
			end = len(matched)
		}
		out.Items = matched[start:end]
	}
	return out
}

// Origins returns the allowed origins
func (s *Service) Origins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.origins...)
}

// SetOrigins replaces the allowed origins
func (s *Service) SetOrigins(origins []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origins = append([]string{}, origins...)
	return append([]string{}, s.origins...)
}
