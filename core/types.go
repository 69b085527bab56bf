package core

import "time"

// WalletOption is one known wallet extension and whether it is injected
type WalletOption struct {
	ID        string
	Name      string
	Installed bool
}

// WalletAccount is an account exposed by a wallet extension
type WalletAccount struct {
	Address     string `json:"address"`
	DisplayName string `json:"name,omitempty"`
	Source      string `json:"source"`
}

// Label returns the display name, falling back to the address
func (a WalletAccount) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Address
}

// SignRawPayload is the request handed to an extension signer
type SignRawPayload struct {
	Address string `json:"address"`
	Data    string `json:"data"` // 0x-prefixed hex of the message bytes
	Type    string `json:"type"`
}

// Challenge is the single-use message issued by the backend for an address
type Challenge struct {
	Address      string `json:"-"`
	Message      string `json:"message"`
	IsRegistered bool   `json:"isRegistered"`
}

// Usage holds the request counters of the current window
type Usage struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
	Total   int `json:"total,omitempty"`
}

// RateLimits holds the quotas granted by the account tier
type RateLimits struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// User is the sandbox account profile
type User struct {
	Address      string     `json:"polkadotAddress"`
	Tier         string     `json:"tier"`
	ContactEmail string     `json:"contactEmail,omitempty"`
	Usage        Usage      `json:"usage"`
	RateLimits   RateLimits `json:"rateLimits"`
	APIKey       string     `json:"apiKey,omitempty"`
	CreatedAt    time.Time  `json:"createdAt,omitempty"`
}

// AuthRequest is the signed challenge submitted to log in
type AuthRequest struct {
	Address      string `json:"polkadotAddress"`
	Message      string `json:"message"`
	Signature    string `json:"signature"`
	ContactEmail string `json:"contactEmail"`
}

// SignedChallenge proves address ownership for key regeneration
type SignedChallenge struct {
	Address   string `json:"polkadotAddress"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// AuthResult is the successful answer to an AuthRequest
type AuthResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
	IsNew        bool   `json:"isNew"`
}

// Stats summarises sandbox usage
type Stats struct {
	TotalRequests   int            `json:"totalRequests"`
	SuccessRate     float64        `json:"successRate"`
	AvgResponseTime float64        `json:"avgResponseTime"`
	ByMethod        map[string]int `json:"byMethod,omitempty"`
	Usage           Usage          `json:"usage"`
	RateLimits      RateLimits     `json:"rateLimits"`
}

// RequestLog is one recorded SDK call
type RequestLog struct {
	ID           string    `json:"id"`
	Method       string    `json:"method"`
	Endpoint     string    `json:"endpoint"`
	StatusCode   int       `json:"statusCode"`
	ResponseTime int       `json:"responseTime"`
	Origin       string    `json:"origin,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// LogFilter selects a page of request logs
type LogFilter struct {
	Method string
	Status string // "success", "error" or an exact code
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}

// LogPage is a page of request logs
type LogPage struct {
	Items []RequestLog `json:"logs"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}
