package ports

import "context"

// Session event topics
const (
	TopicLoggedIn        = "sandbox.session.logged_in"
	TopicLoggedOut       = "sandbox.session.logged_out"
	TopicSessionExpired  = "sandbox.session.expired"
	TopicReconnectNeeded = "sandbox.session.wallet_reconnect_needed"
)

// SessionEvent describes a change of the authenticated session
type SessionEvent struct {
	Address string `json:"address,omitempty"`
	Source  string `json:"source,omitempty"`
	IsNew   bool   `json:"is_new,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// EventPublisher publishes session events so other parts of the process
// (or other processes) can follow the session lifecycle
type EventPublisher interface {
	PublishSession(ctx context.Context, topic string, event SessionEvent) error
}
