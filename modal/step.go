// Package modal sequences the connect and login dialog: wallet selection,
// connection, account selection, the registration check, email capture,
// signing and the success screens.
package modal

import "github.com/layer-3/passport-sandbox/core"

// Step is the screen the dialog shows
type Step string

const (
	StepSelectWallet         Step = "select-wallet"
	StepConnecting           Step = "connecting"
	StepSelectAccount        Step = "select-account"
	StepCheckingRegistration Step = "checking-registration"
	StepEmailInput           Step = "email-input"
	StepSigning              Step = "signing"
	StepAuthSuccess          Step = "auth-success"
	StepReconnectWallet      Step = "reconnect-wallet"
	StepReconnectSuccess     Step = "reconnect-success"
)

// inLogin reports whether s belongs to the part of the flow driven by the
// account-selection and email handlers
func (s Step) inLogin() bool {
	return s == StepCheckingRegistration || s == StepEmailInput || s == StepSigning
}

// Done reports whether s is a success screen
func (s Step) Done() bool {
	return s == StepAuthSuccess || s == StepReconnectSuccess
}

// State is the dialog state. It is only meaningful while Open.
type State struct {
	Open      bool
	Reconnect bool
	Step      Step

	WalletID string
	Account  *core.WalletAccount

	// Challenge was fetched by the registration check and not consumed yet
	Challenge *core.Challenge

	Status       string
	IsNew        bool
	IssuedAPIKey string
}

func (s State) clone() State {
	out := s
	if s.Account != nil {
		a := *s.Account
		out.Account = &a
	}
	if s.Challenge != nil {
		c := *s.Challenge
		out.Challenge = &c
	}
	return out
}
