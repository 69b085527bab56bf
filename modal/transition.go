package modal

import (
	"fmt"

	"github.com/layer-3/passport-sandbox/core"
)

// EventKind names what happened
type EventKind int

const (
	EventOpen EventKind = iota
	EventClose
	EventWalletPicked
	EventConnectFailed
	EventAccountsReady
	EventNoAccounts
	EventAccountPicked
	EventAccountLost
	EventRegistered
	EventUnregistered
	EventCheckFailed
	EventEmailSubmitted
	EventLoginFailed
	EventAuthenticated
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventWalletPicked:
		return "wallet-picked"
	case EventConnectFailed:
		return "connect-failed"
	case EventAccountsReady:
		return "accounts-ready"
	case EventNoAccounts:
		return "no-accounts"
	case EventAccountPicked:
		return "account-picked"
	case EventAccountLost:
		return "account-lost"
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	case EventCheckFailed:
		return "check-failed"
	case EventEmailSubmitted:
		return "email-submitted"
	case EventLoginFailed:
		return "login-failed"
	case EventAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an input of Transition. Only the fields of its kind are read.
type Event struct {
	Kind EventKind

	Reconnect bool
	WalletID  string
	Account   *core.WalletAccount
	Challenge *core.Challenge
	Status    string
	IsNew     bool
	APIKey    string
}

// Transition returns the state after e. Events that do not apply to the
// current step leave the state unchanged.
func Transition(s State, e Event) State {
	s = s.clone()

	switch e.Kind {
	case EventOpen:
		if e.Reconnect {
			return State{Open: true, Reconnect: true, Step: StepReconnectWallet}
		}
		return State{Open: true, Step: StepSelectWallet}
	case EventClose:
		return State{Step: StepSelectWallet}
	}

	if !s.Open {
		return s
	}

	switch e.Kind {
	case EventWalletPicked:
		if s.Step == StepSelectWallet || s.Step == StepReconnectWallet {
			s.Step = StepConnecting
			s.WalletID = e.WalletID
			s.Status = ""
		}

	case EventConnectFailed:
		if s.Step == StepConnecting {
			s.Step = StepSelectWallet
			if s.Reconnect {
				s.Step = StepReconnectWallet
			}
			s.Status = e.Status
		}

	case EventAccountsReady:
		if s.Step == StepConnecting && !s.Reconnect {
			s.Step = StepSelectAccount
			s.Status = ""
		}

	case EventNoAccounts:
		if s.Step == StepSelectAccount || s.Step == StepConnecting {
			s.Step = StepSelectWallet
			s.Account = nil
			s.Challenge = nil
			s.Status = e.Status
		}

	case EventAccountPicked:
		if s.Step == StepSelectAccount && e.Account != nil {
			a := *e.Account
			s.Step = StepCheckingRegistration
			s.Account = &a
			s.Challenge = nil
			s.Status = ""
		}

	case EventAccountLost:
		if s.Step.inLogin() {
			s.Step = StepSelectAccount
			s.Account = nil
			s.Challenge = nil
			s.Status = e.Status
		}

	case EventRegistered:
		if s.Step == StepCheckingRegistration {
			s.Challenge = copyChallenge(e.Challenge)
			s = enterSigning(s)
		}

	case EventUnregistered:
		if s.Step == StepCheckingRegistration {
			s.Step = StepEmailInput
			s.Challenge = copyChallenge(e.Challenge)
		}

	case EventCheckFailed:
		if s.Step == StepCheckingRegistration {
			s.Step = StepEmailInput
			s.Challenge = nil
			s.Status = e.Status
		}

	case EventEmailSubmitted:
		if s.Step == StepEmailInput {
			s.Status = ""
			s = enterSigning(s)
			// the login about to run consumes it
			s.Challenge = nil
		}

	case EventLoginFailed:
		if s.Step == StepSigning {
			s.Step = StepEmailInput
			s.Challenge = nil
			s.Status = e.Status
		}

	case EventAuthenticated:
		if s.Step.inLogin() {
			s.Step = StepAuthSuccess
			s.Challenge = nil
			s.Status = ""
			s.IsNew = e.IsNew
			s.IssuedAPIKey = e.APIKey
		}
	}
	return s
}

func copyChallenge(c *core.Challenge) *core.Challenge {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// enterSigning moves to signing, which is only reachable with an account
func enterSigning(s State) State {
	if s.Account == nil {
		s.Step = StepSelectAccount
		s.Challenge = nil
		s.Status = core.ErrNoAccountSelected.Error()
		return s
	}
	s.Step = StepSigning
	return s
}

// Snapshot is what the dialog observes of the wallet connector and the session
type Snapshot struct {
	Authenticated bool
	Loading       bool
	IsNew         bool
	APIKey        string
	SessionError  string

	Connected   bool
	Connecting  bool
	Accounts    []core.WalletAccount
	Selected    *core.WalletAccount
	WalletError string
}

func (snap Snapshot) has(account *core.WalletAccount) bool {
	if account == nil {
		return false
	}
	for _, a := range snap.Accounts {
		if a.Address == account.Address {
			return true
		}
	}
	return false
}

// Derive recomputes the step from the observed state of the wallet and the
// session. It is what runs whenever either of them changes.
func Derive(s State, snap Snapshot) State {
	if !s.Open {
		return s
	}
	if s.Reconnect {
		return deriveReconnect(s, snap)
	}
	if s.Step == StepAuthSuccess && !snap.Authenticated {
		// logged out or expired before the dialog closed itself
		status := snap.SessionError
		if status == "" {
			status = "The session ended, connect a wallet to sign in again"
		}
		return State{Open: true, Step: StepSelectWallet, Status: status}
	}

	// a change can cascade, e.g. losing the account and then the whole list
	for i := 0; i < 3; i++ {
		e, ok := nextEvent(s, snap)
		if !ok {
			break
		}
		s = Transition(s, e)
	}
	return s
}

func nextEvent(s State, snap Snapshot) (Event, bool) {
	switch {
	case s.Step == StepConnecting:
		switch {
		case snap.Connected && len(snap.Accounts) > 0:
			return Event{Kind: EventAccountsReady}, true
		case snap.Connected:
			return Event{Kind: EventNoAccounts, Status: fmt.Sprintf("No accounts found in %s", s.WalletID)}, true
		case !snap.Connecting && snap.WalletError != "":
			return Event{Kind: EventConnectFailed, Status: snap.WalletError}, true
		}

	case s.Step == StepSelectAccount:
		if !snap.Connected || len(snap.Accounts) == 0 {
			return Event{Kind: EventNoAccounts, Status: "The wallet no longer exposes any account"}, true
		}

	case s.Step.inLogin():
		switch {
		case snap.Authenticated:
			return Event{Kind: EventAuthenticated, IsNew: snap.IsNew, APIKey: snap.APIKey}, true
		case snap.Selected == nil || !snap.has(s.Account):
			return Event{Kind: EventAccountLost, Status: "The selected account is no longer available"}, true
		}
	}
	return Event{}, false
}

func deriveReconnect(s State, snap Snapshot) State {
	if s.Step == StepReconnectSuccess {
		return s
	}
	if !snap.Authenticated {
		// the session is gone, a full login is needed
		return State{Open: true, Step: StepSelectWallet, Status: snap.SessionError}
	}

	switch {
	case snap.Connected && snap.Selected != nil:
		s.Step = StepReconnectSuccess
		s.Status = ""
	case snap.Loading || snap.Connecting:
		s.Step = StepConnecting
	case snap.Connected:
		s.Step = StepReconnectWallet
		s.Status = snap.SessionError
		if s.Status == "" {
			s.Status = "The account of this session is not in the connected wallet"
		}
	default:
		s.Step = StepReconnectWallet
		s.Status = snap.SessionError
		if s.Status == "" {
			s.Status = snap.WalletError
		}
	}
	return s
}
