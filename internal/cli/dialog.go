package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	sandbox "github.com/layer-3/passport-sandbox"
	"github.com/layer-3/passport-sandbox/core"
	"github.com/layer-3/passport-sandbox/modal"
)

var (
	errNotLoggedIn    = errors.New("not logged in, run `sandbox login` first")
	errDialogClosed   = errors.New("login dialog closed")
	errNoWallets      = errors.New("no wallet extension available, add keys under wallet.keystore.keys")
	errNoAccountsLeft = errors.New("the wallet exposes no account")
)

// runDialog drives the connect dialog from terminal prompts until it closes
// itself after success
func runDialog(ctx context.Context, app *sandbox.App, p *prompter, out io.Writer, reconnect bool) error {
	m := app.Modal

	closed := make(chan modal.State, 1)
	m.OnClose(func(s modal.State) {
		select {
		case closed <- s:
		default:
		}
	})
	defer m.OnClose(nil)

	changed := make(chan struct{}, 1)
	unsubscribe := m.Subscribe(func(modal.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	m.Open(reconnect)

	var lastStatus string
	announced := false
	for {
		select {
		case final := <-closed:
			if !announced {
				announce(out, final)
			}
			return nil
		default:
		}

		s := m.State()
		if !s.Open {
			// an auto-close resets the state before OnClose runs
			select {
			case final := <-closed:
				if !announced {
					announce(out, final)
				}
				return nil
			case <-time.After(100 * time.Millisecond):
				return errDialogClosed
			}
		}
		if s.Status != "" && s.Status != lastStatus {
			fmt.Fprintf(out, "! %s\n", s.Status)
		}
		lastStatus = s.Status

		switch s.Step {
		case modal.StepSelectWallet, modal.StepReconnectWallet:
			id, err := chooseWallet(app, p, out)
			if err != nil {
				return abandon(m, err)
			}
			m.PickWallet(ctx, id)

		case modal.StepSelectAccount:
			accounts := app.Wallet.State().Accounts
			if len(accounts) == 0 {
				return abandon(m, errNoAccountsLeft)
			}
			labels := make([]string, len(accounts))
			for i, a := range accounts {
				labels[i] = fmt.Sprintf("%s (%s)", a.Label(), core.ShortAddress(a.Address))
			}
			i, err := p.Choose("Account", labels)
			if err != nil {
				return abandon(m, err)
			}
			m.PickAccount(ctx, accounts[i])

		case modal.StepEmailInput:
			email, err := p.Ask("Contact email")
			if err != nil {
				return abandon(m, err)
			}
			m.SubmitEmail(ctx, email)

		case modal.StepAuthSuccess, modal.StepReconnectSuccess:
			if !announced {
				announce(out, s)
				announced = true
			}
			select {
			case <-closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			// a handler is still working
			select {
			case <-changed:
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func chooseWallet(app *sandbox.App, p *prompter, out io.Writer) (string, error) {
	var installed []core.WalletOption
	for _, w := range app.Wallet.ListInstalledWallets() {
		if w.Installed {
			installed = append(installed, w)
		}
	}
	if len(installed) == 0 {
		return "", errNoWallets
	}

	labels := make([]string, len(installed))
	for i, w := range installed {
		labels[i] = w.Name
	}
	fmt.Fprintln(out, "Select a wallet:")
	i, err := p.Choose("Wallet", labels)
	if err != nil {
		return "", err
	}
	return installed[i].ID, nil
}

func abandon(m *modal.Machine, err error) error {
	_ = m.RequestClose()
	if errors.Is(err, io.EOF) {
		return errDialogClosed
	}
	return err
}

func announce(out io.Writer, s modal.State) {
	switch s.Step {
	case modal.StepReconnectSuccess:
		fmt.Fprintln(out, "Wallet reconnected.")
	case modal.StepAuthSuccess:
		if s.IsNew && s.IssuedAPIKey != "" {
			fmt.Fprintln(out, "Account created. Your API key is shown only once:")
			fmt.Fprintf(out, "  %s\n", s.IssuedAPIKey)
			return
		}
		fmt.Fprintln(out, "Logged in.")
	}
}
