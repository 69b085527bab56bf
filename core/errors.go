package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidChallenge = errors.New("invalid challenge")

	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSessionExpired     = errors.New("session expired, please log in again")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNoAccountSelected  = errors.New("no account selected")
	ErrSigningUnavailable = errors.New("signing unavailable")
	ErrNoExtensions       = errors.New("no wallet extension found")
	ErrWalletNotInstalled = errors.New("wallet is not installed or access was denied")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrAddressExists      = errors.New("address already added")
	ErrInvalidEmail       = errors.New("invalid contact email")
	ErrInvalidOrigin      = errors.New("invalid origin")
	ErrCloseBlocked       = errors.New("cannot close while signing or on the success screen")
	ErrCancelled          = errors.New("request cancelled")
)

// APIError is a non-2xx answer from the sandbox backend or the DotPassport API
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 answers
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// StatusMessage turns any error into the short text shown to the user.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
