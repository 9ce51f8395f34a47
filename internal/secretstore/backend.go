// Package secretstore fetches and stores wrapped signing secrets in an
// external store: the desktop OS credential stores (through their CLIs), an
// encrypted local file, or process memory for tests.
//
// Backends keep no cache. The store is the single source of truth and every
// Get goes back to it.
package secretstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	ErrSecretNotFound      = errors.New("secret not found")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrInvalidHandle       = errors.New("invalid secret handle")
	ErrEmptySecret         = errors.New("secret is empty")
)

// Handle names one secret inside a store, e.g. "mainnet-mnemonic".
type Handle struct {
	Name string
}

// Names are passed as CLI arguments and file names, so a leading dash or dot
// is refused along with anything outside a conservative character set.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func NewHandle(name string) (Handle, error) {
	h := Handle{Name: strings.TrimSpace(name)}
	if err := h.Validate(); err != nil {
		return Handle{}, err
	}
	return h, nil
}

func (h Handle) Validate() error {
	if !handlePattern.MatchString(h.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, h.Name)
	}
	return nil
}

func (h Handle) String() string { return h.Name }

// Backend is a named secret store.
//
// Get returns a fresh copy of the secret that the caller must Wipe.
// Concurrent Get calls are safe; concurrent Set calls for the same handle must
// be serialized by the caller.
type Backend interface {
	Name() string
	Get(ctx context.Context, h Handle) (Mnemonic, error)
	Set(ctx context.Context, h Handle, secret Mnemonic) error
}

func validateSet(h Handle, secret Mnemonic) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	return nil
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}
