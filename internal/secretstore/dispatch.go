package secretstore

import (
	"fmt"
	"log/slog"
	"os/user"
	"runtime"
	"strings"
)

// Options configure the platform credential-store backends.
type Options struct {
	// Account scopes items to a user; empty means the current OS user.
	Account string
	Runner  Runner
	Logger  *slog.Logger
}

// Dispatch picks the credential-store backend for an OS family as reported
// by runtime.GOOS. There is no fallback: any other value fails with
// ErrUnsupportedPlatform.
func Dispatch(goos string, opts Options) (Backend, error) {
	switch goos {
	case "darwin", "linux", "windows":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, goos)
	}
	account, err := resolveAccount(opts.Account)
	if err != nil {
		return nil, err
	}
	switch goos {
	case "darwin":
		return NewMacOSKeychain(account, opts.Runner, opts.Logger), nil
	case "linux":
		return NewSecretTool(account, opts.Runner, opts.Logger), nil
	default:
		return NewWindowsCredential(account, opts.Runner, opts.Logger), nil
	}
}

// ForCurrentPlatform dispatches on the running OS. Call it once while wiring
// and pass the result along.
func ForCurrentPlatform(opts Options) (Backend, error) {
	return Dispatch(runtime.GOOS, opts)
}

func resolveAccount(account string) (string, error) {
	if account = strings.TrimSpace(account); account != "" {
		return account, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	return u.Username, nil
}
