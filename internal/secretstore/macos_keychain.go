package secretstore

import (
	"context"
	"fmt"
	"log/slog"
)

const securityTool = "security"

// security(1) exits 44 when no item matches.
const securityItemNotFound = 44

// MacOSKeychain stores secrets as generic passwords in the login keychain
// of the current user.
type MacOSKeychain struct {
	account string
	runner  Runner
	logger  *slog.Logger
}

func NewMacOSKeychain(account string, runner Runner, logger *slog.Logger) *MacOSKeychain {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &MacOSKeychain{account: account, runner: runner, logger: loggerOrDiscard(logger)}
}

func (k *MacOSKeychain) Name() string { return "macos-keychain" }

func (k *MacOSKeychain) Get(ctx context.Context, h Handle) (Mnemonic, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	out, err := k.runner.Run(ctx, Command{
		Name: securityTool,
		Args: []string{"find-generic-password", "-a", k.account, "-s", h.Name, "-w"},
	})
	defer clear(out)
	if err != nil {
		// Locked or denied items also exit non-zero; all read as missing.
		if code, ok := exitCode(err); ok {
			k.logger.Debug("keychain lookup missed", "handle", h.Name, "account", k.account, "item_not_found", code == securityItemNotFound)
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("keychain lookup: %w", err)
	}
	secret := NewMnemonic(out)
	if len(secret) == 0 {
		return nil, ErrSecretNotFound
	}
	return secret, nil
}

// Set adds or updates the item. security(1) only accepts the password as an
// argument, so it is briefly visible in the process table of the local user.
func (k *MacOSKeychain) Set(ctx context.Context, h Handle, secret Mnemonic) error {
	if err := validateSet(h, secret); err != nil {
		return err
	}
	_, err := k.runner.Run(ctx, Command{
		Name: securityTool,
		Args: []string{"add-generic-password", "-U", "-a", k.account, "-s", h.Name, "-w", string(secret)},
	})
	if err != nil {
		if code, ok := exitCode(err); ok {
			return fmt.Errorf("keychain store: exit status %d", code)
		}
		return fmt.Errorf("keychain store: %w", err)
	}
	k.logger.Info("keychain secret stored", "handle", h.Name, "account", k.account)
	return nil
}
