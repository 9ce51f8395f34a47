package secretstore

import (
	"context"
	"fmt"
	"log/slog"
)

const secretToolBin = "secret-tool"

// SecretTool stores secrets in the freedesktop Secret Service (GNOME
// Keyring, KWallet) through libsecret's secret-tool. Items are keyed by the
// attributes service=<handle> and account=<user>.
type SecretTool struct {
	account string
	runner  Runner
	logger  *slog.Logger
}

func NewSecretTool(account string, runner Runner, logger *slog.Logger) *SecretTool {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &SecretTool{account: account, runner: runner, logger: loggerOrDiscard(logger)}
}

func (s *SecretTool) Name() string { return "secret-service" }

func (s *SecretTool) Get(ctx context.Context, h Handle) (Mnemonic, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	out, err := s.runner.Run(ctx, Command{
		Name: secretToolBin,
		Args: []string{"lookup", "service", h.Name, "account", s.account},
	})
	defer clear(out)
	if err != nil {
		if _, ok := exitCode(err); ok {
			s.logger.Debug("secret service lookup missed", "handle", h.Name, "account", s.account)
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("secret service lookup: %w", err)
	}
	secret := NewMnemonic(out)
	if len(secret) == 0 {
		return nil, ErrSecretNotFound
	}
	return secret, nil
}

func (s *SecretTool) Set(ctx context.Context, h Handle, secret Mnemonic) error {
	if err := validateSet(h, secret); err != nil {
		return err
	}
	_, err := s.runner.Run(ctx, Command{
		Name:  secretToolBin,
		Args:  []string{"store", "--label=" + h.Name, "service", h.Name, "account", s.account},
		Stdin: secret,
	})
	if err != nil {
		return fmt.Errorf("secret service store: %w", err)
	}
	s.logger.Info("secret service secret stored", "handle", h.Name, "account", s.account)
	return nil
}
