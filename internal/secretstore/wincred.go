package secretstore

import (
	"context"
	"fmt"
	"log/slog"
)

const powershellBin = "powershell.exe"

// wincredMissing is the exit status the lookup script uses when the
// credential does not exist.
const wincredMissing = 3

// The password comes back from the credential manager as a SecureString. The
// script unwraps it through a BSTR and frees that BSTR with ZeroFreeBSTR so
// the only plaintext copy left is the one written to our stdout pipe.
const wincredGetScript = `$ErrorActionPreference = 'Stop'
$cred = Get-StoredCredential -Target $env:EPHSIGN_TARGET
if ($null -eq $cred) { exit 3 }
$bstr = [Runtime.InteropServices.Marshal]::SecureStringToBSTR($cred.Password)
try {
  [Console]::Out.Write([Runtime.InteropServices.Marshal]::PtrToStringBSTR($bstr))
} finally {
  [Runtime.InteropServices.Marshal]::ZeroFreeBSTR($bstr)
  $cred.Password.Dispose()
}`

const wincredSetScript = `$ErrorActionPreference = 'Stop'
$secret = [Console]::In.ReadToEnd()
$secure = ConvertTo-SecureString -String $secret -AsPlainText -Force
Remove-Variable secret
try {
  New-StoredCredential -Target $env:EPHSIGN_TARGET -UserName $env:EPHSIGN_ACCOUNT -SecurePassword $secure -Persist LocalMachine | Out-Null
} finally {
  $secure.Dispose()
}`

// WindowsCredential stores secrets as generic credentials in the Windows
// Credential Manager via the CredentialManager PowerShell module. The
// handle name is the credential target and the account is its user name.
type WindowsCredential struct {
	account string
	runner  Runner
	logger  *slog.Logger
}

func NewWindowsCredential(account string, runner Runner, logger *slog.Logger) *WindowsCredential {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &WindowsCredential{account: account, runner: runner, logger: loggerOrDiscard(logger)}
}

func (w *WindowsCredential) Name() string { return "windows-credential" }

func (w *WindowsCredential) Get(ctx context.Context, h Handle) (Mnemonic, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	out, err := w.runner.Run(ctx, w.command(h, wincredGetScript, nil))
	defer clear(out)
	if err != nil {
		if code, ok := exitCode(err); ok && code == wincredMissing {
			w.logger.Debug("credential manager lookup missed", "handle", h.Name, "account", w.account)
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("credential manager lookup: %w", err)
	}
	secret := NewMnemonic(out)
	if len(secret) == 0 {
		return nil, ErrSecretNotFound
	}
	return secret, nil
}

func (w *WindowsCredential) Set(ctx context.Context, h Handle, secret Mnemonic) error {
	if err := validateSet(h, secret); err != nil {
		return err
	}
	if _, err := w.runner.Run(ctx, w.command(h, wincredSetScript, secret)); err != nil {
		return fmt.Errorf("credential manager store: %w", err)
	}
	w.logger.Info("credential manager secret stored", "handle", h.Name, "account", w.account)
	return nil
}

func (w *WindowsCredential) command(h Handle, script string, stdin []byte) Command {
	return Command{
		Name:  powershellBin,
		Args:  []string{"-NoProfile", "-NonInteractive", "-Command", script},
		Env:   []string{"EPHSIGN_TARGET=" + h.Name, "EPHSIGN_ACCOUNT=" + w.account},
		Stdin: stdin,
	}
}
