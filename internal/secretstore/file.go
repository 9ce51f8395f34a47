package secretstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"ephsign/go-backend/internal/securestore"
)

const fileSuffix = ".secret"

var ErrFileStoreLocked = errors.New("file store passphrase rejected")

// File keeps each secret in its own passphrase-encrypted file under dir.
// It serves hosts without a desktop credential store.
type File struct {
	dir        string
	passphrase []byte
	logger     *slog.Logger
}

// NewFile copies passphrase; call Close to wipe the copy.
func NewFile(dir string, passphrase []byte, logger *slog.Logger) (*File, error) {
	if dir == "" {
		return nil, errors.New("file store directory is required")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("file store passphrase is required")
	}
	return &File{
		dir:        dir,
		passphrase: append([]byte(nil), passphrase...),
		logger:     loggerOrDiscard(logger),
	}, nil
}

func (f *File) Name() string { return "file" }

func (f *File) Get(ctx context.Context, h Handle) (Mnemonic, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plain, err := securestore.ReadDecryptedFile(f.path(h), f.passphrase, h.Name)
	defer clear(plain)
	switch {
	case err == nil:
	case securestore.IsNotExist(err):
		return nil, ErrSecretNotFound
	case errors.Is(err, securestore.ErrAuthFailed):
		return nil, ErrFileStoreLocked
	default:
		return nil, fmt.Errorf("file store read: %w", err)
	}
	return NewMnemonic(plain), nil
}

func (f *File) Set(ctx context.Context, h Handle, secret Mnemonic) error {
	if err := validateSet(h, secret); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := securestore.WriteEncryptedFile(f.path(h), f.passphrase, h.Name, secret); err != nil {
		return fmt.Errorf("file store write: %w", err)
	}
	f.logger.Info("file store secret stored", "handle", h.Name)
	return nil
}

// Close wipes the in-memory passphrase copy.
func (f *File) Close() error {
	clear(f.passphrase)
	return nil
}

func (f *File) path(h Handle) string {
	return filepath.Join(f.dir, h.Name+fileSuffix)
}
