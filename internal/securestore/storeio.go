package securestore

import (
	"errors"
	"os"
	"path/filepath"
)

// ReadDecryptedFile reads and decrypts a file written by WriteEncryptedFile.
// The returned plaintext belongs to the caller.
func ReadDecryptedFile(path string, passphrase []byte, label string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(passphrase, label, raw)
}

// WriteEncryptedFile encrypts plaintext and replaces path via a temp file in
// the same directory. The directory is created 0700 and the file 0600.
func WriteEncryptedFile(path string, passphrase []byte, label string, plaintext []byte) error {
	encrypted, err := Encrypt(passphrase, label, plaintext)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encrypted); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// IsNotExist reports whether err means the encrypted file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
