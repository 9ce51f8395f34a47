package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "EPHSIGN1\n"

	kdfName       = "argon2id"
	kdfTime       = uint32(2)
	kdfMemoryKB   = uint32(64 * 1024)
	kdfThreads    = uint8(1)
	minPassphrase = 8
)

var (
	ErrAuthFailed     = errors.New("securestore authentication failed")
	ErrInvalid        = errors.New("securestore envelope is invalid")
	ErrUnknownFormat  = errors.New("securestore data has unknown format")
	ErrWeakPassphrase = errors.New("securestore passphrase is too short")
	ErrEmptyPlaintext = errors.New("securestore plaintext is empty")
	ErrLabelMismatch  = errors.New("securestore label mismatch")
)

// Envelope is the persisted form of one encrypted secret. Label is bound as
// associated data so an envelope cannot be replayed under another name.
type Envelope struct {
	Version     uint32 `json:"version"`
	Label       string `json:"label"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

func Encrypt(passphrase []byte, label string, plaintext []byte) ([]byte, error) {
	env, err := EncryptEnvelope(passphrase, label, plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

func EncryptEnvelope(passphrase []byte, label string, plaintext []byte) (*Envelope, error) {
	if len(passphrase) < minPassphrase {
		return nil, ErrWeakPassphrase
	}
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, kdfTime, kdfMemoryKB, kdfThreads)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &Envelope{
		Version:     envelopeVersion,
		Label:       label,
		KDF:         kdfName,
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemoryKB,
		KDFThreads:  kdfThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, []byte(label)),
	}, nil
}

// Decrypt opens data written by Encrypt. The caller owns the returned
// plaintext and must clear it when done.
func Decrypt(passphrase []byte, label string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), filePrefix) {
		return nil, ErrUnknownFormat
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	return DecryptEnvelope(passphrase, label, &env)
}

func DecryptEnvelope(passphrase []byte, label string, env *Envelope) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrInvalid
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX || len(env.Salt) != saltSize {
		return nil, ErrInvalid
	}
	if env.Label != label {
		return nil, ErrLabelMismatch
	}
	key := deriveKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(env.Label))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase, salt []byte, time, memKB uint32, threads uint8) []byte {
	return argon2.IDKey(passphrase, salt, time, memKB, threads, chacha20poly1305.KeySize)
}
