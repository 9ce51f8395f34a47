// Package seed converts recovery phrases to 32-byte Ed25519 seeds and back,
// and derives key material whose lifetime is bound to a single callback.
package seed

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/tyler-smith/go-bip39"
)

// Size is the length of a raw Ed25519 seed.
const Size = 32

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrInvalidSeedSize  = errors.New("invalid seed size")
	ErrUnknownCodec     = errors.New("unknown mnemonic codec")
	ErrKeyMaterialWiped = errors.New("key material already wiped")
)

// Codec maps a recovery phrase to a raw seed. Returned seeds are fresh
// buffers owned by the caller.
type Codec interface {
	Name() string
	ToSeed(phrase []byte) ([]byte, error)
	FromSeed(seed []byte) ([]byte, error)
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "algorand":
		return Algorand{}, nil
	case "bip39":
		return BIP39{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Algorand is the 25-word Algorand account mnemonic.
type Algorand struct{}

func (Algorand) Name() string { return "algorand" }

func (Algorand) ToSeed(phrase []byte) ([]byte, error) {
	key, err := mnemonic.ToKey(normalize(phrase))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	if len(key) != Size {
		clear(key)
		return nil, ErrInvalidSeedSize
	}
	return key, nil
}

func (Algorand) FromSeed(seed []byte) ([]byte, error) {
	if len(seed) != Size {
		return nil, ErrInvalidSeedSize
	}
	phrase, err := mnemonic.FromKey(seed)
	if err != nil {
		return nil, err
	}
	return []byte(phrase), nil
}

// BIP39 is a 24-word BIP-39 phrase; its 256-bit entropy is used directly as
// the Ed25519 seed.
type BIP39 struct{}

func (BIP39) Name() string { return "bip39" }

func (BIP39) ToSeed(phrase []byte) ([]byte, error) {
	normalized := normalize(phrase)
	if !bip39.IsMnemonicValid(normalized) {
		return nil, ErrInvalidMnemonic
	}
	entropy, err := bip39.EntropyFromMnemonic(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	if len(entropy) != Size {
		clear(entropy)
		return nil, ErrInvalidSeedSize
	}
	return entropy, nil
}

func (BIP39) FromSeed(seed []byte) ([]byte, error) {
	if len(seed) != Size {
		return nil, ErrInvalidSeedSize
	}
	phrase, err := bip39.NewMnemonic(seed)
	if err != nil {
		return nil, err
	}
	return []byte(phrase), nil
}

// Generate draws a random seed and returns its phrase. Used by provisioning.
func Generate(codec Codec) ([]byte, error) {
	s := make([]byte, Size)
	defer clear(s)
	if _, err := rand.Read(s); err != nil {
		return nil, err
	}
	return codec.FromSeed(s)
}

// normalize collapses whitespace and lowercases. Both libraries take a Go
// string, which cannot be wiped afterwards.
func normalize(phrase []byte) string {
	return strings.ToLower(strings.Join(strings.Fields(string(phrase)), " "))
}
