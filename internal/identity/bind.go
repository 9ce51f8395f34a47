// Package identity binds signing capabilities to ledger addresses.
//
// An Identity pairs a Signer with the address its public key encodes to and,
// after a rekey, the address it signs on behalf of. A Composite gathers
// several identities behind an M-of-N multisig address.
package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"ephsign/go-backend/internal/ledger"
	"ephsign/go-backend/internal/signer"
)

var (
	ErrInvalidPublicKey       = errors.New("invalid public key")
	ErrInvalidSendingAddress  = errors.New("invalid sending address")
	ErrNoSigner               = errors.New("identity has no signer")
	ErrInvalidThreshold       = errors.New("invalid multisig threshold")
	ErrUnknownMember          = errors.New("identity is not a multisig member")
	ErrInsufficientSignatures = errors.New("not enough member identities to reach threshold")
)

// Identity is a signer bound to an address. It holds the capability, not
// any key material.
type Identity struct {
	Address   string
	PublicKey ed25519.PublicKey
	// SendingAddress is the account this identity authorizes for after a
	// rekey. Empty when it signs for Address itself.
	SendingAddress string

	signer signer.Signer
}

// Bind derives the address of publicKey and attaches capability to it.
// sendingAddress is only checked for form; whether the ledger has actually
// rekeyed it to this key is the submitting client's concern.
func Bind(codec ledger.Codec, capability signer.Signer, publicKey ed25519.PublicKey, sendingAddress string) (*Identity, error) {
	if capability == nil {
		return nil, ErrNoSigner
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidPublicKey, len(publicKey))
	}
	addr, err := codec.Address(publicKey)
	if err != nil {
		return nil, err
	}
	sending, err := normalizeSending(codec, addr, sendingAddress)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Address:        addr,
		PublicKey:      append(ed25519.PublicKey(nil), publicKey...),
		SendingAddress: sending,
		signer:         capability,
	}, nil
}

// BindKeyed asks ks for its public key and binds it.
func BindKeyed(ctx context.Context, codec ledger.Codec, ks signer.KeyedSigner, sendingAddress string) (*Identity, error) {
	if ks == nil {
		return nil, ErrNoSigner
	}
	pub, err := ks.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve public key: %w", err)
	}
	return Bind(codec, ks, pub, sendingAddress)
}

// Rebind is the rekey hook: the returned identity signs with capability
// but keeps authorizing for whatever id authorized for.
func Rebind(id *Identity, codec ledger.Codec, capability signer.Signer, publicKey ed25519.PublicKey) (*Identity, error) {
	if id == nil {
		return nil, ErrNoSigner
	}
	return Bind(codec, capability, publicKey, id.Authorizes())
}

func (id *Identity) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if id == nil || id.signer == nil {
		return nil, ErrNoSigner
	}
	return id.signer.Sign(ctx, msg)
}

// Authorizes returns the address this identity's signatures act for.
func (id *Identity) Authorizes() string {
	if id.SendingAddress != "" {
		return id.SendingAddress
	}
	return id.Address
}

func (id *Identity) Rekeyed() bool { return id.SendingAddress != "" }

func normalizeSending(codec ledger.Codec, own, sending string) (string, error) {
	sending = strings.TrimSpace(sending)
	if sending == "" || sending == own {
		return "", nil
	}
	if !codec.ValidAddress(sending) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSendingAddress, sending)
	}
	return sending, nil
}
