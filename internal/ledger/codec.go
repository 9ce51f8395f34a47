// Package ledger turns Ed25519 public keys into ledger addresses and packs
// threshold signatures into the ledger's multisig encoding.
package ledger

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidMultisig  = errors.New("invalid multisig parameters")
	ErrShareMismatch    = errors.New("signature share does not match a member")
	ErrUnknownLedger    = errors.New("unknown ledger")
)

// MultisigParams describes an M-of-N account. Member order is part of the
// account: reordering Members yields a different address.
type MultisigParams struct {
	Version   uint8
	Threshold uint8
	Members   []string
}

func (p MultisigParams) validate() error {
	if len(p.Members) == 0 || len(p.Members) > 255 {
		return fmt.Errorf("%w: %d members", ErrInvalidMultisig, len(p.Members))
	}
	if p.Threshold == 0 || int(p.Threshold) > len(p.Members) {
		return fmt.Errorf("%w: threshold %d of %d", ErrInvalidMultisig, p.Threshold, len(p.Members))
	}
	return nil
}

// Share is one member's signature over the message being authorized.
type Share struct {
	Member    string
	PublicKey ed25519.PublicKey
	Signature []byte
}

type Codec interface {
	Name() string
	Address(pub ed25519.PublicKey) (string, error)
	MultisigAddress(p MultisigParams) (string, error)
	// PackMultisig encodes shares in member order. Members without a share
	// are encoded as unsigned.
	PackMultisig(p MultisigParams, shares []Share) ([]byte, error)
	ValidAddress(addr string) bool
}

// ByName returns the codec for a configured ledger name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "algorand":
		return Algorand{}, nil
	case "base58":
		return Base58{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLedger, name)
	}
}

// indexShares maps each share onto its member slot, rejecting shares for
// addresses outside the member list and repeated shares for one slot.
func indexShares(p MultisigParams, shares []Share, address func(ed25519.PublicKey) (string, error)) (map[string]Share, error) {
	byMember := make(map[string]Share, len(shares))
	known := make(map[string]struct{}, len(p.Members))
	for _, m := range p.Members {
		known[m] = struct{}{}
	}
	for _, s := range shares {
		if _, ok := known[s.Member]; !ok {
			return nil, fmt.Errorf("%w: %s is not a member", ErrShareMismatch, s.Member)
		}
		if _, dup := byMember[s.Member]; dup {
			return nil, fmt.Errorf("%w: duplicate share for %s", ErrShareMismatch, s.Member)
		}
		if len(s.Signature) != ed25519.SignatureSize {
			return nil, fmt.Errorf("%w: signature size %d", ErrShareMismatch, len(s.Signature))
		}
		addr, err := address(s.PublicKey)
		if err != nil {
			return nil, err
		}
		if addr != s.Member {
			return nil, fmt.Errorf("%w: key for %s derives %s", ErrShareMismatch, s.Member, addr)
		}
		byMember[s.Member] = s
	}
	return byMember, nil
}
