package ledger

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	defaultBase58Prefix = "eph1"
	multisigDomain      = "ephsign/multisig"
	packedMagic         = "EMS1"
)

// Base58 addresses are Prefix followed by base58(blake2b-256(pubkey)). The
// zero value uses the "eph1" prefix.
type Base58 struct {
	Prefix string
}

func (b Base58) Name() string { return "base58" }

func (b Base58) prefix() string {
	if b.Prefix == "" {
		return defaultBase58Prefix
	}
	return b.Prefix
}

func (b Base58) Address(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: size %d", ErrInvalidPublicKey, len(pub))
	}
	h := blake2b.Sum256(pub)
	return b.prefix() + base58.Encode(h[:]), nil
}

func (b Base58) ValidAddress(addr string) bool {
	_, err := b.decode(addr)
	return err == nil
}

func (b Base58) decode(addr string) ([]byte, error) {
	body, ok := strings.CutPrefix(addr, b.prefix())
	if !ok || body == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	raw, err := base58.Decode(body)
	if err != nil || len(raw) != blake2b.Size256 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return raw, nil
}

// MultisigAddress hashes the version, threshold and ordered member digests
// under a fixed domain string.
func (b Base58) MultisigAddress(p MultisigParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	if p.Version == 0 {
		return "", fmt.Errorf("%w: version 0", ErrInvalidMultisig)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(multisigDomain))
	h.Write([]byte{p.Version, p.Threshold, byte(len(p.Members))})
	for i, m := range p.Members {
		raw, err := b.decode(m)
		if err != nil {
			return "", fmt.Errorf("member %d: %w", i, err)
		}
		h.Write(raw)
	}
	return b.prefix() + base58.Encode(h.Sum(nil)), nil
}

// PackMultisig layout: magic, version, threshold, member count, then per
// member a presence byte followed by pubkey and signature when present. The
// multisig address is length-prefixed in front of the member records.
func (b Base58) PackMultisig(p MultisigParams, shares []Share) ([]byte, error) {
	addr, err := b.MultisigAddress(p)
	if err != nil {
		return nil, err
	}
	byMember, err := indexShares(p, shares, b.Address)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(packedMagic)+5+len(addr)+len(p.Members)*(1+ed25519.PublicKeySize+ed25519.SignatureSize))
	out = append(out, packedMagic...)
	out = append(out, p.Version, p.Threshold, byte(len(p.Members)))
	out = binary.BigEndian.AppendUint16(out, uint16(len(addr)))
	out = append(out, addr...)
	for _, m := range p.Members {
		s, ok := byMember[m]
		if !ok {
			out = append(out, 0)
			continue
		}
		out = append(out, 1)
		out = append(out, s.PublicKey...)
		out = append(out, s.Signature...)
	}
	return out, nil
}
