package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Algorand addresses are the public key plus a checksum in base32. Only
// multisig version 1 exists on chain.
type Algorand struct{}

func (Algorand) Name() string { return "algorand" }

func (Algorand) Address(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: size %d", ErrInvalidPublicKey, len(pub))
	}
	var addr types.Address
	copy(addr[:], pub)
	return addr.String(), nil
}

func (Algorand) ValidAddress(addr string) bool {
	_, err := types.DecodeAddress(addr)
	return err == nil
}

func (a Algorand) MultisigAddress(p MultisigParams) (string, error) {
	ma, err := a.account(p)
	if err != nil {
		return "", err
	}
	addr, err := ma.Address()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMultisig, err)
	}
	return addr.String(), nil
}

// PackMultisig returns the msgpack encoding of the multisig signature as it
// appears in a signed transaction's msig field.
func (a Algorand) PackMultisig(p MultisigParams, shares []Share) ([]byte, error) {
	ma, err := a.account(p)
	if err != nil {
		return nil, err
	}
	byMember, err := indexShares(p, shares, a.Address)
	if err != nil {
		return nil, err
	}
	msig := types.MultisigSig{
		Version:   ma.Version,
		Threshold: ma.Threshold,
		Subsigs:   make([]types.MultisigSubsig, len(ma.Pks)),
	}
	for i, pk := range ma.Pks {
		msig.Subsigs[i].Key = pk
		if s, ok := byMember[p.Members[i]]; ok {
			copy(msig.Subsigs[i].Sig[:], s.Signature)
		}
	}
	return msgpack.Encode(msig), nil
}

func (Algorand) account(p MultisigParams) (crypto.MultisigAccount, error) {
	if err := p.validate(); err != nil {
		return crypto.MultisigAccount{}, err
	}
	addrs := make([]types.Address, len(p.Members))
	for i, m := range p.Members {
		addr, err := types.DecodeAddress(m)
		if err != nil {
			return crypto.MultisigAccount{}, fmt.Errorf("%w: member %d: %v", ErrInvalidAddress, i, err)
		}
		addrs[i] = addr
	}
	ma, err := crypto.MultisigAccountWithParams(p.Version, p.Threshold, addrs)
	if err != nil {
		return crypto.MultisigAccount{}, fmt.Errorf("%w: %v", ErrInvalidMultisig, err)
	}
	return ma, nil
}
