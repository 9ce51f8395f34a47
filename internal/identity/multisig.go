package identity

import (
	"context"
	"fmt"

	"ephsign/go-backend/internal/ledger"
)

// MultisigMetadata is the threshold account definition. Members order is
// part of the account address.
type MultisigMetadata struct {
	Version   uint8
	Threshold uint8
	Members   []string
}

func (m MultisigMetadata) params() ledger.MultisigParams {
	return ledger.MultisigParams{
		Version:   m.Version,
		Threshold: m.Threshold,
		Members:   append([]string(nil), m.Members...),
	}
}

// Composite signs for a multisig account with whichever member identities
// are present. Members held elsewhere are allowed as long as enough are
// present when Sign is called.
type Composite struct {
	Address string

	codec   ledger.Codec
	meta    MultisigMetadata
	present map[string]*Identity
}

// Compose validates meta and the present identities and computes the
// composite address once.
func Compose(codec ledger.Codec, meta MultisigMetadata, present []*Identity) (*Composite, error) {
	if meta.Threshold == 0 || int(meta.Threshold) > len(meta.Members) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, meta.Threshold, len(meta.Members))
	}
	meta.Members = append([]string(nil), meta.Members...)

	known := make(map[string]struct{}, len(meta.Members))
	for _, m := range meta.Members {
		known[m] = struct{}{}
	}
	byAddr := make(map[string]*Identity, len(present))
	for _, id := range present {
		if id == nil || len(id.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: member identity without a public key", ErrUnknownMember)
		}
		if _, ok := known[id.Address]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMember, id.Address)
		}
		if _, dup := byAddr[id.Address]; dup {
			return nil, fmt.Errorf("%w: duplicate identity for %s", ErrUnknownMember, id.Address)
		}
		byAddr[id.Address] = id
	}

	addr, err := codec.MultisigAddress(meta.params())
	if err != nil {
		return nil, err
	}
	return &Composite{Address: addr, codec: codec, meta: meta, present: byAddr}, nil
}

func (c *Composite) Metadata() MultisigMetadata {
	m := c.meta
	m.Members = append([]string(nil), c.meta.Members...)
	return m
}

// Sign collects signatures from present members in metadata order until the
// threshold is met and returns them in the ledger's multisig encoding.
func (c *Composite) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	threshold := int(c.meta.Threshold)
	if len(c.present) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSignatures, len(c.present), threshold)
	}
	shares := make([]ledger.Share, 0, threshold)
	signed := make(map[string]struct{}, threshold)
	for _, m := range c.meta.Members {
		if len(shares) == threshold {
			break
		}
		id, ok := c.present[m]
		if !ok {
			continue
		}
		if _, done := signed[m]; done {
			continue
		}
		signed[m] = struct{}{}
		sig, err := id.Sign(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m, err)
		}
		shares = append(shares, ledger.Share{Member: m, PublicKey: id.PublicKey, Signature: sig})
	}
	return c.codec.PackMultisig(c.meta.params(), shares)
}

// Identity exposes the composite as an Identity with no single public key.
// A non-empty sendingAddress binds it to an account rekeyed to the multisig.
func (c *Composite) Identity(sendingAddress string) (*Identity, error) {
	sending, err := normalizeSending(c.codec, c.Address, sendingAddress)
	if err != nil {
		return nil, err
	}
	return &Identity{Address: c.Address, SendingAddress: sending, signer: c}, nil
}
