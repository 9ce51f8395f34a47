// Package signer produces Ed25519 signatures without keeping private keys
// resident between calls.
//
// Ephemeral fetches a recovery phrase from a secretstore.Backend on every
// call, derives the key, signs and wipes the derived state before returning.
// KMS never sees a private key at all; it forwards the message to AWS KMS.
// Both hand out stateless Signer values that can be bound to ledger
// addresses by package identity.
package signer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
)

var (
	ErrVerificationFailure = errors.New("signature verification failed")
	ErrRateLimited         = errors.New("signing rate limit exceeded")
)

// Signer is a signing capability. Each call is independent and keeps no
// session state.
type Signer interface {
	Sign(ctx context.Context, msg []byte) ([]byte, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, msg []byte) ([]byte, error)

func (f SignerFunc) Sign(ctx context.Context, msg []byte) ([]byte, error) { return f(ctx, msg) }

// KeyedSigner is a Signer that can also report the public key it signs for.
type KeyedSigner interface {
	Signer
	PublicKey(ctx context.Context) (ed25519.PublicKey, error)
}

// Verify reports whether sig is a valid signature of msg by pub. Malformed
// inputs verify as false.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// VerifySignature is Verify returning ErrVerificationFailure on mismatch.
func VerifySignature(pub ed25519.PublicKey, msg, sig []byte) error {
	if !Verify(pub, msg, sig) {
		return ErrVerificationFailure
	}
	return nil
}

// Option configures Ephemeral and KMS signers.
type Option func(*common)

type common struct {
	logger  *slog.Logger
	metrics *Metrics
}

func WithLogger(l *slog.Logger) Option {
	return func(c *common) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *common) { c.metrics = m }
}

func newCommon(opts []Option) common {
	c := common{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}
