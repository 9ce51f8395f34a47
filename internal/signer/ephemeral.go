package signer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"ephsign/go-backend/internal/secretstore"
	"ephsign/go-backend/internal/seed"

	"github.com/google/uuid"
)

// Ephemeral signs with a key re-derived from the backend on every call.
type Ephemeral struct {
	backend secretstore.Backend
	codec   seed.Codec
	common
}

func NewEphemeral(backend secretstore.Backend, codec seed.Codec, opts ...Option) *Ephemeral {
	if codec == nil {
		codec = seed.Algorand{}
	}
	return &Ephemeral{backend: backend, codec: codec, common: newCommon(opts)}
}

// Sign fetches the phrase for h, derives the keypair and signs msg. The
// phrase, seed and private key are zeroed before Sign returns, whether it
// succeeds, fails or the context is cancelled.
func (e *Ephemeral) Sign(ctx context.Context, h secretstore.Handle, msg []byte) (sig []byte, err error) {
	start := time.Now()
	callID := uuid.NewString()
	defer func() {
		e.metrics.observe(e.backend.Name(), start, err)
		if err != nil {
			e.logger.Warn("ephemeral sign failed", "call_id", callID, "handle", h.Name, "backend", e.backend.Name(), "error", err)
			return
		}
		e.logger.Debug("ephemeral sign done", "call_id", callID, "handle", h.Name, "backend", e.backend.Name(), "elapsed", time.Since(start))
	}()

	err = e.withKey(ctx, h, func(km *seed.KeyMaterial) error {
		s, err := km.Sign(msg)
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// PublicKey derives the public key for h under the same wipe discipline as
// Sign.
func (e *Ephemeral) PublicKey(ctx context.Context, h secretstore.Handle) (ed25519.PublicKey, error) {
	var pub ed25519.PublicKey
	err := e.withKey(ctx, h, func(km *seed.KeyMaterial) error {
		pub = append(ed25519.PublicKey(nil), km.PublicKey...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// Capability binds the signer to one handle.
func (e *Ephemeral) Capability(h secretstore.Handle) KeyedSigner {
	return handleSigner{e: e, h: h}
}

func (e *Ephemeral) withKey(ctx context.Context, h secretstore.Handle, fn func(*seed.KeyMaterial) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	phrase, err := e.backend.Get(ctx, h)
	defer phrase.Wipe()
	if err != nil {
		return fmt.Errorf("fetch secret: %w", err)
	}
	return seed.Derive(e.codec, phrase, func(km *seed.KeyMaterial) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(km)
	})
}

type handleSigner struct {
	e *Ephemeral
	h secretstore.Handle
}

func (s handleSigner) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	return s.e.Sign(ctx, s.h, msg)
}

func (s handleSigner) PublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	return s.e.PublicKey(ctx, s.h)
}
