// Package signerservice assembles backends, signers and codecs from a
// signerconfig.Config. Platform dispatch happens here once; everything
// downstream receives the chosen backend.
package signerservice

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"ephsign/go-backend/internal/bootstrap/signerconfig"
	"ephsign/go-backend/internal/identity"
	"ephsign/go-backend/internal/ledger"
	"ephsign/go-backend/internal/platform/privacylog"
	"ephsign/go-backend/internal/platform/ratelimiter"
	"ephsign/go-backend/internal/secretstore"
	"ephsign/go-backend/internal/seed"
	"ephsign/go-backend/internal/signer"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrNoSecretBackend   = errors.New("kms backend holds no recovery phrases")
	ErrMissingPassphrase = errors.New("file store passphrase is not set")
	ErrPhraseKeyMismatch = errors.New("stored phrase does not match provisioned key")
)

type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	// Runner overrides the credential tool runner; nil runs the real tools.
	Runner secretstore.Runner
	// KMSClient overrides the AWS client; nil builds one from the default
	// credential chain on first use.
	KMSClient signer.KMSClient
	// LookupEnv resolves the file store passphrase; nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

type Service struct {
	cfg     signerconfig.Config
	logger  *slog.Logger
	backend secretstore.Backend
	codec   seed.Codec
	ledger  ledger.Codec
	metrics *signer.Metrics
	limiter *ratelimiter.KeyLimiter
	eph     *signer.Ephemeral
	kms     *signer.KMS
	closers []io.Closer
}

// NewLogger returns the JSON logger every component shares, with secret
// attributes redacted and identifiers fingerprinted.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(privacylog.WrapHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func Build(cfg signerconfig.Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	codec, err := seed.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	ledgerCodec, err := ledger.ByName(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	metrics, err := signer.NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	svc := &Service{
		cfg:     cfg,
		logger:  logger,
		codec:   codec,
		ledger:  ledgerCodec,
		metrics: metrics,
		limiter: newLimiter(cfg.RateLimit),
	}
	signerOpts := []signer.Option{signer.WithLogger(logger), signer.WithMetrics(metrics)}

	if cfg.Backend == signerconfig.BackendKMS {
		svc.kms, err = signer.NewKMS(signer.KMSConfig{
			KeyID:    cfg.KMS.KeyID,
			Region:   cfg.KMS.Region,
			Profile:  cfg.KMS.Profile,
			Endpoint: cfg.KMS.Endpoint,
			Timeout:  cfg.KMS.Timeout,
		}, opts.KMSClient, signerOpts...)
		if err != nil {
			return nil, err
		}
		logger.Info("signer service ready", "backend", "kms", "key_id", cfg.KMS.KeyID, "ledger", ledgerCodec.Name())
		return svc, nil
	}

	backend, err := svc.buildBackend(opts)
	if err != nil {
		return nil, err
	}
	svc.backend = backend
	svc.eph = signer.NewEphemeral(backend, codec, signerOpts...)
	logger.Info("signer service ready", "backend", backend.Name(), "codec", codec.Name(), "ledger", ledgerCodec.Name())
	return svc, nil
}

func (s *Service) buildBackend(opts Options) (secretstore.Backend, error) {
	platformOpts := secretstore.Options{Account: s.cfg.Account, Runner: opts.Runner, Logger: s.logger}
	switch s.cfg.Backend {
	case signerconfig.BackendAuto:
		return secretstore.ForCurrentPlatform(platformOpts)
	case signerconfig.BackendMacOS:
		return secretstore.Dispatch("darwin", platformOpts)
	case signerconfig.BackendLinux:
		return secretstore.Dispatch("linux", platformOpts)
	case signerconfig.BackendWindows:
		return secretstore.Dispatch("windows", platformOpts)
	case signerconfig.BackendMemory:
		return secretstore.NewMemory(), nil
	case signerconfig.BackendFile:
		lookup := opts.LookupEnv
		if lookup == nil {
			lookup = os.LookupEnv
		}
		pass, ok := lookup(s.cfg.File.PassphraseEnv)
		if !ok || strings.TrimSpace(pass) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingPassphrase, s.cfg.File.PassphraseEnv)
		}
		f, err := secretstore.NewFile(s.cfg.File.Dir, []byte(pass), s.logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, f)
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", signerconfig.ErrInvalidConfig, s.cfg.Backend)
}

func newLimiter(cfg signerconfig.RateLimitConfig) *ratelimiter.KeyLimiter {
	perBackend := make(map[string]ratelimiter.Budget, len(cfg.Backends))
	for name, b := range cfg.Backends {
		perBackend[name] = ratelimiter.Budget{RPS: b.RPS, Burst: b.Burst}
	}
	return ratelimiter.New(ratelimiter.Budget{RPS: cfg.RPS, Burst: cfg.Burst}, perBackend, cfg.IdleTTL)
}

func (s *Service) Logger() *slog.Logger { return s.logger }

func (s *Service) Ledger() ledger.Codec { return s.ledger }

func (s *Service) Codec() seed.Codec { return s.codec }

// BackendName names where keys live: a secret backend or "kms".
func (s *Service) BackendName() string {
	if s.kms != nil {
		return "kms"
	}
	return s.backend.Name()
}

// Signer returns the rate-limited capability for handle. With the KMS
// backend the handle is ignored and the configured key is used.
func (s *Service) Signer(handle string) (signer.KeyedSigner, error) {
	if s.kms != nil {
		return signer.RateLimited(s.kms, signerconfig.BackendKMS, s.cfg.KMS.KeyID, s.limiter), nil
	}
	h, err := secretstore.NewHandle(handle)
	if err != nil {
		return nil, err
	}
	return signer.RateLimited(s.eph.Capability(h), s.backend.Name(), h.Name, s.limiter), nil
}

// Identity binds the signer for handle to its ledger address.
func (s *Service) Identity(ctx context.Context, handle, sendingAddress string) (*identity.Identity, error) {
	ks, err := s.Signer(handle)
	if err != nil {
		return nil, err
	}
	return identity.BindKeyed(ctx, s.ledger, ks, sendingAddress)
}

// Provision stores phrase under handle after checking that it decodes with
// the configured codec, then reads it back and confirms it derives the same
// key. It returns the public key.
func (s *Service) Provision(ctx context.Context, handle string, phrase secretstore.Mnemonic) (ed25519.PublicKey, error) {
	if s.backend == nil {
		return nil, ErrNoSecretBackend
	}
	h, err := secretstore.NewHandle(handle)
	if err != nil {
		return nil, err
	}
	want, err := seed.PublicKey(s.codec, phrase)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Set(ctx, h, phrase); err != nil {
		return nil, err
	}
	got, err := s.eph.PublicKey(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("read back: %w", err)
	}
	if !got.Equal(want) {
		return nil, ErrPhraseKeyMismatch
	}
	s.logger.Info("secret provisioned", "handle", h.Name, "backend", s.backend.Name())
	return got, nil
}

// Compose builds a composite identity from the local handles listed in
// present. Members whose keys live elsewhere are only named in meta.
func (s *Service) Compose(ctx context.Context, meta identity.MultisigMetadata, present []string) (*identity.Composite, error) {
	ids := make([]*identity.Identity, 0, len(present))
	for _, handle := range present {
		id, err := s.Identity(ctx, handle, "")
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", handle, err)
		}
		ids = append(ids, id)
	}
	return identity.Compose(s.ledger, meta, ids)
}

func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
