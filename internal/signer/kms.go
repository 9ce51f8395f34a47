package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

var (
	ErrRemoteSignatureMissing   = errors.New("kms returned no signature")
	ErrRemotePublicKeyMissing   = errors.New("kms returned no public key")
	ErrMalformedPublicKeyFormat = errors.New("kms public key is not an ed25519 SubjectPublicKeyInfo")
	ErrKMSKeyIDRequired         = errors.New("kms key id is required")
)

// ed25519SPKIPrefix is the DER header of a SubjectPublicKeyInfo carrying an
// Ed25519 key (OID 1.3.101.112); the raw 32-byte key follows it.
var ed25519SPKIPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}

// Pure Ed25519 over the raw message (SHA-512 is internal to the scheme).
const kmsSigningAlgorithm = kmstypes.SigningAlgorithmSpec("ED25519_SHA_512")

const kmsBackendName = "kms"

// KMSClient abstracts the KMS API calls used here, for testing.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSConfig selects the key and the AWS endpoint.
type KMSConfig struct {
	KeyID    string
	Region   string
	Profile  string
	Endpoint string
	// Timeout bounds each call, including credential resolution on first
	// use; zero leaves only the caller's context.
	Timeout time.Duration
}

// KMS signs with an HSM-held Ed25519 key. No private key material ever
// reaches this process.
type KMS struct {
	cfg    KMSConfig
	mu     sync.Mutex
	client KMSClient
	common
}

// NewKMS builds a KMS signer. A nil client is created lazily from the
// default AWS credential chain on first use.
func NewKMS(cfg KMSConfig, client KMSClient, opts ...Option) (*KMS, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.KeyID == "" {
		return nil, ErrKMSKeyIDRequired
	}
	return &KMS{cfg: cfg, client: client, common: newCommon(opts)}, nil
}

func (k *KMS) Sign(ctx context.Context, msg []byte) (sig []byte, err error) {
	start := time.Now()
	defer func() {
		k.metrics.observe(kmsBackendName, start, err)
		if err != nil {
			k.logger.Warn("kms sign failed", "key_id", k.cfg.KeyID, "error", err)
		}
	}()

	ctx, cancel := k.withTimeout(ctx)
	defer cancel()
	client, err := k.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(k.cfg.KeyID),
		Message:          msg,
		MessageType:      kmstypes.MessageTypeRaw,
		SigningAlgorithm: kmsSigningAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("kms sign: %w", err)
	}
	if out == nil || len(out.Signature) == 0 {
		return nil, ErrRemoteSignatureMissing
	}
	return out.Signature, nil
}

// FetchPublicKey exports the public half of the KMS key.
func (k *KMS) FetchPublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	ctx, cancel := k.withTimeout(ctx)
	defer cancel()
	client, err := k.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(k.cfg.KeyID)})
	if err != nil {
		return nil, fmt.Errorf("kms get public key: %w", err)
	}
	if out == nil || len(out.PublicKey) == 0 {
		return nil, ErrRemotePublicKeyMissing
	}
	return ParsePublicKeyEnvelope(out.PublicKey)
}

// PublicKey makes KMS a KeyedSigner.
func (k *KMS) PublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	return k.FetchPublicKey(ctx)
}

// ParsePublicKeyEnvelope extracts the raw key from a DER SubjectPublicKeyInfo
// holding an Ed25519 key.
func ParsePublicKeyEnvelope(der []byte) (ed25519.PublicKey, error) {
	if len(der) != len(ed25519SPKIPrefix)+ed25519.PublicKeySize || !bytes.HasPrefix(der, ed25519SPKIPrefix) {
		return nil, ErrMalformedPublicKeyFormat
	}
	return append(ed25519.PublicKey(nil), der[len(ed25519SPKIPrefix):]...), nil
}

func (k *KMS) ensureClient(ctx context.Context) (KMSClient, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client != nil {
		return k.client, nil
	}
	var loadOpts []func(*config.LoadOptions) error
	if k.cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(k.cfg.Region))
	}
	if k.cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(k.cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}
	endpoint := k.cfg.Endpoint
	k.client = kms.NewFromConfig(awsCfg, func(o *kms.Options) {
		// Retrying is left to the caller.
		o.RetryMaxAttempts = 1
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return k.client, nil
}

func (k *KMS) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if k.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, k.cfg.Timeout)
}
