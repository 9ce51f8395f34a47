package signerservice

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"ephsign/go-backend/internal/bootstrap/signerconfig"
	"ephsign/go-backend/internal/identity"
	"ephsign/go-backend/internal/secretstore"
	"ephsign/go-backend/internal/seed"
	"ephsign/go-backend/internal/signer"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/prometheus/client_golang/prometheus"
)

func memoryConfig() signerconfig.Config {
	cfg := signerconfig.Default()
	cfg.Backend = signerconfig.BackendMemory
	return cfg
}

func provision(t *testing.T, svc *Service, handle string) ed25519.PublicKey {
	t.Helper()
	phrase, err := seed.Generate(seed.Algorand{})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	m := secretstore.NewMnemonic(phrase)
	defer m.Wipe()
	pub, err := svc.Provision(context.Background(), handle, m)
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	return pub
}

func TestProvisionSignVerify(t *testing.T) {
	var logs bytes.Buffer
	svc, err := Build(memoryConfig(), Options{Logger: NewLogger(&logs, slog.LevelDebug), Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer svc.Close()

	pub := provision(t, svc, "hot")
	id, err := svc.Identity(context.Background(), "hot", "")
	if err != nil {
		t.Fatalf("identity failed: %v", err)
	}
	if !id.PublicKey.Equal(pub) {
		t.Fatal("identity key differs from provisioned key")
	}
	sig, err := id.Sign(context.Background(), []byte("m"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !signer.Verify(pub, []byte("m"), sig) {
		t.Fatal("signature does not verify")
	}

	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line is not json: %q", line)
		}
		if _, ok := rec["handle"]; ok {
			t.Fatalf("handle must be fingerprinted in logs: %s", line)
		}
	}
}

func TestProvisionRejectsBadPhrase(t *testing.T) {
	svc, err := Build(memoryConfig(), Options{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	_, err = svc.Provision(context.Background(), "hot", secretstore.NewMnemonic([]byte("one two three")))
	if !errors.Is(err, seed.ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
	if _, err := svc.Signer("bad handle!"); !errors.Is(err, secretstore.ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestRateLimitFromConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	svc, err := Build(cfg, Options{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	provision(t, svc, "hot")
	ks, err := svc.Signer("hot")
	if err != nil {
		t.Fatalf("signer failed: %v", err)
	}
	if _, err := ks.Sign(context.Background(), []byte("a")); err != nil {
		t.Fatalf("first sign failed: %v", err)
	}
	if _, err := ks.Sign(context.Background(), []byte("b")); !errors.Is(err, signer.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimitBudgetPerBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	cfg.RateLimit.Backends = map[string]signerconfig.BudgetConfig{"memory": {RPS: 0.001, Burst: 3}}
	svc, err := Build(cfg, Options{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	provision(t, svc, "hot")
	ks, err := svc.Signer("hot")
	if err != nil {
		t.Fatalf("signer failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := ks.Sign(context.Background(), []byte("m")); err != nil {
			t.Fatalf("sign %d within the memory budget failed: %v", i+1, err)
		}
	}
	if _, err := ks.Sign(context.Background(), []byte("m")); !errors.Is(err, signer.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestFailedSignLogsNoRawHandle(t *testing.T) {
	var logs bytes.Buffer
	svc, err := Build(memoryConfig(), Options{Logger: NewLogger(&logs, slog.LevelDebug)})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	ks, err := svc.Signer("treasury-cold")
	if err != nil {
		t.Fatalf("signer failed: %v", err)
	}
	if _, err := ks.Sign(context.Background(), []byte("m")); !errors.Is(err, secretstore.ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
	if _, err := svc.Identity(context.Background(), "treasury-cold", ""); err == nil {
		t.Fatal("identity for a missing secret must fail")
	}

	out := logs.String()
	if !strings.Contains(out, "ephemeral sign failed") {
		t.Fatalf("expected a failure record, got %s", out)
	}
	if strings.Contains(out, "treasury-cold") {
		t.Fatalf("raw handle name present in logs: %s", out)
	}
	if !strings.Contains(out, "handle_fp") {
		t.Fatalf("expected fingerprinted handle, got %s", out)
	}
}

func TestComposeFromHandles(t *testing.T) {
	svc, err := Build(memoryConfig(), Options{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	provision(t, svc, "alice")
	provision(t, svc, "bob")
	alice, _ := svc.Identity(context.Background(), "alice", "")
	bob, _ := svc.Identity(context.Background(), "bob", "")

	meta := identity.MultisigMetadata{Version: 1, Threshold: 2, Members: []string{alice.Address, bob.Address}}
	c, err := svc.Compose(context.Background(), meta, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if _, err := c.Sign(context.Background(), []byte("m")); err != nil {
		t.Fatalf("composite sign failed: %v", err)
	}
	if _, err := svc.Compose(context.Background(), meta, []string{"missing"}); !errors.Is(err, secretstore.ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestFileBackendNeedsPassphrase(t *testing.T) {
	cfg := signerconfig.Default()
	cfg.Backend = signerconfig.BackendFile
	cfg.File.Dir = t.TempDir()
	noEnv := func(string) (string, bool) { return "", false }
	if _, err := Build(cfg, Options{LookupEnv: noEnv}); !errors.Is(err, ErrMissingPassphrase) {
		t.Fatalf("expected ErrMissingPassphrase, got %v", err)
	}

	env := func(name string) (string, bool) {
		return "correct horse battery", name == "EPHSIGN_FILE_PASSPHRASE"
	}
	svc, err := Build(cfg, Options{LookupEnv: env})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer svc.Close()
	if svc.BackendName() != "file" {
		t.Fatalf("unexpected backend %s", svc.BackendName())
	}
	provision(t, svc, "cold")
}

type fakeKMS struct {
	priv ed25519.PrivateKey
}

func (f fakeKMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	return &kms.SignOutput{Signature: ed25519.Sign(f.priv, in.Message)}, nil
}

func (f fakeKMS) GetPublicKey(context.Context, *kms.GetPublicKeyInput, ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	prefix := []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}
	return &kms.GetPublicKeyOutput{PublicKey: append(prefix, f.priv.Public().(ed25519.PublicKey)...)}, nil
}

func TestKMSBackend(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	cfg := signerconfig.Default()
	cfg.Backend = signerconfig.BackendKMS
	cfg.KMS.KeyID = "alias/treasury"
	svc, err := Build(cfg, Options{KMSClient: fakeKMS{priv: priv}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	id, err := svc.Identity(context.Background(), "", "")
	if err != nil {
		t.Fatalf("identity failed: %v", err)
	}
	sig, err := id.Sign(context.Background(), []byte("m"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !signer.Verify(id.PublicKey, []byte("m"), sig) {
		t.Fatal("kms signature does not verify")
	}
	if _, err := svc.Provision(context.Background(), "x", secretstore.NewMnemonic([]byte("w"))); !errors.Is(err, ErrNoSecretBackend) {
		t.Fatalf("expected ErrNoSecretBackend, got %v", err)
	}
}
