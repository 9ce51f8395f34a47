package signer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type fakeKMS struct {
	priv      ed25519.PrivateKey
	pubDER    []byte
	noSig     bool
	err       error
	signInput *kms.SignInput
	deadline  time.Time
	bounded   bool
}

func newFakeKMS(t *testing.T) *fakeKMS {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	der := append(append([]byte(nil), ed25519SPKIPrefix...), pub...)
	return &fakeKMS{priv: priv, pubDER: der}
}

func (f *fakeKMS) Sign(ctx context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.signInput = in
	f.deadline, f.bounded = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	if f.noSig {
		return &kms.SignOutput{KeyId: in.KeyId}, nil
	}
	return &kms.SignOutput{KeyId: in.KeyId, Signature: ed25519.Sign(f.priv, in.Message)}, nil
}

func (f *fakeKMS) GetPublicKey(_ context.Context, in *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &kms.GetPublicKeyOutput{KeyId: in.KeyId, PublicKey: f.pubDER}, nil
}

func TestKMSSignAndFetchPublicKey(t *testing.T) {
	fake := newFakeKMS(t)
	k, err := NewKMS(KMSConfig{KeyID: " alias/treasury "}, fake)
	if err != nil {
		t.Fatalf("new kms failed: %v", err)
	}
	msg := []byte("txn bytes")
	sig, err := k.Sign(context.Background(), msg)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if got := aws.ToString(fake.signInput.KeyId); got != "alias/treasury" {
		t.Fatalf("unexpected key id %q", got)
	}
	if fake.signInput.MessageType != kmstypes.MessageTypeRaw {
		t.Fatalf("message must be sent raw, got %q", fake.signInput.MessageType)
	}
	if fake.signInput.SigningAlgorithm != kmsSigningAlgorithm {
		t.Fatalf("unexpected algorithm %q", fake.signInput.SigningAlgorithm)
	}

	pub, err := k.FetchPublicKey(context.Background())
	if err != nil {
		t.Fatalf("fetch public key failed: %v", err)
	}
	if !pub.Equal(fake.priv.Public().(ed25519.PublicKey)) {
		t.Fatal("public key does not match the remote key")
	}
	if !Verify(pub, msg, sig) {
		t.Fatal("kms signature does not verify")
	}
}

func TestKMSMissingSignature(t *testing.T) {
	fake := newFakeKMS(t)
	fake.noSig = true
	k, _ := NewKMS(KMSConfig{KeyID: "k"}, fake)
	if _, err := k.Sign(context.Background(), []byte("m")); !errors.Is(err, ErrRemoteSignatureMissing) {
		t.Fatalf("expected ErrRemoteSignatureMissing, got %v", err)
	}
}

func TestKMSMissingPublicKey(t *testing.T) {
	fake := newFakeKMS(t)
	fake.pubDER = nil
	k, _ := NewKMS(KMSConfig{KeyID: "k"}, fake)
	if _, err := k.FetchPublicKey(context.Background()); !errors.Is(err, ErrRemotePublicKeyMissing) {
		t.Fatalf("expected ErrRemotePublicKeyMissing, got %v", err)
	}
}

func TestKMSRemoteError(t *testing.T) {
	fake := newFakeKMS(t)
	fake.err = errors.New("AccessDeniedException")
	k, _ := NewKMS(KMSConfig{KeyID: "k"}, fake)
	if _, err := k.Sign(context.Background(), []byte("m")); !errors.Is(err, fake.err) {
		t.Fatalf("expected wrapped remote error, got %v", err)
	}
}

func TestKMSRequiresKeyID(t *testing.T) {
	if _, err := NewKMS(KMSConfig{KeyID: "  "}, nil); !errors.Is(err, ErrKMSKeyIDRequired) {
		t.Fatalf("expected ErrKMSKeyIDRequired, got %v", err)
	}
}

func TestParsePublicKeyEnvelope(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	good := append(append([]byte(nil), ed25519SPKIPrefix...), pub...)

	got, err := ParsePublicKeyEnvelope(good)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !got.Equal(pub) {
		t.Fatal("expected the trailing 32 bytes")
	}
	good[len(good)-1] ^= 0xff
	if got[len(got)-1] == good[len(good)-1] {
		t.Fatal("parsed key must not alias the input")
	}

	badPrefix := append([]byte(nil), good...)
	badPrefix[8] = 0x71 // X448 OID
	cases := map[string][]byte{
		"empty":     nil,
		"raw key":   []byte(pub),
		"truncated": good[:40],
		"wrong oid": badPrefix,
		"trailing":  append(append([]byte(nil), good...), 0x00),
	}
	for name, der := range cases {
		if _, err := ParsePublicKeyEnvelope(der); !errors.Is(err, ErrMalformedPublicKeyFormat) {
			t.Fatalf("%s: expected ErrMalformedPublicKeyFormat, got %v", name, err)
		}
	}
}

func TestKMSTimeoutBoundsSign(t *testing.T) {
	fake := newFakeKMS(t)
	k, err := NewKMS(KMSConfig{KeyID: "alias/treasury", Timeout: 2 * time.Second}, fake)
	if err != nil {
		t.Fatalf("new kms failed: %v", err)
	}
	before := time.Now()
	if _, err := k.Sign(context.Background(), []byte("m")); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !fake.bounded {
		t.Fatal("sign call carried no deadline")
	}
	if d := fake.deadline.Sub(before); d <= 0 || d > 2*time.Second+time.Second {
		t.Fatalf("deadline %s after start does not match the timeout", d)
	}

	unbounded := newFakeKMS(t)
	k, _ = NewKMS(KMSConfig{KeyID: "alias/treasury"}, unbounded)
	if _, err := k.Sign(context.Background(), []byte("m")); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if unbounded.bounded {
		t.Fatal("zero timeout must leave the caller's context alone")
	}
}
