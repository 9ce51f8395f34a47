package seed

import "crypto/ed25519"

// KeyMaterial is an Ed25519 keypair derived from a seed. It must not outlive
// the Derive callback that produced it.
type KeyMaterial struct {
	PublicKey ed25519.PublicKey
	private   ed25519.PrivateKey
}

// DeriveKeyMaterial expands a 32-byte seed into a keypair. The caller owns
// the result and must Wipe it.
func DeriveKeyMaterial(s []byte) (*KeyMaterial, error) {
	if len(s) != Size {
		return nil, ErrInvalidSeedSize
	}
	priv := ed25519.NewKeyFromSeed(s)
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[ed25519.SeedSize:])
	return &KeyMaterial{PublicKey: pub, private: priv}, nil
}

// Sign fails with ErrKeyMaterialWiped once Wipe has run.
func (k *KeyMaterial) Sign(msg []byte) ([]byte, error) {
	if len(k.private) != ed25519.PrivateKeySize {
		return nil, ErrKeyMaterialWiped
	}
	return ed25519.Sign(k.private, msg), nil
}

// Wipe zeroes the private key. The public key stays readable.
func (k *KeyMaterial) Wipe() {
	clear(k.private)
	k.private = nil
}

// Derive converts phrase to a seed, derives key material and hands it to fn.
// The seed and the private key are zeroed before Derive returns, on every
// path including a panic inside fn.
func Derive(codec Codec, phrase []byte, fn func(*KeyMaterial) error) error {
	s, err := codec.ToSeed(phrase)
	defer clear(s)
	if err != nil {
		return err
	}
	km, err := DeriveKeyMaterial(s)
	if err != nil {
		return err
	}
	defer km.Wipe()
	return fn(km)
}

// PublicKey derives only the public half of phrase's keypair.
func PublicKey(codec Codec, phrase []byte) (ed25519.PublicKey, error) {
	var pub ed25519.PublicKey
	err := Derive(codec, phrase, func(km *KeyMaterial) error {
		pub = append(ed25519.PublicKey(nil), km.PublicKey...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}
