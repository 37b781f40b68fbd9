// Package sandbox provides in-memory implementations of every capability
// port. They are deterministic, safe for concurrent use, and back both the
// test suite and standalone demo runs.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/qinfinity/qcored/internal/ports"
)

// Crypto is a deterministic crypto double. Hashing is real SHA-256;
// encryption is a keystream derived from the key reference, so the same
// input always yields the same ciphertext. Signatures bind identity and
// payload digest but carry no real key material.
type Crypto struct{}

// NewCrypto returns a sandbox crypto port.
func NewCrypto() *Crypto {
	return &Crypto{}
}

// Hash returns the SHA-256 digest of data.
func (c *Crypto) Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Encrypt XORs plain with a keystream derived from the level.
func (c *Crypto) Encrypt(_ context.Context, plain []byte, level string) ([]byte, ports.EncryptionMeta, error) {
	keyRef := "sandbox-key-" + level
	cipher := applyKeystream(plain, keyRef)
	meta := ports.EncryptionMeta{
		"algorithm": "sandbox-xor",
		"level":     level,
		"key_ref":   keyRef,
	}
	return cipher, meta, nil
}

// Decrypt inverts Encrypt using the key reference from meta.
func (c *Crypto) Decrypt(_ context.Context, cipher []byte, meta ports.EncryptionMeta) ([]byte, error) {
	keyRef, ok := meta["key_ref"]
	if !ok {
		return nil, fmt.Errorf("sandbox crypto: missing key_ref in metadata")
	}
	return applyKeystream(cipher, keyRef), nil
}

// Sign produces a deterministic signature binding identity and payload.
func (c *Crypto) Sign(payload []byte, identity string) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig := sha256.Sum256(append([]byte(identity+":"), digest[:]...))
	return []byte("sbx1:" + identity + ":" + hex.EncodeToString(sig[:])), nil
}

// Verify checks a signature produced by Sign.
func (c *Crypto) Verify(payload, signature []byte, identity string) (bool, error) {
	expected, err := c.Sign(payload, identity)
	if err != nil {
		return false, err
	}
	return string(signature) == string(expected), nil
}

// applyKeystream XORs data with a SHA-256 based keystream. Involutive, so it
// serves both directions.
func applyKeystream(data []byte, keyRef string) []byte {
	out := make([]byte, len(data))
	var block [32]byte
	counter := 0
	for i := 0; i < len(data); i++ {
		if i%32 == 0 {
			block = sha256.Sum256([]byte(fmt.Sprintf("%s:%d", keyRef, counter)))
			counter++
		}
		out[i] = data[i] ^ block[i%32]
	}
	return out
}

var _ ports.Crypto = (*Crypto)(nil)
