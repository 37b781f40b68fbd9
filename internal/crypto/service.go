// Package crypto implements the Crypto capability port with real primitives:
// SHA-256 digests, AES-GCM payload encryption with per-level derived keys,
// and secp256k1 signatures with deterministic per-identity keys derived from
// the node's master seed.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/ripemd160"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/qinfinity/qcored/internal/ports"
)

// Service implements the Crypto port.
type Service struct {
	masterSeed [32]byte
}

// New creates a crypto service from a master seed string. All derived keys
// are deterministic functions of this seed.
func New(seed string) *Service {
	return &Service{masterSeed: sha256.Sum256([]byte("qcored-master:" + seed))}
}

// Hash returns the SHA-256 digest of data.
func (s *Service) Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// deriveKey derives a symmetric key for a protection level.
func (s *Service) deriveKey(level string) [32]byte {
	return sha256.Sum256(append(s.masterSeed[:], []byte("enc:"+level)...))
}

// Encrypt encrypts plain with AES-GCM under a level-derived key. The nonce
// is derived from the plaintext digest so encryption stays deterministic for
// replay comparison.
func (s *Service) Encrypt(_ context.Context, plain []byte, level string) ([]byte, ports.EncryptionMeta, error) {
	key := s.deriveKey(level)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt: %w", err)
	}

	digest := sha256.Sum256(plain)
	nonce := digest[:gcm.NonceSize()]
	out := gcm.Seal(nil, nonce, plain, nil)

	meta := ports.EncryptionMeta{
		"algorithm": "aes-256-gcm",
		"level":     level,
		"nonce":     hex.EncodeToString(nonce),
	}
	return out, meta, nil
}

// Decrypt inverts Encrypt using the metadata it produced.
func (s *Service) Decrypt(_ context.Context, ciphertext []byte, meta ports.EncryptionMeta) ([]byte, error) {
	level, ok := meta["level"]
	if !ok {
		return nil, fmt.Errorf("decrypt: missing level in metadata")
	}
	nonceHex, ok := meta["nonce"]
	if !ok {
		return nil, fmt.Errorf("decrypt: missing nonce in metadata")
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("decrypt: bad nonce: %w", err)
	}

	key := s.deriveKey(level)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}

// identityKey derives the secp256k1 private key for an identity.
func (s *Service) identityKey(identity string) *secp256k1.PrivateKey {
	seed := sha256.Sum256(append(s.masterSeed[:], []byte("id:"+identity)...))
	return secp256k1.PrivKeyFromBytes(seed[:])
}

// Sign signs payload on behalf of identity with its derived key.
func (s *Service) Sign(payload []byte, identity string) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig := secpecdsa.Sign(s.identityKey(identity), digest[:])
	return sig.Serialize(), nil
}

// Verify checks a signature attributed to identity.
func (s *Service) Verify(payload, signature []byte, identity string) (bool, error) {
	sig, err := secpecdsa.ParseDERSignature(signature)
	if err != nil {
		return false, nil
	}
	digest := sha256.Sum256(payload)
	return sig.Verify(digest[:], s.identityKey(identity).PubKey()), nil
}

// Descriptor returns a compact descriptor for an identity: the ripemd160 of
// the sha256 of its public key, the usual account-ID construction.
func (s *Service) Descriptor(identity string) (string, error) {
	pub := s.identityKey(identity).PubKey().SerializeCompressed()
	inner := sha256.Sum256(pub)
	h := ripemd160.New()
	if _, err := h.Write(inner[:]); err != nil {
		return "", err
	}
	return "squid:" + hex.EncodeToString(h.Sum(nil)), nil
}

var _ ports.Crypto = (*Service)(nil)
