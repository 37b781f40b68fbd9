package ports

import "context"

// EncryptionMeta carries whatever a Crypto implementation needs to invert an
// encryption later (key reference, algorithm, nonce). Opaque to callers.
type EncryptionMeta map[string]string

// Crypto is the cryptographic capability port.
type Crypto interface {
	// Hash returns the 256-bit digest of data.
	Hash(data []byte) [32]byte

	// Encrypt encrypts plain at the given protection level and returns the
	// ciphertext plus the metadata needed to decrypt it.
	Encrypt(ctx context.Context, plain []byte, level string) ([]byte, EncryptionMeta, error)

	// Decrypt inverts Encrypt using the metadata it produced.
	Decrypt(ctx context.Context, cipher []byte, meta EncryptionMeta) ([]byte, error)

	// Sign signs payload on behalf of identity.
	Sign(payload []byte, identity string) ([]byte, error)

	// Verify checks a signature attributed to identity.
	Verify(payload, signature []byte, identity string) (bool, error)
}
