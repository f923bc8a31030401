package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptChunk encrypts a single in-memory blob (thumbnail bytes, metadata
// JSON) with XChaCha20-Poly1305. Returns the ciphertext and the random
// nonce header needed to decrypt it.
func EncryptChunk(data, key []byte) (ciphertext, header []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, ErrInvalidKeySize
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	header = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nil, header, data, nil), header, nil
}

// DecryptChunk reverses EncryptChunk.
func DecryptChunk(ciphertext, header, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(header) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalidStream
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plain, err := aead.Open(nil, header, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// WrapKey encrypts a file key under a collection key with secretbox.
// Returns the sealed key and the nonce used.
func WrapKey(fileKey, collectionKey []byte) (sealed, nonce []byte, err error) {
	if len(fileKey) != KeySize || len(collectionKey) != KeySize {
		return nil, nil, ErrInvalidKeySize
	}

	var n [24]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	var k [32]byte
	copy(k[:], collectionKey)
	sealed = secretbox.Seal(nil, fileKey, &n, &k)
	return sealed, n[:], nil
}

// UnwrapKey recovers a file key wrapped by WrapKey.
func UnwrapKey(sealed, nonce, collectionKey []byte) ([]byte, error) {
	if len(collectionKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(nonce) != 24 {
		return nil, ErrDecryptionFailed
	}

	var n [24]byte
	copy(n[:], nonce)
	var k [32]byte
	copy(k[:], collectionKey)

	fileKey, ok := secretbox.Open(nil, sealed, &n, &k)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return fileKey, nil
}
