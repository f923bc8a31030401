// Package crypto provides cryptographic utilities for lumen-sync.
// Files are encrypted with a chunked XChaCha20-Poly1305 secret stream;
// file keys are wrapped under collection keys with NaCl secretbox.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of file and collection keys in bytes.
	KeySize = chacha20poly1305.KeySize

	// StreamHeaderSize is the size of the secret-stream header prefixed to
	// each encrypted file. The first 16 bytes seed per-chunk nonces.
	StreamHeaderSize = chacha20poly1305.NonceSizeX

	// StreamChunkSize is the plaintext chunk size of the secret stream.
	StreamChunkSize = 4 * 1024 * 1024
)

// Stream chunk tags, carried as additional data so a truncated stream
// cannot pass authentication.
const (
	tagMessage byte = 0
	tagFinal   byte = 1
)

var (
	// ErrInvalidKeySize indicates a key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("key must be 32 bytes (256 bits)")

	// ErrInvalidStream indicates the encrypted stream is malformed or
	// truncated.
	ErrInvalidStream = errors.New("invalid or truncated encrypted stream")

	// ErrDecryptionFailed indicates authentication failed during decryption.
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")
)

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncryptFile encrypts srcPath into dstPath as a secret stream.
// If key is nil a fresh key is generated. Returns the key used and the
// stream header that must accompany the ciphertext for decryption.
func EncryptFile(srcPath, dstPath string, key []byte) ([]byte, []byte, error) {
	if key == nil {
		k, err := GenerateKey()
		if err != nil {
			return nil, nil, err
		}
		key = k
	}
	if len(key) != KeySize {
		return nil, nil, ErrInvalidKeySize
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create encrypted file: %w", err)
	}
	defer dst.Close()

	header, err := encryptStream(src, dst, key)
	if err != nil {
		return nil, nil, err
	}
	if err := dst.Sync(); err != nil {
		return nil, nil, fmt.Errorf("failed to sync encrypted file: %w", err)
	}
	return key, header, nil
}

// DecryptFile decrypts a secret stream produced by EncryptFile.
func DecryptFile(srcPath, dstPath string, key, header []byte) error {
	if len(key) != KeySize {
		return ErrInvalidKeySize
	}
	if len(header) != StreamHeaderSize {
		return ErrInvalidStream
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open encrypted file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer dst.Close()

	return decryptStream(src, dst, key, header)
}

// encryptStream writes header-seeded chunks to w and returns the header.
func encryptStream(r io.Reader, w io.Writer, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	header := make([]byte, StreamHeaderSize)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return nil, fmt.Errorf("failed to generate stream header: %w", err)
	}

	buf := make([]byte, StreamChunkSize)
	var counter uint64
	for {
		n, readErr := io.ReadFull(r, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return nil, fmt.Errorf("failed to read chunk: %w", readErr)
		}

		final := readErr != nil // short read or EOF means last chunk
		tag := tagMessage
		if final {
			tag = tagFinal
		}

		nonce := chunkNonce(header, counter)
		sealed := aead.Seal(nil, nonce, buf[:n], []byte{tag})
		if _, err := w.Write(sealed); err != nil {
			return nil, fmt.Errorf("failed to write chunk: %w", err)
		}
		counter++

		if final {
			return header, nil
		}
	}
}

// decryptStream reads chunks sealed by encryptStream.
func decryptStream(r io.Reader, w io.Writer, key, header []byte) error {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	sealedSize := StreamChunkSize + aead.Overhead()
	buf := make([]byte, sealedSize)
	var counter uint64
	for {
		n, readErr := io.ReadFull(r, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			if readErr == io.EOF && counter > 0 {
				// Stream ended without a final-tagged chunk.
				return ErrInvalidStream
			}
			return ErrInvalidStream
		}

		final := readErr == io.ErrUnexpectedEOF
		tag := tagMessage
		if final {
			tag = tagFinal
		}

		nonce := chunkNonce(header, counter)
		plain, err := aead.Open(nil, nonce, buf[:n], []byte{tag})
		if err != nil {
			return ErrDecryptionFailed
		}
		if _, err := w.Write(plain); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		counter++

		if final {
			return nil
		}
	}
}

// chunkNonce derives the per-chunk nonce from the stream header and a
// monotonically increasing chunk counter.
func chunkNonce(header []byte, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, header[:16])
	binary.LittleEndian.PutUint64(nonce[16:], counter)
	return nonce
}
