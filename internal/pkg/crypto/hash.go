package crypto

import (
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// HashReader wraps an io.Reader and computes the content hash while
// reading, so extraction needs only a single pass over the file.
type HashReader struct {
	reader   io.Reader
	blake    hash.Hash
	size     int64
	finished bool
}

// NewHashReader creates a HashReader computing BLAKE2b-512.
func NewHashReader(r io.Reader) *HashReader {
	h, _ := blake2b.New512(nil)
	return &HashReader{reader: r, blake: h}
}

// Read implements io.Reader and updates the hash computation.
func (h *HashReader) Read(p []byte) (n int, err error) {
	n, err = h.reader.Read(p)
	if n > 0 {
		h.blake.Write(p[:n])
		h.size += int64(n)
	}
	if err == io.EOF {
		h.finished = true
	}
	return n, err
}

// Sum returns the base64-encoded BLAKE2b-512 hash.
// Should only be called after reading is complete.
func (h *HashReader) Sum() string {
	return base64.StdEncoding.EncodeToString(h.blake.Sum(nil))
}

// Size returns the total number of bytes read.
func (h *HashReader) Size() int64 {
	return h.size
}

// IsFinished returns true if EOF was reached.
func (h *HashReader) IsFinished() bool {
	return h.finished
}

// HashBytes computes the base64-encoded BLAKE2b-512 hash of a byte slice.
func HashBytes(data []byte) string {
	sum := blake2b.Sum512(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashFile computes the content hash of a file on disk.
// Returns the hash and the file size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h, _ := blake2b.New512(nil)
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), size, nil
}
