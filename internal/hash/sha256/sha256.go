// Package sha256 computes content digests for streamed documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest is an io.Writer that accumulates a SHA-256 sum of everything written
// to it. Tee a download through it to hash the body without buffering.
type Digest struct {
	h hash.Hash
	n int64
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// Write adds p to the running sum. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Hex returns the hex digest of the bytes written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size reports how many bytes were written.
func (d *Digest) Size() int64 {
	return d.n
}

// Sum hashes data in one shot.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
