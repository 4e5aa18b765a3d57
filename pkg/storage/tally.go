package storage

import (
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"
)

// Tally counts and hashes the bytes written through it.
type Tally struct {
	hasher hash.Hash
	size   int64
}

func NewTally() *Tally {
	return &Tally{hasher: blake3.New()}
}

func (t *Tally) Write(p []byte) (int, error) {
	t.hasher.Write(p)
	t.size += int64(len(p))
	return len(p), nil
}

func (t *Tally) Size() int64 {
	return t.size
}

// Digest returns the hash in "blake3:<hex>" form.
func (t *Tally) Digest() string {
	return "blake3:" + hex.EncodeToString(t.hasher.Sum(nil))
}

func (t *Tally) result(location string) *Result {
	return &Result{Location: location, Size: t.size, Digest: t.Digest()}
}
