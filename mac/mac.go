// Package mac implements the keyed message authentication codes that protect
// packet integrity, bound to a per-packet sequence number.
package mac

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"maps"
	"slices"
)

type algorithm struct {
	newHash func() hash.Hash
	keySize int
	size    int // tag size; the -96 variants truncate the hash output
}

var algorithms = map[string]algorithm{
	"hmac-sha1":     {sha1.New, 20, 20},
	"hmac-sha1-96":  {sha1.New, 20, 12},
	"hmac-sha2-256": {sha256.New, 32, 32},
	"hmac-md5":      {md5.New, 16, 16},
	"hmac-md5-96":   {md5.New, 16, 12},
}

// MAC computes packet authentication tags. Init, any number of Update calls
// and a final Sum produce the tag for one packet. A MAC instance must only
// ever serve one direction of one connection.
type MAC struct {
	h    hash.Hash
	size int
	seq  [4]byte
	sum  []byte
}

// New creates the named MAC keyed with key.
func New(name string, key []byte) (*MAC, error) {
	algo, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unknown MAC %q", name)
	}
	if len(key) != algo.keySize {
		return nil, fmt.Errorf("MAC %s: key is %d bytes, want %d", name, len(key), algo.keySize)
	}
	return &MAC{
		h:    hmac.New(algo.newHash, key),
		size: algo.size,
	}, nil
}

// KeySize returns the key size in bytes of the named MAC.
func KeySize(name string) (int, error) {
	algo, ok := algorithms[name]
	if !ok {
		return 0, fmt.Errorf("unknown MAC %q", name)
	}
	return algo.keySize, nil
}

// Algorithms returns the supported MAC names in sorted order.
func Algorithms() []string {
	return slices.Sorted(maps.Keys(algorithms))
}

// Size returns the tag size in bytes.
func (m *MAC) Size() int { return m.size }

// Init starts the tag computation for the packet with the given sequence
// number.
func (m *MAC) Init(seq uint32) {
	m.h.Reset()
	binary.BigEndian.PutUint32(m.seq[:], seq)
	m.h.Write(m.seq[:])
}

// Update feeds packet bytes into the tag computation.
func (m *MAC) Update(p []byte) {
	m.h.Write(p)
}

// Sum writes the tag into out, which must be at least Size bytes.
func (m *MAC) Sum(out []byte) {
	m.sum = m.h.Sum(m.sum[:0])
	copy(out, m.sum[:m.size])
}
