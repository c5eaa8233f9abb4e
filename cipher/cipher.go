// Package cipher provides the symmetric block transforms and the encrypting
// byte streams used by the transport packet protocol.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/des"
	"fmt"
	"maps"
	"slices"

	"github.com/tjfoc/gmsm/sm4"
	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
)

// BlockCipher transforms exactly one block per call. Implementations carry
// chained state (CBC vector, CTR counter) across calls, so a given instance
// must only ever serve one direction of one stream.
type BlockCipher interface {
	// BlockSize returns the cipher's block size in bytes.
	BlockSize() int

	// Transform encrypts or decrypts exactly one block from src into dst.
	// dst and src must each be BlockSize bytes long.
	Transform(dst, src []byte)
}

type nullCipher struct{}

// Null returns the identity transform used before key exchange completes.
func Null() BlockCipher { return nullCipher{} }

func (nullCipher) BlockSize() int { return 8 }

func (nullCipher) Transform(dst, src []byte) { copy(dst, src) }

// IsNull reports whether bc is the identity transform.
func IsNull(bc BlockCipher) bool {
	_, ok := bc.(nullCipher)
	return ok
}

type cbcCipher struct {
	mode stdcipher.BlockMode
}

func (c cbcCipher) BlockSize() int { return c.mode.BlockSize() }

func (c cbcCipher) Transform(dst, src []byte) { c.mode.CryptBlocks(dst, src) }

type ctrCipher struct {
	stream    stdcipher.Stream
	blockSize int
}

func (c ctrCipher) BlockSize() int { return c.blockSize }

func (c ctrCipher) Transform(dst, src []byte) { c.stream.XORKeyStream(dst, src) }

type algorithm struct {
	keySize   int
	blockSize int
	ctr       bool
	newBlock  func(key []byte) (stdcipher.Block, error)
}

var algorithms = map[string]algorithm{
	"aes128-ctr":   {16, aes.BlockSize, true, aes.NewCipher},
	"aes192-ctr":   {24, aes.BlockSize, true, aes.NewCipher},
	"aes256-ctr":   {32, aes.BlockSize, true, aes.NewCipher},
	"aes128-cbc":   {16, aes.BlockSize, false, aes.NewCipher},
	"aes192-cbc":   {24, aes.BlockSize, false, aes.NewCipher},
	"aes256-cbc":   {32, aes.BlockSize, false, aes.NewCipher},
	"3des-cbc":     {24, des.BlockSize, false, des.NewTripleDESCipher},
	"blowfish-cbc": {16, blowfish.BlockSize, false, newBlowfish},
	"cast128-cbc":  {16, cast5.BlockSize, false, newCAST5},
	"sm4-cbc":      {16, sm4.BlockSize, false, newSM4},
	"sm4-ctr":      {16, sm4.BlockSize, true, newSM4},
}

func newBlowfish(key []byte) (stdcipher.Block, error) { return blowfish.NewCipher(key) }

func newCAST5(key []byte) (stdcipher.Block, error) { return cast5.NewCipher(key) }

func newSM4(key []byte) (stdcipher.Block, error) { return sm4.NewCipher(key) }

// New creates the named transform keyed with key and iv. encrypt selects
// between the encrypting and decrypting direction for modes where the two
// differ.
func New(name string, key, iv []byte, encrypt bool) (BlockCipher, error) {
	algo, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unknown cipher %q", name)
	}
	if len(key) != algo.keySize {
		return nil, fmt.Errorf("cipher %s: key is %d bytes, want %d", name, len(key), algo.keySize)
	}
	if len(iv) != algo.blockSize {
		return nil, fmt.Errorf("cipher %s: IV is %d bytes, want %d", name, len(iv), algo.blockSize)
	}

	block, err := algo.newBlock(key)
	if err != nil {
		return nil, fmt.Errorf("cipher %s: %w", name, err)
	}

	if algo.ctr {
		return ctrCipher{stdcipher.NewCTR(block, iv), algo.blockSize}, nil
	}
	if encrypt {
		return cbcCipher{stdcipher.NewCBCEncrypter(block, iv)}, nil
	}
	return cbcCipher{stdcipher.NewCBCDecrypter(block, iv)}, nil
}

// KeySize returns the key size in bytes of the named cipher.
func KeySize(name string) (int, error) {
	algo, ok := algorithms[name]
	if !ok {
		return 0, fmt.Errorf("unknown cipher %q", name)
	}
	return algo.keySize, nil
}

// BlockSize returns the block size in bytes of the named cipher.
func BlockSize(name string) (int, error) {
	algo, ok := algorithms[name]
	if !ok {
		return 0, fmt.Errorf("unknown cipher %q", name)
	}
	return algo.blockSize, nil
}

// Algorithms returns the supported cipher names in sorted order.
func Algorithms() []string {
	return slices.Sorted(maps.Keys(algorithms))
}
