// Package compression provides the per-direction payload compressors used by
// the transport packet protocol.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/klauspost/compress/zlib"
)

// Compressor compresses outgoing payloads and expands incoming ones. A
// Compressor is stateful and must only ever serve one direction of one
// connection.
type Compressor interface {
	// BufferSize returns the scratch buffer size callers must hand to
	// Compress so the worst case compressed payload fits.
	BufferSize() int

	// Compress writes the compressed form of src into dst and returns the
	// compressed length.
	Compress(dst, src []byte) (int, error)

	// Uncompress expands src. A decompressed payload is not bounded by the
	// input size, so the result is written to a buffer owned by the
	// Compressor, valid until the next Uncompress call.
	Uncompress(src []byte) ([]byte, error)
}

// compressBufferSize leaves room for zlib's worst case expansion of a payload
// up to the maximum packet size.
const compressBufferSize = 36864

// New creates the named compressor. "none" (or the empty string) yields a nil
// Compressor, meaning no compression.
func New(name string) (Compressor, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "zlib":
		return &zlibCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// Algorithms returns the supported compression names.
func Algorithms() []string {
	return []string{"none", "zlib"}
}

// zlibCompressor compresses each payload as an independent zlib stream.
//
// zlibCompressor implements the Compressor interface.
type zlibCompressor struct {
	wbuf bytes.Buffer
	zw   *zlib.Writer
	zr   io.ReadCloser
	out  []byte
}

// BufferSize implements the Compressor BufferSize method.
func (c *zlibCompressor) BufferSize() int { return compressBufferSize }

// Compress implements the Compressor Compress method.
func (c *zlibCompressor) Compress(dst, src []byte) (int, error) {
	c.wbuf.Reset()
	if c.zw == nil {
		c.zw = zlib.NewWriter(&c.wbuf)
	} else {
		c.zw.Reset(&c.wbuf)
	}

	if _, err := c.zw.Write(src); err != nil {
		return 0, err
	}
	if err := c.zw.Close(); err != nil {
		return 0, err
	}

	if c.wbuf.Len() > len(dst) {
		return 0, fmt.Errorf("compressed payload is %d bytes, scratch buffer holds %d", c.wbuf.Len(), len(dst))
	}
	return copy(dst, c.wbuf.Bytes()), nil
}

// Uncompress implements the Compressor Uncompress method.
func (c *zlibCompressor) Uncompress(src []byte) ([]byte, error) {
	r := bytes.NewReader(src)
	if c.zr == nil {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, err
		}
		c.zr = zr
	} else if err := c.zr.(zlib.Resetter).Reset(r, nil); err != nil {
		return nil, err
	}

	out := c.out[:0]
	for {
		if len(out) == cap(out) {
			out = slices.Grow(out, 4096)
		}
		n, err := c.zr.Read(out[len(out):cap(out)])
		out = out[:len(out)+n]
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	c.out = out
	return out, nil
}
