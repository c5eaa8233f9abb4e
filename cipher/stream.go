package cipher

import (
	"bufio"
	"io"
)

// Writer encrypts everything written to it with the current transform and
// buffers output until Flush. The writes between two packet boundaries must
// add up to a whole number of blocks; WritePlain and ChangeCipher must only be
// called at such a boundary.
type Writer struct {
	w   *bufio.Writer
	bc  BlockCipher
	in  []byte // plaintext block being filled
	n   int
	out []byte // one transformed block
}

// NewWriter creates a Writer over w using the given transform.
func NewWriter(w io.Writer, bc BlockCipher) *Writer {
	cw := &Writer{w: bufio.NewWriter(w)}
	cw.ChangeCipher(bc)
	return cw
}

// ChangeCipher installs a new transform for all subsequent writes.
func (cw *Writer) ChangeCipher(bc BlockCipher) {
	cw.bc = bc
	cw.in = make([]byte, bc.BlockSize())
	cw.out = make([]byte, bc.BlockSize())
	cw.n = 0
}

// Write encrypts p into the output buffer, block by block.
func (cw *Writer) Write(p []byte) error {
	for len(p) > 0 {
		n := copy(cw.in[cw.n:], p)
		cw.n += n
		p = p[n:]
		if cw.n == len(cw.in) {
			cw.bc.Transform(cw.out, cw.in)
			if _, err := cw.w.Write(cw.out); err != nil {
				return err
			}
			cw.n = 0
		}
	}
	return nil
}

// WritePlain writes p without encryption. MAC tags are never encrypted.
func (cw *Writer) WritePlain(p []byte) error {
	_, err := cw.w.Write(p)
	return err
}

// Flush writes all buffered output to the underlying writer.
func (cw *Writer) Flush() error {
	return cw.w.Flush()
}

// Reader decrypts bytes read from the underlying reader with the current
// transform. ReadPlain and ChangeCipher must only be called at a packet
// boundary, when no partially consumed block remains.
type Reader struct {
	r     io.Reader
	bc    BlockCipher
	block []byte // decrypted block backing rem
	rem   []byte // decrypted bytes not yet consumed
	enc   []byte // ciphertext block scratch
}

// NewReader creates a Reader over r using the given transform.
func NewReader(r io.Reader, bc BlockCipher) *Reader {
	cr := &Reader{r: r}
	cr.ChangeCipher(bc)
	return cr
}

// ChangeCipher installs a new transform for all subsequent reads.
func (cr *Reader) ChangeCipher(bc BlockCipher) {
	cr.bc = bc
	cr.block = make([]byte, bc.BlockSize())
	cr.enc = make([]byte, bc.BlockSize())
	cr.rem = nil
}

// Read fills p entirely with decrypted bytes, blocking until the underlying
// reader has delivered enough ciphertext.
func (cr *Reader) Read(p []byte) error {
	n := copy(p, cr.rem)
	cr.rem = cr.rem[n:]
	p = p[n:]

	bs := cr.bc.BlockSize()
	for len(p) >= bs {
		if _, err := io.ReadFull(cr.r, cr.enc); err != nil {
			return err
		}
		cr.bc.Transform(p[:bs], cr.enc)
		p = p[bs:]
	}

	if len(p) > 0 {
		if _, err := io.ReadFull(cr.r, cr.enc); err != nil {
			return err
		}
		cr.bc.Transform(cr.block, cr.enc)
		n := copy(p, cr.block)
		cr.rem = cr.block[n:]
	}
	return nil
}

// ReadPlain fills p without decryption. MAC tags are never encrypted.
func (cr *Reader) ReadPlain(p []byte) error {
	_, err := io.ReadFull(cr.r, p)
	return err
}
