// Package transport implements the binary packet protocol: it frames, pads,
// optionally compresses, encrypts and authenticates messages on top of a raw
// byte stream, and reverses the process on receive.
package transport

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand/v2"

	"github.com/RadekJ1992/ganymed-ssh-2/cipher"
	"github.com/RadekJ1992/ganymed-ssh-2/compression"
	"github.com/RadekJ1992/ganymed-ssh-2/mac"
	"github.com/RadekJ1992/ganymed-ssh-2/tslog"
)

const (
	// MaxPacketSize bounds the total_length field of an incoming packet.
	MaxPacketSize = 35000

	// packetHeaderSize is the 4-byte length field plus the padding length
	// byte.
	packetHeaderSize = 5

	// minTotalLength is the smallest legal value of a packet's total_length
	// field: a 16-byte packet minus the 4 length bytes.
	minTotalLength = 12

	// minPacketSize is the floor on a packet's full on-wire size, including
	// the length field.
	minPacketSize = 16

	// minPadding and maxPadding clamp the requested minimum padding.
	minPadding = 4
	maxPadding = 64

	// paddingBufferSize exceeds any supported cipher block size plus the
	// maximum padding request, so the padding of one packet always fits.
	paddingBufferSize = 256
)

// Conn is the packet engine for one connection. The send and receive
// directions keep disjoint state, so one writer goroutine and one reader
// goroutine may drive the same Conn concurrently without locking. Multiple
// concurrent senders, or multiple concurrent receivers, must be serialized by
// the caller, as must reconfiguration against in-flight packets.
type Conn struct {
	logger *tslog.Logger

	cw *cipher.Writer
	cr *cipher.Reader

	sendSeq uint32
	recvSeq uint32

	// useRandomPadding flips to true when the first non-identity send cipher
	// is installed and never reverts: encrypted traffic must not carry
	// recognizable zero padding.
	useRandomPadding bool

	sendMAC       *mac.MAC
	sendMACBuf    []byte
	sendBlockSize int

	recvMAC       *mac.MAC
	recvMACBuf    []byte
	recvMACBufCmp []byte
	recvBlockSize int

	sendComp    compression.Compressor
	sendCompBuf []byte
	recvComp    compression.Compressor

	// compressionActive is deferred relative to compressor installation and,
	// once set, never reverts.
	compressionActive bool

	sendPadding [paddingBufferSize]byte
	sendHeader  [packetHeaderSize]byte
	recvPadding [paddingBufferSize]byte
	recvHeader  [packetHeaderSize]byte

	recvHeaderStaged bool

	rng *mrand.ChaCha8
}

// New creates a packet engine over the given byte stream, starting with the
// identity cipher, no MAC and no compression in both directions.
func New(r io.Reader, w io.Writer, logger *tslog.Logger) *Conn {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(err)
	}
	return &Conn{
		logger:        logger,
		cw:            cipher.NewWriter(w, cipher.Null()),
		cr:            cipher.NewReader(r, cipher.Null()),
		sendBlockSize: 8,
		recvBlockSize: 8,
		rng:           mrand.NewChaCha8(seed),
	}
}

// ChangeSendCipher installs a new outgoing transform and MAC. It must only be
// called between packets, never while a send is in flight.
func (c *Conn) ChangeSendCipher(bc cipher.BlockCipher, m *mac.MAC) {
	if !cipher.IsNull(bc) {
		// Zero padding is only acceptable while traffic is still in the
		// clear. Once we start encrypting, there is no way back.
		c.useRandomPadding = true
	}

	c.cw.ChangeCipher(bc)
	c.sendMAC = m
	if m != nil {
		c.sendMACBuf = make([]byte, m.Size())
	} else {
		c.sendMACBuf = nil
	}
	c.sendBlockSize = max(bc.BlockSize(), 8)
}

// ChangeRecvCipher installs a new incoming transform and MAC. It must only be
// called between packets, never while a receive is in flight.
func (c *Conn) ChangeRecvCipher(bc cipher.BlockCipher, m *mac.MAC) {
	c.cr.ChangeCipher(bc)
	c.recvMAC = m
	if m != nil {
		c.recvMACBuf = make([]byte, m.Size())
		c.recvMACBufCmp = make([]byte, m.Size())
	} else {
		c.recvMACBuf = nil
		c.recvMACBufCmp = nil
	}
	c.recvBlockSize = max(bc.BlockSize(), 8)
}

// ChangeSendCompression installs comp for the outgoing direction. Installation
// alone does not compress anything; see StartCompression.
func (c *Conn) ChangeSendCompression(comp compression.Compressor) {
	c.sendComp = comp
	if comp != nil {
		c.sendCompBuf = make([]byte, comp.BufferSize())
	} else {
		c.sendCompBuf = nil
	}
}

// ChangeRecvCompression installs comp for the incoming direction. Installation
// alone does not decompress anything; see StartCompression.
func (c *Conn) ChangeRecvCompression(comp compression.Compressor) {
	c.recvComp = comp
}

// StartCompression activates the installed compressors. Activation is
// decoupled from installation because the surrounding protocol only allows
// compressed packets from a specific point in the exchange onward. It never
// deactivates.
func (c *Conn) StartCompression() {
	c.compressionActive = true
}

// PacketOverheadEstimate returns the worst case number of bytes that framing,
// padding and the MAC add to an outgoing payload, for callers sizing message
// chunks ahead of time.
func (c *Conn) PacketOverheadEstimate() int {
	return packetHeaderSize + 4 + (c.sendBlockSize - 1) + len(c.sendMACBuf)
}

// SendMessage frames, pads, encrypts and authenticates msg as exactly one
// packet and flushes it to the underlying stream. The send sequence number
// advances only after the packet has been fully written.
func (c *Conn) SendMessage(msg []byte) error {
	return c.sendMessage(msg, 0)
}

// SendMessagePadded is SendMessage with a minimum padding request, clamped to
// [4, 64]. Extra padding hides the true length of sensitive messages.
func (c *Conn) SendMessagePadded(msg []byte, minPad int) error {
	return c.sendMessage(msg, minPad)
}

func (c *Conn) sendMessage(msg []byte, padd int) error {
	if padd < minPadding {
		padd = minPadding
	} else if padd > maxPadding {
		padd = maxPadding
	}

	orig := msg
	if c.sendComp != nil && c.compressionActive {
		n, err := c.sendComp.Compress(c.sendCompBuf, msg)
		if err != nil {
			return err
		}
		msg = c.sendCompBuf[:n]
	}

	packetLen := packetHeaderSize + len(msg) + padd

	if slack := packetLen % c.sendBlockSize; slack != 0 {
		packetLen += c.sendBlockSize - slack
	}
	if packetLen < minPacketSize {
		packetLen = minPacketSize
	}

	paddLen := packetLen - (packetHeaderSize + len(msg))

	padding := c.sendPadding[:paddLen]
	if c.useRandomPadding {
		c.rng.Read(padding)
	} else {
		// Zero padding, only legal before the first real cipher.
		clear(padding)
	}

	binary.BigEndian.PutUint32(c.sendHeader[:4], uint32(packetLen-4))
	c.sendHeader[4] = byte(paddLen)

	if err := c.cw.Write(c.sendHeader[:]); err != nil {
		return err
	}
	if err := c.cw.Write(msg); err != nil {
		return err
	}
	if err := c.cw.Write(padding); err != nil {
		return err
	}

	if c.sendMAC != nil {
		c.sendMAC.Init(c.sendSeq)
		c.sendMAC.Update(c.sendHeader[:])
		c.sendMAC.Update(msg)
		c.sendMAC.Update(padding)
		c.sendMAC.Sum(c.sendMACBuf)
		if err := c.cw.WritePlain(c.sendMACBuf); err != nil {
			return err
		}
	}

	if err := c.cw.Flush(); err != nil {
		return err
	}

	if c.logger.Enabled(slog.LevelDebug) {
		c.logger.Debug("Sent message",
			slog.String("type", payloadTypeName(orig)),
			tslog.Int("payloadLen", len(orig)),
			tslog.Uint("seq", c.sendSeq),
		)
	}

	c.sendSeq++
	return nil
}

// PeekNextMessageLength reads the next packet's header, validates it and
// returns the payload length without consuming the packet or advancing the
// receive sequence number. The header is staged and reused by the following
// ReceiveMessage, so the wire is only read once.
func (c *Conn) PeekNextMessageLength() (int, error) {
	if !c.recvHeaderStaged {
		if err := c.cr.Read(c.recvHeader[:]); err != nil {
			return 0, err
		}
		c.recvHeaderStaged = true
	}
	payloadLen, _, err := c.parseRecvHeader()
	return payloadLen, err
}

func (c *Conn) parseRecvHeader() (payloadLen, paddingLen int, err error) {
	packetLen := int(binary.BigEndian.Uint32(c.recvHeader[:4]))
	paddingLen = int(c.recvHeader[4])

	if packetLen > MaxPacketSize || packetLen < minTotalLength {
		return 0, 0, &Error{ErrIllegalPacketSize, fmt.Sprintf("total_length field is %d, want [%d, %d]", packetLen, minTotalLength, MaxPacketSize)}
	}

	payloadLen = packetLen - paddingLen - 1
	if payloadLen < 0 {
		return 0, 0, &Error{ErrIllegalPadding, fmt.Sprintf("padding length %d exceeds total_length %d", paddingLen, packetLen)}
	}
	return payloadLen, paddingLen, nil
}

// ReceiveMessage consumes exactly one packet and returns its payload. The
// payload is read into buf unless the receive direction decompresses, in
// which case the returned slice aliases a buffer owned by the decompressor.
// Callers must always use the returned slice and never assume buf was filled.
//
// A payload that exactly fills buf is accepted; only a larger one fails with
// ErrBufferTooSmall.
func (c *Conn) ReceiveMessage(buf []byte) ([]byte, error) {
	if !c.recvHeaderStaged {
		if err := c.cr.Read(c.recvHeader[:]); err != nil {
			return nil, err
		}
	} else {
		c.recvHeaderStaged = false
	}

	payloadLen, paddingLen, err := c.parseRecvHeader()
	if err != nil {
		return nil, err
	}

	if payloadLen > len(buf) {
		return nil, &Error{ErrBufferTooSmall, fmt.Sprintf("receive buffer holds %d bytes, need %d", len(buf), payloadLen)}
	}

	payload := buf[:payloadLen]
	if err := c.cr.Read(payload); err != nil {
		return nil, err
	}
	padding := c.recvPadding[:paddingLen]
	if err := c.cr.Read(padding); err != nil {
		return nil, err
	}

	if c.recvMAC != nil {
		if err := c.cr.ReadPlain(c.recvMACBuf); err != nil {
			return nil, err
		}

		c.recvMAC.Init(c.recvSeq)
		c.recvMAC.Update(c.recvHeader[:])
		c.recvMAC.Update(payload)
		c.recvMAC.Update(padding)
		c.recvMAC.Sum(c.recvMACBufCmp)

		if subtle.ConstantTimeCompare(c.recvMACBuf, c.recvMACBufCmp) != 1 {
			return nil, &Error{ErrCorruptMAC, "remote sent corrupt MAC"}
		}
	}

	c.recvSeq++

	if c.logger.Enabled(slog.LevelDebug) {
		c.logger.Debug("Received message",
			slog.String("type", payloadTypeName(payload)),
			tslog.Int("payloadLen", payloadLen),
			tslog.Uint("seq", c.recvSeq-1),
		)
	}

	if c.recvComp != nil && c.compressionActive {
		return c.recvComp.Uncompress(payload)
	}
	return payload, nil
}
