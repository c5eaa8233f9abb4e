package transport

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/RadekJ1992/ganymed-ssh-2/cipher"
	"github.com/RadekJ1992/ganymed-ssh-2/compression"
	"github.com/RadekJ1992/ganymed-ssh-2/mac"
	"github.com/RadekJ1992/ganymed-ssh-2/tslog"
	"github.com/RadekJ1992/ganymed-ssh-2/tslogtest"
)

func testLogger(t *testing.T) *tslog.Logger {
	t.Helper()
	return tslogtest.Config{Level: slog.LevelDebug}.NewTestLogger(t)
}

type suite struct {
	cipher string
	mac    string
	comp   string
}

func (s suite) name() string {
	name := s.cipher
	if name == "" {
		name = "null"
	}
	if s.mac != "" {
		name += "+" + s.mac
	}
	if s.comp != "" {
		name += "+" + s.comp
	}
	return name
}

func (s suite) macSize(t *testing.T) int {
	t.Helper()
	if s.mac == "" {
		return 0
	}
	m := newTestMAC(t, s.mac)
	return m.Size()
}

func (s suite) blockSize(t *testing.T) int {
	t.Helper()
	if s.cipher == "" {
		return 8
	}
	bs, err := cipher.BlockSize(s.cipher)
	if err != nil {
		t.Fatalf("cipher.BlockSize failed: %v", err)
	}
	return max(bs, 8)
}

func newTestMAC(t *testing.T, name string) *mac.MAC {
	t.Helper()
	keySize, err := mac.KeySize(name)
	if err != nil {
		t.Fatalf("mac.KeySize failed: %v", err)
	}
	key := make([]byte, keySize)
	rand.Read(key)
	m, err := mac.New(name, key)
	if err != nil {
		t.Fatalf("mac.New failed: %v", err)
	}
	return m
}

// newConnPair builds a sender and a receiver joined by wire and installs the
// suite on the sending direction of tx and the receiving direction of rx.
func newConnPair(t *testing.T, s suite) (tx, rx *Conn, wire *bytes.Buffer) {
	t.Helper()

	wire = &bytes.Buffer{}
	tx = New(io.MultiReader(), wire, testLogger(t))
	rx = New(wire, io.Discard, testLogger(t))

	var txMAC, rxMAC *mac.MAC
	if s.mac != "" {
		keySize, err := mac.KeySize(s.mac)
		if err != nil {
			t.Fatalf("mac.KeySize failed: %v", err)
		}
		key := make([]byte, keySize)
		rand.Read(key)
		if txMAC, err = mac.New(s.mac, key); err != nil {
			t.Fatalf("mac.New failed: %v", err)
		}
		if rxMAC, err = mac.New(s.mac, key); err != nil {
			t.Fatalf("mac.New failed: %v", err)
		}
	}

	if s.cipher != "" {
		keySize, err := cipher.KeySize(s.cipher)
		if err != nil {
			t.Fatalf("cipher.KeySize failed: %v", err)
		}
		blockSize, err := cipher.BlockSize(s.cipher)
		if err != nil {
			t.Fatalf("cipher.BlockSize failed: %v", err)
		}
		key := make([]byte, keySize)
		iv := make([]byte, blockSize)
		rand.Read(key)
		rand.Read(iv)
		enc, err := cipher.New(s.cipher, key, iv, true)
		if err != nil {
			t.Fatalf("cipher.New failed: %v", err)
		}
		dec, err := cipher.New(s.cipher, key, iv, false)
		if err != nil {
			t.Fatalf("cipher.New failed: %v", err)
		}
		tx.ChangeSendCipher(enc, txMAC)
		rx.ChangeRecvCipher(dec, rxMAC)
	} else if s.mac != "" {
		tx.ChangeSendCipher(cipher.Null(), txMAC)
		rx.ChangeRecvCipher(cipher.Null(), rxMAC)
	}

	if s.comp != "" {
		txComp, err := compression.New(s.comp)
		if err != nil {
			t.Fatalf("compression.New failed: %v", err)
		}
		rxComp, err := compression.New(s.comp)
		if err != nil {
			t.Fatalf("compression.New failed: %v", err)
		}
		tx.ChangeSendCompression(txComp)
		rx.ChangeRecvCompression(rxComp)
		tx.StartCompression()
		rx.StartCompression()
	}

	return tx, rx, wire
}

func testMessage(length int) []byte {
	msg := make([]byte, length)
	if length > 0 {
		msg[0] = MsgChannelData
		rand.Read(msg[1:])
	}
	return msg
}

func TestRoundtrip(t *testing.T) {
	suites := []suite{
		{},
		{mac: "hmac-sha1"},
		{cipher: "aes128-ctr", mac: "hmac-sha1"},
		{cipher: "aes256-ctr", mac: "hmac-sha2-256"},
		{cipher: "aes192-cbc", mac: "hmac-sha1-96"},
		{cipher: "3des-cbc", mac: "hmac-md5"},
		{cipher: "blowfish-cbc", mac: "hmac-sha1"},
		{cipher: "cast128-cbc", mac: "hmac-md5-96"},
		{cipher: "sm4-ctr", mac: "hmac-sha2-256"},
		{cipher: "sm4-cbc", mac: "hmac-sha1"},
		{comp: "zlib"},
		{cipher: "aes256-ctr", mac: "hmac-sha2-256", comp: "zlib"},
	}

	for _, s := range suites {
		t.Run(s.name(), func(t *testing.T) {
			for _, length := range []int{0, 1, 16, 255, 4096, 32000} {
				t.Run(strconv.Itoa(length), func(t *testing.T) {
					tx, rx, wire := newConnPair(t, s)
					msg := testMessage(length)

					if err := tx.SendMessage(msg); err != nil {
						t.Fatalf("SendMessage failed: %v", err)
					}

					wireLen := wire.Len()
					macSize := s.macSize(t)
					blockSize := s.blockSize(t)
					packetSize := wireLen - macSize
					if packetSize < 16 {
						t.Errorf("on-wire packet size = %d, want >= 16", packetSize)
					}
					if packetSize%blockSize != 0 {
						t.Errorf("on-wire packet size = %d, want a multiple of %d", packetSize, blockSize)
					}

					buf := make([]byte, MaxPacketSize)
					payload, err := rx.ReceiveMessage(buf)
					if err != nil {
						t.Fatalf("ReceiveMessage failed: %v", err)
					}
					if !bytes.Equal(payload, msg) {
						t.Errorf("payload = %v, want %v", payload, msg)
					}
					if wire.Len() != 0 {
						t.Errorf("wire has %d unconsumed bytes after receive", wire.Len())
					}
				})
			}
		})
	}
}

func TestSequenceNumbers(t *testing.T) {
	tx, rx, _ := newConnPair(t, suite{cipher: "aes128-ctr", mac: "hmac-sha1"})
	msg := testMessage(100)
	buf := make([]byte, MaxPacketSize)

	const n = 5
	for i := range n {
		if err := tx.SendMessage(msg); err != nil {
			t.Fatalf("SendMessage %d failed: %v", i, err)
		}
		if _, err := rx.ReceiveMessage(buf); err != nil {
			t.Fatalf("ReceiveMessage %d failed: %v", i, err)
		}
	}

	if tx.sendSeq != n {
		t.Errorf("sendSeq = %d, want %d", tx.sendSeq, n)
	}
	if rx.recvSeq != n {
		t.Errorf("recvSeq = %d, want %d", rx.recvSeq, n)
	}
}

// parseCleartextPacket splits one unencrypted packet into its payload and
// padding bytes.
func parseCleartextPacket(t *testing.T, wire []byte) (payload, padding []byte) {
	t.Helper()
	if len(wire) < 5 {
		t.Fatalf("packet is %d bytes, want at least 5", len(wire))
	}
	totalLen := int(wire[0])<<24 | int(wire[1])<<16 | int(wire[2])<<8 | int(wire[3])
	paddLen := int(wire[4])
	payloadLen := totalLen - paddLen - 1
	if 5+payloadLen+paddLen > len(wire) {
		t.Fatalf("header claims %d payload + %d padding bytes, wire has %d", payloadLen, paddLen, len(wire)-5)
	}
	return wire[5 : 5+payloadLen], wire[5+payloadLen : 5+payloadLen+paddLen]
}

func TestPaddingPolicy(t *testing.T) {
	tx, _, wire := newConnPair(t, suite{})
	msg := testMessage(32)

	// Before any real cipher, padding must be all zero on the wire.
	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	_, padding := parseCleartextPacket(t, wire.Bytes())
	for i, b := range padding {
		if b != 0 {
			t.Errorf("cleartext padding byte %d = %#x, want 0", i, b)
		}
	}
	wire.Reset()

	// Installing the identity cipher must not flip the padding policy.
	tx.ChangeSendCipher(cipher.Null(), nil)
	if tx.useRandomPadding {
		t.Error("useRandomPadding = true after installing the identity cipher")
	}

	// Installing a real cipher flips it permanently, even if the identity
	// cipher is installed again afterwards.
	key := make([]byte, 16)
	iv := make([]byte, 16)
	rand.Read(key)
	rand.Read(iv)
	enc, err := cipher.New("aes128-ctr", key, iv, true)
	if err != nil {
		t.Fatalf("cipher.New failed: %v", err)
	}
	tx.ChangeSendCipher(enc, nil)
	if !tx.useRandomPadding {
		t.Error("useRandomPadding = false after installing a real cipher")
	}
	tx.ChangeSendCipher(cipher.Null(), nil)
	if !tx.useRandomPadding {
		t.Error("useRandomPadding reverted to false")
	}

	// With the identity cipher back in place the padding is visible on the
	// wire again and must now be random: 16 padding bytes of zero would be a
	// 2^-128 event.
	if err := tx.SendMessagePadded(msg, 16); err != nil {
		t.Fatalf("SendMessagePadded failed: %v", err)
	}
	_, padding = parseCleartextPacket(t, wire.Bytes())
	if len(padding) < 16 {
		t.Fatalf("padding is %d bytes, want >= 16", len(padding))
	}
	allZero := true
	for _, b := range padding {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("random padding is all zero")
	}
}

func TestMACBitFlip(t *testing.T) {
	// CTR mode keeps byte positions independent, so a flipped wire byte
	// garbles exactly the corresponding plaintext byte.
	s := suite{cipher: "aes128-ctr", mac: "hmac-sha1"}
	msg := testMessage(64)

	// Offsets within payload, padding and MAC tag. The 5 header bytes are
	// left alone so the failure is always attributed to the MAC.
	tamper := []int{5, 40, 68}

	for _, off := range tamper {
		t.Run(strconv.Itoa(off), func(t *testing.T) {
			tx, rx, wire := newConnPair(t, s)
			if err := tx.SendMessage(msg); err != nil {
				t.Fatalf("SendMessage failed: %v", err)
			}

			tampered := wire.Bytes()
			tampered[off] ^= 0x01

			buf := make([]byte, MaxPacketSize)
			_, err := rx.ReceiveMessage(buf)
			if !errors.Is(err, ErrCorruptMAC) {
				t.Fatalf("ReceiveMessage got %v, want %v", err, ErrCorruptMAC)
			}
		})
	}
}

func TestMACSequenceBinding(t *testing.T) {
	tx, rx, wire := newConnPair(t, suite{cipher: "aes128-ctr", mac: "hmac-sha1"})
	msg := testMessage(64)

	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// Replay the same wire bytes a second time: the receiver's sequence
	// number has moved on, so the MAC must no longer verify.
	packet := bytes.Clone(wire.Bytes())
	wire.Write(packet)

	buf := make([]byte, MaxPacketSize)
	if _, err := rx.ReceiveMessage(buf); err != nil {
		t.Fatalf("first ReceiveMessage failed: %v", err)
	}
	_, err := rx.ReceiveMessage(buf)
	if !errors.Is(err, ErrCorruptMAC) {
		t.Fatalf("replayed ReceiveMessage got %v, want %v", err, ErrCorruptMAC)
	}
}

func TestPeekThenReceive(t *testing.T) {
	tx, rx, wire := newConnPair(t, suite{})
	msg := testMessage(100)

	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	wireLen := wire.Len()

	n, err := rx.PeekNextMessageLength()
	if err != nil {
		t.Fatalf("PeekNextMessageLength failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("peeked length = %d, want %d", n, len(msg))
	}
	if got := wire.Len(); got != wireLen-5 {
		t.Errorf("wire has %d bytes after peek, want %d (header read exactly once)", got, wireLen-5)
	}

	// A second peek reuses the staged header without touching the wire.
	n2, err := rx.PeekNextMessageLength()
	if err != nil {
		t.Fatalf("second PeekNextMessageLength failed: %v", err)
	}
	if n2 != n {
		t.Errorf("second peek = %d, want %d", n2, n)
	}
	if got := wire.Len(); got != wireLen-5 {
		t.Errorf("wire has %d bytes after second peek, want %d", got, wireLen-5)
	}

	buf := make([]byte, MaxPacketSize)
	payload, err := rx.ReceiveMessage(buf)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if len(payload) != n {
		t.Errorf("received %d bytes, want the peeked %d", len(payload), n)
	}
	if !bytes.Equal(payload, msg) {
		t.Error("received payload differs from sent message")
	}
	if wire.Len() != 0 {
		t.Errorf("wire has %d unconsumed bytes", wire.Len())
	}
	if rx.recvSeq != 1 {
		t.Errorf("recvSeq = %d, want 1", rx.recvSeq)
	}
}

// writeRawPacket appends a hand-crafted packet to wire.
func writeRawPacket(wire *bytes.Buffer, totalLen uint32, paddLen byte, rest []byte) {
	var header [5]byte
	header[0] = byte(totalLen >> 24)
	header[1] = byte(totalLen >> 16)
	header[2] = byte(totalLen >> 8)
	header[3] = byte(totalLen)
	header[4] = paddLen
	wire.Write(header[:])
	wire.Write(rest)
}

func TestMinimalPacket(t *testing.T) {
	wire := &bytes.Buffer{}
	rx := New(wire, io.Discard, testLogger(t))

	// total_length 12 with 11 padding bytes leaves a zero-length payload,
	// the smallest legal packet.
	writeRawPacket(wire, 12, 11, make([]byte, 11))

	buf := make([]byte, MaxPacketSize)
	payload, err := rx.ReceiveMessage(buf)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("payload is %d bytes, want 0", len(payload))
	}
	if rx.recvSeq != 1 {
		t.Errorf("recvSeq = %d, want 1", rx.recvSeq)
	}
}

func TestIllegalPacketSize(t *testing.T) {
	for _, totalLen := range []uint32{0, 11, MaxPacketSize + 1, 5000000} {
		t.Run(strconv.Itoa(int(totalLen)), func(t *testing.T) {
			wire := &bytes.Buffer{}
			rx := New(wire, io.Discard, testLogger(t))

			// Just enough bytes to complete the first cipher block: the
			// length check must reject the packet from the header alone
			// instead of trying to read the claimed payload.
			writeRawPacket(wire, totalLen, 4, make([]byte, 3))

			buf := make([]byte, MaxPacketSize)
			_, err := rx.ReceiveMessage(buf)
			if !errors.Is(err, ErrIllegalPacketSize) {
				t.Fatalf("ReceiveMessage got %v, want %v", err, ErrIllegalPacketSize)
			}
			if rx.recvSeq != 0 {
				t.Errorf("recvSeq = %d, want 0", rx.recvSeq)
			}
		})
	}
}

func TestIllegalPadding(t *testing.T) {
	wire := &bytes.Buffer{}
	rx := New(wire, io.Discard, testLogger(t))

	// padding_length 12 on total_length 12 computes a payload length of -1.
	writeRawPacket(wire, 12, 12, make([]byte, 11))

	buf := make([]byte, MaxPacketSize)
	_, err := rx.ReceiveMessage(buf)
	if !errors.Is(err, ErrIllegalPadding) {
		t.Fatalf("ReceiveMessage got %v, want %v", err, ErrIllegalPadding)
	}
}

func TestBufferTooSmall(t *testing.T) {
	tx, rx, _ := newConnPair(t, suite{})
	msg := testMessage(100)
	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	_, err := rx.ReceiveMessage(make([]byte, 99))
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("ReceiveMessage got %v, want %v", err, ErrBufferTooSmall)
	}
}

func TestBufferExactFit(t *testing.T) {
	// A payload that exactly fills the caller's buffer is accepted.
	tx, rx, _ := newConnPair(t, suite{})
	msg := testMessage(100)
	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	payload, err := rx.ReceiveMessage(make([]byte, 100))
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if !bytes.Equal(payload, msg) {
		t.Error("received payload differs from sent message")
	}
}

func TestPacketOverheadEstimate(t *testing.T) {
	suites := []suite{
		{},
		{cipher: "aes256-ctr", mac: "hmac-sha2-256"},
		{cipher: "3des-cbc", mac: "hmac-md5-96"},
	}

	for _, s := range suites {
		t.Run(s.name(), func(t *testing.T) {
			for _, length := range []int{0, 1, 7, 8, 100, 4096} {
				tx, rx, wire := newConnPair(t, s)
				msg := testMessage(length)

				if err := tx.SendMessage(msg); err != nil {
					t.Fatalf("SendMessage failed: %v", err)
				}

				overhead := wire.Len() - length
				if estimate := tx.PacketOverheadEstimate(); overhead > estimate {
					t.Errorf("length %d: overhead = %d, estimate = %d", length, overhead, estimate)
				}

				if _, err := rx.ReceiveMessage(make([]byte, MaxPacketSize)); err != nil {
					t.Fatalf("ReceiveMessage failed: %v", err)
				}
			}
		})
	}
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("stream torn down")
}

func TestSendFailureLeavesSequence(t *testing.T) {
	tx := New(io.MultiReader(), failWriter{}, testLogger(t))

	if err := tx.SendMessage(testMessage(100)); err == nil {
		t.Fatal("SendMessage succeeded on a failing stream")
	}
	if tx.sendSeq != 0 {
		t.Errorf("sendSeq = %d, want 0 after failed send", tx.sendSeq)
	}
}

func TestReceiveFailureLeavesSequence(t *testing.T) {
	wire := &bytes.Buffer{}
	rx := New(wire, io.Discard, testLogger(t))

	_, err := rx.ReceiveMessage(make([]byte, MaxPacketSize))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("ReceiveMessage got %v, want %v", err, io.EOF)
	}
	if rx.recvSeq != 0 {
		t.Errorf("recvSeq = %d, want 0 after failed receive", rx.recvSeq)
	}
	if rx.recvHeaderStaged {
		t.Error("recvHeaderStaged = true after failed header read")
	}
}

func TestCompressionDeferredActivation(t *testing.T) {
	wire := &bytes.Buffer{}
	tx := New(io.MultiReader(), wire, testLogger(t))
	rx := New(wire, io.Discard, testLogger(t))

	txComp, err := compression.New("zlib")
	if err != nil {
		t.Fatalf("compression.New failed: %v", err)
	}
	rxComp, err := compression.New("zlib")
	if err != nil {
		t.Fatalf("compression.New failed: %v", err)
	}
	tx.ChangeSendCompression(txComp)
	rx.ChangeRecvCompression(rxComp)

	// Highly compressible payload.
	msg := bytes.Repeat([]byte{MsgChannelData}, 2000)
	buf := make([]byte, MaxPacketSize)

	// Installed but not started: the payload must cross the wire verbatim.
	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	uncompressedWireLen := wire.Len()
	if uncompressedWireLen < len(msg) {
		t.Fatalf("wire packet is %d bytes for a %d byte payload, compression ran before activation", uncompressedWireLen, len(msg))
	}
	payload, err := rx.ReceiveMessage(buf)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if !bytes.Equal(payload, msg) {
		t.Error("received payload differs from sent message")
	}

	// After activation the packet must shrink and the payload must come back
	// from the decompressor's own buffer, not the caller's.
	tx.StartCompression()
	rx.StartCompression()

	if err := tx.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if wire.Len() >= uncompressedWireLen {
		t.Errorf("compressed packet is %d bytes, want fewer than %d", wire.Len(), uncompressedWireLen)
	}
	payload, err = rx.ReceiveMessage(buf)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if !bytes.Equal(payload, msg) {
		t.Error("received payload differs from sent message")
	}
	if &payload[0] == &buf[0] {
		t.Error("decompressed payload aliases the caller's buffer")
	}
}

func TestMessageName(t *testing.T) {
	if got := MessageName(MsgChannelData); got != "SSH_MSG_CHANNEL_DATA" {
		t.Errorf("MessageName(MsgChannelData) = %q", got)
	}
	if got := MessageName(255); got != "UNKNOWN MSG (255)" {
		t.Errorf("MessageName(255) = %q", got)
	}
}
