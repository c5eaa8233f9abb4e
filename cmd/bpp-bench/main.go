// bpp-bench drives the packet engine over an in-memory pipe and reports
// throughput, exercising the configured cipher, MAC and compression suites
// end to end.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/RadekJ1992/ganymed-ssh-2/cipher"
	"github.com/RadekJ1992/ganymed-ssh-2/compression"
	"github.com/RadekJ1992/ganymed-ssh-2/jsoncfg"
	"github.com/RadekJ1992/ganymed-ssh-2/mac"
	"github.com/RadekJ1992/ganymed-ssh-2/transport"
	"github.com/RadekJ1992/ganymed-ssh-2/tslog"
)

// Config selects the suites and traffic shape of a benchmark run.
type Config struct {
	// Cipher is the block cipher name, or "none" for the identity transform.
	Cipher string `json:"cipher"`

	// MAC is the MAC name, or "none" for unauthenticated packets.
	MAC string `json:"mac"`

	// Compression is the compression name, or "none".
	Compression string `json:"compression"`

	// MessageSize is the payload size of each message in bytes.
	MessageSize int `json:"messageSize"`

	// MessageCount is the number of messages to send.
	MessageCount int `json:"messageCount"`

	// MinPadding is the minimum padding request per packet.
	MinPadding int `json:"minPadding"`
}

var (
	confPath string
	logLevel slog.Level
	noColor  bool
)

func init() {
	flag.StringVar(&confPath, "confPath", "", "Path to JSON configuration file (optional, defaults are used when omitted)")
	flag.TextVar(&logLevel, "logLevel", slog.LevelInfo, "Log level: debug, info, warn, error")
	flag.BoolVar(&noColor, "noColor", false, "Disable colors in log output")
}

func main() {
	flag.Parse()

	logCfg := tslog.Config{
		Level:   logLevel,
		NoColor: noColor,
	}
	logger := logCfg.NewLogger(os.Stderr)

	cfg := Config{
		Cipher:       "aes256-ctr",
		MAC:          "hmac-sha2-256",
		Compression:  "none",
		MessageSize:  4096,
		MessageCount: 10000,
	}
	if confPath != "" {
		if err := jsoncfg.Open(confPath, &cfg); err != nil {
			logger.Error("Failed to load config",
				slog.String("confPath", confPath),
				tslog.Err(err),
			)
			os.Exit(1)
		}
	}

	if err := run(&cfg, logger); err != nil {
		logger.Error("Benchmark failed", tslog.Err(err))
		os.Exit(1)
	}
}

func run(cfg *Config, logger *tslog.Logger) error {
	if cfg.MessageSize < 1 || cfg.MessageSize > transport.MaxPacketSize-1024 {
		return fmt.Errorf("message size out of range [1, %d]: %d", transport.MaxPacketSize-1024, cfg.MessageSize)
	}
	if cfg.MessageCount < 1 {
		return fmt.Errorf("message count must be positive: %d", cfg.MessageCount)
	}

	pr, pw := io.Pipe()
	sender := transport.New(io.MultiReader(), pw, logger)
	receiver := transport.New(pr, io.Discard, logger)

	sendCipher, recvCipher, err := newCipherPair(cfg.Cipher)
	if err != nil {
		return err
	}
	sendMAC, recvMAC, err := newMACPair(cfg.MAC)
	if err != nil {
		return err
	}
	if sendCipher != nil || sendMAC != nil {
		if sendCipher == nil {
			sendCipher = cipher.Null()
			recvCipher = cipher.Null()
		}
		sender.ChangeSendCipher(sendCipher, sendMAC)
		receiver.ChangeRecvCipher(recvCipher, recvMAC)
	}

	if cfg.Compression != "" && cfg.Compression != "none" {
		sendComp, err := compression.New(cfg.Compression)
		if err != nil {
			return err
		}
		recvComp, err := compression.New(cfg.Compression)
		if err != nil {
			return err
		}
		sender.ChangeSendCompression(sendComp)
		receiver.ChangeRecvCompression(recvComp)
		sender.StartCompression()
		receiver.StartCompression()
	}

	msg := make([]byte, cfg.MessageSize)
	if _, err := rand.Read(msg); err != nil {
		return err
	}
	msg[0] = transport.MsgChannelData

	logger.Info("Starting benchmark",
		slog.String("cipher", cfg.Cipher),
		slog.String("mac", cfg.MAC),
		slog.String("compression", cfg.Compression),
		tslog.Int("messageSize", cfg.MessageSize),
		tslog.Int("messageCount", cfg.MessageCount),
		tslog.Int("packetOverheadEstimate", sender.PacketOverheadEstimate()),
	)

	start := time.Now()

	go func() {
		for range cfg.MessageCount {
			if err := sender.SendMessagePadded(msg, cfg.MinPadding); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	buf := make([]byte, transport.MaxPacketSize)
	for i := range cfg.MessageCount {
		payload, err := receiver.ReceiveMessage(buf)
		if err != nil {
			return fmt.Errorf("receive %d: %w", i, err)
		}
		if len(payload) != cfg.MessageSize {
			return fmt.Errorf("receive %d: payload is %d bytes, want %d", i, len(payload), cfg.MessageSize)
		}
	}

	elapsed := time.Since(start)
	totalBytes := int64(cfg.MessageSize) * int64(cfg.MessageCount)

	logger.Info("Benchmark complete",
		slog.Duration("elapsed", elapsed),
		tslog.Int("payloadBytes", totalBytes),
		slog.Float64("throughputMBps", float64(totalBytes)/elapsed.Seconds()/1e6),
	)
	return nil
}

func newCipherPair(name string) (send, recv cipher.BlockCipher, err error) {
	if name == "" || name == "none" {
		return nil, nil, nil
	}

	keySize, err := cipher.KeySize(name)
	if err != nil {
		return nil, nil, err
	}
	blockSize, err := cipher.BlockSize(name)
	if err != nil {
		return nil, nil, err
	}

	key := make([]byte, keySize)
	iv := make([]byte, blockSize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, err
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}

	send, err = cipher.New(name, key, iv, true)
	if err != nil {
		return nil, nil, err
	}
	recv, err = cipher.New(name, key, iv, false)
	if err != nil {
		return nil, nil, err
	}
	return send, recv, nil
}

func newMACPair(name string) (send, recv *mac.MAC, err error) {
	if name == "" || name == "none" {
		return nil, nil, nil
	}

	keySize, err := mac.KeySize(name)
	if err != nil {
		return nil, nil, err
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, err
	}

	send, err = mac.New(name, key)
	if err != nil {
		return nil, nil, err
	}
	recv, err = mac.New(name, key)
	if err != nil {
		return nil, nil, err
	}
	return send, recv, nil
}
