// Package mcpquic carries MCP JSON-RPC over a single bidirectional QUIC
// stream. The client opens the stream, writes MagicBytes, then exchanges
// newline-delimited JSON messages.
package mcpquic

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPN is negotiated by clients of the censusgdb tool server.
	ALPN           = "censusgdb-mcp-v1"
	MagicBytes     = "MCP1"
	MaxMessageSize = 10 * 1024 * 1024

	DefaultIdleTimeout = 5 * time.Minute
	DefaultKeepAlive   = 30 * time.Second
)

// Stream error codes.
const (
	StreamErrorNoError           quic.StreamErrorCode = 0x00
	StreamErrorProtocolConfusion quic.StreamErrorCode = 0x02
	StreamErrorMessageTooLarge   quic.StreamErrorCode = 0x03
)

// Connection error codes.
const (
	ConnErrorNoError           quic.ApplicationErrorCode = 0x00
	ConnErrorUnsupportedALPN   quic.ApplicationErrorCode = 0x01
	ConnErrorProtocolViolation quic.ApplicationErrorCode = 0x03
	ConnErrorDisabled          quic.ApplicationErrorCode = 0x10
)

var (
	ErrInvalidMagicBytes = errors.New("invalid magic bytes")
	ErrMessageTooLarge   = errors.New("message exceeds size limit")
)

// QUICConfig returns the transport settings shared by HTTP/3 and MCP.
func QUICConfig() *quic.Config {
	return &quic.Config{
		MaxStreamReceiveWindow:     10 * 1024 * 1024,
		MaxConnectionReceiveWindow: 50 * 1024 * 1024,
		MaxIdleTimeout:             DefaultIdleTimeout,
		KeepAlivePeriod:            DefaultKeepAlive,
	}
}

// ClientTLSConfig returns a TLS 1.3 config negotiating ALPN.
func ClientTLSConfig(insecure bool) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: insecure,
	}
}

// ValidateMagicBytes reads the stream preamble from r.
func ValidateMagicBytes(r io.Reader) error {
	magic := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("read magic bytes: %w", err)
	}
	if !bytes.Equal(magic, []byte(MagicBytes)) {
		return fmt.Errorf("%w: got %q", ErrInvalidMagicBytes, magic)
	}
	return nil
}

// SendMagicBytes writes the stream preamble to w. Clients call it right
// after opening the stream.
func SendMagicBytes(w io.Writer) error {
	if _, err := io.WriteString(w, MagicBytes); err != nil {
		return fmt.Errorf("write magic bytes: %w", err)
	}
	return nil
}
