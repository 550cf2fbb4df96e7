package mcpquic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hazyhaar/censusgdb/pkg/kit"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/quic-go/quic-go"
)

// Handler serves MCP sessions on accepted QUIC connections. It owns no
// listener; the chassis demuxes connections by ALPN and hands them over.
type Handler struct {
	mcp    *server.MCPServer
	logger *slog.Logger
}

// NewHandler returns a handler dispatching to srv.
func NewHandler(srv *server.MCPServer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{mcp: srv, logger: logger}
}

// ServeConn runs one MCP session on the first stream of conn.
func (h *Handler) ServeConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		h.logger.Warn("mcp: accept stream failed", "remote", remote, "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		h.logger.Warn("mcp: bad preamble", "remote", remote, "error", err)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	if err := h.Serve(ctx, "quic_"+uuid.NewString()[:8], stream); err != nil {
		h.logger.Warn("mcp: session aborted", "remote", remote, "error", err)
		if errors.Is(err, ErrMessageTooLarge) {
			stream.CancelRead(StreamErrorMessageTooLarge)
		}
	}
	stream.Close()
}

// Serve exchanges newline-delimited JSON-RPC messages on rw until EOF or
// ctx is done.
func (h *Handler) Serve(ctx context.Context, id string, rw io.ReadWriter) error {
	sess := newSession(id, rw)
	if err := h.mcp.RegisterSession(ctx, sess); err != nil {
		return err
	}
	defer h.mcp.UnregisterSession(ctx, id)
	h.logger.Info("mcp: session started", "session", id)
	defer h.logger.Info("mcp: session ended", "session", id)

	ctx, cancel := context.WithCancel(kit.WithTransport(ctx, "mcp_quic"))
	defer cancel()
	ctx = h.mcp.WithContext(ctx, sess)
	go sess.pumpNotifications(ctx)

	sc := bufio.NewScanner(rw)
	sc.Buffer(make([]byte, 64*1024), MaxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := h.mcp.HandleMessage(ctx, json.RawMessage(line))
		if resp == nil {
			continue
		}
		if err := sess.write(resp); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return ErrMessageTooLarge
		}
		if ctx.Err() == nil {
			return err
		}
	}
	return nil
}

// session implements server.ClientSession for one stream.
type session struct {
	id            string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool
	w             io.Writer
	mu            sync.Mutex
}

func newSession(id string, w io.Writer) *session {
	return &session{id: id, notifications: make(chan mcp.JSONRPCNotification, 100), w: w}
}

func (s *session) SessionID() string                                   { return s.id }
func (s *session) NotificationChannel() chan<- mcp.JSONRPCNotification { return s.notifications }
func (s *session) Initialize()                                         { s.initialized.Store(true) }
func (s *session) Initialized() bool                                   { return s.initialized.Load() }

// write sends one message followed by a newline. Responses and
// notifications share the stream, so writes are serialized.
func (s *session) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(data, '\n'))
	return err
}

func (s *session) pumpNotifications(ctx context.Context) {
	for {
		select {
		case n := <-s.notifications:
			_ = s.write(n)
		case <-ctx.Done():
			return
		}
	}
}
