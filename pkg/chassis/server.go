// Package chassis serves one handler over two listeners on the same port:
// TLS over TCP for HTTP/1.1 and HTTP/2, and QUIC over UDP demultiplexed by
// ALPN into HTTP/3 ("h3") and MCP sessions (mcpquic.ALPN). Responses
// advertise HTTP/3 with Alt-Svc.
package chassis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/hazyhaar/censusgdb/pkg/mcpquic"
	"github.com/mark3labs/mcp-go/server"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Config configures a Server.
type Config struct {
	Addr string
	// TLS overrides CertFile/KeyFile. Both empty means a self-signed cert.
	TLS      *tls.Config
	CertFile string
	KeyFile  string
	Handler  http.Handler
	// MCP enables MCP over QUIC; nil refuses MCP connections.
	MCP    *server.MCPServer
	Logger *slog.Logger
}

// Server is a dual transport server.
type Server struct {
	addr    string
	logger  *slog.Logger
	tlsCfg  *tls.Config
	handler http.Handler
	mcp     *mcpquic.Handler

	mu   sync.Mutex
	tcp  *http.Server
	h3   *http3.Server
	quic *quic.Listener
}

// New validates cfg and prepares the TLS configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("chassis: nil handler")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	tlsCfg := cfg.TLS
	if tlsCfg == nil {
		var err error
		if tlsCfg, err = TLSConfig(cfg.CertFile, cfg.KeyFile); err != nil {
			return nil, err
		}
		if cfg.CertFile == "" {
			cfg.Logger.Warn("chassis: using a self-signed certificate")
		}
	}
	s := &Server{
		addr:    cfg.Addr,
		logger:  cfg.Logger,
		tlsCfg:  tlsCfg,
		handler: securityHeaders(altSvc(cfg.Addr, cfg.Handler)),
	}
	if cfg.MCP != nil {
		s.mcp = mcpquic.NewHandler(cfg.MCP, cfg.Logger)
	}
	return s, nil
}

// securityHeaders sets headers suited to a JSON API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Strict-Transport-Security", "max-age=31536000")
		next.ServeHTTP(w, r)
	})
}

// altSvc advertises HTTP/3 on the port of addr.
func altSvc(addr string, next http.Handler) http.Handler {
	_, port, _ := net.SplitHostPort(addr)
	if port == "" {
		port = "443"
	}
	value := fmt.Sprintf(`h3=":%s"; ma=86400`, port)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", value)
		next.ServeHTTP(w, r)
	})
}

// Start listens on TCP and UDP and blocks until ctx is done or a listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	tcpTLS := s.tlsCfg.Clone()
	tcpTLS.NextProtos = []string{"h2", "http/1.1"}

	ln, err := quic.ListenAddr(s.addr, s.tlsCfg, mcpquic.QUICConfig())
	if err != nil {
		return fmt.Errorf("quic listen: %w", err)
	}
	tcpLn, err := tls.Listen("tcp", s.addr, tcpTLS)
	if err != nil {
		ln.Close()
		return fmt.Errorf("tcp listen: %w", err)
	}

	s.mu.Lock()
	s.quic = ln
	s.h3 = &http3.Server{Handler: s.handler}
	s.tcp = &http.Server{Handler: s.handler, TLSConfig: tcpTLS}
	tcp, h3 := s.tcp, s.h3
	s.mu.Unlock()

	s.logger.Info("chassis started", "addr", s.addr, "tcp", "h2,http/1.1", "udp", "h3,"+mcpquic.ALPN, "mcp", s.mcp != nil)

	errc := make(chan error, 2)
	go func() {
		if err := tcp.Serve(tcpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("tcp: %w", err)
		}
	}()
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errc <- fmt.Errorf("quic accept: %w", err)
				}
				return
			}
			s.dispatch(ctx, conn, h3)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func (s *Server) dispatch(ctx context.Context, conn *quic.Conn, h3 *http3.Server) {
	switch alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn {
	case "h3":
		go func() {
			if err := h3.ServeQUICConn(conn); err != nil {
				s.logger.Debug("http3 connection closed", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	case mcpquic.ALPN:
		if s.mcp == nil {
			conn.CloseWithError(mcpquic.ConnErrorDisabled, "mcp not enabled")
			return
		}
		go s.mcp.ServeConn(ctx, conn)
	default:
		s.logger.Warn("unsupported alpn", "alpn", alpn, "remote", conn.RemoteAddr())
		conn.CloseWithError(mcpquic.ConnErrorUnsupportedALPN, "unsupported alpn: "+alpn)
	}
}

// Stop shuts the TCP server down gracefully and closes the QUIC side.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.tcp != nil {
		errs = append(errs, s.tcp.Shutdown(ctx))
	}
	if s.quic != nil {
		errs = append(errs, s.quic.Close())
	}
	if s.h3 != nil {
		errs = append(errs, s.h3.Close())
	}
	s.logger.Info("chassis stopped")
	return errors.Join(errs...)
}
