package wsserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server is the worker's HTTP server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	tlsConfig  *tls.Config
}

// New creates a server for handler on addr.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// UseTLS makes Listen serve TLS with cfg. Call it before Listen.
func (s *Server) UseTLS(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// Listen binds the address. With reusePort several workers bind the same
// address and the kernel spreads connections between them.
func (s *Server) Listen(ctx context.Context, reusePort bool) error {
	lc := net.ListenConfig{}
	if reusePort {
		lc.Control = reusePortControl
	}
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen %s: %w", s.httpServer.Addr, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles connections until Shutdown. Listen must have succeeded.
func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting and waits for plain requests to finish.
// Hijacked websockets are not tracked by net/http; the caller closes them
// through the session registry.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
