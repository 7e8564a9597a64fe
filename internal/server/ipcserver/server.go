// Package ipcserver carries the process channel between the leader and its
// workers over a Unix domain socket.
package ipcserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// Server accepts worker links on a unix socket.
type Server struct {
	path    string
	peerCfg rpc.PeerConfig
	logger  *slog.Logger

	listener net.Listener
	running  atomic.Bool
	seq      atomic.Uint64

	mu    sync.Mutex
	peers map[*rpc.Peer]struct{}
	wg    sync.WaitGroup
}

// New creates a server on socketPath. peerCfg is the template for every
// accepted link; its Name is set per connection.
func New(socketPath string, peerCfg rpc.PeerConfig) *Server {
	logger := peerCfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		path:    socketPath,
		peerCfg: peerCfg,
		logger:  logger,
		peers:   make(map[*rpc.Peer]struct{}),
	}
}

// Listen binds the socket, replacing a stale socket file left by a previous
// run. The socket is readable by the owner only.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("ipcserver: create socket dir: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ipcserver: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("ipcserver: listen: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("ipcserver: chmod socket: %w", err)
	}
	s.listener = ln
	s.running.Store(true)
	return nil
}

// Serve accepts links until Shutdown. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ipcserver: accept: %w", err)
		}

		cfg := s.peerCfg
		cfg.Name = "link-" + strconv.FormatUint(s.seq.Add(1), 10)
		peer := rpc.NewPeer(conn, cfg)

		s.mu.Lock()
		s.peers[peer] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.peers, peer)
				s.mu.Unlock()
			}()
			if err := peer.Serve(ctx); err != nil {
				s.logger.Warn("worker link failed",
					"peer", peer.Name(),
					"error", err)
			}
		}()
	}
}

// ListenAndServe binds the socket and serves links.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Links returns the number of open links.
func (s *Server) Links() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Shutdown stops accepting and waits for open links to end. When ctx ends
// first, the remaining links are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		s.mu.Lock()
		for peer := range s.peers {
			peer.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// Dial opens a worker's link to the leader socket. The caller runs Serve
// on the returned peer.
func Dial(ctx context.Context, socketPath string, cfg rpc.PeerConfig) (*rpc.Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipcserver: dial %s: %w", socketPath, err)
	}
	if cfg.Name == "" {
		cfg.Name = "leader"
	}
	return rpc.NewPeer(conn, cfg), nil
}
