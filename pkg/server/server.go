// Package server implements the client-facing RPC endpoint. Each request is
// one length-prefixed msgpack command frame; mutating commands are handed to
// the replication layer while reads are answered from local storage.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/metrics"
)

// Config controls the RPC listener.
type Config struct {
	// Addr is the bind address; empty means all interfaces.
	Addr string

	// Port is the TCP port to listen on.
	Port int

	// ReadTimeout and WriteTimeout bound a single frame read or write.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxConnections caps concurrently served clients; 0 means unlimited.
	MaxConnections int

	// RequestsPerSecond and Burst throttle the global request rate; a zero
	// rate disables throttling.
	RequestsPerSecond int
	Burst             int
}

// Applier is the replicated write path. Submit blocks until the command
// commits and applies, or fails with an admission or consensus error encoded
// in the response.
type Applier interface {
	Submit(ctx context.Context, cmd *command.Command) *command.Response
}

// Store is the local read path.
type Store interface {
	ReadFile(path string) ([]byte, error)
	ListDir(path string) ([]string, error)
	Stat(path string) (*command.StatInfo, error)
	Exists(path string) (bool, error)
}

// Server accepts client connections and serves the command protocol over
// them, one goroutine per connection.
type Server struct {
	cfg     Config
	applier Applier
	store   Store
	log     zerolog.Logger

	limiter *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
	running  bool
	conns    map[string]*conn
	wg       sync.WaitGroup
}

// New creates a server over the given write and read paths.
func New(cfg Config, applier Applier, store Store, logger zerolog.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < cfg.RequestsPerSecond {
			burst = cfg.RequestsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Server{
		cfg:     cfg,
		applier: applier,
		store:   store,
		log:     logger.With().Str("component", "server").Logger(),
		limiter: limiter,
		conns:   make(map[string]*conn),
	}
}

// Start binds the listener and launches the accept loop. It returns once the
// listener is live.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if opErr != nil {
					return
				}
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}

	addr := net.JoinHostPort(s.cfg.Addr, fmt.Sprintf("%d", s.cfg.Port))
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("rpc server listening")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			if !s.IsRunning() {
				return
			}
			s.log.Debug().Err(err).Msg("accept failed")
			continue
		}

		if s.cfg.MaxConnections > 0 && s.ActiveConnections() >= s.cfg.MaxConnections {
			s.log.Warn().Str("remote", tcpConn.RemoteAddr().String()).
				Msg("connection limit reached, rejecting")
			_ = tcpConn.Close()
			continue
		}

		if tc, ok := tcpConn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		c := newConn(s, tcpConn)
		s.trackConn(c)
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsActive.Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.untrackConn(c)
				metrics.ConnectionsActive.Dec()
			}()
			c.serve()
		}()
	}
}

func (s *Server) trackConn(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrackConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// ActiveConnections reports the number of currently served clients.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// IsRunning reports whether the listener is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound listener address, useful when Port is 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and all live connections, then waits for the
// per-connection goroutines to drain, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listener := s.listener
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	err := listener.Close()
	for _, c := range open {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("rpc server stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// throttle blocks until the global rate limiter admits one request.
func (s *Server) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}
