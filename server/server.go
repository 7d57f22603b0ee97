package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/ftpd/internal/throttle"
)

// Server is the FTP server.
//
// It accepts control connections and runs one session per connection in
// its own goroutine. Sessions share the read-only configuration, the
// FileSystem and the Authenticator, and nothing else.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Stop with Shutdown(ctx), which makes Serve return ErrServerClosed
//
// Basic example:
//
//	fs, _ := server.NewFSDriver("/srv/ftp")
//	users := server.NewUserTable()
//	_ = users.AddPassword("alice", "secret")
//	s, err := server.NewServer(":21",
//	    server.WithFileSystem(fs),
//	    server.WithAuthenticator(users),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	addr   string
	fs     FileSystem
	auth   Authenticator
	logger *slog.Logger

	// welcomeMessage is the banner sent with the 220 greeting.
	welcomeMessage string

	// maxIdleTime bounds control reads and stalled data streams.
	maxIdleTime time.Duration

	// dataTimeout bounds passive accepts, active dials and the lifetime of
	// an unused passive listener.
	dataTimeout time.Duration

	defaultType TransferType

	maxConnections      int
	maxConnectionsPerIP int

	// Passive mode
	pasvMinPort     int
	pasvMaxPort     int
	publicHost      string
	publicOnce      sync.Once
	resolvedIP      net.IP
	nextPassivePort atomic.Uint32

	// Bandwidth limits in bytes per second, 0 means unlimited.
	bandwidthLimit int64
	globalLimiter  *throttle.Limiter

	transferLog   io.Writer
	transferLogMu sync.Mutex

	metricsCollector MetricsCollector

	// disabledCommands are answered with 502. Read-only after NewServer.
	disabledCommands map[string]bool

	activeConns atomic.Int32
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// Shutdown handling
	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
	sessions   sync.WaitGroup
}

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port".
// WithFileSystem and WithAuthenticator are required.
//
// Default values:
//   - Logger: slog.Default()
//   - MaxIdleTime: 5 minutes
//   - DataTimeout: 30 seconds
//   - Default TYPE: binary
//   - MaxConnections: 0 (unlimited)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "FTP Server Ready",
		maxIdleTime:    5 * time.Minute,
		dataTimeout:    30 * time.Second,
		defaultType:    TypeBinary,
		conns:          make(map[net.Conn]struct{}),
		connsByIP:      make(map[string]int32),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.fs == nil {
		return nil, errors.New("file system is required (use WithFileSystem option)")
	}
	if s.auth == nil {
		return nil, errors.New("authenticator is required (use WithAuthenticator option)")
	}
	return s, nil
}

// ListenAndServe starts the FTP server on the configured address.
// It blocks until the server stops or an error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("server_listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Shutdown stops the server.
//
// It closes the listener and every active control and data connection, then
// waits for the session goroutines to finish or for ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for conn := range maps.Keys(conns) {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve accepts incoming connections on the listener l.
// It blocks until Shutdown is called or the listener fails permanently.
//
// Temporary accept errors are logged and retried; any other accept error
// ends Serve, since the server can no longer take clients.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Error("accept error", "error", err, "retry_in", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		s.mu.Lock()
		if s.inShutdown.Load() {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.sessions.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.sessions.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection handles a new client connection.
func (s *Server) handleConnection(conn net.Conn) {
	if !s.trackConnection(conn, true) {
		conn.Close()
		return
	}
	defer s.trackConnection(conn, false)

	ip := remoteHost(conn)
	if reason := s.admit(ip); reason != "" {
		s.logger.Warn("connection_rejected",
			"remote_ip", ip,
			"reason", reason,
		)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordConnection(false, reason)
		}
		if reason == "per_ip_limit_reached" {
			fmt.Fprintf(conn, "421 Too many connections from your IP address.\r\n")
		} else {
			fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		}
		conn.Close()
		return
	}
	defer s.leave(ip)

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	newSession(s, conn).serve()
}

// admit reserves a connection slot for ip. It returns a non-empty reason
// when a limit is reached.
func (s *Server) admit(ip string) string {
	active := s.activeConns.Add(1)
	if s.maxConnections > 0 && active > int32(s.maxConnections) {
		s.activeConns.Add(-1)
		return "global_limit_reached"
	}

	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		defer s.connsByIPMu.Unlock()
		if s.connsByIP[ip] >= int32(s.maxConnectionsPerIP) {
			s.activeConns.Add(-1)
			return "per_ip_limit_reached"
		}
		s.connsByIP[ip]++
	}
	return ""
}

func (s *Server) leave(ip string) {
	s.activeConns.Add(-1)
	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		s.connsByIP[ip]--
		if s.connsByIP[ip] <= 0 {
			delete(s.connsByIP, ip)
		}
		s.connsByIPMu.Unlock()
	}
}

// trackConnection returns false if we're shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.inShutdown.Load() {
			return false
		}
		s.conns[conn] = struct{}{}
		return true
	}
	delete(s.conns, conn)
	return true
}

func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
