package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gonzalop/ftpd/internal/throttle"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithFileSystem sets the storage backend. This option is required and can
// only be set once.
//
// Example:
//
//	fs, _ := server.NewFSDriver("/srv/ftp")
//	s, _ := server.NewServer(":21", server.WithFileSystem(fs), ...)
func WithFileSystem(fs FileSystem) Option {
	return func(s *Server) error {
		if s.fs != nil {
			return errors.New("file system already set")
		}
		s.fs = fs
		return nil
	}
}

// WithAuthenticator sets the credential verifier used by PASS. This option
// is required.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) error {
		s.auth = auth
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21", ..., server.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithWelcomeMessage sets the text of the 220 greeting.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

// WithMaxIdleTime sets how long a control connection may stay silent, and
// how long a data stream may stall, before being closed.
// If not specified, defaults to 5 minutes. 0 disables the limit.
func WithMaxIdleTime(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("invalid idle time %v", d)
		}
		s.maxIdleTime = d
		return nil
	}
}

// WithDataTimeout bounds the wait for a data connection: the passive
// accept, the active dial, and the lifetime of a passive listener that no
// transfer claimed. Defaults to 30 seconds.
func WithDataTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("invalid data timeout %v", d)
		}
		s.dataTimeout = d
		return nil
	}
}

// WithDefaultType sets the representation type sessions start with.
func WithDefaultType(t TransferType) Option {
	return func(s *Server) error {
		s.defaultType = t
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous connections,
// globally and per client IP. 0 means no limit.
//
// When a limit is reached, new connections receive a 421 reply.
func WithMaxConnections(max, perIP int) Option {
	return func(s *Server) error {
		s.maxConnections = max
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithPassivePortRange restricts passive listeners to [min, max].
func WithPassivePortRange(min, max int) Option {
	return func(s *Server) error {
		if min < 0 || max > 65535 || (max != 0 && max < min) {
			return fmt.Errorf("invalid passive port range [%d, %d]", min, max)
		}
		s.pasvMinPort = min
		s.pasvMaxPort = max
		return nil
	}
}

// WithPublicHost sets the host or IPv4 address advertised in PASV replies.
// Required when behind NAT. Hostnames are resolved once.
func WithPublicHost(host string) Option {
	return func(s *Server) error {
		s.publicHost = host
		return nil
	}
}

// WithBandwidthLimit limits transfer speed in bytes per second, per
// transfer and across the whole server. 0 means unlimited.
func WithBandwidthLimit(perTransfer, global int64) Option {
	return func(s *Server) error {
		if perTransfer < 0 || global < 0 {
			return errors.New("bandwidth limits must not be negative")
		}
		s.bandwidthLimit = perTransfer
		s.globalLimiter = throttle.New(global)
		return nil
	}
}

// WithTransferLog enables an xferlog-style record of completed transfers.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}

// WithMetricsCollector sets a collector for command, transfer, connection
// and authentication metrics.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = mc
		return nil
	}
}
