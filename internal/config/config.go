// Package config loads the ftpd configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/gonzalop/ftpd/server"
)

// Config is the YAML configuration of the ftpd daemon.
//
// Durations are written the way time.ParseDuration reads them ("30s",
// "5m"). Zero values are replaced by the defaults of Default.
type Config struct {
	Listen         string `yaml:"listen"`
	RootDir        string `yaml:"root_dir"`
	ReadOnly       bool   `yaml:"read_only"`
	WelcomeMessage string `yaml:"welcome_message"`

	PassivePorts PortRange `yaml:"passive_ports"`
	PublicHost   string    `yaml:"public_host"`

	DataTimeout time.Duration `yaml:"data_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	DefaultType string        `yaml:"default_type"`

	Users     []User `yaml:"users"`
	Anonymous bool   `yaml:"anonymous"`

	MaxConnections      int `yaml:"max_connections"`
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`

	Bandwidth       Bandwidth `yaml:"bandwidth"`
	DisableCommands []string  `yaml:"disable_commands"`

	TransferLog string `yaml:"transfer_log"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// PortRange is an inclusive range of passive ports. Zero means any port.
type PortRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// User is an account checked with bcrypt.
type User struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

// Bandwidth limits in bytes per second. Zero means unlimited.
type Bandwidth struct {
	PerTransfer int64 `yaml:"per_transfer"`
	Global      int64 `yaml:"global"`
}

// Default returns the configuration used for missing settings.
func Default() *Config {
	return &Config{
		Listen:         ":2121",
		RootDir:        ".",
		WelcomeMessage: "FTP Server Ready",
		DataTimeout:    30 * time.Second,
		IdleTimeout:    5 * time.Minute,
		DefaultType:    "binary",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// errors. The result is validated.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(content)
}

// Parse decodes YAML content over the defaults and validates it.
func Parse(content []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(content, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Listen == "" {
		fail("listen: must not be empty")
	}
	if c.RootDir == "" {
		fail("root_dir: must not be empty")
	}
	if c.DataTimeout <= 0 {
		fail("data_timeout: must be positive, got %v", c.DataTimeout)
	}
	if c.IdleTimeout < 0 {
		fail("idle_timeout: must not be negative, got %v", c.IdleTimeout)
	}
	if _, err := c.transferType(); err != nil {
		fail("default_type: %v", err)
	}

	p := c.PassivePorts
	if p.Min < 0 || p.Max > 65535 || (p.Max != 0 && p.Max < p.Min) || (p.Min != 0 && p.Max == 0) {
		fail("passive_ports: invalid range [%d, %d]", p.Min, p.Max)
	}
	if c.MaxConnections < 0 || c.MaxConnectionsPerIP < 0 {
		fail("max_connections: limits must not be negative")
	}
	if c.Bandwidth.PerTransfer < 0 || c.Bandwidth.Global < 0 {
		fail("bandwidth: limits must not be negative")
	}

	seen := make(map[string]bool)
	for i, u := range c.Users {
		switch {
		case u.Name == "":
			fail("users[%d]: name must not be empty", i)
		case seen[u.Name]:
			fail("users[%d]: duplicate user %q", i, u.Name)
		case u.PasswordHash == "":
			fail("users[%d]: password_hash must not be empty", i)
		}
		seen[u.Name] = true
	}
	if len(c.Users) == 0 && !c.Anonymous {
		fail("users: no users configured and anonymous login disabled")
	}

	if _, err := c.level(); err != nil {
		fail("log_level: %v", err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		fail("log_format: must be text or json, got %q", c.LogFormat)
	}

	return result.ErrorOrNil()
}

func (c *Config) transferType() (server.TransferType, error) {
	switch strings.ToLower(c.DefaultType) {
	case "", "binary", "i":
		return server.TypeBinary, nil
	case "ascii", "a":
		return server.TypeASCII, nil
	default:
		return 0, fmt.Errorf("must be ascii or binary, got %q", c.DefaultType)
	}
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, err
	}
	return l, nil
}

// Logger builds the slog logger described by log_level and log_format.
// debug forces the debug level.
func (c *Config) Logger(w io.Writer, debug bool) *slog.Logger {
	level, err := c.level()
	if err != nil || debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// UserTable builds the Authenticator for the configured accounts.
func (c *Config) UserTable() (*server.UserTable, error) {
	users := server.NewUserTable()
	var result *multierror.Error
	for _, u := range c.Users {
		if err := users.AddHash(u.Name, u.PasswordHash); err != nil {
			result = multierror.Append(result, err)
		}
	}
	users.AllowAnonymous(c.Anonymous)
	return users, result.ErrorOrNil()
}

// Runtime holds what ServerOptions opened. Close releases it.
type Runtime struct {
	FS          *server.FSDriver
	Users       *server.UserTable
	transferLog *os.File
}

// Close releases the file system root and the transfer log.
func (r *Runtime) Close() error {
	var result *multierror.Error
	if r.FS != nil {
		if err := r.FS.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if r.transferLog != nil {
		if err := r.transferLog.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ServerOptions opens the resources the configuration names and returns
// the server options using them. The caller must Close the Runtime once
// the server has stopped.
func (c *Config) ServerOptions(logger *slog.Logger) ([]server.Option, *Runtime, error) {
	if logger == nil {
		return nil, nil, errors.New("logger must not be nil")
	}
	t, err := c.transferType()
	if err != nil {
		return nil, nil, err
	}

	rt := &Runtime{}
	if rt.Users, err = c.UserTable(); err != nil {
		return nil, nil, err
	}
	if rt.FS, err = server.NewFSDriver(c.RootDir, server.WithReadOnly(c.ReadOnly)); err != nil {
		return nil, nil, err
	}

	opts := []server.Option{
		server.WithFileSystem(rt.FS),
		server.WithAuthenticator(rt.Users),
		server.WithLogger(logger),
		server.WithWelcomeMessage(c.WelcomeMessage),
		server.WithDataTimeout(c.DataTimeout),
		server.WithMaxIdleTime(c.IdleTimeout),
		server.WithDefaultType(t),
		server.WithMaxConnections(c.MaxConnections, c.MaxConnectionsPerIP),
		server.WithPassivePortRange(c.PassivePorts.Min, c.PassivePorts.Max),
		server.WithBandwidthLimit(c.Bandwidth.PerTransfer, c.Bandwidth.Global),
	}
	if c.PublicHost != "" {
		opts = append(opts, server.WithPublicHost(c.PublicHost))
	}
	if len(c.DisableCommands) > 0 {
		opts = append(opts, server.WithDisableCommands(c.DisableCommands...))
	}
	if c.TransferLog != "" {
		f, err := os.OpenFile(c.TransferLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			rt.Close()
			return nil, nil, fmt.Errorf("opening transfer log: %w", err)
		}
		rt.transferLog = f
		opts = append(opts, server.WithTransferLog(f))
	}
	return opts, rt, nil
}
