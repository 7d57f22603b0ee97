// Command ftpd serves a directory over FTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/trzsz/go-arg"
	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/server"
)

const version = "0.1.0"

type ftpdArgs struct {
	Config       string `arg:"-c,--config" placeholder:"FILE" help:"YAML configuration file"`
	Listen       string `arg:"-l,--listen" placeholder:"ADDR" help:"listen address, overrides the configuration"`
	Root         string `arg:"-r,--root" placeholder:"DIR" help:"directory to serve, overrides the configuration"`
	Anonymous    bool   `arg:"-a,--anonymous" help:"allow anonymous logins"`
	Debug        bool   `arg:"-d,--debug" help:"log at debug level"`
	HashPassword string `arg:"--hash-password" placeholder:"PASSWORD" help:"print the bcrypt hash of PASSWORD for the users section and exit"`
}

func (ftpdArgs) Description() string {
	return "FTP server for a local directory.\n"
}

func (ftpdArgs) Version() string {
	return fmt.Sprintf("ftpd %s", version)
}

func parseArgs(osArgs []string) *ftpdArgs {
	var args ftpdArgs
	parser, err := arg.NewParser(arg.Config{Out: os.Stderr, Exit: os.Exit}, &args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
		return nil
	}
	var flags []string
	if len(osArgs) > 0 {
		flags = osArgs[1:]
	}
	parser.MustParse(flags)
	return &args
}

// loadConfig reads the configuration file, if any, and applies the
// command-line overrides.
func loadConfig(args *ftpdArgs) (*config.Config, error) {
	c := config.Default()
	if args.Config != "" {
		var err error
		if c, err = config.Load(args.Config); err != nil {
			return nil, err
		}
	}
	if args.Listen != "" {
		c.Listen = args.Listen
	}
	if args.Root != "" {
		c.RootDir = args.Root
	}
	if args.Anonymous {
		c.Anonymous = true
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// run serves until ctx is done, then shuts the server down.
func run(ctx context.Context, args *ftpdArgs, stdout, stderr io.Writer) error {
	if args.HashPassword != "" {
		hash, err := server.HashPassword(args.HashPassword)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, hash)
		return nil
	}

	c, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger := c.Logger(stderr, args.Debug)

	opts, rt, err := c.ServerOptions(logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.NewServer(c.Listen, opts...)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("server_stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.DataTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	args := parseArgs(os.Args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
