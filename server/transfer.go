package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gonzalop/ftpd/internal/throttle"
)

// transferJob is the file-system side of one transfer. It is prepared
// before the data connection is opened, so file-system errors never cost
// the client a connection.
type transferJob struct {
	path    string
	opening string // text of the 150 reply

	// open, when set, acquires the file-system side once the data
	// connection is up. Uploads use it so a failed connection never
	// truncates or creates a file.
	open func() error

	// run moves the bytes between the data connection and the file system
	// and returns the payload size.
	run func(s *session, conn net.Conn) (int64, error)

	// finish releases the file-system side. For uploads its error means
	// the data did not reach storage.
	finish func() error
}

// transferCommand is a command that needs a data connection: LIST, NLST,
// RETR, STOR and APPE.
type transferCommand struct {
	op      string
	prepare func(s *session, arg string) (*transferJob, error)
}

var (
	listCommand = transferCommand{op: "LIST", prepare: prepareListing(formatListLine)}
	nlstCommand = transferCommand{op: "NLST", prepare: prepareListing(formatNameLine)}
	retrCommand = transferCommand{op: "RETR", prepare: prepareDownload}
	storCommand = transferCommand{op: "STOR", prepare: prepareUpload(false)}
	appeCommand = transferCommand{op: "APPE", prepare: prepareUpload(true)}
)

// handle sequences one transfer: prepare the file-system side, claim the
// data connection, stream, close the connection, then report completion.
// The negotiated data channel never outlives the command.
func (c transferCommand) handle(s *session, arg string) error {
	defer s.state.clearDataChannel()

	if s.state.dataMode() == dataNone {
		s.reply(425, "Use PORT or PASV first.")
		return nil
	}

	job, err := c.prepare(s, arg)
	if err != nil {
		s.replyError(err)
		return nil
	}
	finished := false
	defer func() {
		if !finished {
			_ = job.finish()
		}
	}()

	conn, err := s.openDataConn()
	if err != nil {
		if errors.Is(err, errNoDataChannel) {
			s.reply(425, "Use PORT or PASV first.")
			return nil
		}
		s.server.logger.Warn("data_connection_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.state.username(),
			"operation", c.op,
			"error", err,
		)
		s.reply(425, "Can't open data connection.")
		return nil
	}

	// A client that drops the control connection also loses the transfer.
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	if job.open != nil {
		if err := job.open(); err != nil {
			finished = true
			conn.Close()
			s.replyError(err)
			return nil
		}
	}

	s.reply(150, job.opening)

	start := time.Now()
	n, err := job.run(s, conn)
	conn.Close()
	finished = true
	if ferr := job.finish(); err == nil && ferr != nil {
		err = fmt.Errorf("closing %s: %w", job.path, ferr)
	}
	duration := time.Since(start)

	if err != nil {
		s.server.logger.Warn("transfer_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.state.username(),
			"operation", c.op,
			"path", job.path,
			"bytes", n,
			"error", err,
		)
		s.logTransfer(c.op, job.path, n, duration, false)
		s.reply(426, "Connection closed; transfer aborted.")
		return nil
	}

	throughputMBps := float64(0)
	if duration.Seconds() > 0 {
		throughputMBps = float64(n) / duration.Seconds() / 1024 / 1024
	}
	s.server.logger.Info("transfer_complete",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.state.username(),
		"operation", c.op,
		"path", job.path,
		"bytes", n,
		"duration_ms", duration.Milliseconds(),
		"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
	)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer(c.op, n, duration)
	}
	if c.op != "LIST" && c.op != "NLST" {
		s.logTransfer(c.op, job.path, n, duration, true)
	}

	s.reply(226, "Transfer complete.")
	return nil
}

// dataWriter throttles writes to the data connection.
func (s *session) dataWriter(conn net.Conn) io.Writer {
	return throttle.NewWriter(s.ctx, conn, throttle.New(s.server.bandwidthLimit), s.server.globalLimiter)
}

// dataReader throttles reads from the data connection.
func (s *session) dataReader(conn net.Conn) io.Reader {
	return throttle.NewReader(s.ctx, conn, throttle.New(s.server.bandwidthLimit), s.server.globalLimiter)
}

func prepareDownload(s *session, arg string) (*transferJob, error) {
	p := s.state.resolve(arg)
	f, err := s.server.fs.OpenRead(p)
	if err != nil {
		return nil, err
	}
	ascii := s.state.transferType() == TypeASCII

	return &transferJob{
		path:    p,
		opening: fmt.Sprintf("Opening %s mode data connection for %s.", modeName(ascii), arg),
		run: func(s *session, conn net.Conn) (int64, error) {
			var src io.Reader = f
			if ascii {
				src = asciiOut(f)
			}
			return io.Copy(s.dataWriter(conn), src)
		},
		finish: f.Close,
	}, nil
}

func prepareUpload(appendMode bool) func(*session, string) (*transferJob, error) {
	return func(s *session, arg string) (*transferJob, error) {
		p := s.state.resolve(arg)
		if err := checkUploadTarget(s.server.fs, p); err != nil {
			return nil, err
		}
		ascii := s.state.transferType() == TypeASCII

		var f io.WriteCloser
		return &transferJob{
			path:    p,
			opening: fmt.Sprintf("Opening %s mode data connection for %s.", modeName(ascii), arg),
			open: func() (err error) {
				f, err = s.server.fs.OpenWrite(p, appendMode)
				return err
			},
			run: func(s *session, conn net.Conn) (int64, error) {
				src := s.dataReader(conn)
				if ascii {
					src = asciiIn(src)
				}
				return io.Copy(f, src)
			},
			finish: func() error {
				if f == nil {
					return nil
				}
				return f.Close()
			},
		}, nil
	}
}

// checkUploadTarget rejects uploads that cannot succeed, without touching
// the file: the parent must be a directory and the target must not be one.
func checkUploadTarget(fs FileSystem, p string) error {
	info, err := fs.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return os.ErrPermission
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return err
	}

	parent, err := fs.Stat(path.Dir(p))
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return errNotDirectory
	}
	return nil
}

// prepareListing builds the listing in memory, so a file-system error is
// reported before any data connection is opened.
func prepareListing(format func(os.FileInfo, time.Time) string) func(*session, string) (*transferJob, error) {
	return func(s *session, arg string) (*transferJob, error) {
		p := s.state.resolve(listingPath(arg))

		info, err := s.server.fs.Stat(p)
		if err != nil {
			return nil, err
		}
		entries := []os.FileInfo{info}
		if info.IsDir() {
			if entries, err = s.server.fs.List(p); err != nil {
				return nil, err
			}
		}

		var buf bytes.Buffer
		now := time.Now()
		for _, entry := range entries {
			buf.WriteString(format(entry, now))
		}

		return &transferJob{
			path:    p,
			opening: "Here comes the directory listing.",
			run: func(s *session, conn net.Conn) (int64, error) {
				return io.Copy(s.dataWriter(conn), &buf)
			},
			finish: func() error { return nil },
		}, nil
	}
}

// listingPath drops ls-style options ("-la") that clients send with LIST.
func listingPath(arg string) string {
	fields := strings.Fields(arg)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return "."
	}
	return strings.Join(fields, " ")
}

// formatListLine renders an entry the way "ls -l" does, which every FTP
// client can parse.
func formatListLine(info os.FileInfo, now time.Time) string {
	stamp := info.ModTime().Format("Jan _2 15:04")
	if age := now.Sub(info.ModTime()); age > 180*24*time.Hour || age < -time.Hour {
		stamp = info.ModTime().Format("Jan _2  2006")
	}
	return fmt.Sprintf("%s 1 owner group %12d %s %s\r\n",
		info.Mode().String(), info.Size(), stamp, info.Name())
}

func formatNameLine(info os.FileInfo, _ time.Time) string {
	return info.Name() + "\r\n"
}

func modeName(ascii bool) string {
	if ascii {
		return "ASCII"
	}
	return "BINARY"
}
