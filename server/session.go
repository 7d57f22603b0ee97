package server

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// session represents an FTP client session.
type session struct {
	server *Server
	conn   net.Conn

	// ctx is cancelled when the client disconnects or the session ends.
	// Data connection waits observe it.
	ctx    context.Context
	cancel context.CancelFunc

	sessionID string
	remoteIP  string

	state *sessionState

	wmu    sync.Mutex // Protects writer
	writer *bufio.Writer

	replies  atomic.Int64
	lastCode atomic.Int32

	// quit is set by QUIT. Only the session goroutine touches it.
	quit bool
}

// generateSessionID generates a unique 8-character session ID.
func generateSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%08x", b)
}

func newSession(server *Server, conn net.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		server:    server,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		sessionID: generateSessionID(),
		remoteIP:  remoteHost(conn),
		state:     newSessionState(server.defaultType),
		writer:    bufio.NewWriter(conn),
	}
}

type command struct {
	line string
	err  error
}

// serve runs the session until the client quits or disconnects.
//
// A reader goroutine reads command lines ahead and hands them over one at a
// time; this goroutine dispatches each command to completion, data transfer
// included, before taking the next one. Reading ahead lets a disconnect be
// noticed while a transfer waits on its data connection: the reader cancels
// s.ctx, which aborts the wait.
func (s *session) serve() {
	defer s.close()

	s.reply(220, s.server.welcomeMessage)

	s.server.logger.Info("session_started",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)

	lines := s.startCommandReader()
	for {
		if s.server.maxIdleTime > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
		}

		var cmd command
		var ok bool
		select {
		case cmd, ok = <-lines:
		case <-s.ctx.Done():
			return
		}
		if !ok {
			return
		}

		if cmd.err != nil {
			switch {
			case errors.Is(cmd.err, errCommandTooLong):
				s.reply(500, "Command line too long.")
			case errors.Is(cmd.err, io.EOF), errors.Is(cmd.err, net.ErrClosed):
			default:
				s.server.logger.Warn("read error",
					"session_id", s.sessionID,
					"remote_ip", s.remoteIP,
					"user", s.state.username(),
					"error", cmd.err,
				)
			}
			return
		}

		// No idle limit while a command runs; transfers can be long.
		_ = s.conn.SetReadDeadline(time.Time{})

		dispatch(s, cmd.line)
		if s.quit {
			return
		}
	}
}

func (s *session) startCommandReader() <-chan command {
	lines := make(chan command)
	r := bufio.NewReader(s.conn)
	go func() {
		defer close(lines)
		for {
			line, err := readCommand(r)
			if err != nil && !errors.Is(err, errCommandTooLong) {
				// The control connection is gone.
				s.cancel()
			}

			select {
			case lines <- command{line, err}:
			case <-s.ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

// close ends the session, releasing its data channel and connection.
func (s *session) close() {
	s.cancel()
	s.state.clearDataChannel()

	var result *multierror.Error
	s.wmu.Lock()
	if err := s.writer.Flush(); err != nil && !isClosedConn(err) {
		result = multierror.Append(result, err)
	}
	s.wmu.Unlock()
	if err := s.conn.Close(); err != nil && !isClosedConn(err) {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		s.server.logger.Debug("session close error",
			"session_id", s.sessionID,
			"error", err,
		)
	}

	s.server.logger.Info("session_closed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.state.username(),
	)
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// reply sends a single-line response to the client.
func (s *session) reply(code int, message string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.lastCode.Store(int32(code))
	s.replies.Add(1)
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.flush()
}

// replyLines sends a multi-line response: a "code-" header, indented
// lines, and a closing "code " line.
func (s *session) replyLines(code int, header string, lines []string, footer string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.lastCode.Store(int32(code))
	s.replies.Add(1)
	fmt.Fprintf(s.writer, "%d-%s\r\n", code, header)
	for _, line := range lines {
		fmt.Fprintf(s.writer, " %s\r\n", line)
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, footer)
	s.flush()
}

// flush must be called with wmu held.
func (s *session) flush() {
	if s.server.maxIdleTime > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.maxIdleTime))
	}
	if err := s.writer.Flush(); err != nil && !isClosedConn(err) {
		s.server.logger.Debug("reply write failed",
			"session_id", s.sessionID,
			"error", err,
		)
	}
}

// quoted formats a path for 257 replies, doubling embedded quotes.
func quoted(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}
