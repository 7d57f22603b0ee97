package server

import (
	"errors"
	"os"
)

// ErrServerClosed is returned by the Server's Serve and ListenAndServe
// methods after a call to Shutdown.
var ErrServerClosed = errors.New("ftpd: server closed")

var (
	// errNoDataChannel means a transfer was requested before PASV, EPSV or PORT.
	errNoDataChannel = errors.New("no data channel configured")

	// errDataTimeout means the client did not connect to the passive
	// listener before its deadline.
	errDataTimeout = errors.New("data connection timed out")

	// errCommandTooLong is reported by the control reader for oversized lines.
	errCommandTooLong = errors.New("command too long")
)

// replyError sends the reply matching a file-system error kind.
func (s *session) replyError(err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.reply(550, "File not found.")
	case errors.Is(err, os.ErrPermission):
		s.reply(550, "Permission denied.")
	case errors.Is(err, os.ErrExist):
		s.reply(550, "File already exists.")
	case errors.Is(err, errNotDirectory):
		s.reply(550, "Not a directory.")
	default:
		s.reply(550, "Requested action not taken.")
	}
}
