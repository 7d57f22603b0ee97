package server

import (
	"fmt"
	"strings"
	"time"
)

// logTransfer appends one line in wu-ftpd xferlog format:
//
//	current-time transfer-time remote-host file-size filename transfer-type
//	special-action-flag direction access-mode username service-name
//	authentication-method authenticated-user-id completion-status
func (s *session) logTransfer(op, filename string, bytes int64, elapsed time.Duration, complete bool) {
	if s.server.transferLog == nil {
		return
	}

	seconds := max(int64(elapsed.Seconds()), 1)

	tType := "b"
	if s.state.transferType() == TypeASCII {
		tType = "a"
	}

	direction := "o"
	if op == "STOR" || op == "APPE" {
		direction = "i"
	}

	user := s.state.username()
	accessMode := "r"
	if user == "anonymous" || user == "ftp" {
		accessMode = "a"
	}

	status := "c"
	if !complete {
		status = "i"
	}

	line := fmt.Sprintf("%s %d %s %d %s %s _ %s %s %s ftp 0 * %s\n",
		time.Now().Format("Mon Jan _2 15:04:05 2006"),
		seconds,
		s.remoteIP,
		bytes,
		xferlogField(filename),
		tType,
		direction,
		accessMode,
		xferlogField(user),
		status,
	)

	s.server.transferLogMu.Lock()
	defer s.server.transferLogMu.Unlock()
	if _, err := s.server.transferLog.Write([]byte(line)); err != nil {
		s.server.logger.Warn("transfer_log_failed", "session_id", s.sessionID, "error", err)
	}
}

// xferlogField keeps a value to one whitespace-separated field, replacing
// blanks with underscores as wu-ftpd does.
func xferlogField(v string) string {
	if v == "" {
		return "*"
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return '_'
		}
		return r
	}, v)
}
