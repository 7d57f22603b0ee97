package server

import (
	"fmt"
	"path"
)

func (s *session) handlePWD(_ string) error {
	s.reply(257, fmt.Sprintf("%s is the current directory.", quoted(s.state.workingDir())))
	return nil
}

func (s *session) handleCWD(arg string) error {
	dir := s.state.resolve(arg)
	info, err := s.server.fs.Stat(dir)
	if err != nil {
		s.replyError(err)
		return nil
	}
	if !info.IsDir() {
		s.replyError(errNotDirectory)
		return nil
	}
	s.state.setWorkingDir(dir)
	s.reply(250, "Directory successfully changed.")
	return nil
}

func (s *session) handleCDUP(_ string) error {
	return s.handleCWD("..")
}

func (s *session) handleMKD(arg string) error {
	p := s.state.resolve(arg)
	if err := s.server.fs.MakeDir(p); err != nil {
		s.replyError(err)
		return nil
	}
	s.audit("directory_created", p)
	s.reply(257, fmt.Sprintf("%s created.", quoted(p)))
	return nil
}

func (s *session) handleRMD(arg string) error {
	p := s.state.resolve(arg)
	if p == "/" {
		s.reply(550, "Permission denied.")
		return nil
	}
	if err := s.server.fs.RemoveDir(p); err != nil {
		s.replyError(err)
		return nil
	}
	s.audit("directory_removed", p)
	s.reply(250, "Directory removed.")
	return nil
}

func (s *session) handleDELE(arg string) error {
	p := s.state.resolve(arg)
	if err := s.server.fs.RemoveFile(p); err != nil {
		s.replyError(err)
		return nil
	}
	s.audit("file_deleted", p)
	s.reply(250, "File deleted.")
	return nil
}

// handleRNFR records the source unconditionally; existence is checked by
// the rename itself.
func (s *session) handleRNFR(arg string) error {
	s.state.setRenameFrom(s.state.resolve(arg))
	s.reply(350, "Requested file action pending further information.")
	return nil
}

// handleRNTO consumes the pending source whatever the outcome.
func (s *session) handleRNTO(arg string) error {
	from, ok := s.state.takeRenameFrom()
	if !ok {
		s.reply(503, "Bad sequence of commands.")
		return nil
	}
	to := s.state.resolve(arg)
	if err := s.server.fs.Rename(from, to); err != nil {
		s.replyError(err)
		return nil
	}
	s.server.logger.Info("file_renamed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.state.username(),
		"from", from,
		"to", to,
	)
	s.reply(250, "Requested file action successful, file renamed.")
	return nil
}

func (s *session) handleSIZE(arg string) error {
	info, err := s.server.fs.Stat(s.state.resolve(arg))
	if err != nil {
		s.replyError(err)
		return nil
	}
	if info.IsDir() {
		s.reply(550, "Not a regular file.")
		return nil
	}
	s.reply(213, fmt.Sprintf("%d", info.Size()))
	return nil
}

func (s *session) handleMDTM(arg string) error {
	info, err := s.server.fs.Stat(s.state.resolve(arg))
	if err != nil {
		s.replyError(err)
		return nil
	}
	s.reply(213, info.ModTime().UTC().Format("20060102150405"))
	return nil
}

// audit logs a file-system change made by the session.
func (s *session) audit(event, p string) {
	s.server.logger.Info(event,
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.state.username(),
		"path", p,
		"name", path.Base(p),
	)
}
