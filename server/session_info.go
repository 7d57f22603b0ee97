package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// handleTYPE switches the representation type. Only the forms every
// client sends are accepted: A, A N, I and L 8.
func (s *session) handleTYPE(arg string) error {
	switch strings.ToUpper(strings.Join(strings.Fields(arg), " ")) {
	case "A", "A N":
		s.state.setTransferType(TypeASCII)
		s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.state.setTransferType(TypeBinary)
		s.reply(200, "Type set to I.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
	return nil
}

// handleMODE accepts Stream mode only.
func (s *session) handleMODE(arg string) error {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "S":
		s.reply(200, "Mode set to Stream.")
	case "B":
		s.reply(504, "Block mode not implemented.")
	case "C":
		s.reply(504, "Compressed mode not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
	return nil
}

// handleSTRU accepts File structure only.
func (s *session) handleSTRU(arg string) error {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "F":
		s.reply(200, "Structure set to File.")
	case "R":
		s.reply(504, "Record structure not implemented.")
	case "P":
		s.reply(504, "Page structure not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
	return nil
}

func (s *session) handleALLO(_ string) error {
	s.reply(202, "No storage allocation necessary.")
	return nil
}

func (s *session) handleSYST(_ string) error {
	s.reply(215, "UNIX Type: L8")
	return nil
}

func (s *session) handleNOOP(_ string) error {
	s.reply(200, "NOOP ok.")
	return nil
}

// handleABOR has nothing to abort: transfers complete before the next
// command is read.
func (s *session) handleABOR(_ string) error {
	s.reply(226, "No transfer to abort.")
	return nil
}

// featureList is advertised by FEAT. MLST and UTF8 are not offered.
var featureList = []string{"SIZE", "MDTM", "PASV", "EPSV"}

func (s *session) handleFEAT(_ string) error {
	s.replyLines(211, "Features:", featureList, "End")
	return nil
}

// helpList is kept apart from the dispatch table, which refers back to
// handleHELP.
var helpList = []string{
	"USER PASS QUIT",
	"CWD XCWD CDUP XCUP PWD XPWD",
	"MKD XMKD RMD XRMD DELE RNFR RNTO SIZE MDTM",
	"LIST NLST RETR STOR APPE",
	"TYPE MODE STRU PASV EPSV PORT ALLO",
	"SYST FEAT HELP STAT NOOP SITE ABOR",
}

func (s *session) handleHELP(arg string) error {
	if arg != "" {
		s.reply(214, fmt.Sprintf("No help available for %s.", strings.ToUpper(arg)))
		return nil
	}
	s.replyLines(214, "The following commands are supported:", helpList, "End of help")
	return nil
}

// handleSTAT reports the session status. STAT with a path is not offered.
func (s *session) handleSTAT(arg string) error {
	if arg != "" {
		s.reply(502, "STAT with path not implemented. Use LIST instead.")
		return nil
	}

	lines := []string{"Connected from " + s.remoteIP}
	if s.state.isAuthenticated() {
		lines = append(lines, "Logged in as "+s.state.username())
	} else {
		lines = append(lines, "Not logged in")
	}
	typeName := "BINARY"
	if s.state.transferType() == TypeASCII {
		typeName = "ASCII"
	}
	lines = append(lines,
		"TYPE: "+typeName+"; STRUcture: File; transfer MODE: Stream",
		"Data connection: "+s.state.dataMode().String(),
	)
	s.replyLines(211, "FTP server status:", lines, "End of status")
	return nil
}

func (s *session) handleSITE(arg string) error {
	parts := strings.Fields(arg)
	switch strings.ToUpper(parts[0]) {
	case "HELP":
		s.reply(214, "Available SITE commands: HELP, CHMOD")
	case "CHMOD":
		s.siteChmod(parts[1:])
	default:
		s.reply(502, "SITE command not implemented.")
	}
	return nil
}

// siteChmod handles SITE CHMOD <octal mode> <path>.
func (s *session) siteChmod(args []string) {
	ch, ok := s.server.fs.(Chmoder)
	if !ok {
		s.reply(502, "SITE CHMOD not supported.")
		return
	}
	if len(args) < 2 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	mode, err := strconv.ParseUint(args[0], 8, 32)
	if err != nil || mode > 0777 {
		s.reply(501, "Invalid mode.")
		return
	}

	p := s.state.resolve(strings.Join(args[1:], " "))
	if err := ch.Chmod(p, os.FileMode(mode)); err != nil {
		s.replyError(err)
		return
	}
	s.audit("permissions_changed", p)
	s.reply(200, "SITE CHMOD command successful.")
}
