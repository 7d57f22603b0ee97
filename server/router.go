package server

import (
	"fmt"
	"strings"
	"time"
)

// handler is the capability shared by every command: it receives the
// session (control channel, configuration and state) and the raw argument,
// writes its replies, and returns an error only for internal failures.
type handler interface {
	handle(s *session, arg string) error
}

// handlerFunc adapts a session method to handler.
type handlerFunc func(s *session, arg string) error

func (f handlerFunc) handle(s *session, arg string) error { return f(s, arg) }

type commandDef struct {
	handler   handler
	needsAuth bool
	needsArg  bool
}

// commands is the dispatch table. It is built once and only read afterwards,
// so sessions share it without locking.
var commands = map[string]commandDef{
	// Access control
	"USER": {handler: handlerFunc((*session).handleUSER), needsArg: true},
	"PASS": {handler: handlerFunc((*session).handlePASS)},
	"QUIT": {handler: handlerFunc((*session).handleQUIT)},

	// Navigation and file management
	"CWD":  {handler: handlerFunc((*session).handleCWD), needsAuth: true, needsArg: true},
	"XCWD": {handler: handlerFunc((*session).handleCWD), needsAuth: true, needsArg: true},
	"CDUP": {handler: handlerFunc((*session).handleCDUP), needsAuth: true},
	"XCUP": {handler: handlerFunc((*session).handleCDUP), needsAuth: true},
	"PWD":  {handler: handlerFunc((*session).handlePWD), needsAuth: true},
	"XPWD": {handler: handlerFunc((*session).handlePWD), needsAuth: true},
	"MKD":  {handler: handlerFunc((*session).handleMKD), needsAuth: true, needsArg: true},
	"XMKD": {handler: handlerFunc((*session).handleMKD), needsAuth: true, needsArg: true},
	"RMD":  {handler: handlerFunc((*session).handleRMD), needsAuth: true, needsArg: true},
	"XRMD": {handler: handlerFunc((*session).handleRMD), needsAuth: true, needsArg: true},
	"DELE": {handler: handlerFunc((*session).handleDELE), needsAuth: true, needsArg: true},
	"RNFR": {handler: handlerFunc((*session).handleRNFR), needsAuth: true, needsArg: true},
	"RNTO": {handler: handlerFunc((*session).handleRNTO), needsAuth: true, needsArg: true},
	"SIZE": {handler: handlerFunc((*session).handleSIZE), needsAuth: true, needsArg: true},
	"MDTM": {handler: handlerFunc((*session).handleMDTM), needsAuth: true, needsArg: true},

	// Transfers
	"LIST": {handler: listCommand, needsAuth: true},
	"NLST": {handler: nlstCommand, needsAuth: true},
	"RETR": {handler: retrCommand, needsAuth: true, needsArg: true},
	"STOR": {handler: storCommand, needsAuth: true, needsArg: true},
	"APPE": {handler: appeCommand, needsAuth: true, needsArg: true},

	// Transfer parameters
	"TYPE": {handler: handlerFunc((*session).handleTYPE), needsAuth: true, needsArg: true},
	"MODE": {handler: handlerFunc((*session).handleMODE), needsArg: true},
	"STRU": {handler: handlerFunc((*session).handleSTRU), needsArg: true},
	"PASV": {handler: handlerFunc((*session).handlePASV), needsAuth: true},
	"EPSV": {handler: handlerFunc((*session).handleEPSV), needsAuth: true},
	"PORT": {handler: handlerFunc((*session).handlePORT), needsAuth: true, needsArg: true},
	"ALLO": {handler: handlerFunc((*session).handleALLO)},

	// Information
	"SYST": {handler: handlerFunc((*session).handleSYST)},
	"FEAT": {handler: handlerFunc((*session).handleFEAT)},
	"HELP": {handler: handlerFunc((*session).handleHELP)},
	"STAT": {handler: handlerFunc((*session).handleSTAT)},
	"NOOP": {handler: handlerFunc((*session).handleNOOP)},
	"SITE": {handler: handlerFunc((*session).handleSITE), needsAuth: true, needsArg: true},
	"ABOR": {handler: handlerFunc((*session).handleABOR)},
}

// splitCommand separates the verb from its argument. The verb is
// upper-cased; the argument is returned verbatim.
func splitCommand(line string) (verb, arg string) {
	verb, arg, _ = strings.Cut(line, " ")
	return strings.ToUpper(verb), arg
}

// dispatch runs exactly one handler for line and guarantees the client
// gets at least one reply, whatever the handler does.
func dispatch(s *session, line string) {
	verb, arg := splitCommand(line)
	if verb == "" {
		s.reply(500, "Syntax error, command unrecognized.")
		return
	}

	logArg := arg
	if verb == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.state.username(),
		"cmd", verb,
		"arg", logArg,
	)

	start := time.Now()
	before := s.replies.Load()

	err := s.invoke(verb, arg)
	if err != nil {
		s.server.logger.Error("command_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.state.username(),
			"cmd", verb,
			"error", err,
		)
	}
	if s.replies.Load() == before {
		s.reply(451, "Requested action aborted: local error in processing.")
	}

	if s.server.metricsCollector != nil {
		success := err == nil && s.lastCode.Load() < 400
		s.server.metricsCollector.RecordCommand(verb, success, time.Since(start))
	}
}

// invoke checks the command's preconditions and calls its handler.
func (s *session) invoke(verb, arg string) (err error) {
	def, ok := commands[verb]
	if !ok || s.server.disabledCommands[verb] {
		s.reply(502, "Command not implemented.")
		return nil
	}
	if def.needsAuth && !s.state.isAuthenticated() {
		s.reply(530, "Not logged in.")
		return nil
	}
	if def.needsArg && strings.TrimSpace(arg) == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", verb, r)
		}
	}()
	return def.handler.handle(s, arg)
}
