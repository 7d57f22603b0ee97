package server

import (
	"fmt"
	"strings"
)

// Predefined command groups for use with WithDisableCommands.
//
// Example, a download-only server:
//
//	s, _ := server.NewServer(":21",
//	    server.WithFileSystem(fs),
//	    server.WithAuthenticator(users),
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
var (
	// LegacyCommands are the RFC 775 X* aliases.
	LegacyCommands = []string{"XCWD", "XCUP", "XPWD", "XMKD", "XRMD"}

	// ActiveModeCommands open data connections from the server to the client.
	ActiveModeCommands = []string{"PORT"}

	// WriteCommands modify the file system.
	WriteCommands = []string{
		"STOR",
		"APPE",
		"DELE",
		"RMD",
		"XRMD",
		"MKD",
		"XMKD",
		"RNFR",
		"RNTO",
	}

	// SiteCommands contains SITE administrative commands such as SITE CHMOD.
	SiteCommands = []string{"SITE"}
)

// WithDisableCommands makes the server answer the given verbs with 502 as
// if they were unknown. Verbs are matched case-insensitively; unknown verbs
// are rejected so typos in configuration surface early.
func WithDisableCommands(verbs ...string) Option {
	return func(s *Server) error {
		if s.disabledCommands == nil {
			s.disabledCommands = make(map[string]bool)
		}
		for _, v := range verbs {
			v = strings.ToUpper(strings.TrimSpace(v))
			if _, ok := commands[v]; !ok {
				return fmt.Errorf("cannot disable unknown command %q", v)
			}
			s.disabledCommands[v] = true
		}
		return nil
	}
}
