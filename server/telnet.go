package server

import (
	"bufio"
	"strings"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

const (
	telnetIAC  = 0xFF // Interpret As Command
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// readCommand reads one control line, dropping Telnet negotiation
// sequences (RFC 854) some clients interleave with commands. An escaped
// IAC IAC yields a literal 0xFF. The trailing CRLF (or bare LF) is removed.
func readCommand(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}

		if b == telnetIAC {
			op, err := r.ReadByte()
			if err != nil {
				return "", err
			}
			switch op {
			case telnetIAC:
				// Escaped 0xFF, kept as data.
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				if _, err := r.ReadByte(); err != nil {
					return "", err
				}
				continue
			default:
				continue
			}
		}

		if b == '\n' {
			return strings.TrimSuffix(string(line), "\r"), nil
		}
		if len(line) >= MaxCommandLength {
			return "", errCommandTooLong
		}
		line = append(line, b)
	}
}
