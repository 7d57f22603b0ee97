package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type dataMode int

const (
	dataNone dataMode = iota
	dataPassive
	dataActive
)

func (m dataMode) String() string {
	switch m {
	case dataPassive:
		return "passive"
	case dataActive:
		return "active"
	default:
		return "none"
	}
}

// dataChannel is a negotiated data connection setup that has not been used
// yet. Passive channels own a listener that accepts at most one connection
// before deadline; active channels only hold the address to dial.
type dataChannel struct {
	mode     dataMode
	listener net.Listener
	deadline time.Time
	expiry   *time.Timer
	addr     string
}

// release closes the listener of an unused passive channel.
func (d dataChannel) release() {
	if d.expiry != nil {
		d.expiry.Stop()
	}
	if d.listener != nil {
		d.listener.Close()
	}
}

// storePassive makes ln the session's data channel. The listener is closed
// by the expiry timer if no transfer claims it within the data timeout.
func (st *sessionState) storePassive(ln net.Listener, ttl time.Duration) {
	st.mu.Lock()
	old := st.data
	st.data = dataChannel{
		mode:     dataPassive,
		listener: ln,
		deadline: time.Now().Add(ttl),
	}
	// Armed under the lock so the timer always finds ln stored.
	st.data.expiry = time.AfterFunc(ttl, func() {
		st.expireListener(ln)
	})
	st.mu.Unlock()
	old.release()
}

// listenPassive opens a listener for a passive data connection on host.
// When a port range is configured, ports are tried round-robin.
func (srv *Server) listenPassive(host string) (net.Listener, error) {
	if srv.pasvMinPort > 0 && srv.pasvMaxPort >= srv.pasvMinPort {
		rangeLen := uint32(srv.pasvMaxPort - srv.pasvMinPort + 1)
		start := srv.nextPassivePort.Add(1)

		for i := uint32(0); i < rangeLen; i++ {
			port := srv.pasvMinPort + int((start+i)%rangeLen)
			ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err == nil {
				return ln, nil
			}
		}
		return nil, fmt.Errorf("no available ports in range [%d, %d]", srv.pasvMinPort, srv.pasvMaxPort)
	}
	return net.Listen("tcp", net.JoinHostPort(host, "0"))
}

// advertisedIP returns the IPv4 address sent in PASV replies, or nil when
// the control connection has no IPv4 address and no public host is set.
func (s *session) advertisedIP() net.IP {
	if ip := s.server.publicIP(); ip != nil {
		return ip
	}
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	ip := net.ParseIP(host).To4()
	if ip == nil || ip.IsUnspecified() {
		return nil
	}
	return ip
}

// publicIP resolves the configured public host once.
func (srv *Server) publicIP() net.IP {
	if srv.publicHost == "" {
		return nil
	}
	srv.publicOnce.Do(func() {
		if ip := net.ParseIP(srv.publicHost); ip != nil {
			srv.resolvedIP = ip.To4()
			return
		}
		ips, err := net.LookupIP(srv.publicHost)
		if err != nil {
			srv.logger.Warn("public_host_unresolved", "host", srv.publicHost, "error", err)
			return
		}
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				srv.resolvedIP = v4
				return
			}
		}
	})
	return srv.resolvedIP
}

// openPassive allocates and stores a passive listener, returning its port.
func (s *session) openPassive() (int, error) {
	host, _, err := net.SplitHostPort(s.conn.LocalAddr().String())
	if err != nil {
		host = ""
	}
	ln, err := s.server.listenPassive(host)
	if err != nil {
		return 0, err
	}
	s.state.storePassive(ln, s.server.dataTimeout)

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port, nil
}

func (s *session) handlePASV(_ string) error {
	ip := s.advertisedIP()
	if ip == nil {
		s.reply(425, "Use EPSV on IPv6 connections.")
		return nil
	}

	port, err := s.openPassive()
	if err != nil {
		s.logPassiveFailure(err)
		s.reply(425, "Can't open passive connection.")
		return nil
	}

	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], port/256, port%256))
	return nil
}

func (s *session) handleEPSV(arg string) error {
	if arg != "" && !strings.EqualFold(arg, "ALL") && arg != "1" && arg != "2" {
		s.reply(522, "Network protocol not supported, use (1,2).")
		return nil
	}
	port, err := s.openPassive()
	if err != nil {
		s.logPassiveFailure(err)
		s.reply(425, "Can't open passive connection.")
		return nil
	}
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
	return nil
}

func (s *session) logPassiveFailure(err error) {
	s.server.logger.Error("passive_listen_failed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"error", err,
	)
}

// parsePortArg decodes the h1,h2,h3,h4,p1,p2 argument of PORT.
func parsePortArg(arg string) (net.IP, int, error) {
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		return nil, 0, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	var b [6]byte
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, 0, fmt.Errorf("field %d out of range: %q", i+1, p)
		}
		b[i] = byte(n)
	}

	port := int(b[4])<<8 | int(b[5])
	if port == 0 {
		return nil, 0, errors.New("port 0 is not allowed")
	}
	return net.IPv4(b[0], b[1], b[2], b[3]), port, nil
}

func (s *session) handlePORT(arg string) error {
	ip, port, err := parsePortArg(arg)
	if err != nil {
		s.reply(501, "Syntax error in parameters or arguments.")
		return nil
	}

	// The data connection may only go back to the client (no FTP bounce).
	if !ip.Equal(net.ParseIP(s.remoteIP)) {
		s.server.logger.Warn("port_rejected",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"target_ip", ip.String(),
		)
		s.reply(500, "Illegal PORT command.")
		return nil
	}

	s.state.setDataChannel(dataChannel{
		mode: dataActive,
		addr: net.JoinHostPort(ip.String(), strconv.Itoa(port)),
	})
	s.reply(200, "PORT command successful.")
	return nil
}

// openDataConn claims the negotiated data channel and connects it. The
// session's configuration is cleared whatever the outcome.
func (s *session) openDataConn() (net.Conn, error) {
	d := s.state.takeDataChannel()

	switch d.mode {
	case dataPassive:
		return s.acceptPassive(d)
	case dataActive:
		return s.dialActive(d.addr)
	default:
		return nil, errNoDataChannel
	}
}

func (s *session) acceptPassive(d dataChannel) (net.Conn, error) {
	ln := d.listener
	defer ln.Close()

	s.server.logger.Debug("waiting for passive connection",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"addr", ln.Addr().String(),
	)

	if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		_ = dl.SetDeadline(d.deadline)
	}
	stop := context.AfterFunc(s.ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, errDataTimeout
		}
		return nil, fmt.Errorf("passive accept: %w", err)
	}
	return s.server.newDataConn(conn), nil
}

func (s *session) dialActive(addr string) (net.Conn, error) {
	s.server.logger.Debug("dialing active connection",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"addr", addr,
	)

	dialer := net.Dialer{Timeout: s.server.dataTimeout}
	conn, err := dialer.DialContext(s.ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("active dial %s: %w", addr, err)
	}
	return s.server.newDataConn(conn), nil
}

// dataConn is a tracked data connection with an idle deadline refreshed on
// every read and write.
type dataConn struct {
	net.Conn
	server *Server
	idle   time.Duration
	closed atomic.Bool
}

func (srv *Server) newDataConn(conn net.Conn) *dataConn {
	srv.trackConnection(conn, true)
	return &dataConn{Conn: conn, server: srv, idle: srv.maxIdleTime}
}

func (c *dataConn) Read(p []byte) (int, error) {
	if c.idle > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	}
	return c.Conn.Read(p)
}

func (c *dataConn) Write(p []byte) (int, error) {
	if c.idle > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.idle))
	}
	return c.Conn.Write(p)
}

func (c *dataConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.server.trackConnection(c.Conn, false)
	return c.Conn.Close()
}
