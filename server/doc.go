// Package server implements an FTP server (RFC 959) with passive (PASV,
// EPSV) and active (PORT) data connections.
//
// # Getting Started
//
// The easiest way to start is to serve a local directory with FSDriver and
// check passwords against a UserTable:
//
//	package main
//
//	import (
//	    "log"
//
//	    "github.com/gonzalop/ftpd/server"
//	)
//
//	func main() {
//	    fs, err := server.NewFSDriver("/srv/ftp")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer fs.Close()
//
//	    users := server.NewUserTable()
//	    if err := users.AddPassword("alice", "secret"); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    s, err := server.NewServer(":2121",
//	        server.WithFileSystem(fs),
//	        server.WithAuthenticator(users),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Fatal(s.ListenAndServe())
//	}
//
// # Sessions
//
// Each control connection gets a session. Commands are handled one at a
// time: a transfer command runs to completion, data connection included,
// before the next command line is dispatched. A session is either logged
// in or not; every command that touches the file system or a data
// connection requires a login and is answered with 530 otherwise.
//
// # Data Connections
//
// PASV and EPSV open a listener that accepts a single connection. If no
// transfer uses it within the data timeout (WithDataTimeout) it is closed.
// PORT records the client's address; the server dials it when the transfer
// starts, and only if it matches the address of the control connection.
// Either way the setup is consumed by the next transfer, successful or not.
//
// Use WithPassivePortRange and WithPublicHost when the server runs behind a
// firewall or NAT:
//
//	s, _ := server.NewServer(":21",
//	    server.WithFileSystem(fs),
//	    server.WithAuthenticator(users),
//	    server.WithPassivePortRange(30000, 30099),
//	    server.WithPublicHost("ftp.example.com"),
//	)
//
// # Custom Backends
//
// Implement FileSystem to serve something other than a local directory, and
// Authenticator (or AuthenticatorFunc) to check credentials elsewhere.
// File systems that also implement Chmoder support SITE CHMOD.
//
// # Logging
//
// The server logs structured events through log/slog (WithLogger). Every
// session event carries session_id and remote_ip, and user once logged in.
// Passwords are never logged.
package server
