package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/require"
)

func fatalIfErr(t *testing.T, err error, format string, args ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}

// testCredentials accepts alice/secret and bob/hunter2.
var testCredentials = AuthenticatorFunc(func(user, pass string) bool {
	return (user == "alice" && pass == "secret") || (user == "bob" && pass == "hunter2")
})

type testServer struct {
	*Server
	addr string
	root string
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a server on a loopback port serving a fresh temporary
// directory. Options given override the defaults.
func startServer(t *testing.T, options ...Option) *testServer {
	t.Helper()
	root := t.TempDir()

	fs, err := NewFSDriver(root)
	fatalIfErr(t, err, "NewFSDriver")
	t.Cleanup(func() { fs.Close() })

	return startServerWithFS(t, fs, root, options...)
}

func startServerWithFS(t *testing.T, fs FileSystem, root string, options ...Option) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen")

	opts := append([]Option{
		WithFileSystem(fs),
		WithAuthenticator(testCredentials),
		WithLogger(discardLogger()),
	}, options...)
	srv, err := NewServer(ln.Addr().String(), opts...)
	fatalIfErr(t, err, "NewServer")

	go func() {
		if err := srv.Serve(ln); err != nil && err != ErrServerClosed {
			t.Logf("Server stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Logf("Shutdown failed: %v", err)
		}
	})

	return &testServer{Server: srv, addr: ln.Addr().String(), root: root}
}

// dialClient connects the FTP client library and logs in as alice.
func (ts *testServer) dialClient(t *testing.T, options ...ftp.DialOption) *ftp.ServerConn {
	t.Helper()
	options = append([]ftp.DialOption{ftp.DialWithTimeout(5 * time.Second)}, options...)
	c, err := ftp.Dial(ts.addr, options...)
	fatalIfErr(t, err, "Dial")
	t.Cleanup(func() { c.Quit() })

	fatalIfErr(t, c.Login("alice", "secret"), "Login")
	return c
}

// rawClient speaks the control protocol directly.
type rawClient struct {
	t    *testing.T
	conn *textproto.Conn
	nc   net.Conn
}

func (ts *testServer) dialRaw(t *testing.T) *rawClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", ts.addr, 5*time.Second)
	fatalIfErr(t, err, "Dial")
	t.Cleanup(func() { nc.Close() })
	_ = nc.SetDeadline(time.Now().Add(10 * time.Second))

	c := &rawClient{t: t, conn: textproto.NewConn(nc), nc: nc}
	code, _ := c.read()
	require.Equal(t, 220, code)
	return c
}

// read returns the next reply.
func (c *rawClient) read() (int, string) {
	c.t.Helper()
	code, msg, err := c.conn.ReadResponse(0)
	fatalIfErr(c.t, err, "ReadResponse")
	return code, msg
}

// cmd sends one command line and returns its reply.
func (c *rawClient) cmd(format string, args ...any) (int, string) {
	c.t.Helper()
	_, err := c.conn.Cmd(format, args...)
	fatalIfErr(c.t, err, "Cmd %q", format)
	return c.read()
}

// expect sends a command and checks the reply code.
func (c *rawClient) expect(code int, format string, args ...any) string {
	c.t.Helper()
	got, msg := c.cmd(format, args...)
	require.Equal(c.t, code, got, "%q: %s", fmt.Sprintf(format, args...), msg)
	return msg
}

// expectReply reads a reply without sending anything, for the completion
// reply of a transfer.
func (c *rawClient) expectReply(code int) string {
	c.t.Helper()
	got, msg := c.read()
	require.Equal(c.t, code, got, msg)
	return msg
}

func (c *rawClient) login(user, pass string) {
	c.t.Helper()
	c.expect(331, "USER %s", user)
	c.expect(230, "PASS %s", pass)
}

// pasv issues PASV and returns the advertised data address.
func (c *rawClient) pasv() string {
	c.t.Helper()
	msg := c.expect(227, "PASV")
	ip, port, err := parsePortArg(msg[strings.Index(msg, "(")+1 : strings.LastIndex(msg, ")")])
	fatalIfErr(c.t, err, "parse PASV reply %q", msg)
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	fatalIfErr(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644), "WriteFile %s", name)
}

func assertFileContent(t *testing.T, root, name, want string) {
	t.Helper()
	got, err := os.ReadFile(filepath.Join(root, name))
	fatalIfErr(t, err, "ReadFile %s", name)
	require.Equal(t, want, string(got))
}
