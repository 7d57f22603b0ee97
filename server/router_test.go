package server

import (
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFS wraps a FileSystem and counts every call. With panicOnStat it
// panics in Stat, standing in for a buggy backend.
type countingFS struct {
	FileSystem
	calls       atomic.Int32
	panicOnStat bool
}

func (f *countingFS) List(p string) ([]os.FileInfo, error) {
	f.calls.Add(1)
	return f.FileSystem.List(p)
}

func (f *countingFS) Stat(p string) (os.FileInfo, error) {
	f.calls.Add(1)
	if f.panicOnStat {
		panic("stat exploded")
	}
	return f.FileSystem.Stat(p)
}

func (f *countingFS) MakeDir(p string) error {
	f.calls.Add(1)
	return f.FileSystem.MakeDir(p)
}

func (f *countingFS) RemoveDir(p string) error {
	f.calls.Add(1)
	return f.FileSystem.RemoveDir(p)
}

func (f *countingFS) RemoveFile(p string) error {
	f.calls.Add(1)
	return f.FileSystem.RemoveFile(p)
}

func (f *countingFS) Rename(from, to string) error {
	f.calls.Add(1)
	return f.FileSystem.Rename(from, to)
}

func (f *countingFS) OpenRead(p string) (io.ReadCloser, error) {
	f.calls.Add(1)
	return f.FileSystem.OpenRead(p)
}

func (f *countingFS) OpenWrite(p string, append bool) (io.WriteCloser, error) {
	f.calls.Add(1)
	return f.FileSystem.OpenWrite(p, append)
}

func startCountingServer(t *testing.T, options ...Option) (*testServer, *countingFS) {
	t.Helper()
	root := t.TempDir()
	inner, err := NewFSDriver(root)
	require.NoError(t, err)
	t.Cleanup(func() { inner.Close() })

	fs := &countingFS{FileSystem: inner}
	return startServerWithFS(t, fs, root, options...), fs
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		line, verb, arg string
	}{
		{"NOOP", "NOOP", ""},
		{"retr file.txt", "RETR", "file.txt"},
		{"STOR name with spaces.txt", "STOR", "name with spaces.txt"},
		{"Cwd  /two  spaces", "CWD", " /two  spaces"},
		{"", "", ""},
	}
	for _, tt := range tests {
		verb, arg := splitCommand(tt.line)
		assert.Equal(t, tt.verb, verb, "line %q", tt.line)
		assert.Equal(t, tt.arg, arg, "line %q", tt.line)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	ts := startServer(t)
	c := ts.dialRaw(t)

	c.expect(502, "XYZZY")
	// Exact match only, no prefix completion.
	c.expect(502, "NOO")
	c.expect(502, "NOOPS")
	c.expect(500, "")
	// The session survives all of the above.
	c.expect(200, "NOOP")
}

func TestVerbsAreCaseInsensitive(t *testing.T) {
	t.Parallel()
	ts := startServer(t)
	c := ts.dialRaw(t)

	c.expect(200, "noop")
	c.expect(215, "Syst")
	c.expect(331, "user alice")
	c.expect(230, "pass secret")
	c.expect(257, "pwd")
}

func TestCommandsRequireLogin(t *testing.T) {
	t.Parallel()
	ts, fs := startCountingServer(t)
	writeFile(t, ts.root, "file.txt", "data")
	c := ts.dialRaw(t)

	for _, line := range []string{
		"CWD /", "CDUP", "PWD", "LIST", "NLST", "RETR file.txt",
		"STOR new.txt", "APPE file.txt", "MKD dir", "RMD dir", "DELE file.txt",
		"RNFR file.txt", "RNTO other.txt", "SIZE file.txt", "MDTM file.txt",
		"PASV", "EPSV", "PORT 127,0,0,1,4,1", "TYPE A", "SITE CHMOD 600 file.txt",
	} {
		code, msg := c.cmd("%s", line)
		assert.Equal(t, 530, code, "%s: %s", line, msg)
	}
	assert.Zero(t, fs.calls.Load(), "no handler may touch the file system before login")

	// Commands open before login.
	c.expect(200, "NOOP")
	c.expect(215, "SYST")
	c.expect(211, "FEAT")
	c.expect(214, "HELP")
	c.expect(211, "STAT")
	c.expect(200, "MODE S")
	c.expect(200, "STRU F")
	c.expect(202, "ALLO 100")
}

func TestMissingArgument(t *testing.T) {
	t.Parallel()
	ts, fs := startCountingServer(t)
	c := ts.dialRaw(t)

	c.expect(501, "USER")
	c.login("alice", "secret")
	for _, verb := range []string{"CWD", "MKD", "RMD", "DELE", "RNFR", "RNTO", "SIZE", "MDTM", "RETR", "STOR", "APPE", "TYPE", "PORT", "SITE"} {
		c.expect(501, "%s", verb)
		c.expect(501, "%s   ", verb)
	}
	assert.Zero(t, fs.calls.Load())
}

func TestHandlerPanicGetsReply(t *testing.T) {
	t.Parallel()
	ts, fs := startCountingServer(t)
	fs.panicOnStat = true
	c := ts.dialRaw(t)
	c.login("alice", "secret")

	c.expect(451, "SIZE file.txt")
	c.expect(200, "NOOP")
}

func TestDisabledCommands(t *testing.T) {
	t.Parallel()
	ts := startServer(t, WithDisableCommands(WriteCommands...), WithDisableCommands("port"))
	c := ts.dialRaw(t)
	c.login("alice", "secret")

	c.expect(502, "MKD dir")
	c.expect(502, "STOR file")
	c.expect(502, "PORT 127,0,0,1,4,1")
	c.expect(257, "PWD")
}

func TestWithDisableCommandsRejectsUnknownVerb(t *testing.T) {
	fs, err := NewFSDriver(t.TempDir())
	require.NoError(t, err)
	defer fs.Close()

	_, err = NewServer(":0", WithFileSystem(fs), WithAuthenticator(testCredentials), WithDisableCommands("FROB"))
	assert.Error(t, err)
}

func TestCommandMetrics(t *testing.T) {
	t.Parallel()
	mc := newRecordingCollector()
	ts := startServer(t, WithMetricsCollector(mc))
	c := ts.dialRaw(t)

	c.expect(200, "NOOP")
	c.expect(502, "XYZZY")
	c.expect(530, "PWD")
	c.expect(221, "QUIT")

	require.Eventually(t, func() bool { return len(mc.commandsSnapshot()) == 4 }, time.Second, 10*time.Millisecond)
	cmds := mc.commandsSnapshot()
	assert.Equal(t, recordedCommand{"NOOP", true}, cmds[0])
	assert.Equal(t, recordedCommand{"XYZZY", false}, cmds[1])
	assert.Equal(t, recordedCommand{"PWD", false}, cmds[2])
	assert.Equal(t, recordedCommand{"QUIT", true}, cmds[3])
}
