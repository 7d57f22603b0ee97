package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginTransitions(t *testing.T) {
	st := newSessionState(TypeBinary)

	_, ok := st.pendingUser()
	assert.False(t, ok, "PASS must not be accepted before USER")
	assert.False(t, st.isAuthenticated())

	st.beginLogin("alice")
	user, ok := st.pendingUser()
	assert.True(t, ok)
	assert.Equal(t, "alice", user)

	// A failed PASS leaves the session logged out with no user name, but
	// the password may be retried.
	st.finishLogin(false)
	assert.False(t, st.isAuthenticated())
	assert.Empty(t, st.username())
	user, ok = st.pendingUser()
	assert.True(t, ok)
	assert.Equal(t, "alice", user)

	st.finishLogin(true)
	assert.True(t, st.isAuthenticated())
	assert.Equal(t, "alice", st.username())
	_, ok = st.pendingUser()
	assert.False(t, ok, "a completed login consumes the USER")

	// USER always restarts the login.
	st.beginLogin("bob")
	assert.False(t, st.isAuthenticated())
	assert.Empty(t, st.username())
}

func TestResolve(t *testing.T) {
	st := newSessionState(TypeBinary)
	tests := []struct {
		cwd, arg, want string
	}{
		{"/", "file.txt", "/file.txt"},
		{"/", "/abs/file", "/abs/file"},
		{"/a/b", "c", "/a/b/c"},
		{"/a/b", "..", "/a"},
		{"/a", "../../..", "/"},
		{"/a", "/x/../y/./z", "/y/z"},
		{"/a", ".", "/a"},
	}
	for _, tt := range tests {
		st.setWorkingDir(tt.cwd)
		assert.Equal(t, tt.want, st.resolve(tt.arg), "cwd=%s arg=%s", tt.cwd, tt.arg)
	}
}

func TestRenameSequence(t *testing.T) {
	st := newSessionState(TypeBinary)

	_, ok := st.takeRenameFrom()
	assert.False(t, ok)

	st.setRenameFrom("/a")
	st.setRenameFrom("/b")
	from, ok := st.takeRenameFrom()
	assert.True(t, ok)
	assert.Equal(t, "/b", from, "a second RNFR replaces the first")

	_, ok = st.takeRenameFrom()
	assert.False(t, ok, "the pending rename is consumed")
}

func TestTransferTypeDefault(t *testing.T) {
	assert.Equal(t, TypeASCII, newSessionState(TypeASCII).transferType())

	st := newSessionState(TypeBinary)
	assert.Equal(t, TypeBinary, st.transferType())
	st.setTransferType(TypeASCII)
	assert.Equal(t, TypeASCII, st.transferType())
	assert.Equal(t, "A", TypeASCII.String())
	assert.Equal(t, "I", TypeBinary.String())
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

// closed reports whether ln no longer accepts connections.
func closed(ln net.Listener) bool {
	c, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		return true
	}
	c.Close()
	return false
}

func TestDataChannelTakeClears(t *testing.T) {
	st := newSessionState(TypeBinary)
	ln := listen(t)
	st.storePassive(ln, time.Minute)
	assert.Equal(t, dataPassive, st.dataMode())

	d := st.takeDataChannel()
	assert.Equal(t, dataPassive, d.mode)
	assert.Same(t, ln, d.listener)
	assert.Equal(t, dataNone, st.dataMode())

	// Taken channels belong to the caller; nothing is stored anymore.
	assert.Equal(t, dataNone, st.takeDataChannel().mode)
	d.release()
}

func TestDataChannelReplaceReleasesOld(t *testing.T) {
	st := newSessionState(TypeBinary)
	first := listen(t)
	st.storePassive(first, time.Minute)

	st.setDataChannel(dataChannel{mode: dataActive, addr: "127.0.0.1:9"})
	assert.True(t, closed(first), "replaced passive listener must be closed")
	assert.Equal(t, dataActive, st.dataMode())

	st.clearDataChannel()
	assert.Equal(t, dataNone, st.dataMode())
}

func TestPassiveListenerExpires(t *testing.T) {
	st := newSessionState(TypeBinary)
	ln := listen(t)
	st.storePassive(ln, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return st.dataMode() == dataNone
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, closed(ln))
}

func TestExpireListenerIgnoresReplacedListener(t *testing.T) {
	st := newSessionState(TypeBinary)
	old := listen(t)
	current := listen(t)
	st.storePassive(current, time.Minute)

	assert.False(t, st.expireListener(old))
	assert.Equal(t, dataPassive, st.dataMode())
	assert.False(t, closed(current))

	assert.True(t, st.expireListener(current))
	assert.Equal(t, dataNone, st.dataMode())
}

func TestTakenListenerDoesNotExpire(t *testing.T) {
	st := newSessionState(TypeBinary)
	ln := listen(t)
	st.storePassive(ln, 30*time.Millisecond)

	d := st.takeDataChannel()
	time.Sleep(100 * time.Millisecond)
	assert.False(t, closed(d.listener), "a claimed listener is owned by the transfer")
	d.release()
}

func TestStateConcurrentAccess(t *testing.T) {
	st := newSessionState(TypeBinary)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.beginLogin("alice")
				st.finishLogin(j%2 == 0)
				st.setRenameFrom("/x")
				st.takeRenameFrom()
				st.resolve("y")
				st.setTransferType(TypeASCII)
				st.clearDataChannel()
			}
		}()
	}
	wg.Wait()
}
