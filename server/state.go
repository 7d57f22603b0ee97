package server

import (
	"net"
	"path"
	"strings"
	"sync"
)

// TransferType is the representation type negotiated with TYPE.
type TransferType int

const (
	// TypeBinary passes bytes through unchanged (TYPE I).
	TypeBinary TransferType = iota
	// TypeASCII translates line endings to and from CRLF (TYPE A).
	TypeASCII
)

// String returns the TYPE argument for t.
func (t TransferType) String() string {
	if t == TypeASCII {
		return "A"
	}
	return "I"
}

// sessionState holds the protocol state of one control connection.
//
// Three independent machines live here: login (unauthenticated, awaiting
// password, authenticated), rename (idle, pending) and the data channel
// (none, configured). Every method holds mu only for the duration of the
// state transition; callers never hold it across network or disk I/O.
type sessionState struct {
	mu sync.Mutex

	authenticated bool
	awaitingPass  bool
	candidate     string // name given with USER
	user          string // set once authenticated

	cwd      string
	repType  TransferType
	pending  string // RNFR source
	renaming bool

	data dataChannel
}

func newSessionState(t TransferType) *sessionState {
	return &sessionState{
		cwd:     "/",
		repType: t,
	}
}

// beginLogin handles USER: any previous login is dropped.
func (st *sessionState) beginLogin(user string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.authenticated = false
	st.user = ""
	st.candidate = user
	st.awaitingPass = true
}

// pendingUser returns the name PASS should be verified against.
func (st *sessionState) pendingUser() (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.candidate, st.awaitingPass
}

// finishLogin applies the outcome of PASS. On failure the session is
// unauthenticated with no user name, and PASS may be retried.
func (st *sessionState) finishLogin(ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.authenticated = ok
	if ok {
		st.user = st.candidate
		st.awaitingPass = false
	} else {
		st.user = ""
	}
}

func (st *sessionState) isAuthenticated() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.authenticated
}

func (st *sessionState) username() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.user
}

func (st *sessionState) workingDir() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cwd
}

func (st *sessionState) setWorkingDir(dir string) {
	st.mu.Lock()
	st.cwd = dir
	st.mu.Unlock()
}

// resolve turns a command argument into an absolute virtual path.
func (st *sessionState) resolve(arg string) string {
	if strings.HasPrefix(arg, "/") {
		return path.Clean(arg)
	}
	st.mu.Lock()
	cwd := st.cwd
	st.mu.Unlock()
	return path.Join(cwd, arg)
}

func (st *sessionState) transferType() TransferType {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.repType
}

func (st *sessionState) setTransferType(t TransferType) {
	st.mu.Lock()
	st.repType = t
	st.mu.Unlock()
}

// setRenameFrom records the RNFR source, replacing any earlier one.
func (st *sessionState) setRenameFrom(p string) {
	st.mu.Lock()
	st.pending = p
	st.renaming = true
	st.mu.Unlock()
}

// takeRenameFrom consumes the RNFR source.
func (st *sessionState) takeRenameFrom() (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.pending, st.renaming
	st.pending = ""
	st.renaming = false
	return p, ok
}

// setDataChannel stores a freshly negotiated data channel. The previous
// one, if never used, is released.
func (st *sessionState) setDataChannel(d dataChannel) {
	st.mu.Lock()
	old := st.data
	st.data = d
	st.mu.Unlock()
	old.release()
}

// takeDataChannel hands the configured data channel to the caller, leaving
// none behind. The caller owns any listener it contains.
func (st *sessionState) takeDataChannel() dataChannel {
	st.mu.Lock()
	defer st.mu.Unlock()
	d := st.data
	st.data = dataChannel{}
	if d.expiry != nil {
		d.expiry.Stop()
	}
	return d
}

// clearDataChannel drops and releases the configured data channel.
func (st *sessionState) clearDataChannel() {
	st.takeDataChannel().release()
}

// expireListener closes ln only if it still belongs to the configured data
// channel. It runs from the passive listener's expiry timer.
func (st *sessionState) expireListener(ln net.Listener) bool {
	st.mu.Lock()
	if st.data.listener == nil || st.data.listener != ln {
		st.mu.Unlock()
		return false
	}
	st.data = dataChannel{}
	st.mu.Unlock()
	ln.Close()
	return true
}

func (st *sessionState) dataMode() dataMode {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.data.mode
}
