// Package fish implements the FISH-over-SSH driver of §4.10: an ssh
// child process running shell recipes, with a `### NNN` marker
// protocol instead of SFTP. Grounded on the teacher's
// backend/sftp/ssh_external.go (spawning `ssh` via os/exec with a
// cancelable context, stdin/stdout pipes, WaitDelay-bounded shutdown)
// — the same approach, but driving a line-oriented marker protocol
// instead of the SFTP subsystem.
package fish

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/lftpgo/xfer/pool"
	"github.com/lftpgo/xfer/ratelimit"
	"github.com/lftpgo/xfer/scheduler"
	"github.com/lftpgo/xfer/xfer"
	"github.com/lftpgo/xfer/xfer/xlog"
)

var log = xlog.New("fish")

// opMode tracks which Open mode is in flight, mirroring the FTP
// driver's opMode field.
type opMode int

const (
	opNone opMode = iota
	opRetrieve
	opStore
	opList
	opLongList
	opMPList
	opOther
)

// State is the FISH driver's state machine position, per §4.10.
type State int

const (
	Disconnected State = iota
	Starting
	LoggingIn
	Idle
	Waiting
	ReceivingBody
	Fatal
	NoFile
	NoHost
	LoginFailed
	StoreFailed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Starting:
		return "Starting"
	case LoggingIn:
		return "LoggingIn"
	case Idle:
		return "Idle"
	case Waiting:
		return "Waiting"
	case ReceivingBody:
		return "ReceivingBody"
	case Fatal:
		return "Fatal"
	case NoFile:
		return "NoFile"
	case NoHost:
		return "NoHost"
	case LoginFailed:
		return "LoginFailed"
	case StoreFailed:
		return "StoreFailed"
	default:
		return "Unknown"
	}
}

// Options configures a Session, per §4.10 and the fish:* keys of §6.
type Options struct {
	Host            string
	Port            int
	User            string
	Pass            string
	Shell           string // fish:shell, default "/bin/sh"
	Charset         string
	ConnectProgram  []string // fish:connect-program, default {"ssh","-a","-x"}
	CloseTimeout    time.Duration
	ConnectionLimit int
	// NativeSSH dials with golang.org/x/crypto/ssh + ssh-agent instead
	// of spawning ConnectProgram; see native.go. Only applicable when
	// no interactive password prompt is expected.
	NativeSSH bool
}

// Session implements xfer.Session, pool.Takeover, and scheduler.Task
// by driving an `ssh` child process per the marker protocol of §4.10.
type Session struct {
	mu sync.Mutex

	opt  Options
	id   xfer.Identity
	pass string

	global   *ratelimit.Global
	registry *pool.Registry
	limiter  *ratelimit.Limiter

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser
	stdout *bufio.Reader

	nativeClient  *ssh.Client
	nativeSession *ssh.Session

	chunks  chan chunk
	inbuf   []byte // bytes read from stdout not yet consumed
	readEOF bool   // the ssh child's stdout has been fully drained

	state State
	cwd   string
	home  string

	path string
	pos  int64

	// marker-protocol bookkeeping.
	opMode      opMode
	pendingPath string
	message     []byte // accumulated non-marker line bytes since the last dispatched marker
	deliverable []byte // RETR body bytes available to Read, extracted from inbuf
	markerSeen  bool
	markerCode  int

	passwordPrompts int

	writePos int
	writeBuf []byte

	intendedPath string
	priority     int

	lastErr     error
	lastErrKind xfer.Kind

	handle *scheduler.Handle
}

// NewSession builds a disconnected Session.
func NewSession(opt Options, global *ratelimit.Global, registry *pool.Registry) *Session {
	if opt.Shell == "" {
		opt.Shell = "/bin/sh"
	}
	if len(opt.ConnectProgram) == 0 {
		opt.ConnectProgram = []string{"ssh", "-a", "-x"}
	}
	return &Session{
		opt:      opt,
		id:       xfer.Identity{Protocol: "fish", Host: opt.Host, Port: opt.Port, User: opt.User},
		pass:     opt.Pass,
		global:   global,
		registry: registry,
		state:    Disconnected,
	}
}

func (s *Session) SetHandle(h *scheduler.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

// ------------------------------------------------------------ xfer.Session

func (s *Session) Identity() xfer.Identity { return s.id }
func (s *Session) Password() string        { return s.pass }
func (s *Session) Cwd() string             { return s.cwd }
func (s *Session) Home() (string, bool)    { return s.home, s.home != "" }

func (s *Session) Clone() xfer.Session {
	return NewSession(s.opt, s.global, s.registry)
}

func (s *Session) SameSiteAs(other xfer.Session) bool {
	o, ok := other.(*Session)
	if !ok {
		return false
	}
	return s.id == o.id && s.pass == o.pass
}

func (s *Session) SameLocationAs(other xfer.Session) bool {
	return s.SameSiteAs(other) && s.cwd == other.Cwd()
}

func (s *Session) IsBetterThan(other xfer.Session) bool {
	o, ok := other.(*Session)
	if !ok {
		return false
	}
	sConnected, oConnected := s.cmd != nil, o.cmd != nil
	if sConnected != oConnected {
		return sConnected
	}
	return s.Idle() && !o.Idle()
}

func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Idle
}

func (s *Session) IntendedPath() string { return s.intendedPath }
func (s *Session) Priority() int        { return s.priority }

func (s *Session) AdoptFrom(srcT pool.Takeover) error {
	src, ok := srcT.(*Session)
	if !ok {
		return xfer.NotSupported
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cmd, s.cancel = src.cmd, src.cancel
	s.stdin, s.stdout = src.stdin, src.stdout
	s.nativeClient, s.nativeSession = src.nativeClient, src.nativeSession
	s.chunks = src.chunks
	s.inbuf = src.inbuf
	s.cwd, s.home = src.cwd, src.home
	s.limiter = src.limiter
	s.state = Idle

	src.cmd, src.cancel = nil, nil
	src.stdin, src.stdout = nil, nil
	src.nativeClient, src.nativeSession = nil, nil
	src.chunks = nil
	src.limiter = nil
	src.state = Disconnected
	return nil
}

func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	if s.registry != nil {
		s.registry.Untrack(s)
	}
	if s.limiter != nil {
		s.limiter.Close()
		s.limiter = nil
	}
	s.state = Disconnected
}

func (s *Session) closeLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.cmd, s.stdin, s.stdout = nil, nil, nil
	s.nativeClient, s.nativeSession = nil, nil
}

// ------------------------------------------------------------ connect/login

// Connect spawns the ssh child process per §4.10: `connect-program`
// (default "ssh -a -x") plus -l user, -p port, host, and an inline
// shell prologue that starts the FISH protocol. Grounded on the
// teacher's sshSessionExternal.Start: exec.CommandContext with a
// cancelable context, stdin/stdout pipes, Start (non-blocking).
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opt.NativeSSH {
		return s.connectNative(ctx, host, port)
	}

	cctx, cancel := context.WithCancel(context.Background())
	args := append([]string(nil), s.opt.ConnectProgram[1:]...)
	if s.opt.User != "" {
		args = append(args, "-l", s.opt.User)
	}
	if port != 0 {
		args = append(args, "-p", strconv.Itoa(port))
	}
	args = append(args, host)
	prologue := fmt.Sprintf(
		"start_fish_server; TZ=GMT; LC_ALL=C; echo '### 200'",
	)
	args = append(args, prologue)

	cmd := exec.CommandContext(cctx, s.opt.ConnectProgram[0], args...)
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return xfer.Fatal("opening ssh stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return xfer.Fatal("opening ssh stdout", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		s.state = NoHost
		return xfer.NoHost(fmt.Sprintf("starting %s: %v", s.opt.ConnectProgram[0], err), err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.state = Starting
	s.passwordPrompts = 0
	return nil
}

// startPump launches the background stdout reader once the password
// dialog in Login has finished and Step can take over non-blocking
// consumption of chunks.
func (s *Session) startPump() {
	s.chunks = make(chan chunk, 16)
	var notify func()
	if s.handle != nil {
		notify = s.handle.Notify
	}
	go pumpReader(s.stdout, s.chunks, notify)
}

// Login drives the password-prompt dialog of §4.10: lines ending in
// "password:" or "':" trigger sending the stored password (or "yes" for
// host-key prompts); a second password prompt means LoginFailed.
func (s *Session) Login(ctx context.Context, user, pass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id.User, s.pass = user, pass

	for {
		line, err := s.stdout.ReadString('\n')
		if err != nil {
			s.state = Fatal
			return xfer.Fatal("reading ssh handshake", err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasSuffix(trimmed, "password:"):
			s.passwordPrompts++
			if s.passwordPrompts > 1 {
				s.state = LoginFailed
				return xfer.LoginFailed("repeated password prompt")
			}
			if _, err := io.WriteString(s.stdin, pass+"\n"); err != nil {
				return xfer.Fatal("writing password", err)
			}
		case strings.HasSuffix(trimmed, "':"):
			if _, err := io.WriteString(s.stdin, "yes\n"); err != nil {
				return xfer.Fatal("accepting host key", err)
			}
		case strings.HasPrefix(trimmed, "### "):
			code, ok := parseMarkerCode(trimmed)
			if !ok || code != 200 {
				s.state = LoginFailed
				return xfer.LoginFailed("fish server did not start: " + trimmed)
			}
			s.state = Idle
			if err := s.fetchHome(); err != nil {
				return err
			}
			s.startPump()
			if s.registry != nil {
				s.registry.Track(s)
			}
			return nil
		}
	}
}

// fetchHome issues PWD once to seed Home(), mirroring the FTP driver's
// post-login PWD probe.
func (s *Session) fetchHome() error {
	reply, err := s.runBlocking("PWD", "pwd 2>&1; echo \"### $?\"")
	if err != nil {
		return err
	}
	if reply.code == 0 {
		path := strings.TrimSpace(string(reply.message))
		s.home, s.cwd = path, path
	}
	return nil
}

func parseMarkerCode(line string) (int, bool) {
	rest := strings.TrimPrefix(line, "### ")
	rest = strings.TrimSpace(rest)
	if len(rest) < 3 {
		return 0, false
	}
	code, err := strconv.Atoi(rest[:3])
	if err != nil {
		return 0, false
	}
	return code, true
}

type blockingReply struct {
	code    int
	message []byte
}

// runBlocking sends one shell recipe and blocks for its "### NNN"
// terminator; used only during Login/fetchHome before the cooperative
// Step loop takes over, exactly as the FTP driver's
// sendCommandBlocking/readReply pair is used only during Connect/Login.
func (s *Session) runBlocking(label, shell string) (blockingReply, error) {
	if _, err := io.WriteString(s.stdin, shell+"\n"); err != nil {
		return blockingReply{}, xfer.Fatal("writing command "+label, err)
	}
	var msg []byte
	for {
		line, err := s.stdout.ReadString('\n')
		if err != nil {
			return blockingReply{}, xfer.Fatal("reading reply to "+label, err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, "### ") {
			code, ok := parseMarkerCode(trimmed)
			if !ok {
				return blockingReply{}, xfer.Fatal("malformed marker: "+trimmed, nil)
			}
			return blockingReply{code: code, message: msg}, nil
		}
		msg = append(msg, line...)
	}
}
