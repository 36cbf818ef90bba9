// Package ftp implements the FTP driver of §4.8: a command pipeline
// with paired response expectations, PASV/PORT/EPSV data-channel
// orchestration, REST/ABOR, and keep-alive.
//
// The teacher's backend/ftp/ftp.go delegates the entire wire protocol
// to github.com/jlaffaye/ftp; that dependency is deliberately not
// reused here (see DESIGN.md) because this package's job is exactly
// what that library would replace: the command/expectation-queue state
// machine spec.md calls the system's hard core. Session structure,
// option naming, retry/backoff conventions, and TLS handling below
// are still grounded on that file.
package ftp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lftpgo/xfer/config"
	"github.com/lftpgo/xfer/driver/netio"
	"github.com/lftpgo/xfer/pool"
	"github.com/lftpgo/xfer/ratelimit"
	"github.com/lftpgo/xfer/reconnect"
	"github.com/lftpgo/xfer/resolver"
	"github.com/lftpgo/xfer/scheduler"
	"github.com/lftpgo/xfer/xfer"
	"github.com/lftpgo/xfer/xfer/xlog"
)

var log = xlog.New("ftp")

// Options configures a Session, per §4.8 and the ftp:* keys of §6.
type Options struct {
	Host              string
	Port              int
	User              string
	Pass              string
	TLS               bool
	ExplicitTLS       bool
	InsecureSkipVerify bool
	PassiveMode       bool
	PortRange         [2]int // 0,0 means any ephemeral port
	PortIPv4          string // ftp:port-ipv4: bind active-mode socket to a fixed address
	NopInterval       time.Duration
	IdleTimeout       time.Duration
	CloseTimeout      time.Duration
	Retry530          *regexp.Regexp
	Retry530Anonymous bool
	ConnectionLimit   int
	SSLProtectData    bool // ftp:ssl-protect-data; see Open Question (i) in SPEC_FULL.md

	MaxRetries          int // net:max-retries; 0 means unlimited
	PersistRetries      int // net:persist-retries; 0 means unlimited
	ReconnectBase       time.Duration
	ReconnectMultiplier float64
	ReconnectMax        time.Duration
}

// Session implements xfer.Session, pool.Takeover, and scheduler.Task
// for one FTP control connection.
type Session struct {
	mu sync.Mutex

	opt  Options
	id   xfer.Identity
	pass string

	global   *ratelimit.Global
	resolver *resolver.Resolver
	registry *pool.Registry
	limiter  *ratelimit.Limiter

	conn    net.Conn
	reader  *bufio.Reader
	parser  replyParser
	partial string // bytes of an in-progress reply line read across would-block retries

	expect expectQueue
	state  State

	cwd          string
	home         string
	homeKnown    bool
	intendedPath string
	priority     int

	// current operation context.
	opMode opMode
	path   string
	pos    int64

	data        net.Conn
	dataPASV    bool
	dataDialing <-chan dataDialResult // non-nil while a data connect/accept is in flight
	listener    net.Listener        // non-nil while listening for an active-mode PORT/EPRT connection

	lastErrKind xfer.Kind
	lastErr     error

	handle *scheduler.Handle

	lastActive time.Time

	// §5/§7 "Disconnect + backoff + retry" bookkeeping: set by
	// scheduleReconnect when a retriable failure tears the control
	// connection down; drained by Step once the backoff delay has
	// elapsed and a fresh connection/login has succeeded.
	reconnect        *reconnect.Policy
	reconnectAt      time.Time
	reconnectDialing <-chan dataDialResult
	pendingResume    func()
	pendingFinalErr  *xfer.Error
}

type opMode int

const (
	opNone opMode = iota
	opRetrieve
	opStore
	opList
	opLongList
	opMPList
)

type dataDialResult = netio.DialResult

// NewSession builds a disconnected Session for the given identity and
// options.
func NewSession(opt Options, global *ratelimit.Global, res *resolver.Resolver, registry *pool.Registry) *Session {
	return &Session{
		opt:       opt,
		id:        xfer.Identity{Protocol: "ftp", Host: opt.Host, Port: opt.Port, User: opt.User},
		pass:      opt.Pass,
		global:    global,
		resolver:  res,
		registry:  registry,
		state:     Initial,
		reconnect: reconnect.New(opt.ReconnectBase, opt.ReconnectMax, opt.ReconnectMultiplier, opt.MaxRetries, opt.PersistRetries),
	}
}

// FromStore builds Options from a config.Store, applying §6's ftp:*
// keys with closure equal to host.
func FromStore(s config.Store, host string, port int, user, pass string) Options {
	opt := Options{Host: host, Port: port, User: user, Pass: pass}
	opt.PassiveMode = config.GetBool(s, "ftp:passive-mode", host, true)
	opt.NopInterval = config.GetDuration(s, "ftp:nop-interval", host, 0)
	opt.IdleTimeout = config.GetDuration(s, config.KeyNetIdle, host, 0)
	opt.CloseTimeout = config.GetDuration(s, config.KeyNetTimeout, host, 60*time.Second)
	opt.ConnectionLimit = config.GetInt(s, config.KeyNetConnectionLimit, host, 0)
	opt.SSLProtectData = config.GetBool(s, config.KeyFTPSSLProtectData, host, false)
	opt.Retry530Anonymous = config.GetBool(s, config.KeyFTPRetry530Anonymous, host, true)
	if pattern, ok := s.Get(config.KeyFTPRetry530, host); ok {
		if re, err := regexp.Compile(pattern); err == nil {
			opt.Retry530 = re
		}
	}
	opt.MaxRetries = config.GetInt(s, config.KeyNetMaxRetries, host, 0)
	opt.PersistRetries = config.GetInt(s, config.KeyNetPersistRetries, host, 0)
	opt.ReconnectBase = config.GetDuration(s, config.KeyNetReconnectBase, host, 30*time.Second)
	opt.ReconnectMultiplier = config.GetFloat(s, config.KeyNetReconnectMultiplier, host, 2)
	opt.ReconnectMax = config.GetDuration(s, config.KeyNetReconnectMax, host, 10*time.Minute)
	return opt
}

// ------------------------------------------------------------ xfer.Session

func (s *Session) Identity() xfer.Identity { return s.id }
func (s *Session) Password() string        { return s.pass }
func (s *Session) Cwd() string             { return s.cwd }
func (s *Session) Home() (string, bool)    { return s.home, s.homeKnown }

func (s *Session) Clone() xfer.Session {
	return NewSession(s.opt, s.global, s.resolver, s.registry)
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

// IsBetterThan prefers an already-connected session over a
// disconnected one, and (among connected sessions) an idle one, for
// queue-affinity decisions per §4.6.
func (s *Session) IsBetterThan(other xfer.Session) bool {
	o, ok := other.(*Session)
	if !ok {
		return false
	}
	sConnected, oConnected := s.conn != nil, o.conn != nil
	if sConnected != oConnected {
		return sConnected
	}
	return s.Idle() && !o.Idle()
}

func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expect.empty() && s.opMode == opNone
}

func (s *Session) IntendedPath() string { return s.intendedPath }
func (s *Session) Priority() int        { return s.priority }

// AdoptFrom implements pool.Takeover: move src's live channels,
// expectation queue, and rate limiter into s, leaving src Disconnected
// with empty queues/pointers, per §8 invariant 5.
func (s *Session) AdoptFrom(srcT pool.Takeover) error {
	src, ok := srcT.(*Session)
	if !ok {
		return xfer.NotSupported
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = src.conn
	s.reader = src.reader
	s.parser = src.parser
	s.expect = src.expect
	s.data = src.data
	s.dataDialing = src.dataDialing
	s.cwd = src.cwd
	s.home, s.homeKnown = src.home, src.homeKnown
	s.limiter = src.limiter
	s.state = EofIdle

	src.conn = nil
	src.reader = nil
	src.expect = expectQueue{}
	src.data = nil
	src.dataDialing = nil
	src.limiter = nil
	src.state = Initial
	src.Disconnect()
	return nil
}

func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
}

// disconnectLocked is Disconnect's body, reusable by the §7 reconnect
// path (scheduleReconnect/resumeAfterReconnect) which already holds
// s.mu from within Step.
func (s *Session) disconnectLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.data != nil {
		_ = s.data.Close()
		s.data = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.state = Initial
	s.opMode = opNone
	s.expect = expectQueue{}
	if s.limiter != nil {
		s.limiter.Close()
		s.limiter = nil
	}
	if s.registry != nil {
		s.registry.Untrack(s)
	}
}

// ------------------------------------------------------------ connect / login

// Connect dials the FTP control connection. It performs a blocking
// dial + banner read: connection setup is not yet part of the
// cooperative Step loop (only the per-operation data phase is), which
// matches §4.1's scope ("Step must be non-blocking") — the initial
// handshake is analogous to the teacher's synchronous NewFs dial.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx, host, port)
}

// connectLocked is Connect's body, reusable by resumeAfterReconnect
// (called from Step, which already holds s.mu) when a retriable
// failure has torn the connection down and the backoff delay has
// elapsed.
func (s *Session) connectLocked(ctx context.Context, host string, port int) error {
	dialer := net.Dialer{Timeout: s.opt.CloseTimeout}
	conn, err := resolver.DialTCP(ctx, s.resolver, &dialer, host, port)
	if err != nil {
		s.state = NoHost
		return xfer.NoHost(fmt.Sprintf("connect to %s: %v", resolver.HostPort(host, port), err), err)
	}
	if s.opt.TLS {
		conn = tls.Client(conn, s.tlsConfig())
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	reply, err := readReply(s.reader)
	if err != nil {
		s.state = Fatal
		return xfer.Fatal("reading FTP banner", err)
	}
	if reply.Code/100 != 2 {
		s.state = Fatal
		return xfer.Fatal(fmt.Sprintf("unexpected banner %d %s", reply.Code, reply.Text), nil)
	}
	if s.opt.ExplicitTLS {
		if err := s.upgradeExplicitTLS(); err != nil {
			return err
		}
	}
	s.state = EofIdle
	s.lastActive = time.Now()
	if s.registry != nil {
		s.registry.Track(s)
	}
	return nil
}

func (s *Session) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: s.opt.Host, InsecureSkipVerify: s.opt.InsecureSkipVerify}
}

func (s *Session) upgradeExplicitTLS() error {
	if err := s.sendCommandBlocking("AUTH TLS"); err != nil {
		return err
	}
	reply, err := readReply(s.reader)
	if err != nil || reply.Code/100 != 2 {
		return xfer.Fatal("AUTH TLS refused", err)
	}
	s.conn = tls.Client(s.conn, s.tlsConfig())
	s.reader = bufio.NewReader(s.conn)
	return nil
}

// loginAttempt sends USER/PASS once over the already-established
// control connection and reports the reply code/text that decided the
// outcome, so the caller can test it against isRetriableLogin without
// re-parsing the returned error.
func (s *Session) loginAttempt(user, pass string) (code int, text string, err error) {
	if err := s.sendCommandBlocking("USER " + user); err != nil {
		return 0, "", err
	}
	reply, err := readReply(s.reader)
	if err != nil {
		return 0, "", xfer.Fatal("reading USER reply", err)
	}
	switch reply.Code {
	case 230:
		return reply.Code, reply.Text, nil
	case 331, 332:
		if err := s.sendCommandBlocking("PASS " + pass); err != nil {
			return 0, "", err
		}
		passReply, err := readReply(s.reader)
		if err != nil {
			return 0, "", xfer.Fatal("reading PASS reply", err)
		}
		if passReply.Code/100 != 2 {
			return passReply.Code, passReply.Text, xfer.LoginFailed(passReply.Text)
		}
		return passReply.Code, passReply.Text, nil
	default:
		return reply.Code, reply.Text, xfer.LoginFailed(reply.Text)
	}
}

// Login sends USER/PASS (with anonymous-password synthesis per
// original_source/src/NetAccess.cc, see SPEC_FULL.md §3) and blocks for
// the login dialog to finish. A 530 reply matching ftp:retry-530 (per
// isRetriableLogin) is not surfaced directly: per §7 it is mapped to
// reconnect+backoff, so Login disconnects, waits out the configured
// delay, redials, and retries the handshake until the reply stops
// matching or net:max-retries is exhausted.
func (s *Session) Login(ctx context.Context, user, pass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == "" {
		user = "anonymous"
	}
	if pass == "" && user == "anonymous" {
		pass = "anonymous@"
	}
	for {
		code, text, err := s.loginAttempt(user, pass)
		if err == nil {
			break
		}
		if !s.isRetriableLogin(code, text) {
			s.state = LoginFailed
			return err
		}
		delay, ok := s.reconnect.Next()
		if !ok {
			s.state = LoginFailed
			return err
		}
		log.With("host", s.opt.Host, "delay", delay).Warn("retriable 530 on login, reconnecting")
		s.disconnectLocked()
		s.mu.Unlock()
		time.Sleep(delay)
		s.mu.Lock()
		if cerr := s.connectLocked(ctx, s.opt.Host, s.opt.Port); cerr != nil {
			return cerr
		}
	}
	s.pass = pass
	s.resetRetry()
	if s.opt.TLS && s.opt.SSLProtectData {
		if err := s.requestDataProtection(); err != nil {
			return err
		}
	}
	return s.fetchHome()
}

// requestDataProtection issues PBSZ 0 / PROT P so the data channel is
// wrapped in TLS the same as the control channel, per ftp:ssl-protect-data
// (Open Question (i), resolved in DESIGN.md).
func (s *Session) requestDataProtection() error {
	if err := s.sendCommandBlocking("PBSZ 0"); err != nil {
		return err
	}
	if _, err := readReply(s.reader); err != nil {
		return xfer.Fatal("reading PBSZ reply", err)
	}
	if err := s.sendCommandBlocking("PROT P"); err != nil {
		return err
	}
	reply, err := readReply(s.reader)
	if err != nil || reply.Code/100 != 2 {
		return xfer.Fatal("PROT P refused", err)
	}
	return nil
}

// fetchHome issues PWD once at login time to seed Home(), per the
// original_source-recovered feature in SPEC_FULL.md §3.
func (s *Session) fetchHome() error {
	if err := s.sendCommandBlocking("PWD"); err != nil {
		return err
	}
	reply, err := readReply(s.reader)
	if err != nil {
		return xfer.Fatal("reading PWD reply", err)
	}
	if reply.Code == 257 {
		if path, ok := extractQuotedPath(reply.Text); ok {
			s.home, s.homeKnown = path, true
			s.cwd = path
		}
	}
	return nil
}

func extractQuotedPath(text string) (string, bool) {
	first := strings.IndexByte(text, '"')
	if first < 0 {
		return "", false
	}
	rest := text[first+1:]
	last := strings.IndexByte(rest, '"')
	if last < 0 {
		return "", false
	}
	return strings.ReplaceAll(rest[:last], `""`, `"`), true
}

// sendCommandBlocking writes a single command line; used only during
// Connect/Login before the cooperative pipeline takes over.
func (s *Session) sendCommandBlocking(cmd string) error {
	_, err := s.conn.Write([]byte(cmd + "\r\n"))
	if err != nil {
		return xfer.Fatal("writing command "+safeCmd(cmd), err)
	}
	return nil
}

func safeCmd(cmd string) string {
	if strings.HasPrefix(cmd, "PASS") {
		return "PASS *****"
	}
	return cmd
}

// isRetriableLogin reports whether a 530 reply matches ftp:retry-530
// (optionally scoped to anonymous-only), per §4.8.
func (s *Session) isRetriableLogin(code int, text string) bool {
	if code != 530 || s.opt.Retry530 == nil {
		return false
	}
	if s.opt.Retry530Anonymous && s.opt.User != "anonymous" && s.opt.User != "" {
		return false
	}
	return s.opt.Retry530.MatchString(text)
}

// shouldRetryTransferCode reports whether a reply code during a
// TRANSFER check-case should be retried, per §4.8 ("4xx on transfer ->
// retry").
func shouldRetryTransferCode(code int) bool { return code/100 == 4 }
