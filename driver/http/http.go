// Package http implements the HTTP/HFTP driver of §4.9: a hand-rolled
// HTTP/1.1 request/response state machine (not net/http's blocking
// Client.Do) so a transfer can be advanced non-blockingly by the
// scheduler the same way the FTP driver's control connection is.
//
// The teacher's backend/http/http.go builds one-shot requests with
// net/http and golang.org/x/net/html for directory listings; this
// package keeps that HTML-listing approach (see listing.go) but
// replaces the request/response transport with the raw-socket,
// deadline-polled style the FTP driver uses, since §4.9 describes
// Disconnected/Connecting/ReceivingHeader/ReceivingBody/Done as an
// explicit state machine rather than a single blocking call.
package http

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/lftpgo/xfer/pool"
	"github.com/lftpgo/xfer/ratelimit"
	"github.com/lftpgo/xfer/resolver"
	"github.com/lftpgo/xfer/scheduler"
	"github.com/lftpgo/xfer/xfer"
	"github.com/lftpgo/xfer/xfer/xlog"

	"golang.org/x/net/proxy"
)

var log = xlog.New("http")

// State is the HTTP driver's state machine position, per §4.9.
type State int

const (
	Disconnected State = iota
	Connecting
	ReceivingHeader
	ReceivingBody
	Done
	Fatal
	NoFile
	NoHost
	StoreFailed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case ReceivingHeader:
		return "ReceivingHeader"
	case ReceivingBody:
		return "ReceivingBody"
	case Done:
		return "Done"
	case Fatal:
		return "Fatal"
	case NoFile:
		return "NoFile"
	case NoHost:
		return "NoHost"
	case StoreFailed:
		return "StoreFailed"
	default:
		return "Unknown"
	}
}

// Options configures a Session, per §4.9 and the http:*/hftp:* keys of
// §6.
type Options struct {
	Host              string
	Port              int
	User              string
	Pass              string
	TLS               bool
	InsecureSkipVerify bool
	Proxy             string // http:proxy / hftp:proxy (host:port, no scheme)
	ProxyUser         string
	ProxyPass         string
	SOCKS             string // if set, dial through this SOCKS5 proxy instead
	UserAgent         string
	AcceptLanguage    string
	AcceptCharset     string
	NoCache           bool
	CloseTimeout      time.Duration
	HFTP              bool // "FTP through HTTP proxy" mode, per §4.9
}

// Session implements xfer.Session and scheduler.Task for one HTTP
// request/response cycle; unlike FTP, a new TCP connection (or a
// keep-alive reuse) is established per Open, per §4.9's "one request
// at a time per connection".
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
	partial string

	state State
	cwd   string

	method      string
	path        string
	pos         int64
	statusCode  int
	statusText  string
	contentSize int64 // -1 when unknown (chunked)
	chunked     bool
	chunkLeft   int64
	bodyDone    bool
	location    string // 3xx Location, surfaced to caller per §4.9

	writeBuf []byte // request bytes not yet flushed to conn (STOR request line+headers)
	writePos int

	storeBuf []byte // STOR body bytes queued by Write, flushed opportunistically

	lastErr     error
	lastErrKind xfer.Kind

	handle *scheduler.Handle

	keepAlive bool
	priority  int
}

// NewSession builds a disconnected Session.
func NewSession(opt Options, global *ratelimit.Global, res *resolver.Resolver, registry *pool.Registry) *Session {
	proto := "http"
	if opt.HFTP {
		proto = "hftp"
	}
	return &Session{
		opt:      opt,
		id:       xfer.Identity{Protocol: proto, Host: opt.Host, Port: opt.Port, User: opt.User},
		pass:     opt.Pass,
		global:   global,
		resolver: res,
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
func (s *Session) Home() (string, bool)    { return "", false } // HTTP has no home-dir concept, per §4.9

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
	return s.state == Done || s.state == Disconnected
}

func (s *Session) IntendedPath() string { return s.path }
func (s *Session) Priority() int        { return s.priority }

func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeConnLocked()
	if s.registry != nil {
		s.registry.Untrack(s)
	}
	if s.limiter != nil {
		s.limiter.Close()
		s.limiter = nil
	}
	s.state = Disconnected
}

func (s *Session) closeConnLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.reader = nil
}

// ------------------------------------------------------------ connect/login

// Connect dials (through a SOCKS5 proxy via golang.org/x/net/proxy
// when configured, matching the teacher's use of that package for
// proxy support) and registers for reuse tracking. Per §4.9 there is
// no separate login handshake — auth travels as a header on each
// request — so Login is a no-op that just records credentials.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opt.HFTP && s.opt.Proxy == "" {
		return xfer.NotSupported
	}
	dialHost, dialPort := host, port
	if s.opt.Proxy != "" {
		dialHost, dialPort = splitHostPortDefault(s.opt.Proxy, 8080)
	}

	var conn net.Conn
	var err error
	if s.opt.SOCKS != "" {
		dialer, derr := proxy.SOCKS5("tcp", s.opt.SOCKS, nil, proxy.Direct)
		if derr != nil {
			return xfer.Fatal("building SOCKS5 dialer", derr)
		}
		conn, err = dialer.Dial("tcp", resolver.HostPort(dialHost, dialPort))
	} else {
		d := net.Dialer{Timeout: s.opt.CloseTimeout}
		conn, err = resolver.DialTCP(ctx, s.resolver, &d, dialHost, dialPort)
	}
	if err != nil {
		s.state = NoHost
		return xfer.NoHost(fmt.Sprintf("connect to %s: %v", resolver.HostPort(dialHost, dialPort), err), err)
	}
	if s.opt.TLS && s.opt.Proxy == "" {
		conn = tls.Client(conn, &tls.Config{ServerName: host, InsecureSkipVerify: s.opt.InsecureSkipVerify})
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.state = Done // idle-connected; next Open starts a request
	if s.registry != nil {
		s.registry.Track(s)
	}
	return nil
}

func (s *Session) Login(ctx context.Context, user, pass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id.User = user
	s.pass = pass
	return nil
}

func splitHostPortDefault(hostport string, defPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defPort
	}
	return host, port
}

// basicAuth builds the base64(user:pass) value for an Authorization/
// Proxy-Authorization header, per §4.9.
func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// targetURL builds the request-target per §4.9: an absolute URI when a
// proxy is configured (HFTP always encodes ftp:// URIs this way),
// otherwise a bare path.
func (s *Session) targetURL(path string) string {
	scheme := "http"
	if s.opt.HFTP {
		scheme = "ftp"
	} else if s.opt.TLS {
		scheme = "https"
	}
	if s.opt.Proxy != "" || s.opt.HFTP {
		u := url.URL{Scheme: scheme, Host: resolver.HostPort(s.opt.Host, s.opt.Port), Path: path}
		if s.opt.HFTP && s.opt.User != "" {
			u.User = url.UserPassword(s.opt.User, s.opt.Pass)
		}
		return u.String()
	}
	if path == "" {
		return "/"
	}
	return path
}
