package ftp

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/lftpgo/xfer/driver/netio"
	"github.com/lftpgo/xfer/resolver"
	"github.com/lftpgo/xfer/xfer"
)

// resetRetry clears the backoff policy's counters after a successful
// operation, per §6 ("reset on success"). Guarded against a nil
// policy so a bare Session (as built in several white-box tests that
// skip NewSession) never panics.
func (s *Session) resetRetry() {
	if s.reconnect != nil {
		s.reconnect.Reset()
	}
}

// scheduleReconnect implements §7's "Recover locally: ... Disconnect +
// backoff + retry" for a retriable reply (4xx on CWD/TRANSFER,
// retriable 530 already handled separately in Login). It tears the
// control connection down immediately and arms a timer for the
// backoff delay; Step picks the redial back up once that timer fires.
// If net:max-retries is exhausted, finalErr is surfaced instead.
func (s *Session) scheduleReconnect(finalErr *xfer.Error, resume func()) {
	if s.reconnect == nil {
		s.disconnectLocked()
		s.fail(finalErr)
		return
	}
	delay, ok := s.reconnect.Next()
	s.disconnectLocked()
	if !ok {
		s.fail(finalErr)
		return
	}
	s.pendingResume = resume
	s.pendingFinalErr = finalErr
	s.reconnectAt = time.Now().Add(delay)
	s.state = Connecting
	if s.handle != nil {
		s.handle.ArmTimer(s.reconnectAt)
	}
	log.With("host", s.opt.Host, "delay", delay).Warn("scheduling reconnect after retriable failure")
}

// pollReconnect is called from Step, with s.mu already held, to drive
// a scheduled reconnect without blocking the cooperative loop: the
// dial itself runs on its own goroutine via netio.DialAsync (the same
// pattern pollDataDial uses for data connections), and only once a
// connection exists does Step perform the banner read + login
// handshake — a single buffered read pair on a connection that was
// just proven live, the same blocking-but-bounded exception Connect
// and Login already document for the initial handshake.
func (s *Session) pollReconnect(ctx context.Context) (acted bool) {
	if s.pendingResume == nil {
		return false
	}
	if s.reconnectDialing == nil {
		if time.Now().Before(s.reconnectAt) {
			return false // scheduler will re-drive us once ArmTimer's deadline fires
		}
		var notify func()
		if s.handle != nil {
			notify = s.handle.Notify
		}
		s.reconnectDialing = netio.DialAsync("tcp", resolver.HostPort(s.opt.Host, s.opt.Port), s.opt.CloseTimeout, notify)
		return true
	}
	select {
	case res := <-s.reconnectDialing:
		s.reconnectDialing = nil
		if res.Err != nil {
			s.scheduleReconnect(s.pendingFinalErr, s.pendingResume)
			return true
		}
		if err := s.finishReconnectLocked(ctx, res.Conn); err != nil {
			s.scheduleReconnect(s.pendingFinalErr, s.pendingResume)
			return true
		}
		resume := s.pendingResume
		s.pendingResume = nil
		s.pendingFinalErr = nil
		s.resetRetry()
		resume()
		return true
	default:
		return false
	}
}

// finishReconnectLocked wraps the freshly dialed conn, reads the
// banner, re-logs in, and restores data-channel protection, mirroring
// connectLocked/Login but against an already-open net.Conn (the TCP
// dial itself already happened, asynchronously, in pollReconnect).
func (s *Session) finishReconnectLocked(ctx context.Context, conn net.Conn) error {
	if s.opt.TLS {
		conn = tls.Client(conn, s.tlsConfig())
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	reply, err := readReply(s.reader)
	if err != nil {
		return xfer.Fatal("reading FTP banner", err)
	}
	if reply.Code/100 != 2 {
		return xfer.Fatal("unexpected banner on reconnect", nil)
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

	user := s.opt.User
	if user == "" {
		user = "anonymous"
	}
	pass := s.pass
	if pass == "" && user == "anonymous" {
		pass = "anonymous@"
	}
	if _, _, err := s.loginAttempt(user, pass); err != nil {
		s.state = LoginFailed
		return err
	}
	if s.opt.TLS && s.opt.SSLProtectData {
		if err := s.requestDataProtection(); err != nil {
			return err
		}
	}
	return s.fetchHome()
}
