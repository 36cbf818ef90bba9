package ftp

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"

	"github.com/lftpgo/xfer/driver/netio"
	"github.com/lftpgo/xfer/xfer"
)

// errWouldBlock is the sentinel nonBlockingRead/nonBlockingWrite return
// when a socket has no data/room available right now.
var errWouldBlock = netio.ErrWouldBlock

// pollDeadline is how far in the future SetReadDeadline/
// SetWriteDeadline is pushed for each non-blocking attempt. This is
// the Go realization of §4.1's "non-blocking Step": rather than a raw
// epoll readiness fd, each poll attempt is a best-effort Read/Write
// bounded by a deadline so it can never stall the cooperative loop.
const pollDeadline = netio.PollDeadline

func nonBlockingRead(conn net.Conn, buf []byte) (int, error)  { return netio.Read(conn, buf) }
func nonBlockingWrite(conn net.Conn, buf []byte) (int, error) { return netio.Write(conn, buf) }

// startDataDial begins an asynchronous TCP dial to the PASV address,
// delivering its result on s.dataDialing. A real dial is unavoidably
// blocking, so it runs on its own goroutine and reports back over a
// channel — the same channel-based readiness pattern the scheduler
// package documents for socket events in general.
func (s *Session) startDataDial(ip net.IP, port int) {
	s.state = DatasockConnecting
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	var notify func()
	if s.handle != nil {
		notify = s.handle.Notify
	}
	s.dataDialing = netio.DialAsync("tcp", addr, s.opt.CloseTimeout, notify)
}

// listenActive opens an ephemeral listening socket for active-mode
// PORT/EPRT, honoring opt.PortRange/PortIPv4 when set, per §6's
// ftp:port-ipv4 and port-range keys.
func (s *Session) listenActive() (net.IP, int, error) {
	bindAddr := s.opt.PortIPv4
	if bindAddr == "" {
		if host, _, err := net.SplitHostPort(s.conn.LocalAddr().String()); err == nil {
			bindAddr = host
		}
	}
	lc := net.ListenConfig{}
	lo, hi := s.opt.PortRange[0], s.opt.PortRange[1]
	if lo == 0 && hi == 0 {
		ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(bindAddr, "0"))
		if err != nil {
			return nil, 0, err
		}
		s.listener = ln
		addr := ln.Addr().(*net.TCPAddr)
		return addr.IP, addr.Port, nil
	}
	var lastErr error
	for p := lo; p <= hi; p++ {
		ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(bindAddr, strconv.Itoa(p)))
		if err == nil {
			s.listener = ln
			addr := ln.Addr().(*net.TCPAddr)
			return addr.IP, addr.Port, nil
		}
		lastErr = err
	}
	return nil, 0, lastErr
}

// startDataAccept waits for the remote server to connect back to our
// active-mode listener, in the background (Accept is blocking), per
// the same channel-based pattern as startDataDial.
func (s *Session) startDataAccept() {
	ln := s.listener
	ch := make(chan dataDialResult, 1)
	s.dataDialing = ch
	s.state = DatasockConnecting
	go func() {
		conn, err := ln.Accept()
		ch <- dataDialResult{Conn: conn, Err: err}
		if s.handle != nil {
			s.handle.Notify()
		}
	}()
}

// pollDataDial is called from Step to check whether the background
// dial finished, without blocking.
func (s *Session) pollDataDial() (done bool) {
	if s.dataDialing == nil {
		return true
	}
	select {
	case res := <-s.dataDialing:
		s.dataDialing = nil
		if s.listener != nil {
			_ = s.listener.Close()
			s.listener = nil
		}
		if res.Err != nil {
			s.fail(xfer.SeeSystemErr(0, res.Err))
			return true
		}
		s.data = res.Conn
		if s.opt.TLS && s.opt.SSLProtectData {
			s.data = tls.Client(s.data, s.tlsConfig())
		}
		s.state = DataOpen
		return true
	default:
		return false
	}
}

func (s *Session) fail(err *xfer.Error) {
	s.lastErr = err
	s.lastErrKind = err.Kind
	switch err.Kind {
	case xfer.KindNoFile:
		s.state = NoFile
	case xfer.KindNoHost:
		s.state = NoHost
	case xfer.KindLoginFailed:
		s.state = LoginFailed
	case xfer.KindStoreFailed:
		s.state = StoreFailed
	default:
		s.state = Fatal
	}
	s.opMode = opNone
}
