package ftp

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/lftpgo/xfer/xfer"
)

// fxpWrite writes one command line to conn, ignoring the write error
// the same way writeCommand does: a dead control connection surfaces
// on the subsequent readReply instead.
func fxpWrite(conn net.Conn, cmd string) {
	_, _ = conn.Write([]byte(cmd + "\r\n"))
}

// FXPTo drives a server-to-server (FXP) copy from s to dst, per §4.8:
// "for fxp copy, an address from the peer side is substituted". dst is
// asked to PASV; the resulting address is handed to s as a PORT, so
// the two servers open a data connection directly with each other and
// the bytes never cross this process.
//
// Both sessions must already be EofIdle (logged in, no operation in
// flight) and neither may be mid-Step; FXPTo is a synchronous batch
// operation in the same sense GetInfoArray is — it drives both control
// connections with blocking round-trips rather than through the
// per-session Step loop, since coordinating two independent
// expectation queues through one cooperative call isn't something the
// existing dispatch machinery expresses, and a third-party transfer's
// two control connections have no data to shuttle through this
// process in between anyway.
func (s *Session) FXPTo(ctx context.Context, dst *Session, srcPath, dstPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()

	if s.conn == nil || dst.conn == nil {
		return xfer.NotOpen
	}
	if s.state != EofIdle || dst.state != EofIdle {
		return xfer.Again
	}

	// Commands below are written directly to each control socket rather
	// than through writeCommand/the expectation queue: both sessions
	// are held locked for the whole call (Step can't run concurrently),
	// and the replies are consumed synchronously right here, so there's
	// nothing for a later Step/dispatch to match against.
	fxpWrite(dst.conn, "PASV")
	pasvReply, err := readReply(dst.reader)
	if err != nil {
		return xfer.Fatal("fxp: reading PASV reply from destination", err)
	}
	if pasvReply.Code != 227 {
		return xfer.Fatal("fxp: PASV refused by destination: "+pasvReply.Text, nil)
	}
	ip, port, err := DecodePASV(pasvReply.Text)
	if err != nil {
		return xfer.Fatal("fxp: decoding destination PASV address", err)
	}

	addrBody, err := EncodePASV(ip, port)
	if err != nil {
		return xfer.Fatal("fxp: destination PASV address is not representable as PORT", err)
	}
	addr := addrBody[1 : len(addrBody)-1]

	fxpWrite(s.conn, "PORT "+addr)
	portReply, err := readReply(s.reader)
	if err != nil {
		return xfer.Fatal("fxp: reading PORT reply from source", err)
	}
	if portReply.Code/100 != 2 {
		return xfer.Fatal("fxp: PORT refused by source: "+portReply.Text, nil)
	}

	// STOR is issued on the destination first so it's listening before
	// the source starts sending, mirroring the classic FXP command
	// ordering (RFC 959's third-party transfer example).
	fxpWrite(dst.conn, "STOR "+dstPath)
	fxpWrite(s.conn, "RETR "+srcPath)

	if err := fxpAwaitTransfer(dst.reader, dstPath); err != nil {
		return err
	}
	return fxpAwaitTransfer(s.reader, srcPath)
}

// fxpAwaitTransfer reads the preliminary "150" (or immediate error)
// followed by the final completion reply for a STOR/RETR issued
// against r, per §6's reply grammar.
func fxpAwaitTransfer(r *bufio.Reader, path string) error {
	reply, err := readReply(r)
	if err != nil {
		return xfer.Fatal(fmt.Sprintf("fxp: reading transfer reply for %s", path), err)
	}
	if reply.Code/100 == 1 {
		reply, err = readReply(r)
		if err != nil {
			return xfer.Fatal(fmt.Sprintf("fxp: reading final transfer reply for %s", path), err)
		}
	}
	switch {
	case reply.Code == 226 || reply.Code == 250:
		return nil
	case reply.Code == 550 || reply.Code == 553:
		return xfer.NoFile(path, reply.Text)
	default:
		return xfer.Fatal(fmt.Sprintf("fxp: transfer of %s failed: %s", path, reply.Text), nil)
	}
}
