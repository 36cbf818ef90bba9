package ftp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lftpgo/xfer/ratelimit"
	"github.com/lftpgo/xfer/xfer"
)

// Open begins mode against path at offset pos, per §4.6. It queues the
// command sequence needed to get there (REST before RETR/STOR when
// pos>0, per §4.8) and returns immediately; the caller drives
// completion by stepping this session through the scheduler.
func (s *Session) Open(ctx context.Context, mode xfer.Mode, path string, pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return xfer.NotOpen
	}
	if !s.expect.empty() || s.opMode != opNone {
		return xfer.Again
	}
	s.path, s.pos = path, pos
	s.intendedPath = path

	switch mode {
	case xfer.ChangeDir:
		return s.queueCWD(path, true)
	case xfer.MakeDir:
		return s.queueSimple("MKD "+path, CheckMKD, path)
	case xfer.RemoveDir:
		return s.queueSimple("RMD "+path, CheckFileAccess, path)
	case xfer.Remove:
		return s.queueSimple("DELE "+path, CheckDELE, path)
	case xfer.ChangeMode:
		return xfer.NotSupported // caller should use Chmod directly
	case xfer.ArrayInfo:
		return xfer.NotSupported // caller should use GetInfoArray directly
	case xfer.Retrieve, xfer.Store, xfer.List, xfer.LongList, xfer.MultiProtocolList:
		return s.openTransfer(mode, path, pos)
	default:
		return xfer.NotSupported
	}
}

func (s *Session) queueCWD(path string, verify bool) error {
	s.writeCommand("CWD "+path, Expectation{Check: CheckCWD, Path: path})
	s.state = CwdCwdWaiting
	return nil
}

func (s *Session) queueSimple(cmd string, check CheckCase, path string) error {
	s.writeCommand(cmd, Expectation{Check: check, Path: path})
	s.state = Waiting
	return nil
}

// openTransfer queues the PASV/PORT negotiation then the RETR/STOR/
// LIST/MLSD command, per §4.8's data-channel orchestration.
func (s *Session) openTransfer(mode xfer.Mode, path string, pos int64) error {
	switch mode {
	case xfer.Retrieve:
		s.opMode = opRetrieve
	case xfer.Store:
		s.opMode = opStore
	case xfer.List:
		s.opMode = opList
	case xfer.LongList:
		s.opMode = opLongList
	case xfer.MultiProtocolList:
		s.opMode = opMPList
	}
	return s.negotiateDataChannel(path)
}

// negotiateDataChannel issues the PASV/PORT exchange for s.opMode
// (already set by openTransfer) against path. It is also the resume
// step §7's reconnect policy reissues once a retriable TRANSFER
// failure has forced a fresh connection: the RETR/STOR/LIST command
// itself is queued afterwards, by checkPASV/checkPORT once the data
// channel address is confirmed.
func (s *Session) negotiateDataChannel(path string) error {
	if s.opt.PassiveMode {
		s.writeCommand("PASV", Expectation{Check: CheckPASV, Path: path})
	} else {
		ip, port, err := s.listenActive()
		if err != nil {
			s.fail(xfer.SeeSystemErr(0, err))
			return xfer.Fatal("opening active-mode listener", err)
		}
		body, err := EncodePASV(ip, port)
		if err != nil {
			return xfer.Fatal("encoding PORT address", err)
		}
		// EncodePASV's "(h1,...,p2)" body minus parens is PORT's argument form.
		addr := body[1 : len(body)-1]
		s.writeCommand("PORT "+addr, Expectation{Check: CheckPORT, Path: path})
	}
	s.state = Waiting
	return nil
}

// writeCommand appends cmd to the expectation queue and writes it to
// the control socket. FTP commands are processed strictly FIFO, per
// §5; the expectation queue mirrors that same order.
func (s *Session) writeCommand(cmd string, exp Expectation) {
	exp.CmdText = cmd
	s.expect.push(exp)
	if s.conn != nil {
		_, _ = s.conn.Write([]byte(cmd + "\r\n"))
	}
}

// Read advances a Retrieve/List/LongList/MultiProtocolList operation,
// per §4.6: never blocks, returns xfer.Again when no bytes are
// available yet.
func (s *Session) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		if s.state == EofIdle && s.opMode == opNone {
			return 0, io.EOF
		}
		return 0, xfer.Again
	}
	n, err := nonBlockingRead(s.data, buf)
	if err == errWouldBlock {
		return 0, xfer.Again
	}
	if n > 0 {
		s.lastActive = time.Now()
		if s.limiter != nil {
			s.limiter.BytesUsed(ratelimit.Get, int64(n))
		}
		s.pos += int64(n)
	}
	if err == io.EOF {
		_ = s.data.Close()
		s.data = nil
		return n, nil // final bytes delivered; EOF surfaces once Step sees the 226
	}
	if err != nil {
		return n, xfer.Fatal("data channel read", err)
	}
	return n, nil
}

// Write advances a Store operation.
func (s *Session) Write(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0, xfer.Again
	}
	n, err := nonBlockingWrite(s.data, buf)
	if err == errWouldBlock {
		return 0, xfer.Again
	}
	if n > 0 {
		s.lastActive = time.Now()
		if s.limiter != nil {
			s.limiter.BytesUsed(ratelimit.Put, int64(n))
		}
		s.pos += int64(n)
	}
	if err != nil {
		return n, xfer.StoreFailed(s.path, err.Error())
	}
	return n, nil
}

// SendEOT closes the data socket to signal end-of-upload, per §4.6.
func (s *Session) SendEOT() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		err := s.data.Close()
		s.data = nil
		if err != nil {
			return xfer.Fatal("closing data channel", err)
		}
	}
	return nil
}

// Close implements §5's cancellation contract: outstanding
// expectations are rewritten to "ignore" (except STOR, which is
// aborted by disconnection); a long-running transfer is ABORted.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opMode == opStore {
		s.teardownLocked()
		return nil
	}
	if s.opMode != opNone && s.data != nil {
		s.writeCommand("ABOR", Expectation{Check: CheckABOR})
	}
	s.expect.ignoreAll()
	s.opMode = opNone
	if s.data != nil {
		_ = s.data.Close()
		s.data = nil
	}
	s.state = EofIdle
	return nil
}

func (s *Session) teardownLocked() {
	if s.data != nil {
		_ = s.data.Close()
		s.data = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.expect = expectQueue{}
	s.opMode = opNone
	s.state = Initial
}

func (s *Session) Rename(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCommand("RNFR "+from, Expectation{Check: CheckRNFR, Path: from, CmdText: to})
	s.state = Waiting
	return nil
}

func (s *Session) Mkdir(ctx context.Context, path string, allLevels bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !allLevels {
		return s.queueSimple("MKD "+path, CheckMKD, path)
	}
	// All-levels mkdir queues one MKD per path component; failures on
	// intermediate (already-existing) components are tolerated by
	// CheckMKD treating 550 as non-fatal when more components remain.
	parts := splitPath(path)
	acc := ""
	for _, p := range parts {
		acc = joinPath(acc, p)
		s.writeCommand("MKD "+acc, Expectation{Check: CheckMKD, Path: acc})
	}
	s.state = Waiting
	return nil
}

func (s *Session) Chdir(ctx context.Context, path string, verify bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueCWD(path, verify)
}

func (s *Session) Chmod(ctx context.Context, path string, mode uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCommand(fmt.Sprintf("SITE CHMOD %o %s", mode, path), Expectation{Check: CheckCHMOD, Path: path})
	s.state = Waiting
	return nil
}

// GetInfoArray blocks its caller conceptually but is implemented as a
// synchronous batch for simplicity: it issues SIZE+MDTM per path over
// the already-established pipeline and waits for every paired reply.
// This mirrors §4.11's "issues a batched GetInfoArray to fill missing
// sizes/dates" without requiring ListInfo to drive a second
// cooperative loop of its own.
func (s *Session) GetInfoArray(ctx context.Context, paths []string) ([]*xfer.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*xfer.FileInfo, len(paths))
	for i, p := range paths {
		fi := xfer.NewFileInfo(p)
		var size, mtime int64
		s.writeCommand("SIZE "+p, Expectation{Check: CheckSIZEOpt, Path: p, SizeSlot: &size})
		s.writeCommand("MDTM "+p, Expectation{Check: CheckMDTMOpt, Path: p, TimeSlot: &mtime})
		if err := s.drainBlocking(2); err != nil {
			return nil, err
		}
		if size >= 0 {
			fi.SetSize(size)
		}
		if mtime > 0 {
			fi.SetDate(xfer.Date{Seconds: mtime})
		}
		out[i] = fi
	}
	return out, nil
}

// drainBlocking reads and dispatches exactly n terminal replies. It is
// used only by GetInfoArray's batch path, which §4.11 describes as a
// single round-trip the caller waits on; everything else in this
// driver goes through the non-blocking Step loop.
func (s *Session) drainBlocking(n int) error {
	for i := 0; i < n; i++ {
		reply, err := readReply(s.reader)
		if err != nil {
			return xfer.Fatal("reading batched reply", err)
		}
		s.dispatch(reply)
	}
	return nil
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range splitSlash(path) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func splitSlash(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinPath(base, part string) string {
	if base == "" {
		return "/" + part
	}
	return base + "/" + part
}
