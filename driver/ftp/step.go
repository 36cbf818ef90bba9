package ftp

import (
	"context"
	"time"

	"github.com/lftpgo/xfer/driver/netio"
	"github.com/lftpgo/xfer/scheduler"
	"github.com/lftpgo/xfer/xfer"
)

// SetHandle attaches the scheduler handle used for Notify()/ArmTimer()
// wakeups, per §4.1. The registering code calls this once after
// scheduler.Register.
func (s *Session) SetHandle(h *scheduler.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

// Step drives the control connection and any in-flight data dial/
// accept, dispatching at most the replies that are already available
// without blocking, per §4.1's "Step must be non-blocking" and §8
// invariant 1 ("exactly once on the terminal reply").
func (s *Session) Step(ctx context.Context) (xfer.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := false

	if s.pollReconnect(ctx) {
		moved = true
	}

	if s.dataDialing != nil {
		if s.pollDataDial() {
			moved = true
		}
	}

	if s.conn != nil && !s.expect.empty() {
		for {
			line, err := s.readControlLine()
			if err == errWouldBlock {
				break
			}
			if err != nil {
				s.fail(xfer.Fatal("control connection read", err))
				moved = true
				break
			}
			reply, ok, perr := s.parser.Feed(line)
			if perr != nil {
				s.fail(xfer.Fatal("parsing FTP reply", perr))
				moved = true
				break
			}
			if !ok {
				moved = true // a continuation line arrived; keep reading
				continue
			}
			s.dispatch(reply)
			moved = true
			if s.expect.empty() {
				break
			}
		}
	}

	if s.opt.NopInterval > 0 && s.conn != nil && s.expect.empty() && s.opMode == opNone {
		if time.Since(s.lastActive) >= s.opt.NopInterval {
			s.writeCommand("NOOP", Expectation{Check: CheckNOOP})
			s.lastActive = time.Now()
			moved = true
		}
	}

	if moved {
		return xfer.Moved, nil
	}
	return xfer.Stalled, nil
}

// readControlLine reads one line (up to and including '\n') from the
// control socket without blocking past pollDeadline. bufio.ReadString
// returns whatever partial data preceded a deadline error, which would
// otherwise be lost on the next call; s.partial accumulates it across
// would-block retries until a full line is assembled.
func (s *Session) readControlLine() (string, error) {
	return netio.ReadLine(s.conn, s.reader, &s.partial)
}
