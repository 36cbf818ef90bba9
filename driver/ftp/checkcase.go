package ftp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lftpgo/xfer/xfer"
)

// dispatch interprets one terminal Reply against the head of the
// expectation queue, per §8 invariant 1: "the next terminal reply
// matched to that command dispatches E's check-case exactly once.
// Continuation lines never pop." (Continuation lines never reach here
// — replyParser only emits Terminal replies.)
func (s *Session) dispatch(reply Reply) {
	exp, ok := s.expect.pop()
	if !ok {
		return // unsolicited line (e.g. a spurious banner repeat); ignore
	}
	switch exp.Check {
	case CheckNone:
		// explicitly ignored, e.g. after Close() rewrote the queue
	case CheckREST:
		s.checkREST(reply, exp)
	case CheckCWD:
		s.checkCWD(reply, exp)
	case CheckABOR:
		s.checkABOR(reply, exp)
	case CheckSIZE:
		s.checkSIZE(reply, exp, false)
	case CheckSIZEOpt:
		s.checkSIZE(reply, exp, true)
	case CheckMDTM:
		s.checkMDTM(reply, exp, false)
	case CheckMDTMOpt:
		s.checkMDTM(reply, exp, true)
	case CheckPASV:
		s.checkPASV(reply, exp)
	case CheckEPSV:
		s.checkEPSV(reply, exp)
	case CheckPORT, CheckEPRT:
		s.checkPORT(reply, exp)
	case CheckPWD:
		s.checkPWD(reply, exp)
	case CheckRNFR:
		s.checkRNFR(reply, exp)
	case CheckRNTO:
		s.checkFileAccess(reply, exp)
	case CheckUSER, CheckPASS:
		s.checkLogin(reply, exp)
	case CheckTRANSFER:
		s.checkTransfer(reply, exp)
	case CheckFileAccess, CheckMKD, CheckDELE, CheckCHMOD:
		s.checkFileAccess(reply, exp)
	case CheckNOOP:
		// no state change; NOOP is purely a keep-alive heartbeat
	case CheckTYPE:
		s.checkFileAccess(reply, exp)
	case CheckQUIT:
		s.state = Initial
	}
}

// checkCWD implements §4.8's CWD policy: current/stale/critical
// variants. A successful CWD updates s.cwd; a 550 surfaces NoFile.
func (s *Session) checkCWD(reply Reply, exp Expectation) {
	if reply.Code/100 == 2 {
		s.cwd = exp.Path
		s.state = EofIdle
		s.resetRetry()
		return
	}
	if reply.Code == 550 {
		s.fail(xfer.NoFile(exp.Path, reply.Text))
		return
	}
	if shouldRetryTransferCode(reply.Code) {
		path := exp.Path
		s.scheduleReconnect(xfer.Fatal(fmt.Sprintf("CWD %s: retries exhausted: %s", path, reply.Text), nil), func() {
			_ = s.queueCWD(path, true)
		})
		return
	}
	s.fail(xfer.Fatal(reply.Text, nil))
}

// checkREST accepts a 350 (restart position accepted) or tolerates a
// flat refusal by resetting pos to 0, per §4.8's "REST is advisory".
func (s *Session) checkREST(reply Reply, exp Expectation) {
	if reply.Code != 350 {
		s.pos = 0
	}
}

// checkABOR consumes the aborted-transfer response. Per §4.8, a 426
// (transfer aborted) or a bare 225/226 both end the abort cleanly.
func (s *Session) checkABOR(reply Reply, exp Expectation) {
	s.state = EofIdle
}

func (s *Session) checkSIZE(reply Reply, exp Expectation, optional bool) {
	if reply.Code == 213 {
		if n, err := strconv.ParseInt(strings.TrimSpace(reply.Text), 10, 64); err == nil {
			if exp.SizeSlot != nil {
				*exp.SizeSlot = n
			}
			return
		}
	}
	if exp.SizeSlot != nil {
		*exp.SizeSlot = -1
	}
	if !optional {
		s.fail(xfer.NoFile(exp.Path, reply.Text))
	}
}

func (s *Session) checkMDTM(reply Reply, exp Expectation, optional bool) {
	if reply.Code == 213 {
		if t, ok := parseMDTM(strings.TrimSpace(reply.Text)); ok {
			if exp.TimeSlot != nil {
				*exp.TimeSlot = t
			}
			return
		}
	}
	if exp.TimeSlot != nil {
		*exp.TimeSlot = 0
	}
	if !optional {
		s.fail(xfer.NoFile(exp.Path, reply.Text))
	}
}

// parseMDTM parses the YYYYMMDDHHMMSS[.sss] form §6's MDTM reply uses.
func parseMDTM(s string) (int64, bool) {
	if len(s) < 14 {
		return 0, false
	}
	t, err := time.ParseInLocation("20060102150405", s[:14], time.UTC)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

func (s *Session) checkPASV(reply Reply, exp Expectation) {
	if reply.Code != 227 {
		s.fail(xfer.Fatal("PASV refused: "+reply.Text, nil))
		return
	}
	ip, port, err := DecodePASV(reply.Text)
	if err != nil {
		s.fail(xfer.Fatal(err.Error(), err))
		return
	}
	s.dataPASV = true
	s.queueTransferCommand(exp.Path)
	s.startDataDial(ip, port)
}

func (s *Session) checkEPSV(reply Reply, exp Expectation) {
	if reply.Code != 229 {
		s.fail(xfer.Fatal("EPSV refused: "+reply.Text, nil))
		return
	}
	port, err := DecodeEPSV(reply.Text)
	if err != nil {
		s.fail(xfer.Fatal(err.Error(), err))
		return
	}
	s.dataPASV = true
	host, _, _ := net.SplitHostPort(s.conn.RemoteAddr().String())
	s.queueTransferCommand(exp.Path)
	s.startDataDial(net.ParseIP(host), port)
}

// checkPORT confirms the server accepted our active-mode address, then
// starts accepting its callback connection and queues the actual
// transfer command, per §4.8's active-mode orchestration.
func (s *Session) checkPORT(reply Reply, exp Expectation) {
	if reply.Code/100 != 2 {
		if s.listener != nil {
			_ = s.listener.Close()
			s.listener = nil
		}
		s.fail(xfer.Fatal("PORT refused: "+reply.Text, nil))
		return
	}
	s.startDataAccept()
	s.queueTransferCommand(exp.Path)
}

// queueTransferCommand issues REST (if pos>0) then the actual
// RETR/STOR/LIST/MLSD command, per §4.8 ("REST is issued before
// RETR/STOR when pos>0").
func (s *Session) queueTransferCommand(path string) {
	if s.pos > 0 && (s.opMode == opRetrieve || s.opMode == opStore) {
		s.writeCommand("REST "+strconv.FormatInt(s.pos, 10), Expectation{Check: CheckREST, Path: path})
	}
	switch s.opMode {
	case opRetrieve:
		s.writeCommand("RETR "+path, Expectation{Check: CheckTRANSFER, Path: path})
	case opStore:
		s.writeCommand("STOR "+path, Expectation{Check: CheckTRANSFER, Path: path})
	case opList:
		s.writeCommand("NLST "+path, Expectation{Check: CheckTRANSFER, Path: path})
	case opLongList:
		s.writeCommand("LIST "+path, Expectation{Check: CheckTRANSFER, Path: path})
	case opMPList:
		s.writeCommand("MLSD "+path, Expectation{Check: CheckTRANSFER, Path: path})
	}
}

func (s *Session) checkPWD(reply Reply, exp Expectation) {
	if reply.Code == 257 {
		if path, ok := extractQuotedPath(reply.Text); ok {
			s.home, s.homeKnown = path, true
		}
	}
	s.state = EofIdle
}

// checkRNFR issues RNTO on success, per §4.8 ("RNFR (on success issue
// RNTO)").
func (s *Session) checkRNFR(reply Reply, exp Expectation) {
	if reply.Code/100 != 3 {
		s.fail(xfer.NoFile(exp.Path, reply.Text))
		return
	}
	s.writeCommand("RNTO "+exp.CmdText, Expectation{Check: CheckRNTO, Path: exp.CmdText})
}

func (s *Session) checkLogin(reply Reply, exp Expectation) {
	if reply.Code/100 != 2 {
		s.fail(xfer.LoginFailed(reply.Text))
		return
	}
	s.state = EofIdle
}

// checkTransfer implements §4.8's TRANSFER policy: 226/250 success,
// 4xx retriable.
func (s *Session) checkTransfer(reply Reply, exp Expectation) {
	switch {
	case reply.Code == 226 || reply.Code == 250:
		s.opMode = opNone
		s.state = EofIdle
		s.resetRetry()
	case reply.Code == 550 || reply.Code == 553:
		s.fail(xfer.NoFile(exp.Path, reply.Text))
	case shouldRetryTransferCode(reply.Code):
		path := exp.Path
		s.scheduleReconnect(xfer.Fatal(fmt.Sprintf("transfer %s: retries exhausted: %s", path, reply.Text), nil), func() {
			_ = s.negotiateDataChannel(path)
		})
	default:
		s.fail(xfer.Fatal(reply.Text, nil))
	}
}

// checkFileAccess implements §4.8's generic FILE_ACCESS policy: 550 ->
// NoFile, otherwise success/fatal.
func (s *Session) checkFileAccess(reply Reply, exp Expectation) {
	switch {
	case reply.Code/100 == 2:
		s.state = EofIdle
	case reply.Code == 550 || reply.Code == 553:
		s.fail(xfer.NoFile(exp.Path, reply.Text))
	default:
		s.fail(xfer.Fatal(reply.Text, nil))
	}
}
