package ftp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lftpgo/xfer/reconnect"
	"github.com/lftpgo/xfer/xfer"
)

func TestExtractQuotedPath(t *testing.T) {
	path, ok := extractQuotedPath(`"/home/user" is the current directory`)
	assert.True(t, ok)
	assert.Equal(t, "/home/user", path)

	path, ok = extractQuotedPath(`"/a ""quoted"" dir"`)
	assert.True(t, ok)
	assert.Equal(t, `/a "quoted" dir`, path)

	_, ok = extractQuotedPath("no quotes here")
	assert.False(t, ok)
}

func TestShouldRetryTransferCode(t *testing.T) {
	assert.True(t, shouldRetryTransferCode(450))
	assert.True(t, shouldRetryTransferCode(426))
	assert.False(t, shouldRetryTransferCode(226))
	assert.False(t, shouldRetryTransferCode(550))
}

func TestDispatchCWDSuccessUpdatesCwd(t *testing.T) {
	s := &Session{}
	s.expect.push(Expectation{Check: CheckCWD, Path: "/incoming"})
	s.dispatch(Reply{Code: 250, Text: "CWD successful"})
	assert.Equal(t, "/incoming", s.cwd)
	assert.Equal(t, EofIdle, s.state)
}

func TestDispatchCWDNoFile(t *testing.T) {
	s := &Session{}
	s.expect.push(Expectation{Check: CheckCWD, Path: "/missing"})
	s.dispatch(Reply{Code: 550, Text: "No such directory"})
	assert.Equal(t, NoFile, s.state)
	assert.Equal(t, xfer.KindNoFile, s.lastErrKind)
}

func TestDispatchCWDRetriableSchedulesReconnect(t *testing.T) {
	s := &Session{reconnect: reconnect.New(time.Millisecond, time.Second, 2, 0, 0)}
	s.expect.push(Expectation{Check: CheckCWD, Path: "/busy"})
	s.dispatch(Reply{Code: 450, Text: "Busy"})
	assert.Equal(t, Connecting, s.state)
	assert.NotNil(t, s.pendingResume)
	assert.False(t, s.reconnectAt.IsZero())
}

// Without a configured retry policy (the zero value a bare Session
// carries before NewSession runs), a retriable CWD reply has no
// backoff budget to schedule against and surfaces the failure
// directly instead.
func TestDispatchCWDRetriableWithoutPolicyFails(t *testing.T) {
	s := &Session{}
	s.expect.push(Expectation{Check: CheckCWD, Path: "/busy"})
	s.dispatch(Reply{Code: 450, Text: "Busy"})
	assert.Equal(t, Fatal, s.state)
}

func TestDispatchSIZEPopulatesSlot(t *testing.T) {
	s := &Session{}
	var size int64
	s.expect.push(Expectation{Check: CheckSIZE, Path: "/f", SizeSlot: &size})
	s.dispatch(Reply{Code: 213, Text: " 4096"})
	assert.Equal(t, int64(4096), size)
}

func TestDispatchSIZEOptTreatsFailureAsNonFatal(t *testing.T) {
	s := &Session{}
	var size int64 = -99
	s.expect.push(Expectation{Check: CheckSIZEOpt, Path: "/f", SizeSlot: &size})
	s.dispatch(Reply{Code: 550, Text: "not supported"})
	assert.Equal(t, int64(-1), size)
	assert.Equal(t, EofIdle, s.state) // zero value, no failure transition was taken
}

func TestDispatchSIZERequiredFailsSession(t *testing.T) {
	s := &Session{}
	var size int64
	s.expect.push(Expectation{Check: CheckSIZE, Path: "/f", SizeSlot: &size})
	s.dispatch(Reply{Code: 550, Text: "No such file"})
	assert.Equal(t, NoFile, s.state)
}

func TestDispatchMDTMParsesTimestamp(t *testing.T) {
	s := &Session{}
	var ts int64
	s.expect.push(Expectation{Check: CheckMDTM, Path: "/f", TimeSlot: &ts})
	s.dispatch(Reply{Code: 213, Text: "20091202030405"})
	assert.Greater(t, ts, int64(0))
}

func TestDispatchPWDExtractsPath(t *testing.T) {
	s := &Session{}
	s.expect.push(Expectation{Check: CheckPWD})
	s.dispatch(Reply{Code: 257, Text: `"/home/anon" is current directory`})
	assert.Equal(t, "/home/anon", s.home)
	assert.True(t, s.homeKnown)
	assert.Equal(t, EofIdle, s.state)
}

func TestDispatchRNFRSuccessQueuesRNTO(t *testing.T) {
	s := &Session{}
	s.expect.push(Expectation{Check: CheckRNFR, CmdText: "/new/name"})
	s.dispatch(Reply{Code: 350, Text: "File exists, ready for RNTO"})

	exp, ok := s.expect.peek()
	if assert.True(t, ok) {
		assert.Equal(t, CheckRNTO, exp.Check)
	}
}

func TestDispatchRNFRFailureSurfacesNoFile(t *testing.T) {
	s := &Session{}
	s.expect.push(Expectation{Check: CheckRNFR, Path: "/missing", CmdText: "/new"})
	s.dispatch(Reply{Code: 550, Text: "No such file"})
	assert.Equal(t, NoFile, s.state)
}

func TestDispatchLoginFailure(t *testing.T) {
	s := &Session{}
	s.expect.push(Expectation{Check: CheckUSER})
	s.dispatch(Reply{Code: 530, Text: "Login incorrect"})
	assert.Equal(t, LoginFailed, s.state)
	assert.Equal(t, xfer.KindLoginFailed, s.lastErrKind)
}

func TestDispatchTransferSuccessResetsOpMode(t *testing.T) {
	s := &Session{opMode: opRetrieve}
	s.expect.push(Expectation{Check: CheckTRANSFER, Path: "/f"})
	s.dispatch(Reply{Code: 226, Text: "Transfer complete"})
	assert.Equal(t, opNone, s.opMode)
	assert.Equal(t, EofIdle, s.state)
}

func TestDispatchTransferRetriableSchedulesReconnect(t *testing.T) {
	s := &Session{opMode: opRetrieve, reconnect: reconnect.New(time.Millisecond, time.Second, 2, 0, 0)}
	s.expect.push(Expectation{Check: CheckTRANSFER, Path: "/f"})
	s.dispatch(Reply{Code: 426, Text: "Connection closed; transfer aborted"})
	assert.Equal(t, Connecting, s.state)
	assert.NotNil(t, s.pendingResume)
}

func TestDispatchTransferNoFile(t *testing.T) {
	s := &Session{opMode: opRetrieve}
	s.expect.push(Expectation{Check: CheckTRANSFER, Path: "/f"})
	s.dispatch(Reply{Code: 550, Text: "No such file"})
	assert.Equal(t, NoFile, s.state)
}

func TestDispatchUnsolicitedReplyIsIgnored(t *testing.T) {
	s := &Session{}
	assert.NotPanics(t, func() {
		s.dispatch(Reply{Code: 220, Text: "spurious banner"})
	})
}

func TestDispatchNoneExplicitlyIgnored(t *testing.T) {
	s := &Session{state: Waiting}
	s.expect.push(Expectation{Check: CheckNone})
	s.dispatch(Reply{Code: 226, Text: "late reply after Close"})
	assert.Equal(t, Waiting, s.state) // dispatch itself makes no transition for CheckNone
}
