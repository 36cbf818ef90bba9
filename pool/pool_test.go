package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lftpgo/xfer/xfer"
)

// fakeSession is the minimal xfer.Session stand-in used to exercise
// Registry/Pool/TakeOver without a real protocol driver.
type fakeSession struct {
	id           xfer.Identity
	cwd          string
	idle         bool
	intendedPath string
	priority     int
	disconnected bool
	adoptErr     error
	adoptedFrom  *fakeSession
}

func (f *fakeSession) Identity() xfer.Identity { return f.id }
func (f *fakeSession) Password() string        { return "" }
func (f *fakeSession) Cwd() string             { return f.cwd }
func (f *fakeSession) Home() (string, bool)    { return "", false }

func (f *fakeSession) Connect(ctx context.Context, host string, port int) error { return nil }
func (f *fakeSession) Login(ctx context.Context, user, pass string) error       { return nil }

func (f *fakeSession) Open(ctx context.Context, mode xfer.Mode, path string, pos int64) error {
	return nil
}
func (f *fakeSession) Read(buf []byte) (int, error)  { return 0, nil }
func (f *fakeSession) Write(buf []byte) (int, error) { return 0, nil }
func (f *fakeSession) SendEOT() error                { return nil }
func (f *fakeSession) Close() error                  { return nil }

func (f *fakeSession) Rename(ctx context.Context, from, to string) error { return nil }
func (f *fakeSession) Mkdir(ctx context.Context, path string, allLevels bool) error {
	return nil
}
func (f *fakeSession) Chdir(ctx context.Context, path string, verify bool) error { return nil }
func (f *fakeSession) Chmod(ctx context.Context, path string, mode uint32) error {
	return nil
}
func (f *fakeSession) GetInfoArray(ctx context.Context, paths []string) ([]*xfer.FileInfo, error) {
	return nil, nil
}

func (f *fakeSession) Clone() xfer.Session { return &fakeSession{id: f.id} }
func (f *fakeSession) SameSiteAs(other xfer.Session) bool {
	o, ok := other.(*fakeSession)
	return ok && o.id == f.id
}
func (f *fakeSession) SameLocationAs(other xfer.Session) bool {
	o, ok := other.(*fakeSession)
	return ok && o.id == f.id && o.cwd == f.cwd
}
func (f *fakeSession) IsBetterThan(other xfer.Session) bool { return false }
func (f *fakeSession) Idle() bool                           { return f.idle }
func (f *fakeSession) Disconnect()                          { f.disconnected = true }

func (f *fakeSession) IntendedPath() string { return f.intendedPath }
func (f *fakeSession) Priority() int        { return f.priority }
func (f *fakeSession) AdoptFrom(src Takeover) error {
	if f.adoptErr != nil {
		return f.adoptErr
	}
	s := src.(*fakeSession)
	f.adoptedFrom = s
	s.disconnected = true
	return nil
}

var ftpID = xfer.Identity{Protocol: "ftp", Host: "example.com", Port: 21, User: "anon"}

func TestRegistryTrackAndSameSite(t *testing.T) {
	r := NewRegistry()
	a := &fakeSession{id: ftpID}
	b := &fakeSession{id: ftpID}
	c := &fakeSession{id: xfer.Identity{Protocol: "ftp", Host: "other.com", Port: 21}}

	r.Track(a)
	r.Track(b)
	r.Track(c)

	peers := r.SameSite(a)
	require.Len(t, peers, 1)
	assert.Same(t, xfer.Session(b), peers[0])
}

func TestRegistryUntrackRemovesAndRecordsCwd(t *testing.T) {
	r := NewRegistry()
	a := &fakeSession{id: ftpID, cwd: "/incoming"}
	r.Track(a)
	r.Untrack(a)

	assert.Empty(t, r.SameSite(a))
	cwd, ok := r.LastCWD(ftpID)
	require.True(t, ok)
	assert.Equal(t, "/incoming", cwd)
}

func TestPoolReuseWithinCapacity(t *testing.T) {
	registry := NewRegistry()
	p := New(registry)
	s := &fakeSession{id: ftpID}
	p.Reuse(s)

	var found xfer.Session
	p.Walk("", func(sess xfer.Session) bool {
		found = sess
		return false
	})
	assert.Same(t, xfer.Session(s), found)
}

func TestPoolWalkFiltersByProtocol(t *testing.T) {
	registry := NewRegistry()
	p := New(registry)
	p.Reuse(&fakeSession{id: xfer.Identity{Protocol: "ftp"}})
	p.Reuse(&fakeSession{id: xfer.Identity{Protocol: "http"}})

	var protocols []string
	p.Walk("http", func(sess xfer.Session) bool {
		protocols = append(protocols, sess.Identity().Protocol)
		return true
	})
	assert.Equal(t, []string{"http"}, protocols)
}

func TestPoolReuseEvictsOldestAtCapacity(t *testing.T) {
	registry := NewRegistry()
	p := New(registry)
	p.capacity = 2

	first := &fakeSession{id: ftpID}
	second := &fakeSession{id: ftpID}
	third := &fakeSession{id: ftpID}

	p.Reuse(first)
	p.Reuse(second)
	p.Reuse(third) // capacity 2: evicts first

	assert.True(t, first.disconnected)
	assert.False(t, second.disconnected)
	assert.False(t, third.disconnected)

	var remaining []xfer.Session
	p.Walk("", func(sess xfer.Session) bool {
		remaining = append(remaining, sess)
		return true
	})
	assert.Len(t, remaining, 2)
}

func TestTakeOverLevelIdleSamePath(t *testing.T) {
	registry := NewRegistry()
	peer := &fakeSession{id: ftpID, idle: true, intendedPath: "/pub"}
	registry.Track(peer)

	requester := &fakeSession{id: ftpID, intendedPath: "/pub"}
	outcome := TakeOver(registry, requester, 8)

	require.True(t, outcome.Succeeded)
	assert.Equal(t, LevelIdleSamePath, outcome.Level)
	assert.Same(t, peer, requester.adoptedFrom)
}

func TestTakeOverLevelIdleAnyPath(t *testing.T) {
	registry := NewRegistry()
	peer := &fakeSession{id: ftpID, idle: true, intendedPath: "/other"}
	registry.Track(peer)

	requester := &fakeSession{id: ftpID, intendedPath: "/pub"}
	outcome := TakeOver(registry, requester, 8)

	require.True(t, outcome.Succeeded)
	assert.Equal(t, LevelIdleAnyPath, outcome.Level)
}

func TestTakeOverLevelEvictsLowestPriorityAtLimit(t *testing.T) {
	registry := NewRegistry()
	low := &fakeSession{id: ftpID, idle: false, priority: 1}
	high := &fakeSession{id: ftpID, idle: false, priority: 5}
	registry.Track(low)
	registry.Track(high)

	requester := &fakeSession{id: ftpID}
	outcome := TakeOver(registry, requester, 2)

	require.True(t, outcome.Succeeded)
	assert.Equal(t, LevelEvictLowerPriority, outcome.Level)
	assert.True(t, low.disconnected)
	assert.False(t, high.disconnected)
}

func TestTakeOverFailsWhenNoPeersAndBelowLimit(t *testing.T) {
	registry := NewRegistry()
	requester := &fakeSession{id: ftpID}
	outcome := TakeOver(registry, requester, 8)
	assert.False(t, outcome.Succeeded)
}
