package listcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lftpgo/xfer/xfer"
)

func fp(path string) xfer.Fingerprint {
	return xfer.Fingerprint{
		Identity: xfer.Identity{Protocol: "ftp", Host: "example.com", Port: 21, User: "anon"},
		Path:     path,
		Mode:     xfer.ListModeLong,
	}
}

func TestCacheInsertAndFind(t *testing.T) {
	c := New(time.Minute, 1<<20, true)
	c.Insert(fp("/a"), []byte("listing-a"))

	data, isErr, _, ok := c.Find(fp("/a"))
	require.True(t, ok)
	assert.False(t, isErr)
	assert.Equal(t, "listing-a", string(data))

	_, _, _, ok = c.Find(fp("/b"))
	assert.False(t, ok)
}

func TestCacheInsertError(t *testing.T) {
	c := New(time.Minute, 1<<20, true)
	c.InsertError(fp("/missing"), "no such file")

	_, isErr, msg, ok := c.Find(fp("/missing"))
	require.True(t, ok)
	assert.True(t, isErr)
	assert.Equal(t, "no such file", msg)
}

func TestCacheDisabledAlwaysMisses(t *testing.T) {
	c := New(time.Minute, 1<<20, false)
	c.Insert(fp("/a"), []byte("listing-a"))
	_, _, _, ok := c.Find(fp("/a"))
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(20*time.Millisecond, 1<<20, true)
	c.Insert(fp("/a"), []byte("listing-a"))
	time.Sleep(60 * time.Millisecond)
	_, _, _, ok := c.Find(fp("/a"))
	assert.False(t, ok)
}

func TestCacheByteBudgetEvictsLRUTail(t *testing.T) {
	c := New(time.Minute, 10, true)
	c.Insert(fp("/a"), []byte("12345")) // 5 bytes
	c.Insert(fp("/b"), []byte("12345")) // 5 bytes, total 10, within budget
	c.Insert(fp("/c"), []byte("12345")) // pushes total to 15, evicts /a (LRU tail)

	_, _, _, ok := c.Find(fp("/a"))
	assert.False(t, ok, "/a should have been evicted once the byte budget was exceeded")
	_, _, _, ok = c.Find(fp("/b"))
	assert.True(t, ok)
	_, _, _, ok = c.Find(fp("/c"))
	assert.True(t, ok)
}

func TestCacheInvalidateByPrefix(t *testing.T) {
	c := New(time.Minute, 1<<20, true)
	c.Insert(fp("/dir/a"), []byte("a"))
	c.Insert(fp("/dir/sub/b"), []byte("b"))
	c.Insert(fp("/other"), []byte("c"))

	c.DirectoryChanged(xfer.Identity{Protocol: "ftp", Host: "example.com", Port: 21, User: "anon"}, "/dir")

	_, _, _, ok := c.Find(fp("/dir/a"))
	assert.False(t, ok)
	_, _, _, ok = c.Find(fp("/dir/sub/b"))
	assert.False(t, ok)
	_, _, _, ok = c.Find(fp("/other"))
	assert.True(t, ok)
}

func TestCacheTreeChangedClearsIdentity(t *testing.T) {
	c := New(time.Minute, 1<<20, true)
	c.Insert(fp("/a"), []byte("a"))
	c.Insert(fp("/b"), []byte("b"))

	c.TreeChanged(xfer.Identity{Protocol: "ftp", Host: "example.com", Port: 21, User: "anon"})

	_, _, _, ok := c.Find(fp("/a"))
	assert.False(t, ok)
	_, _, _, ok = c.Find(fp("/b"))
	assert.False(t, ok)
}
