package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lftpgo/xfer/xfer"
)

func mkFile(name string, size int64, seconds int64) *xfer.FileInfo {
	return xfer.NewFileInfo(name).SetType(xfer.TypeNormal).SetSize(size).SetDate(xfer.Date{Seconds: seconds})
}

func TestInitSetsBasic(t *testing.T) {
	source := xfer.NewFileSet()
	source.Add(mkFile("same.txt", 10, 1000))
	source.Add(mkFile("changed.txt", 20, 2000))
	source.Add(mkFile("new.txt", 5, 3000))

	dest := xfer.NewFileSet()
	dest.Add(mkFile("same.txt", 10, 1000))
	dest.Add(mkFile("changed.txt", 99, 2000))
	dest.Add(mkFile("stale.txt", 1, 1))

	toRM, toTransfer, same := InitSets(source, dest, Options{TimePrecision: time.Second})

	require.Equal(t, 1, toRM.Len())
	assert.Equal(t, "stale.txt", toRM.Entries()[0].Name)

	transferNames := map[string]bool{}
	for _, fi := range toTransfer.Entries() {
		transferNames[fi.Name] = true
	}
	assert.True(t, transferNames["changed.txt"])
	assert.True(t, transferNames["new.txt"])
	assert.False(t, transferNames["same.txt"])

	_, ok := same.Get("same.txt")
	assert.True(t, ok)
	_, ok = same.Get("changed.txt")
	assert.False(t, ok)
}

func TestInitSetsOnlyNewer(t *testing.T) {
	source := xfer.NewFileSet()
	source.Add(mkFile("older.txt", 5, 100))
	source.Add(mkFile("newer.txt", 5, 500))

	dest := xfer.NewFileSet()
	dest.Add(mkFile("older.txt", 9, 300))
	dest.Add(mkFile("newer.txt", 9, 300))

	_, toTransfer, _ := InitSets(source, dest, Options{OnlyNewer: true, TimePrecision: time.Second})

	_, hasOlder := toTransfer.Get("older.txt")
	_, hasNewer := toTransfer.Get("newer.txt")
	assert.False(t, hasOlder, "source entry older than dest should not transfer under OnlyNewer")
	assert.True(t, hasNewer, "source entry newer than dest should transfer under OnlyNewer")
}

func TestInitSetsNewerThanThreshold(t *testing.T) {
	source := xfer.NewFileSet()
	source.Add(mkFile("old.txt", 5, 100))
	source.Add(mkFile("recent.txt", 5, int64(time.Now().Unix())))

	dest := xfer.NewFileSet()

	threshold := time.Now().Add(-time.Hour)
	_, toTransfer, _ := InitSets(source, dest, Options{NewerThan: threshold, TimePrecision: time.Second})

	_, hasOld := toTransfer.Get("old.txt")
	_, hasRecent := toTransfer.Get("recent.txt")
	assert.False(t, hasOld)
	assert.True(t, hasRecent)
}

func TestListLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	set, err := listLocal(dir)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	fi, ok := set.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, xfer.TypeNormal, fi.Type)
	assert.EqualValues(t, 5, fi.Size)

	dirFi, ok := set.Get("sub")
	require.True(t, ok)
	assert.True(t, dirFi.IsDir())
}

func TestListLocalMissingDirReturnsEmptySet(t *testing.T) {
	set, err := listLocal(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}
