package listinfo

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lftpgo/xfer/xfer"
)

// Line shapes below are drawn from the classic ls -l layout exercised
// by the vendored github.com/jlaffaye/ftp parser's test table (that
// library's own parse.go was not retrieved into the pack; only its
// test file was, so these are the same line shapes, not copied cases).

func TestParseDirectoryEntry(t *testing.T) {
	data := []byte("drwxr-xr-x    3 110      1002            3 Dec 02  2009 pub\n")
	set := Parse(data)
	require.Equal(t, 1, set.Len())
	fi, ok := set.Get("pub")
	require.True(t, ok)
	assert.True(t, fi.IsDir())
	assert.True(t, fi.Has(xfer.FieldSize))
	assert.EqualValues(t, 3, fi.Size)

	want := time.Date(2009, time.December, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want.Unix(), fi.Date.Seconds)
	assert.True(t, fi.Date.Imprecise())
}

func TestParseFileEntry(t *testing.T) {
	data := []byte("-rw-r--r--   1 marketwired marketwired    12016 Mar 16  2016 2016031611G087802-001.newsml\n")
	set := Parse(data)
	fi, ok := set.Get("2016031611G087802-001.newsml")
	require.True(t, ok)
	assert.Equal(t, xfer.TypeNormal, fi.Type)
	assert.EqualValues(t, 12016, fi.Size)
	assert.Equal(t, "marketwired", fi.User)
	assert.Equal(t, "marketwired", fi.Group)
}

func TestParseSymlinkEntry(t *testing.T) {
	data := []byte("lrwxrwxrwx   1 root     other          7 Jan 25 00:17 bin -> usr/bin\n")
	set := Parse(data)
	fi, ok := set.Get("bin")
	require.True(t, ok)
	assert.Equal(t, xfer.TypeSymlink, fi.Type)
	assert.Equal(t, "usr/bin", fi.Symlink)
}

func TestParseSkipsTotalLine(t *testing.T) {
	data := []byte("total 24\ndrwxr-xr-x 2 user group 4096 Dec 02  2009 dir1\n")
	set := Parse(data)
	assert.Equal(t, 1, set.Len())
}

func TestParseSkipsDotEntries(t *testing.T) {
	data := []byte(
		"drwxr-xr-x 2 user group 4096 Dec 02  2009 .\n" +
			"drwxr-xr-x 2 user group 4096 Dec 02  2009 ..\n" +
			"drwxr-xr-x 2 user group 4096 Dec 02  2009 real\n",
	)
	set := Parse(data)
	assert.Equal(t, 1, set.Len())
	_, ok := set.Get("real")
	assert.True(t, ok)
}

func TestRewriteTildes(t *testing.T) {
	set := xfer.NewFileSet()
	set.Add(xfer.NewFileInfo("~oldhome").SetType(xfer.TypeNormal))
	rewriteTildes(set)
	_, ok := set.Get("./~oldhome")
	assert.True(t, ok)
}

func TestParseModePermissionBits(t *testing.T) {
	fi := parseLine("-rwxr-xr-- 1 a a 10 Dec 02  2009 script", time.Now())
	require.NotNil(t, fi)
	assert.Equal(t, fs.FileMode(0754), fi.Mode)
}
