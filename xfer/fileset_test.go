package xfer

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSetAddGet(t *testing.T) {
	s := NewFileSet()
	s.Add(NewFileInfo("banana"))
	s.Add(NewFileInfo("apple"))
	s.Add(NewFileInfo("cherry"))

	require.Equal(t, 3, s.Len())
	fi, ok := s.Get("apple")
	require.True(t, ok)
	assert.Equal(t, "apple", fi.Name)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	names := make([]string, 0, 3)
	for _, fi := range s.SortedBy(SortByName) {
		names = append(names, fi.Name)
	}
	assert.Equal(t, []string{"apple", "banana", "cherry"}, names)
}

func TestFileSetSortDirsFirst(t *testing.T) {
	s := NewFileSet()
	s.Add(NewFileInfo("zfile").SetType(TypeNormal))
	s.Add(NewFileInfo("adir").SetType(TypeDirectory))
	s.Add(NewFileInfo("bfile").SetType(TypeNormal))

	names := make([]string, 0, 3)
	for _, fi := range s.SortedBy(SortDirsFirst) {
		names = append(names, fi.Name)
	}
	assert.Equal(t, []string{"adir", "bfile", "zfile"}, names)
}

func TestFileSetSubtractAny(t *testing.T) {
	source := NewFileSet()
	source.Add(NewFileInfo("a"))
	source.Add(NewFileInfo("b"))

	dest := NewFileSet()
	dest.Add(NewFileInfo("b"))
	dest.Add(NewFileInfo("c"))

	toRemoveFromDest := dest.SubtractAny(source)
	require.Equal(t, 1, toRemoveFromDest.Len())
	assert.Equal(t, "c", toRemoveFromDest.Entries()[0].Name)
}

func TestFileSetSubtractSame(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	mkDate := func(t time.Time) Date { return Date{Seconds: t.Unix()} }

	source := NewFileSet()
	source.Add(NewFileInfo("same.txt").SetType(TypeNormal).SetSize(10).SetDate(mkDate(now)))
	source.Add(NewFileInfo("changed.txt").SetType(TypeNormal).SetSize(20).SetDate(mkDate(now)))
	source.Add(NewFileInfo("new.txt").SetType(TypeNormal).SetSize(5).SetDate(mkDate(now)))

	dest := NewFileSet()
	dest.Add(NewFileInfo("same.txt").SetType(TypeNormal).SetSize(10).SetDate(mkDate(now)))
	dest.Add(NewFileInfo("changed.txt").SetType(TypeNormal).SetSize(30).SetDate(mkDate(now)))

	toTransfer := source.SubtractSame(dest, false, false, time.Second)
	names := map[string]bool{}
	for _, fi := range toTransfer.Entries() {
		names[fi.Name] = true
	}
	assert.True(t, names["changed.txt"], "differing size should need transfer")
	assert.True(t, names["new.txt"], "missing from dest should need transfer")
	assert.False(t, names["same.txt"], "identical entry should not need transfer")
}

func TestFileInfoSameDirectoryIgnoresSize(t *testing.T) {
	a := NewFileInfo("dir").SetType(TypeDirectory).SetSize(100)
	b := NewFileInfo("dir").SetType(TypeDirectory).SetSize(4096)
	assert.True(t, a.Same(b, false, false, time.Second))
}

func TestDateWithin(t *testing.T) {
	a := Date{Seconds: 1000, Precision: 0}
	b := Date{Seconds: 1002, Precision: 2}
	assert.True(t, a.Within(b))

	c := Date{Seconds: 1010, Precision: 0}
	assert.False(t, a.Within(c))
}

func TestFileSetExcludeMatching(t *testing.T) {
	s := NewFileSet()
	s.Add(NewFileInfo("keep.go"))
	s.Add(NewFileInfo("drop.tmp"))
	s.Add(NewFileInfo("also_keep.go"))

	filtered := s.ExcludeMatching(nil, []*regexp.Regexp{regexp.MustCompile(`\.tmp$`)})
	names := map[string]bool{}
	for _, fi := range filtered.Entries() {
		names[fi.Name] = true
	}
	assert.True(t, names["keep.go"])
	assert.True(t, names["also_keep.go"])
	assert.False(t, names["drop.tmp"])
}

func TestFileSetPrefixPath(t *testing.T) {
	s := NewFileSet()
	s.Add(NewFileInfo("a.txt"))
	s.Add(NewFileInfo("b.txt"))

	prefixed := s.PrefixPath("sub/dir")
	fi, ok := prefixed.Get("sub/dir/a.txt")
	require.True(t, ok)
	assert.Equal(t, "sub/dir/a.txt", fi.Name)
}
