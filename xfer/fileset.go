package xfer

import (
	"regexp"
	"sort"
	"time"
)

// SortKey selects the secondary sort order a FileSet can build an
// index for, per §3.
type SortKey int

const (
	SortByName SortKey = iota
	SortBySize
	SortByDate
	SortByRank
	SortDirsFirst
)

// FileSet is an ordered container of FileInfo with a name-sorted
// primary index and on-demand secondary indexes, per §3.
type FileSet struct {
	entries []*FileInfo
	byName  []int // index into entries, kept sorted by Name
}

// NewFileSet builds an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{}
}

// Len returns the number of entries.
func (s *FileSet) Len() int { return len(s.entries) }

// Entries returns the entries in insertion order.
func (s *FileSet) Entries() []*FileInfo { return s.entries }

// Add inserts fi, keeping the name index sorted (§3: "insertion keeps
// the name-index sorted").
func (s *FileSet) Add(fi *FileInfo) {
	idx := len(s.entries)
	s.entries = append(s.entries, fi)
	pos := sort.Search(len(s.byName), func(i int) bool {
		return s.entries[s.byName[i]].Name >= fi.Name
	})
	s.byName = append(s.byName, 0)
	copy(s.byName[pos+1:], s.byName[pos:])
	s.byName[pos] = idx
}

// Get finds an entry by exact name via the sorted name index.
func (s *FileSet) Get(name string) (*FileInfo, bool) {
	pos := sort.Search(len(s.byName), func(i int) bool {
		return s.entries[s.byName[i]].Name >= name
	})
	if pos < len(s.byName) && s.entries[s.byName[pos]].Name == name {
		return s.entries[s.byName[pos]], true
	}
	return nil, false
}

// SortedBy returns a freshly-allocated, sorted copy of the entry
// slice for the given key — §3: "secondary sorts allocate a parallel
// index" rather than mutate the primary order.
func (s *FileSet) SortedBy(key SortKey) []*FileInfo {
	out := make([]*FileInfo, len(s.entries))
	copy(out, s.entries)
	switch key {
	case SortByName:
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	case SortBySize:
		sort.Slice(out, func(i, j int) bool { return out[i].Size < out[j].Size })
	case SortByDate:
		sort.Slice(out, func(i, j int) bool { return out[i].Date.Seconds < out[j].Date.Seconds })
	case SortDirsFirst:
		sort.SliceStable(out, func(i, j int) bool {
			di, dj := out[i].IsDir(), out[j].IsDir()
			if di != dj {
				return di
			}
			return out[i].Name < out[j].Name
		})
	case SortByRank:
		// Rank order is the caller-assigned insertion order; nothing to do.
	}
	return out
}

// PrefixPath prepends path to every entry's name, used when a listing
// result from a subdirectory needs to be merged back with full paths
// (§3: "prefixing a path to all entries").
func (s *FileSet) PrefixPath(path string) *FileSet {
	out := NewFileSet()
	for _, fi := range s.entries {
		out.Add(fi.WithPrefix(path))
	}
	return out
}

// Filter returns a new FileSet containing only entries for which keep
// returns true — the shared machinery behind every Subtract* helper
// below.
func (s *FileSet) Filter(keep func(*FileInfo) bool) *FileSet {
	out := NewFileSet()
	for _, fi := range s.entries {
		if keep(fi) {
			out.Add(fi)
		}
	}
	return out
}

// SubtractSame removes entries from s that have an equivalently-named
// and Same() entry in other, per §4.12's to_transfer computation.
func (s *FileSet) SubtractSame(other *FileSet, ignoreSize, ignoreDate bool, precision time.Duration) *FileSet {
	return s.Filter(func(fi *FileInfo) bool {
		o, ok := other.Get(fi.Name)
		return !ok || !fi.Same(o, ignoreSize, ignoreDate, precision)
	})
}

// SubtractAny removes entries from s that have any entry of the same
// name in other, regardless of attributes — used to compute the
// "same" set (source minus to_transfer) and to_rm (dest minus source).
func (s *FileSet) SubtractAny(other *FileSet) *FileSet {
	return s.Filter(func(fi *FileInfo) bool {
		_, ok := other.Get(fi.Name)
		return !ok
	})
}

// OlderThan keeps only entries whose date is strictly before cutoff —
// §4.12's "newer-than" threshold subtraction (inverted: callers pass
// the threshold and negate as needed via Filter directly for
// "newer-than" semantics).
func (s *FileSet) OlderThan(cutoff time.Time) *FileSet {
	return s.Filter(func(fi *FileInfo) bool {
		return fi.Has(FieldDate) && fi.Date.Time().Before(cutoff)
	})
}

// NewerThan keeps only entries whose date is at or after cutoff.
func (s *FileSet) NewerThan(cutoff time.Time) *FileSet {
	return s.Filter(func(fi *FileInfo) bool {
		return fi.Has(FieldDate) && !fi.Date.Time().Before(cutoff)
	})
}

// SizeOutsideRange keeps only entries whose size is outside [lo, hi].
func (s *FileSet) SizeOutsideRange(lo, hi int64) *FileSet {
	return s.Filter(func(fi *FileInfo) bool {
		return fi.Has(FieldSize) && (fi.Size < lo || fi.Size > hi)
	})
}

// Dirs keeps only directory entries.
func (s *FileSet) Dirs() *FileSet {
	return s.Filter(func(fi *FileInfo) bool { return fi.IsDir() })
}

// NotDirs keeps only non-directory entries.
func (s *FileSet) NotDirs() *FileSet {
	return s.Filter(func(fi *FileInfo) bool { return !fi.IsDir() })
}

// ExcludeMatching drops entries whose name matches any of the POSIX
// extended-regex exclude patterns, keeping only those that also match
// at least one include pattern (if any are given) — §4.11's
// "include/exclude regular expressions".
func (s *FileSet) ExcludeMatching(include, exclude []*regexp.Regexp) *FileSet {
	return s.Filter(func(fi *FileInfo) bool {
		for _, re := range exclude {
			if re.MatchString(fi.Name) {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, re := range include {
			if re.MatchString(fi.Name) {
				return true
			}
		}
		return false
	})
}
