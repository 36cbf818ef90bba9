package listinfo

import (
	"context"
	"path"
	"strings"

	"github.com/lftpgo/xfer/listcache"
	"github.com/lftpgo/xfer/xfer"
)

// GlobberOptions narrows wildcard expansion results, per §4.11:
// "honours file-only or directory-only filtering (some back-ends
// cannot distinguish, in which case entries of unknown type are
// kept)".
type GlobberOptions struct {
	FilesOnly bool
	DirsOnly  bool
}

const metaChars = "*?["

// HasMeta reports whether pattern contains a wildcard metacharacter.
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, metaChars)
}

// Expand resolves a path containing wildcard components by walking its
// leading directory components and listing each one in turn,
// intersecting each segment against its pattern, per §4.11's Globber.
// Non-wildcard segments pass straight through without a listing call.
// Results are full paths relative to the session's current directory.
func Expand(ctx context.Context, sess session, cache *listcache.Cache, pattern string, opt GlobberOptions) (*xfer.FileSet, error) {
	segments := strings.Split(pattern, "/")
	bases := []string{""}
	if strings.HasPrefix(pattern, "/") {
		bases = []string{"/"}
		segments = segments[1:]
	}

	for i, seg := range segments {
		last := i == len(segments)-1
		if seg == "" {
			continue
		}
		if !HasMeta(seg) {
			next := make([]string, len(bases))
			for j, b := range bases {
				next[j] = joinRemote(b, seg)
			}
			bases = next
			continue
		}
		var next []string
		var matched *xfer.FileSet
		for _, b := range bases {
			listBase := b
			if listBase == "" {
				listBase = "."
			}
			set, err := Run(ctx, sess, cache, listBase, Options{Mode: xfer.ListModeLong})
			if err != nil {
				return nil, err
			}
			for _, fi := range set.Entries() {
				if !globMatch(seg, fi.Name) {
					continue
				}
				if last {
					if opt.FilesOnly && fi.Has(xfer.FieldType) && fi.IsDir() {
						continue
					}
					if opt.DirsOnly && fi.Has(xfer.FieldType) && !fi.IsDir() {
						continue
					}
					if matched == nil {
						matched = xfer.NewFileSet()
					}
					matched.Add(fi.WithPrefix(b))
					continue
				}
				if fi.Has(xfer.FieldType) && !fi.IsDir() {
					continue // only directories are worth descending into
				}
				next = append(next, joinRemote(b, fi.Name))
			}
		}
		if last {
			if matched == nil {
				matched = xfer.NewFileSet()
			}
			return matched, nil
		}
		bases = next
	}

	// No segment contained a metacharacter: the whole pattern named a
	// single concrete path: report it back as a one-entry set so
	// callers have a uniform FileSet result either way.
	out := xfer.NewFileSet()
	for _, b := range bases {
		out.Add(xfer.NewFileInfo(path.Base(b)).SetType(xfer.TypeUnknown))
	}
	return out, nil
}

// globMatch reports whether name matches the shell-style pattern
// (*, ?, [...]) using path.Match, which implements the same
// metacharacter set §4.11 names.
func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
