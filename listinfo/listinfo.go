// Package listinfo implements §4.11: running a session's LONG_LIST
// (or MP_LIST, falling back to LONG_LIST) through the listing cache,
// parsing the bytes into a FileSet with a Unix-ls-style parser, and
// filling in missing size/date via a batched GetInfoArray.
//
// The parser's field-splitting approach (strings.Fields over the
// fixed nine-column ls -l layout, rather than a single do-everything
// regexp) is grounded on the shape of the vendored
// github.com/jlaffaye/ftp parser's test table in the pack
// (vendor/github.com/jlaffaye/ftp/parse_test.go): that library's own
// parse.go was not retrieved, so the column layout below is a fresh
// implementation recognizing the same line shapes its tests exercise.
package listinfo

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lftpgo/xfer/listcache"
	"github.com/lftpgo/xfer/xfer"
)

// Options configures one ListInfo run, per §4.11.
type Options struct {
	Mode           xfer.ListMode // ListModeLong or ListModeMP
	SkipDirs       bool          // don't batch-fetch size/date for directories
	SkipSymlinks   bool          // don't batch-fetch size/date for symlinks
	FollowSymlinks bool          // resolve symlink type via the batched info fetch
	Include        []*regexp.Regexp
	Exclude        []*regexp.Regexp
}

// session is the subset of xfer.Session ListInfo drives.
type session interface {
	Identity() xfer.Identity
	Open(ctx context.Context, mode xfer.Mode, path string, pos int64) error
	Read(buf []byte) (int, error)
	Close() error
	GetInfoArray(ctx context.Context, paths []string) ([]*xfer.FileInfo, error)
}

// structuredLister is implemented by drivers whose listing body is not
// ls -l text (currently the HTTP/HFTP driver, whose body is an HTML
// directory index per §4.9). Run prefers this over the generic
// ls-style Parse when the concrete session satisfies it. Because the
// listing is already a parsed FileSet rather than raw bytes, this path
// does not go through the byte-oriented listcache.Cache — a documented
// scope limitation (see DESIGN.md).
type structuredLister interface {
	ListEntries(ctx context.Context, path string) (*xfer.FileSet, error)
}

// Run executes ListInfo against path, per §4.11's pipeline: cache
// lookup, MP_LIST-with-LONG_LIST-fallback body fetch, ls-style parse,
// tilde disambiguation, include/exclude filtering, batched info fill.
// sess's caller is expected to drive sess's owning Task through the
// scheduler between calls that return xfer.Again; Run itself issues a
// single Open and polls Read until EOF, so it is only safe to call
// from a goroutine dedicated to driving that one session (mirroring
// how the core's GetInfoArray batch helper is driven).
func Run(ctx context.Context, sess session, cache *listcache.Cache, path string, opt Options) (*xfer.FileSet, error) {
	if lister, ok := sess.(structuredLister); ok {
		set, err := lister.ListEntries(ctx, path)
		if err != nil {
			return nil, err
		}
		return finishSet(set, path, opt, ctx, sess)
	}

	fp := xfer.Fingerprint{Identity: sess.Identity(), Path: path, Mode: opt.Mode}
	if data, isErr, errMsg, ok := cache.Find(fp); ok {
		if isErr {
			return nil, xfer.SeeSystemErr(0, fmt.Errorf("%s", errMsg))
		}
		return finish(data, path, opt, nil, nil)
	}

	mode := xfer.LongList
	if opt.Mode == xfer.ListModeMP {
		mode = xfer.MultiProtocolList
	}
	data, err := fetchBody(ctx, sess, mode, path)
	if err != nil && mode == xfer.MultiProtocolList {
		// §4.11: "falling back to LONG_LIST on failure".
		data, err = fetchBody(ctx, sess, xfer.LongList, path)
	}
	if err != nil {
		cache.InsertError(fp, err.Error())
		return nil, err
	}
	cache.Insert(fp, data)
	return finish(data, path, opt, ctx, sess)
}

// fetchBody drives one Open/Read/Close cycle to completion, polling
// Read until EOF. The caller's scheduler is assumed to also be
// stepping sess so Again eventually clears.
func fetchBody(ctx context.Context, sess session, mode xfer.Mode, path string) ([]byte, error) {
	if err := sess.Open(ctx, mode, path, 0); err != nil {
		return nil, err
	}
	var out []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == xfer.Again {
			continue
		}
		if err == io.EOF {
			_ = sess.Close()
			return out, nil
		}
		if err != nil {
			_ = sess.Close()
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
	}
}

// finish parses data into a FileSet, applies tilde rewriting and
// include/exclude filtering, then (if ctx/sess are non-nil, i.e. this
// was a fresh fetch rather than a cache hit) fills missing size/date
// via a batched GetInfoArray.
func finish(data []byte, base string, opt Options, ctx context.Context, sess session) (*xfer.FileSet, error) {
	return finishSet(Parse(data), base, opt, ctx, sess)
}

// finishSet applies the tilde-rewrite, include/exclude filter, and
// batched size/date fill shared by both the ls-style and structured
// (§4.9 HTML) listing paths.
func finishSet(set *xfer.FileSet, base string, opt Options, ctx context.Context, sess session) (*xfer.FileSet, error) {
	rewriteTildes(set)
	set = set.ExcludeMatching(opt.Include, opt.Exclude)

	if ctx == nil || sess == nil {
		return set, nil
	}

	var need []string
	for _, fi := range set.Entries() {
		if opt.SkipDirs && fi.IsDir() {
			continue
		}
		if opt.SkipSymlinks && fi.Type == xfer.TypeSymlink {
			continue
		}
		if !fi.Has(xfer.FieldSize) || !fi.Has(xfer.FieldDate) {
			need = append(need, joinRemote(base, fi.Name))
		}
	}
	if len(need) == 0 {
		return set, nil
	}
	infos, err := sess.GetInfoArray(ctx, need)
	if err != nil {
		return set, err
	}
	byPath := make(map[string]*xfer.FileInfo, len(infos))
	for i, p := range need {
		if infos[i] != nil {
			byPath[p] = infos[i]
		}
	}
	for _, fi := range set.Entries() {
		info, ok := byPath[joinRemote(base, fi.Name)]
		if !ok {
			continue
		}
		if !fi.Has(xfer.FieldSize) && info.Has(xfer.FieldSize) {
			fi.SetSize(info.Size)
		}
		if !fi.Has(xfer.FieldDate) && info.Has(xfer.FieldDate) {
			fi.SetDate(info.Date)
		}
		if opt.FollowSymlinks && fi.Type == xfer.TypeSymlink && info.Has(xfer.FieldType) {
			fi.SetType(info.Type)
		}
	}
	return set, nil
}

// rewriteTildes disambiguates entries whose name begins with "~", per
// §4.11: rewritten to "./~…" so downstream path-joining code never
// mistakes the entry for a home-directory shorthand.
func rewriteTildes(set *xfer.FileSet) {
	for _, fi := range set.Entries() {
		if strings.HasPrefix(fi.Name, "~") {
			fi.Name = "./" + fi.Name
		}
	}
}

func joinRemote(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// Parse turns Unix-ls-style LONG_LIST/MP_LIST bytes into a FileSet,
// per §4.11. Lines that don't match the recognized column layouts are
// skipped rather than erroring, since a listing commonly interleaves a
// leading "total N" line the core has no use for.
func Parse(data []byte) *xfer.FileSet {
	out := xfer.NewFileSet()
	now := time.Now().UTC()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if fi := parseLine(line, now); fi != nil {
			out.Add(fi)
		}
	}
	return out
}

// parseLine recognizes the classic `ls -l` nine-field layout:
//
//	drwxr-xr-x   3 user group   4096 Dec 02  2009 name
//	drwxr-xr-x   3 user group   4096 Jan 25 00:17 name -> target
//
// and skips anything else (e.g. a leading "total N" line), matching
// the line shapes jlaffaye/ftp's test table exercises.
func parseLine(line string, now time.Time) *xfer.FileInfo {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return nil
	}
	perm := fields[0]
	if len(perm) < 1 || !strings.ContainsAny(perm[:1], "-dl") {
		return nil
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil
	}
	month, day, rest := fields[5], fields[6], fields[7]
	date, ok := parseDate(month, day, rest, now)
	if !ok {
		return nil
	}
	name := strings.Join(fields[8:], " ")
	var symlink string
	if idx := strings.Index(name, " -> "); idx >= 0 {
		symlink = name[idx+4:]
		name = name[:idx]
	}
	if name == "." || name == ".." {
		return nil
	}

	fi := xfer.NewFileInfo(name)
	switch perm[0] {
	case 'd':
		fi.SetType(xfer.TypeDirectory)
	case 'l':
		fi.SetType(xfer.TypeSymlink)
		if symlink != "" {
			fi.SetSymlink(symlink)
		}
	default:
		fi.SetType(xfer.TypeNormal)
	}
	fi.SetMode(parseMode(perm))
	fi.SetSize(size)
	fi.SetDate(date)
	if len(fields) >= 4 {
		fi.SetOwner(fields[2], fields[3])
	}
	return fi
}

// parseDate handles both ls -l time formats: "Mon DD  YYYY" (older
// than ~6 months) and "Mon DD HH:MM" (recent, year inferred as this
// year unless that would place it in the future).
func parseDate(month, day, rest string, now time.Time) (xfer.Date, bool) {
	m, ok := monthNum[month]
	if !ok {
		return xfer.Date{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return xfer.Date{}, false
	}
	if strings.Contains(rest, ":") {
		parts := strings.SplitN(rest, ":", 2)
		hh, herr := strconv.Atoi(parts[0])
		mm, merr := strconv.Atoi(parts[1])
		if herr != nil || merr != nil {
			return xfer.Date{}, false
		}
		year := now.Year()
		t := time.Date(year, m, d, hh, mm, 0, 0, time.UTC)
		if t.After(now.Add(24 * time.Hour)) {
			t = time.Date(year-1, m, d, hh, mm, 0, 0, time.UTC)
		}
		return xfer.Date{Seconds: t.Unix(), Precision: 60}, true
	}
	year, err := strconv.Atoi(rest)
	if err != nil {
		return xfer.Date{}, false
	}
	t := time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
	return xfer.Date{Seconds: t.Unix(), Precision: 24 * 3600}, true
}

var monthNum = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// parseMode converts the ls -l permission string's 9 rwx characters
// into the POSIX permission bits of fs.FileMode.
func parseMode(perm string) fs.FileMode {
	var mode fs.FileMode
	bits := perm
	if len(bits) > 10 {
		bits = bits[:10]
	}
	rwx := bits
	if len(rwx) == 10 {
		rwx = rwx[1:]
	}
	for i, ch := range rwx {
		if i >= 9 {
			break
		}
		if ch == '-' {
			continue
		}
		mode |= 1 << uint(8-i)
	}
	return mode
}
