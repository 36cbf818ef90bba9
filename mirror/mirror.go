// Package mirror implements §4.12: a two-side (remote session, local
// filesystem) tree synchronizer built on top of a driver Session and
// the listinfo package's directory listings.
package mirror

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/lftpgo/xfer/listcache"
	"github.com/lftpgo/xfer/listinfo"
	"github.com/lftpgo/xfer/xfer"
	"github.com/lftpgo/xfer/xfer/xlog"
)

var log = xlog.New("mirror")

// session is the subset of xfer.Session a mirror job drives.
type session interface {
	Identity() xfer.Identity
	Open(ctx context.Context, mode xfer.Mode, path string, pos int64) error
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	SendEOT() error
	Close() error
	Rename(ctx context.Context, from, to string) error
	Mkdir(ctx context.Context, path string, allLevels bool) error
	Chmod(ctx context.Context, path string, mode uint32) error
	GetInfoArray(ctx context.Context, paths []string) ([]*xfer.FileInfo, error)
}

// Options configures a mirror job, per §4.12.
type Options struct {
	Reverse        bool // local -> remote instead of remote -> local
	Recurse        bool
	Delete         bool
	IgnoreSize     bool
	IgnoreDate     bool
	OnlyNewer      bool
	Continue       bool
	FollowSymlinks bool
	NoUmask        bool
	AllowSuid      bool
	Umask          os.FileMode
	TimePrecision  time.Duration
	NewerThan      time.Time // zero value means no threshold
	Include        []*regexp.Regexp
	Exclude        []*regexp.Regexp
}

// Counters aggregates totals through the whole recursion, per §4.12.
type Counters struct {
	TotalFiles    int
	NewFiles      int
	ModifiedFiles int
	DeletedFiles  int
	Symlinks      int
	Directories   int
	Errors        int
}

// Job drives one mirror run (and its recursive sub-mirrors) between a
// remote session rooted at RemotePath and a local directory rooted at
// LocalPath.
type Job struct {
	Sess       session
	RemotePath string
	LocalPath  string
	Cache      *listcache.Cache
	Opt        Options

	Counters Counters
}

// Run executes the mirror job end to end: InitSets, then HandleFile
// per entry, then the chmod/utime post-pass, per §4.12.
func (j *Job) Run(ctx context.Context) error {
	remoteSet, err := listinfo.Run(ctx, j.Sess, j.Cache, j.RemotePath, listinfo.Options{
		Mode:    xfer.ListModeLong,
		Include: j.Opt.Include,
		Exclude: j.Opt.Exclude,
	})
	if err != nil {
		return err
	}
	localSet, err := listLocal(j.LocalPath)
	if err != nil {
		return err
	}
	localSet = localSet.ExcludeMatching(j.Opt.Include, j.Opt.Exclude)

	var source, dest *xfer.FileSet
	if j.Opt.Reverse {
		source, dest = localSet, remoteSet
	} else {
		source, dest = remoteSet, localSet
	}

	toRM, toTransfer, same := InitSets(source, dest, j.Opt)

	if j.Opt.Delete {
		for _, fi := range toRM.Entries() {
			if err := j.removeFromDest(ctx, fi); err != nil {
				log.With("path", fi.Name, "err", err.Error()).Warn("mirror: delete failed")
				j.Counters.Errors++
				continue
			}
			j.Counters.DeletedFiles++
		}
	}

	for _, fi := range toTransfer.Entries() {
		if err := j.HandleFile(ctx, fi); err != nil {
			log.With("path", fi.Name, "err", err.Error()).Warn("mirror: entry failed")
			j.Counters.Errors++
			continue
		}
		j.Counters.TotalFiles++
	}

	// §4.12: chmod transferred files, utime directories and the "same"
	// set (their mtimes may have drifted within precision).
	for _, fi := range toTransfer.Entries() {
		if fi.IsDir() || !fi.Has(xfer.FieldMode) {
			continue
		}
		if err := j.chmodDest(ctx, fi); err != nil {
			log.With("path", fi.Name, "err", err.Error()).Warn("mirror: chmod failed")
		}
	}
	for _, fi := range same.Entries() {
		if err := j.utimeDest(ctx, fi); err != nil {
			log.With("path", fi.Name, "err", err.Error()).Warn("mirror: utime failed")
		}
	}

	return nil
}

// InitSets computes the action plan, per §4.12:
//
//	to_rm       = dest - source (by name)
//	to_transfer = source minus entries in dest that are "same"
//	same        = source - to_transfer
//
// then subtracts to_transfer entries older than opt.NewerThan.
func InitSets(source, dest *xfer.FileSet, opt Options) (toRM, toTransfer, same *xfer.FileSet) {
	toRM = dest.SubtractAny(source)
	toTransfer = source.SubtractSame(dest, opt.IgnoreSize, opt.IgnoreDate, opt.TimePrecision)
	if opt.OnlyNewer {
		toTransfer = toTransfer.Filter(func(fi *xfer.FileInfo) bool {
			o, ok := dest.Get(fi.Name)
			return !ok || !fi.Has(xfer.FieldDate) || !o.Has(xfer.FieldDate) || fi.Date.Seconds > o.Date.Seconds
		})
	}
	if !opt.NewerThan.IsZero() {
		toTransfer = toTransfer.Filter(func(fi *xfer.FileInfo) bool {
			return !fi.Has(xfer.FieldDate) || !fi.Date.Time().Before(opt.NewerThan)
		})
	}
	same = source.Filter(func(fi *xfer.FileInfo) bool {
		_, inToTransfer := toTransfer.Get(fi.Name)
		return !inToTransfer
	})
	return toRM, toTransfer, same
}

// HandleFile performs the per-entry action of §4.12 for one source
// entry: normal file (resume-aware copy or full re-copy), directory
// (recurse), or symlink (recreate forward, skip in reverse).
func (j *Job) HandleFile(ctx context.Context, fi *xfer.FileInfo) error {
	switch fi.Type {
	case xfer.TypeDirectory:
		return j.handleDir(ctx, fi)
	case xfer.TypeSymlink:
		return j.handleSymlink(ctx, fi)
	default:
		return j.handleNormalFile(ctx, fi)
	}
}

func (j *Job) handleDir(ctx context.Context, fi *xfer.FileInfo) error {
	j.Counters.Directories++
	if !j.Opt.Recurse {
		return nil
	}
	sub := &Job{
		Sess:       j.Sess,
		RemotePath: joinRemote(j.RemotePath, fi.Name),
		LocalPath:  filepath.Join(j.LocalPath, fi.Name),
		Cache:      j.Cache,
		Opt:        j.Opt,
	}
	if j.Opt.Reverse {
		if err := j.Sess.Mkdir(ctx, sub.RemotePath, false); err != nil {
			if !isAlreadyExists(err) {
				return err
			}
		}
	} else {
		if err := os.MkdirAll(sub.LocalPath, 0o755); err != nil {
			return err
		}
	}
	if err := sub.Run(ctx); err != nil {
		return err
	}
	j.Counters.NewFiles += sub.Counters.NewFiles
	j.Counters.ModifiedFiles += sub.Counters.ModifiedFiles
	j.Counters.DeletedFiles += sub.Counters.DeletedFiles
	j.Counters.TotalFiles += sub.Counters.TotalFiles
	j.Counters.Symlinks += sub.Counters.Symlinks
	j.Counters.Directories += sub.Counters.Directories
	j.Counters.Errors += sub.Counters.Errors
	return nil
}

func (j *Job) handleSymlink(ctx context.Context, fi *xfer.FileInfo) error {
	if j.Opt.Reverse {
		log.With("path", fi.Name).Debug("mirror: skipping symlink upload")
		return nil
	}
	local := filepath.Join(j.LocalPath, fi.Name)
	_ = os.Remove(local)
	if err := os.Symlink(fi.Symlink, local); err != nil {
		return err
	}
	j.Counters.Symlinks++
	return nil
}

func (j *Job) handleNormalFile(ctx context.Context, fi *xfer.FileInfo) error {
	if j.Opt.Reverse {
		return j.uploadFile(ctx, fi)
	}
	return j.downloadFile(ctx, fi)
}

// downloadFile implements the forward-mode normal-file action of
// §4.12: if a local file exists and Continue applies (its size is no
// larger than the remote's and its mtime is older than the remote's by
// more than precision), resume from its size; otherwise delete and
// refetch from scratch.
func (j *Job) downloadFile(ctx context.Context, fi *xfer.FileInfo) error {
	remotePath := joinRemote(j.RemotePath, fi.Name)
	localPath := filepath.Join(j.LocalPath, fi.Name)

	var pos int64
	isNew := true
	if st, err := os.Stat(localPath); err == nil {
		isNew = false
		if j.Opt.Continue && fi.Has(xfer.FieldSize) && st.Size() <= fi.Size {
			older := !fi.Has(xfer.FieldDate) || st.ModTime().Before(fi.Date.Time().Add(-j.Opt.TimePrecision))
			if older {
				pos = st.Size()
			} else {
				_ = os.Remove(localPath)
			}
		} else {
			_ = os.Remove(localPath)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if pos > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := j.Sess.Open(ctx, xfer.Retrieve, remotePath, pos); err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := j.Sess.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				_ = j.Sess.Close()
				return werr
			}
		}
		if rerr == xfer.Again {
			continue
		}
		if rerr != nil {
			_ = j.Sess.Close()
			return rerr
		}
		if n == 0 {
			break
		}
	}
	_ = j.Sess.Close()

	if isNew {
		j.Counters.NewFiles++
	} else {
		j.Counters.ModifiedFiles++
	}
	return nil
}

// uploadFile implements the reverse-mode normal-file action: delete
// the remote entry (if present) then upload from scratch, per §4.12.
func (j *Job) uploadFile(ctx context.Context, fi *xfer.FileInfo) error {
	remotePath := joinRemote(j.RemotePath, fi.Name)
	localPath := filepath.Join(j.LocalPath, fi.Name)

	if err := j.Sess.Open(ctx, xfer.Remove, remotePath, 0); err == nil {
		_ = j.Sess.Close()
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := j.Sess.Open(ctx, xfer.Store, remotePath, 0); err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			off := 0
			for off < n {
				wn, werr := j.Sess.Write(buf[off:n])
				if werr == xfer.Again {
					continue
				}
				if werr != nil {
					_ = j.Sess.Close()
					return werr
				}
				off += wn
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = j.Sess.Close()
			return rerr
		}
	}
	if err := j.Sess.SendEOT(); err != nil {
		return err
	}
	_ = j.Sess.Close()
	j.Counters.NewFiles++
	return nil
}

func (j *Job) removeFromDest(ctx context.Context, fi *xfer.FileInfo) error {
	if j.Opt.Reverse {
		mode := xfer.Remove
		if fi.IsDir() {
			mode = xfer.RemoveDir
		}
		if err := j.Sess.Open(ctx, mode, joinRemote(j.RemotePath, fi.Name), 0); err != nil {
			return err
		}
		return j.Sess.Close()
	}
	local := filepath.Join(j.LocalPath, fi.Name)
	if fi.IsDir() {
		return os.RemoveAll(local)
	}
	return os.Remove(local)
}

// chmodDest applies the source mode, masked by umask (unless
// disabled) and stripped of suid/sgid (unless allowed), per §4.12.
func (j *Job) chmodDest(ctx context.Context, fi *xfer.FileInfo) error {
	mode := fi.Mode.Perm()
	if !j.Opt.AllowSuid {
		mode &^= os.ModeSetuid | os.ModeSetgid
	}
	if !j.Opt.NoUmask {
		mode &^= j.Opt.Umask
	}
	if j.Opt.Reverse {
		return j.Sess.Chmod(ctx, joinRemote(j.RemotePath, fi.Name), uint32(mode.Perm()))
	}
	return os.Chmod(filepath.Join(j.LocalPath, fi.Name), mode)
}

// utimeDest applies fi's mtime to the destination entry, per §4.12's
// "utime to directories, and to the same set".
func (j *Job) utimeDest(ctx context.Context, fi *xfer.FileInfo) error {
	if !fi.Has(xfer.FieldDate) {
		return nil
	}
	if j.Opt.Reverse {
		// Remote mtime-setting has no uniform FileAccess primitive in
		// §4.6; lftp drivers that support it do so via a protocol quote
		// command, which is out of this engine's scope per §4.12's focus
		// on the forward-mode utime path.
		return nil
	}
	t := fi.Date.Time()
	return os.Chtimes(filepath.Join(j.LocalPath, fi.Name), t, t)
}

func isAlreadyExists(err error) bool {
	return os.IsExist(err) || err == xfer.NotSupported
}

func joinRemote(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

// listLocal builds a FileSet from one local directory's entries,
// mirroring the attributes listinfo.Parse extracts from a remote
// listing so FileSet.Same comparisons are meaningful across sides.
func listLocal(dir string) (*xfer.FileSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return xfer.NewFileSet(), nil
		}
		return nil, err
	}
	out := xfer.NewFileSet()
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		fi := xfer.NewFileInfo(e.Name())
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			fi.SetType(xfer.TypeSymlink)
			if target, err := os.Readlink(filepath.Join(dir, e.Name())); err == nil {
				fi.SetSymlink(target)
			}
		case e.IsDir():
			fi.SetType(xfer.TypeDirectory)
		default:
			fi.SetType(xfer.TypeNormal)
		}
		fi.SetMode(info.Mode())
		fi.SetSize(info.Size())
		fi.SetDate(xfer.Date{Seconds: info.ModTime().Unix()})
		out.Add(fi)
	}
	return out, nil
}
