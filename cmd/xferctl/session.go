package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lftpgo/xfer/driver/fish"
	"github.com/lftpgo/xfer/driver/ftp"
	"github.com/lftpgo/xfer/driver/http"
	"github.com/lftpgo/xfer/pool"
	"github.com/lftpgo/xfer/ratelimit"
	"github.com/lftpgo/xfer/resolver"
	"github.com/lftpgo/xfer/scheduler"
	"github.com/lftpgo/xfer/xfer"
)

// env bundles the process-wide shared resources every session
// construction needs, per §9's "explicit, lifetime-scoped owned
// resources passed into sessions at construction" redesign note.
type env struct {
	global   *ratelimit.Global
	resolver *resolver.Resolver
	registry *pool.Registry
	sched    *scheduler.Scheduler
}

func newEnv() *env {
	return &env{
		global:   ratelimit.NewGlobal(0, 0, 0, 0),
		resolver: resolver.New(5*time.Minute, []resolver.Family{resolver.FamilyInet, resolver.FamilyInet6}),
		registry: pool.NewRegistry(),
		sched:    scheduler.New(),
	}
}

// session is the narrow surface xferctl's commands drive directly; it
// is satisfied by every driver's Session plus a scheduler.Task Step.
type session interface {
	xfer.Session
	Step(ctx context.Context) (xfer.StepResult, error)
	SetHandle(h *scheduler.Handle)
}

// dial builds the right driver for t.Scheme, connects, logs in, and
// registers it with the scheduler, returning a session ready to drive.
func (e *env) dial(ctx context.Context, t *target) (session, error) {
	var sess session
	switch t.Scheme {
	case "ftp", "ftps":
		sess = ftp.NewSession(ftp.Options{
			Host: t.Host, Port: t.Port, User: t.User, Pass: t.Pass,
			TLS: t.Scheme == "ftps", PassiveMode: true,
			CloseTimeout: 30 * time.Second, IdleTimeout: 2 * time.Minute,
		}, e.global, e.resolver, e.registry)
	case "http", "https", "hftp":
		sess = http.NewSession(http.Options{
			Host: t.Host, Port: t.Port, User: t.User, Pass: t.Pass,
			TLS: t.Scheme == "https", HFTP: t.Scheme == "hftp",
			CloseTimeout: 30 * time.Second,
		}, e.global, e.resolver, e.registry)
	case "fish", "sftp":
		sess = fish.NewSession(fish.Options{
			Host: t.Host, Port: t.Port, User: t.User, Pass: t.Pass,
			CloseTimeout: 30 * time.Second,
		}, e.global, e.registry)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", t.Scheme)
	}

	handle := e.sched.Register(sess)
	sess.SetHandle(handle)

	if err := sess.Connect(ctx, t.Host, t.Port); err != nil {
		return nil, err
	}
	if err := sess.Login(ctx, t.User, t.Pass); err != nil {
		return nil, err
	}
	return sess, nil
}

// driveOpen issues Open then blocks (polling Step between retries)
// until the request either starts delivering data or fails — the same
// "caller drives the scheduler between Again results" pattern
// listinfo.Run documents.
func driveOpen(ctx context.Context, sess session, mode xfer.Mode, path string, pos int64) error {
	if err := sess.Open(ctx, mode, path, pos); err != nil && err != xfer.Again {
		return err
	}
	return nil
}

// drainTo copies sess's Read stream to w, polling Step whenever Read
// reports xfer.Again.
func drainTo(ctx context.Context, sess session, w io.Writer) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == xfer.Again {
			if _, serr := sess.Step(ctx); serr != nil {
				return total, serr
			}
			continue
		}
		if err == io.EOF || err == nil && n == 0 {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// pumpFrom copies r into sess's Write stream, polling Step whenever
// Write reports xfer.Again.
func pumpFrom(ctx context.Context, sess session, r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			off := 0
			for off < n {
				wn, werr := sess.Write(buf[off:n])
				if werr == xfer.Again {
					if _, serr := sess.Step(ctx); serr != nil {
						return total, serr
					}
					continue
				}
				if werr != nil {
					return total, werr
				}
				off += wn
				total += int64(wn)
			}
		}
		if rerr == io.EOF {
			return total, sess.SendEOT()
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
