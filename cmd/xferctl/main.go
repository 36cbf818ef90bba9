// Command xferctl is a thin CLI harness over the xfer core, per §6's
// "the core exposes FileAccess operations, not command parsing": this
// package is the consumer, not part of the core contract.
package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/lftpgo/xfer/listcache"
	"github.com/lftpgo/xfer/listinfo"
	"github.com/lftpgo/xfer/mirror"
	"github.com/lftpgo/xfer/xfer"
)

var rootCmd = &cobra.Command{
	Use:   "xferctl",
	Short: "Drive the xfer core's FTP/HTTP/HFTP/FISH sessions from the command line",
}

func main() {
	rootCmd.AddCommand(getCmd, putCmd, lsCmd, mirrorCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xferctl:", err)
		os.Exit(1)
	}
}

func withSession(raw string) (context.Context, *env, session, *target, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	t, isLocal, err := parseTarget(raw)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, nil, err
	}
	if isLocal {
		cancel()
		return nil, nil, nil, t, func() {}, fmt.Errorf("%q is a local path, not a remote URL", raw)
	}
	e := newEnv()
	schedCtx, schedCancel := context.WithCancel(ctx)
	go func() { _ = e.sched.Run(schedCtx) }()
	sess, err := e.dial(ctx, t)
	if err != nil {
		schedCancel()
		cancel()
		return nil, nil, nil, nil, nil, err
	}
	cleanup := func() {
		sess.Disconnect()
		schedCancel()
		cancel()
	}
	return ctx, e, sess, t, cleanup, nil
}

var getCmd = &cobra.Command{
	Use:   "get <remote-url> <local-path>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, sess, t, cleanup, err := withSession(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		if err := driveOpen(ctx, sess, xfer.Retrieve, t.Path, 0); err != nil {
			return err
		}
		n, err := drainTo(ctx, sess, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d bytes\n", n)
		return sess.Close()
	},
}

var putCmd = &cobra.Command{
	Use:   "put <local-path> <remote-url>",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, sess, t, cleanup, err := withSession(args[1])
		if err != nil {
			return err
		}
		defer cleanup()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if err := driveOpen(ctx, sess, xfer.Store, t.Path, 0); err != nil {
			return err
		}
		n, err := pumpFrom(ctx, sess, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d bytes\n", n)
		return sess.Close()
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <remote-url>",
	Short: "List a remote directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, sess, t, cleanup, err := withSession(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		cache := listcache.New(time.Minute, 4<<20, true)
		path := t.Path
		if path == "" {
			path = "."
		}
		set, err := listinfo.Run(ctx, sess, cache, path, listinfo.Options{Mode: xfer.ListModeLong})
		if err != nil {
			return err
		}
		for _, fi := range set.SortedBy(xfer.SortDirsFirst) {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %10d %s\n", fi.Type, fi.Size, fi.Name)
		}
		return nil
	},
}

var (
	mirrorReverse bool
	mirrorRecurse bool
	mirrorDelete  bool
	mirrorExclude []string
)

func init() {
	mirrorCmd.Flags().BoolVar(&mirrorReverse, "reverse", false, "mirror local to remote instead of remote to local")
	mirrorCmd.Flags().BoolVarP(&mirrorRecurse, "recursive", "r", true, "recurse into subdirectories")
	mirrorCmd.Flags().BoolVar(&mirrorDelete, "delete", false, "delete destination entries missing from the source")
	mirrorCmd.Flags().StringArrayVar(&mirrorExclude, "exclude", nil, "POSIX extended-regex exclude pattern (repeatable)")
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror <remote-url> <local-path>",
	Short: "Synchronize a remote directory tree with a local one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, sess, t, cleanup, err := withSession(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		var exclude []*regexp.Regexp
		for _, pat := range mirrorExclude {
			re, err := regexp.CompilePOSIX(pat)
			if err != nil {
				return fmt.Errorf("compiling exclude pattern %q: %w", pat, err)
			}
			exclude = append(exclude, re)
		}

		job := &mirror.Job{
			Sess:       sess,
			RemotePath: t.Path,
			LocalPath:  args[1],
			Cache:      listcache.New(time.Minute, 16<<20, true),
			Opt: mirror.Options{
				Reverse:       mirrorReverse,
				Recurse:       mirrorRecurse,
				Delete:        mirrorDelete,
				TimePrecision: time.Second,
				Exclude:       exclude,
			},
		}
		if err := job.Run(ctx); err != nil {
			return err
		}
		c := job.Counters
		fmt.Fprintf(cmd.OutOrStdout(), "new=%d modified=%d deleted=%d errors=%d\n",
			c.NewFiles, c.ModifiedFiles, c.DeletedFiles, c.Errors)
		return nil
	},
}
