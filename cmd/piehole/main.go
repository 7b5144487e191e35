// Command piehole is the single binary installed into hooks/update and
// hooks/post-update, and used as the operator CLI for install/check/daemon.
//
// Usage:
//
//	piehole install --repogroup myproj --etcdroot http://127.0.0.1:4001
//	piehole check --verbose
//	piehole daemon --logfile /var/log/piehole-daemon.log
//
// When invoked as "update" or "post-update" (its basename as a Git hook),
// it dispatches straight to the hook entrypoints before any flag parsing.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"piehole/internal/daemon"
	"piehole/internal/gitcli"
	"piehole/internal/hooks"
	"piehole/internal/kvclient"
	"piehole/internal/reposanity"
)

const (
	defaultEtcdRoot   = "http://127.0.0.1:4001"
	defaultEtcdPrefix = "piehole"
)

func main() {
	switch filepath.Base(os.Args[0]) {
	case "update":
		os.Exit(runUpdateHook(os.Args[1:]))
	case "post-update":
		os.Exit(runPostUpdateHook(os.Args[1:]))
	}

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	repogroup  string
	repourl    string
	etcdroot   string
	etcdprefix string
	logfile    string
}

func rootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "piehole",
		Short: "Replicate a Git ref namespace across a group of bare repositories",
	}
	root.PersistentFlags().StringVar(&f.repogroup, "repogroup", "", "replication group name")
	root.PersistentFlags().StringVar(&f.repourl, "repourl", "", "this member's URL (default: file:// of the repo root)")
	root.PersistentFlags().StringVar(&f.etcdroot, "etcdroot", defaultEtcdRoot, "KV service endpoint")
	root.PersistentFlags().StringVar(&f.etcdprefix, "etcdprefix", defaultEtcdPrefix, "KV key prefix")
	root.PersistentFlags().StringVar(&f.logfile, "logfile", "", "daemon log file path")

	root.AddCommand(installCmd(f), checkCmd(f), daemonCmd(f), clobberCmd(f), uninstallCmd(f))
	return root
}

func installCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install hooks into the current repository and join a replication group",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			git := gitcli.New("")
			repoRoot, err := git.RepoRoot(ctx)
			if err != nil {
				return err
			}
			url := f.repourl
			if url == "" {
				abs, err := filepath.Abs(repoRoot)
				if err != nil {
					return err
				}
				url = "file://" + abs
			}
			kv := kvclient.New(f.etcdroot, f.etcdprefix, 0)
			return reposanity.Install(ctx, git, kv, repoRoot, f.repogroup, url, f.etcdroot, f.etcdprefix)
		},
	}
}

func uninstallCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove this repository from its replication group and clear its config",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			git := gitcli.New("")
			group, url, kv, err := resolveFromConfig(ctx, git, f)
			if err != nil {
				return err
			}
			return reposanity.Uninstall(ctx, git, kv, group, url)
		},
	}
}

func clobberCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "clobber <ref>",
		Short: "Unconditionally overwrite the group's KV value for ref from this repo's local value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			git := gitcli.New("")
			group, _, kv, err := resolveFromConfig(ctx, git, f)
			if err != nil {
				return err
			}
			return reposanity.Clobber(ctx, git, kv, group, args[0])
		},
	}
}

func checkCmd(f *flags) *cobra.Command {
	var verbose, members bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate repository sanity and daemon liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			git := gitcli.New("")
			repoRoot, err := git.RepoRoot(ctx)
			if err != nil {
				return err
			}
			if err := reposanity.SanityCheck(ctx, git, repoRoot, true); err != nil {
				return err
			}
			if err := daemon.Ping(ctx); err != nil {
				return err
			}
			fmt.Println("ok")
			if epoch, found, err := daemon.Epoch(ctx, repoRoot); err == nil && found {
				fmt.Printf("epoch: %d\n", epoch)
			}

			if verbose {
				status, err := daemon.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Println(status)
			}
			if members {
				group, _, kv, err := resolveFromConfig(ctx, git, f)
				if err != nil {
					return err
				}
				list, _, _, err := kv.ReadGroup(ctx, group)
				if err != nil {
					return err
				}
				fmt.Println(list)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "also print daemon status")
	cmd.Flags().BoolVar(&members, "members", false, "also print group membership")
	return cmd
}

func daemonCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the local transfer daemon on 127.0.0.1:3690",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			if f.logfile != "" {
				file, err := os.OpenFile(f.logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return err
				}
				logger.SetOutput(file)
			}
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

			eventLogPath := f.logfile
			if eventLogPath == "" {
				eventLogPath = "piehole-daemon-events.log"
			}
			eventLog, err := daemon.OpenEventLog(eventLogPath + ".events")
			if err != nil {
				return err
			}
			defer eventLog.Close()

			srv := daemon.New(eventLog, logger)
			return srv.ListenAndServe(cmd.Context())
		},
	}
}

// resolveFromConfig resolves group/url/kv settings for subcommands that
// operate on an already-installed repo (uninstall, clobber, check
// --members). An explicitly set flag wins; otherwise the value comes from
// the repo's local piehole.* config.
func resolveFromConfig(ctx context.Context, git *gitcli.Runner, f *flags) (group, url string, kv *kvclient.Client, err error) {
	group = f.repogroup
	if group == "" {
		group, err = git.Config(ctx, "repogroup")
		if err != nil {
			return "", "", nil, err
		}
	}
	url = f.repourl
	if url == "" {
		url, err = git.Config(ctx, "repourl")
		if err != nil {
			return "", "", nil, err
		}
	}
	root := f.etcdroot
	prefix := f.etcdprefix
	if root == defaultEtcdRoot {
		if v, err := git.Config(ctx, "etcdroot"); err == nil && v != "" {
			root = v
		}
	}
	if prefix == defaultEtcdPrefix {
		if v, err := git.Config(ctx, "etcdprefix"); err == nil && v != "" {
			prefix = v
		}
	}
	return group, url, kvclient.New(root, prefix, 0), nil
}

func runUpdateHook(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: update <ref> <old> <new>")
		return 1
	}
	ref, oldHex, newHex := args[0], args[1], args[2]
	ctx := context.Background()
	git := gitcli.New("")

	repoRoot, err := git.RepoRoot(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	group, kvURLRoot, kvPrefix, self, err := loadPieholeConfig(ctx, git)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	kv := kvclient.New(kvURLRoot, kvPrefix, 0)
	cfg := hooks.Config{RepoRoot: repoRoot, Group: group, Self: self}

	decision, err := hooks.Update(ctx, git, kv, cfg, ref, oldHex, newHex)
	if decision != nil {
		for _, line := range decision.LogLines {
			fmt.Fprintln(os.Stderr, line)
		}
		if !decision.Accept {
			fmt.Fprintln(os.Stderr, decision.Message)
		}
	}
	if err != nil {
		if decision == nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func runPostUpdateHook(refs []string) int {
	ctx := context.Background()
	git := gitcli.New("")

	repoRoot, err := git.RepoRoot(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	group, kvURLRoot, kvPrefix, self, err := loadPieholeConfig(ctx, git)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	kv := kvclient.New(kvURLRoot, kvPrefix, 0)
	cfg := hooks.Config{RepoRoot: repoRoot, Group: group, Self: self}

	for _, e := range hooks.PostUpdate(ctx, git, kv, cfg, refs) {
		fmt.Fprintln(os.Stderr, e)
	}
	return 0 // post-update's exit code is ignored by Git regardless
}

func loadPieholeConfig(ctx context.Context, git *gitcli.Runner) (group, kvRoot, kvPrefix, self string, err error) {
	group, err = git.Config(ctx, "repogroup")
	if err != nil {
		return
	}
	kvRoot, err = git.Config(ctx, "etcdroot")
	if err != nil {
		return
	}
	kvPrefix, err = git.Config(ctx, "etcdprefix")
	if err != nil {
		return
	}
	self, err = git.Config(ctx, "repourl")
	return
}
