package cli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

func lockKey(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func displayKey(key string) string {
	if key == "" {
		return "(default)"
	}
	return key
}

func newLockCmd(a *app) *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire, release and inspect cross-process locks",
		Long: `Locks are marker files in the state directory. The default lock is
state/.lock; a keyed lock is state/<key>.lock.

A lock that is still held when the timeout runs out is taken over, so a
crashed holder cannot block others forever.`,
		GroupID: "coordination",
	}

	var timeout time.Duration
	acquireCmd := &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock and leave it held",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			key := lockKey(args)
			h, out, err := a.store.Locks().Acquire(cmd.Context(), key, timeout)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.p.JSON(map[string]interface{}{
					"key":       key,
					"path":      h.Path,
					"owner_id":  h.Owner.OwnerID,
					"pid":       h.Owner.PID,
					"forced":    out.Forced,
					"waited_ms": out.Waited.Milliseconds(),
				})
			}
			if out.Forced {
				a.p.Warning(fmt.Sprintf("Took over lock %s after %s", displayKey(key), out.Waited.Round(time.Millisecond)))
			}
			a.p.Success(fmt.Sprintf("Acquired lock %s", displayKey(key)))
			a.p.LabelValue("path", h.Path)
			a.p.LabelValue("owner", h.Owner.OwnerID)
			return nil
		}),
	}
	acquireCmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait before taking over a held lock (default from config)")

	releaseCmd := &cobra.Command{
		Use:   "release [key]",
		Short: "Remove a lock marker regardless of owner",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			key := lockKey(args)
			out := a.store.Locks().ReleaseKey(key)
			if out.Err != nil {
				return out.Err
			}
			if a.jsonOutput {
				return a.p.JSON(map[string]interface{}{"key": key, "path": out.LockPath, "removed": out.Removed})
			}
			if out.Removed {
				a.p.Success(fmt.Sprintf("Released lock %s", displayKey(key)))
			} else {
				a.p.Info(fmt.Sprintf("Lock %s was not held", displayKey(key)))
			}
			return nil
		}),
	}

	statusCmd := &cobra.Command{
		Use:   "status [key]",
		Short: "Show whether a lock is held and by whom",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			key := lockKey(args)
			held, owner, err := a.store.Locks().Status(key)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.p.JSON(map[string]interface{}{"key": key, "held": held, "owner": owner})
			}
			a.p.Section(fmt.Sprintf("Lock %s", displayKey(key)))
			if !held {
				a.p.LabelValueWithColor("status", "free", successColor)
				return nil
			}
			a.p.LabelValueWithColor("status", "held", warningColor)
			if owner != nil {
				a.p.LabelValue("owner", owner.OwnerID)
				a.p.LabelValue("pid", fmt.Sprintf("%d", owner.PID))
				if !owner.AcquiredAt.IsZero() {
					a.p.LabelValue("since", owner.AcquiredAt.Format(time.RFC3339))
				}
			} else {
				a.p.LabelValue("owner", "unreadable marker")
			}
			return nil
		}),
	}

	runCmd := &cobra.Command{
		Use:   "run [key] -- <command> [args...]",
		Short: "Run a command while holding a lock",
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			dash := cmd.ArgsLenAtDash()
			if dash < 0 || dash > 1 || dash >= len(args) {
				return fmt.Errorf("usage: %s", cmd.UseLine())
			}
			key := lockKey(args[:dash])
			argv := args[dash:]

			return a.store.WithLock(cmd.Context(), key, func(ctx context.Context) error {
				child := exec.CommandContext(ctx, argv[0], argv[1:]...)
				child.Stdin = cmd.InOrStdin()
				child.Stdout = cmd.OutOrStdout()
				child.Stderr = cmd.ErrOrStderr()
				err := child.Run()
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return &ExitError{Code: exitErr.ExitCode(), Err: fmt.Errorf("%s: %w", argv[0], err)}
				}
				return err
			})
		}),
	}

	lockCmd.AddCommand(acquireCmd, releaseCmd, statusCmd, runCmd)
	return lockCmd
}
