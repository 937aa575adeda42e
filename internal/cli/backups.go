package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newBackupsCmd(a *app) *cobra.Command {
	backupsCmd := &cobra.Command{
		Use:     "backups",
		Short:   "Inspect, prune and restore recovery snapshots",
		GroupID: "maintenance",
	}

	backupsCmd.AddCommand(&cobra.Command{
		Use:   "list <name>",
		Short: "List snapshots of a state document, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			if err := validateName(args[0]); err != nil {
				return err
			}
			backups, err := a.store.Recovery().List(a.store.Path(args[0]))
			if err != nil {
				return err
			}
			if a.jsonOutput {
				type entry struct {
					Name      string    `json:"name"`
					Path      string    `json:"path"`
					Timestamp time.Time `json:"timestamp"`
					Size      int64     `json:"size"`
				}
				out := make([]entry, 0, len(backups))
				for _, b := range backups {
					out = append(out, entry{Name: b.Name, Path: b.Path, Timestamp: b.Timestamp, Size: b.Size})
				}
				return a.p.JSON(out)
			}
			if len(backups) == 0 {
				a.p.Info(fmt.Sprintf("No backups for '%s'", args[0]))
				return nil
			}
			rows := make([][]string, 0, len(backups))
			for _, b := range backups {
				rows = append(rows, []string{b.Name, b.ModTime.Format(time.RFC3339), fmt.Sprintf("%d", b.Size)})
			}
			a.p.Section(fmt.Sprintf("Backups of '%s'", args[0]))
			a.p.Table([]string{"NAME", "MODIFIED", "BYTES"}, rows)
			return nil
		}),
	})

	backupsCmd.AddCommand(&cobra.Command{
		Use:   "prune <name>",
		Short: "Delete all but the newest snapshots of a state document",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			if err := validateName(args[0]); err != nil {
				return err
			}
			out := a.store.Recovery().Prune(a.store.Path(args[0]))
			if a.jsonOutput {
				failures := make([]string, 0, len(out.Failures))
				for _, f := range out.Failures {
					failures = append(failures, f.Error())
				}
				return a.p.JSON(map[string]interface{}{"kept": out.Kept, "deleted": out.Deleted, "failures": failures})
			}
			a.p.Success(fmt.Sprintf("Kept %s, deleted %d", PrintCount(out.Kept, "backup", "backups"), len(out.Deleted)))
			a.p.List(out.Deleted, 1)
			for _, f := range out.Failures {
				a.p.Warning(f.Error())
			}
			return nil
		}),
	})

	backupsCmd.AddCommand(&cobra.Command{
		Use:   "recover <name>",
		Short: "Restore the newest valid snapshot into the primary file",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateName(name); err != nil {
				return err
			}
			path := a.store.Path(name)
			var from string
			err := a.store.WithLock(cmd.Context(), "", func(ctx context.Context) error {
				doc, src, ok := a.store.Recovery().Recover(path)
				if !ok {
					return fmt.Errorf("no valid backup of '%s' to recover", name)
				}
				from = src
				_, err := a.store.Save(ctx, path, doc)
				return err
			})
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.p.JSON(map[string]string{"path": path, "recovered_from": from})
			}
			a.p.Success(fmt.Sprintf("Restored '%s' from %s", name, from))
			return nil
		}),
	})
	return backupsCmd
}
