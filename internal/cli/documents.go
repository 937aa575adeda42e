package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/agentos-labs/agentstate/internal/schema"
	asstate "github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Create the state directories and seed workflow.json",
		Args:    cobra.NoArgs,
		GroupID: "state",
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			if err := a.store.Initialize(cmd.Context()); err != nil {
				return err
			}
			if a.jsonOutput {
				return a.p.JSON(map[string]string{
					"state_dir": a.store.StateDir(),
					"workflow":  a.store.WorkflowPath(),
				})
			}
			a.p.Success(fmt.Sprintf("State store ready at %s", a.store.StateDir()))
			return nil
		}),
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name> [path]",
		Short: "Print a state document or a value within it",
		Long: `Print the state document <name>, falling back to the newest valid backup
when the file is corrupt.

The optional path uses gjson syntax, for example "current_workflow.name" or
"items.#". Strings are printed unquoted unless --json is given.`,
		Args:    cobra.RangeArgs(1, 2),
		GroupID: "state",
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateName(name); err != nil {
				return err
			}
			path := a.store.Path(name)
			doc, report := a.store.Load(cmd.Context(), path, nil)
			if report.Degraded() {
				if report.Source == asstate.SourceRecovery {
					a.p.Warning(fmt.Sprintf("%s is corrupt, loaded backup %s", path, report.RecoveredFrom))
				} else {
					a.p.Warning(fmt.Sprintf("%s is corrupt and no valid backup exists", path))
				}
			}
			if doc == nil {
				return fmt.Errorf("no state named '%s' in %s", name, a.store.StateDir())
			}

			data, err := schema.Encode(doc)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			res := gjson.GetBytes(data, args[1])
			if !res.Exists() {
				return fmt.Errorf("path '%s' not found in '%s'", args[1], name)
			}
			if a.jsonOutput || res.Type != gjson.String {
				a.p.Info(res.Raw)
			} else {
				a.p.Info(res.String())
			}
			return nil
		}),
	}
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <path> <value>",
		Short: "Set a value inside a state document under the lock",
		Long: `Set the value at <path> (sjson syntax) in the state document <name>.

<value> is parsed as JSON; anything that is not valid JSON is stored as a
string. The document is read, modified and saved while holding the default
lock, and the result must still be a valid state document.`,
		Args:    cobra.ExactArgs(3),
		GroupID: "state",
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name, at, value := args[0], args[1], args[2]
			if err := validateName(name); err != nil {
				return err
			}
			report, err := a.store.Update(cmd.Context(), a.store.Path(name), asstate.Document{}, func(doc asstate.Document) error {
				raw, err := json.Marshal(doc)
				if err != nil {
					return err
				}
				if json.Valid([]byte(value)) {
					raw, err = sjson.SetRawBytes(raw, at, []byte(value))
				} else {
					raw, err = sjson.SetBytes(raw, at, value)
				}
				if err != nil {
					return fmt.Errorf("setting '%s': %w", at, err)
				}
				var updated asstate.Document
				if err := json.Unmarshal(raw, &updated); err != nil {
					return err
				}
				for k := range doc {
					delete(doc, k)
				}
				for k, v := range updated {
					doc[k] = v
				}
				return nil
			})
			if err != nil {
				return err
			}
			return a.reportSave(name, report)
		}),
	}
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "put <name> [file|-]",
		Short:   "Replace a state document from a file or stdin",
		Args:    cobra.RangeArgs(1, 2),
		GroupID: "state",
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateName(name); err != nil {
				return err
			}
			src := "-"
			if len(args) == 2 {
				src = args[1]
			}
			data, err := readInput(cmd, src)
			if err != nil {
				return err
			}
			var doc asstate.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("input is not a JSON object: %w", err)
			}
			if doc == nil {
				return fmt.Errorf("input is not a JSON object")
			}

			var report *asstate.SaveReport
			err = a.store.WithLock(cmd.Context(), "", func(ctx context.Context) error {
				var err error
				report, err = a.store.Save(ctx, a.store.Path(name), doc)
				return err
			})
			if err != nil {
				return err
			}
			return a.reportSave(name, report)
		}),
	}
}

func readInput(cmd *cobra.Command, src string) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("reading '%s': %w", src, err)
	}
	return data, nil
}

func (a *app) reportSave(name string, report *asstate.SaveReport) error {
	if a.jsonOutput {
		out := map[string]interface{}{
			"path":   report.Path,
			"bytes":  report.Bytes,
			"backup": report.Backup.Path,
			"pruned": report.Prune.Deleted,
		}
		if report.Backup.Err != nil {
			out["backup_error"] = report.Backup.Err.Error()
		}
		return a.p.JSON(out)
	}
	a.p.Success(fmt.Sprintf("Saved '%s' (%s)", name, PrintCount(report.Bytes, "byte", "bytes")))
	if report.Backup.Err != nil {
		a.p.Warning(fmt.Sprintf("Backup failed: %v", report.Backup.Err))
	}
	if len(report.Prune.Deleted) > 0 {
		a.p.LabelValue("pruned", PrintCount(len(report.Prune.Deleted), "old backup", "old backups"))
	}
	return nil
}
