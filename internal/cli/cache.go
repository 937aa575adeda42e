package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentos-labs/agentstate/internal/ttl"
	asstate "github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:     "cache",
		Short:   "Create and check cache entries with sliding expiration",
		GroupID: "state",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "new <name> <ttl> [payload-json]",
		Short: "Write a cache entry that expires after ttl",
		Args:  cobra.RangeArgs(2, 3),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateName(name); err != nil {
				return err
			}
			lifetime, err := time.ParseDuration(args[1])
			if err != nil || lifetime <= 0 {
				return fmt.Errorf("ttl must be a positive duration, got '%s'", args[1])
			}
			payload := map[string]interface{}{}
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
					return fmt.Errorf("payload is not a JSON object: %w", err)
				}
			}
			entry := a.store.TTL().NewEntry(payload, lifetime)

			var report *asstate.SaveReport
			err = a.store.WithLock(cmd.Context(), "", func(ctx context.Context) error {
				var err error
				report, err = a.store.Save(ctx, a.store.Path(name), entry)
				return err
			})
			if err != nil {
				return err
			}
			return a.reportSave(name, report)
		}),
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "check <name>",
		Short: "Check a cache entry and renew it when close to expiry",
		Long: `Check the cache entry <name>. An entry within the extension window of
its expiry is renewed and saved, up to the maximum number of extensions.

Exits with status 1 when the entry is missing or has expired.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateName(name); err != nil {
				return err
			}
			doc, valid, err := a.store.TouchCache(cmd.Context(), a.store.Path(name))
			if err != nil {
				return err
			}
			if doc == nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("no cache entry named '%s'", name)}
			}
			status := a.store.TTL().Evaluate(doc)

			if a.jsonOutput {
				if err := a.p.JSON(map[string]interface{}{
					"name":            name,
					"valid":           valid,
					"expires":         ttl.FormatTime(status.Expires),
					"extension_count": status.ExtensionCount,
					"max_extensions":  status.MaxExtensions,
				}); err != nil {
					return err
				}
			} else {
				a.p.Section(fmt.Sprintf("Cache '%s'", name))
				if valid {
					a.p.LabelValueWithColor("status", "valid", successColor)
				} else {
					a.p.LabelValueWithColor("status", "expired", warningColor)
				}
				if status.Parsed {
					a.p.LabelValue("expires", ttl.FormatTime(status.Expires))
				}
				a.p.LabelValue("extensions", fmt.Sprintf("%d/%d", status.ExtensionCount, status.MaxExtensions))
			}
			if !valid {
				return &ExitError{Code: 1, Err: fmt.Errorf("cache entry '%s' has expired", name)}
			}
			return nil
		}),
	})
	return cacheCmd
}
