package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/conneroisu/excerpt/internal/tracker"
)

var statusCmd = &cobra.Command{
	Use:   "status [localId]...",
	Short: "Show the synchronization state of Includes",
	Long: `Show whether each Include's cached render is in sync with its Source.
Without arguments every stored Include is listed.

Examples:
  excerpt status
  excerpt status --stale
  excerpt status team-page -o json`,
	RunE: runStatus,
}

var updateCmd = &cobra.Command{
	Use:   "update [localId]...",
	Short: "Accept the latest Source content for Includes",
	Long: `Re-render Includes from the current Source with their own settings and
mark them in sync. With --all-stale every stale Include is updated.

Examples:
  excerpt update team-page
  excerpt update --all-stale`,
	RunE: runUpdate,
}

var (
	statusOutput    *OutputFlags
	statusStaleOnly bool
	updateAllStale  bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(updateCmd)

	statusOutput = AddOutputFlags(statusCmd, "table", "json", "yaml")
	statusCmd.Flags().BoolVar(&statusStaleOnly, "stale", false, "Only list stale and orphaned Includes")
	updateCmd.Flags().BoolVar(&updateAllStale, "all-stale", false, "Update every stale Include")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	statuses, err := collectStatus(ctx, a, args)
	if err != nil {
		return err
	}
	if statusStaleOnly {
		filtered := statuses[:0]
		for _, st := range statuses {
			if st.State == tracker.StateStale || st.State == tracker.StateOrphaned {
				filtered = append(filtered, st)
			}
		}
		statuses = filtered
	}

	return writeOutput(cmd.OutOrStdout(), statusOutput.Format, statuses, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "INCLUDE\tSOURCE\tSTATE\tLAST SYNCED\tSOURCE UPDATED")
		for _, st := range statuses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.LocalID, st.SourceID, st.State,
				formatTime(st.LastSynced), formatTime(st.SourceUpdatedAt))
		}
	})
}

func collectStatus(ctx context.Context, a *app, ids []string) ([]*tracker.Status, error) {
	if len(ids) == 0 {
		incs, err := a.repo.ListIncludes(ctx)
		if err != nil {
			return nil, err
		}
		for _, inc := range incs {
			ids = append(ids, inc.LocalID)
		}
	}
	statuses := make([]*tracker.Status, 0, len(ids))
	for _, id := range ids {
		st, err := a.tracker.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !updateAllStale {
		return fmt.Errorf("name at least one Include or pass --all-stale")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	ids := args
	if updateAllStale {
		statuses, err := collectStatus(ctx, a, nil)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			if st.State == tracker.StateStale {
				ids = append(ids, st.LocalID)
			}
		}
	}

	var result *multierror.Error
	for _, id := range ids {
		inc, err := a.tracker.Update(ctx, id)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s synced at %s\n", inc.LocalID, formatTime(inc.LastSynced))
	}
	return result.ErrorOrNil()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
