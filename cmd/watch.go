package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/excerpt/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]...",
	Short: "Follow Source directories into the store",
	Long: `Import Source directories and keep the store in step with them until
interrupted. Created and modified files are re-imported; deleted files remove
their Source, which orphans the Includes referencing it.

Examples:
  excerpt watch
  excerpt watch ./sources ./shared`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dirs := args
	if len(dirs) == 0 {
		dirs = cfg.Watch.Dirs
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no directories to watch")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	importer := watcher.NewSourceImporter(a.repo, a.logger)
	fw, err := importer.Watch(ctx, watcher.Options{
		Debounce: cfg.Watch.Debounce,
		Logger:   a.logger,
	}, dirs...)
	if err != nil {
		return err
	}
	defer fw.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %v for Source changes\n", dirs)
	<-ctx.Done()
	return nil
}
