package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/conneroisu/excerpt/internal/watcher"
)

var importCmd = &cobra.Command{
	Use:   "import [dir|file]...",
	Short: "Load Source files into the store",
	Long: `Import Source files (.yml/.yaml) and the Includes they declare into the
configured store. Directories are walked recursively. Without arguments the
configured watch.dirs are imported.

Examples:
  excerpt import
  excerpt import ./sources welcome.yml`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = cfg.Watch.Dirs
	}

	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	importer := watcher.NewSourceImporter(a.repo, a.logger)
	var result *multierror.Error
	total := 0
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if info.IsDir() {
			n, err := importer.ImportDir(ctx, path)
			total += n
			if err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		res, err := a.repo.ImportFile(ctx, path)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))
			continue
		}
		total++
		fmt.Fprintf(cmd.OutOrStdout(), "%s: source %s, %d include(s)\n", path, res.Source.ID, len(res.Includes))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d source file(s)\n", total)
	return result.ErrorOrNil()
}
