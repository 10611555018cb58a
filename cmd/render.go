package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/store"
	"github.com/conneroisu/excerpt/internal/transform"
	"github.com/conneroisu/excerpt/internal/types"
)

var renderCmd = &cobra.Command{
	Use:   "render <source.yml>",
	Short: "Render a Source file with Include settings",
	Long: `Render a Source file without touching the store. Settings come from an
Include declared in the file (--include) and are overridden by flags.

Examples:
  excerpt render welcome.yml --set name=Ana --toggle vip=true
  excerpt render welcome.yml --include team-page -o html
  excerpt render welcome.yml --insert "0:Thanks for joining" -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderOutput   *OutputFlags
	renderSettings *SettingsFlags
	renderInclude  string
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderOutput = AddOutputFlags(renderCmd, "text", "json", "yaml", "html")
	renderSettings = AddSettingsFlags(renderCmd)
	renderCmd.Flags().StringVarP(&renderInclude, "include", "i", "", "Start from the settings of this Include in the file")
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := ValidateFileExists(args[0]); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	src, settings, err := loadSourceFile(ctx, args[0], renderInclude)
	if err != nil {
		return err
	}
	settings, err = renderSettings.Apply(settings)
	if err != nil {
		return err
	}

	res := transform.New(transform.Options{}).Render(ctx, src.Content, settings)
	for _, name := range res.Unresolved {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: no value for variable %q\n", name)
	}
	return printRender(cmd.OutOrStdout(), renderOutput.Format, res)
}

// loadSourceFile imports path into a throwaway repository and returns its
// Source with the settings of includeID, if given.
func loadSourceFile(ctx context.Context, path, includeID string) (*types.Source, types.Settings, error) {
	repo := repository.New(store.NewMemory(), clock.Real(), logging.NewNop())
	res, err := repo.ImportFile(ctx, path)
	if err != nil {
		return nil, types.Settings{}, err
	}
	if includeID == "" {
		return res.Source, types.Settings{}, nil
	}
	inc, err := repo.GetInclude(ctx, includeID)
	if err != nil {
		return nil, types.Settings{}, fmt.Errorf("include %q is not declared in %s", includeID, path)
	}
	return res.Source, inc.Settings, nil
}

func printRender(w io.Writer, format string, res transform.Result) error {
	switch format {
	case "html":
		html, err := doctree.HTMLString(res.Content)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, html)
		return err
	case "json", "yaml":
		return writeOutput(w, format, res, nil)
	default:
		_, err := fmt.Fprintln(w, doctree.PlainText(res.Content))
		return err
	}
}
