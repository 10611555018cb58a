package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/excerpt/internal/markers"
)

var detectCmd = &cobra.Command{
	Use:   "detect <source.yml>...",
	Short: "List the variables and toggles a Source declares",
	Long: `Scan Source files for {{variable}} and {{toggle:name}} markers and report
the detected schema along with toggle markers that cannot be paired.

Examples:
  excerpt detect welcome.yml
  excerpt detect sources/*.yml -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

var detectOutput *OutputFlags

func init() {
	rootCmd.AddCommand(detectCmd)
	detectOutput = AddOutputFlags(detectCmd, "table", "json", "yaml")
}

// detection is the report for one file.
type detection struct {
	File      string   `json:"file" yaml:"file"`
	SourceID  string   `json:"sourceId" yaml:"sourceId"`
	Variables []string `json:"variables" yaml:"variables"`
	Toggles   []string `json:"toggles" yaml:"toggles"`
	Malformed []string `json:"malformed,omitempty" yaml:"malformed,omitempty"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	if err := ValidateFileExists(args...); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var out []detection
	for _, path := range args {
		src, _, err := loadSourceFile(ctx, path, "")
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		report := markers.Analyze(src.Content)
		d := detection{
			File:      path,
			SourceID:  src.ID,
			Variables: nonNil(report.Variables),
			Toggles:   nonNil(report.Toggles),
		}
		for _, m := range report.Malformed {
			d.Malformed = append(d.Malformed, fmt.Sprintf("text node %d: %s", m.Node, m.Span.Raw))
		}
		out = append(out, d)
	}

	return writeOutput(cmd.OutOrStdout(), detectOutput.Format, out, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "SOURCE\tKIND\tNAME")
		for _, d := range out {
			for _, v := range d.Variables {
				fmt.Fprintf(tw, "%s\tvariable\t%s\n", d.SourceID, v)
			}
			for _, t := range d.Toggles {
				fmt.Fprintf(tw, "%s\ttoggle\t%s\n", d.SourceID, t)
			}
			for _, m := range d.Malformed {
				fmt.Fprintf(tw, "%s\tmalformed\t%s\n", d.SourceID, m)
			}
		}
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
