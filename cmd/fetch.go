package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/conneroisu/excerpt/internal/batch"
	"github.com/conneroisu/excerpt/internal/cache"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/logging"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <localId>...",
	Short: "Fetch cached renders from a running server",
	Long: `Fetch the cached renders of Includes from an excerpt server. Requests made
together are coalesced into batch calls the way a page full of Includes is.

Examples:
  excerpt fetch team-page pricing-page
  excerpt fetch team-page --remote http://docs.internal:8080 -o html`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

var (
	fetchOutput *OutputFlags
	fetchRemote string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchOutput = AddOutputFlags(fetchCmd, "text", "json", "html")
	fetchCmd.Flags().StringVar(&fetchRemote, "remote", "", "Server base URL (default batch.remote)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	remote := fetchRemote
	if remote == "" {
		remote = cfg.Batch.Remote
	}
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

	fetcher := batch.NewHTTPFetcher(remote)
	fetcher.Client.Timeout = cfg.Batch.Timeout
	coord := batch.New(fetcher, batch.Options{
		InitialWindow: cfg.Batch.InitialWindow,
		RollingWindow: cfg.Batch.RollingWindow,
		Timeout:       cfg.Batch.Timeout,
		Logger:        logger,
	})
	defer coord.Close()

	renders, err := fetchAll(ctx, coord, args, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if fetchOutput.Format == "json" {
		byID := make(map[string]*doctree.Node, len(renders))
		for i, id := range args {
			byID[id] = renders[i]
		}
		return writeOutput(out, "json", byID, nil)
	}
	for i, id := range args {
		if len(args) > 1 {
			fmt.Fprintf(out, "== %s\n", id)
		}
		if fetchOutput.Format == "html" {
			html, err := doctree.HTMLString(renders[i])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, html)
			continue
		}
		fmt.Fprintln(out, doctree.PlainText(renders[i]))
	}
	return nil
}

// fetchAll requests every id concurrently through coord. Each render is
// bound once to its projection; ids that fail are reported together.
func fetchAll(ctx context.Context, coord *batch.Coordinator, ids []string, logger logging.Logger) ([]*doctree.Node, error) {
	projections := make([]cache.Frozen[*doctree.Node], len(ids))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			content, err := coord.Get(ctx, id)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
				return
			}
			projections[i].Bind(content)
		}(i, id)
	}
	wg.Wait()

	stats := coord.Stats()
	logger.Debug(ctx, "Fetched renders", "ids", len(ids), "batches", stats.Batches, "failures", stats.Failures)
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	out := make([]*doctree.Node, len(ids))
	for i := range projections {
		out[i], _ = projections[i].Value()
	}
	return out, nil
}
