package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/excerpt/internal/server"
	"github.com/conneroisu/excerpt/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the excerpt API server",
	Long: `Start the HTTP API over the configured store. Includes are rendered on
demand, settings writes are debounced and websocket clients receive Source
and sync events. With --watch the configured directories are imported and
followed for changes.

Examples:
  excerpt serve
  excerpt serve --port 9000 --watch`,
	RunE: runServe,
}

var serveWatch bool

const defaultShutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "Import and follow watch.dirs")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if serveWatch && len(cfg.Watch.Dirs) > 0 {
		importer := watcher.NewSourceImporter(a.repo, a.logger)
		fw, err := importer.Watch(ctx, watcher.Options{
			Debounce: cfg.Watch.Debounce,
			Logger:   a.logger,
		}, cfg.Watch.Dirs...)
		if err != nil {
			a.Close(context.Background())
			return err
		}
		defer fw.Stop()
	}

	srv := server.New(cfg.Server, server.Deps{
		Repo:    a.repo,
		Cache:   a.cache,
		Writer:  a.writer,
		Tracker: a.tracker,
		Logger:  a.logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Starting excerpt server at http://%s\n", cfg.Server.Addr())

	select {
	case err = <-errCh:
	case <-ctx.Done():
		a.logger.Info(ctx, "Received shutdown signal")
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if closeErr := a.Close(shutdownCtx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
