package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/server"
)

const defaultGracefulTimeout = 20 * time.Second

func newServeCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local API and the background sync coordinator",
		Long: `Start the local HTTP API and the sync coordinator.

Pending scans are uploaded at startup when the diagnosis service is
reachable and again on every offline to online transition. In "probe" mode
reachability is polled; in "push" mode it is reported by the device via
POST /connectivity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runServe(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("listen", "", "Address for the local HTTP API")
	f.String("connectivity", "", `Connectivity source: "probe" or "push"`)
	mustBind(o.v, "listen_addr", f.Lookup("listen"))
	mustBind(o.v, "connectivity.mode", f.Lookup("connectivity"))
	return cmd
}

func (o *options) runServe(ctx context.Context) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(server.Config{
		ListenAddr:  cfg.ListenAddr,
		Logger:      logger,
		Application: a,
	})
	if err != nil {
		closeApp(a)
		return fmt.Errorf("creating server: %w", err)
	}
	httpServer := srv.HTTPServer()

	if err := a.Start(ctx); err != nil {
		closeApp(a)
		return fmt.Errorf("starting application: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", logging.Err(err))
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("application shutdown", logging.Err(err))
	}
	logger.Info("server stopped")
	return runErr
}
