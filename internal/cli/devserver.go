package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"eventconsole/console/internal/devserver"
	"eventconsole/console/internal/logging"
)

func newDevserverCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the in-memory reference backend",
		Long: `Run an in-memory backend that speaks the console API, including the
minutes and chat push channels. Data is lost on exit.

Seeded accounts:
  admin@example.org   admin-password   (admin)
  editor@example.org  editor-password  (notulen:*, chat:*)
  viewer@example.org  viewer-password  (*:read)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.DevAddr
			}
			logger := logging.New(logging.Config{
				Level:  logging.ParseLevel(cfg.LogLevel),
				Format: logging.ParseFormat(cfg.LogFormat),
				Output: cmd.ErrOrStderr(),
			})

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv, err := devserver.New(devserver.Config{
				Secret:    []byte(cfg.DevJWTSecret),
				AccessTTL: cfg.DevAccessTTL,
				Logger:    logger,
				Gatherer:  registry,
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			server := &http.Server{
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("devserver listening", "addr", listener.Addr().String())
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.DropConnections()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown error", "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from CONSOLE_DEV_ADDR or :8080)")
	return cmd
}
