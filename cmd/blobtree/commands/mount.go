package commands

import (
	"context"
	"errors"
	"net/http"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/brettbedarf/blobtree/internal/metrics"
	"github.com/brettbedarf/blobtree/server"
)

func newMountCmd(a *app) *cobra.Command {
	var umount bool
	cmd := &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Mount the tree with FUSE until interrupted",
		Long: `Mount the tree with FUSE. Files can be read, created, renamed and deleted;
existing files cannot be modified. Runs until SIGINT or SIGTERM.

With --metrics-addr (or metrics_addr in the config) Prometheus metrics are
served at /metrics while mounted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mnt := args[0]

			if umount {
				// Not being mounted is fine.
				_ = exec.Command("fusermount", "-u", mnt).Run()
			}

			if a.cfg.MetricsAddr != "" {
				stop := a.serveMetrics(a.cfg.MetricsAddr)
				defer stop()
			}

			srv := server.New(a.fs, a.cfg)
			if err := srv.Serve(mnt); err != nil {
				return err
			}

			unmounted := make(chan struct{})
			go func() {
				srv.Wait()
				close(unmounted)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info().Msg("Received signal, unmounting filesystem")
				if err := srv.Unmount(); err != nil {
					return err
				}
				a.logger.Info().Msg("Filesystem unmounted successfully")
			case <-unmounted:
				a.logger.Info().Str("mountpoint", mnt).Msg("Filesystem unmounted externally")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&umount, "umount", "u", false,
		"unmount first if needed before mounting again; useful for debuggers that don't exit properly")
	return cmd
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
