package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront/internal/app"
)

const purgeInterval = 10 * time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the purchase event worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			server := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           a.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.Info("storefront starting",
					zap.String("addr", cfg.Addr()),
					zap.String("store_backend", cfg.StoreBackend),
					zap.Int("flows", len(a.Flows)),
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutdown signal received")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			if a.Worker != nil {
				g.Go(func() error { return a.Worker.Run(gctx) })
			}

			if a.NeedsPurge() {
				g.Go(func() error {
					t := time.NewTicker(purgeInterval)
					defer t.Stop()
					for {
						select {
						case <-gctx.Done():
							return nil
						case <-t.C:
							n, err := a.Purge(gctx)
							if err != nil {
								log.Warn("expired entry purge failed", zap.Error(err))
								continue
							}
							if n > 0 {
								log.Info("expired entries purged", zap.Int64("count", n))
							}
						}
					}
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("storefront stopped")
			return nil
		},
	}
}
