package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/umbracache/umbra/internal/api"
	"github.com/umbracache/umbra/internal/httpcache"
	"github.com/umbracache/umbra/internal/logging"
	"github.com/umbracache/umbra/internal/metrics"
	"github.com/umbracache/umbra/internal/observability"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
		warmFile string
		noDemo   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.Addr = httpAddr
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			c, cleanup, err := openCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			metrics.Init("umbra", func() float64 { return c.Stats().HitRate })

			if err := observability.Init(cmd.Context(), observability.Config{
				Enabled:     cfg.Telemetry.Enabled,
				Exporter:    cfg.Telemetry.Exporter,
				Endpoint:    cfg.Telemetry.Endpoint,
				ServiceName: "umbra",
				SampleRate:  cfg.Telemetry.SampleRate,
			}); err != nil {
				return err
			}

			server, warmer, err := api.StartHTTPServer(cfg.Server.Addr, api.ServerConfig{
				Cache:       c,
				DisableDemo: noDemo,
			})
			if err != nil {
				return err
			}

			if warmFile != "" {
				data, err := os.ReadFile(warmFile)
				if err != nil {
					return err
				}
				manifest, err := httpcache.ParseManifest(data)
				if err != nil {
					return err
				}
				loaded, replayed := warmer.Warm(cmd.Context(), manifest)
				logging.Op().Info("cache warmed at startup",
					"file", warmFile, "loaded", loaded, "replayed", replayed)
			}
			logging.Op().Info("umbra daemon started",
				"addr", cfg.Server.Addr,
				"backend", cfg.Cache.Backend,
				"prefix", cfg.Cache.Prefix)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
			observability.Shutdown(shutdownCtx)
			c.Disconnect()
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level")
	cmd.Flags().StringVar(&warmFile, "warm-file", "", "Warm manifest to load at startup")
	cmd.Flags().BoolVar(&noDemo, "no-demo", false, "Disable the /demo routes")

	return cmd
}

func warmCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Load a warm manifest into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			manifest, err := httpcache.ParseManifest(data)
			if err != nil {
				return err
			}

			c, cleanup, err := openCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			// Replays need the routed handler chain, so build the same
			// router the daemon serves and warm through it.
			_, warmer, err := api.NewRouter(api.ServerConfig{Cache: c})
			if err != nil {
				return err
			}
			loaded, replayed := warmer.Warm(cmd.Context(), manifest)
			logging.Op().Info("cache warmed",
				"file", file, "entries", loaded, "replayed", replayed)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Warm manifest path (YAML)")
	cmd.MarkFlagRequired("file")

	return cmd
}
