package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/umbracache/umbra/internal/cache"
	"github.com/umbracache/umbra/internal/config"
)

var (
	configPath string
	redisAddr  string
	redisPass  string
	redisDB    int
	prefix     string
	useMemory  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "umbra",
		Short: "Umbra - tag-indexed response cache",
		Long:  "A TTL-based key-value cache over Redis with tag invalidation and HTTP response caching",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address")
	rootCmd.PersistentFlags().StringVar(&redisPass, "redis-pass", "", "Redis password")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis database")
	rootCmd.PersistentFlags().StringVar(&prefix, "prefix", "", "Cache key prefix")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Use the in-process store instead of Redis")

	rootCmd.AddCommand(
		serveCmd(),
		warmCmd(),
		invalidateCmd(),
		statsCmd(),
		flushCmd(),
		pingCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges defaults, the optional config file, UMBRA_* env vars and
// command-line flags, strongest last.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		if err := config.LoadFromFile(cfg, configPath); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if redisPass != "" {
		cfg.Redis.Password = redisPass
	}
	if redisDB != 0 {
		cfg.Redis.DB = redisDB
	}
	if prefix != "" {
		cfg.Cache.Prefix = prefix
	}
	if useMemory {
		cfg.Cache.Backend = "memory"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openCache builds a connected Cache from cfg. The returned cleanup closes
// the underlying store.
func openCache(ctx context.Context, cfg *config.Config) (*cache.Cache, func(), error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case "memory":
		store = cache.NewMemoryStore()
	default:
		rs, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store = rs
	}

	c := cache.New(store, cache.Config{
		Prefix:      cfg.Cache.Prefix,
		DefaultTTL:  time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		HealthFloor: &cfg.Cache.HealthFloor,
	})
	if err := c.Connect(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return c, func() { store.Close() }, nil
}

func invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <tag>",
		Short: "Remove every cached entry carrying a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, cleanup, err := openCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			removed := c.InvalidateByTag(cmd.Context(), args[0])
			fmt.Printf("invalidated %d keys for tag %q\n", removed, args[0])
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	var (
		asJSON bool
		addr   string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the running daemon's cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}

			// Counters live in the daemon process, so read them over its
			// admin API rather than from a cache this process would open.
			stats, err := fetchStats(cmd.Context(), daemonBaseURL(addr))
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(stats)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "HITS\tMISSES\tSETS\tDELETES\tERRORS\tHIT RATE\n")
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
				stats.Hits, stats.Misses, stats.Sets, stats.Deletes, stats.Errors, stats.HitRate)
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon HTTP address (defaults to the configured server address)")
	return cmd
}

// daemonBaseURL turns a listen address like ":8080" into a reachable URL.
func daemonBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func fetchStats(ctx context.Context, baseURL string) (cache.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/admin/stats", nil)
	if err != nil {
		return cache.Stats{}, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return cache.Stats{}, fmt.Errorf("query daemon stats (is the daemon running?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cache.Stats{}, fmt.Errorf("daemon stats: unexpected status %d", resp.StatusCode)
	}
	var stats cache.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return cache.Stats{}, fmt.Errorf("decode daemon stats: %w", err)
	}
	return stats, nil
}

func flushCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Remove every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("flush removes all cached data; re-run with --yes")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, cleanup, err := openCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if !c.Flush(cmd.Context()) {
				return fmt.Errorf("flush failed")
			}
			fmt.Println("cache flushed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the flush")
	return cmd
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check backing store reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, cleanup, err := openCache(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if !c.Ping(cmd.Context()) {
				return fmt.Errorf("store unreachable")
			}
			fmt.Println("PONG")
			return nil
		},
	}
}
