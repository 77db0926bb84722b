package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"onegateway/internal/config"
	"onegateway/internal/gateway"
	"onegateway/internal/metrics"
	"onegateway/internal/registry"
	"onegateway/pkg/logging"
)

var (
	serveHost     string
	servePort     int
	serveConfig   string
	serveLogLevel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the 0ne gateway JSON-RPC endpoint",
	Long: `Loads the backend config, connects every non-lazy backend, and serves
the MCP JSON-RPC endpoint over HTTP until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", envOrDefault("MCP_0NE_HOST", "127.0.0.1"), "listen host")
	serveCmd.Flags().IntVar(&servePort, "port", envIntOrDefault("MCP_0NE_PORT", 8150), "listen port")
	serveCmd.Flags().StringVar(&serveConfig, "config", envOrDefault("MCP_0NE_CONFIG", defaultConfigPath()), "path to backends config file")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", envOrDefault("MCP_0NE_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Init(logging.ParseLevel(serveLogLevel), os.Stderr)

	store := config.NewStore(serveConfig)
	collector := metrics.New()
	reg := registry.New(store, collector)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := reg.LoadFromConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	for id, status := range report {
		if status.Error != "" {
			logging.Warn("cmd.serve", "backend %s loaded in state %s: %s", id, status.State, status.Error)
		}
	}

	// Watch backends.json so edits made outside the admin toolset (or by
	// another gateway instance sharing the file) take effect without a
	// restart. The registry's own saves produce a no-op sync.
	watcher := config.NewWatcher(store, config.DefaultDebounce)
	if err := watcher.Start(ctx, func() {
		logging.Info("cmd.serve", "config file changed, syncing registry")
		reg.SyncFromConfig(context.Background())
	}); err != nil {
		logging.Warn("cmd.serve", "config watcher unavailable: %v", err)
	}

	handler := gateway.NewHandler(reg)

	mux := http.NewServeMux()
	mux.Handle("/", gateway.NewHTTPHandler(handler))
	mux.HandleFunc("/healthz", gateway.HealthzHandler)
	mux.Handle("/metrics", collector.Handler())

	addr := fmt.Sprintf("%s:%d", serveHost, servePort)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("cmd.serve", "listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logging.Info("cmd.serve", "received signal %s, shutting down", sig)
	}

	watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("cmd.serve", "HTTP server shutdown error: %v", err)
	}
	reg.Shutdown(shutdownCtx)
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "backends.json"
	}
	return filepath.Join(dir, "0ne", "backends.json")
}
