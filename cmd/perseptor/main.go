package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aytekaytemur/perseptor/internal/api"
	"github.com/aytekaytemur/perseptor/internal/config"
	"github.com/aytekaytemur/perseptor/internal/logging"
	"github.com/aytekaytemur/perseptor/internal/session"
	"github.com/aytekaytemur/perseptor/internal/sigmamatch"
	"github.com/aytekaytemur/perseptor/internal/store"
	"github.com/aytekaytemur/perseptor/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = api.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "perseptor",
	Short:   "PERSEPTOR - AI-assisted threat report analysis service",
	Long:    `PERSEPTOR turns threat intelligence reports into a defensive package: IoCs, MITRE ATT&CK mapping, YARA and Sigma rules, SIEM queries and atomic test scenarios.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP analysis server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the Sigma catalog index once and print stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PERSEPTOR %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	cfg := config.Load()
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		FilePath:  cfg.LogFile,
		Component: "perseptor",
	})

	log.Info().Str("version", Version).Msg("Starting PERSEPTOR analysis server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open database")
	}
	defer st.Close()

	sessions, err := session.New(cfg.SessionSecret, cfg.SessionExpiry, st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session manager")
	}
	sessions.StartCleanup(ctx, time.Hour)

	catalog := openCatalog(ctx, cfg.SigmaRulesDir)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BackendHost, cfg.BackendPort),
		Handler: api.NewServer(cfg, st, sessions, catalog, hub),
		// SSE responses stay open for the whole analysis; only bound the
		// header read.
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

// openCatalog loads the Sigma rule catalog and keeps it fresh. A missing
// or unreadable directory disables catalog matching instead of failing
// startup.
func openCatalog(ctx context.Context, dir string) *sigmamatch.Catalog {
	catalog, err := sigmamatch.NewCatalog(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Sigma catalog unavailable, matching disabled")
		return nil
	}
	log.Info().Int("rules", catalog.Index().Len()).Str("dir", dir).Msg("Sigma catalog loaded")

	go func() {
		if err := catalog.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Sigma catalog watcher stopped")
		}
	}()
	return catalog
}

func runIndex() error {
	cfg := config.Load()
	logging.Init(logging.Config{
		Format:    "console",
		Level:     cfg.LogLevel,
		Component: "perseptor",
	})

	start := time.Now()
	catalog, err := sigmamatch.NewCatalog(cfg.SigmaRulesDir)
	if err != nil {
		return fmt.Errorf("loading sigma catalog from %s: %w", cfg.SigmaRulesDir, err)
	}

	index := catalog.Index()
	fmt.Printf("Sigma catalog: %s\n", cfg.SigmaRulesDir)
	fmt.Printf("Rules indexed: %d\n", index.Len())
	fmt.Printf("Load time:     %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
