package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hugodecasta/captain/internal/chore"
	"github.com/hugodecasta/captain/internal/config"
	"github.com/hugodecasta/captain/internal/control"
	"github.com/hugodecasta/captain/internal/crew"
	"github.com/hugodecasta/captain/internal/discovery"
	"github.com/hugodecasta/captain/internal/httpapi"
	"github.com/hugodecasta/captain/internal/sailorclient"
	"github.com/hugodecasta/captain/internal/store"
	"github.com/hugodecasta/captain/internal/user"
	"github.com/hugodecasta/captain/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "captain",
	Short:   "Captain schedules chores across a crew of sailors",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("captain version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	flags := rootCmd.PersistentFlags()
	logLevel, _ := flags.GetString("log-level")
	logJSON, _ := flags.GetBool("log-json")
	if cfg, err := config.Load(); err == nil {
		if !flags.Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		if !flags.Changed("log-json") {
			logJSON = cfg.LogJSON
		}
	}
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Captain controller",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	docsDir := filepath.Join(cfg.DataDir, "captain")
	if err := store.EnsureDir(docsDir); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}

	heartbeatTimeout := time.Duration(cfg.HeartbeatTimeoutSeconds) * time.Second
	sailorRPCTimeout := time.Duration(cfg.SailorRPCTimeoutSeconds) * time.Second

	crewReg := crew.New(filepath.Join(docsDir, "crew.json"), heartbeatTimeout)
	choreReg := chore.New(filepath.Join(docsDir, "chores.json"))
	userReg := user.New(filepath.Join(docsDir, "users.json"))
	client := sailorclient.New(sailorRPCTimeout)

	loop := control.New(crewReg, choreReg, userReg, client)
	loop.Tick = time.Duration(cfg.TickSeconds) * time.Second
	loop.Start()

	api := &httpapi.API{Crew: crewReg, Chores: choreReg, Users: userReg, Loop: loop}
	addr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	srv := &http.Server{Addr: addr, Handler: api.Router()}

	if err := discovery.Write(cfg.DataDir, discovery.Info{
		Host: cfg.ListenHost,
		Port: cfg.ListenPort,
		URL:  fmt.Sprintf("http://%s", addr),
	}); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to write discovery file")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logger.Info().Str("addr", addr).Msg("captain listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("http server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
	defer cancel()

	loop.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		log.Logger.Error().Err(err).Msg("http server shutdown error")
	}
	if err := discovery.Remove(cfg.DataDir); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to remove discovery file")
	}

	log.Logger.Info().Msg("shutdown complete")
	return nil
}
