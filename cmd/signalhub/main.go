package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"signalhub/internal/config"
	"signalhub/internal/maintenance"
	"signalhub/internal/server"
	"signalhub/internal/transport"
	"signalhub/internal/version"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "signalhub",
	Short: "Signal Hub - tier routing and semantic caching for LLM backends",
	Long: `Signal Hub sits between AI coding clients and tiered LLM backends.
It routes each request to the cheapest capable model tier, serves repeated
questions from a semantic cache, enforces per-client rate limits, and keeps
a cost ledger of every call.`,
	Version: version.Full(),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Signal Hub server",
	Long: `Start the Signal Hub server on the configured transport. Stdio speaks
newline-delimited JSON-RPC over standard input and output; websocket listens
for connections on the configured address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Signal Hub %s\n", version.Full())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(costsCmd)
	rootCmd.AddCommand(configCmd)

	// Bare invocation starts the server.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	}
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Debug.VerboseLogging = true
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Stdout carries the protocol in stdio mode; logs go to stderr.
	log.SetOutput(os.Stderr)

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	jobs, err := maintenance.New(srv.Cache(), srv.Ledger(), cfg.Ledger.RetentionDays)
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	jobs.Start()

	var tp transport.Transport
	switch cfg.Server.Transport {
	case "websocket":
		tp = transport.NewWebSocket(cfg.Server.ListenAddr)
	default:
		tp = transport.NewStdio()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[Main] Received signal: %v", sig)
		case <-srv.Done():
			log.Printf("[Main] Shutdown requested by client")
		}
		tp.Close()
		cancel()
	}()

	log.Printf("[Main] Starting Signal Hub %s (%s transport)", version.Short(), cfg.Server.Transport)
	serveErr := tp.Serve(ctx, srv)

	jobs.Stop(context.Background())
	srv.Shutdown(context.Background())

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("transport failed: %w", serveErr)
	}
	log.Printf("[Main] Stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
