package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marshallyale/cyber-commutr/internal/backfill"
	"github.com/marshallyale/cyber-commutr/internal/config"
	"github.com/marshallyale/cyber-commutr/internal/crypto"
	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/handlers"
	"github.com/marshallyale/cyber-commutr/internal/metrics"
	"github.com/marshallyale/cyber-commutr/internal/reconcile"
	"github.com/marshallyale/cyber-commutr/internal/strava"
	"github.com/marshallyale/cyber-commutr/internal/tokens"
	"github.com/marshallyale/cyber-commutr/internal/worker"
)

func main() {
	listSubscriptions := flag.Bool("list-subscriptions", false, "List Strava webhook subscriptions")
	deleteSubscription := flag.String("delete-subscription", "", "Delete a Strava webhook subscription by ID")
	createSubscription := flag.Bool("create-subscription", false, "Create a Strava webhook subscription for the configured domain")

	flag.Parse()

	if *listSubscriptions || *deleteSubscription != "" || *createSubscription {
		runCLI(*listSubscriptions, *deleteSubscription, *createSubscription)
		return
	}

	runServer()
}

func runCLI(listSubs bool, deleteSub string, createSub bool) {
	// CLI output goes to stdout; keep structured logging out of the way
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	client := strava.NewClient(cfg)
	ctx := context.Background()

	switch {
	case listSubs:
		handleListSubscriptions(ctx, client)
	case deleteSub != "":
		handleDeleteSubscription(ctx, client, deleteSub)
	case createSub:
		handleCreateSubscription(ctx, client, cfg)
	}
}

func handleListSubscriptions(ctx context.Context, client *strava.Client) {
	subscriptions, err := client.ListSubscriptions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list subscriptions: %v\n", err)
		os.Exit(1)
	}

	if len(subscriptions) == 0 {
		fmt.Println("No active subscriptions found.")
		return
	}

	fmt.Printf("Found %d subscription(s):\n\n", len(subscriptions))
	for _, sub := range subscriptions {
		fmt.Printf("ID: %d\n", sub.ID)
		fmt.Printf("  Application ID: %d\n", sub.ApplicationID)
		fmt.Printf("  Callback URL: %s\n", sub.CallbackURL)
		fmt.Printf("  Created: %s\n", sub.CreatedAt)
		fmt.Printf("  Updated: %s\n", sub.UpdatedAt)
		fmt.Println()
	}
}

func handleDeleteSubscription(ctx context.Context, client *strava.Client, idStr string) {
	subscriptionID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid subscription ID: %s\n", idStr)
		os.Exit(1)
	}

	fmt.Printf("Deleting subscription %d...\n", subscriptionID)

	if err := client.DeleteSubscription(ctx, subscriptionID); err != nil {
		if strava.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: Subscription %d not found\n", subscriptionID)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("Subscription deleted.")
}

func handleCreateSubscription(ctx context.Context, client *strava.Client, cfg *config.Config) {
	callbackURL := cfg.Domain + "/strava/webhook"

	fmt.Printf("Creating webhook subscription...\n")
	fmt.Printf("Callback URL: %s\n\n", callbackURL)

	subscription, err := client.CreateSubscription(ctx, callbackURL, cfg.StravaVerifyToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Subscription creation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Subscription created with ID %d\n", subscription.ID)
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting cyber-commutr server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	cipher, err := crypto.NewTokenCipher(cfg.SecretKey)
	if err != nil {
		logger.Error("Failed to initialize token encryption", "error", err)
		os.Exit(1)
	}

	stravaClient := strava.NewClient(cfg)
	tokenManager := tokens.NewManager(db, stravaClient, cipher)
	reconciler := reconcile.NewReconciler(db, stravaClient, tokenManager)
	fetcher := backfill.NewFetcher(db, stravaClient, tokenManager)

	server := handlers.NewServer(cfg, db, stravaClient, tokenManager, cipher)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Queue worker handles webhook reconciliation and backfills off the
	// request path
	queueWorker := worker.New(db, reconciler, fetcher)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go queueWorker.Run(workerCtx)

	if cfg.MetricsEnabled {
		go metrics.StartQueueDepthCollector(workerCtx, db, 15*time.Second)
	}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
