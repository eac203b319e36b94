// Admin CLI for subscription management and account maintenance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/marshallyale/cyber-commutr/internal/backfill"
	"github.com/marshallyale/cyber-commutr/internal/config"
	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/strava"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	client := strava.NewClient(cfg)
	ctx := context.Background()

	switch command {
	case "subscribe":
		handleSubscribe(ctx, client, cfg)
	case "list":
		handleList(ctx, client)
	case "unsubscribe":
		handleUnsubscribe(ctx, client)
	case "promote":
		handlePromote(db)
	case "backfill":
		handleBackfill(db)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: cli <command> [args]

Commands:
  subscribe              Create a webhook subscription for the configured domain
  list                   List webhook subscriptions
  unsubscribe <id>       Delete a webhook subscription
  promote <username>     Grant a user admin rights
  backfill <username>    Queue a full activity history backfill
  help                   Show this help
`)
}

func handleSubscribe(ctx context.Context, client *strava.Client, cfg *config.Config) {
	callbackURL := cfg.Domain + "/strava/webhook"
	fmt.Printf("Creating subscription with callback %s\n", callbackURL)

	sub, err := client.CreateSubscription(ctx, callbackURL, cfg.StravaVerifyToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Subscription created with ID %d\n", sub.ID)
}

func handleList(ctx context.Context, client *strava.Client) {
	subs, err := client.ListSubscriptions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(subs) == 0 {
		fmt.Println("No active subscriptions.")
		return
	}
	for _, sub := range subs {
		fmt.Printf("ID %d: %s (created %s)\n", sub.ID, sub.CallbackURL, sub.CreatedAt)
	}
}

func handleUnsubscribe(ctx context.Context, client *strava.Client) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: unsubscribe requires a subscription ID")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid subscription ID: %s\n", os.Args[2])
		os.Exit(1)
	}

	if err := client.DeleteSubscription(ctx, id); err != nil {
		if strava.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: Subscription %d not found\n", id)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println("Subscription deleted.")
}

func handlePromote(db *database.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: promote requires a username")
		os.Exit(1)
	}
	username := os.Args[2]

	matched, err := db.UpdateUser(username, database.UserUpdate{"is_admin": true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !matched {
		fmt.Fprintf(os.Stderr, "Error: No user named %q\n", username)
		os.Exit(1)
	}
	fmt.Printf("User %s is now an admin.\n", username)
}

func handleBackfill(db *database.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: backfill requires a username")
		os.Exit(1)
	}
	username := os.Args[2]

	user, err := db.GetUser(username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if user == nil {
		fmt.Fprintf(os.Stderr, "Error: No user named %q\n", username)
		os.Exit(1)
	}
	if !user.AuthorizedWithStrava() {
		fmt.Fprintf(os.Stderr, "Error: %s has not authorized with Strava\n", username)
		os.Exit(1)
	}

	job, err := json.Marshal(backfill.Job{Username: username})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.Enqueue(database.JobKindBackfill, job); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backfill queued for %s.\n", username)
}
