// Package main implements the smart-event-relay command: the HTTP service,
// one-shot pipeline cycles, schema migration and Google calendar delegation.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"smart-event-relay/internal/app"
	"smart-event-relay/internal/calendar"
	"smart-event-relay/internal/cycle"
	"smart-event-relay/internal/db"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("command failed: %v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "smart-event-relay",
	Short: "Turn inbound messages into calendar events and reminders",
	Long: `smart-event-relay parses stored messages into events, syncs them to each
owner's calendar and delivers push reminders before they start.

Configuration is read from config.yaml, .env and the environment.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var accountID string

func init() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	authCmd.Flags().StringVar(&accountID, "account", "", "account id to store the refresh token on")
	_ = authCmd.MarkFlagRequired("account")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(authCmd)
}

// serveCmd runs the HTTP API and, when enabled, the cron trigger
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run()
	},
}

// runCmd runs one pipeline cycle and prints its summaries
var runCmd = &cobra.Command{
	Use:   "run <ingest|sync|dispatch|all>",
	Short: "Run a pipeline cycle once",
	Long: `Run a single pipeline cycle against the database and exit.

Examples:
  # Parse unprocessed messages
  smart-event-relay run ingest

  # Run ingest, sync and dispatch in order
  smart-event-relay run all`,
	Args: cobra.ExactArgs(1),
	RunE: runCycle,
}

// migrateCmd creates or updates the schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()
		return db.Migrate(a.DB)
	},
}

// authCmd stores a Google refresh token on an account
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Delegate a Google calendar to an account",
	Long: `Walk through the Google OAuth consent flow and store the resulting
refresh token on the given account.

Examples:
  smart-event-relay auth --account 3f1c...`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func setup() (*app.App, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func runCycle(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	if !a.Runner.Has(name) {
		return fmt.Errorf("%w: %s (want one of %v or %s)", cycle.ErrUnknown, name, a.Runner.Names(), cycle.All)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summaries, runErr := a.Runner.Run(ctx, name)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		return fmt.Errorf("failed to write summaries: %w", err)
	}
	return runErr
}

func runAuth(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config.Calendar
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return fmt.Errorf("calendar google_client_id and google_client_secret are required")
	}

	ctx := cmd.Context()
	if _, err := a.Repo.GetAccount(ctx, accountID); err != nil {
		return fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	oauthCfg := calendar.OAuthConfig(cfg)
	authURL := oauthCfg.AuthCodeURL(accountID, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Go to the following link in your browser: %v\n", authURL)
	fmt.Fprintln(out, "\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")
	fmt.Fprint(out, "\nEnter the authorization code: ")

	var code string
	if _, err := fmt.Fscan(cmd.InOrStdin(), &code); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("unable to exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return fmt.Errorf("google returned no refresh token; revoke the app's access and retry")
	}

	if err := a.Repo.SaveGoogleRefreshToken(ctx, accountID, tok.RefreshToken); err != nil {
		return err
	}
	logrus.WithField("account_id", accountID).Info("Google calendar delegated")
	fmt.Fprintln(out, "\nRefresh token stored.")
	return nil
}
