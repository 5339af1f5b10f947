package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gitlab.com/timkado/api/travel-session-client/internal/bootstrap"
	"gitlab.com/timkado/api/travel-session-client/internal/domain"
	"gitlab.com/timkado/api/travel-session-client/pkg/contextkeys"
)

const appName = "travel-session-client"

// Set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Keeps a CMS guest session alive and serves page context",
		Long: `travel-session-client authenticates against the travel portal CMS, refreshes the
session before it lapses, retries internal API calls rejected with 401/400 after a
refresh, and exposes the resulting page context over a small local HTTP surface.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the session monitor and the local HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Run one auth check and print the page context",
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd, configPath)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print auth state changes published by every running client (redis backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd, configPath)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func rootContext() context.Context {
	return context.WithValue(context.Background(), contextkeys.RequestIDKey, "app-main")
}

func serve(configPath string) error {
	ctx := rootContext()

	app, cleanup, err := bootstrap.InitializeApp(ctx, bootstrap.ConfigFile(configPath))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	// Run handles SIGINT/SIGTERM itself.
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("application run failed: %w", err)
	}
	fmt.Println("Application exited gracefully.")
	return nil
}

func check(cmd *cobra.Command, configPath string) error {
	ctx, stop := signal.NotifyContext(rootContext(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := bootstrap.InitializeApp(ctx, bootstrap.ConfigFile(configPath))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	snapshot, checkErr := app.CheckOnce(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return err
	}
	if checkErr != nil {
		return checkErr
	}
	if snapshot.State != domain.AuthStateAuthenticated {
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, snapshot.LastError)
	}
	return nil
}

func watch(cmd *cobra.Command, configPath string) error {
	ctx, stop := signal.NotifyContext(rootContext(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := bootstrap.InitializeApp(ctx, bootstrap.ConfigFile(configPath))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	return app.WatchAuthEvents(ctx, func(change domain.AuthStateChange) error {
		_, err := fmt.Fprintf(out, "%s session=%s %s -> %s %s\n",
			change.At.Format("2006-01-02T15:04:05Z07:00"), change.SessionID, change.From, change.To, change.Reason)
		return err
	})
}
