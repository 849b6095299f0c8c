package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zackwarn/screentimed/internal/config"
	"github.com/zackwarn/screentimed/internal/limits"
	"github.com/zackwarn/screentimed/internal/storage"
)

var (
	limitMinutes int
	limitAppName string
)

var limitCmd = &cobra.Command{
	Use:   "limit",
	Short: "Manage per-app daily limits",
}

var limitSetCmd = &cobra.Command{
	Use:   "set PACKAGE",
	Short: "Create or update a daily limit",
	Example: `  screentimed limit set --minutes 30 com.example.video
  screentimed limit set --minutes 60 --name "Games" com.example.games`,
	Args: cobra.ExactArgs(1),
	RunE: runLimitSet,
}

var limitRemoveCmd = &cobra.Command{
	Use:   "remove PACKAGE",
	Short: "Remove a daily limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runLimitRemove,
}

var limitEnableCmd = &cobra.Command{
	Use:   "enable PACKAGE",
	Short: "Enable a configured limit",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setLimitEnabled(args[0], true) },
}

var limitDisableCmd = &cobra.Command{
	Use:   "disable PACKAGE",
	Short: "Disable a configured limit without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setLimitEnabled(args[0], false) },
}

func init() {
	limitSetCmd.Flags().IntVar(&limitMinutes, "minutes", 0, "Daily budget in minutes (required)")
	limitSetCmd.Flags().StringVar(&limitAppName, "name", "", "Display name (defaults to package name)")
	_ = limitSetCmd.MarkFlagRequired("minutes")

	limitCmd.AddCommand(limitSetCmd)
	limitCmd.AddCommand(limitRemoveCmd)
	limitCmd.AddCommand(limitEnableCmd)
	limitCmd.AddCommand(limitDisableCmd)
	rootCmd.AddCommand(limitCmd)
}

func withLimitStore(fn func(ctx context.Context, limits storage.LimitStore) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return fn(ctx, store.Limits())
}

func runLimitSet(cmd *cobra.Command, args []string) error {
	packageName := args[0]
	if limitMinutes <= 0 {
		return fmt.Errorf("minutes must be positive, got %d", limitMinutes)
	}
	appName := limitAppName
	if appName == "" {
		appName = packageName
	}

	return withLimitStore(func(ctx context.Context, limitStore storage.LimitStore) error {
		limit := storage.AppLimit{
			PackageName:   packageName,
			AppName:       appName,
			LimitMinutes:  limitMinutes,
			Enabled:       true,
			LastResetDate: time.Now().Format(limits.DateLayout),
		}

		// Preserve today's usage when adjusting an existing limit.
		if existing, err := limitStore.GetLimit(ctx, packageName); err == nil {
			limit.UsedTodayMinutes = existing.UsedTodayMinutes
			limit.LastResetDate = existing.LastResetDate
			limit.Blocked = existing.UsedTodayMinutes >= limitMinutes
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to read existing limit: %w", err)
		}

		if err := limitStore.UpsertLimit(ctx, limit); err != nil {
			return fmt.Errorf("failed to save limit: %w", err)
		}

		fmt.Printf("Limit set: %s → %d minutes/day\n", packageName, limitMinutes)
		return nil
	})
}

func runLimitRemove(cmd *cobra.Command, args []string) error {
	packageName := args[0]

	return withLimitStore(func(ctx context.Context, limitStore storage.LimitStore) error {
		if _, err := limitStore.GetLimit(ctx, packageName); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no limit configured for %s", packageName)
			}
			return fmt.Errorf("failed to read limit: %w", err)
		}
		if err := limitStore.DeleteLimit(ctx, packageName); err != nil {
			return fmt.Errorf("failed to remove limit: %w", err)
		}

		fmt.Printf("Limit removed: %s\n", packageName)
		return nil
	})
}

func setLimitEnabled(packageName string, enabled bool) error {
	return withLimitStore(func(ctx context.Context, limitStore storage.LimitStore) error {
		limit, err := limitStore.GetLimit(ctx, packageName)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no limit configured for %s", packageName)
			}
			return fmt.Errorf("failed to read limit: %w", err)
		}

		limit.Enabled = enabled
		if err := limitStore.UpsertLimit(ctx, *limit); err != nil {
			return fmt.Errorf("failed to save limit: %w", err)
		}

		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("Limit %s: %s\n", state, packageName)
		return nil
	})
}
