package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zackwarn/screentimed/internal/config"
	"github.com/zackwarn/screentimed/internal/events"
	"github.com/zackwarn/screentimed/internal/limits"
	"github.com/zackwarn/screentimed/internal/sessions"
	"github.com/zackwarn/screentimed/internal/storage"
)

var checkBlockedOnly bool

var checkCmd = &cobra.Command{
	Use:   "check [PACKAGE]",
	Short: "Check current limit status",
	Long:  `Check the persisted limit status for one package, or list all configured limits.`,
	Example: `  screentimed -c config.yaml check com.example.video
  screentimed check
  screentimed check --blocked`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkBlockedOnly, "blocked", false, "List only currently blocked apps")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if len(args) == 1 {
		return checkOne(ctx, cfg, store, logger, args[0])
	}
	return checkAll(ctx, store)
}

func checkOne(ctx context.Context, cfg *config.Config, store storage.Store, logger zerolog.Logger, packageName string) error {
	source := events.NewJournalSource(cfg.Monitor.EventJournal)
	engine := limits.NewEngine(store.Limits(), sessions.NewReconstructor(source), limits.RealClock{}, logger)

	status, err := engine.CurrentStatus(ctx, packageName)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	printStatus(packageName, status)
	return nil
}

func checkAll(ctx context.Context, store storage.Store) error {
	var (
		all []storage.AppLimit
		err error
	)
	if checkBlockedOnly {
		all, err = store.Limits().ListBlocked(ctx)
	} else {
		all, err = store.Limits().ListLimits(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list limits: %w", err)
	}

	if len(all) == 0 {
		fmt.Println("No limits configured.")
		return nil
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("%-36s %-10s %-10s %-8s %s\n", "PACKAGE", "USED", "LIMIT", "ENABLED", "STATE")
	for _, limit := range all {
		state := color.GreenString("WITHIN_LIMIT")
		if !limit.Enabled {
			state = "NO_LIMIT"
		} else if limit.Blocked {
			state = color.RedString("EXCEEDED")
		}
		fmt.Printf("%-36s %-10s %-10s %-8v %s\n",
			limit.PackageName,
			fmt.Sprintf("%dm", limit.UsedTodayMinutes),
			fmt.Sprintf("%dm", limit.LimitMinutes),
			limit.Enabled,
			state,
		)
	}
	return nil
}

// printStatus prints a single package's status with colors
func printStatus(packageName string, status limits.Status) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("LIMIT STATUS CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Package:    %s\n", packageName)
	fmt.Println()

	cyan.Print("Status:     ")
	switch status.Kind {
	case limits.KindNoLimit:
		fmt.Println("NO_LIMIT")
		fmt.Println("            → No enabled limit for this package")
	case limits.KindWithinLimit:
		green.Println("WITHIN_LIMIT")
		fmt.Printf("            → Used %d of %d minutes today\n", status.UsedMinutes, status.LimitMinutes)
		fmt.Printf("            → %d minutes remaining\n", status.Remaining())
	case limits.KindExceeded:
		red.Println("EXCEEDED")
		fmt.Printf("            → Used %d of %d minutes today\n", status.UsedMinutes, status.LimitMinutes)
		fmt.Println("            → App is blocked until the next daily reset")
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
