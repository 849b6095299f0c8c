package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zackwarn/screentimed/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the screentimed configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	fmt.Printf("✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Println()
		red.Printf("⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Printf("   - %s\n", key)
		}
		fmt.Println("\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Monitor
		"monitor.poll_interval":      true,
		"monitor.refresh_interval":   true,
		"monitor.evaluation_timeout": true,
		"monitor.foreground_window":  true,
		"monitor.self_package":       true,
		"monitor.event_journal":      true,

		// Storage
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// Usage tracking
		"usage_tracking.warn_threshold_minutes": true,
		"usage_tracking.notify_cooldown":        true,
		"usage_tracking.retention_days":         true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Metrics
		"metrics.enabled":      true,
		"metrics.bind_address": true,
		"metrics.port":         true,
	}
}
