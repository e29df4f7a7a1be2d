package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/moolen/sleuth/internal/config"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/tracing"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	logLevelFlags []string // Supports multiple --log-level flags

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sleuth",
	Short: "Sleuth - incident investigation engine",
	Long: `Sleuth drives incident investigations step by step: an agent picks the
next action, tools gather evidence, and every step is recorded and audited.
Scenario files replay investigations against canned tools and score them
against a known root cause.`,
	Version:       tracing.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return setupLog(logLevelFlags, cfg.LogLevel)
	},
}

// Execute runs the root command and prints any error.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sleuth.yaml",
		"Path to the configuration file. A missing file selects the defaults.")
	// Supports per-package log levels: --log-level debug --log-level engine=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level", nil,
		"Log level for packages. Use 'level' or 'default=level' for the default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level engine=debug --log-level tools.*=warn")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(historyCmd)
}

// setupLog initializes logging. Priority: CLI flags > LOG_LEVEL_* env vars >
// log_level from the config file.
func setupLog(flags []string, configLevel string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags, configLevel)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags merges LOG_LEVEL_<PKG> environment variables with CLI
// flags, CLI winning.
//
// CLI format: ["debug"], ["default=info", "engine=debug"]
// Env vars: LOG_LEVEL_TOOLS_REGISTRY=debug (package name uppercased, dots to underscores)
func parseLogLevelFlags(flags []string, fallback string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		result[convertEnvKeyToPackageName(parts[0])] = parts[1]
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := fallback
	if defaultLevel == "" {
		defaultLevel = "info"
	}
	if level, ok := result["default"]; ok {
		defaultLevel = level
		delete(result, "default")
	}

	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}
	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_TOOLS_REGISTRY -> tools.registry
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

func validateLogLevel(level string) error {
	if _, err := logging.ParseLevel(level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
	}
	return nil
}
