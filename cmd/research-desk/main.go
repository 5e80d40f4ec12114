// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the research-desk CLI. serve runs the
// websocket service; run executes one task in the terminal; agents manages
// stored agent specialisations.
package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/httputil"
	"github.com/pdiddy/research-desk/internal/logging"
	"github.com/pdiddy/research-desk/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// logger is built in PersistentPreRunE and synced after every command.
	logger = zap.NewNop()

	// loadedSecrets holds API keys loaded from .secrets/ at startup.
	loadedSecrets map[string]string
)

// rootCmd is the base command for the research-desk CLI.
var rootCmd = &cobra.Command{
	Use:   "research-desk",
	Short: "Multi-stage research reports over a streaming socket",
	Long: `research-desk plans a research question into subtopics, researches them in
parallel with review and revision, optionally asks a human to adjust the plan,
and composes and publishes a report.

Use serve to accept tasks from websocket clients, or run to execute a single
task in the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		l, err := logging.New(verbose, !jsonLogs)
		if err != nil {
			return err
		}
		logger = l
		httputil.SetLogger(logger)

		if f := viper.ConfigFileUsed(); f != "" {
			logger.Info("using config file", zap.String("path", f))
		}

		s, err := secrets.Load(".secrets/", logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./research-desk.yaml or ~/.config/research-desk/research-desk.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("json-logs", false, "write logs as JSON instead of console text")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("research-desk")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "research-desk"))
		}
	}

	viper.SetEnvPrefix("RESEARCH_DESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	_ = viper.ReadInConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
