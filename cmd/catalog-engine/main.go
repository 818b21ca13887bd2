// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the catalog-engine CLI. The CLI drives
// the result layer against a live catalog: ad-hoc searches, workspaces and
// their aggregates, refresh propagation, clustering, alerts, and the
// blacklist.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/catalog-engine/internal/logging"
	"github.com/pdiddy/catalog-engine/internal/secrets"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// engineCfg is the merged configuration: defaults, then config file and
	// environment, then flags.
	engineCfg = types.DefaultEngineConfig()

	// creds holds catalog credentials loaded from .secrets/ at startup.
	creds secrets.Credentials

	logger = zap.NewNop()
)

// rootCmd is the base command for the catalog-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "catalog-engine",
	Short: "Federated catalog search with workspace aggregation",
	Long: `catalog-engine searches a federated catalog across its sources, merges the
per-source responses into de-duplicated result sets, and groups queries into
workspaces whose aggregate drives list and map views.

Credentials are read from .secrets/catalog-username and
.secrets/catalog-password. Configuration is read from ./catalog-engine.yaml
or ~/.config/catalog-engine/catalog-engine.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		log, err := logging.New(engineCfg.Log)
		if err != nil {
			return err
		}
		logger = log

		s, err := secrets.Load(".secrets/", logger)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		creds = secrets.CatalogCredentials(s)
		if engineCfg.Catalog.Username != "" {
			creds = secrets.Credentials{Username: engineCfg.Catalog.Username, Password: engineCfg.Catalog.Password}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./catalog-engine.yaml or ~/.config/catalog-engine/catalog-engine.yaml)")
	pf.String("endpoint", "", "catalog base URL (overrides catalog.endpoint)")
	pf.String("store-dir", "", "directory for the local database (overrides store.dir)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Bool("dev", false, "human-readable development logging")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("catalog-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "catalog-engine"))
		}
	}

	viper.SetEnvPrefix("CATALOG_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig decodes viper's settings over the defaults through the yaml
// tags on types.EngineConfig, then applies flag overrides.
func loadConfig(cmd *cobra.Command) error {
	engineCfg = types.DefaultEngineConfig()
	if settings := viper.AllSettings(); len(settings) > 0 {
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := yaml.Unmarshal(data, &engineCfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	if v, _ := cmd.Flags().GetString("endpoint"); v != "" {
		engineCfg.Catalog.Endpoint = v
	}
	if v, _ := cmd.Flags().GetString("store-dir"); v != "" {
		engineCfg.Store.Dir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		engineCfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetBool("dev"); v {
		engineCfg.Log.Development = true
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
