package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "encore",
	Short: "Encore - event correlator for monitoring alerts",
	Long: `Encore receives events from monitoring tools over HTTP and SNMP,
correlates them against an asset hierarchy, and raises tickets in the
ITSM system for actionable outages while suppressing the noise below
a down parent asset.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Encore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snmpListenerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(updatePipelinesCmd)
	rootCmd.AddCommand(updateIndexTemplateCmd)
	rootCmd.AddCommand(loadAssetMappingCmd)
	rootCmd.AddCommand(testCaseCmd)
}

// setup loads configuration and initializes the global logger. Every
// subcommand starts here.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	return cfg, nil
}
