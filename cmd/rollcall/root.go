package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/logging"
)

var (
	cfg        *config.Config
	configFile string
	envFile    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Classroom attendance by face recognition",
	Long: `rollcall enrolls students from a camera, trains an LBPH face model and
marks students present when the camera recognizes them. Attendance is kept
per day in PostgreSQL, MariaDB or memory and served as a web page, JSON and
an Excel export.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file with ROLLCALL_* overrides")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load %s: %v\n", envFile, err)
	}

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return newUsageError(fmt.Errorf("load config %s: %w", configFile, err))
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return newUsageError(err)
	}
	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return newUsageError(err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Init(logging.Options{Level: level, File: cfg.Logging.File, Format: cfg.Logging.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logging.Debugf("rollcall v%s starting (%s)", version, cmd.CommandPath())
	logging.Debugf("Config loaded, storage dir: %s", cfg.Storage.DataDir)
	return nil
}
