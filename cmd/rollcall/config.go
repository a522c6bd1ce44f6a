package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/web"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after defaults, the config file and
ROLLCALL_* environment overrides. With --save the configuration is written
to a file instead, which is a convenient way to start a config file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	// version needs no config
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rollcall v%s\n", version)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for web.admin_password_hash",
	Long: `Print a bcrypt hash for web.admin_password_hash. Without an argument the
password is read from the first line of standard input, which keeps it out
of the shell history:

  echo -n 'secret' | rollcall config hash-password`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashPassword,
}

func init() {
	rootCmd.AddCommand(configCmd, versionCmd)
	configCmd.AddCommand(hashPasswordCmd)
	configCmd.Flags().String("save", "", "Write the configuration to this file")
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return newUsageError(errors.New("empty password"))
	}

	hash, err := web.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	if path := mustGetString(cmd, "save"); path != "" {
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	}

	shown := *cfg
	if shown.Database.URL != "" {
		shown.Database.URL = redact(shown.Database.URL)
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	fmt.Printf("# rollcall configuration (env overrides: %s, %s, %s, %s, %s, %s)\n",
		config.EnvDatabaseURL, config.EnvDatabaseDriver, config.EnvCameraDevice,
		config.EnvWebAddr, config.EnvLogLevel, config.EnvThreshold)
	fmt.Print(string(data))
	return nil
}

// redact hides the password of a URL or DSN style connection string.
func redact(conn string) string {
	at := strings.LastIndex(conn, "@")
	if at < 0 {
		return conn
	}
	start := 0
	if i := strings.Index(conn[:at], "://"); i >= 0 {
		start = i + 3
	}
	colon := strings.Index(conn[start:at], ":")
	if colon < 0 {
		return conn
	}
	return conn[:start+colon] + ":****" + conn[at:]
}
