package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
	flagDataDir   = "data-dir"
	flagStore     = "store"
)

const (
	storeBadger = "badger"
	storePebble = "pebble"
	storeMemory = "memory"
)

var rootCmd = &cobra.Command{
	Use:           "relaywatch",
	Short:         "Follow subscriptions across nostr relays and surface matching events",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(flagLogLevel, "info", "log level: trace, debug, info, warn or error")
	flags.String(flagLogFormat, "json", "log format: json or console")
	flags.StringP(flagDataDir, "d", "relaywatch-data", "directory of the snapshot store")
	flags.String(flagStore, storeBadger, "snapshot store: badger, pebble or memory")
	_ = viper.BindPFlags(flags)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)

	cobra.OnInitialize(initConfig)
}

// initConfig makes every flag overridable by a RELAYWATCH_ prefixed environment variable,
// e.g. RELAYWATCH_LOG_LEVEL.
func initConfig() {
	viper.SetEnvPrefix("relaywatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(viper.GetString(flagLogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}

	var w io.Writer
	switch format := viper.GetString(flagLogFormat); format {
	case "json":
		w = os.Stderr
	case "console":
		w = zerolog.NewConsoleWriter()
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
