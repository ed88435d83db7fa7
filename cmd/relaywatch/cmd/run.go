package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaywatch/relaywatch/engine/watcher"
	"github.com/relaywatch/relaywatch/module/component"
	"github.com/relaywatch/relaywatch/module/metrics"
	"github.com/relaywatch/relaywatch/module/power"
)

const (
	flagSubscriptions = "subscriptions"
	flagAdminAddress  = "admin-address"
	flagPowerMode     = "power-mode"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the relays of the configured subscriptions and surface matching events",
	RunE:  runEngine,
}

func init() {
	flags := runCmd.Flags()
	flags.StringP(flagSubscriptions, "s", "subscriptions.yaml", "YAML file listing the subscriptions to follow")
	flags.String(flagAdminAddress, "127.0.0.1:8089", "listen address of the admin API, empty to disable it")
	flags.String(flagPowerMode, power.Foreground.String(), "initial power mode: foreground, background or low_power")
	InitializeEngineFlags(flags, watcher.DefaultConfig())
	_ = viper.BindPFlags(flags)
}

func runEngine(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	mode, err := power.ParseMode(viper.GetString(flagPowerMode))
	if err != nil {
		return err
	}
	policy := power.NewPolicy(mode, nil)

	store, closeStore, err := openStore(log, viper.GetString(flagStore), viper.GetString(flagDataDir))
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("could not close snapshot store")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	provider := NewFileProvider(viper.GetString(flagSubscriptions))
	engine, err := watcher.New(log, EngineConfig(viper.GetViper()), store, provider, newLogSink(log), policy, collector, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if address := viper.GetString(flagAdminAddress); address != "" {
		server := NewAdminServer(NewAdminHandler(log, engine, policy, registry), address)
		go func() {
			log.Info().Str("address", address).Msg("admin API listening")
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("admin API stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	log.Info().Str("power_mode", mode.String()).Msg("starting relaywatch")
	err = component.RunComponent(ctx, func() (component.Component, error) {
		return engine, nil
	}, func(err error) component.ErrorHandlingResult {
		log.Error().Err(err).Msg("engine failed")
		return component.ErrorHandlingStop
	})
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("relaywatch stopped")
		return nil
	}
	return err
}
