package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/engine/watcher"
)

func newEngineFlags(t *testing.T, args ...string) *viper.Viper {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	InitializeEngineFlags(flags, watcher.DefaultConfig())
	require.NoError(t, flags.Parse(args))

	v := viper.New()
	v.SetEnvPrefix("relaywatch")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	require.NoError(t, v.BindPFlags(flags))
	return v
}

func TestAllFlagsAreRegistered(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	InitializeEngineFlags(flags, watcher.DefaultConfig())
	for _, name := range AllFlagNames() {
		assert.NotNil(t, flags.Lookup(name), "flag %s is not registered", name)
	}
}

func TestEngineConfig_Defaults(t *testing.T) {
	v := newEngineFlags(t)
	assert.Equal(t, watcher.DefaultConfig(), EngineConfig(v))
}

func TestEngineConfig_Overrides(t *testing.T) {
	t.Setenv("RELAYWATCH_ROUTER_WORKERS", "8")
	v := newEngineFlags(t, "--relay-backoff-cap=1m", "--snapshot-codec=msgpack", "--snapshot-breaker-failures=0")

	config := EngineConfig(v)
	assert.Equal(t, time.Minute, config.Relay.BackoffCap)
	assert.Equal(t, "msgpack", config.Persister.Codec)
	assert.Equal(t, uint32(0), config.Persister.BreakerFailures)
	assert.Equal(t, 8, config.Router.Workers)
}
