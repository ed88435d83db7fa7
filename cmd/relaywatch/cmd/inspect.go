package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaywatch/relaywatch/engine/watcher"
	"github.com/relaywatch/relaywatch/module/cancellation"
	"github.com/relaywatch/relaywatch/module/eventcache"
	"github.com/relaywatch/relaywatch/module/metrics"
	"github.com/relaywatch/relaywatch/module/subscriptions"
	"github.com/relaywatch/relaywatch/storage"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a summary of the persisted snapshots",
	RunE:  inspectSnapshots,
}

func init() {
	defaults := watcher.DefaultPersisterConfig()
	flags := inspectCmd.Flags()
	flags.String(snapshotCodec, defaults.Codec, "snapshot encoding: cbor or msgpack")
	flags.String(snapshotCompression, defaults.Compression, "snapshot compression: snappy, gzip or none")
}

// SnapshotSummary describes the persisted snapshots.
type SnapshotSummary struct {
	// Cursors maps "<config id> <relay url>" to the persisted cursor.
	Cursors                map[string]int64 `json:"cursors"`
	CachedEvents           int              `json:"cached_events"`
	CancelledSubscriptions int              `json:"cancelled_subscriptions"`
}

func inspectSnapshots(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(log, viper.GetString(flagStore), viper.GetString(flagDataDir))
	if err != nil {
		return err
	}
	defer func() {
		_ = closeStore()
	}()

	config := watcher.DefaultConfig()
	config.Persister.Codec, _ = cmd.Flags().GetString(snapshotCodec)
	config.Persister.Compression, _ = cmd.Flags().GetString(snapshotCompression)
	summary, err := Summarize(log, store, config)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// Summarize restores the persisted snapshots into empty structures and describes them.
func Summarize(log zerolog.Logger, store storage.KeyValueStore, config watcher.Config) (SnapshotSummary, error) {
	noop := metrics.NewNoopCollector()

	ledger := subscriptions.NewLedger(log, config.Subscriptions, nil, noop)
	cache, err := eventcache.New(config.EventCacheCapacity, noop)
	if err != nil {
		return SnapshotSummary{}, err
	}
	tracker, err := cancellation.New(log, config.Cancellation, noop)
	if err != nil {
		return SnapshotSummary{}, err
	}

	persister, err := watcher.NewPersister(log, config.Persister, store, noop)
	if err != nil {
		return SnapshotSummary{}, err
	}
	persister.Track(storage.KeyCursors, ledger)
	persister.Track(storage.KeyEventCache, cache)
	persister.Track(storage.KeyCancelledSubscriptions, tracker)
	if err := persister.Restore(); err != nil {
		return SnapshotSummary{}, fmt.Errorf("could not read snapshots: %w", err)
	}

	cursors := make(map[string]int64)
	for key, cursor := range ledger.RestoredCursors() {
		cursors[key.ConfigID+" "+key.Relay] = cursor
	}
	return SnapshotSummary{
		Cursors:                cursors,
		CachedEvents:           cache.Len(),
		CancelledSubscriptions: tracker.Len(),
	}, nil
}
