package watcher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/component"
	"github.com/relaywatch/relaywatch/module/irrecoverable"
	"github.com/relaywatch/relaywatch/module/util"
	"github.com/relaywatch/relaywatch/storage"
	"github.com/relaywatch/relaywatch/storage/codec"
	"github.com/relaywatch/relaywatch/storage/compressor"
)

type snapshotEntry struct {
	key         string
	snapshotter module.Snapshotter
}

// Persister writes the snapshots of the engine's in-memory structures to the key-value store.
// Snapshots are encoded with the configured codec, then compressed. Writes go through
// a circuit breaker, so a failing store is not hammered on every flush; a write that fails or is
// rejected leaves the structure dirty and is retried on the next flush.
//
// Persistence failures never stop the engine.
type Persister struct {
	*component.ComponentManager
	log     zerolog.Logger
	config  PersisterConfig
	store   storage.KeyValueStore
	codec   codec.Codec
	comp    compressor.Compressor
	breaker *gobreaker.CircuitBreaker
	metrics module.PersistenceMetrics
	entries []snapshotEntry

	// flushMu serializes flushes, so versions are acknowledged in order
	flushMu sync.Mutex
	// the final flush waits for these components to shut down
	flushAfter []module.ReadyDoneAware
}

var _ component.Component = (*Persister)(nil)

func NewPersister(
	log zerolog.Logger,
	config PersisterConfig,
	store storage.KeyValueStore,
	collector module.PersistenceMetrics,
) (*Persister, error) {
	enc, err := codec.ByName(config.Codec)
	if err != nil {
		return nil, err
	}
	comp, err := compressor.ByName(config.Compression)
	if err != nil {
		return nil, err
	}
	if config.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %v", config.FlushInterval)
	}

	p := &Persister{
		log: log.With().
			Str("component", "persister").
			Str("codec", enc.Name()).
			Str("compression", comp.Name()).
			Logger(),
		config:  config,
		store:   store,
		codec:   enc,
		comp:    comp,
		metrics: collector,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "snapshot-store",
		MaxRequests: 1,
		Timeout:     config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.BreakerFailures > 0 && counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("snapshot store circuit breaker changed state")
		},
	})
	p.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(p.flushLoop).
		Build()
	return p, nil
}

// Track registers a structure under key. Structures must be tracked before Restore and Start.
func (p *Persister) Track(key string, snapshotter module.Snapshotter) {
	p.entries = append(p.entries, snapshotEntry{key: key, snapshotter: snapshotter})
}

// FlushAfter makes the final flush wait until the given components are done, so that the last
// snapshot includes everything they processed.
func (p *Persister) FlushAfter(components ...module.ReadyDoneAware) {
	p.flushAfter = append(p.flushAfter, components...)
}

// Restore merges every stored snapshot into its structure, in tracking order. Missing keys are
// skipped. A snapshot that cannot be read is skipped too, leaving its structure empty; the
// returned error aggregates those failures.
func (p *Persister) Restore() error {
	var errs *multierror.Error
	for _, entry := range p.entries {
		err := p.restore(entry)
		if errors.Is(err, storage.ErrNotFound) {
			p.log.Debug().Str("key", entry.key).Msg("no snapshot stored")
			continue
		}
		if err != nil {
			p.log.Error().Err(err).Str("key", entry.key).Msg("could not restore snapshot, starting empty")
			errs = multierror.Append(errs, err)
			continue
		}
		p.log.Info().Str("key", entry.key).Msg("snapshot restored")
	}
	return errs.ErrorOrNil()
}

func (p *Persister) restore(entry snapshotEntry) error {
	compressed, err := p.store.Get(entry.key)
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil {
		return storage.NewPersistenceError("read", entry.key, err)
	}
	data, err := p.comp.Decompress(compressed)
	if err != nil {
		return storage.NewPersistenceError("decompress", entry.key, err)
	}
	err = entry.snapshotter.RestoreSnapshot(p.codec, data)
	if err != nil {
		return storage.NewPersistenceError("decode", entry.key, err)
	}
	return nil
}

// Flush writes every snapshot that changed since it was last persisted. It returns the failures
// of all keys; keys that failed stay dirty.
func (p *Persister) Flush() error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	var errs *multierror.Error
	for _, entry := range p.entries {
		if !entry.snapshotter.Dirty() {
			continue
		}
		err := p.flush(entry)
		if err != nil {
			p.metrics.SnapshotFailed(entry.key)
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (p *Persister) flush(entry snapshotEntry) error {
	start := time.Now()
	data, version, err := entry.snapshotter.EncodeSnapshot(p.codec)
	if err != nil {
		return storage.NewPersistenceError("encode", entry.key, err)
	}
	compressed, err := p.comp.Compress(data)
	if err != nil {
		return storage.NewPersistenceError("compress", entry.key, err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.store.Put(entry.key, compressed)
	})
	if err != nil {
		return storage.NewPersistenceError("store", entry.key, err)
	}

	entry.snapshotter.MarkPersisted(version)
	p.metrics.SnapshotPersisted(entry.key, len(compressed), time.Since(start))
	return nil
}

func (p *Persister) flushAndLog() {
	err := p.Flush()
	if err != nil {
		p.log.Warn().Err(err).Msg("could not persist snapshots, will retry")
	}
}

func (p *Persister) flushLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-util.AllDone(p.flushAfter...)
			p.flushAndLog()
			return
		case <-ticker.C:
			p.flushAndLog()
		}
	}
}
