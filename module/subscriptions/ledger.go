package subscriptions

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/module"
	"github.com/relaywatch/relaywatch/module/util"
	"github.com/relaywatch/relaywatch/network/relay"
	"github.com/relaywatch/relaywatch/storage/codec"
)

type Config struct {
	// SafetyWindow bounds how far back a new subscription asks for history: the first REQ uses
	// since = max(persisted cursor, now - SafetyWindow).
	SafetyWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		SafetyWindow: 10 * time.Minute,
	}
}

// Sender writes frames to relays.
type Sender interface {
	Send(ctx context.Context, relay string, frame []byte) error
}

type subscription struct {
	Subscription
	// filter is the encoded protocol filter the subscription was requested with
	filter []byte
}

// Ledger holds exactly one subscription per (config, relay) pair of the enabled configs, with
// the forward-only cursor of each. All methods are safe for concurrent use; frames are written
// without holding the ledger's lock.
type Ledger struct {
	log     zerolog.Logger
	config  Config
	sender  Sender
	metrics module.SubscriptionMetrics
	now     func() time.Time

	mu      sync.Mutex
	configs map[string]nostr.SubscriptionConfig // enabled configs by id
	bySubID map[string]string                   // subscription id -> config id
	subs    map[Key]*subscription
	// cursors restored from a snapshot, for subscriptions that do not exist yet
	restored map[Key]int64
	version  util.VersionTracker
}

var _ module.Snapshotter = (*Ledger)(nil)

func NewLedger(log zerolog.Logger, config Config, sender Sender, collector module.SubscriptionMetrics) *Ledger {
	return &Ledger{
		log:      log.With().Str("component", "subscription_ledger").Logger(),
		config:   config,
		sender:   sender,
		metrics:  collector,
		now:      time.Now,
		configs:  make(map[string]nostr.SubscriptionConfig),
		bySubID:  make(map[string]string),
		subs:     make(map[Key]*subscription),
		restored: make(map[Key]int64),
		version:  util.NewVersionTracker(),
	}
}

// EnsureSubscription returns the subscription of the config on the relay, creating and
// requesting it if it does not exist. A new subscription starts at the later of its persisted
// cursor and now minus the safety window.
//
// A REQ that cannot be written because the relay is not connected is not an error: the
// subscription stays pending and is requested once the relay connects.
func (l *Ledger) EnsureSubscription(ctx context.Context, config nostr.SubscriptionConfig, relayURL string) (Subscription, error) {
	filter, err := config.Filter.MarshalJSON()
	if err != nil {
		return Subscription{}, fmt.Errorf("could not encode filter of config %s: %w", config.ID, err)
	}

	key := Key{ConfigID: config.ID, Relay: relayURL}
	l.mu.Lock()
	l.configs[config.ID] = config
	l.bySubID[config.SubscriptionID()] = config.ID
	if sub, ok := l.subs[key]; ok {
		l.mu.Unlock()
		return sub.Subscription, nil
	}

	cursor := l.now().Add(-l.config.SafetyWindow).Unix()
	if persisted, ok := l.restored[key]; ok {
		if persisted > cursor {
			cursor = persisted
		}
		delete(l.restored, key)
	}
	sub := &subscription{
		Subscription: Subscription{
			ConfigID:       config.ID,
			Relay:          relayURL,
			SubscriptionID: config.SubscriptionID(),
			Cursor:         cursor,
			State:          Pending,
		},
		filter: filter,
	}
	l.subs[key] = sub
	l.version.Bump()
	active := len(l.subs)
	l.mu.Unlock()

	l.metrics.ActiveSubscriptions(active)
	l.log.Debug().
		Str("config_id", config.ID).
		Str("relay", relayURL).
		Int64("since", cursor).
		Msg("subscription created")

	if err := l.request(ctx, key); err != nil {
		return Subscription{}, err
	}
	return l.get(key)
}

func (l *Ledger) get(key Key) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[key]
	if !ok {
		return Subscription{}, fmt.Errorf("subscription of config %s on %s was closed concurrently", key.ConfigID, key.Relay)
	}
	return sub.Subscription, nil
}

// request writes the REQ of the subscription, asking for events since its cursor. Transport
// failures leave the subscription pending and are not returned.
func (l *Ledger) request(ctx context.Context, key Key) error {
	l.mu.Lock()
	sub, ok := l.subs[key]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	config := l.configs[key.ConfigID]
	subID := sub.SubscriptionID
	since := sub.Cursor
	// set before writing, the EOSE may arrive before Send returns
	sub.State = Requested
	sub.RequestedAt = l.now()
	sub.ClosedReason = ""
	l.mu.Unlock()

	frame, err := nostr.EncodeReq(subID, config.Filter.WithSince(since))
	if err != nil {
		l.setState(key, Requested, Pending)
		return fmt.Errorf("could not encode REQ for config %s: %w", key.ConfigID, err)
	}

	err = l.sender.Send(ctx, key.Relay, frame)
	if err != nil {
		l.setState(key, Requested, Pending)
		if relay.IsTransportError(err) {
			l.log.Debug().Err(err).
				Str("config_id", key.ConfigID).
				Str("relay", key.Relay).
				Msg("subscription request deferred until the relay connects")
			return nil
		}
		return fmt.Errorf("could not request subscription of config %s on %s: %w", key.ConfigID, key.Relay, err)
	}

	l.log.Debug().
		Str("config_id", key.ConfigID).
		Str("relay", key.Relay).
		Str("subscription_id", subID).
		Int64("since", since).
		Msg("subscription requested")
	return nil
}

// setState moves the subscription to state if it is in state from.
func (l *Ledger) setState(key Key, from State, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.subs[key]; ok && sub.State == from {
		sub.State = to
	}
}

// AdvanceCursor moves the cursor of the subscription forward to the event's created_at. The
// cursor never moves back, and never past the current time: an event dated in the future must
// not make the next REQ skip events created before it. It returns whether the cursor moved.
func (l *Ledger) AdvanceCursor(configID string, relayURL string, createdAt int64) bool {
	if now := l.now().Unix(); createdAt > now {
		createdAt = now
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[Key{ConfigID: configID, Relay: relayURL}]
	if !ok || createdAt <= sub.Cursor {
		return false
	}
	sub.Cursor = createdAt
	l.version.Bump()
	return true
}

// CloseSubscription sends CLOSE for the subscription and forgets it, cursor included. Closing a
// subscription that does not exist is a no-op.
func (l *Ledger) CloseSubscription(ctx context.Context, configID string, relayURL string) error {
	key := Key{ConfigID: configID, Relay: relayURL}
	l.mu.Lock()
	sub, ok := l.subs[key]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	delete(l.subs, key)
	l.version.Bump()
	active := len(l.subs)
	l.mu.Unlock()

	l.metrics.ActiveSubscriptions(active)

	frame, err := nostr.EncodeClose(sub.SubscriptionID)
	if err != nil {
		return err
	}
	err = l.sender.Send(ctx, relayURL, frame)
	if err != nil && !relay.IsTransportError(err) {
		return fmt.Errorf("could not close subscription of config %s on %s: %w", configID, relayURL, err)
	}
	// a relay that is not connected holds no subscription
	l.log.Debug().
		Str("config_id", configID).
		Str("relay", relayURL).
		Bool("sent", err == nil).
		Msg("subscription closed")
	return nil
}

// Resync reconciles the ledger with the full set of configs: subscriptions are opened for every
// relay of every enabled config, and closed for configs that were removed or disabled and for
// relays a config no longer lists. A config whose protocol filter changed is requested again
// under the same subscription id, which replaces it on the relay.
//
// It returns the relays the enabled configs reference, sorted.
func (l *Ledger) Resync(ctx context.Context, configs []nostr.SubscriptionConfig) ([]string, error) {
	desired := make(map[Key]nostr.SubscriptionConfig)
	relaySet := make(map[string]struct{})
	enabled := make(map[string]nostr.SubscriptionConfig)
	for _, config := range configs {
		if !config.Enabled {
			continue
		}
		enabled[config.ID] = config
		for _, relayURL := range config.NormalizedRelays() {
			desired[Key{ConfigID: config.ID, Relay: relayURL}] = config
			relaySet[relayURL] = struct{}{}
		}
	}

	var obsolete []Key
	var changed []Key
	l.mu.Lock()
	for key, sub := range l.subs {
		config, ok := desired[key]
		if !ok {
			obsolete = append(obsolete, key)
			continue
		}
		filter, err := config.Filter.MarshalJSON()
		if err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("could not encode filter of config %s: %w", config.ID, err)
		}
		if !bytes.Equal(filter, sub.filter) {
			sub.filter = filter
			changed = append(changed, key)
		}
	}
	for id, config := range l.configs {
		if _, ok := enabled[id]; !ok {
			delete(l.bySubID, config.SubscriptionID())
			delete(l.configs, id)
		}
	}
	for id, config := range enabled {
		l.configs[id] = config
		l.bySubID[config.SubscriptionID()] = id
	}
	for key := range l.restored {
		if _, ok := desired[key]; !ok {
			delete(l.restored, key)
		}
	}
	l.mu.Unlock()

	for _, key := range obsolete {
		if err := l.CloseSubscription(ctx, key.ConfigID, key.Relay); err != nil {
			return nil, err
		}
	}
	for _, key := range changed {
		l.log.Info().Str("config_id", key.ConfigID).Str("relay", key.Relay).Msg("filter changed, requesting again")
		if err := l.request(ctx, key); err != nil {
			return nil, err
		}
	}
	for _, key := range sortedKeys(desired) {
		if _, err := l.EnsureSubscription(ctx, desired[key], key.Relay); err != nil {
			return nil, err
		}
	}

	relays := make([]string, 0, len(relaySet))
	for relayURL := range relaySet {
		relays = append(relays, relayURL)
	}
	sort.Strings(relays)
	return relays, nil
}

func sortedKeys(m map[Key]nostr.SubscriptionConfig) []Key {
	keys := make([]Key, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ConfigID != keys[j].ConfigID {
			return keys[i].ConfigID < keys[j].ConfigID
		}
		return keys[i].Relay < keys[j].Relay
	})
	return keys
}

// Lookup resolves an inbound subscription id on a relay to the config it was opened for.
func (l *Ledger) Lookup(relayURL string, subscriptionID string) (nostr.SubscriptionConfig, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	configID, ok := l.bySubID[subscriptionID]
	if !ok {
		return nostr.SubscriptionConfig{}, false
	}
	if _, ok := l.subs[Key{ConfigID: configID, Relay: relayURL}]; !ok {
		return nostr.SubscriptionConfig{}, false
	}
	return l.configs[configID], true
}

// MarkLive records the end of the stored backlog for the subscription. It returns whether the
// subscription transitioned to live.
func (l *Ledger) MarkLive(relayURL string, subscriptionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.lookupLocked(relayURL, subscriptionID)
	if !ok || (sub.State != Requested && sub.State != Pending) {
		return false
	}
	sub.State = Live
	sub.LiveAt = l.now()
	return true
}

// MarkClosedByRelay records that the relay ended the subscription. It stays closed until the
// relay reconnects. It returns whether the subscription is known.
func (l *Ledger) MarkClosedByRelay(relayURL string, subscriptionID string, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.lookupLocked(relayURL, subscriptionID)
	if !ok {
		return false
	}
	sub.State = ClosedByRelay
	sub.ClosedReason = reason
	return true
}

func (l *Ledger) lookupLocked(relayURL string, subscriptionID string) (*subscription, bool) {
	configID, ok := l.bySubID[subscriptionID]
	if !ok {
		return nil, false
	}
	sub, ok := l.subs[Key{ConfigID: configID, Relay: relayURL}]
	return sub, ok
}

// RequestPending requests every pending subscription on the relay and returns how many it
// attempted.
func (l *Ledger) RequestPending(ctx context.Context, relayURL string) int {
	return l.requestWhere(ctx, relayURL, func(sub *subscription) bool {
		return sub.State == Pending
	})
}

// Resubscribe requests every subscription on the relay again, with the same subscription ids
// and each cursor as since. It is called when a connection to the relay was established.
func (l *Ledger) Resubscribe(ctx context.Context, relayURL string) int {
	return l.requestWhere(ctx, relayURL, func(*subscription) bool {
		return true
	})
}

func (l *Ledger) requestWhere(ctx context.Context, relayURL string, include func(*subscription) bool) int {
	var keys []Key
	l.mu.Lock()
	for key, sub := range l.subs {
		if key.Relay == relayURL && include(sub) {
			sub.State = Pending
			keys = append(keys, key)
		}
	}
	l.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].ConfigID < keys[j].ConfigID })
	for _, key := range keys {
		if err := l.request(ctx, key); err != nil {
			l.log.Error().Err(err).Str("config_id", key.ConfigID).Str("relay", relayURL).Msg("could not request subscription")
		}
	}
	return len(keys)
}

// Get returns the subscription of the config on the relay.
func (l *Ledger) Get(configID string, relayURL string) (Subscription, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[Key{ConfigID: configID, Relay: relayURL}]
	if !ok {
		return Subscription{}, false
	}
	return sub.Subscription, true
}

// Subscriptions returns every subscription, ordered by relay and config id.
func (l *Ledger) Subscriptions() []Subscription {
	l.mu.Lock()
	subs := make([]Subscription, 0, len(l.subs))
	for _, sub := range l.subs {
		subs = append(subs, sub.Subscription)
	}
	l.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Relay != subs[j].Relay {
			return subs[i].Relay < subs[j].Relay
		}
		return subs[i].ConfigID < subs[j].ConfigID
	})
	return subs
}

// ActiveCount returns the number of subscriptions held.
func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *Ledger) Dirty() bool {
	return l.version.Dirty()
}

func (l *Ledger) MarkPersisted(version uint64) {
	l.version.MarkPersisted(version)
}

type cursorRecord struct {
	ConfigID string `cbor:"config" msgpack:"config"`
	Relay    string `cbor:"relay" msgpack:"relay"`
	Cursor   int64  `cbor:"cursor" msgpack:"cursor"`
}

type snapshot struct {
	Cursors []cursorRecord `cbor:"cursors" msgpack:"cursors"`
}

// EncodeSnapshot encodes the cursor of every subscription, and the restored cursors not claimed
// by a subscription yet.
func (l *Ledger) EncodeSnapshot(enc codec.Codec) ([]byte, uint64, error) {
	l.mu.Lock()
	version := l.version.Current()
	cursors := make(map[Key]int64, len(l.subs)+len(l.restored))
	for key, cursor := range l.restored {
		cursors[key] = cursor
	}
	for key, sub := range l.subs {
		cursors[key] = sub.Cursor
	}
	l.mu.Unlock()

	snap := snapshot{Cursors: make([]cursorRecord, 0, len(cursors))}
	for key, cursor := range cursors {
		snap.Cursors = append(snap.Cursors, cursorRecord{ConfigID: key.ConfigID, Relay: key.Relay, Cursor: cursor})
	}
	sort.Slice(snap.Cursors, func(i, j int) bool {
		a, b := snap.Cursors[i], snap.Cursors[j]
		if a.ConfigID != b.ConfigID {
			return a.ConfigID < b.ConfigID
		}
		return a.Relay < b.Relay
	})

	data, err := enc.Marshal(snap)
	if err != nil {
		return nil, 0, fmt.Errorf("could not encode cursor snapshot: %w", err)
	}
	return data, version, nil
}

// RestoreSnapshot merges persisted cursors. Cursors only move forward: a restored cursor older
// than the one held is ignored.
func (l *Ledger) RestoreSnapshot(enc codec.Codec, data []byte) error {
	var snap snapshot
	if err := enc.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("could not decode cursor snapshot: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range snap.Cursors {
		key := Key{ConfigID: record.ConfigID, Relay: record.Relay}
		if sub, ok := l.subs[key]; ok {
			if record.Cursor > sub.Cursor {
				sub.Cursor = record.Cursor
			}
			continue
		}
		if record.Cursor > l.restored[key] {
			l.restored[key] = record.Cursor
		}
	}
	return nil
}

// RestoredCursors returns the restored cursors not claimed by a subscription yet.
func (l *Ledger) RestoredCursors() map[Key]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	cursors := make(map[Key]int64, len(l.restored))
	for key, cursor := range l.restored {
		cursors[key] = cursor
	}
	return cursors
}
