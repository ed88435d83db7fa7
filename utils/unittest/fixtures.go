package unittest

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relaywatch/relaywatch/model/nostr"
)

var fixtureCounter atomic.Uint64

// RandomHex returns n random lowercase hex characters. n must be even.
func RandomHex(n int) string {
	buf := make([]byte, n/2)
	_, err := crand.Read(buf)
	if err != nil {
		panic(fmt.Sprintf("could not read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}

// PubKeyFixture returns a random, structurally valid public key.
func PubKeyFixture() string {
	return RandomHex(64)
}

// EventFixture returns a structurally valid event created now, with random id, author and
// signature, which the given options may override.
func EventFixture(opts ...func(*nostr.Event)) nostr.Event {
	ev := nostr.Event{
		ID:        RandomHex(64),
		PubKey:    PubKeyFixture(),
		CreatedAt: time.Now().Unix(),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   "hello relays",
		Sig:       RandomHex(128),
	}
	for _, apply := range opts {
		apply(&ev)
	}
	return ev
}

func WithAuthor(pubKey string) func(*nostr.Event) {
	return func(ev *nostr.Event) {
		ev.PubKey = pubKey
	}
}

func WithContent(content string) func(*nostr.Event) {
	return func(ev *nostr.Event) {
		ev.Content = content
	}
}

func WithKind(kind int) func(*nostr.Event) {
	return func(ev *nostr.Event) {
		ev.Kind = kind
	}
}

func WithCreatedAt(createdAt int64) func(*nostr.Event) {
	return func(ev *nostr.Event) {
		ev.CreatedAt = createdAt
	}
}

func WithTags(tags ...nostr.Tag) func(*nostr.Event) {
	return func(ev *nostr.Event) {
		ev.Tags = append(ev.Tags, tags...)
	}
}

// ConfigFixture returns an enabled subscription config on the given relays, following kind 1
// events. The config id is unique per call.
func ConfigFixture(relays []string, opts ...func(*nostr.SubscriptionConfig)) nostr.SubscriptionConfig {
	n := fixtureCounter.Add(1)
	cfg := nostr.SubscriptionConfig{
		ID:      fmt.Sprintf("config-%d-%s", n, RandomHex(8)),
		Name:    fmt.Sprintf("fixture %d", n),
		Relays:  relays,
		Filter:  nostr.Filter{Kinds: []int{1}},
		Enabled: true,
	}
	for _, apply := range opts {
		apply(&cfg)
	}
	return cfg
}

func WithAuthors(authors ...string) func(*nostr.SubscriptionConfig) {
	return func(cfg *nostr.SubscriptionConfig) {
		cfg.Filter.Authors = authors
	}
}

func WithKeywords(keywords ...string) func(*nostr.SubscriptionConfig) {
	return func(cfg *nostr.SubscriptionConfig) {
		cfg.Keywords = keywords
	}
}

func WithLocalFilters(local nostr.LocalFilters) func(*nostr.SubscriptionConfig) {
	return func(cfg *nostr.SubscriptionConfig) {
		cfg.Local = local
	}
}

func WithEnabled(enabled bool) func(*nostr.SubscriptionConfig) {
	return func(cfg *nostr.SubscriptionConfig) {
		cfg.Enabled = enabled
	}
}
