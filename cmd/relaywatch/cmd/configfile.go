package cmd

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/module"
)

// subscriptionsFile is the layout of the subscriptions YAML file:
//
//	subscriptions:
//	  - id: follows
//	    relays: [wss://relay.example.com]
//	    filter:
//	      kinds: [1]
//	      authors: [<hex pubkey>]
//	      tags:
//	        t: [golang]
//	    keywords: [release]
//	    local:
//	      exclude_mentions_to_self: true
type subscriptionsFile struct {
	Subscriptions []subscriptionEntry `yaml:"subscriptions"`
}

type subscriptionEntry struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Enabled  *bool       `yaml:"enabled"`
	Relays   []string    `yaml:"relays"`
	Filter   filterEntry `yaml:"filter"`
	Keywords []string    `yaml:"keywords"`
	Local    localEntry  `yaml:"local"`
}

type filterEntry struct {
	IDs     []string            `yaml:"ids"`
	Authors []string            `yaml:"authors"`
	Kinds   []int               `yaml:"kinds"`
	Tags    map[string][]string `yaml:"tags"`
	Since   *int64              `yaml:"since"`
	Until   *int64              `yaml:"until"`
	Limit   int                 `yaml:"limit"`
}

type localEntry struct {
	ExcludeMentionsToSelf  bool `yaml:"exclude_mentions_to_self"`
	ExcludeRepliesToEvents bool `yaml:"exclude_replies_to_events"`
}

func (e subscriptionEntry) config() nostr.SubscriptionConfig {
	filter := nostr.Filter{
		IDs:     e.Filter.IDs,
		Authors: e.Filter.Authors,
		Kinds:   e.Filter.Kinds,
		Since:   e.Filter.Since,
		Until:   e.Filter.Until,
		Limit:   e.Filter.Limit,
	}
	names := make([]string, 0, len(e.Filter.Tags))
	for name := range e.Filter.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		filter.Tags = filter.Tags.Set(name, e.Filter.Tags[name])
	}

	return nostr.SubscriptionConfig{
		ID:       e.ID,
		Name:     e.Name,
		Relays:   e.Relays,
		Filter:   filter,
		Local:    nostr.LocalFilters(e.Local),
		Keywords: e.Keywords,
		// enabled unless stated otherwise
		Enabled: e.Enabled == nil || *e.Enabled,
	}
}

// ParseSubscriptions decodes a subscriptions file. Unknown fields are rejected so that typos do
// not silently widen a subscription.
func ParseSubscriptions(data []byte) ([]nostr.SubscriptionConfig, error) {
	var file subscriptionsFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("could not decode subscriptions: %w", err)
	}
	configs := make([]nostr.SubscriptionConfig, 0, len(file.Subscriptions))
	for _, entry := range file.Subscriptions {
		configs = append(configs, entry.config())
	}
	return configs, nil
}

// FileProvider is a ConfigProvider reading a subscriptions YAML file. The file is read on every
// call, so edits are picked up by the next reload.
type FileProvider struct {
	path string
}

var _ module.ConfigProvider = (*FileProvider)(nil)

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) EnabledConfigs() ([]nostr.SubscriptionConfig, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("could not read subscriptions file: %w", err)
	}
	configs, err := ParseSubscriptions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.path, err)
	}
	enabled := configs[:0]
	for _, config := range configs {
		if config.Enabled {
			enabled = append(enabled, config)
		}
	}
	return enabled, nil
}
