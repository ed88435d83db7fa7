package nostr

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeebo/blake3"
)

// LocalFilters are client-side checks applied after the protocol filter.
type LocalFilters struct {
	// ExcludeMentionsToSelf drops events whose "p" tags mention one of the filtered authors.
	ExcludeMentionsToSelf bool
	// ExcludeRepliesToEvents drops events that are replies ("e" tag with a reply/root marker)
	// authored by, or referencing, one of the filtered authors.
	ExcludeRepliesToEvents bool
}

// SubscriptionConfig describes one logical subscription, opened on every relay in Relays.
// Configs are owned by an external configuration collaborator; the engine only reads them.
type SubscriptionConfig struct {
	ID       string
	Name     string
	Relays   []string
	Filter   Filter
	Local    LocalFilters
	Keywords []string
	Enabled  bool
}

// SubscriptionID returns the deterministic subscription id used on the wire for this config.
func (c SubscriptionConfig) SubscriptionID() string {
	return SubscriptionIDFor(c.ID)
}

// Validate checks the config for structural problems that make it unusable. Disabled configs
// only need an id.
func (c SubscriptionConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("config has an empty id")
	}
	if !c.Enabled {
		return nil
	}
	if len(c.Relays) == 0 {
		return fmt.Errorf("config %s is enabled but has no relay urls", c.ID)
	}
	for _, relay := range c.Relays {
		if _, err := NormalizeRelayURL(relay); err != nil {
			return fmt.Errorf("config %s: %w", c.ID, err)
		}
	}
	for _, tf := range c.Filter.Tags {
		if !isTagName(tf.Name) {
			return fmt.Errorf("config %s: invalid tag filter name %q", c.ID, tf.Name)
		}
	}
	return nil
}

// NormalizedRelays returns the config's relay urls normalized and de-duplicated, in order.
// Invalid urls are skipped; Validate reports them.
func (c SubscriptionConfig) NormalizedRelays() []string {
	seen := make(map[string]struct{}, len(c.Relays))
	relays := make([]string, 0, len(c.Relays))
	for _, raw := range c.Relays {
		normalized, err := NormalizeRelayURL(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		relays = append(relays, normalized)
	}
	return relays
}

// subscriptionIDLength is the number of hash bytes kept in a subscription id. 16 bytes hex
// encode to 32 characters, well below the 64 character limit relays enforce.
const subscriptionIDLength = 16

// SubscriptionIDFor derives the wire subscription id for a config id. The same config id always
// yields the same subscription id, so frames stay routable across reconnects.
func SubscriptionIDFor(configID string) string {
	sum := blake3.Sum256([]byte(configID))
	return hex.EncodeToString(sum[:subscriptionIDLength])
}

// NormalizeRelayURL lower-cases scheme and host and trims a trailing slash. Only ws and wss
// urls are accepted.
func NormalizeRelayURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", raw, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return "", fmt.Errorf("invalid relay url %q: scheme must be ws or wss", raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid relay url %q: missing host", raw)
	}
	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.Fragment = ""
	return parsed.String(), nil
}
