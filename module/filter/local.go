package filter

import (
	"github.com/relaywatch/relaywatch/model/nostr"
)

// reply markers of "e" tags, see NIP-10
const (
	markerReply = "reply"
	markerRoot  = "root"
)

// LocalStage applies the client side flags of a config.
type LocalStage struct{}

func (LocalStage) Name() string { return "local" }

func (LocalStage) Match(config *nostr.SubscriptionConfig, ev *nostr.Event) bool {
	if config.Local.ExcludeMentionsToSelf && mentionsSelf(config, ev) {
		return false
	}
	if config.Local.ExcludeRepliesToEvents && isReplyToFilteredAuthor(config, ev) {
		return false
	}
	return true
}

// selfKeys are the keys the config follows. A config without an authors restriction follows
// the event's own author.
func selfKeys(config *nostr.SubscriptionConfig, ev *nostr.Event) []string {
	if len(config.Filter.Authors) > 0 {
		return config.Filter.Authors
	}
	return []string{ev.PubKey}
}

// mentionsSelf reports whether one of the event's "p" tags references a followed key.
func mentionsSelf(config *nostr.SubscriptionConfig, ev *nostr.Event) bool {
	for _, key := range selfKeys(config, ev) {
		if ev.Tags.ContainsValue("p", key) {
			return true
		}
	}
	return false
}

// isReplyToFilteredAuthor reports whether the event is a reply that references a followed key,
// through its own author, the author hint of an "e" tag or a "p" tag.
func isReplyToFilteredAuthor(config *nostr.SubscriptionConfig, ev *nostr.Event) bool {
	eTags := ev.Tags.WithName("e")
	if !isReply(eTags) {
		return false
	}
	if len(config.Filter.Authors) == 0 {
		return true
	}

	for _, author := range config.Filter.Authors {
		if ev.PubKey == author || ev.Tags.ContainsValue("p", author) {
			return true
		}
		for _, tag := range eTags {
			if tag.At(4) == author {
				return true
			}
		}
	}
	return false
}

// isReply reports whether the "e" tags make the event a reply: either a tag carries a reply or
// root marker, or unmarked positional "e" tags are used.
func isReply(eTags []nostr.Tag) bool {
	if len(eTags) == 0 {
		return false
	}
	marked := false
	for _, tag := range eTags {
		switch tag.At(3) {
		case markerReply, markerRoot:
			return true
		case "":
		default:
			marked = true
		}
	}
	// only "mention" markers: the event quotes others without replying
	return !marked
}
