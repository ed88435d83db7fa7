package nostr

import (
	"encoding/json"
	"fmt"
)

// Tag is a single tag of an event, e.g. ["p", <pubkey>, <relay hint>].
// The first element is the tag name. A tag with fewer than two elements carries no value and
// is ignored by every tag lookup.
type Tag []string

// Name returns the tag name, or the empty string for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value of the tag, or the empty string if there is none.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// At returns the element at index i, or the empty string if the tag is too short.
func (t Tag) At(i int) string {
	if i < 0 || i >= len(t) {
		return ""
	}
	return t[i]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// Values returns the first value of every well-formed tag with the given name.
func (tags Tags) Values(name string) []string {
	var values []string
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != name {
			continue
		}
		values = append(values, tag[1])
	}
	return values
}

// WithName returns every well-formed tag with the given name.
func (tags Tags) WithName(name string) []Tag {
	var matching []Tag
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != name {
			continue
		}
		matching = append(matching, tag)
	}
	return matching
}

// ContainsValue reports whether a well-formed tag with the given name has the given value.
func (tags Tags) ContainsValue(name, value string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name && tag[1] == value {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes a tag list leniently: a tag that is not an array of strings is kept
// as an empty tag so that it never matches, rather than failing the whole event.
func (tags *Tags) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("tags is not an array: %w", err)
	}

	decoded := make(Tags, 0, len(raw))
	for _, item := range raw {
		var tag Tag
		if err := json.Unmarshal(item, &tag); err != nil {
			decoded = append(decoded, Tag{})
			continue
		}
		decoded = append(decoded, tag)
	}
	*tags = decoded
	return nil
}

// Event is a protocol event as delivered by a relay. Events are immutable once received.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

const (
	idLength     = 64
	pubKeyLength = 64
	sigLength    = 128
	maxKind      = 65535
)

// Validate performs structural validation of the event. Signatures and ids are checked for
// shape only, never verified.
//
// Expected errors during normal operations:
//   - ValidationError if the event is structurally invalid
func (e *Event) Validate() error {
	switch {
	case !isLowerHex(e.ID, idLength):
		return NewValidationErrorf(e.ID, "id must be %d lowercase hex characters", idLength)
	case !isLowerHex(e.PubKey, pubKeyLength):
		return NewValidationErrorf(e.ID, "pubkey must be %d lowercase hex characters", pubKeyLength)
	case !isLowerHex(e.Sig, sigLength):
		return NewValidationErrorf(e.ID, "sig must be %d lowercase hex characters", sigLength)
	case e.CreatedAt <= 0:
		return NewValidationErrorf(e.ID, "created_at must be positive, got %d", e.CreatedAt)
	case e.Kind < 0 || e.Kind > maxKind:
		return NewValidationErrorf(e.ID, "kind %d out of range", e.Kind)
	}
	return nil
}

func isLowerHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
