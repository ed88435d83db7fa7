package nostr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// TagFilter restricts a filter to events carrying a tag named Name whose value is one of Values.
// Name is a single letter; on the wire it is serialized as "#<Name>".
type TagFilter struct {
	Name   string
	Values []string
}

// TagFilters is the ordered list of tag restrictions of a filter.
type TagFilters []TagFilter

// Get returns the values for the given tag name.
func (tf TagFilters) Get(name string) ([]string, bool) {
	for _, f := range tf {
		if f.Name == name {
			return f.Values, true
		}
	}
	return nil, false
}

// Set replaces or appends the values for the given tag name, keeping the list ordered by name.
func (tf TagFilters) Set(name string, values []string) TagFilters {
	out := make(TagFilters, 0, len(tf)+1)
	replaced := false
	for _, f := range tf {
		if f.Name == name {
			out = append(out, TagFilter{Name: name, Values: values})
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, TagFilter{Name: name, Values: values})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Filter is the protocol filter object sent in a REQ frame. Fields left empty are not
// serialized. A nil Since/Until means unbounded; a zero Limit means no limit.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    TagFilters
	Since   *int64
	Until   *int64
	Limit   int
}

// WithSince returns a copy of the filter whose lower bound is the later of its own Since and the
// given timestamp.
func (f Filter) WithSince(since int64) Filter {
	if f.Since != nil && *f.Since >= since {
		return f
	}
	f.Since = &since
	return f
}

// Matches re-checks an event against the filter. Relays are untrusted, so every delivered event
// is verified locally.
func (f Filter) Matches(ev *Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	for _, tf := range f.Tags {
		if len(tf.Values) == 0 {
			continue
		}
		found := false
		for _, value := range ev.Tags.Values(tf.Name) {
			if containsString(tf.Values, value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

// MarshalJSON builds the filter object key by key: ids, authors, kinds, the tag filters in
// order, since, until and limit. Empty fields and tag filters without values are left out.
func (f Filter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true

	writeField := func(key string, value interface{}) error {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("could not encode filter field %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		encodedKey, _ := json.Marshal(key)
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}

	if len(f.IDs) > 0 {
		if err := writeField("ids", f.IDs); err != nil {
			return nil, err
		}
	}
	if len(f.Authors) > 0 {
		if err := writeField("authors", f.Authors); err != nil {
			return nil, err
		}
	}
	if len(f.Kinds) > 0 {
		if err := writeField("kinds", f.Kinds); err != nil {
			return nil, err
		}
	}
	for _, tf := range f.Tags {
		if !isTagName(tf.Name) {
			return nil, fmt.Errorf("invalid tag filter name %q", tf.Name)
		}
		// an empty tag filter matches everything, some relays read "#x":[] as match nothing
		if len(tf.Values) == 0 {
			continue
		}
		if err := writeField("#"+tf.Name, tf.Values); err != nil {
			return nil, err
		}
	}
	if f.Since != nil {
		if err := writeField("since", *f.Since); err != nil {
			return nil, err
		}
	}
	if f.Until != nil {
		if err := writeField("until", *f.Until); err != nil {
			return nil, err
		}
	}
	if f.Limit > 0 {
		if err := writeField("limit", f.Limit); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a filter object. Unknown keys are ignored; "#x" keys become tag filters
// ordered by tag name.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("filter is not an object: %w", err)
	}

	var decoded Filter
	for key, raw := range fields {
		var err error
		switch key {
		case "ids":
			err = json.Unmarshal(raw, &decoded.IDs)
		case "authors":
			err = json.Unmarshal(raw, &decoded.Authors)
		case "kinds":
			err = json.Unmarshal(raw, &decoded.Kinds)
		case "since":
			var since int64
			err = json.Unmarshal(raw, &since)
			decoded.Since = &since
		case "until":
			var until int64
			err = json.Unmarshal(raw, &until)
			decoded.Until = &until
		case "limit":
			err = json.Unmarshal(raw, &decoded.Limit)
		default:
			if len(key) == 2 && key[0] == '#' && isTagName(key[1:]) {
				var values []string
				err = json.Unmarshal(raw, &values)
				decoded.Tags = decoded.Tags.Set(key[1:], values)
			}
		}
		if err != nil {
			return fmt.Errorf("invalid filter field %s: %w", key, err)
		}
	}

	*f = decoded
	return nil
}

func isTagName(name string) bool {
	if len(name) != 1 {
		return false
	}
	c := name[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, item := range list {
		if item == n {
			return true
		}
	}
	return false
}
