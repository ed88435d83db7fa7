package nostr_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/utils/unittest"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func TestFilter_MarshalJSON_KeyOrder(t *testing.T) {
	f := nostr.Filter{
		IDs:     []string{"aa"},
		Authors: []string{"bb"},
		Kinds:   []int{1, 7},
		Tags: nostr.TagFilters{}.
			Set("t", []string{"go"}).
			Set("e", []string{"cc"}),
		Since: int64Ptr(100),
		Until: int64Ptr(200),
		Limit: 10,
	}

	encoded, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t,
		`{"ids":["aa"],"authors":["bb"],"kinds":[1,7],"#e":["cc"],"#t":["go"],"since":100,"until":200,"limit":10}`,
		string(encoded))
}

func TestFilter_MarshalJSON_OmitsEmptyFields(t *testing.T) {
	encoded, err := json.Marshal(nostr.Filter{Kinds: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, `{"kinds":[1]}`, string(encoded))

	encoded, err = json.Marshal(nostr.Filter{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(encoded))
}

func TestFilter_MarshalJSON_OmitsEmptyTagFilters(t *testing.T) {
	f := nostr.Filter{
		Kinds: []int{1},
		Tags: nostr.TagFilters{
			{Name: "x", Values: []string{}},
			{Name: "p"},
			{Name: "t", Values: []string{"go"}},
		},
	}
	encoded, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"kinds":[1],"#t":["go"]}`, string(encoded))
	assert.NotContains(t, string(encoded), `"#x"`)

	ev := unittest.EventFixture(unittest.WithKind(1), unittest.WithTags(nostr.Tag{"t", "go"}))
	var decoded nostr.Filter
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, f.Matches(&ev), decoded.Matches(&ev))
}

func TestFilter_MarshalJSON_RejectsInvalidTagName(t *testing.T) {
	_, err := json.Marshal(nostr.Filter{Tags: nostr.TagFilters{{Name: "long", Values: []string{"x"}}}})
	require.Error(t, err)
}

func TestFilter_UnmarshalJSON(t *testing.T) {
	var f nostr.Filter
	err := json.Unmarshal([]byte(`{"kinds":[1],"#t":["go","nostr"],"#p":["aa"],"since":5,"limit":3,"search":"ignored"}`), &f)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, f.Kinds)
	require.NotNil(t, f.Since)
	assert.Equal(t, int64(5), *f.Since)
	assert.Nil(t, f.Until)
	assert.Equal(t, 3, f.Limit)
	require.Len(t, f.Tags, 2)
	assert.Equal(t, "p", f.Tags[0].Name)
	assert.Equal(t, "t", f.Tags[1].Name)
	values, ok := f.Tags.Get("t")
	require.True(t, ok)
	assert.Equal(t, []string{"go", "nostr"}, values)
}

func TestFilter_WithSince(t *testing.T) {
	f := nostr.Filter{}
	f = f.WithSince(100)
	require.NotNil(t, f.Since)
	assert.Equal(t, int64(100), *f.Since)

	// a later configured bound wins
	f = nostr.Filter{Since: int64Ptr(500)}.WithSince(100)
	assert.Equal(t, int64(500), *f.Since)

	// the original filter is not modified
	original := nostr.Filter{Since: int64Ptr(50)}
	updated := original.WithSince(100)
	assert.Equal(t, int64(50), *original.Since)
	assert.Equal(t, int64(100), *updated.Since)
}

func TestFilter_Matches(t *testing.T) {
	author := unittest.PubKeyFixture()
	ev := unittest.EventFixture(
		unittest.WithAuthor(author),
		unittest.WithKind(1),
		unittest.WithCreatedAt(1000),
		unittest.WithTags(nostr.Tag{"t", "golang"}, nostr.Tag{"p"}),
	)

	cases := []struct {
		name    string
		filter  nostr.Filter
		matches bool
	}{
		{"empty filter", nostr.Filter{}, true},
		{"id", nostr.Filter{IDs: []string{ev.ID}}, true},
		{"other id", nostr.Filter{IDs: []string{unittest.RandomHex(64)}}, false},
		{"author", nostr.Filter{Authors: []string{author}}, true},
		{"other author", nostr.Filter{Authors: []string{unittest.PubKeyFixture()}}, false},
		{"kind", nostr.Filter{Kinds: []int{0, 1}}, true},
		{"other kind", nostr.Filter{Kinds: []int{7}}, false},
		{"tag", nostr.Filter{Tags: nostr.TagFilters{{Name: "t", Values: []string{"golang"}}}}, true},
		{"other tag value", nostr.Filter{Tags: nostr.TagFilters{{Name: "t", Values: []string{"rust"}}}}, false},
		{"valueless tag never matches", nostr.Filter{Tags: nostr.TagFilters{{Name: "p", Values: []string{""}}}}, false},
		{"since inclusive", nostr.Filter{Since: int64Ptr(1000)}, true},
		{"since after", nostr.Filter{Since: int64Ptr(1001)}, false},
		{"until inclusive", nostr.Filter{Until: int64Ptr(1000)}, true},
		{"until before", nostr.Filter{Until: int64Ptr(999)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.matches, tc.filter.Matches(&ev))
		})
	}
}

// a filter survives an encode/decode round trip on the wire
func TestFilter_WireRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hex := rapid.StringMatching(`[0-9a-f]{64}`)
		f := nostr.Filter{
			Authors: rapid.SliceOfN(hex, 0, 3).Draw(t, "authors"),
			Kinds:   rapid.SliceOfN(rapid.IntRange(0, 65535), 0, 3).Draw(t, "kinds"),
			Limit:   rapid.IntRange(0, 500).Draw(t, "limit"),
		}
		if rapid.Bool().Draw(t, "hasSince") {
			f.Since = int64Ptr(rapid.Int64Range(1, 1<<40).Draw(t, "since"))
		}
		if rapid.Bool().Draw(t, "hasTag") {
			f.Tags = f.Tags.Set("t", rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 1, 3).Draw(t, "tagValues"))
		}

		encoded, err := json.Marshal(f)
		require.NoError(t, err)
		var decoded nostr.Filter
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		reencoded, err := json.Marshal(decoded)
		require.NoError(t, err)
		assert.Equal(t, string(encoded), string(reencoded))
	})
}
