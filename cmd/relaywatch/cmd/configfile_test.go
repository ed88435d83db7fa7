package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/utils/unittest"
)

const subscriptionsYAML = `
subscriptions:
  - id: follows
    name: People I follow
    relays: [wss://relay.example.com, wss://other.example.com/]
    filter:
      kinds: [1, 6]
      authors: [aa, bb]
      tags:
        t: [golang]
        p: [cc]
      limit: 50
    keywords: [release]
    local:
      exclude_mentions_to_self: true
  - id: paused
    enabled: false
    relays: [wss://relay.example.com]
`

func TestParseSubscriptions(t *testing.T) {
	configs, err := ParseSubscriptions([]byte(subscriptionsYAML))
	require.NoError(t, err)
	require.Len(t, configs, 2)

	follows := configs[0]
	assert.Equal(t, "follows", follows.ID)
	assert.Equal(t, "People I follow", follows.Name)
	assert.True(t, follows.Enabled)
	assert.Equal(t, []string{"wss://relay.example.com", "wss://other.example.com/"}, follows.Relays)
	assert.Equal(t, []int{1, 6}, follows.Filter.Kinds)
	assert.Equal(t, []string{"aa", "bb"}, follows.Filter.Authors)
	assert.Equal(t, 50, follows.Filter.Limit)
	assert.Equal(t, nostr.TagFilters{
		{Name: "p", Values: []string{"cc"}},
		{Name: "t", Values: []string{"golang"}},
	}, follows.Filter.Tags)
	assert.Equal(t, []string{"release"}, follows.Keywords)
	assert.Equal(t, nostr.LocalFilters{ExcludeMentionsToSelf: true}, follows.Local)
	require.NoError(t, follows.Validate())

	assert.False(t, configs[1].Enabled)
}

func TestParseSubscriptions_RejectsUnknownFields(t *testing.T) {
	_, err := ParseSubscriptions([]byte("subscriptions:\n  - id: x\n    relay: [wss://a.example]\n"))
	require.Error(t, err)
}

func TestFileProvider(t *testing.T) {
	unittest.RunWithTempDir(t, func(dir string) {
		path := filepath.Join(dir, "subscriptions.yaml")
		provider := NewFileProvider(path)

		_, err := provider.EnabledConfigs()
		require.Error(t, err, "missing file")

		require.NoError(t, os.WriteFile(path, []byte(subscriptionsYAML), 0o600))
		configs, err := provider.EnabledConfigs()
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, "follows", configs[0].ID)
	})
}
