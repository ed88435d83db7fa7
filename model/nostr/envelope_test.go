package nostr_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/utils/unittest"
)

func TestParseEnvelope_Event(t *testing.T) {
	ev := unittest.EventFixture(unittest.WithTags(nostr.Tag{"p", unittest.PubKeyFixture()}))
	frame, err := json.Marshal([]interface{}{"EVENT", "sub1", ev})
	require.NoError(t, err)

	env, err := nostr.ParseEnvelope(frame)
	require.NoError(t, err)
	eventEnv, ok := env.(nostr.EventEnvelope)
	require.True(t, ok)
	assert.Equal(t, "sub1", eventEnv.SubscriptionID)
	decoded, err := eventEnv.DecodeEvent()
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
	assert.Equal(t, nostr.LabelEvent, env.Label())
}

func TestParseEnvelope_ControlFrames(t *testing.T) {
	env, err := nostr.ParseEnvelope([]byte(`["EOSE","sub1"]`))
	require.NoError(t, err)
	assert.Equal(t, nostr.EOSEEnvelope{SubscriptionID: "sub1"}, env)

	env, err = nostr.ParseEnvelope([]byte(`["NOTICE","slow down"]`))
	require.NoError(t, err)
	assert.Equal(t, nostr.NoticeEnvelope{Message: "slow down"}, env)

	env, err = nostr.ParseEnvelope([]byte(`["OK","abc",false,"blocked: spam"]`))
	require.NoError(t, err)
	assert.Equal(t, nostr.OKEnvelope{EventID: "abc", Accepted: false, Message: "blocked: spam"}, env)

	env, err = nostr.ParseEnvelope([]byte(`["CLOSED","sub1","auth-required: log in"]`))
	require.NoError(t, err)
	assert.Equal(t, nostr.ClosedEnvelope{SubscriptionID: "sub1", Reason: "auth-required: log in"}, env)
}

func TestParseEnvelope_Malformed(t *testing.T) {
	frames := []string{
		`not json`,
		`{"kind":1}`,
		`[]`,
		`[1,"sub"]`,
		`["EVENT","sub1"]`,
		`["EVENT",5,{}]`,
		`["EOSE"]`,
		`["OK","abc","yes"]`,
		`["AUTH","challenge"]`,
	}
	for _, frame := range frames {
		t.Run(frame, func(t *testing.T) {
			_, err := nostr.ParseEnvelope([]byte(frame))
			require.Error(t, err)
			assert.True(t, nostr.IsProtocolError(err))
		})
	}
}

// An undecodable event object still yields the subscription id, the decode error surfaces later.
func TestParseEnvelope_MalformedEventKeepsSubscriptionID(t *testing.T) {
	for _, frame := range []string{
		`["EVENT","sub1","not an object"]`,
		`["EVENT","sub1",{"id":"x","kind":"one"}]`,
	} {
		t.Run(frame, func(t *testing.T) {
			env, err := nostr.ParseEnvelope([]byte(frame))
			require.NoError(t, err)
			eventEnv, ok := env.(nostr.EventEnvelope)
			require.True(t, ok)
			assert.Equal(t, "sub1", eventEnv.SubscriptionID)

			_, err = eventEnv.DecodeEvent()
			require.Error(t, err)
			assert.True(t, nostr.IsProtocolError(err))
		})
	}
}

func TestParseEnvelope_MalformedTagIsKept(t *testing.T) {
	ev := unittest.EventFixture()
	raw := `["EVENT","sub1",{"id":"` + ev.ID + `","pubkey":"` + ev.PubKey +
		`","created_at":10,"kind":1,"tags":[["t","go"],[1,2],"x"],"content":"","sig":"` + ev.Sig + `"}]`

	env, err := nostr.ParseEnvelope([]byte(raw))
	require.NoError(t, err)
	decoded, err := env.(nostr.EventEnvelope).DecodeEvent()
	require.NoError(t, err)
	require.Len(t, decoded.Tags, 3)
	assert.Equal(t, []string{"go"}, decoded.Tags.Values("t"))
	assert.Empty(t, decoded.Tags[1])
	assert.Empty(t, decoded.Tags[2])
}

func TestEncodeReqAndClose(t *testing.T) {
	frame, err := nostr.EncodeReq("sub1", nostr.Filter{Kinds: []int{1}}, nostr.Filter{Authors: []string{"aa"}})
	require.NoError(t, err)
	assert.Equal(t, `["REQ","sub1",{"kinds":[1]},{"authors":["aa"]}]`, string(frame))

	_, err = nostr.EncodeReq("sub1")
	require.Error(t, err)

	frame, err = nostr.EncodeClose("sub1")
	require.NoError(t, err)
	assert.Equal(t, `["CLOSE","sub1"]`, string(frame))
}
