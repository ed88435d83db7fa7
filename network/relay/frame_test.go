package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameLabel(t *testing.T) {
	cases := map[string]string{
		`["EVENT","sub",{"id":"x"}]`: "EVENT",
		`[ "EOSE" , "sub"]`:          "EOSE",
		`["NOTICE"]`:                 "NOTICE",
		`{"EVENT":1}`:                "malformed",
		`[1,"sub"]`:                  "malformed",
		`[`:                          "malformed",
		``:                           "malformed",
	}
	for frame, label := range cases {
		assert.Equal(t, label, frameLabel([]byte(frame)), frame)
	}
}

func TestStatusAwaitingPong(t *testing.T) {
	var status EndpointStatus
	assert.False(t, status.AwaitingPong())

	status.LastPingSent = status.LastPingSent.Add(1)
	assert.True(t, status.AwaitingPong())

	status.LastPong = status.LastPingSent
	assert.False(t, status.AwaitingPong())
}
