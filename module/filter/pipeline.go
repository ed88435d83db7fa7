package filter

import (
	"github.com/relaywatch/relaywatch/model/nostr"
)

// Stage is one step of the filter pipeline. A stage that returns false rejects the event; this
// is a normal outcome, not an error.
type Stage interface {
	Name() string
	Match(config *nostr.SubscriptionConfig, ev *nostr.Event) bool
}

// Result is the outcome of running an event through the pipeline.
type Result struct {
	Matched bool
	// RejectedBy is the name of the stage that rejected the event, if any.
	RejectedBy string
}

// Pipeline runs its stages in order and stops at the first rejection. Stages are ordered
// cheapest first.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// DefaultPipeline re-checks the protocol filter, then applies the local filters and finally the
// keyword filter.
func DefaultPipeline() *Pipeline {
	return NewPipeline(ProtocolStage{}, LocalStage{}, KeywordStage{})
}

// Match decides whether ev should be forwarded for config.
func (p *Pipeline) Match(config *nostr.SubscriptionConfig, ev *nostr.Event) Result {
	for _, stage := range p.stages {
		if !stage.Match(config, ev) {
			return Result{RejectedBy: stage.Name()}
		}
	}
	return Result{Matched: true}
}

// ProtocolStage re-verifies the event against the filter sent to the relay. Relays are untrusted
// and may deliver events outside the requested filter.
type ProtocolStage struct{}

func (ProtocolStage) Name() string { return "protocol" }

func (ProtocolStage) Match(config *nostr.SubscriptionConfig, ev *nostr.Event) bool {
	return config.Filter.Matches(ev)
}
