package metrics

const (
	namespaceRelayWatch = "relaywatch"

	subsystemRelay         = "relay"
	subsystemSubscriptions = "subscriptions"
	subsystemHealth        = "health"
	subsystemCache         = "cache"
	subsystemStorage       = "storage"
)

const (
	LabelRelay    = "relay"
	LabelState    = "state"
	LabelFrame    = "frame"
	LabelResult   = "result"
	LabelConfigID = "config_id"
	LabelReason   = "reason"
	LabelVerdict  = "verdict"
	LabelResource = "resource"
	LabelKey      = "key"
)

const (
	ResourceEventCache      = "event_cache"
	ResourceCancelledSubIDs = "cancelled_subscriptions"
)

const (
	DropReasonDuplicate       = "duplicate"
	DropReasonInvalid         = "invalid"
	DropReasonNoMatch         = "no_match"
	DropReasonUnknownSub      = "unknown_subscription"
	DropReasonMalformedFrame  = "malformed_frame"
	DropReasonQueueOverloaded = "queue_overloaded"
)
