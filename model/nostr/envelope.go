package nostr

import (
	"encoding/json"
	"fmt"
)

// Frame labels of the relay protocol.
const (
	LabelReq    = "REQ"
	LabelClose  = "CLOSE"
	LabelEvent  = "EVENT"
	LabelEOSE   = "EOSE"
	LabelNotice = "NOTICE"
	LabelOK     = "OK"
	LabelClosed = "CLOSED"
)

// Envelope is a decoded inbound frame.
type Envelope interface {
	Label() string
}

// EventEnvelope carries an event delivered for a subscription. The event object is kept raw
// until DecodeEvent, so the subscription id is usable even when the object is malformed.
type EventEnvelope struct {
	SubscriptionID string
	RawEvent       json.RawMessage
}

func (EventEnvelope) Label() string { return LabelEvent }

// DecodeEvent decodes the event object of the envelope.
//
// Expected errors during normal operations:
//   - ProtocolError if the event object is malformed
func (e EventEnvelope) DecodeEvent() (Event, error) {
	var ev Event
	if err := json.Unmarshal(e.RawEvent, &ev); err != nil {
		return Event{}, ProtocolError{Reason: "malformed event object", Err: err}
	}
	return ev, nil
}

// EOSEEnvelope marks the end of the stored backlog for a subscription.
type EOSEEnvelope struct {
	SubscriptionID string
}

func (EOSEEnvelope) Label() string { return LabelEOSE }

// NoticeEnvelope is a human readable message from the relay.
type NoticeEnvelope struct {
	Message string
}

func (NoticeEnvelope) Label() string { return LabelNotice }

// OKEnvelope acknowledges a published event.
type OKEnvelope struct {
	EventID  string
	Accepted bool
	Message  string
}

func (OKEnvelope) Label() string { return LabelOK }

// ClosedEnvelope reports that the relay ended a subscription on its side.
type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (ClosedEnvelope) Label() string { return LabelClosed }

// ParseEnvelope decodes an inbound text frame.
//
// Expected errors during normal operations:
//   - ProtocolError if the frame is not a well-formed JSON array with a known label
func ParseEnvelope(frame []byte) (Envelope, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return nil, ProtocolError{Reason: "frame is not a JSON array", Err: err}
	}
	if len(parts) == 0 {
		return nil, NewProtocolErrorf("empty frame")
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, ProtocolError{Reason: "frame label is not a string", Err: err}
	}

	switch label {
	case LabelEvent:
		if len(parts) < 3 {
			return nil, NewProtocolErrorf("EVENT frame has %d elements, expected 3", len(parts))
		}
		subID, err := decodeString(parts[1], "subscription id")
		if err != nil {
			return nil, err
		}
		return EventEnvelope{SubscriptionID: subID, RawEvent: parts[2]}, nil

	case LabelEOSE:
		if len(parts) < 2 {
			return nil, NewProtocolErrorf("EOSE frame without subscription id")
		}
		subID, err := decodeString(parts[1], "subscription id")
		if err != nil {
			return nil, err
		}
		return EOSEEnvelope{SubscriptionID: subID}, nil

	case LabelNotice:
		if len(parts) < 2 {
			return nil, NewProtocolErrorf("NOTICE frame without message")
		}
		msg, err := decodeString(parts[1], "notice message")
		if err != nil {
			return nil, err
		}
		return NoticeEnvelope{Message: msg}, nil

	case LabelOK:
		if len(parts) < 3 {
			return nil, NewProtocolErrorf("OK frame has %d elements, expected 4", len(parts))
		}
		eventID, err := decodeString(parts[1], "event id")
		if err != nil {
			return nil, err
		}
		var accepted bool
		if err := json.Unmarshal(parts[2], &accepted); err != nil {
			return nil, ProtocolError{Reason: "OK status is not a boolean", Err: err}
		}
		env := OKEnvelope{EventID: eventID, Accepted: accepted}
		if len(parts) > 3 {
			env.Message, _ = decodeString(parts[3], "ok message")
		}
		return env, nil

	case LabelClosed:
		if len(parts) < 2 {
			return nil, NewProtocolErrorf("CLOSED frame without subscription id")
		}
		subID, err := decodeString(parts[1], "subscription id")
		if err != nil {
			return nil, err
		}
		env := ClosedEnvelope{SubscriptionID: subID}
		if len(parts) > 2 {
			env.Reason, _ = decodeString(parts[2], "closed reason")
		}
		return env, nil

	default:
		return nil, NewProtocolErrorf("unknown frame label %q", label)
	}
}

func decodeString(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", ProtocolError{Reason: fmt.Sprintf("%s is not a string", field), Err: err}
	}
	return s, nil
}

// EncodeReq builds a ["REQ", subscriptionID, filter...] frame.
func EncodeReq(subscriptionID string, filters ...Filter) ([]byte, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("REQ for %s needs at least one filter", subscriptionID)
	}
	parts := make([]interface{}, 0, len(filters)+2)
	parts = append(parts, LabelReq, subscriptionID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	frame, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("could not encode REQ frame: %w", err)
	}
	return frame, nil
}

// EncodeClose builds a ["CLOSE", subscriptionID] frame.
func EncodeClose(subscriptionID string) ([]byte, error) {
	frame, err := json.Marshal([]string{LabelClose, subscriptionID})
	if err != nil {
		return nil, fmt.Errorf("could not encode CLOSE frame: %w", err)
	}
	return frame, nil
}
