package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types
// ============================================================================
// Actions represent intent from the input device, the IPC socket and the
// state websocket. The daemon stamps each one with the wall time and bomb
// clock reading (TimedEvent) before reducing it.
// ============================================================================

// Action is a marker interface for all daemon commands.
type Action interface {
	eventMarker()
}

// Press is the player pushing the button down.
type Press struct{}

func (Press) eventMarker() {}

// Release is the player letting the button go.
type Release struct{}

func (Release) eventMarker() {}

// ============================================================================
// Automation Actions
// ============================================================================
// Automation actions are queued and run one at a time. Each one reports its
// outcome on Reply (nil for success) once it finishes. Reply must be buffered.
// ============================================================================

// PlayRhythm presses the button to start a round.
type PlayRhythm struct {
	Reply chan<- error `json:"-"`
}

func (PlayRhythm) eventMarker() {}

// Submit waits for the clock's last digit to read First, presses, then waits
// for Second and releases.
type Submit struct {
	First  int          `json:"first"`
	Second int          `json:"second"`
	Reply  chan<- error `json:"-"`
}

func (Submit) eventMarker() {}

// HoldAt presses when the clock's last digit reads Digit.
type HoldAt struct {
	Digit int          `json:"digit"`
	Reply chan<- error `json:"-"`
}

func (HoldAt) eventMarker() {}

// ReleaseAt releases when the clock's last digit reads Digit.
type ReleaseAt struct {
	Digit int          `json:"digit"`
	Reply chan<- error `json:"-"`
}

func (ReleaseAt) eventMarker() {}

// ForceSolve replays the correct inputs until the module is solved and its
// pass has been reported.
type ForceSolve struct {
	Reply chan<- error `json:"-"`
}

func (ForceSolve) eventMarker() {}

// CancelAutomation aborts queued automation tasks.
type CancelAutomation struct {
	Reply chan<- error `json:"-"`
}

func (CancelAutomation) eventMarker() {}

// RequestStateSnapshot asks the daemon loop for a StateSnapshot on Reply.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot `json:"-"`
}

func (RequestStateSnapshot) eventMarker() {}

// replyable is implemented by actions that report completion on an error channel.
type replyable interface {
	withReply(reply chan<- error) Event
}

func (a PlayRhythm) withReply(reply chan<- error) Event       { a.Reply = reply; return a }
func (a Submit) withReply(reply chan<- error) Event           { a.Reply = reply; return a }
func (a HoldAt) withReply(reply chan<- error) Event           { a.Reply = reply; return a }
func (a ReleaseAt) withReply(reply chan<- error) Event        { a.Reply = reply; return a }
func (a ForceSolve) withReply(reply chan<- error) Event       { a.Reply = reply; return a }
func (a CancelAutomation) withReply(reply chan<- error) Event { a.Reply = reply; return a }

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps events for JSON serialization/deserialization.
// Since Go doesn't have union types, we use a type discriminator.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "press":
		return Press{}, nil
	case "release":
		return Release{}, nil

	case "play":
		return PlayRhythm{}, nil

	case "submit":
		var a Submit
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal Submit: %w", err)
		}
		return a, nil

	case "hold":
		var a HoldAt
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal HoldAt: %w", err)
		}
		return a, nil

	case "release_at":
		var a ReleaseAt
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal ReleaseAt: %w", err)
		}
		return a, nil

	case "solve":
		return ForceSolve{}, nil
	case "cancel":
		return CancelAutomation{}, nil
	case "status":
		return RequestStateSnapshot{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case Press:
		env.Type = "press"
	case Release:
		env.Type = "release"

	case PlayRhythm:
		env.Type = "play"

	case Submit:
		env.Type = "submit"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal Submit: %w", err)
		}
		env.Data = data

	case HoldAt:
		env.Type = "hold"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal HoldAt: %w", err)
		}
		env.Data = data

	case ReleaseAt:
		env.Type = "release_at"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ReleaseAt: %w", err)
		}
		env.Data = data

	case ForceSolve:
		env.Type = "solve"
	case CancelAutomation:
		env.Type = "cancel"
	case RequestStateSnapshot:
		env.Type = "status"

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
