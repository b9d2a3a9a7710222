// Package proto defines the wire envelope exchanged with relay peers over
// the push stream and the in-session data channel. The schema lives in
// proto/nestri.proto; the codec in this package is maintained by hand on
// top of protowire so the field numbers there are the contract.
package proto

import (
	"time"

	"github.com/google/uuid"
)

// Payload is one variant of the envelope's tagged payload.
type Payload interface {
	isPayload()
}

// Message is the outer envelope: a base (dispatch key + optional latency
// trace) and exactly one payload variant.
type Message struct {
	Base    *MessageBase
	Payload Payload
}

// MessageBase carries the payload-type dispatch key. The key is a free-form
// string rather than a closed enum so relays can route kinds they do not
// understand.
type MessageBase struct {
	PayloadType string
	Latency     *LatencyTracker
}

// LatencyTracker accumulates {stage, timestamp} entries as a message moves
// through the system.
type LatencyTracker struct {
	SequenceID string
	Timestamps []TimestampEntry
}

// TimestampEntry names a pipeline stage and when the message passed it.
type TimestampEntry struct {
	Stage string
	Time  *Timestamp
}

// Timestamp is the protobuf well-known Timestamp shape.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// TimestampNow captures the current wall clock.
func TimestampNow() *Timestamp {
	now := time.Now()
	return &Timestamp{Seconds: now.Unix(), Nanos: int32(now.Nanosecond())}
}

// SessionDescription mirrors the browser RTCSessionDescriptionInit dict.
type SessionDescription struct {
	Type string
	SDP  string
}

// Sdp carries an SDP offer or answer.
type Sdp struct {
	SDP *SessionDescription
}

// ICECandidateInit mirrors the browser RTCIceCandidateInit dict.
type ICECandidateInit struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint32
	UsernameFragment *string
}

// Ice carries a trickled ICE candidate.
type Ice struct {
	Candidate *ICECandidateInit
}

// ServerPushStream requests (outbound) or confirms (inbound) a push stream
// for a room.
type ServerPushStream struct {
	RoomName string
}

// ControllerAttach requests a virtual gamepad, or acknowledges one, keyed by
// the peer's (session_id, session_slot) pair.
type ControllerAttach struct {
	ID          string
	SessionID   string
	SessionSlot int32
}

// ControllerDetach releases the gamepad at the peer's session slot.
type ControllerDetach struct {
	SessionID   string
	SessionSlot int32
}

// ControllerRumble streams force feedback back to the peer. The
// strong-motor value travels as high_frequency and the weak-motor value as
// low_frequency; the inversion relative to the kernel force-feedback naming
// is a wire contract.
type ControllerRumble struct {
	SessionSlot   int32
	SessionID     string
	LowFrequency  int32
	HighFrequency int32
	Duration      int32
}

// UpdateType selects how a ControllerStateBatch is applied.
type UpdateType int32

const (
	UpdateFullState UpdateType = 0
	UpdateDelta     UpdateType = 1
)

// Bit positions in ControllerStateBatch.ChangedFields for DELTA updates.
const (
	FieldButtons = iota
	FieldLeftStickX
	FieldLeftStickY
	FieldRightStickX
	FieldRightStickY
	FieldLeftTrigger
	FieldRightTrigger
	FieldDpadX
	FieldDpadY
)

// ButtonChange is one button transition inside a state batch.
type ButtonChange struct {
	Button  uint32
	Pressed bool
}

// ControllerStateBatch applies buttons and axes to one gamepad, either as a
// full snapshot or as a delta gated by the ChangedFields bitmask.
type ControllerStateBatch struct {
	SessionID         string
	SessionSlot       int32
	UpdateType        UpdateType
	ChangedFields     uint32
	ButtonChangedMask []ButtonChange
	LeftStickX        *int32
	LeftStickY        *int32
	RightStickX       *int32
	RightStickY       *int32
	LeftTrigger       *int32
	RightTrigger      *int32
	DpadX             *int32
	DpadY             *int32
}

// ClientDisconnected tears down every controller slot a departed peer owned.
type ClientDisconnected struct {
	SessionID       string
	ControllerSlots []uint32
}

// MouseMove is a relative pointer motion.
type MouseMove struct {
	X int32
	Y int32
}

// MouseMoveAbs is an absolute pointer motion.
type MouseMoveAbs struct {
	X int32
	Y int32
}

// KeyDown presses a keyboard key.
type KeyDown struct {
	Key int32
}

// KeyUp releases a keyboard key.
type KeyUp struct {
	Key int32
}

// MouseWheel is a scroll motion on both axes.
type MouseWheel struct {
	X int32
	Y int32
}

// MouseKeyDown presses a mouse button.
type MouseKeyDown struct {
	Key int32
}

// MouseKeyUp releases a mouse button.
type MouseKeyUp struct {
	Key int32
}

func (*Sdp) isPayload()                  {}
func (*Ice) isPayload()                  {}
func (*ServerPushStream) isPayload()     {}
func (*ControllerAttach) isPayload()     {}
func (*ControllerDetach) isPayload()     {}
func (*ControllerRumble) isPayload()     {}
func (*ControllerStateBatch) isPayload() {}
func (*ClientDisconnected) isPayload()   {}
func (*MouseMove) isPayload()            {}
func (*MouseMoveAbs) isPayload()         {}
func (*KeyDown) isPayload()              {}
func (*KeyUp) isPayload()                {}
func (*MouseWheel) isPayload()           {}
func (*MouseKeyDown) isPayload()         {}
func (*MouseKeyUp) isPayload()           {}

// MessageOptions tunes NewMessage.
type MessageOptions struct {
	// SequenceID seeds a latency tracker with a "created" stage entry.
	// Empty means no tracker unless Latency is set.
	SequenceID string
	// Latency attaches a pre-built tracker verbatim.
	Latency *LatencyTracker
}

// NewMessage wraps a payload in an envelope under the given dispatch key.
func NewMessage(payload Payload, payloadType string, opts *MessageOptions) *Message {
	var latency *LatencyTracker
	if opts != nil {
		latency = opts.Latency
		if latency == nil && opts.SequenceID != "" {
			latency = &LatencyTracker{
				SequenceID: opts.SequenceID,
				Timestamps: []TimestampEntry{{Stage: "created", Time: TimestampNow()}},
			}
		}
	}
	return &Message{
		Base:    &MessageBase{PayloadType: payloadType, Latency: latency},
		Payload: payload,
	}
}

// NewTrackedMessage is NewMessage with a fresh random sequence id.
func NewTrackedMessage(payload Payload, payloadType string) *Message {
	return NewMessage(payload, payloadType, &MessageOptions{SequenceID: uuid.NewString()})
}
