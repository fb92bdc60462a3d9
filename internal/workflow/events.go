package workflow

import "encoding/json"

// SSE event names, in the order a client sees them.
const (
	EventSessionStart = "session.start"
	EventTurnStart    = "turn.start"
	EventSlotStart    = "slot.start"
	EventSlotDone     = "slot.done"
	EventSlotAudio    = "slot.audio"
	EventSlotError    = "slot.error"
	EventTurnDone     = "turn.done"
	EventSummaryStart = "summary.start"
	EventSummaryDone  = "summary.done"
	EventSummaryAudio = "summary.audio"
	EventDone         = "done"
)

// Event is one SSE frame: a name and a JSON-marshalable payload.
type Event struct {
	Name string
	Data any
}

// SessionStartEvent opens the stream.
type SessionStartEvent struct {
	SessionID string `json:"sessionId"`
	SlotCount int    `json:"slotCount"`
}

// TurnStartEvent marks the beginning of a turn.
type TurnStartEvent struct {
	SessionID string `json:"sessionId"`
	TurnIndex int    `json:"turnIndex"`
}

// TurnDoneEvent marks a turn's completion with its success count.
type TurnDoneEvent struct {
	SessionID string `json:"sessionId"`
	TurnIndex int    `json:"turnIndex"`
	SlotCount int    `json:"slotCount"`
}

// SlotStartEvent marks a slot beginning its work for a turn.
type SlotStartEvent struct {
	SessionID string `json:"sessionId"`
	TurnIndex int    `json:"turnIndex"`
	Kind      string `json:"kind"`
	SlotID    int    `json:"slotId"`
	AgentID   string `json:"agentId"`
}

// SlotDoneEvent carries a slot's generated text.
type SlotDoneEvent struct {
	SessionID    string `json:"sessionId"`
	TurnIndex    int    `json:"turnIndex"`
	Kind         string `json:"kind"`
	SlotID       int    `json:"slotId"`
	AgentID      string `json:"agentId"`
	Text         string `json:"text"`
	VoiceProfile string `json:"voiceProfile"`
	TargetSlotID int    `json:"targetSlotId,omitempty"` // comments only
}

// SlotAudioEvent announces a rendered clip; the file exists before this fires.
type SlotAudioEvent struct {
	SessionID    string `json:"sessionId"`
	TurnIndex    int    `json:"turnIndex"`
	Kind         string `json:"kind"`
	SlotID       int    `json:"slotId"`
	AgentID      string `json:"agentId"`
	VoiceProfile string `json:"voiceProfile"`
	AudioFormat  string `json:"audioFormat"`
	AudioPath    string `json:"audioPath"` // artifact-relative
}

// ErrorDetail is the taxonomy class plus a human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SlotErrorEvent reports a per-slot failure; siblings continue.
type SlotErrorEvent struct {
	SessionID string      `json:"sessionId"`
	TurnIndex int         `json:"turnIndex"`
	Kind      string      `json:"kind"`
	SlotID    int         `json:"slotId"`
	AgentID   string      `json:"agentId"`
	Error     ErrorDetail `json:"error"`
}

// SummaryStartEvent marks the summary generation beginning.
type SummaryStartEvent struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	SlotID    int    `json:"slotId"`
}

// SummaryDoneEvent carries the summary text.
type SummaryDoneEvent struct {
	SessionID    string `json:"sessionId"`
	AgentID      string `json:"agentId"`
	SlotID       int    `json:"slotId"`
	Text         string `json:"text"`
	VoiceProfile string `json:"voiceProfile"`
}

// SummaryAudioEvent announces the rendered summary clip.
type SummaryAudioEvent struct {
	SessionID    string `json:"sessionId"`
	AgentID      string `json:"agentId"`
	VoiceProfile string `json:"voiceProfile"`
	AudioFormat  string `json:"audioFormat"`
	AudioPath    string `json:"audioPath"`
}

// DoneEvent terminates every stream exactly once.
type DoneEvent struct {
	SessionID      string `json:"sessionId"`
	CompletedSlots int    `json:"completedSlots"`
	Turns          int    `json:"turns"`
}

// MarshalData renders an event payload for the wire.
func (e Event) MarshalData() ([]byte, error) {
	return json.Marshal(e.Data)
}
