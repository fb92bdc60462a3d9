package events

import (
	"time"

	"github.com/asaficontact/reflective-resonance/internal/waves"
)

// Push message types on the renderer channel.
const (
	TypeTurnWavesReady    = "turn.waves_ready"
	TypeDialogueReady     = "dialogue.ready"
	TypeFinalSummaryReady = "final_summary.ready"
	TypeUserSentiment     = "user_sentiment"
	TypeHelloAck          = "hello.ack"
)

// Envelope is the common frame for every push message. Seq starts at 1 per
// session and increases monotonically.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Seq       int    `json:"seq"`
	TS        string `json:"ts"`
	Payload   any    `json:"payload"`
}

func newEnvelope(msgType, sessionID string, seq int, payload any) Envelope {
	return Envelope{
		Type:      msgType,
		SessionID: sessionID,
		Seq:       seq,
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// TrackInfo mirrors one synthesised wave file, with both path forms.
type TrackInfo struct {
	WaveNum      int        `json:"waveNum"`
	TargetSlotID int        `json:"targetSlotId"`
	PathAbs      string     `json:"pathAbs"`
	PathRel      string     `json:"pathRel"`
	FreqRangeHz  [2]float64 `json:"freqRangeHz"`
	RMSE         float64    `json:"rmse"`
}

func toTrackInfos(tracks []waves.Track) []TrackInfo {
	out := make([]TrackInfo, len(tracks))
	for i, t := range tracks {
		out[i] = TrackInfo{
			WaveNum:      t.WaveNum,
			TargetSlotID: t.TargetSlotID,
			PathAbs:      t.AbsPath,
			PathRel:      t.RelPath,
			FreqRangeHz:  t.FreqRangeHz,
			RMSE:         t.RMSE,
		}
	}
	return out
}

// SlotWaves groups a slot's ready wave tracks for one turn.
type SlotWaves struct {
	SlotID       int         `json:"slotId"`
	AgentID      string      `json:"agentId"`
	VoiceProfile string      `json:"voiceProfile"`
	Waves        []TrackInfo `json:"waves"`
}

// TurnWavesReadyPayload aggregates one turn's wave readiness.
type TurnWavesReadyPayload struct {
	TurnIndex      int         `json:"turnIndex"`
	Status         string      `json:"status"` // complete | partial
	SlotsExpected  int         `json:"slotsExpected"`
	SlotsReady     int         `json:"slotsReady"`
	Slots          []SlotWaves `json:"slots"`
	MissingSlotIDs []int       `json:"missingSlotIds"`
}

// DialogueParticipantView is one voice inside a dialogue summary.
type DialogueParticipantView struct {
	SlotID       int         `json:"slotId"`
	AgentID      string      `json:"agentId"`
	VoiceProfile string      `json:"voiceProfile"`
	AudioPath    string      `json:"audioPath"`
	Waves        []TrackInfo `json:"waves,omitempty"`
}

// DialogueView is the aggregate (comments, reply) triple for a target slot.
type DialogueView struct {
	DialogueID   string                    `json:"dialogueId"`
	TargetSlotID int                       `json:"targetSlotId"`
	Commenters   []DialogueParticipantView `json:"commenters"`
	Respondent   DialogueParticipantView   `json:"respondent"`
}

// DialogueReadyPayload summarises the whole dialogue after turn 3.
type DialogueReadyPayload struct {
	Dialogues []DialogueView `json:"dialogues"`
}

// SummarySlotWave keys one summary wave by its target slot.
type SummarySlotWave struct {
	SlotID int       `json:"slotId"`
	Wave   TrackInfo `json:"wave"`
}

// FinalSummaryReadyPayload carries the summary text and its six waves.
type FinalSummaryReadyPayload struct {
	Status         string            `json:"status"` // complete | partial
	Text           string            `json:"text"`
	VoiceProfile   string            `json:"voiceProfile"`
	Waves          []SummarySlotWave `json:"waves"`
	MissingSlotIDs []int             `json:"missingSlotIds"`
}

// UserSentimentPayload is the early mood classification.
type UserSentimentPayload struct {
	Sentiment     string `json:"sentiment"`
	Justification string `json:"justification"`
}

// HelloAck answers an optional renderer hello.
type HelloAck struct {
	Type    string `json:"type"`
	Server  string `json:"server"`
	Version string `json:"version"`
}
