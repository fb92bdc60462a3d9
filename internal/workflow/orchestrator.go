// Package workflow runs the four-turn choreography: every slot responds to
// the visitor, comments on one peer, replies to received comments, and a
// designated voice closes with a summary. Events stream to the UI over SSE
// while TTS clips and wave decomposition jobs fan out behind the scenes.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/asaficontact/reflective-resonance/internal/agents"
	"github.com/asaficontact/reflective-resonance/internal/config"
	"github.com/asaficontact/reflective-resonance/internal/conversation"
	"github.com/asaficontact/reflective-resonance/internal/llm"
	"github.com/asaficontact/reflective-resonance/internal/session"
	"github.com/asaficontact/reflective-resonance/internal/tts"
	"github.com/asaficontact/reflective-resonance/internal/waves"
)

// Character caps enforced before text reaches the TTS renderer.
const (
	maxResponseChars = 400
	maxCommentChars  = 200
	maxSummaryChars  = 1200

	// maxCommentsPerTarget bounds the fan-in forwarded into a reply prompt.
	maxCommentsPerTarget = 3

	ttsTimeout = 60 * time.Second
)

// SlotAssignment binds a speaker slot to an agent for one request.
type SlotAssignment struct {
	SlotID  int    `json:"slotId"`
	AgentID string `json:"agentId"`
}

// StructuredLLM is the gateway capability the workflow consumes.
type StructuredLLM interface {
	StructuredComplete(ctx context.Context, provider string, messages []llm.Message, schema json.RawMessage, params llm.Params) (json.RawMessage, error)
}

// AudioRenderer renders text to a WAV clip on disk.
type AudioRenderer interface {
	RenderToFile(ctx context.Context, text, profileName, path string) (tts.VoiceProfile, error)
}

// WaveSubmitter accepts fire-and-forget decomposition jobs.
type WaveSubmitter interface {
	Submit(job waves.Job) bool
}

// DialogueParticipant identifies one voice inside a dialogue.
type DialogueParticipant struct {
	SlotID       int
	AgentID      string
	VoiceProfile string
	AudioPath    string // artifact-relative
}

// Dialogue is the derived (comments, reply) triple for one target slot.
type Dialogue struct {
	TargetSlotID int
	Commenters   []DialogueParticipant
	Respondent   DialogueParticipant
}

// EventSink receives workflow lifecycle hooks for the renderer push channel.
// All methods must be non-blocking.
type EventSink interface {
	BeginSession(sessionID string, slots []SlotAssignment)
	TurnComplete(sessionID string, turnIndex int, expectedSlots []int)
	SetDialogues(sessionID string, dialogues []Dialogue)
	SummaryComplete(sessionID, text, voiceProfile string)
	SessionComplete(sessionID string)
	PublishSentiment(sessionID, sentiment, justification string)
}

// SentimentAnalyzer classifies the visitor's message; optional.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, message string) (sentiment, justification string, err error)
}

// Structured output shapes the models must produce.

type spokenResponse struct {
	Text         string `json:"text"`
	VoiceProfile string `json:"voice_profile"`
}

type commentSelection struct {
	TargetSlotID int    `json:"targetSlotId"`
	Comment      string `json:"comment"`
	VoiceProfile string `json:"voice_profile"`
}

const voiceProfileEnum = `["friendly_casual","warm_professional","energetic_upbeat","calm_soothing","confident_charming","playful_expressive"]`

var spokenResponseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"text": {"type": "string", "minLength": 1},
		"voice_profile": {"type": "string", "enum": ` + voiceProfileEnum + `}
	},
	"required": ["text", "voice_profile"],
	"additionalProperties": false
}`)

var commentSelectionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"targetSlotId": {"type": "integer", "minimum": 1, "maximum": 6},
		"comment": {"type": "string", "minLength": 1},
		"voice_profile": {"type": "string", "enum": ` + voiceProfileEnum + `}
	},
	"required": ["targetSlotId", "comment", "voice_profile"],
	"additionalProperties": false
}`)

// Orchestrator wires the gateway, stores, renderer, wave pool and event sink
// into the four-turn state machine. One Orchestrator serves all requests.
type Orchestrator struct {
	cfg           config.Config
	gateway       StructuredLLM
	conversations *conversation.Store
	sessions      *session.Store
	renderer      AudioRenderer
	pool          WaveSubmitter     // nil when waves are disabled
	events        EventSink         // nil when the push channel is disabled
	sentiment     SentimentAnalyzer // nil when sentiment is disabled
}

func NewOrchestrator(cfg config.Config, gateway StructuredLLM, conversations *conversation.Store,
	sessions *session.Store, renderer AudioRenderer, pool WaveSubmitter, events EventSink,
	sentiment SentimentAnalyzer) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		gateway:       gateway,
		conversations: conversations,
		sessions:      sessions,
		renderer:      renderer,
		pool:          pool,
		events:        events,
		sentiment:     sentiment,
	}
}

// turnResult is the per-slot outcome of one turn.
type turnResult struct {
	slotID       int
	agentID      string
	text         string
	voiceProfile string
	targetSlotID int // comments only
	success      bool
	audioAbs     string
	audioRel     string
}

// state is the transient per-request workflow state.
type state struct {
	sess        *session.Session
	slots       []SlotAssignment
	userMessage string

	turn1            map[int]*turnResult
	turn2            map[int]*turnResult
	turn3            map[int]*turnResult
	commentsByTarget map[int][]ReceivedComment
}

// Run starts the workflow and returns the event stream plus the session id.
// The stream is closed after the final done event. ctx cancellation stops
// outstanding LLM calls; TTS in flight finishes detached and wave jobs are
// never cancelled.
func (o *Orchestrator) Run(ctx context.Context, message string, slots []SlotAssignment) (*Stream, string, error) {
	bindings := make([]session.SlotBinding, len(slots))
	for i, s := range slots {
		bindings[i] = session.SlotBinding{SlotID: s.SlotID, AgentID: s.AgentID}
	}
	sess, err := o.sessions.Begin(bindings)
	if err != nil {
		return nil, "", fmt.Errorf("begin session: %w", err)
	}
	log.Printf("workflow: session %s started with %d slots", sess.ID, len(slots))

	st := &state{
		sess:             sess,
		slots:            slots,
		userMessage:      message,
		turn1:            make(map[int]*turnResult),
		turn2:            make(map[int]*turnResult),
		turn3:            make(map[int]*turnResult),
		commentsByTarget: make(map[int][]ReceivedComment),
	}

	stream := NewStream()
	stream.Put(Event{EventSessionStart, SessionStartEvent{SessionID: sess.ID, SlotCount: len(slots)}})
	if o.events != nil {
		o.events.BeginSession(sess.ID, slots)
	}

	go o.run(ctx, st, stream)
	return stream, sess.ID, nil
}

func (o *Orchestrator) run(ctx context.Context, st *state, stream *Stream) {
	defer stream.End()

	if o.sentiment != nil {
		go o.runSentiment(ctx, st.sess.ID, st.userMessage)
	}

	o.executeTurn1(ctx, st, stream)
	completed := successfulSlotIDs(st.turn1)

	turns := 3
	if o.cfg.SummaryEnabled {
		turns = 4
	}

	if len(completed) > 0 {
		o.executeTurn2(ctx, st, stream)
		o.executeTurn3(ctx, st, stream)
		if o.cfg.SummaryEnabled {
			o.executeSummary(ctx, st, stream)
		}
	} else {
		log.Printf("workflow: session %s produced no turn-1 successes, skipping turns 2-4", st.sess.ID)
	}

	st.sess.WriteManifest()
	if o.events != nil {
		o.events.SessionComplete(st.sess.ID)
	}

	stream.Put(Event{EventDone, DoneEvent{
		SessionID:      st.sess.ID,
		CompletedSlots: len(completed),
		Turns:          turns,
	}})
	log.Printf("workflow: session %s complete, slots=%d/%d", st.sess.ID, len(completed), len(st.slots))
}

func (o *Orchestrator) params(model string) llm.Params {
	return llm.Params{
		Model:       model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Timeout:     time.Duration(o.cfg.TimeoutS) * time.Second,
	}
}

func (o *Orchestrator) runSentiment(ctx context.Context, sessionID, message string) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sentiment, justification, err := o.sentiment.Analyze(sctx, message)
	if err != nil {
		log.Printf("workflow: sentiment analysis failed: %v", err)
		return
	}
	if o.events != nil {
		o.events.PublishSentiment(sessionID, sentiment, justification)
	}
}

// ----------------------------------------------------------------------------
// Turn 1: respond

func (o *Orchestrator) executeTurn1(ctx context.Context, st *state, stream *Stream) {
	stream.Put(Event{EventTurnStart, TurnStartEvent{SessionID: st.sess.ID, TurnIndex: 1}})

	results := make(chan *turnResult, len(st.slots))
	for _, slot := range st.slots {
		go func(slot SlotAssignment) {
			results <- o.processTurn1Slot(ctx, st, slot, stream)
		}(slot)
	}
	for range st.slots {
		r := <-results
		st.turn1[r.slotID] = r
	}

	completed := successfulSlotIDs(st.turn1)
	stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 1, SlotCount: len(completed)}})
	if o.events != nil {
		o.events.TurnComplete(st.sess.ID, 1, completed)
	}
	log.Printf("workflow: turn 1 complete %d/%d", len(completed), len(st.slots))
}

func (o *Orchestrator) processTurn1Slot(ctx context.Context, st *state, slot SlotAssignment, stream *Stream) *turnResult {
	result := &turnResult{slotID: slot.SlotID, agentID: slot.AgentID}
	stream.Put(Event{EventSlotStart, SlotStartEvent{
		SessionID: st.sess.ID, TurnIndex: 1, Kind: "response", SlotID: slot.SlotID, AgentID: slot.AgentID,
	}})

	binding, err := agents.Resolve(agents.ID(slot.AgentID))
	if err != nil {
		o.emitSlotError(stream, st.sess.ID, 1, "response", slot, llm.ClassUnknown, err)
		return result
	}

	conv := o.conversations.Get(slot.SlotID)
	conv.AppendUser(renderTurn1Prompt(st.userMessage))

	raw, err := o.gateway.StructuredComplete(ctx, binding.Provider, conv.History(), spokenResponseSchema, o.params(binding.Model))
	if err != nil {
		o.emitSlotError(stream, st.sess.ID, 1, "response", slot, llm.Classify(err), err)
		return result
	}
	var resp spokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Text == "" {
		o.emitSlotError(stream, st.sess.ID, 1, "response", slot, llm.ClassServerError, fmt.Errorf("malformed response: %v", err))
		return result
	}
	resp.Text = truncateAtSentence(resp.Text, maxResponseChars)
	conv.AppendAssistant(string(raw))

	result.text = resp.Text
	result.voiceProfile = resp.VoiceProfile
	result.success = true

	stream.Put(Event{EventSlotDone, SlotDoneEvent{
		SessionID: st.sess.ID, TurnIndex: 1, Kind: "response",
		SlotID: slot.SlotID, AgentID: slot.AgentID,
		Text: resp.Text, VoiceProfile: resp.VoiceProfile,
	}})

	o.renderSlotAudio(st, stream, slot, 1, "response", result, 0)
	return result
}

// ----------------------------------------------------------------------------
// Turn 2: comment

func (o *Orchestrator) executeTurn2(ctx context.Context, st *state, stream *Stream) {
	eligible := make([]SlotAssignment, 0, len(st.slots))
	for _, slot := range st.slots {
		if r, ok := st.turn1[slot.SlotID]; ok && r.success {
			eligible = append(eligible, slot)
		}
	}

	stream.Put(Event{EventTurnStart, TurnStartEvent{SessionID: st.sess.ID, TurnIndex: 2}})

	results := make(chan *turnResult, len(eligible))
	for _, slot := range eligible {
		go func(slot SlotAssignment) {
			results <- o.processTurn2Slot(ctx, st, slot, stream)
		}(slot)
	}
	for range eligible {
		r := <-results
		st.turn2[r.slotID] = r
	}

	o.routeComments(st)

	completed := successfulSlotIDs(st.turn2)
	stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 2, SlotCount: len(completed)}})
	if o.events != nil {
		o.events.TurnComplete(st.sess.ID, 2, completed)
	}
	log.Printf("workflow: turn 2 complete %d/%d", len(completed), len(eligible))
}

// buildPeerPool lists turn-1 successes excluding self, shuffled
// deterministically by (sessionId, slot) so routing is reproducible.
func (o *Orchestrator) buildPeerPool(st *state, excludeSlotID int) []PeerResponse {
	peers := make([]PeerResponse, 0, len(st.turn1))
	for _, r := range st.turn1 {
		if r.slotID != excludeSlotID && r.success {
			peers = append(peers, PeerResponse{SlotID: r.slotID, AgentID: r.agentID, Text: r.text})
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].SlotID < peers[j].SlotID })

	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", st.sess.ID, excludeSlotID)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	return peers
}

func (o *Orchestrator) processTurn2Slot(ctx context.Context, st *state, slot SlotAssignment, stream *Stream) *turnResult {
	result := &turnResult{slotID: slot.SlotID, agentID: slot.AgentID}

	peers := o.buildPeerPool(st, slot.SlotID)
	if len(peers) == 0 {
		log.Printf("workflow: slot %d has no peers to comment on, skipping", slot.SlotID)
		return result
	}

	stream.Put(Event{EventSlotStart, SlotStartEvent{
		SessionID: st.sess.ID, TurnIndex: 2, Kind: "comment", SlotID: slot.SlotID, AgentID: slot.AgentID,
	}})

	binding, err := agents.Resolve(agents.ID(slot.AgentID))
	if err != nil {
		o.emitSlotError(stream, st.sess.ID, 2, "comment", slot, llm.ClassUnknown, err)
		return result
	}

	conv := o.conversations.Get(slot.SlotID)
	conv.AppendUser(renderTurn2Prompt(slot.SlotID, peers))

	validTarget := func(id int) bool {
		if id == slot.SlotID {
			return false
		}
		for _, p := range peers {
			if p.SlotID == id {
				return true
			}
		}
		return false
	}

	var sel commentSelection
	var raw json.RawMessage
	for attempt := 0; attempt < 2; attempt++ {
		raw, err = o.gateway.StructuredComplete(ctx, binding.Provider, conv.History(), commentSelectionSchema, o.params(binding.Model))
		if err != nil {
			o.emitSlotError(stream, st.sess.ID, 2, "comment", slot, llm.Classify(err), err)
			return result
		}
		if jerr := json.Unmarshal(raw, &sel); jerr != nil || sel.Comment == "" {
			o.emitSlotError(stream, st.sess.ID, 2, "comment", slot, llm.ClassServerError, fmt.Errorf("malformed comment: %v", jerr))
			return result
		}
		if validTarget(sel.TargetSlotID) {
			break
		}
		if attempt == 0 {
			log.Printf("workflow: slot %d chose invalid target %d, retrying once", slot.SlotID, sel.TargetSlotID)
			continue
		}
		// Second miss: fall back deterministically to the first peer.
		log.Printf("workflow: slot %d target still invalid, falling back to slot %d", slot.SlotID, peers[0].SlotID)
		sel.TargetSlotID = peers[0].SlotID
	}

	sel.Comment = truncateAtSentence(sel.Comment, maxCommentChars)
	conv.AppendAssistant(string(raw))

	result.text = sel.Comment
	result.voiceProfile = sel.VoiceProfile
	result.targetSlotID = sel.TargetSlotID
	result.success = true

	stream.Put(Event{EventSlotDone, SlotDoneEvent{
		SessionID: st.sess.ID, TurnIndex: 2, Kind: "comment",
		SlotID: slot.SlotID, AgentID: slot.AgentID,
		Text: sel.Comment, VoiceProfile: sel.VoiceProfile, TargetSlotID: sel.TargetSlotID,
	}})

	o.renderSlotAudio(st, stream, slot, 2, "comment", result, sel.TargetSlotID)
	return result
}

// routeComments groups successful comments by target, keeping at most three
// per target by ascending source slot. Surplus comments stay on disk and on
// the SSE stream; they just never reach the reply prompt.
func (o *Orchestrator) routeComments(st *state) {
	for _, slotID := range sortedKeys(st.turn2) {
		r := st.turn2[slotID]
		if !r.success {
			continue
		}
		st.commentsByTarget[r.targetSlotID] = append(st.commentsByTarget[r.targetSlotID], ReceivedComment{
			FromSlotID:  r.slotID,
			FromAgentID: r.agentID,
			Comment:     r.text,
		})
	}
	for target, comments := range st.commentsByTarget {
		sort.Slice(comments, func(i, j int) bool { return comments[i].FromSlotID < comments[j].FromSlotID })
		if len(comments) > maxCommentsPerTarget {
			log.Printf("workflow: slot %d received %d comments, capped to %d", target, len(comments), maxCommentsPerTarget)
			comments = comments[:maxCommentsPerTarget]
		}
		st.commentsByTarget[target] = comments
	}
}

// ----------------------------------------------------------------------------
// Turn 3: reply

func (o *Orchestrator) executeTurn3(ctx context.Context, st *state, stream *Stream) {
	type participant struct {
		slot     SlotAssignment
		comments []ReceivedComment
	}
	var participants []participant
	for _, slot := range st.slots {
		comments := st.commentsByTarget[slot.SlotID]
		if len(comments) == 0 {
			continue
		}
		if r, ok := st.turn1[slot.SlotID]; !ok || !r.success {
			continue
		}
		participants = append(participants, participant{slot: slot, comments: comments})
	}

	stream.Put(Event{EventTurnStart, TurnStartEvent{SessionID: st.sess.ID, TurnIndex: 3}})

	results := make(chan *turnResult, len(participants))
	for _, p := range participants {
		go func(p participant) {
			results <- o.processTurn3Slot(ctx, st, p.slot, p.comments, stream)
		}(p)
	}
	for range participants {
		r := <-results
		st.turn3[r.slotID] = r
	}

	completed := successfulSlotIDs(st.turn3)
	stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 3, SlotCount: len(completed)}})
	if o.events != nil {
		o.events.SetDialogues(st.sess.ID, o.computeDialogues(st))
		o.events.TurnComplete(st.sess.ID, 3, completed)
	}
	log.Printf("workflow: turn 3 complete %d/%d", len(completed), len(participants))
}

func (o *Orchestrator) processTurn3Slot(ctx context.Context, st *state, slot SlotAssignment, comments []ReceivedComment, stream *Stream) *turnResult {
	result := &turnResult{slotID: slot.SlotID, agentID: slot.AgentID}
	stream.Put(Event{EventSlotStart, SlotStartEvent{
		SessionID: st.sess.ID, TurnIndex: 3, Kind: "reply", SlotID: slot.SlotID, AgentID: slot.AgentID,
	}})

	binding, err := agents.Resolve(agents.ID(slot.AgentID))
	if err != nil {
		o.emitSlotError(stream, st.sess.ID, 3, "reply", slot, llm.ClassUnknown, err)
		return result
	}

	conv := o.conversations.Get(slot.SlotID)
	conv.AppendUser(renderTurn3Prompt(slot.SlotID, st.turn1[slot.SlotID].text, comments))

	raw, err := o.gateway.StructuredComplete(ctx, binding.Provider, conv.History(), spokenResponseSchema, o.params(binding.Model))
	if err != nil {
		o.emitSlotError(stream, st.sess.ID, 3, "reply", slot, llm.Classify(err), err)
		return result
	}
	var resp spokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Text == "" {
		o.emitSlotError(stream, st.sess.ID, 3, "reply", slot, llm.ClassServerError, fmt.Errorf("malformed reply: %v", err))
		return result
	}
	resp.Text = truncateAtSentence(resp.Text, maxResponseChars)
	conv.AppendAssistant(string(raw))

	result.text = resp.Text
	result.voiceProfile = resp.VoiceProfile
	result.success = true

	stream.Put(Event{EventSlotDone, SlotDoneEvent{
		SessionID: st.sess.ID, TurnIndex: 3, Kind: "reply",
		SlotID: slot.SlotID, AgentID: slot.AgentID,
		Text: resp.Text, VoiceProfile: resp.VoiceProfile,
	}})

	o.renderSlotAudio(st, stream, slot, 3, "reply", result, 0)
	return result
}

// computeDialogues derives the renderer's dialogue view from turns 2 and 3.
func (o *Orchestrator) computeDialogues(st *state) []Dialogue {
	var dialogues []Dialogue
	for _, target := range sortedKeys(st.turn3) {
		reply := st.turn3[target]
		if !reply.success {
			continue
		}
		comments := st.commentsByTarget[target]
		if len(comments) == 0 {
			continue
		}
		var commenters []DialogueParticipant
		for _, c := range comments {
			cr, ok := st.turn2[c.FromSlotID]
			if !ok || !cr.success {
				continue
			}
			commenters = append(commenters, DialogueParticipant{
				SlotID:       cr.slotID,
				AgentID:      cr.agentID,
				VoiceProfile: cr.voiceProfile,
				AudioPath:    cr.audioRel,
			})
		}
		dialogues = append(dialogues, Dialogue{
			TargetSlotID: target,
			Commenters:   commenters,
			Respondent: DialogueParticipant{
				SlotID:       reply.slotID,
				AgentID:      reply.agentID,
				VoiceProfile: reply.voiceProfile,
				AudioPath:    reply.audioRel,
			},
		})
	}
	return dialogues
}

// ----------------------------------------------------------------------------
// Turn 4: summary

// summaryAgent picks the designated summary voice: the first successful
// turn-1 slot by ascending slot id.
func summaryAgent(st *state) (SlotAssignment, bool) {
	for _, id := range sortedKeys(st.turn1) {
		if st.turn1[id].success {
			for _, slot := range st.slots {
				if slot.SlotID == id {
					return slot, true
				}
			}
		}
	}
	return SlotAssignment{}, false
}

func (o *Orchestrator) executeSummary(ctx context.Context, st *state, stream *Stream) {
	stream.Put(Event{EventTurnStart, TurnStartEvent{SessionID: st.sess.ID, TurnIndex: 4}})

	slot, ok := summaryAgent(st)
	if !ok {
		stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 4, SlotCount: 0}})
		return
	}

	stream.Put(Event{EventSummaryStart, SummaryStartEvent{SessionID: st.sess.ID, AgentID: slot.AgentID, SlotID: slot.SlotID}})

	binding, err := agents.Resolve(agents.ID(slot.AgentID))
	if err != nil {
		log.Printf("workflow: summary agent resolve failed: %v", err)
		stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 4, SlotCount: 0}})
		return
	}

	// Fresh conversation: the summary voice reads the whole dialogue, it does
	// not continue its own slot history.
	messages := []llm.Message{
		{Role: "system", Content: o.cfg.DefaultSystemPrompt},
		{Role: "user", Content: renderTurn4Prompt(st.userMessage, collectResponses(st))},
	}
	raw, err := o.gateway.StructuredComplete(ctx, binding.Provider, messages, spokenResponseSchema, o.params(binding.Model))
	if err != nil {
		log.Printf("workflow: summary generation failed: %v", err)
		stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 4, SlotCount: 0}})
		return
	}
	var resp spokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Text == "" {
		log.Printf("workflow: summary malformed: %v", err)
		stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 4, SlotCount: 0}})
		return
	}
	resp.Text = truncateAtSentence(resp.Text, maxSummaryChars)

	stream.Put(Event{EventSummaryDone, SummaryDoneEvent{
		SessionID: st.sess.ID, AgentID: slot.AgentID, SlotID: slot.SlotID,
		Text: resp.Text, VoiceProfile: resp.VoiceProfile,
	}})

	abs, rel, err := st.sess.SummaryAudioPath(slot.AgentID, resp.VoiceProfile)
	if err == nil {
		ttsCtx, cancel := context.WithTimeout(context.Background(), ttsTimeout)
		profile, rerr := o.renderer.RenderToFile(ttsCtx, resp.Text, resp.VoiceProfile, abs)
		cancel()
		if rerr != nil {
			err = rerr
		} else if profile.Name != resp.VoiceProfile {
			// Renderer fell back; regenerate the deterministic path.
			resp.VoiceProfile = profile.Name
			abs, rel, err = st.sess.SummaryAudioPath(slot.AgentID, profile.Name)
			if err == nil {
				ttsCtx, cancel := context.WithTimeout(context.Background(), ttsTimeout)
				_, err = o.renderer.RenderToFile(ttsCtx, resp.Text, profile.Name, abs)
				cancel()
			}
		}
	}
	if err != nil {
		log.Printf("workflow: summary tts failed: %v", err)
		stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 4, SlotCount: 0}})
		return
	}

	stream.Put(Event{EventSummaryAudio, SummaryAudioEvent{
		SessionID: st.sess.ID, AgentID: slot.AgentID, VoiceProfile: resp.VoiceProfile,
		AudioFormat: "wav", AudioPath: rel,
	}})

	o.submitWaveJob(st, 4, "summary", 0, slot.AgentID, resp.VoiceProfile, abs, resp.Text, waves.SummaryTargetSlots())
	st.sess.SetSummaryEntry(session.ManifestEntry{
		AgentID: slot.AgentID, VoiceProfile: resp.VoiceProfile, Text: resp.Text, AudioPath: rel,
	})
	if o.events != nil {
		o.events.SummaryComplete(st.sess.ID, resp.Text, resp.VoiceProfile)
	}

	stream.Put(Event{EventTurnDone, TurnDoneEvent{SessionID: st.sess.ID, TurnIndex: 4, SlotCount: 1}})
}

// collectResponses lists every successful utterance of turns 1-3 in temporal order.
func collectResponses(st *state) []SummaryItem {
	var items []SummaryItem
	for _, id := range sortedKeys(st.turn1) {
		if r := st.turn1[id]; r.success {
			items = append(items, SummaryItem{SlotID: id, TurnLabel: "first reflection", Text: r.text})
		}
	}
	for _, id := range sortedKeys(st.turn2) {
		if r := st.turn2[id]; r.success {
			items = append(items, SummaryItem{SlotID: id, TurnLabel: "acknowledgment", Text: r.text})
		}
	}
	for _, id := range sortedKeys(st.turn3) {
		if r := st.turn3[id]; r.success {
			items = append(items, SummaryItem{SlotID: id, TurnLabel: "reply", Text: r.text})
		}
	}
	return items
}

// ----------------------------------------------------------------------------
// Shared slot plumbing

// renderSlotAudio renders TTS for a slot result, emits slot.audio or a
// tts_error, submits the wave job, and records the manifest entry. The
// renderer runs on a detached context so a client disconnect never cancels
// a clip already being synthesised.
func (o *Orchestrator) renderSlotAudio(st *state, stream *Stream, slot SlotAssignment, turnIndex int, kind string, result *turnResult, targetSlotID int) {
	abs, rel, err := st.sess.TurnAudioPath(turnIndex, slot.SlotID, slot.AgentID, result.voiceProfile, targetSlotID)
	if err == nil {
		ttsCtx, cancel := context.WithTimeout(context.Background(), ttsTimeout)
		var profile tts.VoiceProfile
		profile, err = o.renderer.RenderToFile(ttsCtx, result.text, result.voiceProfile, abs)
		cancel()
		if err == nil && profile.Name != result.voiceProfile {
			// Unknown profile fell back; keep path and profile consistent.
			result.voiceProfile = profile.Name
			abs, rel, err = st.sess.TurnAudioPath(turnIndex, slot.SlotID, slot.AgentID, profile.Name, targetSlotID)
			if err == nil {
				ttsCtx, cancel := context.WithTimeout(context.Background(), ttsTimeout)
				_, err = o.renderer.RenderToFile(ttsCtx, result.text, profile.Name, abs)
				cancel()
			}
		}
	}
	if err != nil {
		log.Printf("workflow: turn %d slot %d tts error: %v", turnIndex, slot.SlotID, err)
		stream.Put(Event{EventSlotError, SlotErrorEvent{
			SessionID: st.sess.ID, TurnIndex: turnIndex, Kind: kind,
			SlotID: slot.SlotID, AgentID: slot.AgentID,
			Error: ErrorDetail{Type: string(llm.ClassTTSError), Message: err.Error()},
		}})
		return
	}

	result.audioAbs = abs
	result.audioRel = rel

	stream.Put(Event{EventSlotAudio, SlotAudioEvent{
		SessionID: st.sess.ID, TurnIndex: turnIndex, Kind: kind,
		SlotID: slot.SlotID, AgentID: slot.AgentID,
		VoiceProfile: result.voiceProfile, AudioFormat: "wav", AudioPath: rel,
	}})

	o.submitWaveJob(st, turnIndex, kind, slot.SlotID, slot.AgentID, result.voiceProfile, abs, "", waves.TargetSlotsForSource(slot.SlotID))
	st.sess.AddTurnEntry(turnIndex, session.ManifestEntry{
		SlotID: slot.SlotID, AgentID: slot.AgentID, VoiceProfile: result.voiceProfile,
		TargetSlotID: targetSlotID, Text: result.text, AudioPath: rel,
	})
}

// submitWaveJob fires a decomposition job; failures only log.
func (o *Orchestrator) submitWaveJob(st *state, turnIndex int, kind string, slotID int, agentID, voiceProfile, absPath, summaryText string, targets []int) {
	if o.pool == nil || !o.cfg.WavesEnabled {
		return
	}
	job := waves.Job{
		SessionID:       st.sess.ID,
		TurnIndex:       turnIndex,
		Kind:            kind,
		SourceSlotID:    slotID,
		AgentID:         agentID,
		VoiceProfile:    voiceProfile,
		SummaryText:     summaryText,
		SourceAudioPath: absPath,
		OutputDir:       waves.OutputDir(o.sessions.Root(), st.sess.ID, turnIndex),
		RelDir:          waves.RelDir(st.sess.ID, turnIndex),
		TargetSlots:     targets,
	}
	if !o.pool.Submit(job) {
		log.Printf("workflow: wave job dropped for session=%s turn=%d slot=%d", st.sess.ID, turnIndex, slotID)
	}
}

func (o *Orchestrator) emitSlotError(stream *Stream, sessionID string, turnIndex int, kind string, slot SlotAssignment, class llm.Class, err error) {
	log.Printf("workflow: turn %d slot %d (%s) error: %s - %v", turnIndex, slot.SlotID, slot.AgentID, class, err)
	stream.Put(Event{EventSlotError, SlotErrorEvent{
		SessionID: sessionID, TurnIndex: turnIndex, Kind: kind,
		SlotID: slot.SlotID, AgentID: slot.AgentID,
		Error: ErrorDetail{Type: string(class), Message: err.Error()},
	}})
}

// ----------------------------------------------------------------------------
// Helpers

func successfulSlotIDs(results map[int]*turnResult) []int {
	var ids []int
	for id, r := range results {
		if r.success {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func sortedKeys(results map[int]*turnResult) []int {
	ids := make([]int, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// truncateAtSentence caps text at max runes, cutting at the last complete
// sentence that fits; when even the first sentence overruns, it hard-cuts
// at the last word boundary.
func truncateAtSentence(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	chunks := splitSentences(text)
	var b strings.Builder
	for _, chunk := range chunks {
		candidate := chunk
		if b.Len() > 0 {
			candidate = " " + chunk
		}
		if len([]rune(b.String()))+len([]rune(candidate)) > max {
			break
		}
		b.WriteString(candidate)
	}
	if b.Len() > 0 {
		return b.String()
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

// splitSentences splits on terminal punctuation and newlines, retaining the
// punctuation with each chunk.
func splitSentences(text string) []string {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	flush := func() {
		if chunk := strings.TrimSpace(b.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		b.Reset()
	}
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			flush()
		case '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return chunks
}
