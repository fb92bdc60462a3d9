package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/asaficontact/reflective-resonance/internal/config"
	"github.com/asaficontact/reflective-resonance/internal/conversation"
	"github.com/asaficontact/reflective-resonance/internal/llm"
	"github.com/asaficontact/reflective-resonance/internal/session"
	"github.com/asaficontact/reflective-resonance/internal/tts"
	"github.com/asaficontact/reflective-resonance/internal/waves"
)

// ----------------------------------------------------------------------------
// Fakes

type fakeGateway struct {
	mu       sync.Mutex
	complete func(provider string, messages []llm.Message, schema json.RawMessage, params llm.Params) (json.RawMessage, error)
	prompts  []string
}

func (g *fakeGateway) StructuredComplete(ctx context.Context, provider string, messages []llm.Message, schema json.RawMessage, params llm.Params) (json.RawMessage, error) {
	g.mu.Lock()
	if len(messages) > 0 {
		g.prompts = append(g.prompts, messages[len(messages)-1].Content)
	}
	g.mu.Unlock()
	return g.complete(provider, messages, schema, params)
}

type fakeRenderer struct {
	mu     sync.Mutex
	failOn map[string]bool // voice profile names that fail
	calls  int
}

func (r *fakeRenderer) RenderToFile(ctx context.Context, text, profileName, path string) (tts.VoiceProfile, error) {
	r.mu.Lock()
	r.calls++
	fail := r.failOn[profileName]
	r.mu.Unlock()
	profile, err := tts.GetProfile(profileName)
	if err != nil {
		profile, _ = tts.GetProfile(tts.FallbackProfile)
	}
	if fail {
		return profile, fmt.Errorf("synthetic tts failure")
	}
	if err := tts.WriteWAVFile([]byte{1, 0, 2, 0}, path, 24000); err != nil {
		return profile, err
	}
	return profile, nil
}

type fakePool struct {
	mu   sync.Mutex
	jobs []waves.Job
}

func (p *fakePool) Submit(job waves.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return true
}

type fakeSink struct {
	mu            sync.Mutex
	turnCompletes map[int][]int
	dialogues     []Dialogue
	summaryText   string
	began, ended  bool
}

func newFakeSink() *fakeSink { return &fakeSink{turnCompletes: make(map[int][]int)} }

func (s *fakeSink) BeginSession(sessionID string, slots []SlotAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.began = true
}
func (s *fakeSink) TurnComplete(sessionID string, turnIndex int, expectedSlots []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCompletes[turnIndex] = expectedSlots
}
func (s *fakeSink) SetDialogues(sessionID string, dialogues []Dialogue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogues = dialogues
}
func (s *fakeSink) SummaryComplete(sessionID, text, voiceProfile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryText = text
}
func (s *fakeSink) SessionComplete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}
func (s *fakeSink) PublishSentiment(sessionID, sentiment, justification string) {}

// ----------------------------------------------------------------------------
// Scripted model behaviour

var selfSlotRe = regexp.MustCompile(`voice in slot (\d+)`)
var peerSlotRe = regexp.MustCompile(`- Slot (\d+) \(`)

func promptSelfSlot(prompt string) int {
	m := selfSlotRe.FindStringSubmatch(prompt)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func promptFirstPeer(prompt string) int {
	m := peerSlotRe.FindStringSubmatch(prompt)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// scriptModels answers turn prompts plausibly: responses/replies as spoken
// text, comments targeting commentTarget (or the first listed peer when the
// slot is the target itself).
func scriptModels(commentTarget func(self int, prompt string) int) func(string, []llm.Message, json.RawMessage, llm.Params) (json.RawMessage, error) {
	return func(provider string, messages []llm.Message, schema json.RawMessage, params llm.Params) (json.RawMessage, error) {
		prompt := messages[len(messages)-1].Content
		if strings.Contains(string(schema), "targetSlotId") {
			self := promptSelfSlot(prompt)
			target := commentTarget(self, prompt)
			sel := commentSelection{
				TargetSlotID: target,
				Comment:      fmt.Sprintf("comment from %d", self),
				VoiceProfile: "calm_soothing",
			}
			out, _ := json.Marshal(sel)
			return out, nil
		}
		kind := "response"
		if strings.Contains(prompt, "acknowledged you") {
			kind = "reply"
		} else if strings.Contains(prompt, "Distill this whole dialogue") {
			kind = "summary"
		}
		resp := spokenResponse{Text: "a " + kind + " ripples outward.", VoiceProfile: "calm_soothing"}
		out, _ := json.Marshal(resp)
		return out, nil
	}
}

func sixSlots() []SlotAssignment {
	return []SlotAssignment{
		{SlotID: 1, AgentID: "claude-sonnet-4-5"},
		{SlotID: 2, AgentID: "claude-opus-4-5"},
		{SlotID: 3, AgentID: "gemini-3"},
		{SlotID: 4, AgentID: "gpt-5.2"},
		{SlotID: 5, AgentID: "gpt-5.1"},
		{SlotID: 6, AgentID: "gpt-4o"},
	}
}

func testConfig() config.Config {
	return config.Config{
		Temperature: 0.7, MaxTokens: 300, TimeoutS: 5, Retries: 1,
		DefaultSystemPrompt: "persona", WavesEnabled: true, SummaryEnabled: true,
	}
}

func runWorkflow(t *testing.T, gw *fakeGateway, slots []SlotAssignment) ([]Event, *fakePool, *fakeSink) {
	t.Helper()
	cfg := testConfig()
	pool := &fakePool{}
	sink := newFakeSink()
	o := NewOrchestrator(cfg, gw, conversation.NewStore("persona"),
		session.NewStore(t.TempDir()), &fakeRenderer{}, pool, sink, nil)

	stream, sessionID, err := o.Run(context.Background(), "hello water", slots)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sessionID == "" {
		t.Fatalf("expected session id")
	}
	var events []Event
	for e := range stream.Events() {
		events = append(events, e)
	}
	return events, pool, sink
}

func countEvents(events []Event, name string) int {
	n := 0
	for _, e := range events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func eventTurnIndex(e Event) int {
	switch d := e.Data.(type) {
	case TurnStartEvent:
		return d.TurnIndex
	case TurnDoneEvent:
		return d.TurnIndex
	case SlotStartEvent:
		return d.TurnIndex
	case SlotDoneEvent:
		return d.TurnIndex
	case SlotAudioEvent:
		return d.TurnIndex
	case SlotErrorEvent:
		return d.TurnIndex
	}
	return 0
}

// ----------------------------------------------------------------------------
// Tests

func TestWorkflow_HappyPathSixSlots(t *testing.T) {
	// Every slot comments on its clockwise neighbour, so every slot replies.
	gw := &fakeGateway{complete: scriptModels(func(self int, prompt string) int {
		return (self % 6) + 1
	})}
	events, pool, sink := runWorkflow(t, gw, sixSlots())

	if got := countEvents(events, EventDone); got != 1 {
		t.Fatalf("expected exactly one done, got %d", got)
	}
	if events[len(events)-1].Name != EventDone {
		t.Fatalf("stream must end with done, got %s", events[len(events)-1].Name)
	}
	if got := countEvents(events, EventSlotDone); got != 18 {
		t.Fatalf("expected 18 slot.done, got %d", got)
	}
	if got := countEvents(events, EventTurnDone); got != 4 {
		t.Fatalf("expected 4 turn.done, got %d", got)
	}
	if got := countEvents(events, EventSummaryDone); got != 1 {
		t.Fatalf("expected 1 summary.done, got %d", got)
	}
	if got := countEvents(events, EventSlotError); got != 0 {
		t.Fatalf("expected no slot errors, got %d", got)
	}

	done := events[len(events)-1].Data.(DoneEvent)
	if done.CompletedSlots != 6 || done.Turns != 4 {
		t.Fatalf("unexpected done payload: %+v", done)
	}

	// Wave jobs: 6+6+6 two-track jobs plus one six-track summary job.
	pool.mu.Lock()
	jobs := len(pool.jobs)
	var summaryJobs int
	for _, j := range pool.jobs {
		if j.Kind == "summary" {
			summaryJobs++
			if len(j.TargetSlots) != 6 {
				t.Errorf("summary job must target 6 slots, got %d", len(j.TargetSlots))
			}
		} else if len(j.TargetSlots) != 2 {
			t.Errorf("turn job must target 2 slots, got %d", len(j.TargetSlots))
		}
	}
	pool.mu.Unlock()
	if jobs != 19 || summaryJobs != 1 {
		t.Fatalf("expected 19 jobs with 1 summary, got %d/%d", jobs, summaryJobs)
	}

	if !sink.began || !sink.ended {
		t.Fatalf("sink lifecycle hooks not called")
	}
	if got := sink.turnCompletes[1]; len(got) != 6 {
		t.Fatalf("turn 1 expected slots: %v", got)
	}
	if sink.summaryText == "" {
		t.Fatalf("summary hook not called")
	}
}

func TestWorkflow_TurnOrderingStrict(t *testing.T) {
	gw := &fakeGateway{complete: scriptModels(func(self int, prompt string) int {
		return (self % 6) + 1
	})}
	events, _, _ := runWorkflow(t, gw, sixSlots())

	turnDoneSeen := map[int]bool{}
	for _, e := range events {
		idx := eventTurnIndex(e)
		if e.Name == EventTurnDone {
			turnDoneSeen[idx] = true
			continue
		}
		// Any event of turn n+1 must come after turn.done(n).
		if idx >= 2 && !turnDoneSeen[idx-1] {
			t.Fatalf("%s for turn %d before turn.done(%d)", e.Name, idx, idx-1)
		}
	}
}

func TestWorkflow_CausalOrderPerSlot(t *testing.T) {
	gw := &fakeGateway{complete: scriptModels(func(self int, prompt string) int {
		return (self % 6) + 1
	})}
	events, _, _ := runWorkflow(t, gw, sixSlots())

	type key struct{ turn, slot int }
	stage := map[key]int{}
	for _, e := range events {
		switch d := e.Data.(type) {
		case SlotStartEvent:
			k := key{d.TurnIndex, d.SlotID}
			if stage[k] != 0 {
				t.Fatalf("slot.start out of order for %v", k)
			}
			stage[k] = 1
		case SlotDoneEvent:
			k := key{d.TurnIndex, d.SlotID}
			if stage[k] != 1 {
				t.Fatalf("slot.done before slot.start for %v", k)
			}
			stage[k] = 2
		case SlotAudioEvent:
			k := key{d.TurnIndex, d.SlotID}
			if stage[k] != 2 {
				t.Fatalf("slot.audio before slot.done for %v", k)
			}
			stage[k] = 3
		}
	}
}

func TestWorkflow_AudioFileExistsBeforeEvent(t *testing.T) {
	gw := &fakeGateway{complete: scriptModels(func(self int, prompt string) int {
		return (self % 6) + 1
	})}
	cfg := testConfig()
	store := session.NewStore(t.TempDir())
	o := NewOrchestrator(cfg, gw, conversation.NewStore("p"), store, &fakeRenderer{}, &fakePool{}, nil, nil)
	stream, _, err := o.Run(context.Background(), "hi", sixSlots())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for e := range stream.Events() {
		if d, ok := e.Data.(SlotAudioEvent); ok {
			full := store.Root() + "/" + d.AudioPath
			if _, err := os.Stat(full); err != nil {
				t.Fatalf("audio file missing at event time: %v", err)
			}
		}
	}
}

func TestWorkflow_SlotFailureIsolation(t *testing.T) {
	// Slot 3 (gemini-3, unique model) rate-limits in every call.
	base := scriptModels(func(self int, prompt string) int { return (self % 6) + 1 })
	gw := &fakeGateway{complete: func(provider string, messages []llm.Message, schema json.RawMessage, params llm.Params) (json.RawMessage, error) {
		if provider == "google" {
			return nil, &llm.Error{Class: llm.ClassRateLimit, Message: "rate limited"}
		}
		return base(provider, messages, schema, params)
	}}
	events, _, sink := runWorkflow(t, gw, sixSlots())

	// Exactly one error for slot 3 turn 1, then silence from slot 3.
	sawError := false
	for _, e := range events {
		switch d := e.Data.(type) {
		case SlotErrorEvent:
			if d.SlotID != 3 {
				t.Fatalf("unexpected error for slot %d", d.SlotID)
			}
			if d.TurnIndex != 1 || d.Error.Type != "rate_limit" {
				t.Fatalf("unexpected error event: %+v", d)
			}
			sawError = true
		case SlotStartEvent:
			if d.SlotID == 3 && d.TurnIndex > 1 {
				t.Fatalf("slot 3 must not participate after turn 1 failure")
			}
		case SlotDoneEvent:
			if d.SlotID == 3 {
				t.Fatalf("slot 3 must not complete")
			}
			if d.Kind == "comment" && d.TargetSlotID == 3 {
				t.Fatalf("no comment may target failed slot 3")
			}
		}
	}
	if !sawError {
		t.Fatalf("expected slot.error for slot 3")
	}
	if got := sink.turnCompletes[1]; len(got) != 5 {
		t.Fatalf("turn 1 expected slots should exclude slot 3: %v", got)
	}

	done := events[len(events)-1].Data.(DoneEvent)
	if done.CompletedSlots != 5 {
		t.Fatalf("completedSlots = %d, want 5", done.CompletedSlots)
	}
}

func TestWorkflow_CommentCapThree(t *testing.T) {
	// Everyone piles onto slot 2; slot 2 targets its first listed peer.
	gw := &fakeGateway{complete: scriptModels(func(self int, prompt string) int {
		if self == 2 {
			return promptFirstPeer(prompt)
		}
		return 2
	})}
	events, _, sink := runWorkflow(t, gw, sixSlots())

	// All six comments are spoken, including the five aimed at slot 2 (audio emitted for every turn-2 success).
	turn2Audio := 0
	for _, e := range events {
		if d, ok := e.Data.(SlotAudioEvent); ok && d.TurnIndex == 2 {
			turn2Audio++
		}
	}
	if turn2Audio != 6 {
		t.Fatalf("expected 6 turn-2 audio events, got %d", turn2Audio)
	}

	// The reply prompt for slot 2 contains only the first three by fromSlot.
	gw.mu.Lock()
	var replyPrompt string
	for _, p := range gw.prompts {
		if strings.Contains(p, "acknowledged you") && strings.Contains(p, "comment from 1") {
			replyPrompt = p
		}
	}
	gw.mu.Unlock()
	if replyPrompt == "" {
		t.Fatalf("slot 2 reply prompt not found")
	}
	for _, want := range []string{"comment from 1", "comment from 3", "comment from 4"} {
		if !strings.Contains(replyPrompt, want) {
			t.Fatalf("reply prompt missing %q", want)
		}
	}
	for _, reject := range []string{"comment from 5", "comment from 6"} {
		if strings.Contains(replyPrompt, reject) {
			t.Fatalf("reply prompt contains surplus %q", reject)
		}
	}

	// Dialogue view mirrors the cap.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, d := range sink.dialogues {
		if d.TargetSlotID == 2 && len(d.Commenters) > 3 {
			t.Fatalf("dialogue exceeds comment cap: %d", len(d.Commenters))
		}
	}
}

func TestWorkflow_ZeroSuccessesSkipsLaterTurns(t *testing.T) {
	gw := &fakeGateway{complete: func(provider string, messages []llm.Message, schema json.RawMessage, params llm.Params) (json.RawMessage, error) {
		return nil, &llm.Error{Class: llm.ClassServerError, Message: "all down"}
	}}
	events, pool, _ := runWorkflow(t, gw, sixSlots())

	done := events[len(events)-1].Data.(DoneEvent)
	if done.CompletedSlots != 0 {
		t.Fatalf("completedSlots = %d, want 0", done.CompletedSlots)
	}
	for _, e := range events {
		if idx := eventTurnIndex(e); idx > 1 {
			t.Fatalf("unexpected event for turn %d after total failure", idx)
		}
		if e.Name == EventSummaryStart || e.Name == EventSummaryDone {
			t.Fatalf("summary must not run with zero successes")
		}
	}
	if len(pool.jobs) != 0 {
		t.Fatalf("no wave jobs expected, got %d", len(pool.jobs))
	}
}

func TestWorkflow_TTSErrorKeepsSlotDone(t *testing.T) {
	gw := &fakeGateway{complete: scriptModels(func(self int, prompt string) int {
		return (self % 6) + 1
	})}
	cfg := testConfig()
	renderer := &fakeRenderer{failOn: map[string]bool{"calm_soothing": true}}
	o := NewOrchestrator(cfg, gw, conversation.NewStore("p"), session.NewStore(t.TempDir()), renderer, &fakePool{}, nil, nil)
	stream, _, err := o.Run(context.Background(), "hi", sixSlots()[:1])
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var events []Event
	for e := range stream.Events() {
		events = append(events, e)
	}
	if countEvents(events, EventSlotDone) == 0 {
		t.Fatalf("slot.done must still fire when TTS fails")
	}
	if countEvents(events, EventSlotAudio) != 0 {
		t.Fatalf("slot.audio must be omitted on TTS failure")
	}
	sawTTSError := false
	for _, e := range events {
		if d, ok := e.Data.(SlotErrorEvent); ok && d.Error.Type == "tts_error" {
			sawTTSError = true
		}
	}
	if !sawTTSError {
		t.Fatalf("expected tts_error slot.error")
	}
	if events[len(events)-1].Name != EventDone {
		t.Fatalf("stream must still end with done")
	}
}

func TestWorkflow_SummaryAgentIsFirstSuccessfulSlot(t *testing.T) {
	// Slot 1 fails; slot 2 should carry the summary.
	base := scriptModels(func(self int, prompt string) int { return (self % 6) + 1 })
	gw := &fakeGateway{complete: func(provider string, messages []llm.Message, schema json.RawMessage, params llm.Params) (json.RawMessage, error) {
		if params.Model == "claude-sonnet-4-20250514" {
			return nil, &llm.Error{Class: llm.ClassServerError, Message: "down"}
		}
		return base(provider, messages, schema, params)
	}}
	events, _, _ := runWorkflow(t, gw, sixSlots())

	for _, e := range events {
		if d, ok := e.Data.(SummaryStartEvent); ok {
			if d.SlotID != 2 {
				t.Fatalf("summary agent slot = %d, want 2", d.SlotID)
			}
			return
		}
	}
	t.Fatalf("summary.start not emitted")
}

func TestBuildPeerPool_Deterministic(t *testing.T) {
	st := &state{
		sess:  &session.Session{ID: "fixed-session"},
		turn1: map[int]*turnResult{},
	}
	for i := 1; i <= 6; i++ {
		st.turn1[i] = &turnResult{slotID: i, agentID: "a", text: "t", success: true}
	}
	o := &Orchestrator{}
	a := o.buildPeerPool(st, 2)
	b := o.buildPeerPool(st, 2)
	if len(a) != 5 {
		t.Fatalf("expected 5 peers, got %d", len(a))
	}
	for i := range a {
		if a[i].SlotID != b[i].SlotID {
			t.Fatalf("shuffle not deterministic at %d: %d vs %d", i, a[i].SlotID, b[i].SlotID)
		}
		if a[i].SlotID == 2 {
			t.Fatalf("pool must exclude self")
		}
	}
}
