// Package events aggregates wave-job completions into semantic push messages
// for the visualisation renderer: one turn.waves_ready per turn, an optional
// dialogue.ready aggregate, and final_summary.ready for the closing waves.
package events

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/asaficontact/reflective-resonance/internal/waves"
	"github.com/asaficontact/reflective-resonance/internal/workflow"
)

// Orchestrator consumes the wave pool's result channel on a single goroutine
// that also owns all session state; workflow hooks and timers post commands
// onto the same goroutine, so no shared map ever needs a lock.
type Orchestrator struct {
	cmds    chan func()
	results <-chan waves.Result
	stop    chan struct{}
	stopped chan struct{}

	turnTimeout     time.Duration
	dialogueTimeout time.Duration

	sessions map[string]*sessionState
	// orphans holds results that arrived before their session was registered;
	// hook delivery and result delivery ride separate channels.
	orphans map[string][]waves.Result
	sender  *wsSender
}

// NewOrchestrator wires the pool's result channel to the push channel.
// turnTimeout bounds how long a turn waits for its waves before a partial
// message goes out; dialogueTimeout does the same for the summary.
func NewOrchestrator(results <-chan waves.Result, turnTimeout, dialogueTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		cmds:            make(chan func(), 256),
		results:         results,
		stop:            make(chan struct{}),
		stopped:         make(chan struct{}),
		turnTimeout:     turnTimeout,
		dialogueTimeout: dialogueTimeout,
		sessions:        make(map[string]*sessionState),
		orphans:         make(map[string][]waves.Result),
		sender:          newWSSender(),
	}
}

// Start launches the consumer goroutine.
func (o *Orchestrator) Start() {
	go o.consume()
	log.Printf("events: orchestrator started turn_timeout=%s dialogue_timeout=%s", o.turnTimeout, o.dialogueTimeout)
}

// Stop terminates the consumer and closes any connected client.
func (o *Orchestrator) Stop() {
	close(o.stop)
	<-o.stopped
	o.sender.close()
	log.Println("events: orchestrator stopped")
}

func (o *Orchestrator) consume() {
	defer close(o.stopped)
	for {
		select {
		case <-o.stop:
			return
		case cmd := <-o.cmds:
			cmd()
		case result, ok := <-o.results:
			if !ok {
				return
			}
			o.handleResult(result)
		}
	}
}

// post hands a command to the consumer goroutine without ever blocking the
// caller (the workflow or the wave pool).
func (o *Orchestrator) post(cmd func()) {
	select {
	case o.cmds <- cmd:
	default:
		log.Println("events: command queue full, dropping hook")
	}
}

// ----------------------------------------------------------------------------
// Workflow hooks (workflow.EventSink)

func (o *Orchestrator) BeginSession(sessionID string, slots []workflow.SlotAssignment) {
	o.post(func() {
		if _, exists := o.sessions[sessionID]; exists {
			log.Printf("events: session %s already tracked, resetting", sessionID)
		}
		o.sessions[sessionID] = newSessionState(sessionID, slots)
		log.Printf("events: session %s tracking %d slots", sessionID, len(slots))
		if pending := o.orphans[sessionID]; len(pending) > 0 {
			delete(o.orphans, sessionID)
			for _, r := range pending {
				o.handleResult(r)
			}
		}
	})
}

func (o *Orchestrator) TurnComplete(sessionID string, turnIndex int, expectedSlots []int) {
	o.post(func() {
		st, ok := o.sessions[sessionID]
		if !ok {
			log.Printf("events: TurnComplete for unknown session %s", sessionID)
			return
		}
		turn, ok := st.turns[turnIndex]
		if !ok {
			return
		}
		turn.completeCalled = true
		for _, slot := range expectedSlots {
			turn.expected[slot] = true
		}
		o.maybeEmitTurn(st, turnIndex, false)
		if !turn.emitted {
			o.startTimer(o.turnTimeout, func() {
				if s, ok := o.sessions[sessionID]; ok {
					o.maybeEmitTurn(s, turnIndex, true)
				}
			})
		}
	})
}

func (o *Orchestrator) SetDialogues(sessionID string, dialogues []workflow.Dialogue) {
	o.post(func() {
		if st, ok := o.sessions[sessionID]; ok {
			st.dialogues = dialogues
		}
	})
}

func (o *Orchestrator) SummaryComplete(sessionID, text, voiceProfile string) {
	o.post(func() {
		st, ok := o.sessions[sessionID]
		if !ok {
			return
		}
		sum := st.summaryState()
		sum.armed = true
		sum.text = text
		sum.voiceProfile = voiceProfile
		o.maybeEmitSummary(st, false)
		if !sum.emitted {
			o.startTimer(o.dialogueTimeout, func() {
				if s, ok := o.sessions[sessionID]; ok {
					o.maybeEmitSummary(s, true)
				}
			})
		}
	})
}

func (o *Orchestrator) SessionComplete(sessionID string) {
	o.post(func() {
		if st, ok := o.sessions[sessionID]; ok {
			st.workflowDone = true
			o.maybeCleanup(st)
		}
	})
}

func (o *Orchestrator) PublishSentiment(sessionID, sentiment, justification string) {
	o.post(func() {
		st, ok := o.sessions[sessionID]
		if !ok {
			return
		}
		o.sender.send(newEnvelope(TypeUserSentiment, sessionID, st.nextSeq(), UserSentimentPayload{
			Sentiment:     sentiment,
			Justification: justification,
		}))
	})
}

// startTimer schedules fn back onto the consumer goroutine.
func (o *Orchestrator) startTimer(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { o.post(fn) })
}

// ----------------------------------------------------------------------------
// Result consumption

func (o *Orchestrator) handleResult(result waves.Result) {
	st, ok := o.sessions[result.Job.SessionID]
	if !ok {
		if len(o.orphans) < 64 && len(o.orphans[result.Job.SessionID]) < 32 {
			o.orphans[result.Job.SessionID] = append(o.orphans[result.Job.SessionID], result)
		} else {
			log.Printf("events: result for unknown session %s, dropping", result.Job.SessionID)
		}
		return
	}
	if !result.Success {
		log.Printf("events: wave job failed session=%s turn=%d slot=%d: %s",
			result.Job.SessionID, result.Job.TurnIndex, result.Job.SourceSlotID, result.Error)
		return
	}

	if result.Job.TurnIndex == 4 {
		sum := st.summaryState()
		sum.tracks = result.Tracks
		if sum.voiceProfile == "" {
			sum.voiceProfile = result.Job.VoiceProfile
		}
		if sum.text == "" {
			sum.text = result.Job.SummaryText
		}
		o.maybeEmitSummary(st, false)
		return
	}

	turn, ok := st.turns[result.Job.TurnIndex]
	if !ok || turn.emitted {
		return
	}
	slot := result.Job.SourceSlotID
	turn.ready[slot] = result.Tracks
	turn.agents[slot] = result.Job.AgentID
	turn.profiles[slot] = result.Job.VoiceProfile
	log.Printf("events: turn %d slot %d waves ready (%d/%d)",
		result.Job.TurnIndex, slot, len(turn.ready), len(turn.expected))
	o.maybeEmitTurn(st, result.Job.TurnIndex, false)
}

// ----------------------------------------------------------------------------
// Emission

func (o *Orchestrator) maybeEmitTurn(st *sessionState, turnIndex int, timedOut bool) {
	turn := st.turns[turnIndex]
	if turn == nil || turn.emitted || !turn.completeCalled {
		return
	}
	if !turn.allReady() && !timedOut {
		return
	}
	turn.emitted = true

	missing := turn.missingSlots()
	status := "complete"
	if len(missing) > 0 {
		status = "partial"
	}

	slotIDs := make([]int, 0, len(turn.ready))
	for slot := range turn.ready {
		slotIDs = append(slotIDs, slot)
	}
	sort.Ints(slotIDs)
	slots := make([]SlotWaves, 0, len(slotIDs))
	for _, slot := range slotIDs {
		slots = append(slots, SlotWaves{
			SlotID:       slot,
			AgentID:      turn.agents[slot],
			VoiceProfile: turn.profiles[slot],
			Waves:        toTrackInfos(turn.ready[slot]),
		})
	}

	o.sender.send(newEnvelope(TypeTurnWavesReady, st.id, st.nextSeq(), TurnWavesReadyPayload{
		TurnIndex:      turnIndex,
		Status:         status,
		SlotsExpected:  len(turn.expected),
		SlotsReady:     len(turn.ready),
		Slots:          slots,
		MissingSlotIDs: missing,
	}))
	log.Printf("events: emitted turn.waves_ready session=%s turn=%d status=%s slots=%d/%d",
		st.id, turnIndex, status, len(turn.ready), len(turn.expected))

	if turnIndex == 3 || st.turns[3].emitted {
		o.maybeEmitDialogue(st)
	}
	o.maybeCleanup(st)
}

// maybeEmitDialogue publishes the aggregate dialogue view once all three
// turn messages went out.
func (o *Orchestrator) maybeEmitDialogue(st *sessionState) {
	if st.dialogueEmitted || len(st.dialogues) == 0 || !st.allTurnsEmitted() {
		return
	}
	st.dialogueEmitted = true

	views := make([]DialogueView, 0, len(st.dialogues))
	for _, d := range st.dialogues {
		view := DialogueView{
			DialogueID:   fmt.Sprintf("turn23-slot%d", d.TargetSlotID),
			TargetSlotID: d.TargetSlotID,
			Respondent:   o.participantView(st, 3, d.Respondent),
		}
		for _, c := range d.Commenters {
			view.Commenters = append(view.Commenters, o.participantView(st, 2, c))
		}
		views = append(views, view)
	}

	o.sender.send(newEnvelope(TypeDialogueReady, st.id, st.nextSeq(), DialogueReadyPayload{Dialogues: views}))
	log.Printf("events: emitted dialogue.ready session=%s dialogues=%d", st.id, len(views))
}

func (o *Orchestrator) participantView(st *sessionState, turnIndex int, p workflow.DialogueParticipant) DialogueParticipantView {
	view := DialogueParticipantView{
		SlotID:       p.SlotID,
		AgentID:      p.AgentID,
		VoiceProfile: p.VoiceProfile,
		AudioPath:    p.AudioPath,
	}
	if turn := st.turns[turnIndex]; turn != nil {
		if tracks, ok := turn.ready[p.SlotID]; ok {
			view.Waves = toTrackInfos(tracks)
		}
	}
	return view
}

func (o *Orchestrator) maybeEmitSummary(st *sessionState, timedOut bool) {
	sum := st.summary
	if sum == nil || sum.emitted || !sum.armed {
		return
	}
	bySlot := make(map[int]waves.Track, len(sum.tracks))
	for _, t := range sum.tracks {
		bySlot[t.TargetSlotID] = t
	}
	var missing []int
	for slot := 1; slot <= 6; slot++ {
		if _, ok := bySlot[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	if len(missing) > 0 && !timedOut {
		return
	}
	sum.emitted = true

	status := "complete"
	if len(missing) > 0 {
		status = "partial"
	}
	slotWaves := make([]SummarySlotWave, 0, len(bySlot))
	for slot := 1; slot <= 6; slot++ {
		if t, ok := bySlot[slot]; ok {
			slotWaves = append(slotWaves, SummarySlotWave{SlotID: slot, Wave: toTrackInfos([]waves.Track{t})[0]})
		}
	}

	o.sender.send(newEnvelope(TypeFinalSummaryReady, st.id, st.nextSeq(), FinalSummaryReadyPayload{
		Status:         status,
		Text:           sum.text,
		VoiceProfile:   sum.voiceProfile,
		Waves:          slotWaves,
		MissingSlotIDs: missing,
	}))
	log.Printf("events: emitted final_summary.ready session=%s status=%s", st.id, status)
	o.maybeCleanup(st)
}

// maybeCleanup drops session state once nothing further can be emitted.
func (o *Orchestrator) maybeCleanup(st *sessionState) {
	if !st.workflowDone || !st.allTurnsEmitted() {
		return
	}
	if st.summary != nil && st.summary.armed && !st.summary.emitted {
		return
	}
	delete(o.sessions, st.id)
	delete(o.orphans, st.id)
	log.Printf("events: session %s state released", st.id)
}
