package events

import (
	"sort"

	"github.com/asaficontact/reflective-resonance/internal/waves"
	"github.com/asaficontact/reflective-resonance/internal/workflow"
)

// turnState tracks one turn's wave readiness for a session.
type turnState struct {
	// expected is set when the workflow reports the turn complete; until then
	// results accumulate but nothing can be emitted.
	expected       map[int]bool
	completeCalled bool

	ready    map[int][]waves.Track
	agents   map[int]string
	profiles map[int]string

	emitted bool
}

func newTurnState() *turnState {
	return &turnState{
		expected: make(map[int]bool),
		ready:    make(map[int][]waves.Track),
		agents:   make(map[int]string),
		profiles: make(map[int]string),
	}
}

func (t *turnState) allReady() bool {
	if !t.completeCalled {
		return false
	}
	for slot := range t.expected {
		if _, ok := t.ready[slot]; !ok {
			return false
		}
	}
	return true
}

func (t *turnState) missingSlots() []int {
	var missing []int
	for slot := range t.expected {
		if _, ok := t.ready[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	sort.Ints(missing)
	return missing
}

// summaryState tracks the turn-4 summary waves.
type summaryState struct {
	armed        bool
	text         string
	voiceProfile string
	tracks       []waves.Track
	emitted      bool
}

// sessionState is all per-session readiness bookkeeping. It is touched only
// by the orchestrator's single consumer goroutine, so it carries no locks.
type sessionState struct {
	id    string
	seq   int
	slots map[int]string // slotId -> agentId

	turns     map[int]*turnState // 1..3
	summary   *summaryState
	dialogues []workflow.Dialogue

	dialogueEmitted bool
	workflowDone    bool
}

func newSessionState(id string, slots []workflow.SlotAssignment) *sessionState {
	s := &sessionState{
		id:    id,
		slots: make(map[int]string, len(slots)),
		turns: map[int]*turnState{1: newTurnState(), 2: newTurnState(), 3: newTurnState()},
	}
	for _, slot := range slots {
		s.slots[slot.SlotID] = slot.AgentID
	}
	return s
}

func (s *sessionState) nextSeq() int {
	s.seq++
	return s.seq
}

// allTurnsEmitted reports whether every tracked turn message went out.
func (s *sessionState) allTurnsEmitted() bool {
	for _, t := range s.turns {
		if !t.emitted {
			return false
		}
	}
	return true
}

// summaryState is lazily created: a wave result can land before the hook
// arms the summary expectation.
func (s *sessionState) summaryState() *summaryState {
	if s.summary == nil {
		s.summary = &summaryState{}
	}
	return s.summary
}
