// Package conversation keeps per-slot chat history for the lifetime of the
// process. Continuity across requests is intentional: the installation's
// voices remember earlier whispers until an explicit reset.
package conversation

import (
	"sort"
	"sync"

	"github.com/asaficontact/reflective-resonance/internal/llm"
)

// allSlots is the fixed set of speaker slots.
var allSlots = []int{1, 2, 3, 4, 5, 6}

// Store owns one conversation per slot. The orchestrator serialises writes to
// a slot within a request; the mutex only guards map access across requests.
type Store struct {
	mu            sync.Mutex
	conversations map[int]*Conversation
	systemPrompt  string
}

// Conversation is an append-only message sequence. The first entry is always
// the seeded system prompt.
type Conversation struct {
	messages []llm.Message
}

// NewStore creates a store seeding new conversations with systemPrompt.
func NewStore(systemPrompt string) *Store {
	return &Store{
		conversations: make(map[int]*Conversation),
		systemPrompt:  systemPrompt,
	}
}

// Get returns the conversation for a slot, creating and seeding it on first access.
func (s *Store) Get(slotID int) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[slotID]
	if !ok {
		conv = &Conversation{messages: []llm.Message{{Role: "system", Content: s.systemPrompt}}}
		s.conversations[slotID] = conv
	}
	return conv
}

// ActiveSlots lists slots with seeded conversations.
func (s *Store) ActiveSlots() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := make([]int, 0, len(s.conversations))
	for id := range s.conversations {
		slots = append(slots, id)
	}
	return slots
}

// ResetAll clears every conversation and returns the slot ids that were
// cleared; when none were active all six slots are reported so the UI can
// reset unconditionally.
func (s *Store) ResetAll() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := make([]int, 0, len(s.conversations))
	for id := range s.conversations {
		cleared = append(cleared, id)
	}
	s.conversations = make(map[int]*Conversation)
	if len(cleared) == 0 {
		return append([]int(nil), allSlots...)
	}
	sort.Ints(cleared)
	return cleared
}

// AppendUser records a user message.
func (c *Conversation) AppendUser(text string) {
	c.messages = append(c.messages, llm.Message{Role: "user", Content: text})
}

// AppendAssistant records an assistant message.
func (c *Conversation) AppendAssistant(text string) {
	c.messages = append(c.messages, llm.Message{Role: "assistant", Content: text})
}

// History returns a copy of the message sequence.
func (c *Conversation) History() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len reports the number of messages including the system seed.
func (c *Conversation) Len() int { return len(c.messages) }
