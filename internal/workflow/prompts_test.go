package workflow

import (
	"strings"
	"testing"
)

func TestRenderTurn1Prompt(t *testing.T) {
	p := renderTurn1Prompt("hello water")
	if !strings.Contains(p, "hello water") {
		t.Fatalf("prompt missing user message: %s", p)
	}
	if !strings.Contains(p, "voice_profile") {
		t.Fatalf("prompt missing response format hint")
	}
}

func TestRenderTurn2Prompt_ListsPeers(t *testing.T) {
	p := renderTurn2Prompt(2, []PeerResponse{
		{SlotID: 1, AgentID: "gpt-4o", Text: "a ripple"},
		{SlotID: 3, AgentID: "gemini-3", Text: "stillness"},
	})
	if !strings.Contains(p, "Slot 1 (gpt-4o)") || !strings.Contains(p, "Slot 3 (gemini-3)") {
		t.Fatalf("prompt missing peers: %s", p)
	}
	if !strings.Contains(p, "targetSlotId") {
		t.Fatalf("prompt missing selection format")
	}
}

func TestRenderTurn3Prompt_IncludesComments(t *testing.T) {
	p := renderTurn3Prompt(4, "my first words", []ReceivedComment{
		{FromSlotID: 1, FromAgentID: "gpt-4o", Comment: "lovely"},
	})
	if !strings.Contains(p, "my first words") || !strings.Contains(p, "lovely") {
		t.Fatalf("prompt incomplete: %s", p)
	}
}

func TestRenderTurn4Prompt_TemporalOrder(t *testing.T) {
	p := renderTurn4Prompt("whisper", []SummaryItem{
		{SlotID: 1, TurnLabel: "first reflection", Text: "one"},
		{SlotID: 2, TurnLabel: "acknowledgment", Text: "two"},
	})
	if strings.Index(p, "one") > strings.Index(p, "two") {
		t.Fatalf("summary items out of order")
	}
}

func TestTruncateAtSentence(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"Short enough.", 100, "Short enough."},
		{"First sentence. Second sentence that is long.", 20, "First sentence."},
		{"One two three four five six", 12, "One two"},
	}
	for _, tc := range cases {
		got := truncateAtSentence(tc.in, tc.max)
		if got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if len([]rune(got)) > tc.max {
			t.Fatalf("truncate exceeded cap: %q", got)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("  Hello world.  How are you?\nI am fine!  ")
	want := []string{"Hello world.", "How are you?", "I am fine!"}
	if len(got) != len(want) {
		t.Fatalf("len mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("elem %d: %q want %q", i, got[i], want[i])
		}
	}
	if splitSentences("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}
