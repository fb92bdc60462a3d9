package agents

import "testing"

func TestResolve_AllAgentsBound(t *testing.T) {
	for _, a := range All {
		b, err := Resolve(a.ID)
		if err != nil {
			t.Fatalf("resolve %s: %v", a.ID, err)
		}
		if b.Provider == "" || b.Model == "" {
			t.Fatalf("agent %s has empty binding", a.ID)
		}
		if b.Provider != a.Provider {
			t.Fatalf("agent %s provider mismatch: %s vs %s", a.ID, b.Provider, a.Provider)
		}
	}
}

func TestResolve_Unknown(t *testing.T) {
	if _, err := Resolve("gpt-9000"); err == nil {
		t.Fatalf("expected error for unknown agent")
	}
	if Valid("gpt-9000") {
		t.Fatalf("expected invalid")
	}
	if !Valid(GPT4o) {
		t.Fatalf("expected valid")
	}
}

func TestAll_SixStableAgents(t *testing.T) {
	if len(All) != 6 {
		t.Fatalf("expected 6 agents, got %d", len(All))
	}
	seen := map[ID]bool{}
	for _, a := range All {
		if seen[a.ID] {
			t.Fatalf("duplicate agent id %s", a.ID)
		}
		seen[a.ID] = true
	}
}
