// Package agents holds the fixed agent enumeration and its mapping to
// concrete providers and models. The ids are UI-stable; rewiring to a newer
// model changes only this table.
package agents

import "fmt"

// ID is a symbolic agent identifier, one of six fixed values.
type ID string

const (
	ClaudeSonnet ID = "claude-sonnet-4-5"
	ClaudeOpus   ID = "claude-opus-4-5"
	GPT52        ID = "gpt-5.2"
	GPT51        ID = "gpt-5.1"
	GPT4o        ID = "gpt-4o"
	Gemini3      ID = "gemini-3"
)

// Binding resolves an agent id to a provider name and model string.
type Binding struct {
	Provider string
	Model    string
}

var modelMap = map[ID]Binding{
	ClaudeSonnet: {Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
	ClaudeOpus:   {Provider: "anthropic", Model: "claude-opus-4-20250514"},
	GPT52:        {Provider: "openai", Model: "gpt-4.1"},
	GPT51:        {Provider: "openai", Model: "gpt-4o"},
	GPT4o:        {Provider: "openai", Model: "gpt-4o"},
	Gemini3:      {Provider: "google", Model: "gemini-2.0-flash"},
}

// Agent is the display descriptor served by GET /v1/agents.
type Agent struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// All lists the six agents in their stable order.
var All = []Agent{
	{ID: ClaudeSonnet, Name: "Claude Sonnet 4.5", Provider: "anthropic", Model: modelMap[ClaudeSonnet].Model, Description: "Anthropic's fast, capable model", Color: "#7c3aed"},
	{ID: ClaudeOpus, Name: "Claude Opus 4.5", Provider: "anthropic", Model: modelMap[ClaudeOpus].Model, Description: "Anthropic's most capable model", Color: "#a855f7"},
	{ID: GPT52, Name: "GPT 5.2", Provider: "openai", Model: modelMap[GPT52].Model, Description: "Latest GPT series model", Color: "#10b981"},
	{ID: GPT51, Name: "GPT 5.1", Provider: "openai", Model: modelMap[GPT51].Model, Description: "Advanced GPT-4o model", Color: "#06b6d4"},
	{ID: GPT4o, Name: "GPT 4o", Provider: "openai", Model: modelMap[GPT4o].Model, Description: "OpenAI's multimodal flagship", Color: "#0ea5e9"},
	{ID: Gemini3, Name: "Gemini 3", Provider: "google", Model: modelMap[Gemini3].Model, Description: "Google's fast Gemini model", Color: "#f59e0b"},
}

// Resolve returns the provider/model binding for an agent id.
func Resolve(id ID) (Binding, error) {
	b, ok := modelMap[id]
	if !ok {
		return Binding{}, fmt.Errorf("unknown agent id %q", id)
	}
	return b, nil
}

// Valid reports whether id is one of the six known agents.
func Valid(id ID) bool {
	_, ok := modelMap[id]
	return ok
}
