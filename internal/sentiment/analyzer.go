// Package sentiment classifies the visitor's message so the renderer can
// shade its loading effects before the first turn lands.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/asaficontact/reflective-resonance/internal/llm"
	"github.com/asaficontact/reflective-resonance/internal/workflow"
)

var resultSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"sentiment": {"type": "string", "enum": ["positive", "neutral", "negative"]},
		"justification": {"type": "string", "minLength": 1}
	},
	"required": ["sentiment", "justification"],
	"additionalProperties": false
}`)

type result struct {
	Sentiment     string `json:"sentiment"`
	Justification string `json:"justification"`
}

// Analyzer runs a fast classification on a small model.
type Analyzer struct {
	gateway  workflow.StructuredLLM
	provider string
	model    string
	timeout  time.Duration
}

// NewAnalyzer builds an analyzer on the given provider/model pair.
func NewAnalyzer(gateway workflow.StructuredLLM, provider, model string) *Analyzer {
	return &Analyzer{gateway: gateway, provider: provider, model: model, timeout: 10 * time.Second}
}

// Analyze classifies one message. Failures are reported, never fatal.
func (a *Analyzer) Analyze(ctx context.Context, message string) (string, string, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	messages := []llm.Message{{Role: "user", Content: workflow.RenderSentimentPrompt(message)}}
	raw, err := a.gateway.StructuredComplete(cctx, a.provider, messages, resultSchema, llm.Params{
		Model:       a.model,
		Temperature: 0.3,
		MaxTokens:   100,
		Timeout:     a.timeout,
	})
	if err != nil {
		return "", "", err
	}
	var r result
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", "", fmt.Errorf("malformed sentiment: %w", err)
	}
	switch r.Sentiment {
	case "positive", "neutral", "negative":
	default:
		return "", "", fmt.Errorf("invalid sentiment value %q", r.Sentiment)
	}
	log.Printf("sentiment: %s - %.60s", r.Sentiment, r.Justification)
	return r.Sentiment, r.Justification, nil
}
