package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicEndpoint   = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient talks to the Anthropic messages API. The messages API has
// no schema-constrained response mode, so the schema is appended to the
// system prompt and the reply is parsed as JSON.
type AnthropicClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

type anMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anRequest struct {
	Model       string      `json:"model"`
	System      string      `json:"system,omitempty"`
	Messages    []anMessage `json:"messages"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float64     `json:"temperature,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type anContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anResponse struct {
	ID         string           `json:"id"`
	Content    []anContentBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

type anStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		HTTPClient: &http.Client{},
		APIKey:     apiKey,
		BaseURL:    anthropicEndpoint,
	}
}

// splitSystem separates a leading system message from the chat turns; the
// messages API takes system text as a top-level field.
func splitSystem(messages []Message) (string, []anMessage) {
	var system string
	out := make([]anMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
			continue
		}
		out = append(out, anMessage{Role: m.Role, Content: m.Content})
	}
	return system, out
}

func (c *AnthropicClient) StructuredComplete(ctx context.Context, messages []Message, schema json.RawMessage, params Params) (json.RawMessage, error) {
	if c.APIKey == "" {
		return nil, &Error{Class: ClassUnknown, Message: "anthropic api key missing"}
	}
	system, turns := splitSystem(messages)
	system += "\n\nRespond with a single JSON object and nothing else, conforming to this JSON schema:\n" + string(schema)

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anRequest{
		Model:       params.Model,
		System:      system,
		Messages:    turns,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, transportError("anthropic", err)
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Anthropic-Version", anthropicAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError("anthropic", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, statusError("anthropic", resp.StatusCode, b)
	}
	var out anResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, transportError("anthropic", err)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &Error{Class: ClassServerError, Message: "anthropic: empty content"}
	}
	return ExtractJSON(text.String())
}

// StreamTokens reads the messages SSE stream and forwards text deltas.
func (c *AnthropicClient) StreamTokens(ctx context.Context, messages []Message, params Params) (<-chan string, <-chan error) {
	tokens := make(chan string, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		if c.APIKey == "" {
			errs <- &Error{Class: ClassUnknown, Message: "anthropic api key missing"}
			return
		}
		system, turns := splitSystem(messages)
		maxTokens := params.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 1024
		}
		body := anRequest{
			Model:       params.Model,
			System:      system,
			Messages:    turns,
			MaxTokens:   maxTokens,
			Temperature: params.Temperature,
			Stream:      true,
		}
		buf, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(buf))
		if err != nil {
			errs <- transportError("anthropic", err)
			return
		}
		req.Header.Set("X-Api-Key", c.APIKey)
		req.Header.Set("Anthropic-Version", anthropicAPIVersion)
		req.Header.Set("Content-Type", "application/json")

		client := &http.Client{Timeout: params.Timeout + 5*time.Second}
		resp, err := client.Do(req)
		if err != nil {
			errs <- transportError("anthropic", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			errs <- statusError("anthropic", resp.StatusCode, b)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var ev anStreamEvent
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			if ev.Type == "message_stop" {
				return
			}
			if ev.Type == "content_block_delta" && ev.Delta.Text != "" {
				select {
				case tokens <- ev.Delta.Text:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- transportError("anthropic", err)
		}
	}()
	return tokens, errs
}
