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

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIClient talks to the OpenAI chat completions API. Structured output
// uses the json_schema response format so the model is constrained server-side.
type OpenAIClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaJSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type oaResponseFormat struct {
	Type       string        `json:"type"`
	JSONSchema *oaJSONSchema `json:"json_schema,omitempty"`
}

type oaRequest struct {
	Model          string            `json:"model"`
	Messages       []oaMessage       `json:"messages"`
	Temperature    float64           `json:"temperature,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Stream         bool              `json:"stream,omitempty"`
	ResponseFormat *oaResponseFormat `json:"response_format,omitempty"`
}

type oaChoice struct {
	Index        int       `json:"index"`
	FinishReason string    `json:"finish_reason"`
	Message      oaMessage `json:"message"`
}

type oaResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []oaChoice `json:"choices"`
}

type oaStreamDelta struct {
	Content string `json:"content"`
}

type oaStreamChoice struct {
	Delta        oaStreamDelta `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

type oaStreamChunk struct {
	Choices []oaStreamChoice `json:"choices"`
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		HTTPClient: &http.Client{},
		APIKey:     apiKey,
		BaseURL:    openAIEndpoint,
	}
}

func (c *OpenAIClient) StructuredComplete(ctx context.Context, messages []Message, schema json.RawMessage, params Params) (json.RawMessage, error) {
	if c.APIKey == "" {
		return nil, &Error{Class: ClassUnknown, Message: "openai api key missing"}
	}
	body := oaRequest{
		Model:       params.Model,
		Messages:    toOAMessages(messages),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		ResponseFormat: &oaResponseFormat{
			Type:       "json_schema",
			JSONSchema: &oaJSONSchema{Name: "response", Strict: true, Schema: schema},
		},
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Class: ClassServerError, Message: "openai: empty choices"}
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	return ExtractJSON(raw)
}

func (c *OpenAIClient) post(ctx context.Context, body oaRequest) (*oaResponse, error) {
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, transportError("openai", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError("openai", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, statusError("openai", resp.StatusCode, b)
	}
	var out oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, transportError("openai", err)
	}
	return &out, nil
}

// StreamTokens reads the SSE stream from the chat completions endpoint and
// forwards content deltas.
func (c *OpenAIClient) StreamTokens(ctx context.Context, messages []Message, params Params) (<-chan string, <-chan error) {
	tokens := make(chan string, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		if c.APIKey == "" {
			errs <- &Error{Class: ClassUnknown, Message: "openai api key missing"}
			return
		}
		body := oaRequest{
			Model:       params.Model,
			Messages:    toOAMessages(messages),
			Temperature: params.Temperature,
			MaxTokens:   params.MaxTokens,
			Stream:      true,
		}
		buf, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(buf))
		if err != nil {
			errs <- transportError("openai", err)
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")

		client := &http.Client{Timeout: params.Timeout + 5*time.Second}
		resp, err := client.Do(req)
		if err != nil {
			errs <- transportError("openai", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			errs <- statusError("openai", resp.StatusCode, b)
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
			if data == "[DONE]" {
				return
			}
			var chunk oaStreamChunk
			if json.Unmarshal([]byte(data), &chunk) != nil {
				continue
			}
			for _, ch := range chunk.Choices {
				if ch.Delta.Content != "" {
					select {
					case tokens <- ch.Delta.Content:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- transportError("openai", err)
		}
	}()
	return tokens, errs
}

func toOAMessages(messages []Message) []oaMessage {
	out := make([]oaMessage, len(messages))
	for i, m := range messages {
		out[i] = oaMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// ExtractJSON pulls the first JSON object out of model text, tolerating
// markdown code fences some models wrap around structured output.
func ExtractJSON(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, &Error{Class: ClassServerError, Message: "no JSON object in model output: " + truncate(s, 120)}
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, &Error{Class: ClassServerError, Message: "invalid JSON in model output: " + truncate(candidate, 120)}
	}
	return json.RawMessage(candidate), nil
}
