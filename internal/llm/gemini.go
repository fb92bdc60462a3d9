package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient implements Provider over the google generative-ai SDK.
// Structured output uses the JSON response MIME type with the schema
// restated in the final user turn.
type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &Error{Class: ClassUnknown, Message: "google api key missing"}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &Error{Class: Classify(err), Message: fmt.Sprintf("gemini: %v", err), Err: err}
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Close() error { return g.client.Close() }

// buildModel configures a generative model for one call. Conversation history
// is carried by the caller, so no chat session state is kept here.
func (g *GeminiClient) buildModel(messages []Message, params Params, jsonOut bool) (*genai.GenerativeModel, []genai.Part) {
	model := g.client.GenerativeModel(params.Model)
	temp := float32(params.Temperature)
	model.SetTemperature(temp)
	if params.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(params.MaxTokens))
	}
	if jsonOut {
		model.ResponseMIMEType = "application/json"
	}

	var system strings.Builder
	var convo strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		case "assistant":
			convo.WriteString("[ASSISTANT] ")
			convo.WriteString(m.Content)
			convo.WriteString("\n")
		default:
			convo.WriteString("[USER] ")
			convo.WriteString(m.Content)
			convo.WriteString("\n")
		}
	}
	if system.Len() > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system.String()))
	}
	return model, []genai.Part{genai.Text(convo.String())}
}

func (g *GeminiClient) StructuredComplete(ctx context.Context, messages []Message, schema json.RawMessage, params Params) (json.RawMessage, error) {
	model, parts := g.buildModel(messages, params, true)
	parts = append(parts, genai.Text("Respond with a single JSON object conforming to this JSON schema:\n"+string(schema)))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &Error{Class: Classify(err), Message: fmt.Sprintf("gemini: %v", err), Err: err}
	}
	text := collectGeminiText(resp)
	if text == "" {
		return nil, &Error{Class: ClassServerError, Message: "gemini: empty candidates"}
	}
	return ExtractJSON(text)
}

// StreamTokens streams text chunks via GenerateContentStream.
func (g *GeminiClient) StreamTokens(ctx context.Context, messages []Message, params Params) (<-chan string, <-chan error) {
	tokens := make(chan string, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		model, parts := g.buildModel(messages, params, false)
		iter := model.GenerateContentStream(ctx, parts...)
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- &Error{Class: Classify(err), Message: fmt.Sprintf("gemini stream: %v", err), Err: err}
				return
			}
			if text := collectGeminiText(resp); text != "" {
				select {
				case tokens <- text:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return tokens, errs
}

func collectGeminiText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				b.WriteString(string(txt))
			}
		}
	}
	return strings.TrimSpace(b.String())
}
