package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Params carries per-call generation parameters.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Provider is the minimal capability set every model backend implements.
type Provider interface {
	// StructuredComplete returns a JSON value conforming to the given JSON schema.
	StructuredComplete(ctx context.Context, messages []Message, schema json.RawMessage, params Params) (json.RawMessage, error)
	// StreamTokens emits text chunks as they arrive. Both channels are closed
	// when the stream ends; at most one error is sent.
	StreamTokens(ctx context.Context, messages []Message, params Params) (<-chan string, <-chan error)
}

// Gateway wraps a set of named providers with timeouts and bounded retries
// for transient failures. Retry only applies to idempotent transient classes;
// everything else surfaces immediately.
type Gateway struct {
	providers map[string]Provider
	retries   int
	timeout   time.Duration
}

// NewGateway builds a gateway over the given provider map.
func NewGateway(providers map[string]Provider, retries int, timeout time.Duration) *Gateway {
	if retries < 1 {
		retries = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{providers: providers, retries: retries, timeout: timeout}
}

func (g *Gateway) provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, &Error{Class: ClassUnknown, Message: fmt.Sprintf("unknown provider %q", name)}
	}
	return p, nil
}

// StructuredComplete calls the named provider, retrying transient failures
// with exponential backoff.
func (g *Gateway) StructuredComplete(ctx context.Context, providerName string, messages []Message, schema json.RawMessage, params Params) (json.RawMessage, error) {
	p, err := g.provider(providerName)
	if err != nil {
		return nil, err
	}
	if params.Timeout <= 0 {
		params.Timeout = g.timeout
	}

	var lastErr error
	for attempt := 1; attempt <= g.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, params.Timeout)
		out, err := p.StructuredComplete(callCtx, messages, schema, params)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < g.retries {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			log.Printf("llm: %s attempt %d/%d failed (%s), retrying in %s",
				providerName, attempt, g.retries, Classify(err), backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &Error{Class: ClassTimeout, Message: "context cancelled during backoff", Err: ctx.Err()}
			}
		}
	}
	return nil, lastErr
}

// StreamTokens opens a token stream on the named provider. Streams are not
// retried; transient failures surface on the error channel.
func (g *Gateway) StreamTokens(ctx context.Context, providerName string, messages []Message, params Params) (<-chan string, <-chan error) {
	p, err := g.provider(providerName)
	if err != nil {
		tokens := make(chan string)
		errs := make(chan error, 1)
		errs <- err
		close(tokens)
		close(errs)
		return tokens, errs
	}
	if params.Timeout <= 0 {
		params.Timeout = g.timeout
	}
	return p.StreamTokens(ctx, messages, params)
}
