// Package llm implements the LLM Client (spec §4.6): plain-text and
// schema-constrained chat completions over an OpenAI-compatible API,
// with retry on transient failures. It keeps the teacher's openai.Client
// interface (github.com/sashabaranov/go-openai) and generalizes the
// teacher's linear fetch retry loop (internal/fetch/fetch.go's old Get)
// into exponential backoff, and generates JSON Schemas with
// github.com/invopop/jsonschema the way Tangerg-lynx/pkg/json/schema.go
// does for its own structured LLM calls.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/arborly/scoutline/internal/budget"
	"github.com/arborly/scoutline/internal/perrors"
)

// Client is the minimal interface needed by core logic to call a chat
// model. It mirrors the CreateChatCompletion method so any
// OpenAI-compatible or local backend can be adapted; ListModels is the
// separate, optional ModelLister capability.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelLister is an optional capability for listing available models.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIProvider adapts *openai.Client to Client/ModelLister.
type OpenAIProvider struct {
	Inner *openai.Client
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

func (p *OpenAIProvider) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return p.Inner.ListModels(ctx)
}

// rawSchema adapts a pre-marshaled JSON Schema document (as produced by
// github.com/invopop/jsonschema) to go-openai's json.Marshaler-typed
// Schema field, so the schema generator and the API client never need to
// agree on a concrete Go schema type.
type rawSchema []byte

func (r rawSchema) MarshalJSON() ([]byte, error) { return r, nil }

// Completer wraps a Client with the model, retry, and timeout policy
// shared by every pipeline phase that calls the LLM.
type Completer struct {
	Client Client
	Model  string
	// Temperature is the sampling temperature forwarded to every request
	// (spec.md §6's "Sampling temperature"). Zero is a valid, deterministic
	// setting and is sent as-is; it is not defaulted like the retry fields
	// below.
	Temperature float32

	// MaxAttempts includes the initial attempt. Zero means 3, per spec.md's
	// "3 attempts, base 1s, cap 10s" retry policy.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CallTimeout bounds a single attempt.
	CallTimeout time.Duration
}

func (c *Completer) attempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return 3
}

func (c *Completer) baseDelay() time.Duration {
	if c.BaseDelay > 0 {
		return c.BaseDelay
	}
	return time.Second
}

func (c *Completer) maxDelay() time.Duration {
	if c.MaxDelay > 0 {
		return c.MaxDelay
	}
	return 10 * time.Second
}

// capMaxTokens clamps a requested output token budget so system+user+output
// fits the model's estimated context window (less headroom), using
// internal/budget's char-per-token heuristic the same way the teacher's
// internal/app/budgeting.go sizes excerpts before a synthesis call. When
// the prompt alone leaves no room, the requested budget is returned
// unchanged.
func (c *Completer) capMaxTokens(system, user string, maxTokens int) int {
	promptTokens := budget.EstimatePromptTokens(system, user, nil)
	remaining := budget.RemainingContextWithHeadroom(c.Model, 0, promptTokens)
	if remaining <= 0 {
		return maxTokens
	}
	if maxTokens <= 0 || maxTokens > remaining {
		return remaining
	}
	return maxTokens
}

// CompleteText issues a free-form completion, retrying transient
// failures with exponential backoff.
func (c *Completer) CompleteText(ctx context.Context, system, user string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.capMaxTokens(system, user, maxTokens),
		Temperature: c.Temperature,
	}
	resp, err := c.callWithRetry(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion: %w", perrors.ErrLLMBadOutput)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteStructured issues a completion constrained to schema, a Go
// value whose type describes the desired JSON shape (e.g. a slice of
// strings, or a struct with a single integer score field). It unmarshals
// the response into out and returns only an error.
func (c *Completer) CompleteStructured(ctx context.Context, system, user string, schema any, maxTokens int, out any) error {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	generated := reflector.Reflect(schema)
	schemaBytes, err := generated.MarshalJSON()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.capMaxTokens(system, user, maxTokens),
		Temperature: c.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "scoutline_structured_output",
				Schema: rawSchema(schemaBytes),
				Strict: true,
			},
		},
	}

	resp, err := c.callWithRetry(ctx, req)
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty structured completion: %w", perrors.ErrLLMBadOutput)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("unmarshal structured output: %w: %w", err, perrors.ErrLLMBadOutput)
	}
	return nil
}

func (c *Completer) callWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts(); attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if c.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.CallTimeout)
		}
		resp, err := c.Client.CreateChatCompletion(callCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !isTransient(err) {
			return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %v", perrors.ErrLLMUnavailable, err)
		}
		if attempt == c.attempts()-1 {
			break
		}
		delay := backoffDelay(c.baseDelay(), c.maxDelay(), attempt)
		select {
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %v", perrors.ErrLLMUnavailable, lastErr)
}

// backoffDelay returns base*2^attempt, capped at max, with up to 20%
// jitter to avoid synchronized retries across concurrent calls.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return true
		}
		if apiErr.HTTPStatusCode >= 500 && apiErr.HTTPStatusCode <= 599 {
			return true
		}
		return false
	}
	// Network errors from the transport layer carry no APIError; treat
	// anything else as transient so a single flaky DNS lookup does not
	// fail a run outright.
	return true
}
