package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arborly/scoutline/internal/perrors"
)

type fakeClient struct {
	responses []openai.ChatCompletionResponse
	errs      []error
	calls     int
}

func (f *fakeClient) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func textResp(s string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s}}},
	}
}

func TestCompleteText_Success(t *testing.T) {
	fc := &fakeClient{responses: []openai.ChatCompletionResponse{textResp("hello")}}
	c := &Completer{Client: fc, Model: "test-model"}
	got, err := c.CompleteText(context.Background(), "sys", "usr", 100)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestCompleteText_RetriesTransientThenSucceeds(t *testing.T) {
	fc := &fakeClient{
		errs:      []error{&openai.APIError{HTTPStatusCode: 500}},
		responses: []openai.ChatCompletionResponse{{}, textResp("ok")},
	}
	c := &Completer{Client: fc, Model: "m", BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	got, err := c.CompleteText(context.Background(), "s", "u", 10)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q", got)
	}
	if fc.calls != 2 {
		t.Errorf("expected 2 calls, got %d", fc.calls)
	}
}

func TestCompleteText_TerminalErrorNoRetry(t *testing.T) {
	fc := &fakeClient{errs: []error{&openai.APIError{HTTPStatusCode: 400}}}
	c := &Completer{Client: fc, Model: "m", BaseDelay: time.Millisecond}
	_, err := c.CompleteText(context.Background(), "s", "u", 10)
	if !errors.Is(err, perrors.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
	if fc.calls != 1 {
		t.Errorf("expected exactly 1 call for a terminal error, got %d", fc.calls)
	}
}

func TestCompleteStructured_DecodesIntoOut(t *testing.T) {
	fc := &fakeClient{responses: []openai.ChatCompletionResponse{textResp(`{"score":4}`)}}
	c := &Completer{Client: fc, Model: "m"}
	type scoreSchema struct {
		Score int `json:"score"`
	}
	var out scoreSchema
	if err := c.CompleteStructured(context.Background(), "s", "u", scoreSchema{}, 10, &out); err != nil {
		t.Fatalf("complete structured: %v", err)
	}
	if out.Score != 4 {
		t.Errorf("got score %d", out.Score)
	}
}

func TestCompleteStructured_MalformedOutput(t *testing.T) {
	fc := &fakeClient{responses: []openai.ChatCompletionResponse{textResp("not json")}}
	c := &Completer{Client: fc, Model: "m"}
	var out struct {
		Score int `json:"score"`
	}
	err := c.CompleteStructured(context.Background(), "s", "u", out, 10, &out)
	if !errors.Is(err, perrors.ErrLLMBadOutput) {
		t.Fatalf("expected ErrLLMBadOutput, got %v", err)
	}
}
