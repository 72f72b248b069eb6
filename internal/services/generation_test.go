package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/gnafhan/cv-evaluator-workflow/internal/telemetry"
)

func mustCompileSchema(t *testing.T, src string) *jsonschema.Schema {
	t.Helper()
	schema, err := jsonschema.CompileString("test.json", src)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}

// fakeTextGenerator answers generateText calls from a scripted queue and
// records what it was asked.
type fakeTextGenerator struct {
	responses []fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	text   string
	tokens tokenUsage
	err    error
}

type fakeCall struct {
	model       string
	temperature float32
	userPrompt  string
}

func (f *fakeTextGenerator) generateText(_ context.Context, model, _, userPrompt string, temperature float32) (string, tokenUsage, error) {
	f.calls = append(f.calls, fakeCall{model: model, temperature: temperature, userPrompt: userPrompt})
	if len(f.responses) == 0 {
		return "", tokenUsage{}, errors.New("fake generator: script exhausted")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next.text, next.tokens, next.err
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func instantRetryPolicy(maxAttempts int) *RetryPolicy {
	policy := NewRetryPolicy(maxAttempts, time.Second)
	policy.sleep = noSleep
	policy.jitter = identityJitter
	return policy
}

type scoredOutput struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

const scoredOutputSchemaJSON = `{
	"type": "object",
	"required": ["score", "feedback"],
	"properties": {
		"score": {"type": "number", "minimum": 1, "maximum": 5},
		"feedback": {"type": "string"}
	}
}`

func TestGenerateStructured_PrimarySucceeds(t *testing.T) {
	gen := &fakeTextGenerator{responses: []fakeResponse{
		{text: "```json\n{\"score\": 4, \"feedback\": \"solid\"}\n```"},
	}}
	client := newGenerationClient(gen, instantRetryPolicy(3), "primary-model", "fallback-model", zap.NewNop(), telemetry.NewNopMetrics())

	var out scoredOutput
	stats, err := client.GenerateStructured(context.Background(), StructuredRequest{
		UserPrompt:  "evaluate",
		Schema:      mustCompileSchema(t, scoredOutputSchemaJSON),
		Temperature: 0.2,
	}, &out)

	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if out.Score != 4 || out.Feedback != "solid" {
		t.Errorf("decoded = %+v, want score 4 / feedback solid", out)
	}
	if stats.FallbackUsed {
		t.Error("FallbackUsed = true, want false")
	}
	if stats.PrimaryAttempts != 1 {
		t.Errorf("PrimaryAttempts = %d, want 1", stats.PrimaryAttempts)
	}
	if stats.Model != "primary-model" {
		t.Errorf("Model = %q, want primary-model", stats.Model)
	}
}

func TestGenerateStructured_FallbackAfterUnparsablePrimary(t *testing.T) {
	// Primary returns garbage twice; the single fallback attempt succeeds.
	gen := &fakeTextGenerator{responses: []fakeResponse{
		{text: "I cannot answer in JSON."},
		{text: "{\"score\": \"not a number\", \"feedback\": 7}"},
		{text: "{\"score\": 3, \"feedback\": \"acceptable\"}"},
	}}
	client := newGenerationClient(gen, instantRetryPolicy(3), "primary-model", "fallback-model", zap.NewNop(), telemetry.NewNopMetrics())

	var out scoredOutput
	stats, err := client.GenerateStructured(context.Background(), StructuredRequest{
		UserPrompt:  "evaluate",
		Schema:      mustCompileSchema(t, scoredOutputSchemaJSON),
		Temperature: 0.2,
	}, &out)

	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if !stats.FallbackUsed {
		t.Error("FallbackUsed = false, want true")
	}
	if stats.PrimaryAttempts != 2 {
		t.Errorf("PrimaryAttempts = %d, want 2", stats.PrimaryAttempts)
	}
	if stats.Model != "fallback-model" {
		t.Errorf("Model = %q, want fallback-model", stats.Model)
	}
	if out.Score != 3 {
		t.Errorf("Score = %v, want 3", out.Score)
	}

	if len(gen.calls) != 3 {
		t.Fatalf("provider calls = %d, want 3", len(gen.calls))
	}
	if gen.calls[0].model != "primary-model" || gen.calls[1].model != "primary-model" {
		t.Errorf("first two calls should hit the primary model, got %q, %q", gen.calls[0].model, gen.calls[1].model)
	}
	if gen.calls[2].model != "fallback-model" {
		t.Errorf("third call model = %q, want fallback-model", gen.calls[2].model)
	}
	// Fallback runs hotter than the original request.
	if got, want := gen.calls[2].temperature, float32(0.5); got != want {
		t.Errorf("fallback temperature = %v, want %v", got, want)
	}

	if stats.Usage.Fallbacks != 1 {
		t.Errorf("Usage.Fallbacks = %d, want 1", stats.Usage.Fallbacks)
	}
	if stats.Usage.Calls != 3 {
		t.Errorf("Usage.Calls = %d, want 3", stats.Usage.Calls)
	}
}

func TestGenerateStructured_BothModelsUnparsable(t *testing.T) {
	gen := &fakeTextGenerator{responses: []fakeResponse{
		{text: "nope"},
		{text: "still nope"},
		{text: "fallback also nope"},
	}}
	client := newGenerationClient(gen, instantRetryPolicy(3), "primary-model", "fallback-model", zap.NewNop(), telemetry.NewNopMetrics())

	var out scoredOutput
	_, err := client.GenerateStructured(context.Background(), StructuredRequest{
		Schema: mustCompileSchema(t, scoredOutputSchemaJSON),
	}, &out)

	if err == nil {
		t.Fatal("GenerateStructured() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "both primary and fallback produced no valid output") {
		t.Errorf("error = %v, want escalation failure", err)
	}
	// Schema failure is terminal, not transient: no retry re-run.
	if len(gen.calls) != 3 {
		t.Errorf("provider calls = %d, want 3", len(gen.calls))
	}
}

func TestGenerateStructured_TransientErrorRetriesWholeSequence(t *testing.T) {
	gen := &fakeTextGenerator{responses: []fakeResponse{
		{err: errors.New("503 service unavailable")},
		{text: "{\"score\": 5, \"feedback\": \"excellent\"}"},
	}}
	client := newGenerationClient(gen, instantRetryPolicy(3), "primary-model", "fallback-model", zap.NewNop(), telemetry.NewNopMetrics())

	var out scoredOutput
	stats, err := client.GenerateStructured(context.Background(), StructuredRequest{
		Schema: mustCompileSchema(t, scoredOutputSchemaJSON),
	}, &out)

	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if stats.FallbackUsed {
		t.Error("FallbackUsed = true, want false")
	}
	if stats.Usage.Retries != 1 {
		t.Errorf("Usage.Retries = %d, want 1", stats.Usage.Retries)
	}
}

func TestGenerateText_RetriesTransientError(t *testing.T) {
	gen := &fakeTextGenerator{responses: []fakeResponse{
		{err: errors.New("googleapi: Error 429: rate limit exceeded")},
		{text: "a concise overall summary"},
	}}
	client := newGenerationClient(gen, instantRetryPolicy(3), "primary-model", "fallback-model", zap.NewNop(), telemetry.NewNopMetrics())

	text, usage, err := client.GenerateText(context.Background(), "system", "user", 0.7)
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if text != "a concise overall summary" {
		t.Errorf("text = %q", text)
	}
	if len(gen.calls) != 2 {
		t.Errorf("provider calls = %d, want 2", len(gen.calls))
	}
	if usage.Calls != 2 || usage.Retries != 1 {
		t.Errorf("usage = %+v, want 2 calls / 1 retry", usage)
	}
}

func TestGenerateStructured_UsageIsPerCall(t *testing.T) {
	// An escalated first call must not leak its counts into the usage the
	// next call reports; job records are built from these.
	gen := &fakeTextGenerator{responses: []fakeResponse{
		{text: "not json"},
		{text: "still not json"},
		{text: "{\"score\": 2, \"feedback\": \"needed the fallback\"}", tokens: tokenUsage{prompt: 40, output: 12}},
		{text: "{\"score\": 4, \"feedback\": \"clean\"}", tokens: tokenUsage{prompt: 30, output: 8}},
	}}
	client := newGenerationClient(gen, instantRetryPolicy(3), "primary-model", "fallback-model", zap.NewNop(), telemetry.NewNopMetrics())
	schema := mustCompileSchema(t, scoredOutputSchemaJSON)

	var out scoredOutput
	first, err := client.GenerateStructured(context.Background(), StructuredRequest{Schema: schema}, &out)
	if err != nil {
		t.Fatalf("first GenerateStructured() error = %v", err)
	}
	if first.Usage.Calls != 3 || first.Usage.Fallbacks != 1 {
		t.Errorf("first Usage = %+v, want 3 calls / 1 fallback", first.Usage)
	}

	second, err := client.GenerateStructured(context.Background(), StructuredRequest{Schema: schema}, &out)
	if err != nil {
		t.Fatalf("second GenerateStructured() error = %v", err)
	}
	if second.Usage.Calls != 1 || second.Usage.Fallbacks != 0 || second.Usage.Retries != 0 {
		t.Errorf("second Usage = %+v, want exactly one clean call", second.Usage)
	}
	if second.Usage.PromptTokens != 30 || second.Usage.OutputTokens != 8 {
		t.Errorf("second Usage tokens = %+v, want 30 prompt / 8 output", second.Usage)
	}
}

func TestDecodeStructured(t *testing.T) {
	schema := mustCompileSchema(t, scoredOutputSchemaJSON)

	tests := []struct {
		name     string
		response string
		wantErr  bool
	}{
		{"bare object", `{"score": 2, "feedback": "weak"}`, false},
		{"markdown fenced", "```json\n{\"score\": 2, \"feedback\": \"weak\"}\n```", false},
		{"prose wrapped", "Here you go: {\"score\": 2, \"feedback\": \"weak\"} hope it helps", false},
		{"empty response", "", true},
		{"whitespace only", "   \n\t", true},
		{"malformed json", `{"score": 2,`, true},
		{"schema violation", `{"score": 9, "feedback": "out of range"}`, true},
		{"missing field", `{"score": 2}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out scoredOutput
			err := decodeStructured(tt.response, schema, &out)
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeStructured() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
