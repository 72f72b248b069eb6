package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/gnafhan/cv-evaluator-workflow/internal/config"
	"github.com/gnafhan/cv-evaluator-workflow/internal/logger"
	"github.com/gnafhan/cv-evaluator-workflow/internal/telemetry"
)

// GenerationClient turns a system/user prompt pair into either free text or a
// schema-validated structured result. Every call runs inside the outer retry
// policy; structured calls additionally carry the model fallback escalation.
// Both calls report their own usage so callers can account per job; the
// client itself keeps no cross-call state.
type GenerationClient interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, GenerationStats, error)
	GenerateStructured(ctx context.Context, req StructuredRequest, target interface{}) (*StructuredCallStats, error)
}

// StructuredRequest describes one schema-validated generation call.
type StructuredRequest struct {
	SystemPrompt string
	UserPrompt   string
	Schema       *jsonschema.Schema
	Temperature  float32
}

// StructuredCallStats reports what the escalation policy did for one call.
type StructuredCallStats struct {
	PrimaryAttempts int
	FallbackUsed    bool
	Model           string
	Usage           GenerationStats
}

// GenerationStats is advisory accounting for one or more generation calls.
// Usage is reported per call and accumulated; a failed call still reports the
// provider activity it spent.
type GenerationStats struct {
	Calls        int64 `json:"llm_calls"`
	Retries      int64 `json:"retries"`
	Fallbacks    int64 `json:"fallbacks"`
	PromptTokens int64 `json:"prompt_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (s *GenerationStats) accumulate(other GenerationStats) {
	s.Calls += other.Calls
	s.Retries += other.Retries
	s.Fallbacks += other.Fallbacks
	s.PromptTokens += other.PromptTokens
	s.OutputTokens += other.OutputTokens
}

// primarySchemaAttempts is how many times the primary model may re-roll an
// unparsable response before the call escalates to the fallback model.
const primarySchemaAttempts = 2

// fallbackTemperatureBoost is added to the request temperature when the
// fallback model is asked to re-answer; the cheaper model needs more sampling
// freedom to break out of the degenerate output the primary produced.
const fallbackTemperatureBoost = 0.3

type generationClient struct {
	provider      textGenerator
	retry         *RetryPolicy
	primaryModel  string
	fallbackModel string
	logger        *zap.Logger
	metrics       *telemetry.Metrics
}

func NewGenerationClient(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) (GenerationClient, error) {
	provider, err := newGeminiProvider(ctx, cfg.Gemini)
	if err != nil {
		return nil, err
	}

	return newGenerationClient(
		provider,
		NewRetryPolicy(cfg.Worker.RetryMaxAttempts, cfg.Worker.RetryInitialDelay),
		cfg.Gemini.PrimaryModel,
		cfg.Gemini.FallbackModel,
		logger,
		metrics,
	), nil
}

func newGenerationClient(provider textGenerator, retry *RetryPolicy, primaryModel, fallbackModel string, logger *zap.Logger, metrics *telemetry.Metrics) *generationClient {
	return &generationClient{
		provider:      provider,
		retry:         retry,
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
		logger:        logger,
		metrics:       metrics,
	}
}

// GenerateText implements GenerationClient.
func (c *generationClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, GenerationStats, error) {
	var result string
	var usage GenerationStats

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		usage.Calls++
		text, tokens, err := c.provider.generateText(ctx, c.primaryModel, systemPrompt, userPrompt, temperature)
		usage.PromptTokens += tokens.prompt
		usage.OutputTokens += tokens.output
		if err != nil {
			usage.Retries++
			c.metrics.ProviderRetries.Inc()
			return err
		}
		result = text
		return nil
	})
	if err != nil {
		return "", usage, fmt.Errorf("text generation failed: %w", err)
	}

	return result, usage, nil
}

// GenerateStructured implements GenerationClient. The primary model gets
// primarySchemaAttempts chances to produce schema-valid output; after that a
// single fallback-model attempt runs at a higher temperature. Transient
// provider errors bubble out to the outer retry loop, which re-runs the whole
// primary+fallback sequence.
func (c *generationClient) GenerateStructured(ctx context.Context, req StructuredRequest, target interface{}) (*StructuredCallStats, error) {
	var stats StructuredCallStats
	var usage GenerationStats

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		// The escalation outcome resets each outer attempt; usage keeps
		// accumulating across them.
		stats = StructuredCallStats{}

		for attempt := 1; attempt <= primarySchemaAttempts; attempt++ {
			stats.PrimaryAttempts = attempt
			usage.Calls++

			text, tokens, err := c.provider.generateText(ctx, c.primaryModel, req.SystemPrompt, req.UserPrompt, req.Temperature)
			usage.PromptTokens += tokens.prompt
			usage.OutputTokens += tokens.output
			if err != nil {
				usage.Retries++
				c.metrics.ProviderRetries.Inc()
				return err
			}

			if err := decodeStructured(text, req.Schema, target); err == nil {
				stats.Model = c.primaryModel
				return nil
			} else {
				c.logger.Warn("primary model output failed schema validation",
					zap.String("model", c.primaryModel),
					zap.Int("attempt", attempt),
					zap.String("response", logger.TruncateForLog(text, 200)),
					zap.Error(err))
			}
		}

		// Escalate once to the fallback model.
		stats.FallbackUsed = true
		usage.Fallbacks++
		c.metrics.ModelFallbacks.Inc()
		usage.Calls++

		text, tokens, err := c.provider.generateText(ctx, c.fallbackModel, req.SystemPrompt, req.UserPrompt, req.Temperature+fallbackTemperatureBoost)
		usage.PromptTokens += tokens.prompt
		usage.OutputTokens += tokens.output
		if err != nil {
			usage.Retries++
			c.metrics.ProviderRetries.Inc()
			return err
		}

		if err := decodeStructured(text, req.Schema, target); err != nil {
			c.logger.Warn("fallback model output failed schema validation",
				zap.String("model", c.fallbackModel),
				zap.String("response", logger.TruncateForLog(text, 200)),
				zap.Error(err))
			return fmt.Errorf("both primary and fallback produced no valid output: %w", err)
		}

		stats.Model = c.fallbackModel
		return nil
	})
	stats.Usage = usage
	if err != nil {
		return &stats, fmt.Errorf("structured generation failed: %w", err)
	}

	return &stats, nil
}

// decodeStructured extracts the JSON payload from a model response, validates
// it against the schema, and unmarshals it into target. An empty response is
// a validation failure, not a provider error.
func decodeStructured(response string, schema *jsonschema.Schema, target interface{}) error {
	jsonStr := strings.TrimSpace(extractJSON(response))
	if jsonStr == "" {
		return fmt.Errorf("empty response")
	}

	var raw interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	if schema != nil {
		if err := schema.Validate(raw); err != nil {
			return fmt.Errorf("response failed schema validation: %w", err)
		}
	}

	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("failed to decode validated JSON: %w", err)
	}

	return nil
}

// extractJSON pulls the JSON object or array out of text that may wrap it in
// markdown fences or prose.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	startObj := strings.Index(text, "{")
	startArr := strings.Index(text, "[")
	endObj := strings.LastIndex(text, "}")
	endArr := strings.LastIndex(text, "]")

	if startObj != -1 && endObj != -1 && endObj > startObj {
		return text[startObj : endObj+1]
	} else if startArr != -1 && endArr != -1 && endArr > startArr {
		return text[startArr : endArr+1]
	}

	return text
}
