package services

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/gnafhan/cv-evaluator-workflow/internal/config"
)

// tokenUsage is the provider's token accounting for one call. Zero when the
// provider reports nothing.
type tokenUsage struct {
	prompt int64
	output int64
}

// textGenerator is the narrow contract the generation client needs from the
// underlying model provider. Tests substitute a fake.
type textGenerator interface {
	generateText(ctx context.Context, model, systemPrompt, userPrompt string, temperature float32) (string, tokenUsage, error)
}

// embeddingProvider produces embedding vectors for retrieval queries and
// ingestion.
type embeddingProvider interface {
	embed(ctx context.Context, text string) ([]float32, error)
}

// geminiProvider is the genai-backed implementation of both provider
// contracts. It maps the documented response schema to plain values and fails
// with a typed error on unexpected shape instead of probing alternatives.
type geminiProvider struct {
	client     *genai.Client
	embedModel string
}

func newGeminiProvider(ctx context.Context, cfg config.GeminiConfig) (*geminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiProvider{
		client:     client,
		embedModel: cfg.EmbedModel,
	}, nil
}

func (g *geminiProvider) generateText(ctx context.Context, model, systemPrompt, userPrompt string, temperature float32) (string, tokenUsage, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 4096,
	}
	if systemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(userPrompt), genConfig)
	if err != nil {
		return "", tokenUsage{}, fmt.Errorf("failed to generate text: %w", err)
	}

	if resp == nil {
		return "", tokenUsage{}, fmt.Errorf("no response generated (nil response)")
	}

	var usage tokenUsage
	if resp.UsageMetadata != nil {
		usage.prompt = int64(resp.UsageMetadata.PromptTokenCount)
		usage.output = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	return strings.TrimSpace(resp.Text()), usage, nil
}

func (g *geminiProvider) embed(ctx context.Context, text string) ([]float32, error) {
	// Bound the text size; the embedding model context is far smaller than a
	// full project report.
	text = truncateBytes(text, 40000)

	result, err := g.client.Models.EmbedContent(ctx, g.embedModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if result == nil || len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}

	return result.Embeddings[0].Values, nil
}
