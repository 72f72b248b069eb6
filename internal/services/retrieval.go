package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/gnafhan/cv-evaluator-workflow/internal/config"
)

// Fixed namespaces partitioning the vector store by reference-document kind.
const (
	NamespaceJobRequirements = "job_requirements"
	NamespaceCVRubric        = "cv_rubric"
	NamespaceCaseStudy       = "case_study"
	NamespaceProjectRubric   = "project_rubric"
)

// RetrievedChunk is one passage returned by a retrieval query. Ephemeral;
// produced per query and never persisted.
type RetrievedChunk struct {
	Text     string
	Score    float32
	Metadata map[string]string
}

// IngestChunk is one passage headed into the vector store.
type IngestChunk struct {
	Text      string
	Namespace string
	Metadata  map[string]string
}

// RetrievalClient owns embedding generation and query execution against the
// namespaced vector store.
type RetrievalClient interface {
	InitCollection(ctx context.Context) error
	Embed(ctx context.Context, text string) ([]float32, error)
	Query(ctx context.Context, text string, filter map[string]string, topK int, namespace string) ([]RetrievedChunk, error)
	Upsert(ctx context.Context, chunks []IngestChunk) error
}

const (
	embedBatchSize   = 10
	upsertBatchSize  = 100
	embedBatchDelay  = 500 * time.Millisecond
	embedMaxAttempts = 3
	embedBackoffStep = 2 * time.Second
)

type retrievalClient struct {
	embedder   embeddingProvider
	store      vectorStore
	embedRetry *LinearRetryPolicy
	logger     *zap.Logger

	// batchDelay is injectable so the upsert test does not sleep.
	batchDelay func(ctx context.Context, d time.Duration) error
}

func NewRetrievalClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (RetrievalClient, error) {
	embedder, err := newGeminiProvider(ctx, cfg.Gemini)
	if err != nil {
		return nil, err
	}

	store, err := newQdrantStore(cfg.Qdrant)
	if err != nil {
		return nil, err
	}

	return newRetrievalClient(embedder, store, logger), nil
}

func newRetrievalClient(embedder embeddingProvider, store vectorStore, logger *zap.Logger) *retrievalClient {
	return &retrievalClient{
		embedder:   embedder,
		store:      store,
		embedRetry: NewLinearRetryPolicy(embedMaxAttempts, embedBackoffStep),
		logger:     logger,
		batchDelay: sleepCtx,
	}
}

// InitCollection implements RetrievalClient.
func (r *retrievalClient) InitCollection(ctx context.Context) error {
	return r.store.ensureCollection(ctx)
}

// Embed implements RetrievalClient. Timeout and network errors are retried
// with linear backoff (2s, 4s, 6s).
func (r *retrievalClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	err := r.embedRetry.Do(ctx, func(ctx context.Context) error {
		v, err := r.embedder.embed(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	return vector, nil
}

// Query implements RetrievalClient. A namespace with no matching vectors
// returns an empty list; downstream stages treat that as degraded context,
// not an error.
func (r *retrievalClient) Query(ctx context.Context, text string, filter map[string]string, topK int, namespace string) ([]RetrievedChunk, error) {
	vector, err := r.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	chunks, err := r.store.search(ctx, vector, filter, topK, namespace)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	// The store returns results ordered by similarity; re-sorting here keeps
	// the contract independent of backend behavior. A missing score is 0.
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})

	if len(chunks) == 0 {
		r.logger.Debug("retrieval returned no context",
			zap.String("namespace", namespace))
	}

	return chunks, nil
}

// Upsert implements RetrievalClient. Embeddings are generated in batches of
// 10 with a short pause between batches to respect provider rate limits; the
// resulting points are upserted in batches of 100.
func (r *retrievalClient) Upsert(ctx context.Context, chunks []IngestChunk) error {
	points := make([]vectorPoint, 0, len(chunks))

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		for _, chunk := range chunks[start:end] {
			vector, err := r.Embed(ctx, chunk.Text)
			if err != nil {
				return fmt.Errorf("failed to embed chunk for namespace %s: %w", chunk.Namespace, err)
			}
			points = append(points, vectorPoint{
				Vector:    vector,
				Text:      chunk.Text,
				Namespace: chunk.Namespace,
				Metadata:  chunk.Metadata,
			})
		}

		if end < len(chunks) {
			if err := r.batchDelay(ctx, embedBatchDelay); err != nil {
				return fmt.Errorf("upsert interrupted: %w", err)
			}
		}
	}

	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}

		if err := r.store.upsertPoints(ctx, points[start:end]); err != nil {
			return err
		}
	}

	return nil
}
