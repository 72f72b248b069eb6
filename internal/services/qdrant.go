package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/gnafhan/cv-evaluator-workflow/internal/config"
)

// vectorStore is the narrow contract the retrieval client needs from the
// vector database. Tests substitute a fake.
type vectorStore interface {
	ensureCollection(ctx context.Context) error
	search(ctx context.Context, vector []float32, filter map[string]string, topK int, namespace string) ([]RetrievedChunk, error)
	upsertPoints(ctx context.Context, points []vectorPoint) error
}

// vectorPoint is one embedded chunk ready for upsert.
type vectorPoint struct {
	Vector    []float32
	Text      string
	Namespace string
	Metadata  map[string]string
}

type qdrantStore struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
}

func newQdrantStore(cfg config.QdrantConfig) (*qdrantStore, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsed.Hostname()
	useTLS := parsed.Scheme == "https"

	// The go client speaks gRPC; 6334 is the qdrant gRPC port.
	port := 6334
	if p := parsed.Port(); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &qdrantStore{
		client:         client,
		collectionName: cfg.Collection,
		vectorSize:     768, // text-embedding-004 dimension
	}, nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func (q *qdrantStore) search(ctx context.Context, vector []float32, filter map[string]string, topK int, namespace string) ([]RetrievedChunk, error) {
	conditions := []*qdrant.Condition{
		qdrant.NewMatch("namespace", namespace),
	}
	for key, value := range filter {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}

	searchResult, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter:         &qdrant.Filter{Must: conditions},
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	chunks := make([]RetrievedChunk, 0, len(searchResult))
	for _, point := range searchResult {
		chunk, err := chunkFromPayload(point)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

func (q *qdrantStore) upsertPoints(ctx context.Context, points []vectorPoint) error {
	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := map[string]interface{}{
			"text":      p.Text,
			"namespace": p.Namespace,
		}
		for key, value := range p.Metadata {
			payload[key] = value
		}

		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(uuid.New().ID())),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// chunkFromPayload maps one qdrant scored point to a RetrievedChunk. The
// payload schema is the one upsertPoints writes; anything else is a parse
// error, not a field-probing exercise.
func chunkFromPayload(point *qdrant.ScoredPoint) (RetrievedChunk, error) {
	payload := point.Payload

	textValue, ok := payload["text"]
	if !ok {
		return RetrievedChunk{}, fmt.Errorf("point payload missing text field")
	}
	text, ok := textValue.GetKind().(*qdrant.Value_StringValue)
	if !ok {
		return RetrievedChunk{}, fmt.Errorf("point payload text field is not a string")
	}

	chunk := RetrievedChunk{
		Text:     text.StringValue,
		Score:    point.Score,
		Metadata: make(map[string]string, len(payload)),
	}

	for key, value := range payload {
		if key == "text" {
			continue
		}
		if sv, ok := value.GetKind().(*qdrant.Value_StringValue); ok {
			chunk.Metadata[key] = sv.StringValue
		}
	}

	return chunk, nil
}
