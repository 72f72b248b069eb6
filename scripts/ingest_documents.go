package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gnafhan/cv-evaluator-workflow/internal/config"
	"github.com/gnafhan/cv-evaluator-workflow/internal/logger"
	"github.com/gnafhan/cv-evaluator-workflow/internal/services"
)

// Ingests the reference documents (job descriptions, rubrics, case briefs)
// into the namespaces the scoring stages query.
func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.Server.Env)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	retrievalClient, err := services.NewRetrievalClient(ctx, cfg, zlog)
	if err != nil {
		log.Fatalf("failed to initialize retrieval client: %v", err)
	}

	if err := retrievalClient.InitCollection(ctx); err != nil {
		log.Fatalf("failed to initialize collection: %v", err)
	}

	pdfParser := services.NewPDFParserService()
	chunker := services.NewTextChunker()

	documents := []struct {
		Path      string
		Namespace string
		Name      string
	}{
		{
			Path:      "./reference_docs/job_description.pdf",
			Namespace: services.NamespaceJobRequirements,
			Name:      "Job Description - Product Engineer (Backend)",
		},
		{
			Path:      "./reference_docs/cv_scoring_rubric.pdf",
			Namespace: services.NamespaceCVRubric,
			Name:      "CV Scoring Rubric",
		},
		{
			Path:      "./reference_docs/case_study_brief.pdf",
			Namespace: services.NamespaceCaseStudy,
			Name:      "Case Study Brief",
		},
		{
			Path:      "./reference_docs/project_scoring_rubric.pdf",
			Namespace: services.NamespaceProjectRubric,
			Name:      "Project Scoring Rubric",
		},
	}

	successCount := 0
	failCount := 0

	for _, doc := range documents {
		log.Printf("processing %s (%s)", doc.Name, doc.Namespace)

		if _, err := os.Stat(doc.Path); os.IsNotExist(err) {
			log.Printf("  file not found, skipping: %s", doc.Path)
			failCount++
			continue
		}

		content, err := pdfParser.ExtractText(doc.Path)
		if err != nil {
			log.Printf("  failed to extract text: %v", err)
			failCount++
			continue
		}
		log.Printf("  extracted %d pages, %d characters", content.PageCount, len(content.Text))

		chunkTexts := chunker.ChunkText(services.CleanText(content.Text), 1000, 200)
		log.Printf("  created %d chunks", len(chunkTexts))

		chunks := make([]services.IngestChunk, 0, len(chunkTexts))
		for i, text := range chunkTexts {
			chunks = append(chunks, services.IngestChunk{
				Text:      text,
				Namespace: doc.Namespace,
				Metadata: map[string]string{
					"source":      doc.Name,
					"chunk_index": fmt.Sprintf("%d", i),
				},
			})
		}

		if err := retrievalClient.Upsert(ctx, chunks); err != nil {
			log.Printf("  failed to upsert chunks: %v", err)
			failCount++
			continue
		}

		log.Printf("  ingested %s", doc.Name)
		successCount++
	}

	log.Printf("ingestion finished: %d succeeded, %d failed", successCount, failCount)

	if failCount > 0 {
		os.Exit(1)
	}
}
