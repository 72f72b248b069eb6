package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gnafhan/cv-evaluator-workflow/internal/models"
	"github.com/gnafhan/cv-evaluator-workflow/internal/repositories"
	"github.com/gnafhan/cv-evaluator-workflow/internal/services"
)

type EvaluationHandler struct {
	evalRepo repositories.EvaluationRepository
	docRepo  repositories.DocumentRepository
	worker   services.Worker
}

func NewEvaluationHandler(
	evalRepo repositories.EvaluationRepository,
	docRepo repositories.DocumentRepository,
	worker services.Worker,
) *EvaluationHandler {
	return &EvaluationHandler{
		evalRepo: evalRepo,
		docRepo:  docRepo,
		worker:   worker,
	}
}

// HandleEvaluate handles POST /evaluate. It creates the job record in queued
// state with zero progress and hands the id to the worker pool.
func (h *EvaluationHandler) HandleEvaluate(c *fiber.Ctx) error {
	var req models.EvaluateRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request payload",
		})
	}

	if req.JobTitle == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "job_title is required",
		})
	}

	if req.CVDocumentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "cv_document_id is required",
		})
	}

	if req.ProjectDocumentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "project_document_id is required",
		})
	}

	cvDocID, err := uuid.Parse(req.CVDocumentID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid cv_document_id format",
		})
	}

	projectDocID, err := uuid.Parse(req.ProjectDocumentID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid project_document_id format",
		})
	}

	if _, err := h.docRepo.FindByID(cvDocID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "CV document not found",
		})
	}

	if _, err := h.docRepo.FindByID(projectDocID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Project document not found",
		})
	}

	evaluation := &models.Evaluation{
		ID:                 uuid.New(),
		JobTitle:           req.JobTitle,
		CVDocumentID:       cvDocID,
		ProjectDocumentID:  projectDocID,
		Status:             models.StatusQueued,
		ProgressPercentage: 0,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}

	if err := h.evalRepo.Create(evaluation); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create evaluation job",
		})
	}

	h.worker.EnqueueJob(evaluation.ID)

	return c.Status(fiber.StatusAccepted).JSON(models.EvaluateResponse{
		ID:     evaluation.ID.String(),
		Status: string(models.StatusQueued),
	})
}
