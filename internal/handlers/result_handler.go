package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gnafhan/cv-evaluator-workflow/internal/models"
	"github.com/gnafhan/cv-evaluator-workflow/internal/repositories"
)

type ResultHandler struct {
	evalRepo repositories.EvaluationRepository
}

func NewResultHandler(evalRepo repositories.EvaluationRepository) *ResultHandler {
	return &ResultHandler{
		evalRepo: evalRepo,
	}
}

// HandleGetResult handles GET /result/:id. The result block is populated only
// for completed jobs; failed jobs carry the typed error record instead.
func (h *ResultHandler) HandleGetResult(c *fiber.Ctx) error {
	idParam := c.Params("id")
	evalID, err := uuid.Parse(idParam)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid evaluation ID format",
		})
	}

	evaluation, err := h.evalRepo.FindByID(evalID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Evaluation not found",
		})
	}

	return c.JSON(BuildResultResponse(evaluation))
}

// BuildResultResponse maps a job record to its external view.
func BuildResultResponse(evaluation *models.Evaluation) models.ResultResponse {
	response := models.ResultResponse{
		ID:                 evaluation.ID.String(),
		Status:             string(evaluation.Status),
		CurrentStage:       evaluation.CurrentStage,
		ProgressPercentage: evaluation.ProgressPercentage,
	}

	if evaluation.Status == models.StatusCompleted {
		result := &models.EvaluationData{
			CVMatchRate:    derefFloat(evaluation.CVMatchRate),
			CVFeedback:     derefString(evaluation.CVFeedback),
			ProjectScore:   derefFloat(evaluation.ProjectScore),
			OverallSummary: derefString(evaluation.OverallSummary),
		}
		result.CVRecommendation = derefString(evaluation.CVRecommendation)
		result.ProjectFeedback = derefString(evaluation.ProjectFeedback)
		result.ProjectRecommendation = derefString(evaluation.ProjectRecommendation)
		result.CVBreakdown = decodeBreakdown(evaluation.CVBreakdown)
		result.ProjectBreakdown = decodeBreakdown(evaluation.ProjectBreakdown)

		if evaluation.StartedAt != nil && evaluation.CompletedAt != nil {
			seconds := evaluation.CompletedAt.Sub(*evaluation.StartedAt).Seconds()
			result.ProcessingTimeSeconds = &seconds
		}

		response.Result = result
	}

	if evaluation.Status == models.StatusFailed {
		errData := &models.ErrorData{
			Code:    derefString(evaluation.ErrorCode),
			Message: derefString(evaluation.ErrorMessage),
			Stage:   evaluation.ErrorStage,
			// Failed jobs are terminal; the caller resubmits rather than
			// waiting for an automatic re-run.
			Resubmittable: true,
		}
		if evaluation.ErrorAt != nil {
			ts := evaluation.ErrorAt.Format(time.RFC3339)
			errData.Timestamp = &ts
		}
		response.Error = errData
	}

	return response
}

func decodeBreakdown(raw *string) map[string]models.CriterionScore {
	if raw == nil || *raw == "" {
		return nil
	}

	var breakdown map[string]models.CriterionScore
	if err := json.Unmarshal([]byte(*raw), &breakdown); err != nil {
		return nil
	}
	return breakdown
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
