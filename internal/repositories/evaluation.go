package repositories

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gnafhan/cv-evaluator-workflow/internal/models"
)

type EvaluationRepository interface {
	Create(eval *models.Evaluation) error
	FindByID(id uuid.UUID) (*models.Evaluation, error)
	MarkProcessing(id uuid.UUID, stage string, progress int) error
	UpdateStage(id uuid.UUID, stage string, progress int) error
	UpdateResult(id uuid.UUID, result *EvaluationUpdateData) error
	UpdateError(id uuid.UUID, code, message, stage string) error
	UpdateMetadata(id uuid.UUID, metadataJSON string) error
	FindPendingJobs(limit int) ([]models.Evaluation, error)
}

type EvaluationUpdateData struct {
	CVMatchRate           *float64
	CVFeedback            *string
	CVRecommendation      *string
	CVBreakdown           *string
	ProjectScore          *float64
	ProjectFeedback       *string
	ProjectRecommendation *string
	ProjectBreakdown      *string
	OverallSummary        *string
}

type evaluationRepository struct {
	db *gorm.DB
}

func NewEvaluationRepository(db *gorm.DB) EvaluationRepository {
	return &evaluationRepository{db: db}
}

func (r *evaluationRepository) Create(eval *models.Evaluation) error {
	if err := r.db.Create(eval).Error; err != nil {
		return fmt.Errorf("failed to create evaluation: %w", err)
	}
	return nil
}

func (r *evaluationRepository) FindByID(id uuid.UUID) (*models.Evaluation, error) {
	var eval models.Evaluation
	if err := r.db.Where("id = ?", id).First(&eval).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("evaluation not found")
		}
		return nil, fmt.Errorf("failed to find evaluation: %w", err)
	}
	return &eval, nil
}

// MarkProcessing records the first transition out of queued. started_at is
// only written when still null so redelivery never resets it.
func (r *evaluationRepository) MarkProcessing(id uuid.UUID, stage string, progress int) error {
	now := time.Now()
	result := r.db.Model(&models.Evaluation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              models.StatusProcessing,
			"current_stage":       stage,
			"progress_percentage": progress,
			"started_at":          gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at":          now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark processing: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("evaluation not found")
	}

	return nil
}

// UpdateStage commits a stage checkpoint. Progress never moves backwards; the
// guard keeps a late write from undoing a later checkpoint.
func (r *evaluationRepository) UpdateStage(id uuid.UUID, stage string, progress int) error {
	result := r.db.Model(&models.Evaluation{}).
		Where("id = ? AND progress_percentage <= ?", id, progress).
		Updates(map[string]interface{}{
			"current_stage":       stage,
			"progress_percentage": progress,
			"updated_at":          time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update stage: %w", result.Error)
	}

	return nil
}

func (r *evaluationRepository) UpdateResult(id uuid.UUID, data *EvaluationUpdateData) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":              models.StatusCompleted,
		"current_stage":       "completed",
		"progress_percentage": 100,
		"completed_at":        now,
		"updated_at":          now,
	}

	if data.CVMatchRate != nil {
		updates["cv_match_rate"] = *data.CVMatchRate
	}
	if data.CVFeedback != nil {
		updates["cv_feedback"] = *data.CVFeedback
	}
	if data.CVRecommendation != nil {
		updates["cv_recommendation"] = *data.CVRecommendation
	}
	if data.CVBreakdown != nil {
		updates["cv_breakdown"] = *data.CVBreakdown
	}
	if data.ProjectScore != nil {
		updates["project_score"] = *data.ProjectScore
	}
	if data.ProjectFeedback != nil {
		updates["project_feedback"] = *data.ProjectFeedback
	}
	if data.ProjectRecommendation != nil {
		updates["project_recommendation"] = *data.ProjectRecommendation
	}
	if data.ProjectBreakdown != nil {
		updates["project_breakdown"] = *data.ProjectBreakdown
	}
	if data.OverallSummary != nil {
		updates["overall_summary"] = *data.OverallSummary
	}

	result := r.db.Model(&models.Evaluation{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update result: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("evaluation not found")
	}

	return nil
}

func (r *evaluationRepository) UpdateError(id uuid.UUID, code, message, stage string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        models.StatusFailed,
		"error_code":    code,
		"error_message": message,
		"error_at":      now,
		"updated_at":    now,
	}
	if stage != "" {
		updates["error_stage"] = stage
	}

	result := r.db.Model(&models.Evaluation{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update error: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("evaluation not found")
	}

	return nil
}

func (r *evaluationRepository) UpdateMetadata(id uuid.UUID, metadataJSON string) error {
	result := r.db.Model(&models.Evaluation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"metadata":   metadataJSON,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update metadata: %w", result.Error)
	}

	return nil
}

func (r *evaluationRepository) FindPendingJobs(limit int) ([]models.Evaluation, error) {
	var evals []models.Evaluation
	err := r.db.
		Where("status = ?", models.StatusQueued).
		Order("created_at ASC").
		Limit(limit).
		Find(&evals).Error

	if err != nil {
		return nil, fmt.Errorf("failed to find pending jobs: %w", err)
	}

	return evals, nil
}
