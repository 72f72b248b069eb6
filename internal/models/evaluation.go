package models

import (
	"time"

	"github.com/google/uuid"
)

type EvaluationStatus string

const (
	StatusQueued     EvaluationStatus = "queued"
	StatusProcessing EvaluationStatus = "processing"
	StatusCompleted  EvaluationStatus = "completed"
	StatusFailed     EvaluationStatus = "failed"
)

// Evaluation is the durable job record. A single worker owns each row for the
// lifetime of the job; status queries only ever read it.
type Evaluation struct {
	ID                uuid.UUID        `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	JobTitle          string           `gorm:"type:text" json:"job_title"`
	CVDocumentID      uuid.UUID        `gorm:"type:uuid;not null" json:"cv_document_id"`
	ProjectDocumentID uuid.UUID        `gorm:"type:uuid;not null" json:"project_document_id"`
	Status            EvaluationStatus `gorm:"not null;default:'queued'" json:"status"`

	CurrentStage       *string `gorm:"type:text" json:"current_stage,omitempty"`
	ProgressPercentage int     `gorm:"not null;default:0" json:"progress_percentage"`

	CVMatchRate           *float64 `gorm:"type:decimal(4,3)" json:"cv_match_rate,omitempty"`
	CVFeedback            *string  `gorm:"type:text" json:"cv_feedback,omitempty"`
	CVRecommendation      *string  `gorm:"type:text" json:"cv_recommendation,omitempty"`
	CVBreakdown           *string  `gorm:"type:jsonb" json:"cv_breakdown,omitempty"`
	ProjectScore          *float64 `gorm:"type:decimal(4,3)" json:"project_score,omitempty"`
	ProjectFeedback       *string  `gorm:"type:text" json:"project_feedback,omitempty"`
	ProjectRecommendation *string  `gorm:"type:text" json:"project_recommendation,omitempty"`
	ProjectBreakdown      *string  `gorm:"type:jsonb" json:"project_breakdown,omitempty"`
	OverallSummary        *string  `gorm:"type:text" json:"overall_summary,omitempty"`

	ErrorCode    *string    `gorm:"type:text" json:"error_code,omitempty"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message,omitempty"`
	ErrorStage   *string    `gorm:"type:text" json:"error_stage,omitempty"`
	ErrorAt      *time.Time `gorm:"type:timestamp" json:"error_at,omitempty"`

	// Metadata carries advisory call/retry accounting as JSON; it is never
	// read back to make decisions.
	Metadata *string `gorm:"type:jsonb" json:"metadata,omitempty"`

	StartedAt   *time.Time `gorm:"type:timestamp" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"type:timestamp" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Relations
	CVDocument      Document `gorm:"foreignKey:CVDocumentID" json:"-"`
	ProjectDocument Document `gorm:"foreignKey:ProjectDocumentID" json:"-"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}
