package models

type UploadResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	FileType     string `json:"file_type"`
}

type EvaluateRequest struct {
	JobTitle          string `json:"job_title" validate:"required"`
	CVDocumentID      string `json:"cv_document_id" validate:"required,uuid"`
	ProjectDocumentID string `json:"project_document_id" validate:"required,uuid"`
}

type EvaluateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CriterionScore is one weighted line of a scoring breakdown.
type CriterionScore struct {
	Score         float64 `json:"score"`
	Weight        float64 `json:"weight"`
	WeightedScore float64 `json:"weighted_score"`
}

type ResultResponse struct {
	ID                 string          `json:"id"`
	Status             string          `json:"status"`
	CurrentStage       *string         `json:"current_stage,omitempty"`
	ProgressPercentage int             `json:"progress_percentage"`
	Result             *EvaluationData `json:"result,omitempty"`
	Error              *ErrorData      `json:"error,omitempty"`
}

type EvaluationData struct {
	CVMatchRate           float64                   `json:"cv_match_rate"`
	CVFeedback            string                    `json:"cv_feedback"`
	CVRecommendation      string                    `json:"cv_recommendation,omitempty"`
	CVBreakdown           map[string]CriterionScore `json:"cv_breakdown,omitempty"`
	ProjectScore          float64                   `json:"project_score"`
	ProjectFeedback       string                    `json:"project_feedback"`
	ProjectRecommendation string                    `json:"project_recommendation,omitempty"`
	ProjectBreakdown      map[string]CriterionScore `json:"project_breakdown,omitempty"`
	OverallSummary        string                    `json:"overall_summary"`
	ProcessingTimeSeconds *float64                  `json:"processing_time_seconds,omitempty"`
}

type ErrorData struct {
	Code          string  `json:"code"`
	Message       string  `json:"message"`
	Stage         *string `json:"stage,omitempty"`
	Timestamp     *string `json:"timestamp,omitempty"`
	Resubmittable bool    `json:"resubmittable"`
}
