package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentTypeCV            = "cv"
	DocumentTypeProjectReport = "project_report"
)

type Document struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Filename         string    `gorm:"type:text" json:"filename"`
	OriginalFileName string    `gorm:"type:text" json:"original_filename"`
	FileType         string    `gorm:"type:text" json:"file_type"`
	FilePath         string    `gorm:"type:text" json:"file_path"`
	FileSize         int64     `gorm:"type:bigint" json:"file_size"`
	MimeType         string    `gorm:"type:text" json:"mime_type"`

	// Extraction cache. Backfilled by the evaluation engine after the first
	// successful parse so repeat evaluations skip re-extraction.
	ParsedContent *string    `gorm:"type:text" json:"-"`
	PageCount     *int       `gorm:"type:int" json:"page_count,omitempty"`
	ParsedAt      *time.Time `gorm:"type:timestamp" json:"parsed_at,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamp;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamp;default:now()" json:"updated_at"`
}

func (d *Document) TableName() string {
	return "documents"
}
