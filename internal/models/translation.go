package models

import (
	"fmt"
	"time"
)

// LocalizedVariant is one language's output for a source row.
type LocalizedVariant struct {
	Language        string `json:"language"`
	Title           string `json:"title"`
	Body            string `json:"body"`
	MetaDescription string `json:"metaDescription,omitempty"`
}

type TranslationRecord struct {
	ID            uint               `json:"id" gorm:"primaryKey"`
	JobID         string             `json:"jobId" gorm:"not null;size:36;uniqueIndex:idx_record_job_position"`
	SegmentID     string             `json:"segmentId" gorm:"index"` // empty for the job's inline slot
	Position      int                `json:"position" gorm:"not null;uniqueIndex:idx_record_job_position"`
	RowKey        string             `json:"rowKey"`
	OriginalTitle string             `json:"originalTitle" gorm:"type:text"`
	OriginalBody  string             `json:"originalBody" gorm:"type:text"`
	Permalink     string             `json:"permalink,omitempty"`
	Variants      []LocalizedVariant `json:"variants" gorm:"serializer:json"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

func (TranslationRecord) TableName() string {
	return "translation_records"
}

// Variant returns the variant for language, if present.
func (r *TranslationRecord) Variant(language string) (LocalizedVariant, bool) {
	for _, v := range r.Variants {
		if v.Language == language {
			return v, true
		}
	}
	return LocalizedVariant{}, false
}

// Segment is a bounded partition of a job's records.
type Segment struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	JobID       string    `json:"jobId" gorm:"not null;size:36;uniqueIndex:idx_segment_job_seq"`
	Seq         int       `json:"seq" gorm:"not null;uniqueIndex:idx_segment_job_seq"`
	RecordCount int       `json:"recordCount" gorm:"default:0"`
	Closed      bool      `json:"closed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Segment) TableName() string {
	return "job_segments"
}

// SegmentID derives the identifier of the seq-th segment of a job.
func SegmentID(jobID string, seq int) string {
	return fmt.Sprintf("%s_%d", jobID, seq)
}
