package models

import (
	"time"
)

type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
	JobStatusCanceled  JobStatus = "canceled"
)

// Resumable reports whether a stopped job may re-enter running.
func (s JobStatus) Resumable() bool {
	return s == JobStatusCanceled || s == JobStatusError
}

type JobKind string

const (
	JobKindPlain JobKind = "plain"
	JobKindCMS   JobKind = "cms"
)

// ColumnMapping names the source columns holding each field of a row.
type ColumnMapping struct {
	RowKey    string `json:"rowKey"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Permalink string `json:"permalink,omitempty"`
	Slug      string `json:"slug,omitempty"`
}

type Job struct {
	ID         string  `json:"id" gorm:"primaryKey;size:36"`
	Name       string  `json:"name" gorm:"not null"`
	Kind       JobKind `json:"kind" gorm:"not null;default:'plain'"`
	SourcePath string  `json:"-" gorm:"not null"`
	SourceName string  `json:"sourceName"`

	Columns                ColumnMapping `json:"columns" gorm:"serializer:json"`
	Languages              []string      `json:"languages" gorm:"serializer:json"`
	GenerateOnly           bool          `json:"generateOnly"`
	IncludeMetaDescription bool          `json:"includeMetaDescription"`
	PublishToCMS           bool          `json:"publishToCms"`
	SegmentSize            int           `json:"segmentSize" gorm:"not null"`

	Status            JobStatus `json:"status" gorm:"not null;default:'idle';index"`
	Cursor            int       `json:"cursor" gorm:"default:0"`
	TotalRows         int       `json:"totalRows" gorm:"default:0"`
	TranslateProgress float64   `json:"translateProgress" gorm:"default:0"`
	PublishCursor     int       `json:"publishCursor" gorm:"default:0"`
	PublishProgress   float64   `json:"publishProgress" gorm:"default:0"`
	LastError         string    `json:"lastError"`

	InlineCount int      `json:"inlineCount" gorm:"default:0"`
	SegmentIDs  []string `json:"segmentIds" gorm:"serializer:json"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Domain       *Domain `json:"domain,omitempty" gorm:"foreignKey:JobID;references:ID"`
	FailureCount int64   `json:"failureCount" gorm:"-"`
}

func (Job) TableName() string {
	return "jobs"
}
