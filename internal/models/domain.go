package models

import "time"

// Domain holds the WordPress credentials owned by a cms job.
type Domain struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	JobID       string    `json:"jobId" gorm:"not null;size:36;uniqueIndex"`
	BaseURL     string    `json:"baseUrl" gorm:"not null"`
	Login       string    `json:"login" gorm:"not null"`
	APISecret   string    `json:"-" gorm:"not null"`
	IsWordPress bool      `json:"isWordPress"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Domain) TableName() string {
	return "domains"
}

// PublishFailure records one row the CMS did not accept.
type PublishFailure struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	JobID     string    `json:"jobId" gorm:"not null;size:36;index"`
	Row       int       `json:"row"`
	TargetURL string    `json:"targetUrl"`
	Message   string    `json:"message" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (PublishFailure) TableName() string {
	return "publish_failures"
}
