package models

import "time"

type MediaStatus string

const (
	MediaStatusUploaded MediaStatus = "uploaded"
	MediaStatusFailed   MediaStatus = "failed"
)

// MediaObject is one listing image mirrored to object storage, keyed by its
// original URL.
type MediaObject struct {
	URL         string      `json:"url" db:"url"`
	ListingKey  string      `json:"listing_key" db:"listing_key"`
	S3Key       string      `json:"s3_key" db:"s3_key"`
	ContentHash string      `json:"content_hash" db:"content_hash"`
	Size        int64       `json:"size" db:"size"`
	Status      MediaStatus `json:"status" db:"status"`
	Attempts    int         `json:"attempts" db:"attempts"`
	LastError   string      `json:"last_error" db:"last_error"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}
