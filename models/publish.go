package models

import "time"

type PublishState string

const (
	PublishStatePublished PublishState = "published"
	PublishStateFailed    PublishState = "failed"
)

// PublishRecord tracks marketplace publication per listing key. A failed
// record stays eligible for a later attempt; a published one never is.
type PublishRecord struct {
	Key           string       `json:"key" db:"key"`
	State         PublishState `json:"state" db:"state"`
	ExternalID    string       `json:"external_id" db:"external_id"`
	ExternalURL   string       `json:"external_url" db:"external_url"`
	Attempts      int          `json:"attempts" db:"attempts"`
	LastError     string       `json:"last_error" db:"last_error"`
	LastAttemptAt time.Time    `json:"last_attempt_at" db:"last_attempt_at"`
}

// Published reports whether the record blocks any further publish attempt.
func (r *PublishRecord) Published() bool {
	return r != nil && r.State == PublishStatePublished
}
