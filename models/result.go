package models

import "time"

// ScrapeResult is the per-cycle tally. It is derived, never persisted as state.
type ScrapeResult struct {
	TotalFound    int       `json:"total_found"`
	New           int       `json:"new"`
	Updated       int       `json:"updated"`
	Sold          int       `json:"sold"`
	Unchanged     int       `json:"unchanged"`
	Published     int       `json:"published"`
	PublishFailed int       `json:"publish_failed"`
	Errors        []string  `json:"errors,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AddError appends a human readable error to the tally.
func (r *ScrapeResult) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// ScraperStatus is the externally visible state of the scan loop.
type ScraperStatus struct {
	Active        bool          `json:"active"`
	Paused        bool          `json:"paused"`
	LastScanned   *time.Time    `json:"last_scanned"`
	NextScheduled *time.Time    `json:"next_scheduled"`
	LastResult    *ScrapeResult `json:"last_result"`
}
