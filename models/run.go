package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ScanRun struct {
	ID            string     `json:"id" db:"id"`
	SourceURL     string     `json:"source_url" db:"source_url"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	Updated       int        `json:"updated" db:"updated"`
	Sold          int        `json:"sold" db:"sold"`
	Published     int        `json:"published" db:"published"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}

// Finish copies the tally into the run record.
func (r *ScanRun) Finish(res *ScrapeResult, status RunStatus) {
	now := time.Now()
	r.FinishedAt = &now
	r.Status = status
	if res == nil {
		return
	}
	r.ListingsFound = res.TotalFound
	r.ListingsNew = res.New
	r.Updated = res.Updated
	r.Sold = res.Sold
	r.Published = res.Published
	r.ErrorsCount = len(res.Errors)
}
