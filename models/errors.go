package models

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRecord     = errors.New("malformed record")
	ErrConfigInvalid       = errors.New("invalid scraper config")
	ErrScrape              = errors.New("scrape failed")
	ErrCycleAlreadyRunning = errors.New("scan cycle already running")
	ErrNotAuthenticated    = errors.New("marketplace not authenticated")
	ErrAuthExpired         = errors.New("marketplace authentication expired")
	ErrSyncFailure         = errors.New("sheet sync failed")
	ErrAlreadyPublished    = errors.New("listing already published")
	ErrListingNotFound     = errors.New("listing not found")
	ErrListingSold         = errors.New("listing is sold")
)

type PublishErrorKind string

const (
	PublishTransient   PublishErrorKind = "transient"
	PublishAuthExpired PublishErrorKind = "auth_expired"
	PublishRejected    PublishErrorKind = "rejected"
)

// PublishError is returned by marketplace adapters.
type PublishError struct {
	Kind       PublishErrorKind
	StatusCode int
	Err        error
}

func (e *PublishError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("publish %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("publish %s: %v", e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrAuthExpired) match an auth-expired publish error.
func (e *PublishError) Is(target error) bool {
	return target == ErrAuthExpired && e.Kind == PublishAuthExpired
}

// PublishErrorKindOf classifies err; anything not a *PublishError is transient.
func PublishErrorKindOf(err error) PublishErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return PublishTransient
}
