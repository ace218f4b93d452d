package models

import (
	"time"
)

type ListingStatus string

const (
	StatusNew    ListingStatus = "new"
	StatusActive ListingStatus = "active"
	StatusSold   ListingStatus = "sold"
)

// Listing is one vehicle as known to the store. Key is the resolved
// original-listing URL and never changes once assigned.
type Listing struct {
	ID            string        `json:"id" db:"id"`
	Key           string        `json:"key" db:"key"`
	Title         string        `json:"title" db:"title"`
	Price         int           `json:"price" db:"price"`
	Year          int           `json:"year" db:"year"`
	Make          string        `json:"make" db:"make"`
	Model         string        `json:"model" db:"model"`
	Trim          string        `json:"trim" db:"trim"`
	Mileage       int           `json:"mileage" db:"mileage"`
	ExteriorColor string        `json:"exterior_color" db:"exterior_color"`
	InteriorColor string        `json:"interior_color" db:"interior_color"`
	FuelType      string        `json:"fuel_type" db:"fuel_type"`
	Transmission  string        `json:"transmission" db:"transmission"`
	Drivetrain    string        `json:"drivetrain" db:"drivetrain"`
	Engine        string        `json:"engine" db:"engine"`
	Images        []string      `json:"images" db:"images"`
	Description   string        `json:"description" db:"description"`
	DealershipURL string        `json:"dealership_url" db:"dealership_url"`
	FirstSeenAt   time.Time     `json:"first_seen_at" db:"first_seen_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
	Status        ListingStatus `json:"status" db:"status"`
	Publish       *PublishRef   `json:"publish,omitempty" db:"-"`
}

// PublishRef is the marketplace reference attached after a successful publish.
type PublishRef struct {
	ExternalID  string    `json:"external_id" db:"external_id"`
	ExternalURL string    `json:"external_url" db:"external_url"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
}

// IsPublished reports whether the listing carries a marketplace reference.
func (l *Listing) IsPublished() bool {
	return l.Publish != nil && l.Publish.ExternalID != ""
}

// Clone returns a deep copy so callers can't alias store entries.
func (l Listing) Clone() Listing {
	if l.Images != nil {
		l.Images = append([]string(nil), l.Images...)
	}
	if l.Publish != nil {
		ref := *l.Publish
		l.Publish = &ref
	}
	return l
}

// RawRecord is what a scrape handler extracts from one inventory card,
// before any parsing. Numeric fields are left as page text.
type RawRecord struct {
	Title         string   `json:"title"`
	Price         string   `json:"price"`
	Year          string   `json:"year"`
	Make          string   `json:"make"`
	Model         string   `json:"model"`
	Trim          string   `json:"trim"`
	Mileage       string   `json:"mileage"`
	ExteriorColor string   `json:"exterior_color"`
	InteriorColor string   `json:"interior_color"`
	FuelType      string   `json:"fuel_type"`
	Transmission  string   `json:"transmission"`
	Drivetrain    string   `json:"drivetrain"`
	Engine        string   `json:"engine"`
	Description   string   `json:"description"`
	URL           string   `json:"url"`
	Images        []string `json:"images"`
}
