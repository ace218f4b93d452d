package storage

import (
	"context"

	"dealerscan/models"
)

// ListingRepository persists the listing store and publish records between
// process runs. SQLite and Postgres both implement it.
type ListingRepository interface {
	LoadListings(ctx context.Context) ([]models.Listing, error)
	SaveListings(ctx context.Context, listings []models.Listing) error
	LoadPublishRecords(ctx context.Context) ([]models.PublishRecord, error)
	SavePublishRecord(ctx context.Context, rec models.PublishRecord) error
	Close() error
}

var (
	_ ListingRepository = (*SQLiteStore)(nil)
	_ ListingRepository = (*PostgresStore)(nil)
)
