package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealerscan/models"
)

// PostgresStore keeps listings and publish records in Postgres. It replaces
// SQLite for those two when DATABASE_URL is set.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			listing_key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			price INTEGER NOT NULL DEFAULT 0,
			year INTEGER NOT NULL DEFAULT 0,
			make TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			trim TEXT NOT NULL DEFAULT '',
			mileage INTEGER NOT NULL DEFAULT 0,
			exterior_color TEXT NOT NULL DEFAULT '',
			interior_color TEXT NOT NULL DEFAULT '',
			fuel_type TEXT NOT NULL DEFAULT '',
			transmission TEXT NOT NULL DEFAULT '',
			drivetrain TEXT NOT NULL DEFAULT '',
			engine TEXT NOT NULL DEFAULT '',
			images TEXT[] NOT NULL DEFAULT '{}',
			description TEXT NOT NULL DEFAULT '',
			dealership_url TEXT NOT NULL DEFAULT '',
			first_seen_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			external_id TEXT,
			external_url TEXT,
			published_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);

		CREATE TABLE IF NOT EXISTS publish_records (
			listing_key TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			external_url TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_attempt_at TIMESTAMPTZ
		);`)
	return err
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) LoadListings(ctx context.Context) ([]models.Listing, error) {
	query := `
		SELECT listing_key, id, title, price, year, make, model, trim, mileage,
			exterior_color, interior_color, fuel_type, transmission, drivetrain, engine,
			images, description, dealership_url, first_seen_at, updated_at, status,
			external_id, external_url, published_at
		FROM listings ORDER BY listing_key`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var (
			l           models.Listing
			externalID  *string
			externalURL *string
			publishedAt *time.Time
		)
		if err := rows.Scan(&l.Key, &l.ID, &l.Title, &l.Price, &l.Year, &l.Make, &l.Model, &l.Trim, &l.Mileage,
			&l.ExteriorColor, &l.InteriorColor, &l.FuelType, &l.Transmission, &l.Drivetrain, &l.Engine,
			&l.Images, &l.Description, &l.DealershipURL, &l.FirstSeenAt, &l.UpdatedAt, &l.Status,
			&externalID, &externalURL, &publishedAt); err != nil {
			return nil, err
		}
		if externalID != nil && *externalID != "" {
			ref := &models.PublishRef{ExternalID: *externalID}
			if externalURL != nil {
				ref.ExternalURL = *externalURL
			}
			if publishedAt != nil {
				ref.PublishedAt = *publishedAt
			}
			l.Publish = ref
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// SaveListings upserts listings in one batch inside a transaction.
func (s *PostgresStore) SaveListings(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	query := `
		INSERT INTO listings (
			listing_key, id, title, price, year, make, model, trim, mileage,
			exterior_color, interior_color, fuel_type, transmission, drivetrain, engine,
			images, description, dealership_url, first_seen_at, updated_at, status,
			external_id, external_url, published_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
		ON CONFLICT (listing_key) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			year = EXCLUDED.year,
			make = EXCLUDED.make,
			model = EXCLUDED.model,
			trim = EXCLUDED.trim,
			mileage = EXCLUDED.mileage,
			exterior_color = EXCLUDED.exterior_color,
			interior_color = EXCLUDED.interior_color,
			fuel_type = EXCLUDED.fuel_type,
			transmission = EXCLUDED.transmission,
			drivetrain = EXCLUDED.drivetrain,
			engine = EXCLUDED.engine,
			images = EXCLUDED.images,
			description = EXCLUDED.description,
			dealership_url = EXCLUDED.dealership_url,
			updated_at = EXCLUDED.updated_at,
			status = EXCLUDED.status,
			external_id = COALESCE(EXCLUDED.external_id, listings.external_id),
			external_url = COALESCE(EXCLUDED.external_url, listings.external_url),
			published_at = COALESCE(EXCLUDED.published_at, listings.published_at)`

	batch := &pgx.Batch{}
	for _, l := range listings {
		var (
			externalID  *string
			externalURL *string
			publishedAt *time.Time
		)
		if l.Publish != nil {
			externalID = &l.Publish.ExternalID
			externalURL = &l.Publish.ExternalURL
			publishedAt = &l.Publish.PublishedAt
		}
		images := l.Images
		if images == nil {
			images = []string{}
		}
		batch.Queue(query,
			l.Key, l.ID, l.Title, l.Price, l.Year, l.Make, l.Model, l.Trim, l.Mileage,
			l.ExteriorColor, l.InteriorColor, l.FuelType, l.Transmission, l.Drivetrain, l.Engine,
			images, l.Description, l.DealershipURL, l.FirstSeenAt, l.UpdatedAt, string(l.Status),
			externalID, externalURL, publishedAt,
		)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

// =============================================================================
// Publish records
// =============================================================================

func (s *PostgresStore) LoadPublishRecords(ctx context.Context) ([]models.PublishRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT listing_key, state, external_id, external_url, attempts, last_error, last_attempt_at
		FROM publish_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.PublishRecord
	for rows.Next() {
		var (
			r         models.PublishRecord
			attemptAt *time.Time
		)
		if err := rows.Scan(&r.Key, &r.State, &r.ExternalID, &r.ExternalURL, &r.Attempts, &r.LastError, &attemptAt); err != nil {
			return nil, err
		}
		if attemptAt != nil {
			r.LastAttemptAt = *attemptAt
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) SavePublishRecord(ctx context.Context, r models.PublishRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO publish_records (listing_key, state, external_id, external_url, attempts, last_error, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (listing_key) DO UPDATE SET
			state = EXCLUDED.state,
			external_id = EXCLUDED.external_id,
			external_url = EXCLUDED.external_url,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			last_attempt_at = EXCLUDED.last_attempt_at`,
		r.Key, string(r.State), r.ExternalID, r.ExternalURL, r.Attempts, r.LastError, r.LastAttemptAt)
	return err
}
