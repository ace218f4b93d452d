package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dealerscan/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		listing_key TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		title TEXT,
		price INTEGER,
		year INTEGER,
		make TEXT,
		model TEXT,
		trim TEXT,
		mileage INTEGER,
		exterior_color TEXT,
		interior_color TEXT,
		fuel_type TEXT,
		transmission TEXT,
		drivetrain TEXT,
		engine TEXT,
		images JSON,
		description TEXT,
		dealership_url TEXT,
		first_seen_at DATETIME,
		updated_at DATETIME,
		status TEXT,
		external_id TEXT,
		external_url TEXT,
		published_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS publish_records (
		listing_key TEXT PRIMARY KEY,
		state TEXT,
		external_id TEXT,
		external_url TEXT,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		last_attempt_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS scan_runs (
		id TEXT PRIMARY KEY,
		source_url TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER,
		listings_new INTEGER,
		updated INTEGER,
		sold INTEGER,
		published INTEGER,
		errors_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS scan_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS media (
		url TEXT PRIMARY KEY,
		listing_key TEXT,
		s3_key TEXT,
		content_hash TEXT,
		size INTEGER,
		status TEXT,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scan_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON scan_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `listing_key, id, title, price, year, make, model, trim, mileage,
	exterior_color, interior_color, fuel_type, transmission, drivetrain, engine,
	images, description, dealership_url, first_seen_at, updated_at, status,
	external_id, external_url, published_at`

func (s *SQLiteStore) LoadListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY listing_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var (
			l           models.Listing
			images      sql.NullString
			externalID  sql.NullString
			externalURL sql.NullString
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&l.Key, &l.ID, &l.Title, &l.Price, &l.Year, &l.Make, &l.Model, &l.Trim, &l.Mileage,
			&l.ExteriorColor, &l.InteriorColor, &l.FuelType, &l.Transmission, &l.Drivetrain, &l.Engine,
			&images, &l.Description, &l.DealershipURL, &l.FirstSeenAt, &l.UpdatedAt, &l.Status,
			&externalID, &externalURL, &publishedAt); err != nil {
			return nil, err
		}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &l.Images); err != nil {
				return nil, fmt.Errorf("decode images for %s: %w", l.Key, err)
			}
		}
		if externalID.Valid && externalID.String != "" {
			l.Publish = &models.PublishRef{
				ExternalID:  externalID.String,
				ExternalURL: externalURL.String,
				PublishedAt: publishedAt.Time,
			}
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// SaveListings upserts listings in one transaction.
func (s *SQLiteStore) SaveListings(ctx context.Context, listings []models.Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_key) DO UPDATE SET
			title = excluded.title, price = excluded.price, year = excluded.year,
			make = excluded.make, model = excluded.model, trim = excluded.trim,
			mileage = excluded.mileage, exterior_color = excluded.exterior_color,
			interior_color = excluded.interior_color, fuel_type = excluded.fuel_type,
			transmission = excluded.transmission, drivetrain = excluded.drivetrain,
			engine = excluded.engine, images = excluded.images,
			description = excluded.description, dealership_url = excluded.dealership_url,
			updated_at = excluded.updated_at, status = excluded.status,
			external_id = COALESCE(excluded.external_id, listings.external_id),
			external_url = COALESCE(excluded.external_url, listings.external_url),
			published_at = COALESCE(excluded.published_at, listings.published_at)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range listings {
		images, err := json.Marshal(l.Images)
		if err != nil {
			return fmt.Errorf("encode images for %s: %w", l.Key, err)
		}
		var externalID, externalURL, publishedAt any
		if l.Publish != nil {
			externalID, externalURL, publishedAt = l.Publish.ExternalID, l.Publish.ExternalURL, l.Publish.PublishedAt
		}
		if _, err := stmt.ExecContext(ctx,
			l.Key, l.ID, l.Title, l.Price, l.Year, l.Make, l.Model, l.Trim, l.Mileage,
			l.ExteriorColor, l.InteriorColor, l.FuelType, l.Transmission, l.Drivetrain, l.Engine,
			string(images), l.Description, l.DealershipURL, l.FirstSeenAt, l.UpdatedAt, l.Status,
			externalID, externalURL, publishedAt,
		); err != nil {
			return fmt.Errorf("save listing %s: %w", l.Key, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// Publish records
// =============================================================================

func (s *SQLiteStore) LoadPublishRecords(ctx context.Context) ([]models.PublishRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_key, state, external_id, external_url, attempts, last_error, last_attempt_at
		FROM publish_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.PublishRecord
	for rows.Next() {
		var r models.PublishRecord
		if err := rows.Scan(&r.Key, &r.State, &r.ExternalID, &r.ExternalURL, &r.Attempts, &r.LastError, &r.LastAttemptAt); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) SavePublishRecord(ctx context.Context, r models.PublishRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publish_records (listing_key, state, external_id, external_url, attempts, last_error, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_key) DO UPDATE SET
			state = excluded.state, external_id = excluded.external_id,
			external_url = excluded.external_url, attempts = excluded.attempts,
			last_error = excluded.last_error, last_attempt_at = excluded.last_attempt_at`,
		r.Key, r.State, r.ExternalID, r.ExternalURL, r.Attempts, r.LastError, r.LastAttemptAt)
	return err
}

// =============================================================================
// Runs and logs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (id, source_url, started_at, status, listings_found, listings_new,
			updated, sold, published, errors_count)
		VALUES (?, ?, ?, ?, 0, 0, 0, 0, 0, 0)`,
		run.ID, run.SourceURL, run.StartedAt, run.Status)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs SET finished_at = ?, status = ?, listings_found = ?, listings_new = ?,
			updated = ?, sold = ?, published = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFound, run.ListingsNew,
		run.Updated, run.Sold, run.Published, run.ErrorsCount, run.ID)
	return err
}

// RecentRuns returns the latest runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_url, started_at, finished_at, status, listings_found, listings_new,
			updated, sold, published, errors_count
		FROM scan_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScanRun
	for rows.Next() {
		var r models.ScanRun
		if err := rows.Scan(&r.ID, &r.SourceURL, &r.StartedAt, &r.FinishedAt, &r.Status, &r.ListingsFound,
			&r.ListingsNew, &r.Updated, &r.Sold, &r.Published, &r.ErrorsCount); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(ctx context.Context, runID string, level models.LogLevel, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_logs (run_id, timestamp, level, message)
		VALUES (?, ?, ?, ?)`,
		runID, time.Now(), level, message)
	return err
}

func (s *SQLiteStore) RunLogs(ctx context.Context, runID string) ([]models.ScanLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message
		FROM scan_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScanLog
	for rows.Next() {
		var l models.ScanLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	var raw any
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now())
	return err
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// =============================================================================
// Media
// =============================================================================

func (s *SQLiteStore) LoadMedia(ctx context.Context) (map[string]models.MediaObject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, listing_key, COALESCE(s3_key, ''), COALESCE(content_hash, ''), size,
			status, attempts, COALESCE(last_error, ''), updated_at
		FROM media`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.MediaObject)
	for rows.Next() {
		var m models.MediaObject
		if err := rows.Scan(&m.URL, &m.ListingKey, &m.S3Key, &m.ContentHash, &m.Size,
			&m.Status, &m.Attempts, &m.LastError, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out[m.URL] = m
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMedia(ctx context.Context, m models.MediaObject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media (url, listing_key, s3_key, content_hash, size, status, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			listing_key = excluded.listing_key,
			s3_key = excluded.s3_key,
			content_hash = excluded.content_hash,
			size = excluded.size,
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		m.URL, m.ListingKey, m.S3Key, m.ContentHash, m.Size, m.Status, m.Attempts, m.LastError, m.UpdatedAt)
	return err
}
