package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"dealerscan/models"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestPostgresStore_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	store, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := "https://pg-test.example.com/v/" + now.Format("150405.000000")
	l := models.Listing{ID: "pg-1", Key: key, Title: "2020 Honda Civic", Price: 1, FirstSeenAt: now, UpdatedAt: now, Status: models.StatusNew}
	if err := store.SaveListings(ctx, []models.Listing{l}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.SavePublishRecord(ctx, models.PublishRecord{Key: key, State: models.PublishStatePublished, ExternalID: "X", Attempts: 1, LastAttemptAt: now}); err != nil {
		t.Fatalf("save record failed: %v", err)
	}

	listings, err := store.LoadListings(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	found := false
	for _, got := range listings {
		if got.Key == key {
			found = true
			if got.Price != 1 || got.Status != models.StatusNew {
				t.Fatalf("unexpected listing %+v", got)
			}
		}
	}
	if !found {
		t.Fatalf("saved listing not loaded")
	}

	recs, err := store.LoadPublishRecords(ctx)
	if err != nil {
		t.Fatalf("load records failed: %v", err)
	}
	for _, r := range recs {
		if r.Key == key && !r.Published() {
			t.Fatalf("expected published record, got %+v", r)
		}
	}
}
