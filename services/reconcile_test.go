package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"dealerscan/models"
)

func newTestReconciler(store *ListingStore, now time.Time) *Reconciler {
	r := NewReconciler(store, nil)
	r.now = func() time.Time { return now }
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return r
}

func candidate(key string, price int, title string) models.Listing {
	return models.Listing{Key: key, Price: price, Title: title}
}

var (
	t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
)

func TestReconcile_EmptyStoreInsertsNew(t *testing.T) {
	store := NewListingStore(nil)
	r := newTestReconciler(store, t0)

	rec, err := r.Reconcile(context.Background(), []models.Listing{candidate("A", 10000, "2020 Honda Civic")}, 0)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	res := rec.Result
	if res.New != 1 || res.Updated != 0 || res.Sold != 0 || res.Unchanged != 0 || res.TotalFound != 1 {
		t.Fatalf("unexpected tally %+v", res)
	}

	l, ok := store.Get("A")
	if !ok {
		t.Fatalf("expected listing A in store")
	}
	if l.Status != models.StatusNew {
		t.Fatalf("expected status new, got %s", l.Status)
	}
	if l.ID != "id-1" || !l.FirstSeenAt.Equal(t0) {
		t.Fatalf("unexpected id/first seen: %s %v", l.ID, l.FirstSeenAt)
	}
}

func TestReconcile_PriceChangeUpdates(t *testing.T) {
	stored := candidate("A", 10000, "2020 Honda Civic")
	stored.ID = "orig"
	stored.Status = models.StatusActive
	stored.FirstSeenAt = t0
	stored.UpdatedAt = t0
	stored.Publish = &models.PublishRef{ExternalID: "X"}
	store := NewListingStore([]models.Listing{stored})
	r := newTestReconciler(store, t1)

	rec, err := r.Reconcile(context.Background(), []models.Listing{candidate("A", 9500, "2020 Honda Civic")}, 0)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Result.Updated != 1 || rec.Result.New != 0 {
		t.Fatalf("unexpected tally %+v", rec.Result)
	}

	l, _ := store.Get("A")
	if l.Price != 9500 {
		t.Fatalf("expected price 9500, got %d", l.Price)
	}
	if l.Status != models.StatusActive {
		t.Fatalf("expected status active, got %s", l.Status)
	}
	if !l.FirstSeenAt.Equal(t0) {
		t.Fatalf("first seen changed to %v", l.FirstSeenAt)
	}
	if !l.UpdatedAt.Equal(t1) {
		t.Fatalf("expected updated at %v, got %v", t1, l.UpdatedAt)
	}
	if l.ID != "orig" {
		t.Fatalf("expected id to be kept, got %s", l.ID)
	}
	if l.Publish == nil || l.Publish.ExternalID != "X" {
		t.Fatalf("publish reference lost: %+v", l.Publish)
	}
}

func TestReconcile_CosmeticChangeIsUnchanged(t *testing.T) {
	stored := candidate("A", 10000, "2020 Honda Civic")
	stored.Status = models.StatusNew
	stored.Description = "old words"
	stored.UpdatedAt = t0
	store := NewListingStore([]models.Listing{stored})
	r := newTestReconciler(store, t1)

	cand := candidate("A", 10000, "2020 Honda Civic")
	cand.Description = "new words"
	rec, err := r.Reconcile(context.Background(), []models.Listing{cand}, 0)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Result.Unchanged != 1 || rec.Result.Updated != 0 {
		t.Fatalf("unexpected tally %+v", rec.Result)
	}
	if len(rec.Emitted) != 1 || rec.Emitted[0].Description != "old words" {
		t.Fatalf("expected stored entry to be emitted, got %+v", rec.Emitted)
	}

	l, _ := store.Get("A")
	if !l.UpdatedAt.Equal(t0) || l.Status != models.StatusNew {
		t.Fatalf("unchanged listing was touched: %+v", l)
	}
}

func TestReconcile_AbsentBecomesSold(t *testing.T) {
	stored := candidate("A", 10000, "2020 Honda Civic")
	stored.Status = models.StatusActive
	store := NewListingStore([]models.Listing{stored})
	r := newTestReconciler(store, t1)

	rec, err := r.Reconcile(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Result.Sold != 1 {
		t.Fatalf("expected 1 sold, got %+v", rec.Result)
	}

	l, ok := store.Get("A")
	if !ok {
		t.Fatalf("sold listing was removed")
	}
	if l.Status != models.StatusSold {
		t.Fatalf("expected status sold, got %s", l.Status)
	}

	// A second empty snapshot does not count it again.
	rec, err = r.Reconcile(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Result.Sold != 0 {
		t.Fatalf("sold listing counted twice")
	}
	if store.Len() != 1 {
		t.Fatalf("expected store to keep 1 listing, got %d", store.Len())
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := NewListingStore(nil)
	r := newTestReconciler(store, t0)
	snapshot := []models.Listing{
		candidate("A", 100, "2020 Honda Civic"),
		candidate("B", 200, "2021 Mazda 3"),
	}

	if _, err := r.Reconcile(context.Background(), snapshot, 0); err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	rec, err := r.Reconcile(context.Background(), snapshot, 0)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if rec.Result.New != 0 || rec.Result.Updated != 0 || rec.Result.Unchanged != 2 {
		t.Fatalf("expected no changes on identical snapshot, got %+v", rec.Result)
	}
	if len(rec.Changed) != 0 {
		t.Fatalf("expected nothing written, got %d", len(rec.Changed))
	}
}

func TestReconcile_CapDoesNotMarkSold(t *testing.T) {
	stored := candidate("C", 300, "2019 Ford Focus")
	stored.Status = models.StatusActive
	store := NewListingStore([]models.Listing{stored})
	r := newTestReconciler(store, t1)

	snapshot := []models.Listing{
		candidate("A", 100, "2020 Honda Civic"),
		candidate("B", 200, "2021 Mazda 3"),
		candidate("C", 300, "2019 Ford Focus"),
	}
	rec, err := r.Reconcile(context.Background(), snapshot, 2)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Result.TotalFound != 3 {
		t.Fatalf("expected total found 3, got %d", rec.Result.TotalFound)
	}
	if rec.Result.New != 2 || rec.Result.Sold != 0 {
		t.Fatalf("unexpected tally %+v", rec.Result)
	}
	if l, _ := store.Get("C"); l.Status != models.StatusActive {
		t.Fatalf("capped-out listing changed status to %s", l.Status)
	}
}

func TestReconcile_DuplicateKeysFirstWins(t *testing.T) {
	store := NewListingStore(nil)
	r := newTestReconciler(store, t0)

	rec, err := r.Reconcile(context.Background(), []models.Listing{
		candidate("A", 100, "first"),
		candidate("A", 999, "second"),
	}, 0)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Result.New != 1 || rec.Result.TotalFound != 2 {
		t.Fatalf("unexpected tally %+v", rec.Result)
	}
	if l, _ := store.Get("A"); l.Price != 100 {
		t.Fatalf("expected first occurrence to win, got price %d", l.Price)
	}
}

func TestReconcile_SoldListingSeenAgain(t *testing.T) {
	tests := []struct {
		name          string
		price         int
		wantStatus    models.ListingStatus
		wantUpdated   int
		wantUnchanged int
	}{
		{name: "unchanged stays sold", price: 100, wantStatus: models.StatusSold, wantUnchanged: 1},
		{name: "price change revives", price: 90, wantStatus: models.StatusActive, wantUpdated: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := candidate("A", 100, "2020 Honda Civic")
			stored.Status = models.StatusSold
			stored.FirstSeenAt = t0
			stored.UpdatedAt = t0
			store := NewListingStore([]models.Listing{stored})
			r := newTestReconciler(store, t1)

			rec, err := r.Reconcile(context.Background(), []models.Listing{candidate("A", tt.price, "2020 Honda Civic")}, 0)
			if err != nil {
				t.Fatalf("reconcile failed: %v", err)
			}
			if rec.Result.Updated != tt.wantUpdated || rec.Result.Unchanged != tt.wantUnchanged || rec.Result.Sold != 0 {
				t.Fatalf("unexpected tally %+v", rec.Result)
			}
			if len(rec.Emitted) != 1 || rec.Emitted[0].Status != tt.wantStatus {
				t.Fatalf("unexpected emitted %+v", rec.Emitted)
			}
			l, _ := store.Get("A")
			if l.Status != tt.wantStatus || !l.FirstSeenAt.Equal(t0) {
				t.Fatalf("unexpected stored listing %+v", l)
			}
			if tt.wantUnchanged == 1 && !l.UpdatedAt.Equal(t0) {
				t.Fatalf("unchanged sold listing was rewritten at %v", l.UpdatedAt)
			}
		})
	}
}

func TestReconcile_CancelledLeavesStoreUntouched(t *testing.T) {
	stored := candidate("A", 100, "2020 Honda Civic")
	stored.Status = models.StatusActive
	store := NewListingStore([]models.Listing{stored})
	r := newTestReconciler(store, t1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Reconcile(ctx, []models.Listing{candidate("B", 1, "x")}, 0); err == nil {
		t.Fatalf("expected context error")
	}
	if store.Len() != 1 {
		t.Fatalf("store mutated on cancelled reconcile")
	}
	if l, _ := store.Get("A"); l.Status != models.StatusActive {
		t.Fatalf("store mutated on cancelled reconcile: %s", l.Status)
	}
}

func TestMaterialFields(t *testing.T) {
	base := candidate("A", 100, "t")
	tests := []struct {
		name  string
		cand  models.Listing
		field string
		want  bool
	}{
		{"same", candidate("A", 100, "t"), "", false},
		{"price", candidate("A", 90, "t"), "price", true},
		{"title", candidate("A", 100, "u"), "title", true},
		{"mileage only", models.Listing{Key: "A", Price: 100, Title: "t", Mileage: 5}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, got := materiallyChanged(&base, &tt.cand)
			if got != tt.want || field != tt.field {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.field, tt.want, field, got)
			}
		})
	}
}
