package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealerscan/models"
)

const testSource = "https://dealer.example.com/inventory"

func testOpts() NormalizeOptions {
	return NormalizeOptions{
		SourceURL:     testSource,
		IncludeImages: true,
		Now:           time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalize_Basic(t *testing.T) {
	raw := models.RawRecord{
		Title:   "  2020 Honda   Civic EX ",
		Price:   "$12,995",
		Mileage: "45,120 mi",
		URL:     "/vehicles/123",
		Images:  []string{"/img/1.jpg", "https://cdn.example.com/2.jpg", "/img/1.jpg"},
	}

	l, err := Normalize(raw, testOpts())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if l.Key != "https://dealer.example.com/vehicles/123" {
		t.Fatalf("unexpected key %s", l.Key)
	}
	if l.Title != "2020 Honda Civic EX" {
		t.Fatalf("unexpected title %q", l.Title)
	}
	if l.Price != 12995 {
		t.Fatalf("expected price 12995, got %d", l.Price)
	}
	if l.Year != 2020 || l.Make != "Honda" || l.Model != "Civic EX" {
		t.Fatalf("unexpected title split %d/%s/%s", l.Year, l.Make, l.Model)
	}
	if l.Mileage != 45120 {
		t.Fatalf("expected mileage 45120, got %d", l.Mileage)
	}
	if len(l.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", l.Images)
	}
	if l.Images[0] != "https://dealer.example.com/img/1.jpg" {
		t.Fatalf("unexpected first image %s", l.Images[0])
	}
	if l.DealershipURL != testSource {
		t.Fatalf("unexpected dealership url %s", l.DealershipURL)
	}
	if l.Status != "" || !l.FirstSeenAt.IsZero() {
		t.Fatalf("normalizer must not set status or timestamps")
	}
}

func TestNormalize_TolerantNumbers(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		mileage string
		want    int
		wantMi  int
	}{
		{"call for price", "Call for price", "N/A", 0, 0},
		{"cents stripped", "$9,500.00", "12000", 9500, 12000},
		{"plain", "10000", "", 10000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := models.RawRecord{Title: "2019 Ford F-150", Price: tt.price, Mileage: tt.mileage, URL: "/v/1"}
			l, err := Normalize(raw, testOpts())
			if err != nil {
				t.Fatalf("normalize failed: %v", err)
			}
			if l.Price != tt.want {
				t.Errorf("price: expected %d, got %d", tt.want, l.Price)
			}
			if l.Mileage != tt.wantMi {
				t.Errorf("mileage: expected %d, got %d", tt.wantMi, l.Mileage)
			}
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  models.RawRecord
	}{
		{"missing title", models.RawRecord{Price: "100", URL: "/v/1"}},
		{"missing price", models.RawRecord{Title: "2020 Honda Civic", URL: "/v/1"}},
		{"overflowing price", models.RawRecord{Title: "2020 Honda Civic", Price: "999999999999999999999999", URL: "/v/1"}},
		{"unresolvable url", models.RawRecord{Title: "2020 Honda Civic", Price: "100", URL: "javascript:void(0)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw, testOpts())
			if !errors.Is(err, models.ErrMalformedRecord) {
				t.Fatalf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestNormalize_RawFieldsOverrideTitle(t *testing.T) {
	raw := models.RawRecord{
		Title: "Certified Toyota Camry",
		Price: "20000",
		Year:  "2021",
		Make:  "Toyota",
		Model: "Camry",
		URL:   "/v/9",
	}
	l, err := Normalize(raw, testOpts())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if l.Year != 2021 || l.Make != "Toyota" || l.Model != "Camry" {
		t.Fatalf("unexpected fields %d/%s/%s", l.Year, l.Make, l.Model)
	}
}

func TestNormalize_TitleWithoutYear(t *testing.T) {
	l, err := Normalize(models.RawRecord{Title: "Jeep", Price: "1", URL: "/v/2"}, testOpts())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if l.Year != 2024 {
		t.Fatalf("expected fallback year 2024, got %d", l.Year)
	}
}

func TestNormalize_ImagesExcluded(t *testing.T) {
	opts := testOpts()
	opts.IncludeImages = false

	l, err := Normalize(models.RawRecord{Title: "2020 Kia Soul", Price: "1", URL: "/v/3", Images: []string{"/a.jpg"}}, opts)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(l.Images) != 0 {
		t.Fatalf("expected no images, got %v", l.Images)
	}
}

func TestNormalizeAll_KeepsOrderAndReportsFailures(t *testing.T) {
	raws := []models.RawRecord{
		{Title: "2020 Honda Civic", Price: "100", URL: "/v/1"},
		{Title: "", Price: "200", URL: "/v/2"},
		{Title: "2021 Mazda 3", Price: "300", URL: "/v/3"},
		{Title: "2022 Subaru Outback", Price: "400", URL: "/v/4"},
	}

	snapshot, failures := NormalizeAll(context.Background(), raws, testOpts(), 2)
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(snapshot))
	}
	if snapshot[0].Price != 100 || snapshot[1].Price != 300 || snapshot[2].Price != 400 {
		t.Fatalf("snapshot order not preserved: %d %d %d", snapshot[0].Price, snapshot[1].Price, snapshot[2].Price)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	var recErr *RecordError
	if !errors.As(failures[0], &recErr) || recErr.Index != 1 {
		t.Fatalf("expected RecordError at index 1, got %v", failures[0])
	}
	if !errors.Is(failures[0], models.ErrMalformedRecord) {
		t.Fatalf("expected failure to wrap ErrMalformedRecord")
	}
}
