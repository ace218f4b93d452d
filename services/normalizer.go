package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dealerscan/identity"
	"dealerscan/models"
)

var (
	nonDigitRegex   = regexp.MustCompile(`[^0-9]`)
	centsRegex      = regexp.MustCompile(`[.]\d{1,2}\s*$`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// NormalizeOptions carries the per-cycle inputs the normalizer needs.
type NormalizeOptions struct {
	SourceURL     string
	IncludeImages bool
	Now           time.Time
}

// Normalize converts one raw record into a listing candidate. It never sets
// status or internal timestamps; reconciliation owns those.
func Normalize(raw models.RawRecord, opts NormalizeOptions) (models.Listing, error) {
	title := cleanText(raw.Title)
	if title == "" {
		return models.Listing{}, fmt.Errorf("%w: missing title", models.ErrMalformedRecord)
	}

	price, err := parsePrice(raw.Price)
	if err != nil {
		return models.Listing{}, fmt.Errorf("%w: %s: %v", models.ErrMalformedRecord, title, err)
	}

	key, err := identity.Key(opts.SourceURL, raw.URL)
	if err != nil {
		return models.Listing{}, fmt.Errorf("%w: %s: %v", models.ErrMalformedRecord, title, err)
	}

	year, maker, model := splitTitle(title, opts.Now)
	if y := parseTolerantInt(raw.Year); y > 0 {
		year = y
	}
	if m := cleanText(raw.Make); m != "" {
		maker = m
	}
	if m := cleanText(raw.Model); m != "" {
		model = m
	}

	listing := models.Listing{
		Key:           key,
		Title:         title,
		Price:         price,
		Year:          year,
		Make:          maker,
		Model:         model,
		Trim:          cleanText(raw.Trim),
		Mileage:       parseTolerantInt(raw.Mileage),
		ExteriorColor: cleanText(raw.ExteriorColor),
		InteriorColor: cleanText(raw.InteriorColor),
		FuelType:      cleanText(raw.FuelType),
		Transmission:  cleanText(raw.Transmission),
		Drivetrain:    cleanText(raw.Drivetrain),
		Engine:        cleanText(raw.Engine),
		Description:   strings.TrimSpace(raw.Description),
		DealershipURL: opts.SourceURL,
	}
	if opts.IncludeImages {
		listing.Images = resolveImages(opts.SourceURL, raw.Images)
	}

	return listing, nil
}

// RecordError ties a normalization failure to the record position.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// NormalizeAll normalizes records concurrently and keeps snapshot order.
// Malformed records are returned as errors and left out of the snapshot.
func NormalizeAll(ctx context.Context, raws []models.RawRecord, opts NormalizeOptions, workers int) ([]models.Listing, []error) {
	if workers <= 0 {
		workers = 4
	}

	listings := make([]models.Listing, len(raws))
	errs := make([]error, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = &RecordError{Index: i, Err: err}
				return nil
			}
			l, err := Normalize(raws[i], opts)
			if err != nil {
				errs[i] = &RecordError{Index: i, Err: err}
				return nil
			}
			listings[i] = l
			return nil
		})
	}
	g.Wait()

	var (
		snapshot []models.Listing
		failures []error
	)
	for i := range raws {
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		snapshot = append(snapshot, listings[i])
	}
	return snapshot, failures
}

// parsePrice fails only when the field is missing or the digits overflow.
// Text without any digits ("Call for price") parses as zero.
func parsePrice(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing price")
	}
	digits := nonDigitRegex.ReplaceAllString(centsRegex.ReplaceAllString(s, ""), "")
	if digits == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q", s)
	}
	return n, nil
}

// parseTolerantInt returns zero for anything it cannot read.
func parseTolerantInt(s string) int {
	digits := nonDigitRegex.ReplaceAllString(centsRegex.ReplaceAllString(strings.TrimSpace(s), ""), "")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// splitTitle reads "2020 Honda Civic EX" as year, make and model.
func splitTitle(title string, now time.Time) (int, string, string) {
	parts := strings.Fields(title)
	year := now.Year()
	if len(parts) == 0 {
		return year, "", ""
	}
	if y, err := strconv.Atoi(parts[0]); err == nil {
		year = y
	}

	var maker, model string
	if len(parts) > 1 {
		maker = parts[1]
	}
	if len(parts) > 2 {
		model = strings.Join(parts[2:], " ")
	}
	return year, maker, model
}

func resolveImages(sourceURL string, srcs []string) []string {
	seen := make(map[string]bool, len(srcs))
	var out []string
	for _, src := range srcs {
		abs, err := identity.Resolve(sourceURL, src)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

func cleanText(s string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
}
