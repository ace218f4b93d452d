package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dealerscan/config"
	"dealerscan/models"
)

const itemURLPrefix = "https://www.facebook.com/marketplace/item/"

// Invalidator drops a session the provider has rejected.
type Invalidator interface {
	Invalidate() error
}

// Publisher posts vehicle listings to a Facebook page's marketplace catalog.
// The client is expected to carry the page token (see auth.TokenStore).
type Publisher struct {
	graphURL string
	pageID   string
	client   *http.Client
	tokens   Invalidator
	logger   *zap.Logger
	now      func() time.Time
}

func NewPublisher(cfg config.MarketplaceConfig, client *http.Client, tokens Invalidator, logger *zap.Logger) *Publisher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Publisher{
		graphURL: strings.TrimRight(cfg.GraphURL, "/"),
		pageID:   cfg.PageID,
		client:   client,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}
}

type vehicleMileage struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

type vehiclePayload struct {
	Availability   string         `json:"availability"`
	Brand          string         `json:"brand"`
	Category       string         `json:"category"`
	Condition      string         `json:"condition"`
	Description    string         `json:"description"`
	ImageURLs      []string       `json:"image_urls"`
	Name           string         `json:"name"`
	Price          int            `json:"price"`
	Currency       string         `json:"currency"`
	URL            string         `json:"url"`
	VehicleYear    int            `json:"vehicle_year"`
	VehicleMake    string         `json:"vehicle_make"`
	VehicleModel   string         `json:"vehicle_model"`
	VehicleTrim    string         `json:"vehicle_trim,omitempty"`
	VehicleMileage vehicleMileage `json:"vehicle_mileage"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func buildPayload(l models.Listing) vehiclePayload {
	images := l.Images
	if images == nil {
		images = []string{}
	}
	return vehiclePayload{
		Availability:   "IN_STOCK",
		Brand:          l.Make,
		Category:       "VEHICLES",
		Condition:      "USED",
		Description:    describe(l),
		ImageURLs:      images,
		Name:           l.Title,
		Price:          l.Price,
		Currency:       "USD",
		URL:            l.Key,
		VehicleYear:    l.Year,
		VehicleMake:    l.Make,
		VehicleModel:   l.Model,
		VehicleTrim:    l.Trim,
		VehicleMileage: vehicleMileage{Value: l.Mileage, Unit: "MI"},
	}
}

// describe builds the marketplace description text.
func describe(l models.Listing) string {
	var b strings.Builder
	heading := strings.TrimSpace(fmt.Sprintf("%d %s %s %s", l.Year, l.Make, l.Model, l.Trim))
	b.WriteString(heading)
	fmt.Fprintf(&b, "\n\nMileage: %d miles", l.Mileage)

	for _, f := range []struct{ label, value string }{
		{"Exterior Color", l.ExteriorColor},
		{"Interior Color", l.InteriorColor},
		{"Transmission", l.Transmission},
		{"Drivetrain", l.Drivetrain},
		{"Engine", l.Engine},
		{"Fuel Type", l.FuelType},
	} {
		if f.value != "" {
			fmt.Fprintf(&b, "\n%s: %s", f.label, f.value)
		}
	}
	if l.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(l.Description)
	}
	b.WriteString("\n\nView original listing: ")
	b.WriteString(l.Key)
	return b.String()
}

// Publish creates one marketplace listing. Errors are *models.PublishError.
func (p *Publisher) Publish(ctx context.Context, l models.Listing) (models.PublishRef, error) {
	body, err := json.Marshal(buildPayload(l))
	if err != nil {
		return models.PublishRef{}, &models.PublishError{Kind: models.PublishRejected, Err: err}
	}

	endpoint := fmt.Sprintf("%s/%s/vehicle_listings", p.graphURL, p.pageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.PublishRef{}, &models.PublishError{Kind: models.PublishRejected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, models.ErrNotAuthenticated) {
			return models.PublishRef{}, &models.PublishError{Kind: models.PublishAuthExpired, Err: err}
		}
		return models.PublishRef{}, &models.PublishError{Kind: models.PublishTransient, Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 300 {
		perr := &models.PublishError{
			Kind:       classify(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        errors.New(graphMessage(data)),
		}
		if perr.Kind == models.PublishAuthExpired && p.tokens != nil {
			if err := p.tokens.Invalidate(); err != nil {
				p.logger.Warn("Failed to drop marketplace token", zap.Error(err))
			}
		}
		return models.PublishRef{}, perr
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.ID == "" {
		return models.PublishRef{}, &models.PublishError{
			Kind:       models.PublishTransient,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("no listing id in response: %s", truncate(string(data), 200)),
		}
	}

	p.logger.Debug("Published listing", zap.String("key", l.Key), zap.String("external_id", created.ID))
	return models.PublishRef{
		ExternalID:  created.ID,
		ExternalURL: itemURLPrefix + created.ID,
		PublishedAt: p.now(),
	}, nil
}

func classify(status int) models.PublishErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return models.PublishAuthExpired
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return models.PublishTransient
	case status >= 400 && status < 500:
		return models.PublishRejected
	default:
		return models.PublishTransient
	}
}

func graphMessage(body []byte) string {
	var ge graphError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Message != "" {
		return ge.Error.Message
	}
	if len(body) == 0 {
		return "empty response"
	}
	return truncate(string(body), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
