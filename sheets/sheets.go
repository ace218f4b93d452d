package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"dealerscan/models"
)

const clearRange = "A:T"

var headerRow = []any{
	"ID", "Title", "Price", "Year", "Make", "Model", "Trim", "Mileage",
	"Exterior Color", "Interior Color", "Fuel Type", "Transmission",
	"Drivetrain", "Engine Size", "Status", "Date Scraped", "Last Updated",
	"Original Listing URL", "Facebook Marketplace ID", "Facebook Marketplace URL",
}

var ErrSheetNotFound = errors.New("spreadsheet not found")

type Invalidator interface {
	Invalidate() error
}

// Client overwrites a spreadsheet with the current listing set through the
// Sheets v4 REST API. The HTTP client must carry the Google token.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  Invalidator
	logger  *zap.Logger
}

func NewClient(baseURL string, client *http.Client, tokens Invalidator, logger *zap.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		logger:  logger,
	}
}

// Sync replaces columns A:T with a header row and one row per listing.
func (c *Client) Sync(ctx context.Context, sheetID string, listings []models.Listing) error {
	base := c.baseURL + "/spreadsheets/" + url.PathEscape(sheetID)

	if err := c.do(ctx, http.MethodGet, base+"?fields=spreadsheetId", nil); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, base+"/values/"+url.PathEscape(clearRange)+":clear", struct{}{}); err != nil {
		return err
	}

	values := make([][]any, 0, len(listings)+1)
	values = append(values, headerRow)
	for _, l := range listings {
		values = append(values, Row(l))
	}
	update := map[string]any{"range": "A1", "majorDimension": "ROWS", "values": values}
	if err := c.do(ctx, http.MethodPut, base+"/values/A1?valueInputOption=RAW", update); err != nil {
		return err
	}

	c.logger.Info("Synced sheet", zap.String("sheet_id", sheetID), zap.Int("rows", len(listings)))
	return nil
}

// Row renders one listing in header column order.
func Row(l models.Listing) []any {
	var extID, extURL string
	if l.Publish != nil {
		extID, extURL = l.Publish.ExternalID, l.Publish.ExternalURL
	}
	return []any{
		l.ID, l.Title, l.Price, l.Year, l.Make, l.Model, l.Trim, l.Mileage,
		l.ExteriorColor, l.InteriorColor, l.FuelType, l.Transmission,
		l.Drivetrain, l.Engine, string(l.Status), formatTime(l.FirstSeenAt), formatTime(l.UpdatedAt),
		l.Key, extID, extURL,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrSheetNotFound
	case http.StatusUnauthorized:
		if c.tokens != nil {
			if err := c.tokens.Invalidate(); err != nil {
				c.logger.Warn("Failed to drop google token", zap.Error(err))
			}
		}
		return fmt.Errorf("%w: google authentication expired", models.ErrNotAuthenticated)
	}
	return fmt.Errorf("sheets error %d: %s", resp.StatusCode, string(data))
}
