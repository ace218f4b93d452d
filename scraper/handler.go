package scraper

import (
	"context"

	"go.uber.org/zap"

	"dealerscan/config"
	"dealerscan/httputil"
	"dealerscan/models"
)

// Handler fetches the dealership inventory and extracts raw records.
// maxListings bounds how much a handler fetches; it never truncates the
// cards of a page it already loaded, so reconciliation sees every key.
type Handler interface {
	ID() string
	Scrape(ctx context.Context, sourceURL string, maxListings int, includeImages bool) ([]models.RawRecord, error)
}

func NewHandler(fetchCfg config.FetchConfig, clients *httputil.Clients, logger *zap.Logger) Handler {
	extractor := NewExtractor(DefaultSelectors)
	switch fetchCfg.Handler {
	case "browser":
		return NewBrowserHandler(extractor, fetchCfg.Timeout, logger)
	default:
		return NewHTTPHandler(clients.Scraping, extractor, logger)
	}
}
