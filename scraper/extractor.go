package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dealerscan/models"
)

// Selectors locate the fields of one inventory card. Each value may be a
// selector group; the first match wins.
type Selectors struct {
	Card          string
	Title         string
	Price         string
	Mileage       string
	Link          string
	Image         string
	ExteriorColor string
	InteriorColor string
	FuelType      string
	Transmission  string
	Drivetrain    string
	Engine        string
	Description   string
}

// DefaultSelectors match the common dealer inventory templates.
var DefaultSelectors = Selectors{
	Card:          ".vehicle-card, .inventory-listing, .car-listing",
	Title:         ".vehicle-title, .listing-title, h2",
	Price:         ".price, .vehicle-price",
	Mileage:       ".mileage, .vehicle-mileage, .miles",
	Link:          "a",
	Image:         "img",
	ExteriorColor: ".exterior-color, .color",
	InteriorColor: ".interior-color",
	FuelType:      ".fuel-type, .fuel",
	Transmission:  ".transmission",
	Drivetrain:    ".drivetrain, .drive-type",
	Engine:        ".engine, .engine-size",
	Description:   ".description, .vehicle-description",
}

// image srcs containing these are site chrome, not vehicle photos
var skipImageMarkers = []string{"placeholder", "logo"}

type Extractor struct {
	sel Selectors
}

func NewExtractor(sel Selectors) *Extractor {
	return &Extractor{sel: sel}
}

// Extract parses an inventory page into raw records, one per card, in page
// order. Values are left as page text for the normalizer.
func (e *Extractor) Extract(r io.Reader, includeImages bool) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var records []models.RawRecord
	doc.Find(e.sel.Card).Each(func(_ int, card *goquery.Selection) {
		rec := models.RawRecord{
			Title:         firstText(card, e.sel.Title),
			Price:         firstText(card, e.sel.Price),
			Mileage:       firstText(card, e.sel.Mileage),
			ExteriorColor: firstText(card, e.sel.ExteriorColor),
			InteriorColor: firstText(card, e.sel.InteriorColor),
			FuelType:      firstText(card, e.sel.FuelType),
			Transmission:  firstText(card, e.sel.Transmission),
			Drivetrain:    firstText(card, e.sel.Drivetrain),
			Engine:        firstText(card, e.sel.Engine),
			Description:   firstText(card, e.sel.Description),
		}
		rec.URL, _ = card.Find(e.sel.Link).First().Attr("href")

		if includeImages {
			card.Find(e.sel.Image).Each(func(_ int, img *goquery.Selection) {
				src := img.AttrOr("src", "")
				if src == "" {
					src = img.AttrOr("data-src", "")
				}
				if src == "" || isChromeImage(src) {
					return
				}
				rec.Images = append(rec.Images, src)
			})
		}

		records = append(records, rec)
	})

	return records, nil
}

func firstText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

func isChromeImage(src string) bool {
	lower := strings.ToLower(src)
	for _, m := range skipImageMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
