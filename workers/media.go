package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"dealerscan/httputil"
	"dealerscan/metrics"
	"dealerscan/models"
)

const (
	maxMediaAttempts = 3
	maxMediaSize     = 50 * 1024 * 1024
)

// Uploader puts objects into S3-compatible storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

type ListingSource interface {
	All() []models.Listing
}

// MediaIndex remembers which image URLs were mirrored or gave up.
type MediaIndex interface {
	LoadMedia(ctx context.Context) (map[string]models.MediaObject, error)
	SaveMedia(ctx context.Context, m models.MediaObject) error
}

// MediaWorker mirrors listing images to object storage so published
// listings keep their photos after the dealership removes a vehicle.
type MediaWorker struct {
	listings ListingSource
	index    MediaIndex
	uploader Uploader
	client   *http.Client
	logger   *zap.Logger
	trigger  chan struct{}
	pause    time.Duration
	now      func() time.Time
}

func NewMediaWorker(listings ListingSource, index MediaIndex, uploader Uploader, client *http.Client, logger *zap.Logger) *MediaWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaWorker{
		listings: listings,
		index:    index,
		uploader: uploader,
		client:   client,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		pause:    200 * time.Millisecond,
		now:      time.Now,
	}
}

// Trigger asks for a batch without waiting for the next tick.
func (w *MediaWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run processes batches until ctx is done.
func (w *MediaWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Media worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, batchSize)
		case <-w.trigger:
			w.ProcessBatch(ctx, batchSize)
		}
	}
}

type pendingImage struct {
	url        string
	listingKey string
	prev       models.MediaObject
}

// pending lists images of unsold listings that are neither mirrored nor out
// of attempts, in listing order.
func (w *MediaWorker) pending(known map[string]models.MediaObject, limit int) []pendingImage {
	var out []pendingImage
	queued := make(map[string]bool)
	for _, l := range w.listings.All() {
		if l.Status == models.StatusSold {
			continue
		}
		for _, img := range l.Images {
			if queued[img] {
				continue
			}
			prev, ok := known[img]
			if ok && (prev.Status == models.MediaStatusUploaded || prev.Attempts >= maxMediaAttempts) {
				continue
			}
			queued[img] = true
			out = append(out, pendingImage{url: img, listingKey: l.Key, prev: prev})
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// ProcessBatch mirrors up to batchSize pending images and returns how many
// were uploaded and how many failed.
func (w *MediaWorker) ProcessBatch(ctx context.Context, batchSize int) (int, int) {
	known, err := w.index.LoadMedia(ctx)
	if err != nil {
		w.logger.Error("Media worker: index query failed", zap.Error(err))
		return 0, 0
	}

	batch := w.pending(known, batchSize)
	if len(batch) == 0 {
		return 0, 0
	}
	w.logger.Info("Media worker: processing batch", zap.Int("items", len(batch)))

	var uploaded, failed int
	for i, item := range batch {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && w.pause > 0 {
			time.Sleep(w.pause)
		}

		m := models.MediaObject{
			URL:        item.url,
			ListingKey: item.listingKey,
			Attempts:   item.prev.Attempts + 1,
			UpdatedAt:  w.now(),
		}
		if err := w.Process(ctx, &m); err != nil {
			m.Status = models.MediaStatusFailed
			m.LastError = err.Error()
			failed++
			w.logger.Warn("Media worker: mirror failed", zap.String("url", item.url), zap.Int("attempts", m.Attempts), zap.Error(err))
		} else {
			m.Status = models.MediaStatusUploaded
			uploaded++
			w.logger.Debug("Media worker: mirrored", zap.String("url", item.url), zap.String("s3_key", m.S3Key), zap.Int64("size", m.Size))
		}
		metrics.ObserveMedia(err)

		if err := w.index.SaveMedia(ctx, m); err != nil {
			w.logger.Error("Media worker: failed to record media", zap.String("url", item.url), zap.Error(err))
		}
	}

	w.logger.Info("Media worker: batch done", zap.Int("uploaded", uploaded), zap.Int("failed", failed))
	return uploaded, failed
}

// Process downloads one image, hashes it and uploads it under a
// content-addressed key. It fills S3Key, ContentHash and Size on m.
func (w *MediaWorker) Process(ctx context.Context, m *models.MediaObject) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", httputil.UserAgent)
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	hash := sha256.Sum256(data)
	m.ContentHash = hex.EncodeToString(hash[:])
	m.Size = int64(len(data))

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	m.S3Key = MediaKey(m.ContentHash, guessExtension(m.URL, contentType))

	if err := w.uploader.Upload(ctx, m.S3Key, bytes.NewReader(data), contentType); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// MediaKey is media/{first two hash chars}/{hash}{ext}.
func MediaKey(hash, ext string) string {
	return fmt.Sprintf("media/%s/%s%s", hash[:2], hash, ext)
}

func guessExtension(rawURL, contentType string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if ext := strings.ToLower(path.Ext(p)); isImageExt(ext) {
		return ext
	}

	switch strings.TrimSpace(strings.Split(contentType, ";")[0]) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}
