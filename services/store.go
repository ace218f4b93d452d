package services

import (
	"fmt"
	"sort"
	"sync"

	"dealerscan/models"
)

// ListingStore is the in-memory set of known listings, keyed by identity key.
// Only a running cycle writes to it: the reconciler commits a whole snapshot
// at once and the publish coordinator attaches marketplace references.
// Readers may call it at any time.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]*models.Listing
}

func NewListingStore(initial []models.Listing) *ListingStore {
	s := &ListingStore{listings: make(map[string]*models.Listing, len(initial))}
	for i := range initial {
		l := initial[i].Clone()
		s.listings[l.Key] = &l
	}
	return s
}

// Get returns a copy of the listing stored under key.
func (s *ListingStore) Get(key string) (models.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[key]
	if !ok {
		return models.Listing{}, false
	}
	return l.Clone(), true
}

// GetByID looks a listing up by its internal id.
func (s *ListingStore) GetByID(id string) (models.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.listings {
		if l.ID == id {
			return l.Clone(), true
		}
	}
	return models.Listing{}, false
}

// All returns copies of every listing, sold ones included, ordered by key.
func (s *ListingStore) All() []models.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *ListingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}

// CountByStatus tallies the stored listings per lifecycle status.
func (s *ListingStore) CountByStatus() map[models.ListingStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.ListingStatus]int)
	for _, l := range s.listings {
		counts[l.Status]++
	}
	return counts
}

// commit replaces or inserts every listing in changes under one lock.
func (s *ListingStore) commit(changes map[string]models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, l := range changes {
		l := l.Clone()
		s.listings[key] = &l
	}
}

// attachPublishRef records a marketplace reference on an existing listing.
func (s *ListingStore) attachPublishRef(key string, ref models.PublishRef) (models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[key]
	if !ok {
		return models.Listing{}, fmt.Errorf("%w: %s", models.ErrListingNotFound, key)
	}
	r := ref
	l.Publish = &r
	return l.Clone(), nil
}
