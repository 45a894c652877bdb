package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
)

// StoreOption configures MemorySeriesStore.
type StoreOption func(*MemorySeriesStore)

// WithClock overrides the ingestion clock used to reject future dates.
func WithClock(now func() time.Time) StoreOption {
	return func(s *MemorySeriesStore) {
		if now != nil {
			s.now = now
		}
	}
}

// MemorySeriesStore is the in-memory Series Store. Observations are merged by
// their uniqueness key with last-write-wins semantics.
type MemorySeriesStore struct {
	mu        sync.RWMutex
	obs       map[models.ObservationKey]models.PriceObservation
	bySeries  map[models.SeriesKey]map[models.ObservationKey]struct{}
	byProduct map[string]map[models.SeriesKey]struct{}
	version   uint64
	now       func() time.Time
}

var _ domrepo.SeriesStore = (*MemorySeriesStore)(nil)

func NewMemorySeriesStore(opts ...StoreOption) *MemorySeriesStore {
	s := &MemorySeriesStore{
		obs:       make(map[models.ObservationKey]models.PriceObservation),
		bySeries:  make(map[models.SeriesKey]map[models.ObservationKey]struct{}),
		byProduct: make(map[string]map[models.SeriesKey]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates every record independently and merges the valid ones.
// When records are rejected the report lists them and the returned error wraps
// models.ErrInvalidObservation; the valid records are stored regardless.
func (s *MemorySeriesStore) Ingest(_ context.Context, batch []models.PriceObservation) (models.IngestReport, error) {
	report := models.IngestReport{Received: len(batch)}
	today := models.DayOf(s.now())

	s.mu.Lock()
	changed := false
	for i, o := range batch {
		if reason := validateObservation(o, today); reason != "" {
			report.Rejections = append(report.Rejections, models.Rejection{
				Index:  i,
				Key:    o.Key().String(),
				Reason: reason,
			})
			continue
		}
		o.Date = models.DayOf(o.Date)
		k := o.Key()
		if _, exists := s.obs[k]; exists {
			report.Overwritten++
		}
		s.obs[k] = o
		s.index(k, o.SeriesKey())
		report.Accepted++
		changed = true
	}
	if changed {
		s.version++
	}
	s.mu.Unlock()

	report.Rejected = len(report.Rejections)
	if report.Rejected > 0 {
		return report, &models.InvalidObservationError{Rejected: report.Rejected, Rejections: report.Rejections}
	}
	return report, nil
}

func validateObservation(o models.PriceObservation, today time.Time) string {
	switch {
	case strings.TrimSpace(o.Product) == "":
		return "product is empty"
	case strings.TrimSpace(o.Market) == "":
		return "market is empty"
	case o.Date.IsZero():
		return "date is missing"
	case !o.Price.IsPositive():
		return fmt.Sprintf("price must be > 0, got %s", o.Price.String())
	case models.DayOf(o.Date).After(today):
		return fmt.Sprintf("date %s is in the future", o.Date.Format(models.DateLayout))
	case o.Volume.Valid && o.Volume.Decimal.IsNegative():
		return "volume is negative"
	}
	return ""
}

func (s *MemorySeriesStore) index(k models.ObservationKey, sk models.SeriesKey) {
	set, ok := s.bySeries[sk]
	if !ok {
		set = make(map[models.ObservationKey]struct{})
		s.bySeries[sk] = set
	}
	set[k] = struct{}{}

	prod, ok := s.byProduct[sk.Product]
	if !ok {
		prod = make(map[models.SeriesKey]struct{})
		s.byProduct[sk.Product] = prod
	}
	prod[sk] = struct{}{}
}

// Query returns a date-ordered copy of the series. A product-level key spans all markets.
// Unknown keys yield an empty, non-nil slice.
func (s *MemorySeriesStore) Query(_ context.Context, key models.SeriesKey, r models.DateRange) []models.PriceObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PriceObservation, 0)
	for _, sk := range s.seriesFor(key) {
		for k := range s.bySeries[sk] {
			o := s.obs[k]
			if r.Contains(o.Date) {
				out = append(out, o)
			}
		}
	}
	sortObservations(out)
	return out
}

func (s *MemorySeriesStore) seriesFor(key models.SeriesKey) []models.SeriesKey {
	if !key.IsProductLevel() {
		if _, ok := s.bySeries[key]; ok {
			return []models.SeriesKey{key}
		}
		return nil
	}
	keys := make([]models.SeriesKey, 0, len(s.byProduct[key.Product]))
	for sk := range s.byProduct[key.Product] {
		keys = append(keys, sk)
	}
	return keys
}

// Delete removes observations by key (data correction) and returns how many existed.
func (s *MemorySeriesStore) Delete(_ context.Context, keys []models.ObservationKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, k := range keys {
		k.Date = models.DayOf(k.Date)
		if _, ok := s.obs[k]; !ok {
			continue
		}
		delete(s.obs, k)
		sk := models.SeriesKey{Product: k.Product, Market: k.Market}
		delete(s.bySeries[sk], k)
		if len(s.bySeries[sk]) == 0 {
			delete(s.bySeries, sk)
			delete(s.byProduct[sk.Product], sk)
			if len(s.byProduct[sk.Product]) == 0 {
				delete(s.byProduct, sk.Product)
			}
		}
		removed++
	}
	if removed > 0 {
		s.version++
	}
	return removed
}

// Keys lists every (product, market) series in lexical order.
func (s *MemorySeriesStore) Keys() []models.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]models.SeriesKey, 0, len(s.bySeries))
	for sk := range s.bySeries {
		keys = append(keys, sk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Product != keys[j].Product {
			return keys[i].Product < keys[j].Product
		}
		return keys[i].Market < keys[j].Market
	})
	return keys
}

func (s *MemorySeriesStore) Products() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byProduct))
	for p := range s.byProduct {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *MemorySeriesStore) Markets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for sk := range s.bySeries {
		seen[sk.Market] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of observations held for key.
func (s *MemorySeriesStore) Count(key models.SeriesKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sk := range s.seriesFor(key) {
		n += len(s.bySeries[sk])
	}
	return n
}

// Snapshot copies the whole store. The copy is ordered by product, market, date, origin.
func (s *MemorySeriesStore) Snapshot() models.SeriesSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.PriceObservation, 0, len(s.obs))
	for _, o := range s.obs {
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Product != b.Product {
			return a.Product < b.Product
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Origin < b.Origin
	})
	return models.SeriesSnapshot{Version: s.version, TakenAt: s.now(), Observations: all}
}

// Version increases on every mutation.
func (s *MemorySeriesStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func sortObservations(obs []models.PriceObservation) {
	sort.Slice(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return a.Origin < b.Origin
	})
}
