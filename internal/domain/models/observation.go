package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// PriceObservation is an immutable, cleaned price record.
// Observations are created by the ingestion collaborator; the engine only consumes them.
type PriceObservation struct {
	Product string              `json:"product"`
	Market  string              `json:"market"`
	Origin  string              `json:"origin"`
	Date    time.Time           `json:"date"`
	Price   decimal.Decimal     `json:"price"`
	Unit    string              `json:"unit"`
	Volume  decimal.NullDecimal `json:"volume"`
}

// ObservationKey is the uniqueness key of an observation.
type ObservationKey struct {
	Product string
	Market  string
	Origin  string
	Date    time.Time
}

func (k ObservationKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Product, k.Market, k.Origin, k.Date.Format(DateLayout))
}

// Key returns the uniqueness key. Date is normalized to a calendar day.
func (o PriceObservation) Key() ObservationKey {
	return ObservationKey{Product: o.Product, Market: o.Market, Origin: o.Origin, Date: DayOf(o.Date)}
}

// SeriesKey returns the (product, market) series the observation belongs to.
func (o PriceObservation) SeriesKey() SeriesKey {
	return SeriesKey{Product: o.Product, Market: o.Market}
}

// PriceFloat returns the price as float64 for numeric work.
func (o PriceObservation) PriceFloat() float64 {
	return o.Price.InexactFloat64()
}

// VolumeFloat returns the volume proxy, if present.
func (o PriceObservation) VolumeFloat() (float64, bool) {
	if !o.Volume.Valid {
		return 0, false
	}
	return o.Volume.Decimal.InexactFloat64(), true
}

// DayOf truncates t to its calendar day at 00:00 UTC.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns the calendar day.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DayOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DayOf(t), nil
}

// DateRange is an inclusive calendar range. A zero bound is open.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// AllTime is the unbounded range.
var AllTime = DateRange{}

// Contains reports whether day d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	d = DayOf(d)
	if !r.From.IsZero() && d.Before(DayOf(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(DayOf(r.To)) {
		return false
	}
	return true
}

// SeriesKey partitions per-entity computation. An empty Market is the
// product-level aggregate across all markets.
type SeriesKey struct {
	Product string `json:"product"`
	Market  string `json:"market,omitempty"`
}

// ProductKey returns the product-level aggregate key.
func ProductKey(product string) SeriesKey { return SeriesKey{Product: product} }

// IsProductLevel reports whether the key spans all markets.
func (k SeriesKey) IsProductLevel() bool { return k.Market == "" }

// Matches reports whether the observation belongs to the series.
func (k SeriesKey) Matches(o PriceObservation) bool {
	if o.Product != k.Product {
		return false
	}
	return k.IsProductLevel() || o.Market == k.Market
}

func (k SeriesKey) String() string {
	if k.IsProductLevel() {
		return k.Product + "|*"
	}
	return k.Product + "|" + k.Market
}

// Rejection describes one observation refused at ingestion.
type Rejection struct {
	Index  int    `json:"index"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// IngestReport is returned to the ingestion collaborator for every batch.
type IngestReport struct {
	Received    int         `json:"received"`
	Accepted    int         `json:"accepted"`
	Overwritten int         `json:"overwritten"`
	Rejected    int         `json:"rejected"`
	Rejections  []Rejection `json:"rejections,omitempty"`
}

// SeriesSnapshot is an immutable copy of the full store used by global
// computations (clustering, portfolio, elasticity).
type SeriesSnapshot struct {
	Version      uint64
	TakenAt      time.Time
	Observations []PriceObservation
}

// ForProduct returns the observations of one product, in snapshot order.
func (s SeriesSnapshot) ForProduct(product string) []PriceObservation {
	out := make([]PriceObservation, 0)
	for _, o := range s.Observations {
		if o.Product == product {
			out = append(out, o)
		}
	}
	return out
}
