package alerts

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgroPulse/internal/domain/models"
	"AgroPulse/pkg/config"
	"AgroPulse/pkg/logger"
)

// Inputs are the latest analytics outputs an evaluation looks at.
type Inputs struct {
	Forecasts    []models.ForecastResult
	Anomalies    []models.AnomalyFlag
	Elasticity   []models.ElasticityEstimate
	PriceChanges []models.PriceChange
}

// Engine turns analytics outputs into deduplicated alerts. Repeats of the
// same kind, product and market inside the suppression window update the
// existing alert instead of creating a new one.
type Engine struct {
	cfg   config.AlertConfig
	log   *logger.Logger
	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	alerts map[string]*models.Alert
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

func NewEngine(cfg config.AlertConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		log:    logger.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
		alerts: make(map[string]*models.Alert),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RatioSeverity grades how far a value exceeds its threshold.
func RatioSeverity(value, threshold float64) models.Severity {
	if threshold <= 0 {
		return models.SeverityHigh
	}
	r := math.Abs(value) / threshold
	switch {
	case r >= 3:
		return models.SeverityHigh
	case r >= 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func DedupKey(kind models.AlertKind, product, market string) string {
	return fmt.Sprintf("%s|%s|%s", kind, product, market)
}

type candidate struct {
	kind     models.AlertKind
	key      models.SeriesKey
	market   string
	severity models.Severity
	message  string
}

// Evaluate applies every rule to in and returns the alerts it created or updated.
func (e *Engine) Evaluate(ctx context.Context, in Inputs) []models.Alert {
	cands := e.candidates(in)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.pruneLocked(now)

	touched := make(map[string]struct{})
	for _, c := range cands {
		if ctx.Err() != nil {
			break
		}
		dk := DedupKey(c.kind, c.key.Product, c.market)
		if a, ok := e.alerts[dk]; ok && now.Sub(a.Timestamp) <= e.cfg.SuppressionWindow {
			a.Timestamp = now
			a.Message = c.message
			a.Severity = c.severity
			a.Occurrences++
		} else {
			e.alerts[dk] = &models.Alert{
				ID:          e.newID(),
				Kind:        c.kind,
				Key:         c.key,
				Severity:    c.severity,
				Message:     c.message,
				Timestamp:   now,
				FirstSeen:   now,
				DedupKey:    dk,
				Occurrences: 1,
			}
		}
		touched[dk] = struct{}{}
	}

	out := make([]models.Alert, 0, len(touched))
	for dk := range touched {
		out = append(out, *e.alerts[dk])
	}
	sortAlerts(out)
	if len(out) > 0 {
		e.log.Info("Alerts evaluated", logger.Int("alerts", len(out)), logger.Int("candidates", len(cands)))
	}
	return out
}

func (e *Engine) candidates(in Inputs) []candidate {
	var out []candidate

	for _, f := range in.Forecasts {
		if len(f.Points) == 0 || f.LastPrice <= 0 {
			continue
		}
		end := f.Points[len(f.Points)-1]
		dev := (end.Price - f.LastPrice) / f.LastPrice * 100
		if math.Abs(dev) < e.cfg.ForecastDeviationPct {
			continue
		}
		out = append(out, candidate{
			kind:     models.AlertForecastDeviation,
			key:      f.Key,
			market:   f.Key.Market,
			severity: RatioSeverity(dev, e.cfg.ForecastDeviationPct),
			message: fmt.Sprintf("%s forecast %.2f in %d days vs last %.2f (%+.1f%%)",
				f.Key, end.Price, f.Horizon, f.LastPrice, dev),
		})
	}

	minSeverity := models.Severity(e.cfg.AnomalyMinSeverity)
	flags := append([]models.AnomalyFlag(nil), in.Anomalies...)
	sort.SliceStable(flags, func(i, j int) bool { return flags[i].Date.Before(flags[j].Date) })
	for _, a := range flags {
		if !a.Severity.AtLeast(minSeverity) {
			continue
		}
		out = append(out, candidate{
			kind:     models.AlertAnomaly,
			key:      a.Key,
			market:   a.Key.Market,
			severity: a.Severity,
			message: fmt.Sprintf("%s price %.2f on %s is %.1f MADs %s the median %.2f",
				a.Key, a.Observed, a.Date.Format(models.DateLayout), a.Score, a.Direction, a.Expected),
		})
	}

	for _, el := range in.Elasticity {
		if !el.PreviousAvailable || math.Abs(el.Shift) < e.cfg.ElasticityShiftThreshold {
			continue
		}
		out = append(out, candidate{
			kind:     models.AlertElasticityShift,
			key:      models.ProductKey(el.Product),
			market:   el.Reference,
			severity: RatioSeverity(el.Shift, e.cfg.ElasticityShiftThreshold),
			message: fmt.Sprintf("%s elasticity vs %s moved %+.2f to %.2f (%s)",
				el.Product, el.Reference, el.Shift, el.Coefficient, el.Method),
		})
	}

	for _, pc := range in.PriceChanges {
		if math.Abs(pc.ChangePct) < e.cfg.PriceChangePct {
			continue
		}
		out = append(out, candidate{
			kind:     models.AlertPriceChange,
			key:      pc.Key,
			market:   pc.Key.Market,
			severity: RatioSeverity(pc.ChangePct, e.cfg.PriceChangePct),
			message: fmt.Sprintf("%s moved %+.1f%% on %s (%.2f -> %.2f)",
				pc.Key, pc.ChangePct, pc.Date.Format(models.DateLayout), pc.Previous, pc.Current),
		})
	}
	return out
}

// Alerts returns the alerts updated at or after since, most severe first.
func (e *Engine) Alerts(since time.Time) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked(e.now())

	out := make([]models.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if !since.IsZero() && a.Timestamp.Before(since) {
			continue
		}
		out = append(out, *a)
	}
	sortAlerts(out)
	return out
}

// Prune drops alerts not updated within the retention period.
func (e *Engine) Prune() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pruneLocked(e.now())
}

func (e *Engine) pruneLocked(now time.Time) int {
	cutoff := now.Add(-e.cfg.Retention)
	n := 0
	for dk, a := range e.alerts {
		if a.Timestamp.Before(cutoff) {
			delete(e.alerts, dk)
			n++
		}
	}
	return n
}

// sortAlerts orders by severity desc, timestamp desc, dedup key.
func sortAlerts(a []models.Alert) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].Severity.Rank() != a[j].Severity.Rank() {
			return a[i].Severity.Rank() > a[j].Severity.Rank()
		}
		if !a[i].Timestamp.Equal(a[j].Timestamp) {
			return a[i].Timestamp.After(a[j].Timestamp)
		}
		return a[i].DedupKey < a[j].DedupKey
	})
}
