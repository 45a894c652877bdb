package analytics

import (
	"context"
	"math"
	"sort"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/domain/repository"
	"AgroPulse/internal/domain/service"
	"AgroPulse/internal/services/features"
	"AgroPulse/pkg/config"
)

// Severity tiers, in MADs.
const (
	lowScore    = 2.0
	mediumScore = 3.0
	highScore   = 5.0

	// DefaultMADFloor is the smallest MAD as a fraction of the median.
	DefaultMADFloor = 0.005
)

// MADScorer scores a value by its distance to the history median in units
// of median absolute deviation. MAD never drops below FloorRatio of the
// median, so a flat window does not turn a one-cent move into a spike.
type MADScorer struct {
	FloorRatio float64
}

var _ service.Scorable = MADScorer{}

func (s MADScorer) Score(history []float64, x float64) (float64, float64, bool) {
	if len(history) == 0 {
		return 0, 0, false
	}
	med := median(history)
	dev := make([]float64, len(history))
	for i, h := range history {
		dev[i] = math.Abs(h - med)
	}
	mad := median(dev)
	ratio := s.FloorRatio
	if ratio <= 0 {
		ratio = DefaultMADFloor
	}
	floor := ratio * math.Abs(med)
	if floor == 0 {
		floor = ratio
	}
	if mad < floor {
		mad = floor
	}
	return math.Abs(x-med) / mad, med, true
}

// SeverityFor maps a MAD score to its tier: low [2,3), medium [3,5], high above 5.
func SeverityFor(score float64) models.Severity {
	switch {
	case score > highScore:
		return models.SeverityHigh
	case score >= mediumScore:
		return models.SeverityMedium
	case score >= lowScore:
		return models.SeverityLow
	default:
		return models.SeverityNone
	}
}

// AnomalyDetector evaluates daily observations against their trailing window.
// It keeps no state between calls.
type AnomalyDetector struct {
	store      repository.SeriesStore
	scorer     service.Scorable
	window     int
	minHistory int
}

func NewAnomalyDetector(store repository.SeriesStore, cfg config.EngineConfig, scorer service.Scorable) *AnomalyDetector {
	if scorer == nil {
		scorer = MADScorer{FloorRatio: cfg.AnomalyMADFloor}
	}
	return &AnomalyDetector{
		store:      store,
		scorer:     scorer,
		window:     cfg.AnomalyWindow,
		minHistory: cfg.MinHistory,
	}
}

// Score evaluates every daily observation of key inside r. History before r
// still feeds the trailing windows.
func (d *AnomalyDetector) Score(ctx context.Context, key models.SeriesKey, r models.DateRange) []models.AnomalyScore {
	points := features.Collapse(d.store.Query(ctx, key, models.AllTime))
	return d.ScorePoints(key, points, r)
}

// ScorePoints is Score over an already collapsed series.
func (d *AnomalyDetector) ScorePoints(key models.SeriesKey, points []models.DailyPoint, r models.DateRange) []models.AnomalyScore {
	out := make([]models.AnomalyScore, 0)
	for i, p := range points {
		if !r.Contains(p.Date) {
			continue
		}
		s := models.AnomalyScore{Key: key, Date: p.Date, Observed: p.Price, Severity: models.SeverityNone}
		if i >= d.minHistory {
			start := i - d.window
			if start < 0 {
				start = 0
			}
			history := make([]float64, 0, i-start)
			for _, h := range points[start:i] {
				history = append(history, h.Price)
			}
			if score, expected, ok := d.scorer.Score(history, p.Price); ok {
				s.Score = score
				s.Expected = expected
				s.Severity = SeverityFor(score)
				s.Evaluable = true
			}
		}
		out = append(out, s)
	}
	return out
}

// Detect returns the flagged observations of key inside r, oldest first.
func (d *AnomalyDetector) Detect(ctx context.Context, key models.SeriesKey, r models.DateRange) []models.AnomalyFlag {
	return FlagsFrom(d.Score(ctx, key, r))
}

// FlagsFrom keeps the evaluable scores that reach the low tier.
func FlagsFrom(scores []models.AnomalyScore) []models.AnomalyFlag {
	flags := make([]models.AnomalyFlag, 0)
	for _, s := range scores {
		if !s.Evaluable || s.Severity == models.SeverityNone {
			continue
		}
		dir := "below"
		if s.Observed > s.Expected {
			dir = "above"
		}
		flags = append(flags, models.AnomalyFlag{
			Key:       s.Key,
			Date:      s.Date,
			Observed:  s.Observed,
			Expected:  s.Expected,
			Score:     s.Score,
			Severity:  s.Severity,
			Direction: dir,
		})
	}
	return flags
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
