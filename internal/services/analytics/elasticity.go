package analytics

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"AgroPulse/internal/domain/models"
	"AgroPulse/pkg/config"
)

const (
	z95 = 1.96

	ReferenceMarkets = "markets"
	ReferenceOrigins = "origins"
)

// ElasticityCategory labels the magnitude of a coefficient.
func ElasticityCategory(coef float64) string {
	a := math.Abs(coef)
	switch {
	case a > 0.8:
		return "highly_elastic"
	case a > 0.5:
		return "elastic"
	case a > 0.2:
		return "low_elasticity"
	default:
		return "inelastic"
	}
}

// PriceSensitivity labels how strongly demand reacts to price.
func PriceSensitivity(coef float64) string {
	a := math.Abs(coef)
	switch {
	case a > 0.7:
		return "very_sensitive"
	case a > 0.4:
		return "sensitive"
	default:
		return "low_sensitivity"
	}
}

// ElasticityAnalyzer estimates how strongly prices of a product vary across
// markets and origins. Without volume data the estimate is a dispersion proxy.
type ElasticityAnalyzer struct {
	cfg config.ElasticityConfig
}

func NewElasticityAnalyzer(cfg config.ElasticityConfig) *ElasticityAnalyzer {
	return &ElasticityAnalyzer{cfg: cfg}
}

// Elasticity estimates over the trailing window ending at the product's last
// observed date, and reports the shift against the window before it.
func (a *ElasticityAnalyzer) Elasticity(ctx context.Context, snap models.SeriesSnapshot, product string) ([]models.ElasticityEstimate, error) {
	obs := snap.ForProduct(product)
	notEnough := &models.InsufficientDataError{Key: models.ProductKey(product), Have: 0, Need: a.cfg.MinPairs}
	if len(obs) == 0 {
		return nil, notEnough
	}
	end := obs[0].Date
	for _, o := range obs {
		if o.Date.After(end) {
			end = o.Date
		}
	}
	end = models.DayOf(end)
	w := a.cfg.WindowDays
	current := models.DateRange{From: end.AddDate(0, 0, -(w - 1)), To: end}
	previous := models.DateRange{From: end.AddDate(0, 0, -(2*w - 1)), To: end.AddDate(0, 0, -w)}

	cur := a.estimate(product, obs, current)
	if len(cur) == 0 {
		notEnough.Have = countIn(obs, current)
		return nil, notEnough
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev := make(map[string]models.ElasticityEstimate)
	for _, e := range a.estimate(product, obs, previous) {
		prev[e.Reference] = e
	}
	for i := range cur {
		if p, ok := prev[cur[i].Reference]; ok && p.Method == cur[i].Method {
			cur[i].Shift = cur[i].Coefficient - p.Coefficient
			cur[i].PreviousAvailable = true
		}
	}
	return cur, nil
}

func (a *ElasticityAnalyzer) estimate(product string, obs []models.PriceObservation, r models.DateRange) []models.ElasticityEstimate {
	// date -> market -> price/volume accumulators
	type cell struct {
		price, volume float64
		n, nv         int
	}
	byDate := make(map[time.Time]map[string]*cell)
	originsByDate := make(map[time.Time]map[string][]float64)
	for _, o := range obs {
		if !r.Contains(o.Date) {
			continue
		}
		d := models.DayOf(o.Date)
		m, ok := byDate[d]
		if !ok {
			m = make(map[string]*cell)
			byDate[d] = m
		}
		c, ok := m[o.Market]
		if !ok {
			c = &cell{}
			m[o.Market] = c
		}
		c.price += o.PriceFloat()
		c.n++
		if v, ok := o.VolumeFloat(); ok && v > 0 {
			c.volume += v
			c.nv++
		}
		og, ok := originsByDate[d]
		if !ok {
			og = make(map[string][]float64)
			originsByDate[d] = og
		}
		og[o.Origin] = append(og[o.Origin], o.PriceFloat())
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	// volume regression per market: ln(Q/meanQ) on ln(P/ref)
	type pair struct{ x, q float64 }
	pairs := make(map[string][]pair)
	for _, d := range dates {
		cells := byDate[d]
		if len(cells) < 2 {
			continue
		}
		prices := make([]float64, 0, len(cells))
		for _, c := range cells {
			prices = append(prices, c.price/float64(c.n))
		}
		ref := median(prices)
		for _, m := range slices.Sorted(maps.Keys(cells)) {
			c := cells[m]
			if c.nv == 0 || ref <= 0 {
				continue
			}
			p := c.price / float64(c.n)
			pairs[m] = append(pairs[m], pair{x: math.Log(p / ref), q: c.volume / float64(c.nv)})
		}
	}

	var out []models.ElasticityEstimate
	markets := make([]string, 0, len(pairs))
	for m := range pairs {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	for _, m := range markets {
		ps := pairs[m]
		if len(ps) < a.cfg.MinPairs {
			continue
		}
		xs := make([]float64, len(ps))
		qs := make([]float64, len(ps))
		for i, p := range ps {
			xs[i] = p.x
			qs[i] = p.q
		}
		meanQ := stat.Mean(qs, nil)
		ys := make([]float64, len(ps))
		for i, q := range qs {
			ys[i] = math.Log(q / meanQ)
		}
		beta, se, ok := olsSlope(xs, ys)
		if !ok {
			continue
		}
		out = append(out, models.ElasticityEstimate{
			Product:     product,
			Reference:   m,
			Coefficient: beta,
			Lower:       beta - z95*se,
			Upper:       beta + z95*se,
			Method:      models.MethodVolumeRegression,
			Category:    ElasticityCategory(beta),
			Sensitivity: PriceSensitivity(beta),
			SampleCount: len(ps),
			WindowFrom:  r.From,
			WindowTo:    r.To,
		})
	}
	if len(out) > 0 {
		return out
	}

	var marketCV, originCV []float64
	for _, d := range dates {
		cells := byDate[d]
		prices := make([]float64, 0, len(cells))
		for _, m := range slices.Sorted(maps.Keys(cells)) {
			c := cells[m]
			prices = append(prices, c.price/float64(c.n))
		}
		if cv, ok := coefficientOfVariation(prices); ok {
			marketCV = append(marketCV, cv)
		}
		origins := originsByDate[d]
		oprices := make([]float64, 0, len(origins))
		for _, og := range slices.Sorted(maps.Keys(origins)) {
			oprices = append(oprices, stat.Mean(origins[og], nil))
		}
		if cv, ok := coefficientOfVariation(oprices); ok {
			originCV = append(originCV, cv)
		}
	}
	for _, ref := range []struct {
		name string
		cvs  []float64
	}{{ReferenceMarkets, marketCV}, {ReferenceOrigins, originCV}} {
		if len(ref.cvs) < 2 {
			continue
		}
		mean, sd := stat.MeanStdDev(ref.cvs, nil)
		half := z95 * sd / math.Sqrt(float64(len(ref.cvs)))
		out = append(out, models.ElasticityEstimate{
			Product:     product,
			Reference:   ref.name,
			Coefficient: mean,
			Lower:       mean - half,
			Upper:       mean + half,
			Method:      models.MethodDispersionProxy,
			IsProxy:     true,
			Category:    ElasticityCategory(mean),
			Sensitivity: PriceSensitivity(mean),
			SampleCount: len(ref.cvs),
			WindowFrom:  r.From,
			WindowTo:    r.To,
		})
	}
	return out
}

// olsSlope fits y = a + b·x and returns b with its standard error.
func olsSlope(x, y []float64) (float64, float64, bool) {
	n := len(x)
	if n < 3 || stat.Variance(x, nil) == 0 {
		return 0, 0, false
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	xMean := stat.Mean(x, nil)
	var ssr, sxx float64
	for i := range x {
		r := y[i] - (alpha + beta*x[i])
		ssr += r * r
		dx := x[i] - xMean
		sxx += dx * dx
	}
	se := math.Sqrt(ssr / float64(n-2) / sxx)
	return beta, se, true
}

func coefficientOfVariation(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	mean, std := stat.MeanStdDev(values, nil)
	if mean <= 0 {
		return 0, false
	}
	return std / mean, true
}

func countIn(obs []models.PriceObservation, r models.DateRange) int {
	n := 0
	for _, o := range obs {
		if r.Contains(o.Date) {
			n++
		}
	}
	return n
}
