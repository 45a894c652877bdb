package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"AgroPulse/internal/domain/models"
	"AgroPulse/internal/domain/service"
	"AgroPulse/internal/services/features"
	"AgroPulse/pkg/config"
	"AgroPulse/pkg/logger"
)

// KMeans is seeded k-means++ with restarts. The same seed and input always
// produce the same partition.
type KMeans struct {
	Seed     int64
	Restarts int
	MaxIter  int
}

var _ service.Clusterable = (*KMeans)(nil)

func NewKMeans(cfg config.ClusterConfig) *KMeans {
	return &KMeans{Seed: cfg.Seed, Restarts: cfg.Restarts, MaxIter: cfg.MaxIter}
}

func (km *KMeans) Partition(ctx context.Context, points [][]float64, k int) (service.Partition, error) {
	if k < 1 {
		return service.Partition{}, fmt.Errorf("kmeans: k must be >= 1, got %d", k)
	}
	if len(points) < k {
		return service.Partition{}, &models.InsufficientMarketsError{Have: len(points), Need: k}
	}
	restarts := km.Restarts
	if restarts < 1 {
		restarts = 1
	}
	rng := rand.New(rand.NewSource(km.Seed))

	var best service.Partition
	found := false
	for r := 0; r < restarts; r++ {
		if err := ctx.Err(); err != nil {
			return service.Partition{}, err
		}
		p, err := km.lloyd(ctx, points, seedCentroids(rng, points, k))
		if err != nil {
			return service.Partition{}, err
		}
		if !found || p.Inertia < best.Inertia {
			best = p
			found = true
		}
	}
	return best, nil
}

// seedCentroids picks k initial centroids with D² weighting.
func seedCentroids(rng *rand.Rand, points [][]float64, k int) [][]float64 {
	chosen := make([]int, 0, k)
	taken := make(map[int]bool, k)
	first := rng.Intn(len(points))
	chosen = append(chosen, first)
	taken[first] = true

	d2 := make([]float64, len(points))
	for len(chosen) < k {
		total := 0.0
		for i, p := range points {
			d2[i] = math.Inf(1)
			for _, c := range chosen {
				if d := sqDist(p, points[c]); d < d2[i] {
					d2[i] = d
				}
			}
			total += d2[i]
		}
		next := -1
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range d2 {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// all remaining points coincide with a centroid
			for i := range points {
				if !taken[i] {
					next = i
					break
				}
			}
		}
		chosen = append(chosen, next)
		taken[next] = true
	}

	out := make([][]float64, k)
	for i, idx := range chosen {
		out[i] = append([]float64(nil), points[idx]...)
	}
	return out
}

func (km *KMeans) lloyd(ctx context.Context, points [][]float64, centroids [][]float64) (service.Partition, error) {
	k := len(centroids)
	dim := len(points[0])
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	maxIter := km.MaxIter
	if maxIter < 1 {
		maxIter = 1
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return service.Partition{}, err
		}
		changed := false
		for i, p := range points {
			c := nearest(p, centroids)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centroids {
			// an empty cluster keeps its previous centroid
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), sums[c])
				centroids[c] = sums[c]
			}
		}
	}

	inertia := 0.0
	for i, p := range points {
		inertia += sqDist(p, centroids[labels[i]])
	}
	return service.Partition{Labels: labels, Centroids: centroids, Inertia: inertia}, nil
}

// nearest returns the closest centroid; ties go to the lowest index.
func nearest(p []float64, centroids [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for c, cen := range centroids {
		if d := sqDist(p, cen); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// MarketClusterer groups markets by their aggregated price behavior.
// Results are cached per snapshot version.
type MarketClusterer struct {
	algo service.Clusterable
	cfg  config.ClusterConfig
	log  *logger.Logger
	now  func() time.Time

	mu    sync.Mutex
	cache *models.ClusterSet
}

type ClustererOption func(*MarketClusterer)

func WithClusterClock(now func() time.Time) ClustererOption {
	return func(c *MarketClusterer) { c.now = now }
}

func WithClusterLogger(l *logger.Logger) ClustererOption {
	return func(c *MarketClusterer) { c.log = l }
}

// WithClusterAlgorithm replaces the default seeded k-means.
func WithClusterAlgorithm(a service.Clusterable) ClustererOption {
	return func(c *MarketClusterer) { c.algo = a }
}

func NewMarketClusterer(cfg config.ClusterConfig, opts ...ClustererOption) *MarketClusterer {
	c := &MarketClusterer{
		algo: NewKMeans(cfg),
		cfg:  cfg,
		log:  logger.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cluster partitions the markets of snap. A cached result is returned when
// the snapshot version has not changed.
func (c *MarketClusterer) Cluster(ctx context.Context, snap models.SeriesSnapshot) (models.ClusterSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache != nil && c.cache.SnapshotVersion == snap.Version {
		return copyClusterSet(*c.cache), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	set, err := c.compute(ctx, snap)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ClusterSet{}, &models.TimeoutError{Op: "cluster", Err: err}
		}
		return models.ClusterSet{}, err
	}
	c.cache = &set
	c.log.Debug("Markets clustered",
		logger.Int("markets", len(set.Assignments)),
		logger.Int("k", set.K),
		logger.Float64("inertia", set.Inertia),
	)
	return copyClusterSet(set), nil
}

func (c *MarketClusterer) compute(ctx context.Context, snap models.SeriesSnapshot) (models.ClusterSet, error) {
	feats := MarketFeatureVectors(snap)
	points := normalize(feats)

	var (
		k    int
		part service.Partition
		err  error
	)
	if c.cfg.K > 0 {
		k = c.cfg.K
		if len(points) < k {
			return models.ClusterSet{}, &models.InsufficientMarketsError{Have: len(points), Need: k}
		}
		part, err = c.algo.Partition(ctx, points, k)
	} else {
		k, part, err = c.elbow(ctx, points)
	}
	if err != nil {
		return models.ClusterSet{}, err
	}

	set := models.ClusterSet{
		EvaluatedAt:     c.now(),
		SnapshotVersion: snap.Version,
		K:               k,
		Inertia:         part.Inertia,
		Centroids:       part.Centroids,
		Features:        feats,
		Assignments:     make([]models.ClusterAssignment, len(feats)),
	}
	labels := make([]string, len(part.Centroids))
	for i, cen := range part.Centroids {
		labels[i] = ClusterLabel(cen)
	}
	for i, f := range feats {
		id := part.Labels[i]
		set.Assignments[i] = models.ClusterAssignment{
			Market:           f.Market,
			ClusterID:        id,
			CentroidDistance: floats.Distance(points[i], part.Centroids[id], 2),
			Label:            labels[id],
		}
	}
	return set, nil
}

// elbow runs every k in [KMin, min(KMax, markets)] and keeps the one farthest
// from the chord joining the first and last inertia, both axes scaled to [0,1].
func (c *MarketClusterer) elbow(ctx context.Context, points [][]float64) (int, service.Partition, error) {
	kMin := c.cfg.KMin
	if kMin < 2 {
		kMin = 2
	}
	if len(points) < kMin {
		return 0, service.Partition{}, &models.InsufficientMarketsError{Have: len(points), Need: kMin}
	}
	kMax := c.cfg.KMax
	if kMax > len(points) {
		kMax = len(points)
	}
	if kMax < kMin {
		kMax = kMin
	}

	parts := make([]service.Partition, 0, kMax-kMin+1)
	for k := kMin; k <= kMax; k++ {
		p, err := c.algo.Partition(ctx, points, k)
		if err != nil {
			return 0, service.Partition{}, err
		}
		parts = append(parts, p)
	}
	if len(parts) <= 2 {
		return kMin, parts[0], nil
	}

	first, last := parts[0].Inertia, parts[len(parts)-1].Inertia
	span := first - last
	best, bestD := 0, 0.0
	for i, p := range parts {
		x := float64(i) / float64(len(parts)-1)
		y := 0.0
		if span > 0 {
			y = (first - p.Inertia) / span
		}
		// distance from (x, y) to the line y = x, up to a constant factor
		if d := y - x; d > bestD {
			best, bestD = i, d
		}
	}
	return kMin + best, parts[best], nil
}

// ClusterLabel names a centroid by its dominant normalized dimension.
func ClusterLabel(centroid []float64) string {
	if len(centroid) < 5 {
		return "balanced"
	}
	candidates := []struct {
		label string
		value float64
	}{
		{"premium", centroid[0]},
		{"discount", -centroid[0]},
		{"volatile", centroid[1]},
		{"seasonal", centroid[2]},
		{"diversified", centroid[3]},
		{"high-volume", centroid[4]},
	}
	label, best := "balanced", 0.5
	for _, c := range candidates {
		if c.value > best {
			label, best = c.label, c.value
		}
	}
	return label
}

// MarketFeatureVectors aggregates one vector per market, in market order.
func MarketFeatureVectors(snap models.SeriesSnapshot) []models.MarketFeatures {
	type seriesStats struct {
		mean, relVol, amplitude float64
		n                       int
	}
	bySeries := make(map[models.SeriesKey][]models.PriceObservation)
	for _, o := range snap.Observations {
		k := o.SeriesKey()
		bySeries[k] = append(bySeries[k], o)
	}

	// fixed key order keeps the float sums identical across calls
	keys := make([]models.SeriesKey, 0, len(bySeries))
	for k := range bySeries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Product != keys[j].Product {
			return keys[i].Product < keys[j].Product
		}
		return keys[i].Market < keys[j].Market
	})

	stats := make(map[models.SeriesKey]seriesStats, len(bySeries))
	productMeans := make(map[string][]float64)
	for _, k := range keys {
		obs := bySeries[k]
		points := features.Collapse(obs)
		prices := pricesOf(points)
		mean, std := stat.MeanStdDev(prices, nil)
		s := seriesStats{mean: mean, n: len(obs), amplitude: seasonalAmplitude(points, mean)}
		if len(prices) > 1 && mean > 0 {
			s.relVol = std / mean
		}
		stats[k] = s
		productMeans[k.Product] = append(productMeans[k.Product], mean)
	}

	type acc struct {
		level, vol, amp float64
		products, n     int
	}
	byMarket := make(map[string]*acc)
	for _, k := range keys {
		s := stats[k]
		a, ok := byMarket[k.Market]
		if !ok {
			a = &acc{}
			byMarket[k.Market] = a
		}
		cross := stat.Mean(productMeans[k.Product], nil)
		if cross > 0 {
			a.level += s.mean / cross
		} else {
			a.level++
		}
		a.vol += s.relVol
		a.amp += s.amplitude
		a.products++
		a.n += s.n
	}

	markets := make([]string, 0, len(byMarket))
	for m := range byMarket {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	out := make([]models.MarketFeatures, 0, len(markets))
	for _, m := range markets {
		a := byMarket[m]
		p := float64(a.products)
		out = append(out, models.MarketFeatures{
			Market:            m,
			PriceLevel:        a.level / p,
			Volatility:        a.vol / p,
			SeasonalAmplitude: a.amp / p,
			Diversity:         p,
			Observations:      float64(a.n),
		})
	}
	return out
}

// seasonalAmplitude is the spread of monthly mean prices over the overall mean.
func seasonalAmplitude(points []models.DailyPoint, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	sums := make(map[time.Month]float64)
	counts := make(map[time.Month]int)
	for _, p := range points {
		sums[p.Date.Month()] += p.Price
		counts[p.Date.Month()]++
	}
	if len(sums) < 2 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for m, s := range sums {
		v := s / float64(counts[m])
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return (hi - lo) / mean
}

// normalize z-scores each dimension; a constant dimension becomes 0.
func normalize(feats []models.MarketFeatures) [][]float64 {
	out := make([][]float64, len(feats))
	for i, f := range feats {
		out[i] = f.Values()
	}
	if len(out) == 0 {
		return out
	}
	dim := len(out[0])
	col := make([]float64, len(out))
	for j := 0; j < dim; j++ {
		for i := range out {
			col[i] = out[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i := range out {
			if std > 1e-12 {
				out[i][j] = (out[i][j] - mean) / std
			} else {
				out[i][j] = 0
			}
		}
	}
	return out
}

func copyClusterSet(s models.ClusterSet) models.ClusterSet {
	out := s
	out.Assignments = append([]models.ClusterAssignment(nil), s.Assignments...)
	out.Features = append([]models.MarketFeatures(nil), s.Features...)
	out.Centroids = make([][]float64, len(s.Centroids))
	for i, c := range s.Centroids {
		out.Centroids[i] = append([]float64(nil), c...)
	}
	return out
}

func pricesOf(points []models.DailyPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}
