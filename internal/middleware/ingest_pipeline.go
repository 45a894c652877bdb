package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"AgroPulse/internal/domain/models"
	domrepo "AgroPulse/internal/domain/repository"
	"AgroPulse/pkg/logger"
)

// Sink is the minimal downstream the pipeline needs; the series store satisfies it.
type Sink interface {
	Ingest(ctx context.Context, batch []models.PriceObservation) (models.IngestReport, error)
}

// IngestPipeline sits between the adapters and the series store.
// It normalizes names, forwards batches to the store and archives the
// accepted observations, buffering archive writes while the archive is down.
type IngestPipeline struct {
	sink    Sink
	archive domrepo.ObservationArchive
	metrics domrepo.Metrics
	log     *logger.Logger

	bufSize    int
	bufCh      chan []models.PriceObservation
	stopCh     chan struct{}
	started    bool
	mu         sync.Mutex
	backoffMin time.Duration
	backoffMax time.Duration

	// optional hook applied after normalization
	transform func(models.PriceObservation) models.PriceObservation
}

type PipelineOption func(*IngestPipeline)

// WithArchive enables archiving of accepted observations.
func WithArchive(a domrepo.ObservationArchive) PipelineOption {
	return func(p *IngestPipeline) { p.archive = a }
}

// WithBufferSize sets how many batches wait for the archive to come back.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff bounds the delay between archive retries.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *IngestPipeline) {
		if min > 0 && max >= min {
			p.backoffMin, p.backoffMax = min, max
		}
	}
}

// WithTransform sets a hook that rewrites each observation after normalization.
func WithTransform(fn func(models.PriceObservation) models.PriceObservation) PipelineOption {
	return func(p *IngestPipeline) { p.transform = fn }
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *IngestPipeline) { p.log = l }
}

// NewIngestPipeline creates a new pipeline in front of sink.
func NewIngestPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		sink:       sink,
		metrics:    metrics,
		log:        logger.NewNop(),
		bufSize:    256,
		stopCh:     make(chan struct{}),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan []models.PriceObservation, p.bufSize)
	return p
}

// Start launches background flushing of buffered archive writes.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.archive == nil {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := p.backoffMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case batch := <-p.bufCh:
				if err := p.archive.StoreBatch(ctx, batch); err != nil {
					if backoff < p.backoffMax {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					case <-ctx.Done():
						return
					}
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- batch:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
						p.log.Error("Archive batch dropped", logger.Int("observations", len(batch)), logger.Error(err))
					}
				} else {
					backoff = p.backoffMin
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Pending is the number of batches waiting for the archive.
func (p *IngestPipeline) Pending() int { return len(p.bufCh) }

// Ingest normalizes batch, forwards it to the store and archives what the
// store accepted. An archive failure never fails the ingest.
func (p *IngestPipeline) Ingest(ctx context.Context, batch []models.PriceObservation) (models.IngestReport, error) {
	start := time.Now()
	title := cases.Title(language.French)
	clean := make([]models.PriceObservation, len(batch))
	for i, o := range batch {
		o = normalize(o, title)
		if p.transform != nil {
			o = p.transform(o)
		}
		clean[i] = o
	}

	rep, err := p.sink.Ingest(ctx, clean)
	if err != nil && !errors.Is(err, models.ErrInvalidObservation) {
		p.metrics.RecordError("pipeline_ingest")
		return rep, err
	}
	p.metrics.RecordLatency("pipeline_ingest", time.Since(start).Seconds())

	if p.archive != nil {
		if accepted := acceptedOnly(clean, rep.Rejections); len(accepted) > 0 {
			p.store(ctx, accepted)
		}
	}
	return rep, err
}

func (p *IngestPipeline) store(ctx context.Context, batch []models.PriceObservation) {
	start := time.Now()
	err := p.archive.StoreBatch(ctx, batch)
	if err == nil {
		p.metrics.RecordLatency("archive_store", time.Since(start).Seconds())
		return
	}
	p.metrics.RecordError("pipeline_archive")
	p.log.Warn("Archive write failed, buffering", logger.Int("observations", len(batch)), logger.Error(err))
	select {
	case p.bufCh <- batch:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

// NormalizeName trims, collapses inner whitespace and title-cases a name.
func NormalizeName(s string) string {
	return normalizeName(s, cases.Title(language.French))
}

func normalizeName(s string, title cases.Caser) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return s
	}
	return title.String(s)
}

func normalize(o models.PriceObservation, title cases.Caser) models.PriceObservation {
	o.Product = normalizeName(o.Product, title)
	o.Market = normalizeName(o.Market, title)
	o.Origin = strings.TrimSpace(o.Origin)
	o.Unit = strings.ToLower(strings.TrimSpace(o.Unit))
	return o
}

func acceptedOnly(batch []models.PriceObservation, rejections []models.Rejection) []models.PriceObservation {
	if len(rejections) == 0 {
		return batch
	}
	rejected := make(map[int]struct{}, len(rejections))
	for _, r := range rejections {
		rejected[r.Index] = struct{}{}
	}
	out := make([]models.PriceObservation, 0, len(batch)-len(rejected))
	for i, o := range batch {
		if _, ok := rejected[i]; !ok {
			out = append(out, o)
		}
	}
	return out
}
