package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/storyradar/pkg/article"
)

// SampleSource supplies the metric samples baselines are computed from.
type SampleSource interface {
	MetricSamples(ctx context.Context, region, category string, since time.Time) ([]article.Metrics, error)
	RegionSamples(ctx context.Context, region string, since time.Time) ([]article.Metrics, error)
	BaselineKeys(ctx context.Context, since time.Time) ([]Key, error)
}

// BaselineCache stores computed baselines for a limited time.
//
// Readers racing an Invalidate may observe either the old or the recomputed
// baseline. Baselines are a soft signal, so that window is accepted.
type BaselineCache interface {
	GetOrCompute(ctx context.Context, region, category string, ttl time.Duration,
		compute func(context.Context) (Baseline, error)) (Baseline, error)
	Invalidate(ctx context.Context, region, category string) error
}

// ProviderOptions tunes a Provider. Zero fields take defaults.
type ProviderOptions struct {
	TTL                time.Duration
	Window             time.Duration
	MinCategorySamples int
	Defaults           *Baseline
}

// Provider resolves baselines through a cache, falling back from category
// to region to hardcoded defaults.
type Provider struct {
	source     SampleSource
	cache      BaselineCache
	ttl        time.Duration
	window     time.Duration
	minSamples int
	defaults   Baseline
	log        zerolog.Logger
	now        func() time.Time
}

// NewProvider creates a baseline provider.
func NewProvider(source SampleSource, cache BaselineCache, opts ProviderOptions, log zerolog.Logger) *Provider {
	if opts.TTL <= 0 {
		opts.TTL = 6 * time.Hour
	}
	if opts.Window <= 0 {
		opts.Window = 90 * 24 * time.Hour
	}
	if opts.MinCategorySamples <= 0 {
		opts.MinCategorySamples = 10
	}
	defaults := DefaultBaseline()
	if opts.Defaults != nil {
		defaults = *opts.Defaults
		defaults.Scope = ScopeDefault
	}
	return &Provider{
		source:     source,
		cache:      cache,
		ttl:        opts.TTL,
		window:     opts.Window,
		minSamples: opts.MinCategorySamples,
		defaults:   defaults,
		log:        log.With().Str("component", "baseline").Logger(),
		now:        time.Now,
	}
}

// Baseline returns the baseline for (region, category). It never fails:
// cache and store errors degrade to the documented defaults. Defaults served
// because of a store error are not cached, so the next read retries.
func (p *Provider) Baseline(ctx context.Context, region, category string) Baseline {
	b, err := p.resolve(ctx, region, category)
	if err != nil {
		p.log.Warn().Err(err).Str("region", region).Str("category", category).
			Msg("baseline samples unavailable, using defaults")
		return p.fallback(region, category)
	}
	return b
}

// Recalculate invalidates and recomputes one baseline.
func (p *Provider) Recalculate(ctx context.Context, region, category string) (Baseline, error) {
	if err := p.cache.Invalidate(ctx, region, category); err != nil {
		return Baseline{}, fmt.Errorf("invalidate baseline %s/%s: %w", region, category, err)
	}
	b, err := p.resolve(ctx, region, category)
	if err != nil {
		return Baseline{}, fmt.Errorf("recompute baseline %s/%s: %w", region, category, err)
	}
	return b, nil
}

// resolve reads through the cache. Only sample store errors are returned;
// an unavailable cache is bypassed.
func (p *Provider) resolve(ctx context.Context, region, category string) (Baseline, error) {
	var computeErr error
	b, err := p.cache.GetOrCompute(ctx, region, category, p.ttl, func(ctx context.Context) (Baseline, error) {
		b, err := p.compute(ctx, region, category)
		computeErr = err
		return b, err
	})
	if err == nil {
		return b, nil
	}
	if computeErr != nil {
		return Baseline{}, computeErr
	}
	p.log.Warn().Err(err).Str("region", region).Str("category", category).
		Msg("baseline cache unavailable, computing uncached")
	return p.compute(ctx, region, category)
}

// RecalculateAll recomputes every baseline with samples in the window.
// It returns the number of baselines recomputed.
func (p *Provider) RecalculateAll(ctx context.Context) (int, error) {
	keys, err := p.source.BaselineKeys(ctx, p.now().Add(-p.window))
	if err != nil {
		return 0, fmt.Errorf("list baseline keys: %w", err)
	}
	n := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := p.Recalculate(ctx, k.Region, k.Category); err != nil {
			p.log.Warn().Err(err).Str("region", k.Region).Str("category", k.Category).Msg("recalculate failed")
			continue
		}
		n++
	}
	return n, nil
}

func (p *Provider) compute(ctx context.Context, region, category string) (Baseline, error) {
	since := p.now().Add(-p.window)

	samples, err := p.source.MetricSamples(ctx, region, category, since)
	if err != nil {
		return Baseline{}, fmt.Errorf("category samples: %w", err)
	}
	if len(samples) >= p.minSamples {
		return p.stamp(computeBaseline(samples), region, category, ScopeCategory), nil
	}

	regional, err := p.source.RegionSamples(ctx, region, since)
	if err != nil {
		return Baseline{}, fmt.Errorf("region samples: %w", err)
	}
	if len(regional) == 0 {
		return p.fallback(region, category), nil
	}
	p.log.Debug().Str("region", region).Str("category", category).
		Int("category_samples", len(samples)).Int("region_samples", len(regional)).
		Msg("category sample too small, using region baseline")
	return p.stamp(regionBaseline(regional), region, category, ScopeRegion), nil
}

func (p *Provider) fallback(region, category string) Baseline {
	return p.stamp(p.defaults, region, category, ScopeDefault)
}

func (p *Provider) stamp(b Baseline, region, category string, scope Scope) Baseline {
	b.Region, b.Category, b.Scope = region, category, scope
	b.ComputedAt = p.now().UTC()
	return b
}
