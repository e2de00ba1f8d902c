package renewal

import (
	"context"
	"time"
)

const dashboardCacheKey = "renewal:dashboard"

// DashboardCache stores JSON-encodable read models.
type DashboardCache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
}

type cachedPipeline struct {
	PipelineService
	cache DashboardCache
	ttl   time.Duration
}

// WithCachedDashboard serves Dashboard from cache for ttl. Every other
// operation, RefreshGauges included, goes to svc directly.
func WithCachedDashboard(svc PipelineService, cache DashboardCache, ttl time.Duration) PipelineService {
	if cache == nil {
		return svc
	}
	return &cachedPipeline{PipelineService: svc, cache: cache, ttl: ttl}
}

func (p *cachedPipeline) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	err := p.cache.GetOrSet(ctx, dashboardCacheKey, &d, p.ttl, func(ctx context.Context) (interface{}, error) {
		return p.PipelineService.Dashboard(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
