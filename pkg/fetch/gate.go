package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/review-scraper/pkg/config"
	"github.com/Sriram-PR/review-scraper/pkg/utils"
)

// Gate bundles the politeness controls every outgoing request passes through:
// the global request semaphore, the per-host semaphore pool, an optional global
// token bucket and the per-host minimum delay. One Gate is shared by all workers.
type Gate struct {
	global         *semaphore.Weighted
	hosts          *HostSemaphorePool
	bucket         *rate.Limiter // nil when requests_per_second is unset
	delays         *RateLimiter
	acquireTimeout time.Duration
	log            *logrus.Entry
}

// NewGate builds a Gate from the validated application config.
func NewGate(cfg *config.AppConfig, log *logrus.Entry) *Gate {
	g := &Gate{
		global:         semaphore.NewWeighted(int64(max(cfg.MaxRequests, 1))),
		hosts:          NewHostSemaphorePool(cfg.MaxRequestsPerHost, log),
		delays:         NewRateLimiter(cfg.DefaultDelayPerHost, log),
		acquireTimeout: cfg.SemaphoreAcquireTimeout,
		log:            log,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(int(cfg.RequestsPerSecond), 1)
		g.bucket = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// Hosts exposes the per-host pool so the batch runner can drive its eviction loop.
func (g *Gate) Hosts() *HostSemaphorePool { return g.hosts }

// Acquire waits for a request slot towards host and honours minDelay since the
// previous request to it. The returned release func records the request time and
// frees both semaphores. Failing to get a semaphore within semaphore_acquire_timeout
// yields ErrSemaphoreTimeout; cancellation of ctx yields ctx.Err().
func (g *Gate) Acquire(ctx context.Context, host string, minDelay time.Duration) (func(), error) {
	if err := g.acquireGlobal(ctx); err != nil {
		return nil, err
	}

	releaseHost, err := g.acquireHost(ctx, host)
	if err != nil {
		g.global.Release(1)
		return nil, err
	}

	release := func() {
		g.delays.UpdateLastRequestTime(host)
		releaseHost()
		g.global.Release(1)
	}

	if g.bucket != nil {
		if err := g.bucket.Wait(ctx); err != nil {
			releaseHost()
			g.global.Release(1)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: token bucket: %v", utils.ErrSemaphoreTimeout, err)
		}
	}

	g.delays.ApplyDelay(ctx, host, minDelay)
	if err := ctx.Err(); err != nil {
		releaseHost()
		g.global.Release(1)
		return nil, err
	}
	return release, nil
}

func (g *Gate) acquireGlobal(ctx context.Context) error {
	acquireCtx, cancel := g.withAcquireTimeout(ctx)
	defer cancel()
	if err := g.global.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: global (timeout %v)", utils.ErrSemaphoreTimeout, g.acquireTimeout)
	}
	return nil
}

func (g *Gate) acquireHost(ctx context.Context, host string) (func(), error) {
	acquireCtx, cancel := g.withAcquireTimeout(ctx)
	defer cancel()
	release, err := g.hosts.Acquire(acquireCtx, host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: host %s (timeout %v)", utils.ErrSemaphoreTimeout, host, g.acquireTimeout)
	}
	return release, nil
}

func (g *Gate) withAcquireTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.acquireTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.acquireTimeout)
}
