package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SpheneDev/SpheneServer/global/config"
	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/tools/errs"
	"github.com/SpheneDev/SpheneServer/tools/safe"
)

var (
	gaugePermits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sphene_hub_concurrency_available",
		Help: "Currently available admission permits.",
	})
	gaugeQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sphene_hub_concurrency_queued",
		Help: "Callers queued for an admission permit.",
	})
)

// Guard wraps every inbound call in admission control plus a wall-clock
// deadline. Ops listed in exempt (the liveness probe) bypass the
// limiter entirely.
type Guard struct {
	limiter  atomic.Pointer[Limiter]
	setLimit int
	mu       sync.Mutex

	timeout time.Duration
	exempt  map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewGuard(cfg config.AppConfig, exemptOps ...string) *Guard {
	g := &Guard{
		timeout: cfg.CallTimeout(),
		exempt:  make(map[string]struct{}, len(exemptOps)),
		stopCh:  make(chan struct{}),
	}
	for _, op := range exemptOps {
		g.exempt[op] = struct{}{}
	}
	g.SetLimit(cfg.HubConcurrency)

	// re-read the permit count on every config change; SetLimit is a
	// no-op when the value did not move
	config.OnChange(func(c config.AppConfig) { g.SetLimit(c.HubConcurrency) })

	safe.Go("admission-gauges", g.sampleLoop)
	return g
}

// SetLimit swaps in a new limiter only when the value actually
// changed, avoiding limiter churn on unrelated config reloads.
func (g *Guard) SetLimit(n int) {
	if n <= 0 {
		n = 50
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if n == g.setLimit && g.limiter.Load() != nil {
		return
	}
	g.setLimit = n
	old := g.limiter.Swap(NewLimiter(n))
	if old != nil {
		logger.Infof("[admission] permit count %d -> %d", old.Limit(), n)
	}
}

func (g *Guard) Close() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

// Do runs fn under admission control with the configured deadline.
// connClosed aborts a queued or executing call when the underlying
// connection goes away; that failure is ErrConnClosed, a deadline is
// ErrTimeout - the caller can tell overload from disconnect.
func (g *Guard) Do(ctx context.Context, connClosed <-chan struct{}, op string, fn func(context.Context) error) error {
	if _, ok := g.exempt[op]; ok {
		return fn(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	lease, err := g.limiter.Load().Acquire(cctx, connClosed)
	if err != nil {
		return err
	}
	defer lease.Release()

	done := make(chan error, 1)
	execCtx, execCancel := context.WithCancel(cctx)
	defer execCancel()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[admission] op %s panic: %v", op, r)
				done <- errs.ErrInternal
			}
		}()
		done <- fn(execCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		execCancel()
		if cctx.Err() == context.DeadlineExceeded {
			return errs.ErrTimeout.WithDetail(op)
		}
		return errs.ErrConnClosed
	case <-connClosed:
		execCancel()
		return errs.ErrConnClosed
	}
}

func (g *Guard) sampleLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			if l := g.limiter.Load(); l != nil {
				available, queued := l.Stats()
				gaugePermits.Set(float64(available))
				gaugeQueued.Set(float64(queued))
			}
		}
	}
}
