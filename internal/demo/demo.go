// Package demo ports the original source's demo job generator: a
// goroutine that enqueues a random stream of jobs, mostly near-term with
// an occasional long-horizon outlier, then switches to drain-and-log
// mode once a target count has been enqueued.
package demo

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"go.chronowheel.dev/internal/scheduler"
)

// DefaultCount is used when Config.Demo.Count is unset (0).
const DefaultCount = 50

var sampleBodies = [][]byte{[]byte("Hello"), []byte("Hey"), []byte("Hi")}

// Generator enqueues a demonstration stream of jobs against a Scheduler,
// paced by a rate limiter, then drains and logs until every job it
// enqueued has fired.
type Generator struct {
	scheduler *scheduler.Scheduler
	limiter   *rate.Limiter
	count     int
	rng       *rand.Rand
}

// New constructs a Generator targeting count jobs (DefaultCount if <= 0),
// paced at ratePerSecond enqueues/second.
func New(s *scheduler.Scheduler, count int, ratePerSecond float64) *Generator {
	if count <= 0 {
		count = DefaultCount
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 50
	}

	return &Generator{
		scheduler: s,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		count:     count,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run enqueues count jobs (paced by the rate limiter), then polls Drain
// until all of them have fired, logging each as it comes ready. It
// returns when the full two-phase cycle completes or ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	slog.Info("demo generator starting", "targetCount", g.count)

	for enqueued := 0; enqueued < g.count; enqueued++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		nowMs := uint64(time.Now().UnixMilli())
		triggerAtMs := nowMs + g.sampleDelayMs()
		body := sampleBodies[g.rng.Intn(len(sampleBodies))]

		id := g.scheduler.Enqueue(triggerAtMs, body)
		slog.Info("demo job enqueued", "jobId", id, "triggerInMs", triggerAtMs-nowMs, "body", string(body))
	}

	slog.Info("demo generator switching to drain mode", "enqueued", g.count)
	return g.drainUntilEmpty(ctx, g.count)
}

// sampleDelayMs mirrors the original generator: mostly a sub-second
// delay, occasionally stretched out to a long-horizon outlier.
func (g *Generator) sampleDelayMs() uint64 {
	base := uint64(g.rng.Float64() * 1000)

	mult := g.rng.Float64()
	switch {
	case mult < 0.2:
		return base * 100
	case mult < 0.4:
		return base * 10
	default:
		return base
	}
}

// drainUntilEmpty polls Drain, logging each job as it fires, until
// remaining jobs reaches zero or ctx is cancelled.
func (g *Generator) drainUntilEmpty(ctx context.Context, remaining int) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, j := range g.scheduler.Drain(ctx) {
				remaining--
				slog.Info("demo job fired", "jobId", j.ID, "remaining", remaining)
			}
		}
	}
	return nil
}
