// Package runner executes the tutoring pipeline for a batch of learners
// on a bounded worker pool.
package runner

import (
	"context"
	"sync"

	"github.com/nidhogg/mentora/internal/embedding"
	"github.com/nidhogg/mentora/internal/provider"
	"go.uber.org/zap"
)

// Clients bundles the external service handles one worker owns. The
// underlying clients are not guaranteed safe for concurrent first-use
// initialization, so each worker builds its own bundle exactly once,
// under a shared construction lock.
type Clients struct {
	Completer provider.Completer
	Embedder  embedding.Provider
}

// Factory builds a fresh client bundle for one worker.
type Factory func() (*Clients, error)

// Report summarizes a batch run. Failed learners are recorded and the
// batch continues; no single learner aborts the run.
type Report struct {
	Succeeded int
	Failed    int
	Errors    map[string]string // learnerID -> failure reason
}

// Pool runs one task per learner across a fixed number of workers.
// Learners complete in no particular order; the dialogue store's
// disjoint-key invariant is the only cross-task coordination.
type Pool struct {
	size    int
	factory Factory
	initMu  sync.Mutex
	logger  *zap.Logger
}

// NewPool creates a pool with the given worker count.
func NewPool(size int, factory Factory, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{size: size, factory: factory, logger: logger}
}

// Run feeds learner IDs to the workers and blocks until all are done.
func (p *Pool) Run(ctx context.Context, learnerIDs []string, task func(ctx context.Context, clients *Clients, learnerID string) error) Report {
	tasks := make(chan string)
	type outcome struct {
		learnerID string
		err       error
	}
	results := make(chan outcome, len(learnerIDs))

	var wg sync.WaitGroup
	for w := 0; w < p.size; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			var clients *Clients
			for id := range tasks {
				if clients == nil {
					// Lazy per-worker initialization on first task.
					p.initMu.Lock()
					c, err := p.factory()
					p.initMu.Unlock()
					if err != nil {
						results <- outcome{learnerID: id, err: err}
						continue
					}
					clients = c
					p.logger.Debug("worker clients initialized", zap.Int("worker", worker))
				}
				results <- outcome{learnerID: id, err: task(ctx, clients, id)}
			}
		}(w)
	}

	go func() {
		defer close(tasks)
		for _, id := range learnerIDs {
			select {
			case tasks <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	report := Report{Errors: make(map[string]string)}
	for o := range results {
		if o.err != nil {
			report.Failed++
			report.Errors[o.learnerID] = o.err.Error()
			p.logger.Warn("learner pipeline failed",
				zap.String("learner", o.learnerID), zap.Error(o.err))
		} else {
			report.Succeeded++
		}
	}

	p.logger.Info("batch complete",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed))
	return report
}
