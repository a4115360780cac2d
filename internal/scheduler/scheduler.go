// Package scheduler expands a task into an operation plan and drives it in
// strictly sequential fixed-size batches. Operations inside a batch run in
// parallel with a randomized stagger; batch N+1 never starts before batch N
// fully drains, which bounds peak browser-context usage.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/browser/pacing"
)

// Runner executes one operation. Satisfied by executor.Executor.
type Runner interface {
	Run(ctx context.Context, op schemas.Operation, task schemas.Task) schemas.OperationResult
}

// Scheduler owns task-level orchestration.
type Scheduler struct {
	runner Runner
	logger *zap.Logger

	maxConcurrency int
	staggerMax     time.Duration
	batchPause     time.Duration
}

// New builds a scheduler. maxConcurrency is the default batch size; a task
// may narrow it but never widen it.
func New(runner Runner, maxConcurrency int, staggerMax, batchPause time.Duration, logger *zap.Logger) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Scheduler{
		runner:         runner,
		logger:         logger.Named("scheduler"),
		maxConcurrency: maxConcurrency,
		staggerMax:     staggerMax,
		batchPause:     batchPause,
	}
}

// Plan expands a task into its ordered operation list: one operation per
// requested view with accounts and proxies assigned round-robin, likes and
// comments loaded onto the leading operations, then anonymous watchers on
// the proxies the round-robin touched least.
func Plan(task schemas.Task) []schemas.Operation {
	ops := make([]schemas.Operation, 0, task.Views+task.AnonymousWatchers)

	for i := 0; i < task.Views; i++ {
		op := schemas.Operation{ID: uuid.NewString()}
		if len(task.AccountIDs) > 0 {
			op.AccountID = task.AccountIDs[i%len(task.AccountIDs)]
		}
		if len(task.ProxyIDs) > 0 {
			op.ProxyCandidates = []string{task.ProxyIDs[i%len(task.ProxyIDs)]}
		}
		if i < task.Likes {
			op.ShouldLike = true
		}
		if i < task.Comments && len(task.CommentTexts) > 0 {
			op.ShouldComment = true
			op.CommentText = task.CommentTexts[i%len(task.CommentTexts)]
		}
		ops = append(ops, op)
	}

	// Anonymous watchers continue the proxy rotation where the
	// authenticated operations left off, so the least-loaded proxies
	// absorb them first.
	for i := 0; i < task.AnonymousWatchers; i++ {
		op := schemas.Operation{ID: uuid.NewString()}
		if len(task.ProxyIDs) > 0 {
			op.ProxyCandidates = []string{task.ProxyIDs[(task.Views+i)%len(task.ProxyIDs)]}
		}
		ops = append(ops, op)
	}

	return ops
}

// Run executes the full plan and returns the task rollup. Cancellation is
// cooperative: it is honored at batch boundaries and operations already in
// flight are allowed to finish.
func (s *Scheduler) Run(ctx context.Context, task schemas.Task, onProgress schemas.ProgressFunc) schemas.AggregateResult {
	plan := Plan(task)
	total := len(plan)

	batchSize := s.maxConcurrency
	if task.MaxConcurrency > 0 && task.MaxConcurrency < batchSize {
		batchSize = task.MaxConcurrency
	}

	s.logger.Info("Task plan derived",
		zap.Int("operations", total),
		zap.Int("batch_size", batchSize),
		zap.Int("views", task.Views),
		zap.Int("likes", task.Likes),
		zap.Int("comments", task.Comments),
		zap.Int("anonymous", task.AnonymousWatchers),
	)

	agg := &aggregator{total: total, onProgress: onProgress}

	for start := 0; start < total; start += batchSize {
		if ctx.Err() != nil {
			s.logger.Info("Task cancelled at batch boundary", zap.Int("completed", agg.completedCount()))
			return agg.finish(true)
		}

		end := start + batchSize
		if end > total {
			end = total
		}
		batch := plan[start:end]
		s.logger.Debug("Starting batch", zap.Int("from", start), zap.Int("size", len(batch)))

		var g errgroup.Group
		for _, op := range batch {
			op := op
			g.Go(func() error {
				// Randomized start offset keeps the batch from
				// bursting through the proxies simultaneously.
				if err := pacing.Hesitate(ctx, pacing.StaggerDelay(s.staggerMax)); err != nil {
					agg.record(schemas.OperationResult{
						OperationID: op.ID,
						AccountID:   op.AccountID,
						Error:       fmt.Sprintf("cancelled before start: %v", err),
					})
					return nil
				}
				agg.record(s.runner.Run(ctx, op, task))
				return nil
			})
		}
		// Workers never return errors; the wait is purely a drain.
		_ = g.Wait()

		if end < total && s.batchPause > 0 {
			if err := pacing.Hesitate(ctx, s.batchPause); err != nil {
				return agg.finish(true)
			}
		}
	}

	return agg.finish(ctx.Err() != nil)
}

// aggregator folds operation results into the running counters and fans
// progress ticks out to the callback.
type aggregator struct {
	mu         sync.Mutex
	total      int
	views      int
	likes      int
	comments   int
	errors     int
	results    []schemas.OperationResult
	onProgress schemas.ProgressFunc
}

func (a *aggregator) record(result schemas.OperationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results = append(a.results, result)
	if result.Viewed {
		a.views++
	}
	if result.Liked {
		a.likes++
	}
	if result.Commented {
		a.comments++
	}
	if result.Error != "" {
		a.errors++
	}

	if a.onProgress == nil {
		return
	}
	status := "ok"
	message := ""
	if result.Error != "" {
		status = "error"
		message = result.Error
	} else if len(result.SubStepErrors) > 0 {
		status = "partial"
		message = result.SubStepErrors[0]
	}
	a.onProgress(schemas.Progress{
		Current:  len(a.results),
		Total:    a.total,
		Status:   status,
		Message:  message,
		Views:    a.views,
		Likes:    a.likes,
		Comments: a.comments,
		Errors:   a.errors,
	})
}

func (a *aggregator) completedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

func (a *aggregator) finish(cancelled bool) schemas.AggregateResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return schemas.AggregateResult{
		Views:     a.views,
		Likes:     a.likes,
		Comments:  a.comments,
		Errors:    a.errors,
		Cancelled: cancelled,
		Results:   a.results,
	}
}
