package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// Task is one recurring control-loop job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	running atomic.Bool
}

// Scheduler drives the periodic tasks, one goroutine per task. A tick that
// arrives while the previous run of the same task is still active is
// skipped, never queued.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []*Task
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &Task{Name: name, Interval: interval, Run: run})
}

// Start launches all registered tasks. Each task runs once immediately, then
// on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	tasks := s.tasks
	s.mu.Unlock()

	for _, task := range tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}

	logger.Info("Scheduler started", zap.Int("tasks", len(tasks)))
}

// Stop cancels all task loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	s.runOnce(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task *Task) {
	if !task.running.CompareAndSwap(false, true) {
		logger.Warn("Skipping tick, previous run still active", zap.String("task", task.Name))
		return
	}
	defer task.running.Store(false)

	started := time.Now()
	err := task.Run(ctx)
	elapsed := time.Since(started)

	metrics.CycleDuration.WithLabelValues(task.Name).Observe(elapsed.Seconds())

	if err != nil && ctx.Err() == nil {
		logger.Error("Task run failed",
			zap.String("task", task.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}

	logger.Debug("Task run finished", zap.String("task", task.Name), zap.Duration("elapsed", elapsed))
}
