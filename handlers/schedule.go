package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type task struct {
	cancel context.CancelFunc
}

// Scheduler runs deferred side effects (delayed sampling, grace-period group
// leave) as cancellable tasks keyed by their target, so a later event can void
// work that no longer makes sense.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task
	log   *zap.Logger
}

func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{tasks: make(map[string]*task), log: log}
}

// After runs fn after d unless the task is cancelled first. Scheduling a new
// task under an existing key replaces the pending one.
func (s *Scheduler) After(ctx context.Context, key string, d time.Duration, fn func(context.Context)) {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel}

	s.mu.Lock()
	if old, ok := s.tasks[key]; ok {
		old.cancel()
	}
	s.tasks[key] = t
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			if s.tasks[key] == t {
				delete(s.tasks, key)
			}
			s.mu.Unlock()
		}()

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-taskCtx.Done():
			s.log.Debug("deferred task cancelled", zap.String("key", key))
		case <-timer.C:
			fn(taskCtx)
		}
	}()
}

// Cancel voids the pending task for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if ok {
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
}
