package scheduler

import (
	"errors"
	"time"

	"calsched/internal/task/engine"
	logx "calsched/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// onceRetryDelay spaces retries of a one-shot the engine refused.
const onceRetryDelay = time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// The engine already logs overlap skips.
	if errors.Is(err, engine.ErrOverlapSkip) {
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("trigger failed to enqueue job", logx.String("job", name), logx.Err(err))
}
