package reminder

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	logx "calsched/pkg/logx"
)

// Limited throttles deliveries to a shared token bucket so a burst of due
// reminders does not flood the outbound channel.
type Limited struct {
	next    Deliverer
	limiter *rate.Limiter
	timeout time.Duration
}

// NewLimited wraps next with a limit of perSec deliveries per second
// (burst = perSec). A zero perSec falls back to 3/s. timeout bounds each
// delivery; zero leaves it to the caller's context.
func NewLimited(next Deliverer, perSec int, timeout time.Duration) *Limited {
	if perSec <= 0 {
		perSec = 3
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
		timeout: timeout,
	}
}

func (l *Limited) Deliver(ctx context.Context, r Reminder) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return l.next.Deliver(ctx, r)
}

// LogDeliverer writes reminders to the log. It is the delivery channel when
// no messenger is configured.
type LogDeliverer struct {
	Log logx.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, r Reminder) error {
	d.Log.Info("reminder",
		logx.String("reminder", r.ID),
		logx.String("user", r.UserID),
		logx.String("contribution", r.ContributionID),
		logx.String("text", r.Text),
	)
	return nil
}
