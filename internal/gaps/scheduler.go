package gaps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// Sweeper is the unit of periodic work.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// Scheduler runs a Sweeper on a fixed interval. Runs never overlap; a tick
// that fires while a sweep is still executing is skipped.
type Scheduler struct {
	sweeper   Sweeper
	interval  time.Duration
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
	logger    *slog.Logger
}

func NewScheduler(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		sweeper:   sweeper,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
	}
}

// Start schedules the sweep; the first run happens after one interval.
// Sweeps receive a context that is cancelled by Stop or when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	_, err := s.scheduler.Every(s.interval).SingletonMode().WaitForSchedule().Do(func() {
		s.run(ctx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule gap sweep: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("gap sweep scheduled", "interval", s.interval)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		if errors.Is(err, domain.ErrSweepInProgress) {
			s.logger.Info("gap sweep still running, tick skipped")
			return
		}
		s.logger.Error("gap sweep failed", "error", err)
	}
}

// Stop cancels an in-flight sweep and stops further ticks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
}
