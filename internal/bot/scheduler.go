package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TickFunc runs one delivery tick.
type TickFunc func(ctx context.Context) error

// Scheduler runs the daily delivery tick at the configured greeting time
// using the gocron library. Singleton mode guarantees ticks never overlap
// even if one runs long.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	atTime    string
	tick      TickFunc
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler that fires tick daily at atTime (HH:MM,
// local time).
func NewScheduler(logger *slog.Logger, atTime string, tick TickFunc) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	if _, _, err := parseGreetingTime(atTime); err != nil {
		return nil, err
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		log.Error("Failed to create gocron scheduler", "error", err)
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
		atTime:    atTime,
		tick:      tick,
	}, nil
}

// Start registers the daily job and starts the scheduler's internal ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	hour, minute, err := parseGreetingTime(s.atTime)
	if err != nil {
		return err
	}

	_, err = s.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(func(ctx context.Context) {
			s.logger.Info("Running scheduled delivery tick")
			startTime := time.Now()
			if tickErr := s.tick(ctx); tickErr != nil {
				s.logger.Error("Scheduled delivery tick failed", "error", tickErr)
			}
			s.logger.Info("Finished scheduled delivery tick", "duration", time.Since(startTime))
		}),
		gocron.WithName("daily-greetings"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule daily tick: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "at", s.atTime)

	return nil
}

// Stop gracefully stops the scheduler, waiting for a running tick to
// complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}

// parseGreetingTime validates an HH:MM wall-clock time.
func parseGreetingTime(s string) (hour, minute uint, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid greeting time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid greeting time %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid greeting time %q: bad minute", s)
	}
	return uint(h), uint(m), nil
}
