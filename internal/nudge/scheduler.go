package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cron "github.com/netresearch/go-cron"
)

// PlanGenerator regenerates a user's plan for the current day.
type PlanGenerator interface {
	GeneratePlanForUser(ctx context.Context, user string) error
}

// UserLister enumerates the users the daily plan cron covers.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// Scheduler drives the nudge tick and the daily plan generation off one
// cron runner. Jobs skip when the previous occurrence is still running.
type Scheduler struct {
	nudger   *Nudger
	planner  PlanGenerator
	users    UserLister
	planCron string
	tick     time.Duration
	log      *slog.Logger

	runner *cron.Cron
}

// NewScheduler builds the Scheduler. planCron is a standard 5-field cron
// expression; tick is the nudge scan interval.
func NewScheduler(nudger *Nudger, planner PlanGenerator, users UserLister, planCron string, tick time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		nudger:   nudger,
		planner:  planner,
		users:    users,
		planCron: planCron,
		tick:     tick,
		log:      log,
	}
}

// Start registers both jobs and launches the runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runner = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := s.runner.AddFunc(fmt.Sprintf("@every %s", s.tick), func() {
		s.nudger.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("schedule nudge tick: %w", err)
	}

	if _, err := s.runner.AddFunc(s.planCron, func() {
		s.generateAllPlans(ctx)
	}); err != nil {
		return fmt.Errorf("schedule plan cron %q: %w", s.planCron, err)
	}

	s.runner.Start()
	s.log.Info("scheduler: started", "tick", s.tick, "plan_cron", s.planCron)
	return nil
}

// Stop halts the runner and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	if s.runner == nil {
		return
	}
	<-s.runner.Stop().Done()
	s.log.Info("scheduler: stopped")
}

func (s *Scheduler) generateAllPlans(ctx context.Context) {
	users, err := s.users.Users(ctx)
	if err != nil {
		s.log.Error("scheduler: list users failed", "error", err)
		return
	}
	for _, user := range users {
		if err := s.planner.GeneratePlanForUser(ctx, user); err != nil {
			s.log.Error("scheduler: plan generation failed", "user", user, "error", err)
		}
	}
}
