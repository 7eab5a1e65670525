// Package nudge delivers at-most-once reminders for imminent plan entries.
// The store's reservation constraint carries the uniqueness guarantee; the
// nudger is free to crash or race against itself without double delivery.
package nudge

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/store"
)

const (
	perUserBudget  = 10 * time.Second
	outerBudgetCut = 15 * time.Second
)

// Mailer delivers a nudge out of band. Delivery failures degrade a tick,
// never fail it.
type Mailer interface {
	SendNudge(ctx context.Context, user string, n *domain.Notification) error
}

// Nudger scans active plans and fires nudges for entries starting inside
// the window [now - grace, now + lookahead].
type Nudger struct {
	store     *store.Store
	clk       clock.Clock
	bus       *events.Bus
	mailer    Mailer // nil disables email delivery
	window    config.WorkingWindowConfig
	lookahead time.Duration
	grace     time.Duration
	tick      time.Duration
	log       *slog.Logger
}

// Config wires a Nudger.
type Config struct {
	Store     *store.Store
	Clock     clock.Clock
	Bus       *events.Bus
	Mailer    Mailer
	Window    config.WorkingWindowConfig
	Lookahead time.Duration
	Grace     time.Duration
	Tick      time.Duration
	Logger    *slog.Logger
}

// New builds a Nudger.
func New(cfg Config) *Nudger {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Nudger{
		store:     cfg.Store,
		clk:       clk,
		bus:       cfg.Bus,
		mailer:    cfg.Mailer,
		window:    cfg.Window,
		lookahead: cfg.Lookahead,
		grace:     cfg.Grace,
		tick:      cfg.Tick,
		log:       logger,
	}
}

// TickReport summarizes one pass.
type TickReport struct {
	Plans           int
	Candidates      int
	Sent            int
	AlreadyReserved int
	Errors          []string
}

// Tick runs one nudge pass over today's active plans. Users are processed
// concurrently, each inside its own time slice, and the whole pass stays
// under the tick interval so passes never pile up.
func (n *Nudger) Tick(ctx context.Context) TickReport {
	now := n.clk.Now()
	var report TickReport

	outer := n.tick - outerBudgetCut
	if outer > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, outer)
		defer cancel()
	}

	plans, err := n.store.ActivePlans(ctx, n.window.LocalDate(now))
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		n.log.Error("nudger: list plans failed", "error", err)
		return report
	}
	report.Plans = len(plans)

	results := make([]TickReport, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		g.Go(func() error {
			userCtx, cancel := context.WithTimeout(gctx, perUserBudget)
			defer cancel()
			results[i] = n.nudgePlan(userCtx, plan, now)
			return nil
		})
	}
	g.Wait()

	for _, r := range results {
		report.Candidates += r.Candidates
		report.Sent += r.Sent
		report.AlreadyReserved += r.AlreadyReserved
		report.Errors = append(report.Errors, r.Errors...)
	}
	if report.Sent > 0 || len(report.Errors) > 0 {
		n.log.Info("nudger: tick done", "plans", report.Plans, "sent", report.Sent,
			"candidates", report.Candidates, "errors", len(report.Errors))
	}
	return report
}

func (n *Nudger) nudgePlan(ctx context.Context, plan *domain.DailyPlan, now time.Time) TickReport {
	var report TickReport
	windowStart := now.Add(-n.grace)
	windowEnd := now.Add(n.lookahead)

	for i := range plan.Entries {
		e := &plan.Entries[i]
		if e.Status != domain.EntryPending {
			continue
		}
		if e.PredictedStart.Before(windowStart) || e.PredictedStart.After(windowEnd) {
			continue
		}

		task, err := n.store.GetTask(ctx, e.TaskID)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		if task.IsCompleted || task.IsSpam {
			continue
		}
		report.Candidates++

		notification := &domain.Notification{
			User:        plan.User,
			TaskID:      e.TaskID,
			PlanID:      plan.ID,
			Message:     domain.NudgeMessage(e.Title, e.IsCritical, e.IsUrgent),
			ScheduledAt: e.PredictedStart,
		}
		if err := n.store.Reserve(ctx, notification); err != nil {
			if fault.Is(err, fault.Busy) {
				report.AlreadyReserved++
				continue
			}
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		// Reservation won: deliver. In-app delivery is the sent marker;
		// email is best effort on top.
		if err := n.store.MarkNotificationSent(ctx, notification.ID, n.clk.Now()); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Sent++

		if n.mailer != nil {
			if err := n.mailer.SendNudge(ctx, plan.User, notification); err != nil {
				n.log.Warn("nudger: mail delivery failed", "user", plan.User, "task", e.TaskID, "error", err)
			}
		}
		if n.bus != nil {
			n.bus.Publish(events.NewEvent(events.EventNudgeSent, events.SourceNudger, plan.User, map[string]any{
				"task_id": e.TaskID, "plan_id": plan.ID, "message": notification.Message,
			}))
		}
	}
	return report
}
