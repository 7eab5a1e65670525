// Package planner composes the daily plan: deterministic scoring picks and
// orders candidates, the model proposes the schedule, and a deterministic
// layout takes over when the model cannot produce a valid one.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/extract"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/llm"
	"github.com/dohr-michael/dayflow/internal/store"
)

const maxActionSteps = 6

// Planner generates daily plans.
type Planner struct {
	store  *store.Store
	llm    *llm.Client // nil: deterministic layout only
	window config.WorkingWindowConfig
	promo  []string
	clk    clock.Clock
	bus    *events.Bus
	log    *slog.Logger
}

// Config wires a Planner.
type Config struct {
	Store         *store.Store
	LLM           *llm.Client
	Window        config.WorkingWindowConfig
	PromoPatterns []string
	Clock         clock.Clock
	Bus           *events.Bus
	Logger        *slog.Logger
}

// New builds a Planner.
func New(cfg Config) *Planner {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		store:  cfg.Store,
		llm:    cfg.LLM,
		window: cfg.Window,
		promo:  cfg.PromoPatterns,
		clk:    clk,
		bus:    cfg.Bus,
		log:    logger,
	}
}

// candidate pairs a task with its planning context.
type candidate struct {
	task    *domain.Task
	score   float64
	blocked bool
}

// GeneratePlan builds and atomically installs the plan for (user, date).
// An empty date means the user's current local day.
func (p *Planner) GeneratePlan(ctx context.Context, user, date string) (*domain.DailyPlan, error) {
	now := p.clk.Now()
	if date == "" {
		date = p.window.LocalDate(now)
	}
	dayStart, dayEnd, err := p.window.DayRange(date)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidRequest, "plan date", err)
	}

	tasks, err := p.store.ListTasks(ctx, user, store.TaskFilter{From: dayStart, To: dayEnd})
	if err != nil {
		return nil, err
	}
	energy, err := p.store.GetEnergy(ctx, user, date)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(tasks))
	for _, t := range tasks {
		blockers, err := p.store.OpenBlockers(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{
			task:    t,
			score:   Score(t, energy, now),
			blocked: len(blockers) > 0,
		})
	}
	// Ties break on the earlier start, then the task id, so the ranking is
	// stable across runs regardless of row order.
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.score != cj.score {
			return ci.score > cj.score
		}
		if !ci.task.Start.Equal(cj.task.Start) {
			return ci.task.Start.Before(cj.task.Start)
		}
		return ci.task.ID < cj.task.ID
	})

	var entries []domain.PlanEntry
	if p.llm != nil && len(candidates) > 0 {
		entries, err = p.composeWithModel(ctx, candidates, date, energy)
		if err != nil {
			p.log.Warn("planner: model composition failed, using deterministic layout",
				"user", user, "date", date, "error", err)
			entries = nil
		}
	}
	if entries == nil {
		entries = p.deterministicLayout(candidates, dayStart)
	}

	// Promotional leftovers that extraction let through never make the plan,
	// no matter how the schedule was composed.
	kept := entries[:0]
	for _, e := range entries {
		if extract.PromoTitle(e.Title, p.promo) {
			p.log.Debug("planner: dropped promotional entry", "user", user, "task", e.TaskID, "title", e.Title)
			continue
		}
		kept = append(kept, e)
	}
	entries = kept

	// Learned snooze shifts apply regardless of how the plan was composed.
	loc := p.window.Location()
	profile, err := LearnSnoozeProfile(ctx, p.store, user, now, loc)
	if err != nil {
		return nil, err
	}
	_, latest := p.window.Bounds(dayStart.Add(12 * time.Hour))
	for i := range entries {
		entries[i].PredictedStart, entries[i].PredictedEnd =
			profile.Apply(entries[i].PredictedStart, entries[i].PredictedEnd, loc, latest)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PredictedStart.Before(entries[j].PredictedStart)
	})

	plan := &domain.DailyPlan{
		User:        user,
		Date:        date,
		Status:      domain.PlanActive,
		EnergyLevel: energy,
		Entries:     entries,
		GeneratedAt: now,
	}
	if err := p.store.ReplacePlan(ctx, plan); err != nil {
		return nil, err
	}

	if p.bus != nil {
		p.bus.Publish(events.NewEvent(events.EventPlanGenerated, events.SourcePlanner, user, map[string]any{
			"plan_id": plan.ID, "date": date, "entries": len(entries), "energy": energy,
		}))
	}
	p.log.Info("planner: plan generated", "user", user, "date", date, "entries", len(entries), "energy", energy)
	return plan, nil
}

const planSystemPrompt = `You schedule a user's day. Given tasks with scores and constraints, lay them out without overlaps inside the working window.
Respond with a single JSON object:
{"tasks": [{"task_id": "...", "predicted_start": "<RFC3339>", "predicted_end": "<RFC3339>", "priority_score": <0-1>, "title": "...", "is_critical": <bool>, "is_urgent": <bool>, "action_plan": ["step", ...]}]}
Rules: include every task exactly once; keep calendar-anchored tasks at their own times; action_plan has 1 to 6 concrete steps; higher scores get the better slots.`

type planResponse struct {
	Tasks []struct {
		TaskID         string   `json:"task_id"`
		PredictedStart string   `json:"predicted_start"`
		PredictedEnd   string   `json:"predicted_end"`
		PriorityScore  float64  `json:"priority_score"`
		Title          string   `json:"title"`
		IsCritical     bool     `json:"is_critical"`
		IsUrgent       bool     `json:"is_urgent"`
		ActionPlan     []string `json:"action_plan"`
	} `json:"tasks"`
}

// composeWithModel asks the model for a schedule and validates it. One
// corrective retry gets the validation error appended to the prompt; after
// that the caller falls back to the deterministic layout.
func (p *Planner) composeWithModel(ctx context.Context, candidates []candidate, date string, energy int) ([]domain.PlanEntry, error) {
	dayStart, dayEnd, err := p.window.DayRange(date)
	if err != nil {
		return nil, err
	}

	prompt, byID := p.buildPrompt(candidates, date, energy)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		userPrompt := prompt
		if lastErr != nil {
			userPrompt = fmt.Sprintf("%s\n\nYour previous answer was rejected: %v\nProduce a corrected plan.", prompt, lastErr)
		}

		var resp planResponse
		if err := p.llm.ChatJSON(ctx, planSystemPrompt, userPrompt, &resp); err != nil {
			lastErr = err
			continue
		}

		entries, err := p.validateResponse(&resp, byID, dayStart, dayEnd)
		if err != nil {
			lastErr = err
			continue
		}
		return entries, nil
	}
	return nil, lastErr
}

func (p *Planner) buildPrompt(candidates []candidate, date string, energy int) (string, map[string]candidate) {
	type promptTask struct {
		TaskID      string   `json:"task_id"`
		Title       string   `json:"title"`
		Description string   `json:"description,omitempty"`
		Start       string   `json:"start_time"`
		End         string   `json:"end_time"`
		Score       float64  `json:"score"`
		IsCritical  bool     `json:"is_critical"`
		IsUrgent    bool     `json:"is_urgent"`
		Blocked     bool     `json:"blocked,omitempty"`
		Attendees   []string `json:"attendees,omitempty"`
	}

	byID := map[string]candidate{}
	pts := make([]promptTask, 0, len(candidates))
	for _, c := range candidates {
		byID[c.task.ID] = c
		pts = append(pts, promptTask{
			TaskID:      c.task.ID,
			Title:       c.task.Title,
			Description: c.task.Description,
			Start:       c.task.Start.Format(time.RFC3339),
			End:         c.task.End.Format(time.RFC3339),
			Score:       c.score,
			IsCritical:  c.task.IsCritical,
			IsUrgent:    c.task.IsUrgent,
			Blocked:     c.blocked,
			Attendees:   c.task.Attendees,
		})
	}
	payload, _ := json.MarshalIndent(pts, "", "  ")

	earliest, latest := p.window.Earliest, p.window.Latest
	return fmt.Sprintf("Date: %s\nWorking window: %s-%s (%s)\nUser energy today: %d/5\nBlocked tasks go last in the day.\n\nTasks:\n%s",
		date, earliest, latest, p.window.Timezone, energy, payload), byID
}

func (p *Planner) validateResponse(resp *planResponse, byID map[string]candidate, dayStart, dayEnd time.Time) ([]domain.PlanEntry, error) {
	if len(resp.Tasks) == 0 {
		return nil, fmt.Errorf("plan contains no tasks")
	}

	entries := make([]domain.PlanEntry, 0, len(resp.Tasks))
	seen := map[string]bool{}
	for _, pt := range resp.Tasks {
		c, known := byID[pt.TaskID]
		if !known {
			// Invented entries are dropped, not fatal.
			continue
		}
		if seen[pt.TaskID] {
			return nil, fmt.Errorf("task %s scheduled twice", pt.TaskID)
		}
		seen[pt.TaskID] = true

		start, err := time.Parse(time.RFC3339, pt.PredictedStart)
		if err != nil {
			return nil, fmt.Errorf("task %s: bad predicted_start %q", pt.TaskID, pt.PredictedStart)
		}
		end, err := time.Parse(time.RFC3339, pt.PredictedEnd)
		if err != nil {
			return nil, fmt.Errorf("task %s: bad predicted_end %q", pt.TaskID, pt.PredictedEnd)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("task %s: predicted_end before predicted_start", pt.TaskID)
		}
		if start.Before(dayStart) || start.After(dayEnd) {
			return nil, fmt.Errorf("task %s: predicted_start outside the plan day", pt.TaskID)
		}

		score := pt.PriorityScore
		if score < 0 || score > 1 {
			score = c.score
		}
		steps := pt.ActionPlan
		if len(steps) > maxActionSteps {
			steps = steps[:maxActionSteps]
		}

		entries = append(entries, domain.PlanEntry{
			TaskID:         c.task.ID,
			Title:          c.task.Title,
			PredictedStart: start,
			PredictedEnd:   end,
			PriorityScore:  score,
			IsCritical:     c.task.IsCritical,
			IsUrgent:       c.task.IsUrgent,
			ActionPlan:     steps,
			Status:         domain.EntryPending,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("plan references no known tasks")
	}
	return entries, nil
}

// deterministicLayout keeps unblocked tasks at their own times and queues
// blocked ones after the day's last unblocked slot. Blocked tasks that no
// longer fit before the window closes are dropped from the plan.
func (p *Planner) deterministicLayout(candidates []candidate, dayStart time.Time) []domain.PlanEntry {
	earliest, latest := p.window.Bounds(dayStart.Add(12 * time.Hour))

	var entries []domain.PlanEntry
	tail := earliest
	for _, c := range candidates {
		if c.blocked {
			continue
		}
		entries = append(entries, domain.PlanEntry{
			TaskID:         c.task.ID,
			Title:          c.task.Title,
			PredictedStart: c.task.Start,
			PredictedEnd:   c.task.End,
			PriorityScore:  c.score,
			IsCritical:     c.task.IsCritical,
			IsUrgent:       c.task.IsUrgent,
			Status:         domain.EntryPending,
		})
		if c.task.End.After(tail) {
			tail = c.task.End
		}
	}

	// Blocked tasks go last, in score order, while they still fit.
	for _, c := range candidates {
		if !c.blocked {
			continue
		}
		duration := c.task.End.Sub(c.task.Start)
		if tail.Add(duration).After(latest) {
			continue
		}
		entries = append(entries, domain.PlanEntry{
			TaskID:         c.task.ID,
			Title:          c.task.Title,
			PredictedStart: tail,
			PredictedEnd:   tail.Add(duration),
			PriorityScore:  c.score,
			IsCritical:     c.task.IsCritical,
			IsUrgent:       c.task.IsUrgent,
			Status:         domain.EntryPending,
		})
		tail = tail.Add(duration)
	}
	return entries
}
