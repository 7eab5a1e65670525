// Package ingest runs the staged pull of one (user, source) pair: authorize,
// fetch, extract, persist, encode. Stages run in order; a stage failure
// terminates the run with whatever the earlier stages already committed, and
// a partial run is reported, never rolled back.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/encode"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/extract"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/provider"
	"github.com/dohr-michael/dayflow/internal/store"
)

const (
	runTimeout   = 10 * time.Minute
	fetchTimeout = 2 * time.Minute
	callTimeout  = 30 * time.Second
)

// Report summarizes one ingestion run. Counters are cumulative even when a
// later stage failed.
type Report struct {
	User       string    `json:"user_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Fetched          int `json:"fetched"`
	Extracted        int `json:"extracted"`
	SkippedSpam      int `json:"skipped_spam"`
	SkippedOther     int `json:"skipped_other"`
	PersistedNew     int `json:"persisted_new"`
	PersistedUpdated int `json:"persisted_updated"`
	Encoded          int `json:"encoded"`

	Errors      []string `json:"errors,omitempty"`
	Degraded    bool     `json:"degraded"`
	FailedStage string   `json:"failed_stage,omitempty"`
}

// Pipeline executes ingestion runs. One run per (user, source) at a time;
// concurrent requests for the same pair get a busy error.
type Pipeline struct {
	store      *store.Store
	extractor  *extract.Extractor
	creds      *provider.CredentialManager
	clients    provider.Clients
	limits     *provider.RateLimiters
	vectors    *encode.VectorStore // nil disables the encode stage
	bus        *events.Bus
	clk        clock.Clock
	log        *slog.Logger
	calWindow  config.WindowConfig
	mailWindow config.WindowConfig
	retry      provider.Retrier

	running sync.Map // "user|source" -> struct{}
}

// Config wires a Pipeline.
type Config struct {
	Store      *store.Store
	Extractor  *extract.Extractor
	Creds      *provider.CredentialManager
	Clients    provider.Clients
	Limits     *provider.RateLimiters
	Vectors    *encode.VectorStore
	Bus        *events.Bus
	Clock      clock.Clock
	Logger     *slog.Logger
	CalWindow  config.WindowConfig
	MailWindow config.WindowConfig
	Retry      provider.Retrier // zero value: DefaultRetrier
}

// New builds a Pipeline.
func New(cfg Config) *Pipeline {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = provider.DefaultRetrier()
	}
	return &Pipeline{
		store:      cfg.Store,
		extractor:  cfg.Extractor,
		creds:      cfg.Creds,
		clients:    cfg.Clients,
		limits:     cfg.Limits,
		vectors:    cfg.Vectors,
		bus:        cfg.Bus,
		clk:        clk,
		log:        logger,
		calWindow:  cfg.CalWindow,
		mailWindow: cfg.MailWindow,
		retry:      retry,
	}
}

// Run executes one ingestion run for (user, source).
func (p *Pipeline) Run(ctx context.Context, user string, source domain.Source) (*Report, error) {
	key := user + "|" + string(source)
	if _, held := p.running.LoadOrStore(key, struct{}{}); held {
		return nil, fault.Newf(fault.Busy, "ingestion already running for %s/%s", user, source)
	}
	defer p.running.Delete(key)

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	report := &Report{User: user, Source: string(source), StartedAt: p.clk.Now()}
	p.publish(events.EventIngestStarted, user, map[string]any{"source": string(source)})

	err := p.run(ctx, user, source, report)
	report.FinishedAt = p.clk.Now()
	runDuration.WithLabelValues(string(source)).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	switch {
	case err != nil:
		runsTotal.WithLabelValues(string(source), "failed").Inc()
		report.Errors = append(report.Errors, err.Error())
		p.publish(events.EventIngestFailed, user, map[string]any{
			"source": string(source), "stage": report.FailedStage, "error": err.Error(),
		})
		p.log.Error("ingest: run failed", "user", user, "source", source, "stage", report.FailedStage, "error", err)
		return report, err
	case report.Degraded:
		runsTotal.WithLabelValues(string(source), "degraded").Inc()
	default:
		runsTotal.WithLabelValues(string(source), "ok").Inc()
	}

	p.publish(events.EventIngestCompleted, user, map[string]any{
		"source": string(source), "fetched": report.Fetched,
		"persisted_new": report.PersistedNew, "persisted_updated": report.PersistedUpdated,
		"degraded": report.Degraded,
	})
	p.log.Info("ingest: run completed", "user", user, "source", source,
		"fetched", report.Fetched, "new", report.PersistedNew, "updated", report.PersistedUpdated,
		"spam", report.SkippedSpam, "degraded", report.Degraded)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, user string, source domain.Source, report *Report) error {
	// Stage 1: authorize.
	cred, err := p.creds.Valid(ctx, user, domain.ProviderForSource(source))
	if err != nil {
		report.FailedStage = "authorize"
		return err
	}

	// Stage 2: fetch.
	outcomes, err := p.fetchAndExtract(ctx, user, source, cred, report)
	if err != nil {
		return err
	}

	// Stages 4 and 5: persist, then encode. Encoding failures degrade the
	// run instead of failing it.
	for _, out := range outcomes {
		switch {
		case out.SkipReason != "":
			report.SkippedOther++
			itemsTotal.WithLabelValues(string(source), "skipped").Inc()
			continue
		case out.Reminder != nil:
			if err := p.store.UpsertReminder(ctx, out.Reminder); err != nil {
				report.FailedStage = "persist"
				return err
			}
			report.Extracted++
			itemsTotal.WithLabelValues(string(source), "reminder").Inc()
		case out.Task != nil:
			res, err := p.store.UpsertIngested(ctx, out.Task)
			if err != nil {
				report.FailedStage = "persist"
				return err
			}
			report.Extracted++
			if out.Task.IsSpam {
				report.SkippedSpam++
				itemsTotal.WithLabelValues(string(source), "spam").Inc()
			}
			switch res {
			case store.UpsertInserted:
				report.PersistedNew++
				itemsTotal.WithLabelValues(string(source), "new").Inc()
			case store.UpsertUpdated:
				report.PersistedUpdated++
				itemsTotal.WithLabelValues(string(source), "updated").Inc()
			default:
				itemsTotal.WithLabelValues(string(source), "unchanged").Inc()
			}

			if p.vectors != nil && !out.Task.IsSpam && (res == store.UpsertInserted || res == store.UpsertUpdated) {
				if err := p.vectors.EncodeTask(ctx, out.Task); err != nil {
					report.Degraded = true
					report.Errors = append(report.Errors, fmt.Sprintf("encode %s: %v", out.Task.ID, err))
					p.log.Warn("ingest: encode failed", "task", out.Task.ID, "error", err)
					continue
				}
				report.Encoded++
			}
		}
	}
	return nil
}

// fetchAndExtract pulls all pages for the source and extracts each raw item.
// Extraction happens inline so model-backed judgement shares the run budget.
func (p *Pipeline) fetchAndExtract(ctx context.Context, user string, source domain.Source, cred *domain.Credential, report *Report) ([]extract.Outcome, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var outcomes []extract.Outcome
	pageToken := ""
	now := p.clk.Now()

	for {
		if err := p.limits.Wait(fetchCtx, user, domain.ProviderForSource(source)); err != nil {
			report.FailedStage = "fetch"
			return nil, err
		}

		// Each page call gets its own timeout and a bounded retry budget for
		// rate-limit and transient failures.
		var next string
		var err error
		switch source {
		case domain.SourceCalendar:
			var page []provider.CalendarEvent
			from := now.Add(-p.calWindow.Past.Duration())
			to := now.Add(p.calWindow.Future.Duration())
			err = p.retry.Do(fetchCtx, func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, callTimeout)
				defer cancel()
				var callErr error
				page, next, callErr = p.clients.Calendar.ListEvents(callCtx, cred, from, to, pageToken)
				return callErr
			})
			if err == nil {
				report.Fetched += len(page)
				for i := range page {
					outcomes = append(outcomes, p.extractor.FromCalendarEvent(user, &page[i]))
				}
			}
		case domain.SourceMail:
			var page []provider.MailMessage
			since := now.Add(-p.mailWindow.Past.Duration())
			err = p.retry.Do(fetchCtx, func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, callTimeout)
				defer cancel()
				var callErr error
				page, next, callErr = p.clients.Mail.ListMessages(callCtx, cred, since, pageToken)
				return callErr
			})
			if err == nil {
				report.Fetched += len(page)
				for i := range page {
					outcomes = append(outcomes, p.extractor.FromMailMessage(ctx, user, &page[i]))
				}
			}
		case domain.SourceTaskManager:
			var page []provider.TaskItem
			err = p.retry.Do(fetchCtx, func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, callTimeout)
				defer cancel()
				var callErr error
				page, next, callErr = p.clients.TaskManager.ListTasks(callCtx, cred, time.Time{}, pageToken)
				return callErr
			})
			if err == nil {
				report.Fetched += len(page)
				for i := range page {
					outcomes = append(outcomes, p.extractor.FromTaskItem(user, &page[i]))
				}
			}
		default:
			report.FailedStage = "fetch"
			return nil, fault.Newf(fault.InvalidRequest, "source %s is not ingestable", source)
		}

		if err != nil {
			report.FailedStage = "fetch"
			return nil, err
		}
		if next == "" {
			return outcomes, nil
		}
		pageToken = next
	}
}

func (p *Pipeline) publish(t events.EventType, user string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.NewEvent(t, events.SourceIngest, user, payload))
}
