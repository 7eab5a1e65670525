// Package core assembles the components into one App facade. Everything the
// gateway and the CLI can do goes through here, so ownership checks and
// lifecycle wiring live in exactly one place.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/encode"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/extract"
	"github.com/dohr-michael/dayflow/internal/heartbeat"
	"github.com/dohr-michael/dayflow/internal/ingest"
	"github.com/dohr-michael/dayflow/internal/llm"
	"github.com/dohr-michael/dayflow/internal/mailer"
	"github.com/dohr-michael/dayflow/internal/nudge"
	"github.com/dohr-michael/dayflow/internal/planner"
	"github.com/dohr-michael/dayflow/internal/provider"
	"github.com/dohr-michael/dayflow/internal/store"
	"github.com/dohr-michael/dayflow/internal/syncer"
)

const eventBufferSize = 1024

// App owns every component and exposes the public operations.
type App struct {
	cfg *config.Config
	log *slog.Logger
	clk clock.Clock

	store     *store.Store
	bus       *events.Bus
	vectors   *encode.VectorStore
	extractor *extract.Extractor
	pipeline  *ingest.Pipeline
	planner   *planner.Planner
	nudger    *nudge.Nudger
	syncer    *syncer.Syncer
	scheduler *nudge.Scheduler
	heartbeat *heartbeat.Writer
	clients   provider.Clients
}

// Options carries the deployment-specific pieces New cannot build itself:
// the provider HTTP clients and token refreshers come from whatever account
// integrations the binary was linked with.
type Options struct {
	Clients       provider.Clients
	Refreshers    map[domain.CredentialProvider]provider.TokenRefresher
	Clock         clock.Clock
	Logger        *slog.Logger
	HeartbeatPath string
}

// New builds the App. The LLM and the vector store are optional capabilities;
// when their configuration is absent the affected components degrade to their
// deterministic or rules-only paths.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	storeOpts := []store.Option{store.WithClock(clk)}
	if cfg.Store.KeyPath != "" {
		storeOpts = append(storeOpts, store.WithTokenKey(cfg.Store.KeyPath))
	}
	st, err := store.Open(cfg.Store.Path, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := events.NewBus(eventBufferSize)

	var chat *llm.Client
	if len(cfg.Models.Providers) > 0 {
		model, err := llm.Default(ctx, cfg.Models)
		if err != nil {
			st.Close()
			bus.Close()
			return nil, fmt.Errorf("init model: %w", err)
		}
		chat = llm.NewClient(model, cfg.LLMRetryBudget)
	} else {
		log.Warn("core: no model configured, extraction and planning run rules-only")
	}

	var vectors *encode.VectorStore
	if cfg.Vector.Dir != "" && cfg.Embedding.Driver != "" {
		embedder, err := encode.NewEmbedder(ctx, cfg.Embedding)
		if err != nil {
			log.Warn("core: embedder unavailable, encode stage disabled", "error", err)
		} else if vectors, err = encode.NewVectorStore(ctx, cfg.Vector.Dir, embedder); err != nil {
			log.Warn("core: vector store unavailable, encode stage disabled", "error", err)
			vectors = nil
		}
	}

	extractor := extract.New(chat, cfg.SpamLLMThreshold, cfg.PromoPatterns, cfg.WorkingWindow)
	creds := provider.NewCredentialManager(st, opts.Refreshers, clk)
	limits := provider.NewRateLimiters(cfg.ProviderRateLimits)

	pipeline := ingest.New(ingest.Config{
		Store:      st,
		Extractor:  extractor,
		Creds:      creds,
		Clients:    opts.Clients,
		Limits:     limits,
		Vectors:    vectors,
		Bus:        bus,
		Clock:      clk,
		Logger:     log,
		CalWindow:  cfg.IngestWindowCalendar,
		MailWindow: cfg.IngestWindowMail,
	})

	plan := planner.New(planner.Config{
		Store:         st,
		LLM:           chat,
		Window:        cfg.WorkingWindow,
		PromoPatterns: cfg.PromoPatterns,
		Clock:         clk,
		Bus:           bus,
		Logger:        log,
	})

	var mail nudge.Mailer
	if cfg.EmailEnabled {
		mail = mailer.New(cfg.SMTP, log)
	}
	nudger := nudge.New(nudge.Config{
		Store:     st,
		Clock:     clk,
		Bus:       bus,
		Mailer:    mail,
		Window:    cfg.WorkingWindow,
		Lookahead: cfg.NudgeLookahead.Duration(),
		Grace:     cfg.NudgeGrace.Duration(),
		Tick:      cfg.TickInterval.Duration(),
		Logger:    log,
	})

	sync := syncer.New(syncer.Config{
		Store:       st,
		Extractor:   extractor,
		Credentials: creds,
		Client:      opts.Clients.TaskManager,
		Limits:      limits,
		Bus:         bus,
		Clock:       clk,
		Logger:      log,
	})

	app := &App{
		cfg:       cfg,
		log:       log,
		clk:       clk,
		store:     st,
		bus:       bus,
		vectors:   vectors,
		extractor: extractor,
		pipeline:  pipeline,
		planner:   plan,
		nudger:    nudger,
		syncer:    sync,
		clients:   opts.Clients,
	}
	app.scheduler = nudge.NewScheduler(nudger, app, st, cfg.PlanCron, cfg.TickInterval.Duration(), log)
	if opts.HeartbeatPath != "" {
		app.heartbeat = heartbeat.NewWriter(opts.HeartbeatPath, 30*time.Second)
	}
	return app, nil
}

// Start launches the background scheduler and the liveness writer.
func (a *App) Start(ctx context.Context) error {
	if a.heartbeat != nil {
		a.heartbeat.Start()
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.log.Info("core: started")
	return nil
}

// Stop shuts everything down in reverse order.
func (a *App) Stop() {
	a.scheduler.Stop()
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("core: store close", "error", err)
	}
	a.log.Info("core: stopped")
}

// Bus exposes the event bus for streaming consumers.
func (a *App) Bus() *events.Bus { return a.bus }
