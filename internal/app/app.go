// Package app wires all Solivox subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the gateway until the context is cancelled, and
// Shutdown tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithToolHost, WithAnswerer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/solivox/solivox/internal/config"
	"github.com/solivox/solivox/internal/content"
	"github.com/solivox/solivox/internal/dialog"
	"github.com/solivox/solivox/internal/flow"
	"github.com/solivox/solivox/internal/gateway"
	"github.com/solivox/solivox/internal/health"
	"github.com/solivox/solivox/internal/observe"
	"github.com/solivox/solivox/internal/persist"
	"github.com/solivox/solivox/internal/session"
	"github.com/solivox/solivox/internal/toolhost"
	"github.com/solivox/solivox/internal/tools/leadtools"
	"github.com/solivox/solivox/internal/tools/ordertools"
	"github.com/solivox/solivox/internal/tools/tutortools"
	"github.com/solivox/solivox/internal/voice"
	"github.com/solivox/solivox/pkg/provider/embeddings"
	"github.com/solivox/solivox/pkg/provider/llm"
	"github.com/solivox/solivox/pkg/provider/stt"
	"github.com/solivox/solivox/pkg/provider/tts"
	"github.com/solivox/solivox/pkg/provider/vad"
	"github.com/solivox/solivox/pkg/types"
)

// shutdownGrace bounds the in-flight-request drain when Run's context is
// cancelled.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// App owns all subsystem lifetimes and serves the Solivox voice gateway.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	catalog  *content.Catalog
	faq      *content.FAQ
	pool     *pgxpool.Pool
	leads    *persist.LeadStore
	semantic *content.SemanticIndex
	answerer leadtools.Answerer
	host     *toolhost.Host
	metrics  *observe.Metrics
	manager  *session.Manager
	server   *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics bundle instead of using the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithToolHost injects an MCP host instead of creating one from config.
func WithToolHost(h *toolhost.Host) Option {
	return func(a *App) { a.host = h }
}

// WithAnswerer injects the FAQ answerer used by lead sessions instead of
// choosing between the semantic index and keyword matching.
func WithAnswerer(ans leadtools.Answerer) Option {
	return func(a *App) { a.answerer = ans }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: content loading, Postgres
// connection and migration, FAQ indexing, MCP server registration, and
// gateway assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initContent(); err != nil {
		return nil, fmt.Errorf("app: init content: %w", err)
	}
	if err := a.initPostgres(ctx); err != nil {
		return nil, fmt.Errorf("app: init postgres: %w", err)
	}
	if err := a.initToolHost(ctx); err != nil {
		return nil, fmt.Errorf("app: init tool host: %w", err)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.answerer == nil {
		if a.semantic != nil {
			a.answerer = a.semantic
		} else {
			a.answerer = leadtools.KeywordAnswerer{FAQ: a.faq}
		}
	}

	a.manager = session.NewManager(a.newSession)
	a.initHTTP()

	return a, nil
}

// Manager returns the session manager. Exposed for the gateway tests and
// operational tooling.
func (a *App) Manager() *session.Manager { return a.manager }

// ─── Init helpers ────────────────────────────────────────────────────────────

// initContent loads the topic catalog and FAQ tables, falling back to the
// built-in content when no paths are configured.
func (a *App) initContent() error {
	catalog, err := content.LoadCatalog(a.cfg.Content.TopicsPath)
	if err != nil {
		return err
	}
	a.catalog = catalog

	faq, err := content.LoadFAQ(a.cfg.Content.FAQPath)
	if err != nil {
		return err
	}
	a.faq = faq
	return nil
}

// initPostgres connects the optional Postgres mirror and semantic FAQ index.
// Without a DSN, leads live in the JSONL log alone and FAQ lookups use
// keyword matching.
func (a *App) initPostgres(ctx context.Context) error {
	dsn := a.cfg.Persistence.PostgresDSN
	if dsn == "" {
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	a.leads = persist.NewLeadStore(pool)
	if err := a.leads.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("postgres lead mirror ready")

	if a.providers.Embeddings == nil {
		slog.Warn("no embeddings provider configured, FAQ lookups use keyword matching")
		return nil
	}

	// The pgvector column is sized to the embedder's dimensionality. A
	// declared dimension that disagrees means the wrong model is configured;
	// failing here beats failing on the first lookup.
	if want := a.cfg.Persistence.EmbeddingDimensions; want > 0 {
		if got := a.providers.Embeddings.Dimensions(); got != want {
			return fmt.Errorf("embeddings model produces %d dimensions, config declares %d", got, want)
		}
	}

	idx := content.NewSemanticIndex(pool, a.providers.Embeddings, a.cfg.Content.MinSimilarity)
	if err := idx.Migrate(ctx); err != nil {
		return err
	}
	if err := idx.Index(ctx, a.faq.Entries()); err != nil {
		return err
	}
	a.semantic = idx
	slog.Info("semantic FAQ index ready", "entries", len(a.faq.Entries()))
	return nil
}

// initToolHost sets up the MCP host and registers the configured servers.
func (a *App) initToolHost(ctx context.Context) error {
	if a.host == nil {
		a.host = toolhost.NewHost()
		a.closers = append(a.closers, a.host.Close)
	}

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := toolhost.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.host.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}
	return nil
}

// initHTTP assembles the mux: the websocket gateway, health endpoints, and
// the Prometheus scrape endpoint.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	var gwOpts []gateway.Option
	if a.providers.STT != nil {
		gwOpts = append(gwOpts, gateway.WithIngest(a.providers.STT, a.providers.VAD, gateway.IngestConfig{}))
	}
	gateway.NewServer(a.manager, slog.Default(), gwOpts...).Register(mux)

	var checkers []health.Checker
	if a.pool != nil {
		checkers = append(checkers, health.Checker{
			Name:  "postgres",
			Check: a.pool.Ping,
		})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: mux,
	}
}

// ─── Session factory ─────────────────────────────────────────────────────────

// newSession builds one fully-wired session for the named profile. All
// conversational state — the slot record, the flow controller, the tool
// registry — is created here and owned by the session alone.
func (a *App) newSession(id, profile string) (*session.Session, error) {
	pc, err := a.profileConfig(profile)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("session_id", id, "profile", pc.Name)
	registry := toolhost.NewRegistry()

	var flowCtrl *flow.Controller
	switch pc.Toolset {
	case config.ToolsetOrder:
		rec := dialog.NewRecord(ordertools.Fields())
		sink := a.instrumentSink(persist.NewOrderSink(a.cfg.Persistence.OrderPath), "order")
		if err := registry.RegisterAll(ordertools.New(rec, sink, logger)); err != nil {
			return nil, err
		}

	case config.ToolsetLead:
		rec := dialog.NewRecord(leadtools.Fields())
		var sinkOpts []persist.LeadSinkOption
		if a.leads != nil {
			sinkOpts = append(sinkOpts, persist.WithLeadStore(a.leads))
		}
		sink := a.instrumentSink(
			persist.NewLeadSink(a.cfg.Persistence.LeadLogPath, a.cfg.Persistence.DraftDir, logger, sinkOpts...),
			"lead",
		)
		if err := registry.RegisterAll(leadtools.New(rec, a.answerer, sink, logger)); err != nil {
			return nil, err
		}

	case config.ToolsetTutor:
		initial := pc.InitialMode
		if initial == "" {
			initial = "coordinator"
		}
		ctrl, err := flow.New(initial, flow.DefaultTutorModes(), a.catalog)
		if err != nil {
			return nil, err
		}
		flowCtrl = ctrl
		if err := registry.RegisterAll(tutortools.New(ctrl, a.catalog, logger)); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("app: profile %q has unknown toolset %q", pc.Name, pc.Toolset)
	}

	// External MCP tools are available to every profile.
	if err := registry.RegisterAll(a.host.Tools()); err != nil {
		return nil, err
	}

	return session.New(session.Config{
		ID: id,
		Profile: session.Profile{
			Name:         pc.Name,
			SystemPrompt: pc.SystemPrompt,
			Greeting:     pc.Greeting,
			Fallback:     pc.Fallback,
			Temperature:  pc.Temperature,
		},
		LLM:     a.providers.LLM,
		TTS:     a.providers.TTS,
		Voices:  configVoices(pc),
		Tools:   registry,
		Flow:    flowCtrl,
		Metrics: a.metrics,
		Logger:  slog.Default(),
	})
}

// profileConfig resolves a profile by name. An empty name selects the first
// configured profile so single-persona deployments need no query parameter.
func (a *App) profileConfig(name string) (config.ProfileConfig, error) {
	if len(a.cfg.Profiles) == 0 {
		return config.ProfileConfig{}, errors.New("app: no profiles configured")
	}
	if name == "" {
		return a.cfg.Profiles[0], nil
	}
	for _, pc := range a.cfg.Profiles {
		if pc.Name == name {
			return pc, nil
		}
	}
	return config.ProfileConfig{}, fmt.Errorf("app: unknown profile %q", name)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the gateway and blocks until ctx is cancelled or the listener
// fails. On cancellation the server drains in-flight connections for up to
// shutdownGrace before returning ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gateway listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = a.server.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes all open sessions and tears down subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.manager.Count(), "closers", len(a.closers))

		a.manager.CloseAll()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// instrumentSink wraps a sink so successful commits land in the metrics
// pipeline with the given kind label.
func (a *App) instrumentSink(inner persist.Sink, kind string) persist.Sink {
	return commitObserver{inner: inner, kind: kind, metrics: a.metrics}
}

type commitObserver struct {
	inner   persist.Sink
	kind    string
	metrics *observe.Metrics
}

var _ persist.Sink = commitObserver{}

func (o commitObserver) Commit(ctx context.Context, rec *dialog.Record) (persist.CommitResult, error) {
	res, err := o.inner.Commit(ctx, rec)
	if err == nil {
		o.metrics.RecordCommit(ctx, o.kind)
	}
	return res, err
}

// configVoices converts a profile's voice table to a selector over
// [types.VoiceProfile].
func configVoices(pc config.ProfileConfig) *voice.Selector {
	byMode := make(map[string]types.VoiceProfile, len(pc.Voices))
	for mode, vc := range pc.Voices {
		byMode[mode] = configVoiceProfile(vc)
	}
	return voice.NewSelector(byMode, configVoiceProfile(pc.DefaultVoice))
}

// configVoiceProfile converts a config.VoiceConfig to types.VoiceProfile.
func configVoiceProfile(vc config.VoiceConfig) types.VoiceProfile {
	return types.VoiceProfile{
		ID:          vc.VoiceID,
		Provider:    vc.Provider,
		Style:       vc.Style,
		SpeedFactor: vc.SpeedFactor,
	}
}
