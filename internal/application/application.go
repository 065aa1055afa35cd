package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/eugenenazirov/peerconf/internal/api"
	"github.com/eugenenazirov/peerconf/internal/config"
	"github.com/eugenenazirov/peerconf/internal/envx"
	"github.com/eugenenazirov/peerconf/internal/metrics"
	"github.com/eugenenazirov/peerconf/internal/overlay"
	"github.com/eugenenazirov/peerconf/internal/scripts"
	"github.com/eugenenazirov/peerconf/internal/secrets"
	"github.com/eugenenazirov/peerconf/internal/seed"
	"github.com/eugenenazirov/peerconf/internal/settings"
	"github.com/eugenenazirov/peerconf/internal/storage"
)

// Option configures New.
type Option func(*options)

type options struct {
	fs          afero.Fs
	env         *envx.Accessor
	seedOptions []seed.Option
}

// WithFs overrides the filesystem configuration, secrets and scripts are
// read from.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithEnv overrides the environment seen by configuration directives.
func WithEnv(env *envx.Accessor) Option {
	return func(o *options) {
		o.env = env
	}
}

// WithSeedOptions passes options to the startup script seeder.
func WithSeedOptions(opts ...seed.Option) Option {
	return func(o *options) {
		o.seedOptions = append(o.seedOptions, opts...)
	}
}

// App encapsulates the resolved configuration, the seed store and the HTTP
// server.
type App struct {
	cfg      config.Config
	opts     options
	facade   *overlay.Facade
	settings *settings.Settings
	metrics  *metrics.Metrics
	storage  storage.Storage
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server

	mu     sync.RWMutex
	report scripts.Report
	ran    bool
}

// New loads the configuration chain described by cfg, decodes the settings
// and wires the introspection server. Startup scripts are not run; call
// RunStartupScripts.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	facade, err := LoadFacade(cfg, logger, o.fs, o.env)
	if err != nil {
		return nil, err
	}
	s, err := settings.Load(facade)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.ObserveChain(facade.Chain().Len(), len(facade.Names()))

	store, err := OpenStorage(s.Database)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		opts:     o,
		facade:   facade,
		settings: s,
		metrics:  m,
		storage:  store,
		logger:   logger,
	}

	a.handler = api.NewHandler(facade, api.WithScriptReport(a.Report))
	routerOpts := []api.RouterOption{
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if s.MetricsEnabled {
		routerOpts = append(routerOpts, api.WithMetrics(m))
	}
	a.router = api.NewRouter(a.handler, logger, routerOpts...)
	a.server = NewServer(cfg, a.router)

	logger.Info("configuration loaded",
		zap.Strings("sources", facade.Chain().Paths()),
		zap.Int("settings", len(facade.Names())),
		zap.String("database_engine", s.Database.Engine),
	)
	return a, nil
}

// LoadFacade resolves the configuration chain in cfg.ConfigDir. A nil env
// reads the process environment.
func LoadFacade(cfg config.Config, logger *zap.Logger, fs afero.Fs, env *envx.Accessor) (*overlay.Facade, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	loader := overlay.NewLoader(
		overlay.WithFs(fs),
		overlay.WithEnv(env),
		overlay.WithSecrets(secrets.New(cfg.SecretsDir, secrets.WithFs(fs))),
		overlay.WithLogger(logger),
		overlay.WithSuffix(cfg.ConfigSuffix),
	)
	chain, err := loader.Load(cfg.ConfigDir, cfg.MainConfig)
	if err != nil {
		return nil, err
	}
	return overlay.NewFacade(chain), nil
}

// OpenStorage opens the seed store selected by DATABASE.ENGINE.
func OpenStorage(db settings.Database) (storage.Storage, error) {
	switch strings.ToLower(db.Engine) {
	case "", settings.EngineMemory:
		return storage.NewMemoryStorage(), nil
	case settings.EngineSQLite:
		if db.Name == "" {
			return nil, errors.New("DATABASE.NAME is required for the sqlite engine")
		}
		return storage.NewSQLiteStorage(db.Name)
	default:
		return nil, fmt.Errorf("unsupported DATABASE.ENGINE %q", db.Engine)
	}
}

// RunStartupScripts runs every startup script in cfg.ScriptsDir unless
// SkipStartupScripts is set. The report is kept for the API even when the
// run fails.
func (a *App) RunStartupScripts(ctx context.Context) (scripts.Report, error) {
	if a.cfg.SkipStartupScripts {
		a.logger.Info("skipping startup scripts")
		return scripts.Report{}, nil
	}

	seeder := seed.New(a.storage, append([]seed.Option{seed.WithLogger(a.logger)}, a.opts.seedOptions...)...)
	runnerOpts := append([]scripts.Option{
		scripts.WithFs(a.opts.fs),
		scripts.WithLogger(a.logger),
		scripts.WithObserver(a.metrics),
		scripts.WithLockFile(a.cfg.ScriptsLock),
	}, seeder.Options()...)
	runner := scripts.NewRunner(runnerOpts...)

	report, err := runner.RunAll(ctx, a.cfg.ScriptsDir)

	a.mu.Lock()
	a.report = report
	a.ran = true
	a.mu.Unlock()

	if err != nil {
		return report, fmt.Errorf("startup scripts: %w", err)
	}
	a.logger.Info("startup scripts finished",
		zap.Int("scripts", len(report.Results)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// Report returns the last startup script report, if scripts ran.
func (a *App) Report() (scripts.Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.report, a.ran
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Facade returns the resolved configuration.
func (a *App) Facade() *overlay.Facade {
	return a.facade
}

// Settings returns the typed settings.
func (a *App) Settings() *settings.Settings {
	return a.settings
}

// Storage returns the seed store.
func (a *App) Storage() storage.Storage {
	return a.storage
}

// Close releases the seed store.
func (a *App) Close() error {
	return a.storage.Close()
}
