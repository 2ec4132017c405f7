package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/shotread/internal/config"
	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/internal/player/mpv"
	"github.com/psantana5/shotread/internal/player/sim"
	"github.com/psantana5/shotread/internal/session"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/metrics"
	"github.com/psantana5/shotread/pkg/models"
	"github.com/psantana5/shotread/pkg/retry"
	"github.com/psantana5/shotread/pkg/store"
)

// app holds the wired player and session for one process
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	manager  *player.Manager
	session  *session.Orchestrator
}

func newLogger(cfg *config.Config, name string) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.Dir == "" {
		return logging.NewLogger(level, cfg.Log.JSON), nil
	}
	return logging.NewFileLogger(cfg.Log.Dir, "shotread", name, level, cfg.Log.JSON)
}

func newRuntime(cfg *config.Config, logger *logging.Logger) player.Runtime {
	if cfg.Player.Driver == "mpv" {
		return mpv.NewRuntime(mpv.Config{
			Binary:      cfg.Player.MPV.Binary,
			SocketDir:   cfg.Player.MPV.SocketDir,
			URLTemplate: cfg.Player.MPV.URLTemplate,
			ExtraArgs:   cfg.Player.MPV.ExtraArgs,
		}, logger)
	}
	return sim.NewRuntime(sim.Options{
		Speed:      cfg.Player.Sim.Speed,
		BootDelay:  cfg.Player.Sim.BootDelay,
		ReadyDelay: cfg.Player.Sim.ReadyDelay,
		InPlace:    true,
	})
}

// openCatalogStore opens the configured SQLite catalog, or an in-memory one
func openCatalogStore(cfg *config.Config) (store.Store, error) {
	if cfg.Catalog.DB == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.Catalog.DB)
}

// loadCatalog resolves the practice items. A catalog file takes
// precedence; an empty database is seeded from the file or the built-in set.
func loadCatalog(cfg *config.Config, logger *logging.Logger) (models.Catalog, error) {
	seed := models.DefaultCatalog()
	if cfg.Catalog.File != "" {
		catalog, err := store.LoadCatalogFile(cfg.Catalog.File)
		if err != nil {
			return nil, err
		}
		if cfg.Catalog.DB == "" {
			return catalog, nil
		}
		seed = catalog
	}
	if cfg.Catalog.DB == "" {
		return seed, nil
	}

	s, err := store.NewSQLiteStore(cfg.Catalog.DB)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	catalog, err := store.Seed(s, seed)
	if err != nil {
		return nil, err
	}
	logger.Info("Catalog loaded from database", logging.Fields{"path": cfg.Catalog.DB, "items": len(catalog)})
	return catalog, nil
}

func newApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	catalog, err := loadCatalog(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	reg := prometheus.NewRegistry()
	rt := newRuntime(cfg, logger)
	loader := player.LoaderFor(rt, retry.DefaultConfig(), logger)
	mgr := player.New(loader, player.AttachedSurface{}, cfg.ManagerConfig(), logger, metrics.NewPlayerMetrics(reg))

	orch, err := session.New(mgr, catalog, cfg.OrchestratorConfig(), logger, metrics.NewSessionMetrics(reg))
	if err != nil {
		mgr.Close()
		return nil, err
	}
	orch.SetLevel(cfg.Level())

	logger.Info("Player wired", logging.Fields{"driver": rt.Name(), "items": len(catalog)})
	return &app{cfg: cfg, logger: logger, registry: reg, manager: mgr, session: orch}, nil
}

func (a *app) Close() error {
	a.session.Close()
	return a.manager.Close()
}
