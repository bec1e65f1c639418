package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"corvid/internal/analytics"
	"corvid/internal/binarylocator"
	"corvid/internal/checkpoint"
	"corvid/internal/config"
	"corvid/internal/contentstore"
	"corvid/internal/ids"
	"corvid/internal/logging"
	"corvid/internal/mcpfrontend"
	"corvid/internal/metrics"
	"corvid/internal/registry"
	"corvid/internal/store"
	"corvid/internal/streamengine"
	"corvid/internal/supervisor"
)

// Container wires every component of the runtime from a single Config, the
// same explicit-construction-over-globals discipline the teacher's DI
// container applies to its agent/app wiring.
type Container struct {
	Config     config.Config
	Log        logging.Logger
	Events     analytics.Client
	Metrics    *metrics.Registry
	Locator    *binarylocator.Locator
	Registry   *registry.Registry
	Store      *contentstore.Store
	Checkpoint *checkpoint.Manager
	Supervisor *supervisor.Supervisor
	Frontend   *mcpfrontend.Frontend

	registryDB *store.DB
	metaDB     *store.DB
}

func layoutPaths(stateRoot string) (registryDB, metaDB, blobRoot string) {
	return filepath.Join(stateRoot, "registry", "processes.db"),
		filepath.Join(stateRoot, "checkpoints", "meta.db"),
		filepath.Join(stateRoot, "content-store")
}

// buildContainer loads cfg's on-disk layout, opens the two buntdb stores,
// and constructs every component in dependency order: store -> registry ->
// binarylocator -> contentstore -> checkpoint -> supervisor -> frontend.
func buildContainer(cfg config.Config) (*Container, error) {
	if problems := config.Validate(cfg); len(problems) > 0 {
		return nil, &ExitCodeError{Code: exitConfigError, Err: &configError{problems: problems}}
	}

	for _, dir := range []string{
		filepath.Join(cfg.StateRoot, "registry"),
		filepath.Join(cfg.StateRoot, "checkpoints"),
		filepath.Join(cfg.StateRoot, "content-store"),
		filepath.Join(cfg.StateRoot, "logs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ExitCodeError{Code: exitConfigError, Err: err}
		}
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	events, err := analytics.NewPostHogClient(cfg.PostHogAPIKey, cfg.PostHogHost)
	if err != nil {
		log.Warn("analytics client unavailable, falling back to no-op: %v", err)
		events = analytics.Nop()
	}
	mreg := metrics.New()

	registryDBPath, metaDBPath, blobRoot := layoutPaths(cfg.StateRoot)

	regDB, err := store.Open(registryDBPath)
	if err != nil {
		return nil, &ExitCodeError{Code: exitConfigError, Err: err}
	}
	metaDB, err := store.Open(metaDBPath)
	if err != nil {
		_ = regDB.Close()
		return nil, &ExitCodeError{Code: exitConfigError, Err: err}
	}

	reg := registry.New(regDB, registry.Config{GlobalMaxSessions: cfg.MaxConcurrentSessions}, events, log, mreg)

	loc := binarylocator.New(binarylocator.Config{
		ExecutableName: "claude",
		Override:       cfg.LocatorOverride,
		TTL:            cfg.LocatorTTL,
		VersionArg:     "--version",
		MinVersion:     cfg.MinVersion,
	}, reg, nil, events, log)

	cs, err := contentstore.Open(contentstore.Config{
		Root:            blobRoot,
		ZstdLevel:       cfg.ZstdLevel,
		MaxBytes:        cfg.DiskQuotaBytes,
		TempGracePeriod: 1 * time.Hour,
	}, metaDB, mreg)
	if err != nil {
		_ = regDB.Close()
		_ = metaDB.Close()
		return nil, &ExitCodeError{Code: exitConfigError, Err: err}
	}

	cm := checkpoint.New(cs, metaDB, checkpoint.Config{IgnoreList: cfg.IgnoreList}, events, log, mreg)

	sv := supervisor.New(supervisor.Config{
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		SessionDeadline:       cfg.SessionDeadline,
		IdleTimeout:           cfg.IdleTimeout,
		KillGrace:             cfg.KillGrace,
		ZombieTimeout:         cfg.ZombieTimeout,
		QueueCapacity:         cfg.QueueCapacity,
		StreamEngine: streamengine.Config{
			MaxLineBytes:       cfg.MaxLineLength,
			OutputChannelDepth: cfg.QueueCapacity,
			StderrRingBytes:    cfg.StderrRingBufferBytes,
		},
	}, supervisor.Deps{
		Locator:      loc,
		Registry:     reg,
		Events:       events,
		Log:          log,
		Metrics:      mreg,
		NewSessionID: ids.NewSessionID,
		ArgvHash:     argvHash,
	})

	fe := mcpfrontend.New(sv, cm, loc, reg, cfg, log)

	return &Container{
		Config:     cfg,
		Log:        log,
		Events:     events,
		Metrics:    mreg,
		Locator:    loc,
		Registry:   reg,
		Store:      cs,
		Checkpoint: cm,
		Supervisor: sv,
		Frontend:   fe,
		registryDB: regDB,
		metaDB:     metaDB,
	}, nil
}

// Close releases the container's durable storage handles. Call after drainSessions.
func (c *Container) Close() error {
	err1 := c.registryDB.Close()
	err2 := c.metaDB.Close()
	err3 := c.Events.Close()
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return err3
}

// Reconcile walks the Process Registry's non-terminal records against the
// live OS process table, the startup step spec §4.4 requires before the
// server accepts new sessions.
func (c *Container) Reconcile(ctx context.Context) error {
	orphaned, err := c.Registry.Reconcile(ctx)
	if err != nil {
		return err
	}
	if len(orphaned) > 0 {
		c.Log.Warn("reconcile orphaned %d stale process record(s) from a previous run", len(orphaned))
	}
	return nil
}

type configError struct {
	problems []string
}

func (e *configError) Error() string {
	msg := "invalid configuration:"
	for _, p := range e.problems {
		msg += " " + p + ";"
	}
	return msg
}

