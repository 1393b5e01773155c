package commands

import (
	"database/sql"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/db"
	"github.com/mantyx/mantyx/envs"
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/launcher"
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/lifecycle"
	"github.com/mantyx/mantyx/logger"
	"github.com/mantyx/mantyx/source"
	"github.com/mantyx/mantyx/supervisor"
	"github.com/mantyx/mantyx/trigger"
	"github.com/mantyx/mantyx/workload"
)

// orchestrator bundles the fully wired components a command needs.
type orchestrator struct {
	cfg        *config.Config
	db         *sql.DB
	workloads  *workload.Store
	schedules  *trigger.Store
	executions *ledger.Store
	supervisor *supervisor.Supervisor
	engine     *trigger.Engine
	controller *lifecycle.Controller
}

func (o *orchestrator) Close() {
	if o.db != nil {
		o.db.Close()
	}
}

// openDatabase opens and migrates the orchestrator database. An empty path
// falls back to the configured location.
func openDatabase(cfg *config.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.DatabasePath()
	}
	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}
	return database, nil
}

// buildOrchestrator loads config, opens the database and wires every
// component together.
func buildOrchestrator() (*orchestrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(cfg, "")
	if err != nil {
		return nil, err
	}

	workloads := workload.NewStore(database)
	schedules := trigger.NewStore(database)
	executions := ledger.NewStore(database)
	locks := workload.NewLocks()

	provider := envs.NewVenvProvider(cfg, logger.Named("envs"))
	launch := launcher.New(cfg, provider, logger.Named("launcher"))
	ingestor := source.NewIngestor(cfg, logger.Named("source"))

	sup := supervisor.New(cfg, workloads, executions, launch, locks, logger.Named("supervisor"))
	runner := trigger.NewRunner(workloads, executions, launch, logger.Named("trigger"))
	engine, err := trigger.NewEngine(cfg, schedules, runner, logger.Named("trigger"))
	if err != nil {
		database.Close()
		return nil, err
	}

	controller := lifecycle.NewController(cfg, workloads, schedules, executions,
		sup, engine, provider, ingestor, locks, logger.Named("lifecycle"))

	return &orchestrator{
		cfg:        cfg,
		db:         database,
		workloads:  workloads,
		schedules:  schedules,
		executions: executions,
		supervisor: sup,
		engine:     engine,
		controller: controller,
	}, nil
}

// resolveWorkload accepts either a workload name or a numeric id.
func (o *orchestrator) resolveWorkload(ref string) (*workload.Workload, error) {
	if w, err := o.workloads.GetByName(ref); err == nil {
		return w, nil
	}
	id, err := parseID(ref)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "workload %q", ref)
	}
	return o.workloads.GetByID(id)
}
