// Package lifecycle is the state-machine authority for workloads. Every
// transition a workload undergoes is validated and applied here, under a
// per-workload lock, before the supervisor or trigger engine is told to
// act.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/envs"
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/source"
	"github.com/mantyx/mantyx/supervisor"
	"github.com/mantyx/mantyx/trigger"
	"github.com/mantyx/mantyx/workload"
	"go.uber.org/zap"
)

type Controller struct {
	cfg        *config.Config
	workloads  *workload.Store
	schedules  *trigger.Store
	executions *ledger.Store
	supervisor *supervisor.Supervisor
	engine     *trigger.Engine
	envs       envs.Provider
	ingestor   *source.Ingestor
	locks      *workload.Locks
	log        *zap.SugaredLogger
}

func NewController(
	cfg *config.Config,
	workloads *workload.Store,
	schedules *trigger.Store,
	executions *ledger.Store,
	sup *supervisor.Supervisor,
	engine *trigger.Engine,
	provider envs.Provider,
	ingestor *source.Ingestor,
	locks *workload.Locks,
	log *zap.SugaredLogger,
) *Controller {
	return &Controller{
		cfg:        cfg,
		workloads:  workloads,
		schedules:  schedules,
		executions: executions,
		supervisor: sup,
		engine:     engine,
		envs:       provider,
		ingestor:   ingestor,
		locks:      locks,
		log:        log,
	}
}

// CreateSpec carries the caller-supplied attributes of a new workload.
type CreateSpec struct {
	Name        string
	DisplayName string
	Description string
	Kind        workload.Kind
	Args        string
	Environment map[string]string

	RestartPolicy        workload.RestartPolicy
	MaxRestarts          int
	RestartWindowSeconds int
}

func (spec *CreateSpec) normalize() error {
	if spec.Name == "" {
		return errors.Wrap(errors.ErrValidation, "workload name is required")
	}
	if spec.DisplayName == "" {
		spec.DisplayName = spec.Name
	}
	switch spec.Kind {
	case workload.KindContinuous, workload.KindScheduled:
	case "":
		spec.Kind = workload.KindContinuous
	default:
		return errors.Wrapf(errors.ErrValidation, "unknown kind %q", spec.Kind)
	}
	switch spec.RestartPolicy {
	case workload.RestartNever, workload.RestartAlways, workload.RestartOnFailure:
	case "":
		spec.RestartPolicy = workload.RestartNever
	default:
		return errors.Wrapf(errors.ErrValidation, "unknown restart policy %q", spec.RestartPolicy)
	}
	if spec.MaxRestarts < 0 || spec.RestartWindowSeconds < 0 {
		return errors.Wrap(errors.ErrValidation, "restart limits cannot be negative")
	}
	return nil
}

// CreateFromArchive ingests a local zip archive and registers the workload
// in the uploaded state.
func (c *Controller) CreateFromArchive(spec CreateSpec, archivePath string) (*workload.Workload, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}
	ingested, err := c.ingestor.FromArchive(spec.Name, archivePath)
	if err != nil {
		return nil, err
	}
	return c.register(spec, ingested)
}

// CreateFromGit clones a repository and registers the workload with its git
// provenance recorded.
func (c *Controller) CreateFromGit(ctx context.Context, spec CreateSpec, url, branch string) (*workload.Workload, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}
	ingested, err := c.ingestor.FromGit(ctx, spec.Name, url, branch)
	if err != nil {
		return nil, err
	}
	return c.register(spec, ingested)
}

// CreateFromURL downloads a remote archive and registers the workload.
func (c *Controller) CreateFromURL(ctx context.Context, spec CreateSpec, url string) (*workload.Workload, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}
	ingested, err := c.ingestor.FromURL(ctx, spec.Name, url)
	if err != nil {
		return nil, err
	}
	return c.register(spec, ingested)
}

func (c *Controller) register(spec CreateSpec, ingested *source.Ingested) (*workload.Workload, error) {
	w := &workload.Workload{
		Name:                 spec.Name,
		DisplayName:          spec.DisplayName,
		Description:          spec.Description,
		Kind:                 spec.Kind,
		State:                workload.StateUploaded,
		Version:              "1",
		Entrypoint:           ingested.Entrypoint,
		Args:                 spec.Args,
		Environment:          spec.Environment,
		RestartPolicy:        spec.RestartPolicy,
		MaxRestarts:          spec.MaxRestarts,
		RestartWindowSeconds: spec.RestartWindowSeconds,
		GitURL:               ingested.GitURL,
		GitBranch:            ingested.GitBranch,
		GitCommit:            ingested.GitCommit,
	}
	if err := c.workloads.Create(w); err != nil {
		// The tree was installed before the row; roll it back so a retry
		// starts clean.
		if rerr := c.ingestor.Remove(spec.Name); rerr != nil {
			c.log.Warnw("failed to remove orphaned source tree", "workload", spec.Name, "error", rerr)
		}
		return nil, err
	}
	c.log.Infow("created workload", "workload", w.Name, "kind", w.Kind, "id", w.ID)
	return w, nil
}

// Install provisions the dependency environment. Legal only from uploaded.
func (c *Controller) Install(ctx context.Context, id int64) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if w.State != workload.StateUploaded {
		return errors.InvalidTransitionf("install", string(w.State))
	}

	if err := c.provision(ctx, w.Name); err != nil {
		if merr := c.workloads.MarkFailed(id, err.Error()); merr != nil {
			c.log.Errorw("failed to record install failure", "workload", w.Name, "error", merr)
		}
		return err
	}
	if err := c.workloads.SetState(id, workload.StateInstalled); err != nil {
		return err
	}
	c.log.Infow("installed workload", "workload", w.Name)
	return nil
}

func (c *Controller) provision(ctx context.Context, name string) error {
	if err := c.envs.Create(ctx, name); err != nil {
		return err
	}
	manifest := fmt.Sprintf("%s/%s/requirements.txt", c.cfg.AppsDir(), name)
	return c.envs.InstallDependencies(ctx, name, manifest)
}

// Enable makes the workload active. Continuous workloads are started
// immediately; scheduled workloads get their triggers armed.
func (c *Controller) Enable(id int64) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if !w.CanEnable() {
		return errors.InvalidTransitionf("enable", string(w.State))
	}

	if err := c.workloads.SetState(id, workload.StateEnabled); err != nil {
		return err
	}
	w.State = workload.StateEnabled

	switch w.Kind {
	case workload.KindContinuous:
		if err := c.supervisor.Start(w); err != nil {
			return err
		}
	case workload.KindScheduled:
		if err := c.engine.ArmWorkload(id); err != nil {
			return err
		}
	}
	c.log.Infow("enabled workload", "workload", w.Name)
	return nil
}

// Disable deactivates the workload, stopping it first when running and
// disarming its triggers.
func (c *Controller) Disable(id int64) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if w.State == workload.StateRunning {
		if err := c.supervisor.Stop(w); err != nil {
			return err
		}
	} else if !w.CanDisable() {
		return errors.InvalidTransitionf("disable", string(w.State))
	}

	c.engine.DisarmWorkload(id)
	if err := c.workloads.SetState(id, workload.StateDisabled); err != nil {
		return err
	}
	c.log.Infow("disabled workload", "workload", w.Name)
	return nil
}

// Start runs a continuous workload under the supervisor.
func (c *Controller) Start(id int64) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if !w.CanStart() {
		return errors.InvalidTransitionf("start", string(w.State))
	}
	return c.supervisor.Start(w)
}

// Stop terminates a running continuous workload.
func (c *Controller) Stop(id int64) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if !w.CanStop() {
		return errors.InvalidTransitionf("stop", string(w.State))
	}
	return c.supervisor.Stop(w)
}

// Restart stops then starts a continuous workload, bumping its restart
// counter.
func (c *Controller) Restart(id int64) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if w.Kind != workload.KindContinuous {
		return errors.Wrapf(errors.ErrValidation, "workload %s is not continuous", w.Name)
	}
	if !w.CanStop() && !w.CanStart() {
		return errors.InvalidTransitionf("restart", string(w.State))
	}
	return c.supervisor.Restart(w)
}

// RunNow dispatches an immediate execution of a scheduled workload outside
// its schedule.
func (c *Controller) RunNow(id int64) (string, error) {
	return c.engine.RunNow(id)
}
