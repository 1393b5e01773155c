package lifecycle

import (
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/workload"
)

// Status is the read-model the API layer serves for one workload.
type Status struct {
	Workload *workload.Workload

	IsRunning  bool
	CanStart   bool
	CanStop    bool
	CanEnable  bool
	CanDisable bool

	ActiveExecution *ledger.Execution
}

// Status computes the workload's current capabilities from its state.
func (c *Controller) Status(id int64) (*Status, error) {
	w, err := c.workloads.GetByID(id)
	if err != nil {
		return nil, err
	}
	active, err := c.executions.FindRunning(id)
	if err != nil {
		return nil, err
	}
	return &Status{
		Workload:        w,
		IsRunning:       w.IsRunning(),
		CanStart:        w.CanStart(),
		CanStop:         w.CanStop(),
		CanEnable:       w.CanEnable(),
		CanDisable:      w.CanDisable(),
		ActiveExecution: active,
	}, nil
}

// Get returns one workload by id.
func (c *Controller) Get(id int64) (*workload.Workload, error) {
	return c.workloads.GetByID(id)
}

// GetByName returns one workload by its unique name.
func (c *Controller) GetByName(name string) (*workload.Workload, error) {
	return c.workloads.GetByName(name)
}

// List returns all workloads.
func (c *Controller) List(includeDeleted bool) ([]*workload.Workload, error) {
	return c.workloads.List(includeDeleted)
}

// Executions returns the workload's run history, newest first.
func (c *Controller) Executions(id int64, limit, offset int) ([]*ledger.Execution, error) {
	return c.executions.ListByWorkload(id, limit, offset)
}
