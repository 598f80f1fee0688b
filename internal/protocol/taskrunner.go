package protocol

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

// TaskRunner executes a pipeline of tasks sequentially against one trade.
// The first failing task aborts the pipeline; there is no rollback, the
// trade keeps whatever state the completed tasks committed. The failure
// handler is invoked with the failing task's name before the error is
// returned.
type TaskRunner struct {
	pm        *ProcessModel
	trade     *domain.Trade
	onFailure func(taskName string, err error)
}

func NewTaskRunner(
	pm *ProcessModel, trade *domain.Trade,
	onFailure func(taskName string, err error),
) *TaskRunner {
	return &TaskRunner{pm: pm, trade: trade, onFailure: onFailure}
}

func (r *TaskRunner) Run(ctx context.Context, tasks ...Task) error {
	for _, task := range tasks {
		log.Debugf("trade %s: running task %s", r.trade.Id, task.Name())

		if err := task.Run(ctx, r.pm, r.trade); err != nil {
			log.WithError(err).Errorf(
				"trade %s: task %s failed", r.trade.Id, task.Name(),
			)
			if r.onFailure != nil {
				r.onFailure(task.Name(), err)
			}
			return fmt.Errorf("task %s: %w", task.Name(), err)
		}
	}
	return nil
}
