package protocol

import (
	"context"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

// Task is a single step of a trade pipeline. A task reads and mutates the
// process model and the trade, and returns a non-nil error to abort the
// pipeline. Tasks must be idempotent with respect to trade state: re-running
// a pipeline after a restart must not regress the trade.
type Task interface {
	Name() string
	Run(ctx context.Context, pm *ProcessModel, trade *domain.Trade) error
}
