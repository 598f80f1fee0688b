package application

import (
	"context"
	"errors"
	"sync"
)

const executorQueueMaxSize = 32

var errExecutorStopped = errors.New("trade executor stopped")

// tradeExecutor serializes every mutation of one trade onto a single
// goroutine. Message pipelines, user actions and watcher events all funnel
// through it, so tasks never observe a half-applied trade and the domain
// layer stays lock free.
type tradeExecutor struct {
	jobs     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newTradeExecutor() *tradeExecutor {
	e := &tradeExecutor{
		jobs: make(chan func(), executorQueueMaxSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *tradeExecutor) loop() {
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.quit:
			close(e.done)
			return
		}
	}
}

// do submits fn and waits for its result. It fails fast when the executor
// stopped or the context expired before the job completed; a job that
// already started still runs to completion.
func (e *tradeExecutor) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case e.jobs <- func() { res <- fn() }:
	case <-e.done:
		return errExecutorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-e.done:
		return errExecutorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop terminates the loop and waits for it to exit. Idempotent; queued
// jobs that did not start yet are dropped.
func (e *tradeExecutor) stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
	})
	<-e.done
}
