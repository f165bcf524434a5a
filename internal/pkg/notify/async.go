// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/elastic/ci-orchestrator/pkg/core/logger"
)

// DefaultTimeout bounds a single asynchronous notification.
const DefaultTimeout = time.Minute

// Async posts statuses in the background. Failures are logged and never
// returned, a notification must not fail the build.
type Async struct {
	log     *logger.Logger
	next    Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next.
func NewAsync(log *logger.Logger, next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Async{log: log, next: next, timeout: timeout}
}

// Notify starts posting status and returns immediately. The notification
// outlives the cancellation of ctx, up to the timeout.
func (a *Async) Notify(ctx context.Context, status Status) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, status); err != nil {
			a.log.Warnw("Failed to post commit status",
				"status.context", status.Context,
				"status.state", status.State,
				"error.message", err.Error())
		}
	}()
	return nil
}

// Wait blocks until the pending notifications are done or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
