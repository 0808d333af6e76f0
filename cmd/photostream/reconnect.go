package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/photostream/internal/retry"
	"github.com/user/photostream/pkg/photostream"
)

type linkEvent struct {
	up  bool
	err error
}

// reconnector reconnects the channel after it drops, backing off between
// attempts. A clean disconnect is not retried.
type reconnector struct {
	connect func() error
	policy  *retry.Policy
	logger  *slog.Logger
	events  chan linkEvent
}

func newReconnector(connect func() error, policy *retry.Policy, logger *slog.Logger) *reconnector {
	return &reconnector{
		connect: connect,
		policy:  policy,
		logger:  logger,
		events:  make(chan linkEvent, 8),
	}
}

func (r *reconnector) notify(ev linkEvent) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("reconnect queue full, dropping link event")
	}
}

// Listener reports link changes to the reconnector.
func (r *reconnector) Listener() photostream.Listener {
	return photostream.ListenerFuncs{
		Connect:    func() { r.notify(linkEvent{up: true}) },
		Disconnect: func(err error) { r.notify(linkEvent{err: err}) },
	}
}

// Run handles link events until ctx ends. It returns an error once
// MaxAttempts consecutive reconnects have failed; a MaxAttempts of zero
// retries forever.
func (r *reconnector) Run(ctx context.Context) error {
	attempt := 0
	for {
		var ev linkEvent
		select {
		case <-ctx.Done():
			return nil
		case ev = <-r.events:
		}
		if ev.up {
			attempt = 0
			continue
		}
		if ev.err == nil {
			continue
		}

		attempt++
		if r.policy.MaxAttempts > 0 && attempt > r.policy.MaxAttempts {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", attempt-1, ev.err)
		}
		delay := r.policy.NextDelay(attempt)
		r.logger.Warn("connection lost, reconnecting", "error", ev.err, "attempt", attempt, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		if err := r.connect(); err != nil {
			// A failed dial produces no disconnect callback.
			r.notify(linkEvent{err: err})
		}
	}
}
