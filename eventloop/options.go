// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import "time"

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	ioRatio        int
	metricsEnabled bool
	logger         Logger
	onOverload     func(error)
}

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithIORatio sets the percentage of each tick's measured I/O time that is
// subsequently budgeted to non-I/O task processing, per the configurable
// time-share policy: ratio=100 drains the task queues fully every tick;
// lower values bias the loop toward I/O responsiveness. Must be in [1,100].
func WithIORatio(ratio int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if ratio < 1 || ratio > 100 {
			return ErrInvalidIORatio
		}
		opts.ioRatio = ratio
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithLogger sets the structured logger used for task/handler panics and
// poll errors. Defaults to a [NoOpLogger].
func WithLogger(logger Logger) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithOnOverload registers a callback invoked when the per-tick task budget
// is exhausted while tasks remain queued.
func WithOnOverload(fn func(error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.onOverload = fn
		return nil
	}}
}

// defaultIORatio is the default percentage of each tick budgeted to I/O
// polling versus task processing.
const defaultIORatio = 50

// defaultPollTimeout caps how long a tick blocks in the poller when no
// scheduled task is pending.
const defaultPollTimeout = 10 * time.Second

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		ioRatio: defaultIORatio,
		logger:  NewNoOpLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
