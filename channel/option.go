package channel

import (
	"github.com/joeycumines/netreactor/buffer"
	"github.com/joeycumines/netreactor/eventloop"
	"github.com/joeycumines/netreactor/internal/ratelimit"
)

// channelOptions holds configuration applied at Channel construction,
// following the same functional-options pattern as eventloop.LoopOption.
type channelOptions struct {
	allocator       *buffer.Allocator
	logger          eventloop.Logger
	lowWaterMark    int64
	highWaterMark   int64
	sizerInitial    int
	sizerMinimum    int
	sizerMaximum    int
	maxMessagesRead int
	closeUnfinished bool
	acceptLimiter   *ratelimit.AcceptLimiter
	initializer     func(*Channel)
}

// Option configures a Channel instance.
type Option interface {
	applyChannel(*channelOptions)
}

type channelOptionImpl struct {
	fn func(*channelOptions)
}

func (o *channelOptionImpl) applyChannel(opts *channelOptions) { o.fn(opts) }

// WithAllocator sets the pooled allocator used for inbound reads.
// Defaults to a fresh pooled allocator (allocator.type=pooled) if
// unset.
func WithAllocator(a *buffer.Allocator) Option {
	return &channelOptionImpl{func(opts *channelOptions) { opts.allocator = a }}
}

// WithWaterMarks sets the writability hysteresis pair: crossing high
// upward flips isWritable false; crossing low downward flips it back.
// Panics at construction if high <= low — this is a programmer error,
// not a runtime condition.
func WithWaterMarks(low, high int64) Option {
	return &channelOptionImpl{func(opts *channelOptions) {
		if high <= low {
			panic(ErrInvalidWaterMarks)
		}
		opts.lowWaterMark = low
		opts.highWaterMark = high
	}}
}

// WithReceiveBufferSizer sets the adaptive receive-buffer sizer's
// initial guess and clamp bounds.
func WithReceiveBufferSizer(initial, minimum, maximum int) Option {
	return &channelOptionImpl{func(opts *channelOptions) {
		opts.sizerInitial, opts.sizerMinimum, opts.sizerMaximum = initial, minimum, maximum
	}}
}

// WithMaxMessagesPerRead bounds how many channel-read events a single
// readable callback fires before yielding back to the loop, per the
// read loop's "bounded message count or byte budget" stop condition.
func WithMaxMessagesPerRead(n int) Option {
	return &channelOptionImpl{func(opts *channelOptions) { opts.maxMessagesRead = n }}
}

// WithCloseUnfinishedWritesOnClose configures whether Close discards
// unflushed writes immediately instead of draining the flushed prefix
// first.
func WithCloseUnfinishedWritesOnClose(v bool) Option {
	return &channelOptionImpl{func(opts *channelOptions) { opts.closeUnfinished = v }}
}

// WithAcceptLimiter attaches a sliding-window accept-rate limiter to a
// Listener, guarding the accept loop against a connection storm.
func WithAcceptLimiter(l *ratelimit.AcceptLimiter) Option {
	return &channelOptionImpl{func(opts *channelOptions) { opts.acceptLimiter = l }}
}

// WithInitializer registers fn to run against every channel this
// option set produces, immediately after construction and before it
// is bound to a loop — the single place to AddLast application
// handlers onto the pipeline, mirroring Netty's ChannelInitializer.
// A Listener applies it to each accepted channel; passed to
// NewChannel directly it applies once.
func WithInitializer(fn func(*Channel)) Option {
	return &channelOptionImpl{func(opts *channelOptions) { opts.initializer = fn }}
}

// WithLogger sets the Logger used for unhandled pipeline exceptions
// reaching the tail sentinel, reusing the same eventloop.Logger facade
// the owning Loop was built with rather than a second logging façade.
func WithLogger(l eventloop.Logger) Option {
	return &channelOptionImpl{func(opts *channelOptions) { opts.logger = l }}
}

const (
	defaultLowWaterMark    = 32 * 1024
	defaultHighWaterMark   = 64 * 1024
	defaultSizerInitial    = 2048
	defaultSizerMinimum    = 64
	defaultSizerMaximum    = 1 << 20
	defaultMaxMessagesRead = 16
)

func resolveChannelOptions(opts []Option) *channelOptions {
	cfg := &channelOptions{
		lowWaterMark:    defaultLowWaterMark,
		highWaterMark:   defaultHighWaterMark,
		sizerInitial:    defaultSizerInitial,
		sizerMinimum:    defaultSizerMinimum,
		sizerMaximum:    defaultSizerMaximum,
		maxMessagesRead: defaultMaxMessagesRead,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyChannel(cfg)
	}
	if cfg.allocator == nil {
		cfg.allocator = buffer.NewAllocator(buffer.AllocatorConfig{})
	}
	return cfg
}
