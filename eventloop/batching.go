package eventloop

import (
	"context"
	"time"

	"github.com/joeycumines/netreactor/internal/batch"
)

// NewSubmitBatcher returns a batch.Batcher that accumulates Task values
// from potentially many goroutines and periodically flushes them into
// loop via a single SubmitBatch call, per maxSize/flushInterval. Callers
// use Batcher.Submit in place of Loop.Submit when they expect many
// concurrent, low-latency-tolerant submitters (e.g. an accept loop
// handing connections to a fixed-size group).
func NewSubmitBatcher(loop *Loop, maxSize int, flushInterval time.Duration) *batch.Batcher[Task] {
	return batch.NewBatcher[Task](batch.Config{
		MaxSize:       maxSize,
		FlushInterval: flushInterval,
	}, func(ctx context.Context, tasks []Task) error {
		return loop.SubmitBatch(tasks)
	})
}
