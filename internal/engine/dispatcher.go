package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/payments-engine/internal/metrics"
	"github.com/atmx/payments-engine/internal/model"
)

// DefaultQueueSize is the per-client channel capacity.
const DefaultQueueSize = 50

// RecordSource yields records in input order. Next returns io.EOF at end
// of stream. Errors classified by model.Reason (malformed rows, unknown
// types) describe one bad record: the Dispatcher reports it and keeps
// reading. Any other error means the stream itself is gone.
type RecordSource interface {
	Next() (model.Record, error)
}

// Handler is what a worker does with each record.
type Handler interface {
	Handle(ctx context.Context, rec model.Record)
}

// Dispatcher partitions a record stream by client and runs one
// sequential worker per client. A client's records reach the Handler in
// arrival order; different clients run concurrently.
type Dispatcher struct {
	handler   Handler
	queueSize int
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher feeding h. A queueSize <= 0 uses
// DefaultQueueSize.
func NewDispatcher(h Handler, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handler: h, queueSize: queueSize, logger: logger}
}

// Run drains src, then closes every client queue and waits for all
// workers to finish. It returns only after every routed record has been
// handled. Per-record read errors are logged and skipped; an unreadable
// stream stops routing and is returned once the workers have drained.
func (d *Dispatcher) Run(ctx context.Context, src RecordSource) error {
	var g errgroup.Group
	queues := make(map[uint16]chan model.Record)

	defer func() {
		for _, q := range queues {
			close(q)
		}
		g.Wait()
	}()

	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			reason := model.Reason(err)
			if reason == model.ReasonInternal {
				return fmt.Errorf("read records: %w", err)
			}
			metrics.RecordsDiscarded.WithLabelValues(reason).Inc()
			d.logger.Warn("record discarded", "reason", reason, "err", err)
			continue
		}

		q, ok := queues[rec.ClientID]
		if !ok {
			q = make(chan model.Record, d.queueSize)
			queues[rec.ClientID] = q
			g.Go(func() error {
				d.work(ctx, q)
				return nil
			})
		}
		q <- rec
	}

	return nil
}

// work consumes one client's queue until it is closed and drained.
func (d *Dispatcher) work(ctx context.Context, q <-chan model.Record) {
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	for rec := range q {
		d.handler.Handle(ctx, rec)
	}
}
