package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	auditmsg "github.com/loyalty-reconciliation/internal/domain/audit"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/panjf2000/ants/v2"
)

// Publisher is what the export state machine depends on
type Publisher interface {
	Publish(msg auditmsg.Message)
}

type PublisherConfig struct {
	Size         int           // Number of audit workers
	QueueSize    int           // Records buffered ahead of the workers
	WriteTimeout time.Duration // Per-attempt sink timeout
	MaxAttempts  int
	RetryBackoff time.Duration
}

// AsyncPublisher buffers audit records in a bounded queue drained by a fixed set of
// ants workers. Publish never waits on the sink; a record that does not fit in the
// queue is dropped and raised as an alert.
type AsyncPublisher struct {
	sink    Sink
	pool    *ants.Pool
	queue   chan auditmsg.Message
	cfg     PublisherConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

var _ Publisher = (*AsyncPublisher)(nil)

func NewAsyncPublisher(sink Sink, cfg PublisherConfig, m *metrics.Metrics, logger *slog.Logger) (*AsyncPublisher, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	pool, err := ants.NewPool(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit worker pool: %w", err)
	}

	p := &AsyncPublisher{
		sink:    sink,
		pool:    pool,
		queue:   make(chan auditmsg.Message, cfg.QueueSize),
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "audit_publisher"),
	}

	for i := 0; i < cfg.Size; i++ {
		p.workers.Add(1)
		if err := pool.Submit(p.drain); err != nil {
			p.workers.Done()
			close(p.queue)
			p.workers.Wait()
			pool.Release()
			return nil, fmt.Errorf("failed to start audit worker: %w", err)
		}
	}
	return p, nil
}

// Publish queues msg and returns at once
func (p *AsyncPublisher) Publish(msg auditmsg.Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(&msg, "publisher closed")
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.drop(&msg, "audit queue full")
	}
}

func (p *AsyncPublisher) drop(msg *auditmsg.Message, reason string) {
	p.logger.Error("Audit record dropped",
		"alert", true,
		"reason", reason,
		"provider_slug", msg.ProviderSlug,
		"transaction_id", msg.TransactionID,
		"export_id", msg.ExportID,
		"outcome", msg.Outcome,
		"queue_capacity", cap(p.queue),
	)
	p.metrics.Inc(metrics.ProcessExporter, "", msg.ProviderSlug, "audit_dropped")
}

func (p *AsyncPublisher) drain() {
	defer p.workers.Done()
	for msg := range p.queue {
		p.write(&msg)
	}
}

func (p *AsyncPublisher) write(msg *auditmsg.Message) {
	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
		err = p.sink.Write(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		p.logger.Warn("Audit write failed",
			"provider_slug", msg.ProviderSlug,
			"transaction_id", msg.TransactionID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < p.cfg.MaxAttempts {
			time.Sleep(p.cfg.RetryBackoff)
		}
	}

	p.logger.Error("Audit record lost after retries",
		"alert", true,
		"provider_slug", msg.ProviderSlug,
		"transaction_id", msg.TransactionID,
		"export_id", msg.ExportID,
		"outcome", msg.Outcome,
		"retry_count", msg.RetryCount,
		"error", err,
	)
	p.metrics.Inc(metrics.ProcessExporter, "", msg.ProviderSlug, "audit_lost")
}

// Close stops accepting records, waits up to timeout for the queue to drain and
// releases the pool
func (p *AsyncPublisher) Close(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("Timed out waiting for audit records to flush", "queued", len(p.queue))
	}
	p.pool.Release()
}

// Queued returns the number of records waiting for a worker
func (p *AsyncPublisher) Queued() int {
	return len(p.queue)
}

// Running returns the number of running audit workers
func (p *AsyncPublisher) Running() int {
	return p.pool.Running()
}
