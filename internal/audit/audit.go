// Package audit records security-relevant operations without blocking them.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/logging"
	"github.com/Fantasim/hdvault/internal/models"
)

// maxBatch bounds how many queued events are written per sink call.
const maxBatch = 64

// Sink persists audit events. store.DB implements it.
type Sink interface {
	AppendAuditEvents(ctx context.Context, events []models.AuditEvent) error
}

// Option customizes an event before it is queued.
type Option func(*models.AuditEvent)

// WithSeverity overrides the default info severity.
func WithSeverity(s models.Severity) Option {
	return func(ev *models.AuditEvent) { ev.Severity = s }
}

// WithReason sets the failure reason category.
func WithReason(reason string) Option {
	return func(ev *models.AuditEvent) { ev.Reason = reason }
}

// WithMetadata adds a non-sensitive key/value pair. Keys that name secret
// material are silently discarded.
func WithMetadata(key, value string) Option {
	return func(ev *models.AuditEvent) {
		if logging.IsSensitiveKey(key) {
			return
		}
		if ev.Metadata == nil {
			ev.Metadata = make(map[string]string)
		}
		ev.Metadata[key] = value
	}
}

// Stats are the audit log's delivery counters.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Pending int    `json:"pending"`
}

// Log queues events on a bounded buffer drained by one writer goroutine.
// When the buffer is full or the sink fails, events are dropped and a
// degraded-mode warning is logged; callers are never blocked.
type Log struct {
	sink Sink
	ch   chan models.AuditEvent
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	now func() time.Time
}

// New starts a Log writing to sink with a buffer of bufferSize events.
func New(sink Sink, bufferSize int) *Log {
	if bufferSize <= 0 {
		bufferSize = config.DefaultAuditBufferSize
	}

	l := &Log{
		sink: sink,
		ch:   make(chan models.AuditEvent, bufferSize),
		done: make(chan struct{}),
		now:  time.Now,
	}
	go l.run()

	slog.Info("audit log started", "bufferSize", bufferSize)
	return l
}

// Record queues an audit event. It never blocks and never fails the caller.
func (l *Log) Record(ctx context.Context, op models.Operation, walletID string, outcome models.Outcome, opts ...Option) {
	ev := models.AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Operation: op,
		WalletID:  walletID,
		Outcome:   outcome,
		Severity:  models.SeverityInfo,
	}
	for _, opt := range opts {
		opt(&ev)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.dropped.Add(1)
		slog.WarnContext(ctx, "audit log degraded: event recorded after close",
			"operation", op,
			"walletID", walletID,
		)
		return
	}

	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
		slog.WarnContext(ctx, "audit log degraded: buffer full, event dropped",
			"operation", op,
			"walletID", walletID,
			"dropped", l.dropped.Load(),
		)
	}
}

// Stats returns a snapshot of the delivery counters.
func (l *Log) Stats() Stats {
	return Stats{
		Written: l.written.Load(),
		Dropped: l.dropped.Load(),
		Failed:  l.failed.Load(),
		Pending: len(l.ch),
	}
}

// Close stops accepting events and waits for queued events to be written.
func (l *Log) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	<-l.done

	s := l.Stats()
	slog.Info("audit log closed", "written", s.Written, "dropped", s.Dropped, "failed", s.Failed)
}

func (l *Log) run() {
	defer close(l.done)

	batch := make([]models.AuditEvent, 0, maxBatch)
	for ev := range l.ch {
		batch = append(batch[:0], ev)
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-l.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		l.write(batch)
	}
}

func (l *Log) write(batch []models.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), config.AuditWriteTimeout)
	defer cancel()

	if err := l.sink.AppendAuditEvents(ctx, batch); err != nil {
		l.failed.Add(uint64(len(batch)))
		slog.Warn("audit log degraded: sink write failed, events dropped",
			"events", len(batch),
			"error", err,
		)
		return
	}
	l.written.Add(uint64(len(batch)))
	slog.Debug("audit events written", "count", len(batch))
}
