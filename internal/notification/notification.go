package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/paymatch/internal/config"
	obsmetrics "github.com/smallbiznis/paymatch/internal/observability/metrics"
	"github.com/smallbiznis/paymatch/internal/providers/email"
	"go.uber.org/zap"
)

const (
	StatusQueued  = "queued"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"

	sendTimeout = 30 * time.Second
)

type Email struct {
	To        string
	Template  string
	Variables map[string]any
}

// Sink accepts notifications without blocking the caller.
type Sink interface {
	Enqueue(msg Email) bool
}

// Dispatcher delivers queued emails on a fixed pool of workers. When the
// queue is full new messages are dropped.
type Dispatcher struct {
	queue    chan Email
	provider email.Provider
	workers  int
	log      *zap.Logger
	metrics  *obsmetrics.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewDispatcher(cfg config.NotifyConfig, provider email.Provider, log *zap.Logger, metrics *obsmetrics.Metrics) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if provider == nil {
		provider = email.NewLogProvider(log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:    make(chan Email, size),
		provider: provider,
		workers:  workers,
		log:      log.Named("notification"),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue reports whether msg was accepted.
func (d *Dispatcher) Enqueue(msg Email) bool {
	if strings.TrimSpace(msg.To) == "" {
		d.log.Debug("notification skipped, no recipient", zap.String("template", msg.Template))
		d.metrics.RecordNotification(StatusDropped)
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.RecordNotification(StatusDropped)
		return false
	}

	select {
	case d.queue <- msg:
		d.metrics.RecordNotification(StatusQueued)
		return true
	default:
		d.log.Warn("notification queue full, dropping message", zap.String("template", msg.Template))
		d.metrics.RecordNotification(StatusDropped)
		return false
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Stop closes the queue and waits for workers to drain it, or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Email) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification delivery panicked", zap.Any("panic", r), zap.String("template", msg.Template))
			d.metrics.RecordNotification(StatusFailed)
		}
	}()

	ctx, cancel := context.WithTimeout(d.ctx, sendTimeout)
	defer cancel()

	if err := d.provider.SendTemplate(ctx, []string{msg.To}, msg.Template, msg.Variables); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("template", msg.Template),
			zap.Error(err),
		)
		d.metrics.RecordNotification(StatusFailed)
		return
	}
	d.metrics.RecordNotification(StatusSent)
}

var _ Sink = (*Dispatcher)(nil)
