// Package worker provides a generic priority worker pool for concurrent
// task dispatch. Work is drained in strict priority order: critical before
// high before medium before low.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/gpukit/metric"
	"github.com/c360/gpukit/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Pool is a generic priority worker pool processing work of type T.
// A fixed set of executor goroutines drains four priority queues; a higher
// priority queue is always emptied before a lower one is touched.
type Pool[T any] struct {
	// Configuration
	workers   int
	queueSize int
	processor func(context.Context, T) error

	// One queue per priority, indexed by types.Priority.
	queues [4]chan item[T]

	metrics *Metrics
	wg      *sync.WaitGroup

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	stopCh      chan struct{}

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// item wraps submitted work with an optional completion channel.
type item[T any] struct {
	work T
	done chan error
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     *prometheus.GaugeVec
	utilization    prometheus.Gauge
	submitted      *prometheus.CounterVec
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry configures the pool to register metrics with the registry
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a new priority worker pool with optional configuration
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4 // Default worker count
	}
	if queueSize <= 0 {
		queueSize = 256 // Default per-priority queue size
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
	}
	for i := range pool.queues {
		pool.queues[i] = make(chan item[T], queueSize)
	}

	// Apply options
	for _, opt := range opts {
		opt(pool)
	}

	// Initialize metrics if registry provided
	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

// initializeMetrics creates and registers metrics with the registry
func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix

	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Current worker pool queue depth per priority",
	}, []string{"priority"})
	utilization := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_utilization",
		Help: "Worker pool utilization (0-1)",
	})
	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "_submitted_total",
		Help: "Total work items submitted per priority",
	}, []string{"priority"})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_processed_total",
		Help: "Total work items processed",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total work items that failed processing",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_dropped_total",
		Help: "Total work items dropped due to full queue",
	})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_processing_duration_seconds",
		Help:    "Time spent processing work items",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"status"})

	serviceName := "worker_pool"
	p.metricsRegistry.RegisterGaugeVec(serviceName, prefix+"_queue_depth", queueDepth)
	p.metricsRegistry.RegisterGauge(serviceName, prefix+"_utilization", utilization)
	p.metricsRegistry.RegisterCounterVec(serviceName, prefix+"_submitted_total", submitted)
	p.metricsRegistry.RegisterCounter(serviceName, prefix+"_processed_total", processed)
	p.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", failed)
	p.metricsRegistry.RegisterCounter(serviceName, prefix+"_dropped_total", dropped)
	p.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", processingTime)

	p.metrics = &Metrics{
		queueDepth:     queueDepth,
		utilization:    utilization,
		submitted:      submitted,
		processed:      processed,
		failed:         failed,
		dropped:        dropped,
		processingTime: processingTime,
	}
}

// Submit enqueues work at the given priority. Returns ErrQueueFull when that
// priority's queue is full; work is never silently reordered to another queue.
func (p *Pool[T]) Submit(work T, priority types.Priority) error {
	return p.submit(item[T]{work: work}, priority)
}

// SubmitWait enqueues work and blocks until it has been processed or ctx is
// cancelled. Returns the processor's error.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T, priority types.Priority) error {
	done := make(chan error, 1)
	if err := p.submit(item[T]{work: work, done: done}, priority); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) submit(it item[T], priority types.Priority) error {
	if err := priority.Validate(); err != nil {
		return err
	}

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	// Try to submit work (non-blocking)
	select {
	case p.queues[priority] <- it:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.WithLabelValues(priority.String()).Inc()
			p.metrics.queueDepth.WithLabelValues(priority.String()).Set(float64(len(p.queues[priority])))
		}
		return nil
	default:
		// Queue is full - drop the work
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start starts the worker pool
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}
	p.stopCh = make(chan struct{})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	if p.metrics != nil {
		p.wg.Add(1)
		go p.metricsUpdater(ctx)
	}

	p.started = true
	return nil
}

// Stop stops the worker pool, waiting up to timeout for workers to finish
// in-flight and queued work. On timeout, or when the workers' context was
// cancelled before the queues emptied, leftover items are counted dropped
// and their waiters are released with ErrPoolStopped.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.stopCh)
	p.stopped = true

	done := make(chan struct{})
	go func() {
		if p.wg != nil {
			p.wg.Wait()
		}
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.dropRemaining()
		return nil
	case <-timer.C:
		// Timeout - workers may be stuck
		p.dropRemaining()
		return ErrStopTimeout
	}
}

// dropRemaining empties the queues after the workers are gone, accounting
// for every abandoned item and unblocking its waiter.
func (p *Pool[T]) dropRemaining() {
	for {
		it, ok := p.next()
		if !ok {
			return
		}
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		if it.done != nil {
			it.done <- ErrPoolStopped
		}
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	depths := [4]int{}
	for i := range p.queues {
		depths[i] = len(p.queues[i])
	}
	return PoolStats{
		Workers:     p.workers,
		QueueSize:   p.queueSize,
		QueueDepths: depths,
		Submitted:   atomic.LoadInt64(&p.submitted),
		Processed:   atomic.LoadInt64(&p.processed),
		Failed:      atomic.LoadInt64(&p.failed),
		Dropped:     atomic.LoadInt64(&p.dropped),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	QueueDepths [4]int `json:"queue_depths"`
	Submitted   int64  `json:"submitted"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
	Dropped     int64  `json:"dropped"`
}

// next returns the highest-priority pending item without blocking.
func (p *Pool[T]) next() (item[T], bool) {
	for pr := types.PriorityCritical; pr <= types.PriorityLow; pr++ {
		select {
		case it := <-p.queues[pr]:
			return it, true
		default:
		}
	}
	return item[T]{}, false
}

// worker drains queues in strict priority order. When all queues are empty
// it blocks on every queue at once; after a wakeup it re-checks from the top
// so a critical item enqueued during a low-priority burst jumps the line.
func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			p.drain(ctx)
			return
		default:
		}

		if it, ok := p.next(); ok {
			p.process(ctx, it)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			p.drain(ctx)
			return
		case it := <-p.queues[types.PriorityCritical]:
			p.process(ctx, it)
		case it := <-p.queues[types.PriorityHigh]:
			p.process(ctx, it)
		case it := <-p.queues[types.PriorityMedium]:
			p.process(ctx, it)
		case it := <-p.queues[types.PriorityLow]:
			p.process(ctx, it)
		}
	}
}

// drain processes everything still queued at stop time. Submit rejects new
// work once stopped, so the queues only shrink here.
func (p *Pool[T]) drain(ctx context.Context) {
	for {
		it, ok := p.next()
		if !ok {
			return
		}
		p.process(ctx, it)
	}
}

func (p *Pool[T]) process(ctx context.Context, it item[T]) {
	start := time.Now()
	err := p.processor(ctx, it.work)
	duration := time.Since(start)

	atomic.AddInt64(&p.processed, 1)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}

	if it.done != nil {
		it.done <- err
	}
}

// metricsUpdater periodically updates utilization and queue depth metrics
func (p *Pool[T]) metricsUpdater(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			total := 0
			for pr := types.PriorityCritical; pr <= types.PriorityLow; pr++ {
				depth := len(p.queues[pr])
				total += depth
				p.metrics.queueDepth.WithLabelValues(pr.String()).Set(float64(depth))
			}
			p.metrics.utilization.Set(float64(total) / float64(4*p.queueSize))
		}
	}
}
