package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/c360/gpukit/budget"
	"github.com/c360/gpukit/config"
	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/metric"
	"github.com/c360/gpukit/pkg/cache"
	"github.com/c360/gpukit/pkg/worker"
	"github.com/c360/gpukit/shader"
	"github.com/c360/gpukit/telemetry"
	"github.com/c360/gpukit/texture"
	"github.com/c360/gpukit/transform"
	"github.com/c360/gpukit/types"
	"github.com/c360/gpukit/vector"
)

// Engine wires the resource subsystems into one explicitly constructed,
// dependency-injected instance. Nothing is global: each Engine owns its own
// budget tracker, pipeline manager, processors and caches, so tests can run
// several engines side by side.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *engineMetrics
	sink     *telemetry.BufferedSink

	tracker    *budget.Tracker
	shaders    *shader.Manager
	vectors    *vector.Processor
	textures   *texture.Service
	transforms *transform.Lib
	results    *cache.MultiTierCache[[][]float32]
	pool       *worker.Pool[batchJob]

	mu      sync.Mutex
	started bool
}

// eventRingCapacity bounds the recent-events ring exposed via Stats.
const eventRingCapacity = 256

// batchJob is one asynchronous batch submission.
type batchJob struct {
	vectors [][]float32
}

// Option configures the Engine.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
	natsConn  *nats.Conn
	redis     *redis.Client
	platforms []shader.Platform
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegistry sets the metrics registry. Without one the engine
// creates its own isolated registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithNATSConn routes telemetry through the given connection. The engine
// does not own the connection and will not close it.
func WithNATSConn(nc *nats.Conn) Option {
	return func(o *options) { o.natsConn = nc }
}

// WithRedisClient enables the cold result cache tier. The engine does not
// own the client and will not close it.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redis = client }
}

// WithPlatforms overrides the compute platforms, replacing the defaults
// derived from the configured budgets. Used by tests to inject fakes.
func WithPlatforms(platforms ...shader.Platform) Option {
	return func(o *options) { o.platforms = platforms }
}

// New builds an engine from the configuration. Every subsystem shares the
// one budget tracker so allocation pressure is visible across all of them.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "engine", "New",
			"config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = metric.NewMetricsRegistry()
	}

	metrics, err := newEngineMetrics(o.registry)
	if err != nil {
		o.logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	var next telemetry.Sink
	if o.natsConn != nil {
		source := cfg.NATS.Source
		if source == "" {
			source = "engine"
		}
		next = telemetry.NewNATSSink(o.natsConn, source, o.logger)
	} else {
		next = telemetry.NewSlogSink(o.logger)
	}
	// Recent events stay visible on /stats even when nothing consumes the
	// forwarded telemetry.
	sink, err := telemetry.NewBufferedSink(next, eventRingCapacity)
	if err != nil {
		return nil, err
	}

	tracker, err := budget.NewTracker(cfg.BudgetConfig(), budget.WithMetrics(o.registry))
	if err != nil {
		return nil, err
	}

	platforms := o.platforms
	if platforms == nil {
		platforms, err = defaultPlatforms(cfg)
		if err != nil {
			return nil, err
		}
	}

	core := o.registry.CoreMetrics()
	shaders, err := shader.NewManager(cfg.ShaderConfig(), tracker, platforms,
		shader.WithLogger(o.logger),
		shader.WithTelemetry(sink),
		shader.WithMetrics(core),
	)
	if err != nil {
		return nil, err
	}

	vectors, err := vector.NewProcessor(cfg.VectorConfig(), shaders, tracker,
		vector.WithLogger(o.logger),
		vector.WithTelemetry(sink),
		vector.WithMetrics(core),
	)
	if err != nil {
		return nil, err
	}

	textures, err := texture.NewService(cfg.TextureConfig(), tracker,
		texture.WithLogger(o.logger),
		texture.WithTelemetry(sink),
	)
	if err != nil {
		return nil, err
	}

	transforms, err := transform.NewLib(cfg.TransformConfig())
	if err != nil {
		return nil, err
	}

	var results *cache.MultiTierCache[[][]float32]
	if cfg.Cache.Enabled {
		cacheOpts := []cache.Option[[][]float32]{
			cache.WithMetrics[[][]float32](o.registry, "engine_results"),
			cache.WithSizer(batchSize),
		}
		if o.redis != nil {
			cold, err := cache.NewRedisTier(o.redis, "gpukit:results:", cfg.Redis.TTL,
				encodeBatch, decodeBatch)
			if err != nil {
				return nil, err
			}
			cacheOpts = append(cacheOpts, cache.WithColdTier[[][]float32](cold))
		}
		results, err = cache.New(cfg.CacheConfig(), cacheOpts...)
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{
		cfg:        cfg,
		logger:     o.logger,
		registry:   o.registry,
		metrics:    metrics,
		sink:       sink,
		tracker:    tracker,
		shaders:    shaders,
		vectors:    vectors,
		textures:   textures,
		transforms: transforms,
		results:    results,
	}
	e.pool = worker.NewPool(cfg.Pool.Workers, cfg.Pool.QueueSize, e.processJob,
		worker.WithMetricsRegistry[batchJob](o.registry, "engine_pool"))
	return e, nil
}

// defaultPlatforms builds one platform per budgeted backend. The CPU
// platform is always present as the fallback of last resort.
func defaultPlatforms(cfg *config.Config) ([]shader.Platform, error) {
	platforms := []shader.Platform{shader.NewCPUPlatform()}
	for name := range cfg.Budgets {
		backend := types.Backend(name)
		if backend == types.CPU {
			continue
		}
		p, err := shader.NewNagaPlatform(backend)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// Start starts the dispatch pool and compiles the configured pipeline so
// the first batch does not fail on a cold pipeline cache.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidConfig, "engine", "Start",
			"engine already started")
	}
	e.started = true
	e.mu.Unlock()

	start := time.Now()
	if err := e.pool.Start(ctx); err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return errors.Wrap(err, "engine", "Start", "start dispatch pool")
	}

	bundle := builtinBundle(e.cfg.Vector.PipelineName, e.cfg.PrimaryBackend())
	if _, err := e.shaders.Compile(ctx, bundle); err != nil {
		// A dead pipeline makes every batch fail, so surface it now.
		stopErr := e.pool.Stop(5 * time.Second)
		if stopErr != nil {
			e.logger.Warn("Dispatch pool stop failed during startup rollback", "error", stopErr)
		}
		return errors.Wrap(err, "engine", "Start",
			fmt.Sprintf("compile pipeline %s", e.cfg.Vector.PipelineName))
	}

	e.metrics.recordStart(time.Since(start).Seconds())
	e.sink.Emit(ctx, "engine.start", time.Since(start), true, map[string]any{
		"backend":  e.cfg.Backend,
		"pipeline": e.cfg.Vector.PipelineName,
	})
	e.logger.Info("Engine started",
		"backend", e.cfg.Backend,
		"pipeline", e.cfg.Vector.PipelineName,
		"workers", e.cfg.Pool.Workers)
	return nil
}

// Stop drains the dispatch pool, then releases every pipeline, resource and
// texture reservation. The engine cannot be restarted after Stop.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidConfig, "engine", "Stop",
			"engine not started")
	}
	e.mu.Unlock()

	start := time.Now()
	err := e.pool.Stop(timeout)
	if err != nil {
		e.logger.Warn("Dispatch pool did not drain cleanly", "error", err)
	}

	e.shaders.Shutdown()
	e.textures.Shutdown()
	e.transforms.Clear()
	if e.results != nil {
		e.results.Clear()
	}

	e.metrics.recordStop(time.Since(start).Seconds())
	e.sink.Emit(context.Background(), "engine.stop", time.Since(start), err == nil, nil)
	e.logger.Info("Engine stopped", "duration", time.Since(start))
	return err
}

// ProcessBatch runs one batch through the vector processor, consulting the
// result cache when enabled. Cached results are keyed by the exact input
// contents, so any change to any vector misses.
func (e *Engine) ProcessBatch(ctx context.Context, vectors [][]float32) ([][]float32, error) {
	if e.results == nil {
		return e.vectors.ProcessBatch(ctx, vectors)
	}

	key := batchKey(vectors)
	cached, tier, err := e.results.Get(ctx, key)
	if err != nil {
		e.logger.Warn("Result cache lookup failed", "error", err)
	} else if tier != cache.TierNone {
		e.metrics.recordCacheLookup(true)
		return cached, nil
	}
	e.metrics.recordCacheLookup(false)

	out, err := e.vectors.ProcessBatch(ctx, vectors)
	if err != nil {
		return nil, err
	}
	if err := e.results.PutSized(ctx, key, out, batchSize(out)); err != nil {
		e.logger.Warn("Result cache write failed", "error", err)
	}
	return out, nil
}

// SubmitBatch queues a batch for asynchronous processing at the given
// priority. Results land in the result cache when enabled; fire and forget
// otherwise.
func (e *Engine) SubmitBatch(vectors [][]float32, priority types.Priority) error {
	return e.pool.Submit(batchJob{vectors: vectors}, priority)
}

func (e *Engine) processJob(ctx context.Context, job batchJob) error {
	_, err := e.ProcessBatch(ctx, job.vectors)
	return err
}

// Shaders returns the pipeline manager.
func (e *Engine) Shaders() *shader.Manager { return e.shaders }

// Vectors returns the batch processor.
func (e *Engine) Vectors() *vector.Processor { return e.vectors }

// Textures returns the streaming service.
func (e *Engine) Textures() *texture.Service { return e.textures }

// Transforms returns the transform cache.
func (e *Engine) Transforms() *transform.Lib { return e.transforms }

// Tracker returns the shared budget tracker.
func (e *Engine) Tracker() *budget.Tracker { return e.tracker }

// Registry returns the metrics registry, for exposing the /metrics handler.
func (e *Engine) Registry() *metric.MetricsRegistry { return e.registry }

// Stats aggregates the per-subsystem statistics into one snapshot.
type Stats struct {
	Budgets    map[types.Backend]budget.PoolStats `json:"budgets"`
	Shaders    shader.Stats                       `json:"shaders"`
	Textures   texture.ServiceStats               `json:"textures"`
	Transforms transform.LibStats                 `json:"transforms"`
	Stability  vector.StabilitySnapshot           `json:"stability"`
	Pool       worker.PoolStats                   `json:"pool"`
	Results    *cache.Snapshot                    `json:"results,omitempty"`
	Events     []telemetry.Event                  `json:"recent_events"`
}

// Stats returns a point-in-time snapshot across all subsystems.
func (e *Engine) Stats() Stats {
	s := Stats{
		Budgets:    e.tracker.Stats(),
		Shaders:    e.shaders.GetStats(),
		Textures:   e.textures.GetStats(),
		Transforms: e.transforms.Stats(),
		Stability:  e.vectors.Stability(),
		Pool:       e.pool.Stats(),
	}
	if e.results != nil {
		snapshot := e.results.Stats()
		s.Results = &snapshot
	}
	s.Events = e.sink.Recent()
	return s
}

// RecentEvents returns the most recent telemetry events oldest-first.
func (e *Engine) RecentEvents() []telemetry.Event {
	return e.sink.Recent()
}

// batchKey hashes the batch contents into a cache key.
func batchKey(vectors [][]float32) string {
	h := fnv.New64a()
	var buf [4]byte
	for _, vec := range vectors {
		for _, v := range vec {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
		h.Write([]byte{0xff}) // vector boundary
	}
	return fmt.Sprintf("batch-%016x", h.Sum64())
}

// batchSize reports the payload bytes of a batch for warm tier accounting.
func batchSize(vectors [][]float32) int64 {
	var n int64
	for _, vec := range vectors {
		n += int64(len(vec)) * 4
	}
	return n
}

func encodeBatch(vectors [][]float32) ([]byte, error) {
	return json.Marshal(vectors)
}

func decodeBatch(data []byte) ([][]float32, error) {
	var vectors [][]float32
	err := json.Unmarshal(data, &vectors)
	return vectors, err
}
