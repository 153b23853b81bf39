package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/devrev/sharedcounter/internal/algorithm"
	"github.com/devrev/sharedcounter/internal/config"
	"github.com/devrev/sharedcounter/internal/errors"
	"github.com/devrev/sharedcounter/internal/metrics"
	"github.com/devrev/sharedcounter/internal/model"
	"github.com/devrev/sharedcounter/internal/store"
	"github.com/devrev/sharedcounter/internal/util/workerpool"
)

const maxCounterNameLength = 255

// Config tunes the counter service
type Config struct {
	BatchLimit             int
	QueueSize              int
	FlushInterval          time.Duration
	FlushWorkers           int
	FlushWorkerQueueSize   int
	ReadCacheClearInterval time.Duration
	ReadCacheMaxSize       int
	StopTimeout            time.Duration
	Location               *time.Location
}

// NewConfig converts the counter section of the service configuration
func NewConfig(c config.CounterConfig) (Config, error) {
	loc, err := c.Location()
	if err != nil {
		return Config{}, err
	}
	return Config{
		BatchLimit:             c.BatchLimit,
		QueueSize:              c.QueueSize,
		FlushInterval:          c.FlushInterval,
		FlushWorkers:           c.FlushWorkers,
		FlushWorkerQueueSize:   c.FlushWorkerQueueSize,
		ReadCacheClearInterval: c.ReadCacheClearInterval,
		ReadCacheMaxSize:       c.ReadCacheMaxSize,
		StopTimeout:            c.StopTimeout,
		Location:               loc,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.BatchLimit <= 0 {
		c.BatchLimit = 4096
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.FlushWorkers <= 0 {
		c.FlushWorkers = 16
	}
	if c.FlushWorkerQueueSize <= 0 {
		c.FlushWorkerQueueSize = 4096
	}
	if c.ReadCacheClearInterval <= 0 {
		c.ReadCacheClearInterval = time.Minute
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// CounterService is the entry point for counter operations. It owns the
// per-counter work queues, the read cache and the flush workers.
type CounterService struct {
	store   store.CounterStore
	cfg     Config
	quota   *algorithm.QuotaEvaluator
	cache   *readCache
	clock   quartz.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	queues      sync.Map // counter name -> *workQueue
	ensureGroup singleflight.Group

	pool    *workerpool.WorkerPool
	cancel  context.CancelFunc
	waiters []quartz.Waiter

	lifecycleMu sync.Mutex
	started     bool

	stopMu  sync.RWMutex
	stopped bool
}

// NewCounterService creates a new counter service
func NewCounterService(
	counterStore store.CounterStore,
	cfg Config,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CounterService {
	cfg.applyDefaults()
	return &CounterService{
		store:   counterStore,
		cfg:     cfg,
		quota:   algorithm.NewQuotaEvaluator(cfg.Location),
		cache:   newReadCache(counterStore, cfg.ReadCacheMaxSize, m),
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Start launches the flush workers and the periodic flush and cache-clear tickers
func (s *CounterService) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.pool = workerpool.NewWorkerPool(workerpool.Config{
		Name:       "counter-flush",
		MaxWorkers: s.cfg.FlushWorkers,
		QueueSize:  s.cfg.FlushWorkerQueueSize,
		Logger:     s.logger,
	})

	ctx, s.cancel = context.WithCancel(ctx)
	s.waiters = append(s.waiters,
		s.clock.TickerFunc(ctx, s.cfg.FlushInterval, func() error {
			s.scheduleFlushes()
			return nil
		}, "counter", "flush"),
		s.clock.TickerFunc(ctx, s.cfg.ReadCacheClearInterval, func() error {
			s.cache.clear()
			return nil
		}, "counter", "cache-clear"),
	)

	s.logger.Info("Counter service started",
		zap.Duration("flush_interval", s.cfg.FlushInterval),
		zap.Duration("read_cache_clear_interval", s.cfg.ReadCacheClearInterval),
		zap.Int("batch_limit", s.cfg.BatchLimit),
		zap.Int("flush_workers", s.cfg.FlushWorkers))
}

// Stop rejects new asynchronous work, stops the tickers and workers, and
// drains every work queue into the store one last time
func (s *CounterService) Stop(ctx context.Context) error {
	s.stopMu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	s.stopMu.Unlock()
	if alreadyStopped {
		return nil
	}

	s.lifecycleMu.Lock()
	if s.started {
		s.cancel()
		for _, w := range s.waiters {
			_ = w.Wait()
		}
		if err := s.pool.Stop(s.cfg.StopTimeout); err != nil {
			s.logger.Warn("Flush workers did not stop in time", zap.Error(err))
		}
		stats := s.pool.Stats()
		s.logger.Info("Flush workers stopped",
			zap.Uint64("completed", stats.CompletedTasks),
			zap.Uint64("failed", stats.FailedTasks),
			zap.Uint64("rejected", stats.RejectedTasks))
	}
	s.lifecycleMu.Unlock()

	err := s.Flush(ctx)
	if err != nil {
		s.logger.Error("Final flush failed", zap.Error(err))
	}
	s.logger.Info("Counter service stopped", zap.Int("pending", s.pendingTotal()))
	return err
}

// Now returns the service clock's current time
func (s *CounterService) Now() time.Time {
	return s.clock.Now()
}

// EnsureExists makes sure the counter has a durable row and a work queue.
// Safe to call concurrently; a row created by someone else counts as success.
func (s *CounterService) EnsureExists(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, ok := s.queues.Load(name); ok {
		return nil
	}

	_, err, _ := s.ensureGroup.Do(name, func() (interface{}, error) {
		if _, ok := s.queues.Load(name); ok {
			return nil, nil
		}

		exists, err := s.store.Exists(ctx, name)
		if err != nil {
			return nil, errors.PersistenceFailed("failed to check counter existence", err)
		}

		if !exists {
			if err := s.store.Create(ctx, name); err != nil {
				// Another process may have won the race
				nowExists, existsErr := s.store.Exists(ctx, name)
				if existsErr != nil || !nowExists {
					s.metrics.RecordError("create")
					return nil, errors.PersistenceFailed("failed to create counter", err)
				}
				s.logger.Debug("Counter created concurrently",
					zap.String("counter", name),
					zap.Error(err))
			} else {
				s.metrics.CountersCreated.Inc()
				s.logger.Info("Counter created", zap.String("counter", name))
			}
		}

		if _, loaded := s.queues.LoadOrStore(name, newWorkQueue(name, s.cfg.QueueSize)); !loaded {
			s.metrics.CountersActive.Inc()
		}
		return nil, nil
	})
	return err
}

func (s *CounterService) workQueue(name string) (*workQueue, bool) {
	v, ok := s.queues.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*workQueue), true
}

// Pending returns the number of increments queued for name
func (s *CounterService) Pending(name string) int {
	q, ok := s.workQueue(name)
	if !ok {
		return 0
	}
	return q.len()
}

// Query returns the durable state of a counter, or nil when it was never created
func (s *CounterService) Query(ctx context.Context, name string) (*model.CounterInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	rec, err := s.store.Load(ctx, name)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.PersistenceFailed("failed to query counter", err)
	}
	return rec.Info(), nil
}

// Get ensures the counter exists and returns its durable state
func (s *CounterService) Get(ctx context.Context, name string) (*model.CounterInfo, error) {
	if err := s.EnsureExists(ctx, name); err != nil {
		return nil, err
	}
	rec, err := s.store.Load(ctx, name)
	if err != nil {
		return nil, s.loadError(name, err)
	}
	return rec.Info(), nil
}

// GetValue returns one field, from the read cache unless opts.ReadSync is set
func (s *CounterService) GetValue(ctx context.Context, name string, field model.FieldOfInterest, opts Options) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	if !field.Valid() {
		return 0, errors.InvalidField(field.String(), model.ErrInvalidField)
	}
	if opts.ReadSync {
		return s.loadValue(ctx, name, field)
	}

	entry, err := s.cache.entry(ctx, name)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return 0, errors.NotFound(name)
		}
		return 0, s.loadError(name, err)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec.Field(field), nil
}

// Update applies delta without reporting a value
func (s *CounterService) Update(ctx context.Context, name string, field model.FieldOfInterest, timestamp time.Time, delta int64, opts Options) error {
	_, err := s.UpdateAndGet(ctx, name, field, timestamp, delta, opts)
	return err
}

// UpdateAndGet applies delta and returns the resulting field value. On the
// asynchronous path the value comes from the rolled-forward snapshot.
func (s *CounterService) UpdateAndGet(ctx context.Context, name string, field model.FieldOfInterest, timestamp time.Time, delta int64, opts Options) (int64, error) {
	if err := s.prepare(ctx, name, field); err != nil {
		return 0, err
	}
	ts := timestamp.UnixMilli()
	if opts.WriteSync {
		return s.incrementAndReturnValue(ctx, name, ts, field, delta)
	}
	res, err := s.asyncIncrement(ctx, name, ts, field, model.NoLimit, delta, opts.ReadSync)
	if err != nil {
		return 0, err
	}
	return res.After, nil
}

// GetAndUpdate returns the field value seen before applying delta
func (s *CounterService) GetAndUpdate(ctx context.Context, name string, field model.FieldOfInterest, timestamp time.Time, delta int64, opts Options) (int64, error) {
	if err := s.prepare(ctx, name, field); err != nil {
		return 0, err
	}
	previous, err := s.GetValue(ctx, name, field, opts)
	if err != nil {
		return 0, err
	}
	if err := s.Update(ctx, name, field, timestamp, delta, opts); err != nil {
		return 0, err
	}
	return previous, nil
}

// UpdateWithinLimit applies delta unless the field would exceed limit
func (s *CounterService) UpdateWithinLimit(ctx context.Context, name string, field model.FieldOfInterest, timestamp time.Time, delta, limit int64, opts Options) (Result, error) {
	return s.UpdateAndGetWithinLimit(ctx, name, field, timestamp, delta, limit, opts)
}

// UpdateAndGetWithinLimit applies delta unless the field would exceed limit
// and returns the resulting value. The asynchronous path checks the limit
// against the snapshot only; the flush re-checks it against the store.
func (s *CounterService) UpdateAndGetWithinLimit(ctx context.Context, name string, field model.FieldOfInterest, timestamp time.Time, delta, limit int64, opts Options) (Result, error) {
	if err := s.prepare(ctx, name, field); err != nil {
		return Result{}, err
	}
	ts := timestamp.UnixMilli()
	if opts.WriteSync {
		return s.incrementWithinLimit(ctx, name, ts, field, limit, delta)
	}
	res, err := s.asyncIncrement(ctx, name, ts, field, limit, delta, opts.ReadSync)
	if err != nil || res.Exceeded {
		return res.Result, err
	}
	return Result{Value: res.After}, nil
}

// GetAndUpdateWithinLimit returns the field value seen before applying delta,
// or Exceeded without applying anything
func (s *CounterService) GetAndUpdateWithinLimit(ctx context.Context, name string, field model.FieldOfInterest, timestamp time.Time, delta, limit int64, opts Options) (Result, error) {
	if err := s.prepare(ctx, name, field); err != nil {
		return Result{}, err
	}
	previous, err := s.GetValue(ctx, name, field, opts)
	if err != nil {
		return Result{}, err
	}
	res, err := s.UpdateAndGetWithinLimit(ctx, name, field, timestamp, delta, limit, opts)
	if err != nil || res.Exceeded {
		return res, err
	}
	return Result{Value: previous}, nil
}

// Decrement subtracts delta from every granularity of the counter, undoing an
// earlier increment
func (s *CounterService) Decrement(ctx context.Context, name string, timestamp time.Time, delta int64, opts Options) error {
	if err := s.EnsureExists(ctx, name); err != nil {
		return err
	}
	if opts.WriteSync {
		return s.decrementSync(ctx, name, delta)
	}
	return s.asyncDecrement(ctx, name, timestamp.UnixMilli(), delta)
}

// Reset zeroes every granularity and stamps the counter with the current
// time. A counter that does not exist is left alone.
func (s *CounterService) Reset(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	now := s.clock.Now().UnixMilli()
	var snapshot *model.CounterRecord
	err := s.store.UpdateLocked(ctx, name, func(rec *model.CounterRecord) (bool, error) {
		rec.Zero(now)
		snapshot = rec.Clone()
		return true, nil
	})
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			s.logger.Debug("Reset of unknown counter ignored", zap.String("counter", name))
			return nil
		}
		s.metrics.RecordError("reset")
		return errors.PersistenceFailed("failed to reset counter", err)
	}

	s.cache.put(snapshot)
	s.logger.Info("Counter reset", zap.String("counter", name))
	return nil
}

func (s *CounterService) prepare(ctx context.Context, name string, field model.FieldOfInterest) error {
	if !field.Valid() {
		return errors.InvalidField(field.String(), model.ErrInvalidField)
	}
	return s.EnsureExists(ctx, name)
}

func validateName(name string) error {
	if name == "" {
		return errors.InvalidName(name, "must not be empty")
	}
	if len(name) > maxCounterNameLength {
		return errors.InvalidName(truncateName(name, 32)+"...", "longer than 255 bytes")
	}
	return nil
}

// truncateName cuts name to at most n bytes without splitting a rune
func truncateName(name string, n int) string {
	if len(name) <= n {
		return name
	}
	cut := 0
	for i := range name {
		if i > n {
			break
		}
		cut = i
	}
	return name[:cut]
}
