// Package syncer mirrors upstream comics into the metadata store.
//
// A run fetches the latest comic, then every missing number from 1 up to
// it, and appends what it found as one batch. Runs never overlap: a second
// trigger while one is active is rejected with comic.ErrUpdateInProgress.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/clock/system"
	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	"github.com/JakeFAU/xkcd-mirror/internal/id/uuid"
	"github.com/JakeFAU/xkcd-mirror/internal/metrics"
)

// DefaultTopic names the event published after a run added comics.
const DefaultTopic = "comics.updated"

const tracerName = "github.com/JakeFAU/xkcd-mirror/internal/syncer"

// Config tunes the synchronizer.
type Config struct {
	// Topic is passed to the publisher with every update event.
	Topic string
}

// Result summarizes one run.
type Result struct {
	RunID   string
	Latest  int
	Added   int
	Skipped int
	Err     error
}

// Syncer runs synchronizations and tracks their status.
type Syncer struct {
	source    comic.Source
	store     comic.Store
	publisher comic.Publisher
	clock     comic.Clock
	ids       comic.IDGenerator
	topic     string
	logger    *zap.Logger
	tracer    trace.Tracer

	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.RWMutex
	status comic.UpdateStatus
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithPublisher sends update events to p.
func WithPublisher(p comic.Publisher) Option {
	return func(s *Syncer) { s.publisher = p }
}

// WithClock overrides the run timestamp source.
func WithClock(c comic.Clock) Option {
	return func(s *Syncer) { s.clock = c }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g comic.IDGenerator) Option {
	return func(s *Syncer) { s.ids = g }
}

// WithTracerProvider records run spans with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Syncer) { s.tracer = tp.Tracer(tracerName) }
}

// New builds a Syncer. The status starts idle with no timestamp.
func New(cfg Config, source comic.Source, store comic.Store, logger *zap.Logger, opts ...Option) (*Syncer, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	s := &Syncer{
		source: source,
		store:  store,
		clock:  system.New(),
		ids:    uuid.New(),
		topic:  topic,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		status: comic.UpdateStatus{State: comic.StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Synchronize performs one blocking run.
func (s *Syncer) Synchronize(ctx context.Context) (Result, error) {
	runID, err := s.acquire()
	if err != nil {
		return Result{}, err
	}
	defer s.running.Store(false)
	return s.run(ctx, runID)
}

// Start launches a run in the background and returns a channel that
// receives its Result once. ctx should outlive the caller's request; it is
// cancelled only on shutdown.
func (s *Syncer) Start(ctx context.Context) (<-chan Result, error) {
	runID, err := s.acquire()
	if err != nil {
		return nil, err
	}

	done := make(chan Result, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)

		res, err := s.run(ctx, runID)
		s.running.Store(false)
		res.Err = err
		done <- res
	}()
	return done, nil
}

// Wait blocks until background runs started by Start have returned.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// Status returns a copy of the current update status.
func (s *Syncer) Status() comic.UpdateStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	if s.status.Time != nil {
		t := *s.status.Time
		out.Time = &t
	}
	return out
}

// acquire takes the guard and marks the status updating.
func (s *Syncer) acquire() (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.ObserveSyncRun(metrics.OutcomeRejected)
		return "", comic.ErrUpdateInProgress
	}
	runID, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("run id generation failed", zap.Error(err))
		runID = ""
	}
	now := s.clock.Now()

	s.mu.Lock()
	s.status = comic.UpdateStatus{State: comic.StateUpdating, Time: &now, RunID: runID}
	s.mu.Unlock()
	return runID, nil
}

func (s *Syncer) finish(state comic.UpdateState, added int) {
	s.mu.Lock()
	s.status.State = state
	s.status.Added = added
	s.mu.Unlock()
}

func (s *Syncer) run(ctx context.Context, runID string) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "sync.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer func() {
		span.SetAttributes(
			attribute.Int("latest", res.Latest),
			attribute.Int("added", res.Added),
			attribute.Int("skipped", res.Skipped),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := s.logger.With(zap.String("run_id", runID))
	res = Result{RunID: runID}

	metrics.SetUpdateInProgress(true)
	defer metrics.SetUpdateInProgress(false)

	existing := s.store.Numbers(ctx)
	logger.Info("sync started", zap.Int("existing", len(existing)))

	latest, fetchErr := s.source.FetchComic(ctx, comic.Latest)
	if fetchErr != nil {
		s.finish(comic.StateFailed, 0)
		metrics.ObserveSyncRun(metrics.OutcomeFailed)
		logger.Error("latest comic fetch failed", zap.Error(fetchErr))
		return res, fmt.Errorf("%w: %w", comic.ErrUpstreamUnavailable, fetchErr)
	}
	res.Latest = latest.Number

	var batch []comic.Record
	interrupted := false
	for n := 1; n <= latest.Number; n++ {
		if _, ok := existing[n]; ok {
			continue
		}
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		rec, err := s.source.FetchComic(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			res.Skipped++
			metrics.ObserveComicFetch(metrics.FetchSkipped)
			logger.Debug("comic skipped", zap.Int("comic", n),
				zap.Error(fmt.Errorf("%w: %w", comic.ErrItemFetchFailed, err)))
			continue
		}
		metrics.ObserveComicFetch(metrics.FetchOK)
		batch = append(batch, rec)
	}

	// Records already fetched are kept even when shutdown interrupted the run.
	persistCtx := context.WithoutCancel(ctx)
	if len(batch) > 0 {
		if err := s.store.Append(persistCtx, batch); err != nil {
			s.finish(comic.StateFailed, 0)
			metrics.ObserveSyncRun(metrics.OutcomeFailed)
			logger.Error("append comics failed", zap.Int("batch", len(batch)), zap.Error(err))
			return res, fmt.Errorf("append comics: %w", err)
		}
		res.Added = len(batch)
		s.publish(persistCtx, logger, res)
	}

	s.finish(comic.StateIdle, res.Added)
	if interrupted {
		metrics.ObserveSyncRun(metrics.OutcomeInterrupted)
		logger.Warn("sync interrupted", zap.Int("added", res.Added), zap.Int("skipped", res.Skipped))
		return res, fmt.Errorf("sync interrupted: %w", ctx.Err())
	}
	metrics.ObserveSyncRun(metrics.OutcomeSucceeded)
	logger.Info("sync finished",
		zap.Int("latest", res.Latest),
		zap.Int("added", res.Added),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (s *Syncer) publish(ctx context.Context, logger *zap.Logger, res Result) {
	if s.publisher == nil {
		return
	}
	event := comic.UpdateEvent{
		RunID:      res.RunID,
		Added:      res.Added,
		Latest:     res.Latest,
		FinishedAt: s.clock.Now(),
	}
	id, err := s.publisher.Publish(ctx, s.topic, event)
	if err != nil {
		logger.Warn("update event publish failed", zap.Error(err))
		return
	}
	logger.Debug("update event published", zap.String("message_id", id))
}
