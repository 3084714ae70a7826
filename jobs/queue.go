// Package jobs generates derived images in the background with bounded
// retries. Jobs that exhaust their attempts become dead letters.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/thumb"
)

// Defaults for Config.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1000
	DefaultAttempts  = 3
	DefaultTimeout   = 60 * time.Second
	DefaultBackoff   = time.Second
)

// Config bounds a Queue. Zero fields take their defaults.
type Config struct {
	Workers   int
	QueueSize int
	Attempts  int
	Timeout   time.Duration
	Backoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// Materializer checks for and produces derived assets.
// *thumb.Resolver satisfies it.
type Materializer interface {
	Exists(ctx context.Context, src thumb.Source, preset, variant string) (bool, error)
	Generate(ctx context.Context, src thumb.Source, preset, variant string) (string, error)
}

// Job asks for one derived asset.
type Job struct {
	ID       string       `json:"id"`
	Source   thumb.Source `json:"source"`
	Preset   string       `json:"preset"`
	Variant  string       `json:"variant,omitempty"`
	Enqueued time.Time    `json:"enqueued_at"`
}

// DeadLetter is a job that failed permanently or ran out of attempts.
type DeadLetter struct {
	Job
	Attempts int        `json:"attempts"`
	Kind     thumb.Kind `json:"kind"`
	Error    string     `json:"error"`
	FailedAt time.Time  `json:"failed_at"`
}

// DeadLetterSink records dead letters.
type DeadLetterSink interface {
	Record(ctx context.Context, dl DeadLetter) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger. Defaults to zerolog.Nop().
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithDeadLetters persists exhausted jobs to sink.
func WithDeadLetters(sink DeadLetterSink) Option {
	return func(q *Queue) { q.sink = sink }
}

// WithRegisterer registers queue collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(q *Queue) { q.metrics = newMetrics(reg) }
}

// WithClock sets the clock used for job timestamps.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		if clock != nil {
			q.now = clock
		}
	}
}

// Queue runs jobs on a fixed pool of workers.
type Queue struct {
	target  Materializer
	cfg     Config
	log     zerolog.Logger
	sink    DeadLetterSink
	metrics *metrics
	now     func() time.Time

	work chan Job
	wg   sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	completed atomic.Int64
	skipped   atomic.Int64
	dead      atomic.Int64
}

// New creates a Queue that generates through target.
func New(target Materializer, cfg Config, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		target: target,
		cfg:    cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
		work:   make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules one asset and returns the job ID.
func (q *Queue) Enqueue(src thumb.Source, preset, variant string) (string, error) {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if !q.started {
		return "", ErrNotStarted
	}
	if q.stopped {
		return "", ErrStopped
	}

	job := Job{
		ID:       uuid.NewString(),
		Source:   src,
		Preset:   preset,
		Variant:  variant,
		Enqueued: q.now(),
	}
	select {
	case q.work <- job:
		q.metrics.submitted()
		return job.ID, nil
	default:
		q.metrics.dropped()
		return "", ErrQueueFull
	}
}

// Start launches the workers. They run until Stop or ctx is done.
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued jobs to drain.
func (q *Queue) Stop(timeout time.Duration) error {
	q.lifecycleMu.Lock()
	if !q.started || q.stopped {
		q.lifecycleMu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.work)
	q.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Stats reports how many jobs finished each way.
type Stats struct {
	Completed int64 `json:"completed"`
	Skipped   int64 `json:"skipped"`
	Dead      int64 `json:"dead"`
	Pending   int   `json:"pending"`
}

// Stats returns counters since New.
func (q *Queue) Stats() Stats {
	return Stats{
		Completed: q.completed.Load(),
		Skipped:   q.skipped.Load(),
		Dead:      q.dead.Load(),
		Pending:   len(q.work),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.work:
			if !ok {
				return
			}
			q.Run(ctx, job)
		}
	}
}

// Run executes one job synchronously: it skips assets that already exist,
// retries transient failures with exponential backoff, and records a dead
// letter when attempts run out or the failure is permanent.
func (q *Queue) Run(ctx context.Context, job Job) {
	start := time.Now()
	logger := q.log.With().
		Str("job", job.ID).
		Str("preset", job.Preset).
		Str("variant", job.Variant).
		Str("source", job.Source.Path).
		Logger()

	if exists, err := q.target.Exists(ctx, job.Source, job.Preset, job.Variant); err == nil && exists {
		q.skipped.Add(1)
		q.metrics.finished(outcomeSkipped, time.Since(start))
		logger.Debug().Msg("thumbnail already exists, skipping")
		return
	}

	attempts := 0
	op := func() error {
		attempts++
		err := q.attempt(ctx, job)
		if err != nil && thumb.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.cfg.Backoff
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(q.cfg.Attempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", wait).Msg("thumbnail job failed, retrying")
		capitan.Emit(ctx, thumb.JobRetry,
			thumb.FieldJob.Field(job.ID),
			thumb.FieldPreset.Field(job.Preset),
			thumb.FieldSource.Field(job.Source.Path),
			thumb.FieldAttempt.Field(attempts),
			thumb.FieldKind.Field(string(thumb.KindOf(err))),
			thumb.FieldError.Field(err),
		)
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		q.completed.Add(1)
		q.metrics.finished(outcomeCompleted, time.Since(start))
		logger.Debug().Int("attempts", attempts).Msg("thumbnail job completed")
		return
	}

	q.dead.Add(1)
	q.metrics.finished(outcomeDead, time.Since(start))
	kind := thumb.KindOf(err)
	logger.Error().Err(err).Str("kind", string(kind)).Int("attempts", attempts).Msg("thumbnail job failed permanently")
	capitan.Emit(ctx, thumb.JobDead,
		thumb.FieldJob.Field(job.ID),
		thumb.FieldPreset.Field(job.Preset),
		thumb.FieldSource.Field(job.Source.Path),
		thumb.FieldAttempt.Field(attempts),
		thumb.FieldKind.Field(string(kind)),
		thumb.FieldError.Field(err),
	)

	if q.sink == nil {
		return
	}
	dl := DeadLetter{
		Job:      job,
		Attempts: attempts,
		Kind:     kind,
		Error:    err.Error(),
		FailedAt: q.now(),
	}
	if err := q.sink.Record(context.WithoutCancel(ctx), dl); err != nil {
		logger.Error().Err(err).Msg("could not record dead letter")
	}
}

// attempt runs one generation bounded by the per-attempt timeout. The
// generator itself ignores cancellation, so the deadline is enforced here.
func (q *Queue) attempt(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := q.target.Generate(ctx, job.Source, job.Preset, job.Variant)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrAttemptTimeout, q.cfg.Timeout)
		}
		return ctx.Err()
	}
}
