// Package worker runs meeting summarization in the background. Jobs are
// queued per owner and owners are served round-robin, so one user with many
// finished meetings cannot starve the others.
package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"meetdash/internal/config"
	"meetdash/internal/logging"
	"meetdash/internal/metrics"
)

var (
	ErrQueueFull = errors.New("summary queue is full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Handler processes one job.
type Handler func(ctx context.Context, job Job) error

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
	MaxAttempts int
	Backoff     time.Duration
	// Retryable decides whether a failed job is queued again. Nil retries
	// every failure.
	Retryable func(error) bool
}

// ConfigFrom maps the summary section of the runtime config.
func ConfigFrom(cfg config.SummaryConfig) Config {
	return Config{
		MinWorkers:  cfg.MinWorkers,
		MaxWorkers:  cfg.MaxWorkers,
		QueueSize:   cfg.QueueSize,
		IdleTimeout: time.Duration(cfg.WorkerIdleTimeout) * time.Minute,
		JobTimeout:  2 * time.Minute,
		MaxAttempts: 3,
		Backoff:     10 * time.Second,
	}
}

type ownerQueue struct {
	jobs     []Job
	enqueued bool
}

type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	handler  Handler
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	queues    map[string]*ownerQueue
	ready     *list.List // owner ids in service order
	positions map[string]*list.Element
	pending   map[string]struct{} // queued, running or waiting for retry

	inflight sync.WaitGroup
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg Config, handler Handler, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	d := &Dispatcher{
		jobQueue:  make(chan Job, cfg.QueueSize),
		handler:   handler,
		cfg:       cfg,
		logger:    logging.OrNop(logger).Named("worker"),
		queues:    make(map[string]*ownerQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pending:   make(map[string]struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.execute)
	d.pool.warm()

	go d.run()
	return d
}

// EnqueueSummary queues summarization of a meeting. A meeting already
// queued or running is not queued twice.
func (d *Dispatcher) EnqueueSummary(ownerID, meetingID string) error {
	return d.Enqueue(Job{Kind: Summary, OwnerID: ownerID, MeetingID: meetingID})
}

// Enqueue adds job without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case <-d.quit:
		return ErrStopped
	default:
	}
	key := job.key()
	d.mu.Lock()
	if _, dup := d.pending[key]; dup && job.Attempt == 0 {
		d.mu.Unlock()
		return nil
	}
	d.pending[key] = struct{}{}
	d.mu.Unlock()

	select {
	case d.jobQueue <- job:
		return nil
	default:
		d.finish(job)
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			default:
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.OwnerID]
	if q == nil {
		q = &ownerQueue{}
		d.queues[job.OwnerID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.OwnerID] = d.ready.PushBack(job.OwnerID)
}

// dispatchOne hands the next job to a worker, blocking until one is free.
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.nextJob()
	if !ok {
		return false
	}
	ch, workerID := d.pool.acquire()
	d.logger.Debug("assign job",
		zap.String("owner_id", job.OwnerID),
		zap.String("meeting_id", job.MeetingID),
		zap.Int("worker", workerID))
	ch <- job
	return true
}

// nextJob pops the first job of the front owner and moves that owner to the
// back of the ready list.
func (d *Dispatcher) nextJob() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	ownerID := elem.Value.(string)
	q := d.queues[ownerID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
		delete(d.queues, ownerID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.inflight.Add(1)
	return job, true
}

func (d *Dispatcher) execute(workerID int, job Job) {
	defer d.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.JobTimeout)
	err := d.handler(ctx, job)
	cancel()

	log := d.logger.With(
		zap.Int("worker", workerID),
		zap.String("meeting_id", job.MeetingID),
		zap.Int("attempt", job.Attempt+1))
	if err == nil {
		metrics.SummaryJobs.WithLabelValues("ok").Inc()
		log.Info("summary job done")
		d.finish(job)
		return
	}
	if job.Attempt+1 < d.cfg.MaxAttempts && d.retryable(err) {
		metrics.SummaryJobs.WithLabelValues("retry").Inc()
		log.Warn("summary job failed, retrying", zap.Error(err))
		d.retryLater(job)
		return
	}
	metrics.SummaryJobs.WithLabelValues("error").Inc()
	log.Error("summary job failed", zap.Error(err))
	d.finish(job)
}

func (d *Dispatcher) retryable(err error) bool {
	if d.cfg.Retryable == nil {
		return true
	}
	return d.cfg.Retryable(err)
}

func (d *Dispatcher) retryLater(job Job) {
	job.Attempt++
	delay := d.cfg.Backoff * time.Duration(job.Attempt)
	time.AfterFunc(delay, func() {
		if err := d.Enqueue(job); err != nil {
			d.logger.Warn("summary retry dropped", zap.String("meeting_id", job.MeetingID), zap.Error(err))
			d.finish(job)
		}
	})
}

func (d *Dispatcher) finish(job Job) {
	d.mu.Lock()
	delete(d.pending, job.key())
	d.mu.Unlock()
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Pending int `json:"pending"`
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	running, idle := d.pool.size()
	return Stats{Pending: pending, Workers: running, Idle: idle}
}

// Stop refuses new jobs, waits for running ones until ctx is done and then
// shuts the workers down. Jobs still queued are dropped.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		close(d.quit)

		waited := make(chan struct{})
		go func() {
			<-d.done
			d.inflight.Wait()
			close(waited)
		}()
		select {
		case <-waited:
			d.mu.Lock()
			dropped := 0
			for _, q := range d.queues {
				dropped += len(q.jobs)
			}
			d.mu.Unlock()
			if dropped > 0 {
				d.logger.Warn("dropping queued summary jobs", zap.Int("count", dropped))
			}
			d.pool.close()
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
