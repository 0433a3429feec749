// Package workqueue provides a rate-limited serial job queue. The service
// uses one queue per cookie slot so credential validation probes against a
// host are spaced out and never raced.
package workqueue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Data-Corruption/stdx/xlog"
)

// JobFunc is a unit of work. The context is the queue's base context and is
// cancelled when the queue closes.
type JobFunc func(ctx context.Context) error

type job struct {
	id string
	fn JobFunc
}

// Queue runs jobs one at a time with a minimum interval (plus jitter) between
// them. Failed jobs trigger exponential backoff for subsequent work.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []job
	inQueue map[string]struct{}
	closed  bool

	interval time.Duration
	jitter   time.Duration
	log      *xlog.Logger

	wg        sync.WaitGroup
	runningID string
	running   bool

	baseCtx    context.Context
	cancelBase context.CancelFunc

	backoffBase    time.Duration
	backoffCurrent time.Duration
	backoffMax     time.Duration
}

// New creates and starts a queue.
// interval: minimum time between job executions.
// jitter: extra random delay in [0, jitter] added to each interval.
// backoff: initial backoff on job failure; doubles per consecutive error, capped at 1 hour.
func New(log *xlog.Logger, interval, jitter, backoff time.Duration) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:           make([]job, 0),
		inQueue:        make(map[string]struct{}),
		interval:       interval,
		jitter:         jitter,
		log:            log,
		baseCtx:        ctx,
		cancelBase:     cancel,
		backoffBase:    backoff,
		backoffCurrent: backoff,
		backoffMax:     time.Hour,
	}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(1)
	go q.loop()

	return q
}

// Enqueue adds a job by id. Returns false if the queue is closed or the id is
// already queued/running. If expedite is true the job jumps the queue.
func (q *Queue) Enqueue(id string, expedite bool, fn JobFunc) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, exists := q.inQueue[id]; exists {
		return false
	}

	q.inQueue[id] = struct{}{}
	j := job{id: id, fn: fn}

	if expedite {
		q.jobs = append([]job{j}, q.jobs...)
	} else {
		q.jobs = append(q.jobs, j)
	}

	q.cond.Signal()
	return true
}

// Has reports whether an id is either queued or currently running.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inQueue[id]
	return ok
}

// Len returns the number of queued (not running) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting new jobs, drops queued ones, cancels the base context,
// and waits for the currently running job (if any) to finish.
// Cannot be called from within a job, will deadlock.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	q.cancelBase()

	for id := range q.inQueue {
		if !q.running || id != q.runningID {
			delete(q.inQueue, id)
		}
	}
	q.jobs = nil

	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) loop() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.jobs) == 0 && !q.running {
			q.mu.Unlock()
			return
		}

		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.running = true
		q.runningID = j.id
		q.mu.Unlock()

		err := j.fn(q.baseCtx)
		if err != nil {
			q.log.Errorf("queued job %s failed: %v", j.id, err)

			q.mu.Lock()
			backoffDuration := q.backoffCurrent
			if q.backoffCurrent < q.backoffMax {
				q.backoffCurrent *= 2
				if q.backoffCurrent > q.backoffMax {
					q.backoffCurrent = q.backoffMax
				}
			}
			closed := q.closed
			q.mu.Unlock()

			if !closed {
				q.log.Warnf("backing off for %v due to job error", backoffDuration)
				q.sleep(backoffDuration)
			}
		} else {
			q.mu.Lock()
			q.backoffCurrent = q.backoffBase
			q.mu.Unlock()
		}

		q.mu.Lock()
		delete(q.inQueue, j.id)
		q.running = false
		q.runningID = ""
		closed := q.closed
		empty := len(q.jobs) == 0
		q.mu.Unlock()

		if closed && empty {
			return
		}

		sleep := q.interval
		if q.jitter > 0 {
			sleep += time.Duration(rand.Int63n(int64(q.jitter)))
		}
		if sleep > 0 {
			q.sleep(sleep)
		}
	}
}

// sleep waits for d or until the queue's base context is cancelled.
func (q *Queue) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-q.baseCtx.Done():
	}
}
