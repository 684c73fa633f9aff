package controller

import (
	"context"
	"sync"
	"time"
)

// workQueue is a FIFO queue of reconcile requests with per-Application
// deduplication. An Application being processed is never handed to a second
// worker; a request arriving meanwhile marks it dirty and it is requeued
// when the worker finishes. This serializes all passes per Application.
type workQueue struct {
	mu sync.Mutex

	queue []ReconcileRequest

	// processing tracks Applications currently held by a worker
	processing map[string]bool

	// dirty holds requests that arrived while their Application was
	// being processed
	dirty map[string]ReconcileRequest

	cond *sync.Cond

	shuttingDown bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		processing: make(map[string]bool),
		dirty:      make(map[string]ReconcileRequest),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// mergeRequests combines a queued request with a newly arriving one for the
// same Application. A manual trigger is never downgraded by a later
// automatic event.
func mergeRequests(queued, incoming ReconcileRequest) ReconcileRequest {
	if queued.Reason == ReasonManual {
		return queued
	}
	return incoming
}

// Add enqueues or updates a request.
func (q *workQueue) Add(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	if q.processing[req.Name] {
		if pending, ok := q.dirty[req.Name]; ok {
			req = mergeRequests(pending, req)
		}
		q.dirty[req.Name] = req
		return
	}

	for i, existing := range q.queue {
		if existing.Name == req.Name {
			q.queue[i] = mergeRequests(existing, req)
			return
		}
	}

	q.queue = append(q.queue, req)
	q.cond.Signal()
}

// Get returns the next request, blocking until one is available, the
// context is cancelled or the queue shuts down.
func (q *workQueue) Get(ctx context.Context) (ReconcileRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return ReconcileRequest{}, false
		default:
		}

		// Race context cancellation against a normal wakeup; closing done
		// releases the helper goroutine either way.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return ReconcileRequest{}, false
		default:
		}
	}

	if q.shuttingDown && len(q.queue) == 0 {
		return ReconcileRequest{}, false
	}

	req := q.queue[0]
	q.queue = q.queue[1:]
	q.processing[req.Name] = true

	return req, true
}

// Done releases the Application and requeues it if it was marked dirty
// while being processed.
func (q *workQueue) Done(req ReconcileRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, req.Name)

	if dirtyReq, ok := q.dirty[req.Name]; ok {
		delete(q.dirty, req.Name)
		q.queue = append(q.queue, dirtyReq)
		q.cond.Signal()
	}
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// delayedQueue adds delayed requeue on top of workQueue, used for backoff.
type delayedQueue struct {
	queue *workQueue

	mu         sync.Mutex
	delayedMap map[string]*time.Timer
	stopCh     chan struct{}
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		queue:      newWorkQueue(),
		delayedMap: make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

func (d *delayedQueue) Add(req ReconcileRequest) {
	d.queue.Add(req)
}

// AddAfter enqueues the request after the delay. A newer delayed request
// for the same Application replaces the pending one.
func (d *delayedQueue) AddAfter(req ReconcileRequest, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.delayedMap[req.Name]; ok {
		timer.Stop()
	}

	d.delayedMap[req.Name] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.delayedMap, req.Name)
		d.mu.Unlock()

		select {
		case <-d.stopCh:
		default:
			d.queue.Add(req)
		}
	})
}

func (d *delayedQueue) Get(ctx context.Context) (ReconcileRequest, bool) {
	return d.queue.Get(ctx)
}

func (d *delayedQueue) Done(req ReconcileRequest) {
	d.queue.Done(req)
}

func (d *delayedQueue) Len() int {
	return d.queue.Len()
}

func (d *delayedQueue) Shutdown() {
	close(d.stopCh)

	d.mu.Lock()
	for _, timer := range d.delayedMap {
		timer.Stop()
	}
	d.delayedMap = make(map[string]*time.Timer)
	d.mu.Unlock()

	d.queue.Shutdown()
}
