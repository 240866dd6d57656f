// Package orchestrator implements the bounded worker pool with per-key job
// serialization: at most one job per key runs at a time, independent keys
// run in parallel up to the pool's worker limit.
//
// Grounded on aistore's hk (housekeeper) dispatch-loop shape -- a single
// goroutine owns a work schedule and hands runnable items to workers -- and
// on xact/qui.go's quiescence idiom for Stop's drain behavior. The worker
// bound is implemented with golang.org/x/sync/semaphore.Weighted, the same
// package aistore itself imports for bounded concurrency.
/*
 * Copyright (c) 2024, DMM contributors.
 */
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jkguiang/dmm/cmn/nlog"
)

// Job is a unit of work queued under a key.
type Job func(ctx context.Context) error

type jobEntry struct {
	label string // for debug logging only
	fn    Job
}

type keyQueue struct {
	jobs    []jobEntry
	running bool
}

// Pool is the per-key-serializing bounded worker pool.
type Pool struct {
	sem *semaphore.Weighted
	n   int64

	mu     sync.Mutex
	queues map[string]*keyQueue

	wakeCh chan struct{}
	doneCh chan string // key of a job that just finished

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup // outstanding worker goroutines

	debugInterval time.Duration
}

// NewPool constructs a pool with n worker slots.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		sem:           semaphore.NewWeighted(int64(n)),
		n:             int64(n),
		queues:        make(map[string]*keyQueue),
		wakeCh:        make(chan struct{}, 1),
		doneCh:        make(chan string, n*4),
		stopCh:        make(chan struct{}),
		debugInterval: 30 * time.Second,
	}
	go p.dispatch()
	return p
}

// Put appends a job to key's queue. If no job is currently active for key,
// the dispatcher will launch it on the next cycle; additional Puts with
// the same key queue behind it, FIFO.
func (p *Pool) Put(key, label string, fn Job) {
	p.mu.Lock()
	q, ok := p.queues[key]
	if !ok {
		q = &keyQueue{}
		p.queues[key] = q
	}
	q.jobs = append(q.jobs, jobEntry{label: label, fn: fn})
	p.mu.Unlock()
	p.wake()
}

// Clear drops all queued (not yet started) jobs for key.
func (p *Pool) Clear(key string) {
	p.mu.Lock()
	if q, ok := p.queues[key]; ok {
		q.jobs = nil
		if !q.running {
			delete(p.queues, key)
		}
	}
	p.mu.Unlock()
}

// Stop drains in-flight workers and shuts the pool down; it does not
// cancel already-running jobs (no preemption, per spec.md §5).
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *Pool) wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// dispatch is the single dispatcher goroutine: (1) reap completions,
// (2) launch idle keys with queued work, (3) drop empty queues,
// (4) periodically log active/queued keys.
func (p *Pool) dispatch() {
	ticker := time.NewTicker(p.debugInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.drainQuiescent()
			return
		case key := <-p.doneCh:
			p.onJobDone(key)
			p.launchReady()
		case <-p.wakeCh:
			p.launchReady()
		case <-ticker.C:
			p.logDebug()
		}
	}
}

// drainQuiescent lets already-submitted jobs finish but stops launching
// new ones, matching spec.md §5's "drains in-flight workers".
func (p *Pool) drainQuiescent() {
	for {
		p.mu.Lock()
		anyRunning := false
		for _, q := range p.queues {
			if q.running {
				anyRunning = true
			}
		}
		p.mu.Unlock()
		if !anyRunning {
			return
		}
		key := <-p.doneCh
		p.onJobDone(key)
	}
}

func (p *Pool) onJobDone(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[key]
	if !ok {
		return
	}
	q.running = false
	if len(q.jobs) == 0 {
		delete(p.queues, key)
	}
}

func (p *Pool) launchReady() {
	p.mu.Lock()
	var toLaunch []string
	for key, q := range p.queues {
		if !q.running && len(q.jobs) > 0 {
			toLaunch = append(toLaunch, key)
		}
	}
	p.mu.Unlock()

	for _, key := range toLaunch {
		if !p.sem.TryAcquire(1) {
			break
		}
		p.mu.Lock()
		q := p.queues[key]
		if q == nil || q.running || len(q.jobs) == 0 {
			p.mu.Unlock()
			p.sem.Release(1)
			continue
		}
		entry := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.running = true
		p.mu.Unlock()

		p.wg.Add(1)
		go p.runJob(key, entry)
	}
}

func (p *Pool) runJob(key string, entry jobEntry) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	err := entry.fn(context.Background())
	if err != nil {
		nlog.Errorf("orchestrator: job %q (key=%s) failed: %v", entry.label, key, err)
	} else {
		nlog.Debugf("orchestrator: job %q (key=%s) succeeded", entry.label, key)
	}

	p.doneCh <- key
}

func (p *Pool) logDebug() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queues) == 0 {
		return
	}
	active := make([]string, 0, len(p.queues))
	queued := make([]string, 0, len(p.queues))
	for k, q := range p.queues {
		if q.running {
			active = append(active, k)
		}
		if len(q.jobs) > 0 {
			queued = append(queued, k)
		}
	}
	nlog.Debugf("orchestrator: active=%v queued=%v", active, queued)
}
