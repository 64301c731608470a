// Package workerpool runs fire-and-forget background jobs on a bounded
// queue. Upload attempts go through it so network I/O never runs on the
// interactive path.
package workerpool

import (
	"context"
	"log"
	"sync"
)

type Task func(ctx context.Context)

type Pool struct {
	queue chan Task
	wg    sync.WaitGroup
}

func New(ctx context.Context, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{queue: make(chan Task, queueSize)}
	for i := 0; i < workers; i++ {
		go p.worker(ctx)
	}
	return p
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			task(ctx)
			p.wg.Done()
		}
	}
}

// Submit queues a task. A full queue drops the task rather than blocking
// the caller; dropped work is picked up again by the periodic retry.
func (p *Pool) Submit(task Task) {
	p.wg.Add(1)
	select {
	case p.queue <- task:
	default:
		p.wg.Done()
		log.Printf("workerpool: queue full, task dropped")
	}
}

// Shutdown stops accepting work and waits for queued tasks, up to the
// context deadline.
func (p *Pool) Shutdown(ctx context.Context) {
	close(p.queue)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		log.Printf("workerpool: shutdown timed out")
	case <-done:
	}
}
