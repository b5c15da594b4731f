package batch

import "sync"

// pool bounds how many per-call pipelines run at once. The reasoning
// service is the shared rate-limited resource; concurrency beyond its
// limit only inflates retry load.
type pool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
}

func newPool(maxWorkers int) *pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &pool{semaphore: make(chan struct{}, maxWorkers)}
}

// Submit enqueues a job; it blocks while all workers are busy.
func (p *pool) Submit(job func()) {
	p.wg.Add(1)
	p.semaphore <- struct{}{}

	go func() {
		defer p.wg.Done()
		defer func() { <-p.semaphore }()
		job()
	}()
}

// Wait blocks until every submitted job has completed.
func (p *pool) Wait() {
	p.wg.Wait()
}
