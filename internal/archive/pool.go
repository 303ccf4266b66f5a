package archive

import (
	"context"
	"fmt"
	"runtime"
)

// Pool runs entry selection on a fixed set of worker goroutines so that
// decompression of several large archives never runs unbounded in parallel.
type Pool struct {
	jobs chan job
	done chan struct{}
}

type job struct {
	ctx          context.Context
	raw          []byte
	familyPrefix string
	tableToken   string
	result       chan<- result
}

type result struct {
	entry *Entry
	err   error
}

// NewPool starts workers goroutines. A non-positive value uses GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		jobs: make(chan job),
		done: make(chan struct{}),
	}

	for range workers {
		go p.work()
	}

	return p
}

func (p *Pool) work() {
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			entry, err := p.run(j)
			j.result <- result{entry: entry, err: err}
		}
	}
}

func (p *Pool) run(j job) (entry *Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SelectionError{Kind: ErrCorruptArchive, Reason: fmt.Sprintf("panic while extracting: %v", r)}
		}
	}()

	return SelectEntry(j.ctx, j.raw, j.familyPrefix, j.tableToken)
}

// SelectEntry dispatches SelectEntry to a worker and waits for its result.
func (p *Pool) SelectEntry(ctx context.Context, raw []byte, familyPrefix, tableToken string) (*Entry, error) {
	// buffered so a worker never blocks when the caller gave up
	res := make(chan result, 1)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, fmt.Errorf("archive: pool closed")
	case p.jobs <- job{ctx: ctx, raw: raw, familyPrefix: familyPrefix, tableToken: tableToken, result: res}:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		return r.entry, r.err
	}
}

// Close stops the workers. Jobs in flight finish but their results are dropped
// if nobody is waiting.
func (p *Pool) Close() {
	close(p.done)
}
