// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks in goroutines, with a limit on how many run at the same time.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/gomlx/optiling/pkg/support/xsync"
)

// Pool of workers. It is safe for concurrent use.
//
// A task may start other tasks in the same Pool, as long as it doesn't wait for them.
type Pool struct {
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int

	pending *xsync.DynamicWaitGroup
}

// New returns a new Pool running at most maxParallelism tasks at a time.
// If maxParallelism <= 0, it uses runtime.NumCPU().
func New(maxParallelism int) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism, pending: xsync.NewDynamicWaitGroup()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the maximum number of tasks running at the same time.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// Go waits until there is a worker available and runs task in a new goroutine.
func (p *Pool) Go(task func()) {
	p.pending.Add(1)
	p.mu.Lock()
	for p.numRunning >= p.maxParallelism {
		p.cond.Wait()
	}
	p.numRunning++
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.cond.Signal()
			p.mu.Unlock()
			p.pending.Done()
		}()
		task()
	}()
}

// Wait blocks until all tasks started with Go have finished, including those started while waiting.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Map calls fn on every input in parallel, and returns the results in the order of the inputs.
func Map[In, Out any](p *Pool, inputs []In, fn func(index int, input In) Out) []Out {
	results := make([]Out, len(inputs))
	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for ii, input := range inputs {
		p.Go(func() {
			defer wg.Done()
			results[ii] = fn(ii, input)
		})
	}
	wg.Wait()
	return results
}
