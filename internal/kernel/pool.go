// Package kernel holds the compute primitives shared by every layer: the
// persistent worker pool behind the threaded strategy, tile selection for
// the tiled strategy and 8-lane arithmetic for the SIMD strategy.
package kernel

import (
	"runtime"
	"sync"
)

type rangeTask struct {
	fn     func(rs, re int)
	rs, re int
	done   chan any
}

type rangePool struct {
	size      int
	tasks     chan rangeTask
	doneSlots chan chan any
}

var (
	workPool     *rangePool
	workPoolOnce sync.Once
)

func getPool() *rangePool {
	workPoolOnce.Do(func() {
		workPool = newRangePool(runtime.GOMAXPROCS(0))
	})
	return workPool
}

func newRangePool(size int) *rangePool {
	if size < 1 {
		size = 1
	}
	p := &rangePool{
		size:      size,
		tasks:     make(chan rangeTask, size*2),
		doneSlots: make(chan chan any, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan any, size)
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				task.done <- runRange(task)
			}
		}()
	}
	return p
}

// runRange reports a recovered panic so it can be re-raised on the caller's
// goroutine instead of killing the process from a worker.
func runRange(task rangeTask) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	task.fn(task.rs, task.re)
	return nil
}

// PoolSize returns the number of persistent workers.
func PoolSize() int {
	return getPool().size
}

// Parallel splits [0, n) into contiguous ranges and runs fn on each range
// across the shared worker pool, blocking until every range completes.
// workers <= 0 uses the whole pool. A panic in fn is re-raised on the
// calling goroutine after all ranges finish.
func Parallel(n, workers int, fn func(rs, re int)) {
	if n <= 0 {
		return
	}
	pool := getPool()
	if workers <= 0 || workers > pool.size {
		workers = pool.size
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	done := <-pool.doneSlots

	active := 0
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := min(rs+chunk, n)
		if rs >= re {
			break
		}
		active++
		pool.tasks <- rangeTask{fn: fn, rs: rs, re: re, done: done}
	}

	var failure any
	for i := 0; i < active; i++ {
		if r := <-done; r != nil && failure == nil {
			failure = r
		}
	}
	pool.doneSlots <- done
	if failure != nil {
		panic(failure)
	}
}
