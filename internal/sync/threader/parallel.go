package threader

import (
	"runtime"
	"sync"
)

// forEachParallel runs fn(i) for every i in [0, n) across a worker pool sized to the
// host's core count, matching the teacher's own fixed-worker-count
// fan-out (internal/worker's BatchSendWorker.numWorkers) generalized to
// scale with the machine instead of a constant, per spec §9's "chunk
// the workload to match core count" guidance for the CPU-heavy
// container/linking/collection phases.
func forEachParallel(n int, fn func(i int)) {
	if n == 0 {
		return
	}
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	indices := make(chan int, n)
	for i := 0; i < n; i++ {
		indices <- i
	}
	close(indices)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				fn(i)
			}
		}()
	}
	wg.Wait()
}
