// Package parallel provides the worker-chunking helpers used by the forest,
// nearest-neighbor and neural trainers.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize splits items across the available CPU cores and calls fn with
// the half-open range [start, end) assigned to each worker. Work units must
// not depend on the order chunks complete; anything order-sensitive (e.g.
// per-tree RNG seeds) has to be derived from the item index.
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}

	// Ceiling division so the last chunk picks up the remainder.
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially over [0, items) when the item
// count is at or below threshold, and in parallel otherwise. Small inputs
// are not worth the goroutine overhead.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}

	Parallelize(items, fn)
}
