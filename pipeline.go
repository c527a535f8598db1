package crumble

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

func task[T any](workersCount int, data []T, fn func(data T)) {
	var wg sync.WaitGroup
	dataSize := len(data)
	chunkSize := (dataSize + workersCount - 1) / workersCount

	for workerID := 0; workerID < workersCount; workerID++ {
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(data[i])
			}
		}(workerID*chunkSize, min((workerID+1)*chunkSize, dataSize))
	}
	wg.Wait()
}

// taskErr is the fallible variant, used by phases whose per-item work can
// fail without aborting the step (the first error is reported, the rest
// of the batch still runs to the barrier).
func taskErr[T any](workersCount int, data []T, fn func(data T) error) error {
	var g errgroup.Group
	g.SetLimit(workersCount)

	for i := range data {
		item := data[i]
		g.Go(func() error {
			return fn(item)
		})
	}
	return g.Wait()
}
