// Package parallel contains the bounded ForEach loop and a concurrent prediction digest.
package parallel

import "sync"

// ForEach calls body for every i in [0, length) using at most limit goroutines at once.
// A limit below 1 runs the loop on a single goroutine.
func ForEach(length, limit int, body func(i int)) {
	if limit <= 0 {
		limit = 1
	}
	if length <= 0 {
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)

	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			body(i)
		}(i)
	}

	wg.Wait()
}
