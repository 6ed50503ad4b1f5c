/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bench measures concurrent allocator throughput by replaying a
// trace independently across many workers, each owning its own
// malloc.Allocator and sbrk.Heap - package malloc is explicitly not safe
// for concurrent use, so concurrency here happens between allocators,
// never within one.
package bench

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/galloc/concurrency/gopool"
	"github.com/cloudwego/galloc/sbrk"
	"github.com/cloudwego/galloc/trace"
	"github.com/cloudwego/galloc/unsafex/malloc"
)

// Result summarizes one concurrent trace-replay run.
type Result struct {
	Workers   int
	TotalOps  int64
	Duration  time.Duration
	OpsPerSec float64
}

// RunConcurrent spawns n workers, each replaying the full ops trace
// through its own Allocator bound to a freshly initialized sbrk.Heap of
// the given capacity, scheduled through a shared gopool.GoPool. It
// returns once every worker's replay has finished, or the first error
// any worker hit.
func RunConcurrent(ops []trace.Op, workers, heapCapacity int) (Result, error) {
	if workers <= 0 {
		workers = 1
	}

	pool := gopool.NewGoPool("bench.RunConcurrent", nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	start := time.Now()
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		pool.CtxGo(context.Background(), func() {
			defer wg.Done()
			if err := replayOnce(ops, heapCapacity); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	elapsed := time.Since(start)

	if firstErr != nil {
		return Result{}, firstErr
	}

	total := int64(workers) * int64(len(ops))
	return Result{
		Workers:   workers,
		TotalOps:  total,
		Duration:  elapsed,
		OpsPerSec: float64(total) / elapsed.Seconds(),
	}, nil
}

func replayOnce(ops []trace.Op, heapCapacity int) error {
	heap, err := sbrk.New(heapCapacity)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	a := malloc.New(heap)
	if err := a.Init(); err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	rp := &trace.Replayer{Allocator: a}
	_, err = rp.Replay(ops)
	return err
}
