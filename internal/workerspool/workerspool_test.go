// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_MaxParallelism(t *testing.T) {
	require.Equal(t, runtime.NumCPU(), New(0).MaxParallelism())
	require.Equal(t, runtime.NumCPU(), New(-1).MaxParallelism())

	const maxParallelism = 3
	pool := New(maxParallelism)
	var running, peak, count atomic.Int32
	for range 50 {
		pool.Go(func() {
			current := running.Add(1)
			for {
				previous := peak.Load()
				if current <= previous || peak.CompareAndSwap(previous, current) {
					break
				}
			}
			runtime.Gosched()
			running.Add(-1)
			count.Add(1)
		})
	}
	pool.Wait()
	require.Equal(t, int32(50), count.Load())
	require.LessOrEqual(t, peak.Load(), int32(maxParallelism))
	require.Positive(t, peak.Load())
}

func TestPool_NestedTasks(t *testing.T) {
	pool := New(2)
	var count atomic.Int32
	pool.Go(func() {
		count.Add(1)
		// Tasks started from a task are waited for too.
		for range 4 {
			pool.Go(func() { count.Add(1) })
		}
	})
	pool.Wait()
	require.Equal(t, int32(5), count.Load())
}

func TestMap(t *testing.T) {
	inputs := []int{1, 2, 3, 4, 5, 6, 7}
	got := Map(New(3), inputs, func(index int, input int) string {
		return string(rune('a' + index*input%26))
	})
	require.Equal(t, []string{"a", "c", "g", "m", "u", "e", "q"}, got)
	require.Empty(t, Map(New(3), []int{}, func(int, int) int { return 0 }))
}
