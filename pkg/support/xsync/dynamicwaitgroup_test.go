// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Nothing to wait for.

	var finished atomic.Int32
	release := make(chan struct{})
	wg.Add(1)
	go func() {
		<-release
		// Add more work while the main goroutine is waiting.
		for range 3 {
			wg.Add(1)
			go func() {
				finished.Add(1)
				wg.Done()
			}()
		}
		finished.Add(1)
		wg.Done()
	}()
	close(release)
	wg.Wait()
	require.Equal(t, int32(4), finished.Load())
	require.Zero(t, wg.Count())

	require.Panics(t, func() { wg.Done() })
}
