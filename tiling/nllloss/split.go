// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nllloss

import (
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"k8s.io/klog/v2"
)

// MaxSplitRetries caps the number of retries of RecursiveSplit.
const MaxSplitRetries = 1024

// Split is the partition of n rows across cores: the first Cores-1 cores take PerCore rows each and
// the last one takes LastCore rows.
type Split struct {
	Cores, PerCore, LastCore int64

	// Aligned is the alignment unit of PerCore the split settled on.
	Aligned int64
}

// RecursiveSplit splits n rows across at most coreNum cores, with the rows per core a multiple of aligned.
//
// It backtracks along two independent steps: if the last core would get no rows, it retries with one
// core less. If the last core would get fewer than minAligned rows, it retries with the alignment
// reduced by minAligned, and once the alignment reaches minAligned, with one core less and the original
// alignment. One core always succeeds.
//
// It returns an error wrapping tiling.ErrPrecondition for invalid arguments, or if the retries exceed
// MaxSplitRetries ("not divisible").
func RecursiveSplit(n, coreNum, aligned, minAligned int64) (Split, error) {
	if n < 1 || coreNum < 1 || minAligned < 1 {
		return Split{}, tiling.Preconditionf("cannot split %d rows across %d cores with alignment %d", n, coreNum, minAligned)
	}
	if aligned < minAligned || aligned%minAligned != 0 {
		return Split{}, tiling.Preconditionf("alignment %d is not a multiple of the minimum alignment %d", aligned, minAligned)
	}
	startAligned := aligned
	for retry := 0; retry < MaxSplitRetries; retry++ {
		if coreNum <= 1 {
			return Split{Cores: 1, PerCore: n, LastCore: n, Aligned: aligned}, nil
		}
		perCore := xmath.AlignUp(xmath.CeilDiv(n, coreNum), aligned)
		lastCore := n - perCore*(coreNum-1)
		switch {
		case lastCore <= 0:
			coreNum--
		case lastCore < minAligned:
			if aligned > minAligned {
				aligned -= minAligned
			} else {
				coreNum--
				aligned = startAligned
			}
		default:
			klog.V(2).Infof("split %d rows: %d cores x %d rows, last core %d rows (aligned to %d, %d retries)",
				n, coreNum, perCore, lastCore, aligned, retry)
			return Split{Cores: coreNum, PerCore: perCore, LastCore: lastCore, Aligned: aligned}, nil
		}
	}
	return Split{}, tiling.Preconditionf("%d rows not divisible across cores after %d retries", n, MaxSplitRetries)
}
