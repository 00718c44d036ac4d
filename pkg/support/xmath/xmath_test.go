// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xmath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCeilDivAlign(t *testing.T) {
	require.Equal(t, 3, CeilDiv(7, 3))
	require.Equal(t, int64(2), CeilDiv(int64(6), 3))
	require.Equal(t, 0, CeilDiv(6, 0))
	require.Equal(t, 16, AlignUp(9, 8))
	require.Equal(t, 16, AlignUp(16, 8))
	require.Equal(t, 8, AlignDown(15, 8))
	require.Equal(t, 5, AlignDown(5, 0))
	require.Equal(t, 3, Clamp(7, 1, 3))
	require.Equal(t, 1, Clamp(-2, 1, 3))
	require.Equal(t, int64(24), Prod([]int64{2, 3, 4}))
	require.Equal(t, 1, Prod[int](nil))
}

func TestSplit(t *testing.T) {
	for _, tc := range []struct {
		total, maxParts, unit        int
		wantParts, wantPer, wantLast int
	}{
		{100, 8, 1, 8, 13, 9},
		{100, 8, 16, 7, 16, 4},
		{3, 8, 1, 3, 1, 1},
		{0, 8, 1, 1, 0, 0},
		{64, 4, 16, 4, 16, 16},
	} {
		parts, per, last := Split(tc.total, tc.maxParts, tc.unit)
		require.Equal(t, tc.wantParts, parts, "%+v", tc)
		require.Equal(t, tc.wantPer, per, "%+v", tc)
		require.Equal(t, tc.wantLast, last, "%+v", tc)
		if tc.total > 0 {
			require.Equal(t, tc.total, per*(parts-1)+last)
		}
	}
}
