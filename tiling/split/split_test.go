// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package split

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var vars = must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 262144}}`))

func unpackOp(dtype dtypes.DType, dims []int, axis, num int) *operator.Operator {
	return operator.New("Unpack", "unpack").
		AddInput("x", operator.NewTensorDesc(dtype, shapes.Make(dims...))).
		SetAttr("axis", axis).
		SetAttr("num", num)
}

func TestUnpack(t *testing.T) {
	testCases := []struct {
		name     string
		op       *operator.Operator
		mode     UnpackMode
		expected []int64
	}{
		{"aligned", unpackOp(dtypes.Float32, []int{4, 3, 64}, 1, 3), UnpackModeAligned,
			[]int64{0, 4, 4, 64, 3, 1, 1, 64, 1, 0}},
		{"unaligned", unpackOp(dtypes.Float16, []int{100, 2, 5}, 1, 2), UnpackModeUnaligned,
			[]int64{1, 7, 100, 5, 2, 16, 4, 5, 1, 0}},
		{"big right", unpackOp(dtypes.Float32, []int{2, 2, 100000}, 1, 2), UnpackModeBigRight,
			[]int64{2, 2, 2, 100000, 2, 1, 1, 32768, 3, 1696}},
		{"single output", unpackOp(dtypes.Float32, []int{6, 1, 10}, -2, 1), UnpackModeSingleOutput,
			[]int64{3, 6, 6, 10, 1, 1, 1, 10, 1, 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runInfo, err := UnpackTiling(tc.op, vars)
			require.NoError(t, err)
			require.Equal(t, int64(tc.mode), runInfo.TilingKey)
			require.Equal(t, int(tc.expected[1]), runInfo.BlockDim)
			p := must.M1(ComputeUnpack(tc.op, vars))
			require.Equal(t, tc.expected, must.M1(tilingdata.Decode(runInfo.Data, p.Fields().Kinds())))
		})
	}

	_, err := UnpackTiling(unpackOp(dtypes.Float32, []int{4, 3, 64}, 1, 4), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))
	_, err = UnpackTiling(unpackOp(dtypes.Float32, []int{4, 3, 64}, 3, 3), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))
	_, err = UnpackTiling(operator.New("Unpack", "unpack").
		AddInput("x", operator.NewTensorDesc(dtypes.Float32, shapes.Make(4, 3))), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))
}

func splitVOp(dtype dtypes.DType, dims []int, sizes []int64, numSplit int) *operator.Operator {
	return operator.New("SplitV", "split").
		AddInput("x", operator.NewTensorDesc(dtype, shapes.Make(dims...))).
		AddInput("size_splits", operator.NewTensorDesc(dtypes.Int64, shapes.Make(len(sizes))).WithConst(sizes...)).
		SetAttr("num_split", numSplit)
}

func withSplitDim(op *operator.Operator, axis int64) *operator.Operator {
	return op.AddInput("split_dim", operator.NewTensorDesc(dtypes.Int32, shapes.Scalar()).WithConst(axis))
}

func TestSplitV(t *testing.T) {
	testCases := []struct {
		name     string
		op       *operator.Operator
		mode     SplitVMode
		expected []int64
	}{
		{"contiguous", withSplitDim(splitVOp(dtypes.Float32, []int{6, 8}, []int64{2, -1, 1}, 3), 0), SplitVModeContiguous,
			[]int64{0, 0, 3, 48, 1, 8, 6, 8, 8, 32768, 3, 2, 3, 1}},
		{"last dim", splitVOp(dtypes.Float16, []int{100, 30}, []int64{10, 20}, 2).SetAttr("split_dim", -1), SplitVModeLastDim,
			[]int64{1, 1, 2, 3000, 100, 1, 8, 13, 9, 65536, 20, 10, 20}},
		{"general", withSplitDim(splitVOp(dtypes.Float32, []int{4, 10, 16}, []int64{5, 5}, 2), 1), SplitVModeGeneral,
			[]int64{2, 1, 2, 640, 4, 16, 4, 1, 1, 32768, 5, 5, 5}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runInfo, err := SplitVTiling(tc.op, vars)
			require.NoError(t, err)
			require.Equal(t, int64(tc.mode), runInfo.TilingKey)
			p := must.M1(ComputeSplitV(tc.op, vars))
			require.Equal(t, tc.expected, must.M1(tilingdata.Decode(runInfo.Data, p.Fields().Kinds())))
			require.Equal(t, int(p.CoreNum), runInfo.BlockDim)
		})
	}
}

func TestSplitVFailures(t *testing.T) {
	// Sizes don't sum to the dimension.
	_, err := SplitVTiling(withSplitDim(splitVOp(dtypes.Float32, []int{6, 8}, []int64{2, 2}, 2), 0), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	// Two unknown sizes.
	_, err = SplitVTiling(withSplitDim(splitVOp(dtypes.Float32, []int{6, 8}, []int64{-1, -1}, 2), 0), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	// num_split doesn't match the number of sizes.
	_, err = SplitVTiling(withSplitDim(splitVOp(dtypes.Float32, []int{6, 8}, []int64{2, 4}, 3), 0), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	// No split axis.
	_, err = SplitVTiling(splitVOp(dtypes.Float32, []int{6, 8}, []int64{2, 4}, 2), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = SplitVTiling(withSplitDim(splitVOp(dtypes.Float32, []int{6, 8}, []int64{2, 4}, 2), 2), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	// Sizes not constant.
	op := operator.New("SplitV", "split").
		AddInput("x", operator.NewTensorDesc(dtypes.Float32, shapes.Make(6, 8))).
		AddInput("size_splits", operator.NewTensorDesc(dtypes.Int64, shapes.Make(2))).
		SetAttr("num_split", 2).
		SetAttr("split_dim", 0)
	_, err = SplitVTiling(op, vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))
}
