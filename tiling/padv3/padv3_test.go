// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package padv3

import (
	"slices"
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

func padOp(dtype dtypes.DType, dims []int, mode string, paddings ...int64) *operator.Operator {
	return operator.New("PadV3", "pad").
		AddInput("x", operator.NewTensorDesc(dtype, shapes.Make(dims...))).
		AddInput("paddings", operator.NewTensorDesc(dtypes.Int64, shapes.Make(len(paddings))).WithConst(paddings...)).
		SetAttr("mode", mode)
}

func concat(parts ...[]int64) []int64 {
	return slices.Concat(parts...)
}

func TestPadV3(t *testing.T) {
	vars := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 262144}}`))
	op := padOp(dtypes.Float32, []int{2, 3, 4, 5}, "constant", 0, 0, 1, 1, 2, 2, 3, 3)
	runInfo, err := Tiling(op, vars)
	require.NoError(t, err)
	require.Equal(t, int64(0), runInfo.TilingKey)
	require.Equal(t, 8, runInfo.BlockDim)

	p := must.M1(Compute(op, vars))
	fields := p.Fields()
	require.Equal(t, 39, fields.Len())
	values := must.M1(tilingdata.Decode(runInfo.Data, fields.Kinds()))
	require.Equal(t, concat(
		[]int64{0, 8, 10, 10},
		[]int64{1, 1, 1, 1, 2, 3, 4, 5},
		[]int64{1, 1, 1, 1, 2, 5, 8, 11},
		[]int64{0, 0, 0, 0, 0, 1, 2, 3},
		[]int64{0, 0, 0, 0, 0, 1, 2, 3},
		[]int64{2730, 1, 0}), values)

	// Non contiguous paddings: all befores, then all afters.
	op = padOp(dtypes.Float32, []int{2, 3, 4, 5}, "edge", 0, 1, 2, 3, 0, 1, 2, 3).
		SetAttr("paddings_contiguous", false)
	p = must.M1(Compute(op, vars))
	require.Equal(t, int64(4), p.TilingKey())
	require.Equal(t, [MaxRank]int64{1, 1, 1, 1, 2, 5, 8, 11}, p.OutShape)
}

func TestPadV3BigLastDim(t *testing.T) {
	vars := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 65536}}`))
	op := padOp(dtypes.Float16, []int{2, 100000}, "reflect", 0, 0, 5, 5)
	runInfo, err := Tiling(op, vars)
	require.NoError(t, err)
	require.Equal(t, int64(3), runInfo.TilingKey)
	require.Equal(t, 2, runInfo.BlockDim)
	p := must.M1(Compute(op, vars))
	require.True(t, p.BigLastDim)
	require.Equal(t, [3]int64{1, 1, 1}, [3]int64{p.CoreRows, p.LastCoreRows, p.UBRows})
	require.Equal(t, int64(6), p.LastDimLoops)
	require.Equal(t, int64(1706), p.LastDimTail)
}

func TestPadV3ShortRows(t *testing.T) {
	// Output rows of 3 float32 are grouped by 3, so each core writes whole blocks.
	vars := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 262144}}`))
	p := must.M1(Compute(padOp(dtypes.Float32, []int{16, 2}, "constant", 0, 0, 0, 1), vars))
	require.Equal(t, [3]int64{6, 3, 1}, [3]int64{p.NCores, p.CoreRows, p.LastCoreRows})
}

func TestPadV3Failures(t *testing.T) {
	vars := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 262144}}`))

	_, err := Tiling(padOp(dtypes.Float32, []int{2, 3}, "reflect", 0, 0, 3, 0), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(padOp(dtypes.Float32, []int{2, 3}, "constant", 0, 0, -1, 0), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(padOp(dtypes.Float32, []int{2, 3}, "constant", 0, 0, 1), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(padOp(dtypes.Float32, []int{2, 3}, "symmetric", 0, 0, 1, 1), vars)
	require.True(t, errors.Is(err, tiling.ErrUnsupported))

	op := operator.New("PadV3", "pad").
		AddInput("x", operator.NewTensorDesc(dtypes.Float32, shapes.Make(2, 3))).
		AddInput("paddings", operator.NewTensorDesc(dtypes.Int64, shapes.Make(4)))
	_, err = Tiling(op, vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(padOp(dtypes.Float32, []int{2, 3}, "constant", 0, 0, 1, 1),
		must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 262144, "dtype_rate": 0}}`)))
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))
}
