// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nllloss

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

func TestRecursiveSplitSumsToN(t *testing.T) {
	for _, minAligned := range []int64{8, 16} {
		for n := int64(1); n <= 3000; n++ {
			split, err := RecursiveSplit(n, 8, 8*minAligned, minAligned)
			require.NoError(t, err, "n=%d", n)
			require.Equal(t, n, split.PerCore*(split.Cores-1)+split.LastCore, "n=%d: %+v", n, split)
			require.Greater(t, split.LastCore, int64(0), "n=%d: %+v", n, split)
			require.LessOrEqual(t, split.LastCore, split.PerCore, "n=%d: %+v", n, split)
			require.LessOrEqual(t, split.Cores, int64(8))
			if split.Cores > 1 {
				require.Zero(t, split.PerCore%split.Aligned)
				require.GreaterOrEqual(t, split.LastCore, minAligned)
			}
		}
	}
}

func TestRecursiveSplit(t *testing.T) {
	// Even split with the starting alignment.
	split := must.M1(RecursiveSplit(1024, 8, 64, 8))
	require.Equal(t, Split{Cores: 8, PerCore: 128, LastCore: 128, Aligned: 64}, split)

	// 100 rows: 64 per core leaves 36 for the second core.
	split = must.M1(RecursiveSplit(100, 8, 64, 8))
	require.Equal(t, Split{Cores: 2, PerCore: 64, LastCore: 36, Aligned: 64}, split)

	// Too few rows for more than one core.
	split = must.M1(RecursiveSplit(5, 8, 64, 8))
	require.Equal(t, Split{Cores: 1, PerCore: 5, LastCore: 5, Aligned: 64}, split)

	for _, args := range [][4]int64{{0, 8, 64, 8}, {10, 0, 64, 8}, {10, 8, 60, 8}, {10, 8, 4, 8}} {
		_, err := RecursiveSplit(args[0], args[1], args[2], args[3])
		require.True(t, errors.Is(err, tiling.ErrPrecondition), "args=%v", args)
	}
}

func nllLossOp(n, c int) *operator.Operator {
	return operator.New("NLLLoss", "loss").
		AddInput("x", operator.NewTensorDesc(dtypes.Float32, shapes.Make(n, c))).
		AddInput("target", operator.NewTensorDesc(dtypes.Int32, shapes.Make(n))).
		AddInput("weight", operator.NewTensorDesc(dtypes.Float32, shapes.Make(c))).
		AddOutput("y", operator.NewTensorDesc(dtypes.Float32, shapes.Make(n))).
		AddOutput("total_weight", operator.NewTensorDesc(dtypes.Float32, shapes.Scalar()))
}

func TestTiling(t *testing.T) {
	vars := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 253952, "reduction": "none", "ignore_index": -100}}`))
	runInfo, err := Tiling(nllLossOp(1024, 10), vars)
	require.NoError(t, err)
	require.Equal(t, int64(0), runInfo.TilingKey)
	require.Equal(t, 8, runInfo.BlockDim)
	require.Empty(t, runInfo.Workspaces)

	p := must.M1(Compute(nllLossOp(1024, 10), vars))
	require.Equal(t, []string{"c_dim", "n_dim", "core_num", "per_core_lines", "last_core_lines", "ub_lines",
		"per_core_loops", "per_core_tail", "last_core_loops", "last_core_tail", "ignore_index", "big_weight"},
		p.Fields().Names())
	values := must.M1(tilingdata.Decode(runInfo.Data, p.Fields().Kinds()))
	// Row bytes: 10*4 + 4 + 4 + 4 = 52; (253952-1024)/52 = 4864 rows (already a multiple of 8).
	require.Equal(t, []int64{10, 1024, 8, 128, 128, 4864, 0, 128, 0, 128, -100, 0}, values)

	// Same input, same bytes.
	again := must.M1(Tiling(nllLossOp(1024, 10), vars))
	require.Equal(t, runInfo.Data, again.Data)
}

func TestTilingReductions(t *testing.T) {
	vars := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 253952, "reduction": "sum"}}`))
	runInfo := must.M1(Tiling(nllLossOp(100, 10), vars))
	require.Equal(t, int64(1), runInfo.TilingKey)
	require.Equal(t, 2, runInfo.BlockDim)
	require.Equal(t, []int64{64}, runInfo.Workspaces)

	// Default reduction is mean, and a row too large for the buffer takes the big C path.
	vars = must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 65536}}`))
	p := must.M1(Compute(nllLossOp(64, 100000), vars))
	require.Equal(t, ReductionMean, p.Reduction)
	require.True(t, p.BigC)
	require.Equal(t, int64(12), p.TilingKey())
	require.Equal(t, int64(1), p.BigWeight)
	require.Equal(t, int64(-100), p.IgnoreIndex)
}

func TestTilingFailures(t *testing.T) {
	vars := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 253952}}`))

	op := nllLossOp(16, 10)
	must.M(op.SetInput("weight", operator.NewTensorDesc(dtypes.Float32, shapes.Make(11))))
	_, err := Tiling(op, vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(nllLossOp(0, 10), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(nllLossOp(16, 10), must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8}}`)))
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))

	_, err = Tiling(nllLossOp(16, 10), must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 253952, "reduction": "max"}}`)))
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))
}
