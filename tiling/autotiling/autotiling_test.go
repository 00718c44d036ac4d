// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autotiling

import (
	"fmt"
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

func compileInfo(pattern string, extra string) *compileinfo.Vars {
	return must.M1(compileinfo.ParseVars(fmt.Sprintf(
		`{"_pattern": %q, "_core_num": 32, "_ub_size": 262144%s}`, pattern, extra)))
}

func multiInputOp(opType string, dtype dtypes.DType, inputs ...[]int) *operator.Operator {
	op := operator.New(opType, "op")
	for ii, dims := range inputs {
		op.AddInput(fmt.Sprintf("x%d", ii), operator.NewTensorDesc(dtype, shapes.Make(dims...)))
	}
	return op
}

func decode(t *testing.T, runInfo *tiling.RunInfo, p *Params) []int64 {
	values, err := tilingdata.Decode(runInfo.Data, p.Fields().Kinds())
	require.NoError(t, err)
	return values
}

func TestPatterns(t *testing.T) {
	testCases := []struct {
		name     string
		op       *operator.Operator
		vars     *compileinfo.Vars
		key      int64
		expected []int64
	}{
		{"elementwise",
			multiInputOp("Add", dtypes.Float32, []int{1024, 1024}, []int{1024, 1024}),
			compileInfo("ElemWise", ""), 0,
			[]int64{0, 32, 0, 32768, 0, 21840, 1, 1048576, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"broadcast",
			multiInputOp("Mul", dtypes.Float16, []int{8, 16, 4, 5}, []int{4, 5}),
			compileInfo("Broadcast", ""), 0,
			[]int64{1, 32, 0, 4, 0, 4, 2, 128, 20, 0, 0, 0, 0, 0, 0, 0}},
		{"reduce last",
			multiInputOp("ReduceSum", dtypes.Float32, []int{8, 16, 32, 64}),
			compileInfo("CommReduce", `, "_reduce_axes": [2, 3]`), int64(ReduceLast),
			[]int64{2, 32, 0, 4, 0, 4, 2, 128, 2048, 0, 0, 0, 0, 0, 0, 2}},
		{"reduce non last",
			multiInputOp("ReduceMax", dtypes.Float32, []int{64, 1000, 16}),
			compileInfo("CommReduce", `, "_reduce_axes": [1]`), int64(ReduceNonLast),
			[]int64{2, 32, 0, 2, 0, 2, 3, 64, 1000, 16, 0, 0, 0, 0, 0, 2}},
		{"reduce all",
			multiInputOp("ReduceSum", dtypes.Float32, []int{4, 4096}),
			compileInfo("CommReduce", `, "_reduce_axes": [-1, 0, 1]`), int64(ReduceAll),
			[]int64{2, 32, 0, 512, 0, 512, 1, 16384, 0, 0, 0, 0, 0, 0, 0, 1}},
		{"norm",
			multiInputOp("LayerNorm", dtypes.Float16, []int{64, 8, 256}),
			compileInfo("Norm", `, "_reduce_axes": [-1]`), 0,
			[]int64{3, 32, 0, 16, 0, 16, 2, 512, 256, 0, 0, 0, 0, 0, 0, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runInfo, err := Tiling(tc.op, tc.vars)
			require.NoError(t, err)
			require.Equal(t, tc.key, runInfo.TilingKey)
			require.Equal(t, int(tc.expected[1]), runInfo.BlockDim)
			require.Empty(t, runInfo.Workspaces)
			p := must.M1(Compute(tc.op, tc.vars))
			require.Equal(t, 16, p.Fields().Len())
			require.Equal(t, tc.expected, decode(t, runInfo, p))
		})
	}
}

func TestNormWorkspace(t *testing.T) {
	op := multiInputOp("SoftmaxV2", dtypes.Float32, []int{4, 100000})
	vars := compileInfo("Norm", `, "_reduce_axes": [1]`)
	runInfo, err := Tiling(op, vars)
	require.NoError(t, err)
	require.Equal(t, int64(1), runInfo.TilingKey)
	require.Equal(t, []int64{1600000}, runInfo.Workspaces)
	p := must.M1(Compute(op, vars))
	require.Equal(t, []int64{3, 4, 0, 1, 1, 21840, 2, 4, 100000, 0, 0, 0, 0, 0, 0, 2}, decode(t, runInfo, p))
}

func TestFuseBroadcast(t *testing.T) {
	output, aligned := must.M2(broadcastShape([][]int64{{2, 1, 3, 4}, {2, 5, 1, 1}, {1, 1, 4}}))
	require.Equal(t, []int64{2, 5, 3, 4}, output)
	require.Equal(t, []int64{1, 1, 1, 4}, aligned[2])
	require.Equal(t, []int64{2, 5, 3, 4}, fuseBroadcast(output, aligned))

	output, aligned = must.M2(broadcastShape([][]int64{{6, 1, 7}, {6, 1, 7}}))
	require.Equal(t, []int64{42}, fuseBroadcast(output, aligned))
	output, aligned = must.M2(broadcastShape([][]int64{{1, 1}}))
	require.Equal(t, []int64{1}, fuseBroadcast(output, aligned))
}

func TestKeepDims(t *testing.T) {
	vars := compileInfo("CommReduce", `, "_reduce_axes": [2, 3], "_keep_dims": true`)
	op := multiInputOp("ReduceSum", dtypes.Float32, []int{8, 16, 32, 64}).
		AddOutput("y", operator.NewTensorDesc(dtypes.Float32, shapes.Make(8, 16, 1, 1)))
	_, err := Tiling(op, vars)
	require.NoError(t, err)

	op = multiInputOp("ReduceSum", dtypes.Float32, []int{8, 16, 32, 64}).
		AddOutput("y", operator.NewTensorDesc(dtypes.Float32, shapes.Make(8, 16)))
	_, err = Tiling(op, vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))
}

func TestFailures(t *testing.T) {
	op := multiInputOp("Add", dtypes.Float32, []int{16})
	_, err := Tiling(op, compileInfo("Gather", ""))
	require.True(t, errors.Is(err, tiling.ErrUnsupported))

	_, err = Tiling(op, must.M1(compileinfo.ParseVars(`{"_core_num": 32, "_ub_size": 262144}`)))
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))

	_, err = Tiling(op, compileInfo("CommReduce", ""))
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))

	_, err = Tiling(multiInputOp("Add", dtypes.Float32, []int{16}, []int{8}), compileInfo("ElemWise", ""))
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(multiInputOp("Add", dtypes.Float32, []int{3, 4}, []int{5, 4}), compileInfo("Broadcast", ""))
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	op = multiInputOp("Mul", dtypes.Float32, []int{8, 16, 4, 5}, []int{4, 5}).
		AddOutput("y", operator.NewTensorDesc(dtypes.Float32, shapes.Make(8, 16, 4, 6)))
	_, err = Tiling(op, compileInfo("Broadcast", ""))
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	// Alternating broadcast axes can't be fused.
	op = multiInputOp("Add", dtypes.Float32, []int{2, 1, 2, 1, 2, 1, 2, 1, 2}, []int{1, 2, 1, 2, 1, 2, 1, 2, 1})
	_, err = Tiling(op, compileInfo("Broadcast", ""))
	require.True(t, errors.Is(err, tiling.ErrUnsupported))

	_, err = Tiling(multiInputOp("LayerNorm", dtypes.Float32, []int{8, 16, 32}), compileInfo("Norm", `, "_reduce_axes": [1]`))
	require.True(t, errors.Is(err, tiling.ErrUnsupported))

	_, err = Tiling(multiInputOp("ReduceSum", dtypes.Float32, []int{8, 16}), compileInfo("CommReduce", `, "_reduce_axes": [2]`))
	require.True(t, errors.Is(err, tiling.ErrPrecondition))
}
