// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transdata

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

func desc(format operator.Format, dims ...int) operator.TensorDesc {
	return operator.NewTensorDesc(dtypes.Float16, shapes.Make(dims...)).WithFormat(format)
}

func transOp(src, dst operator.TensorDesc) *operator.Operator {
	return operator.New("TransData", "trans").
		AddInput("src", src).
		AddOutput("dst", dst).
		SetAttr("src_format", string(src.Format)).
		SetAttr("dst_format", string(dst.Format))
}

var vars = must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 262144}}`))

func TestTransData(t *testing.T) {
	testCases := []struct {
		name     string
		op       *operator.Operator
		key      Key
		expected []int64
	}{
		{"NCHW to NC1HWC0",
			transOp(desc(operator.FormatNCHW, 2, 20, 7, 7), desc(operator.FormatNC1HWC0, 2, 2, 7, 7, 16)),
			KeyNCHWToNC1HWC0,
			[]int64{0, 4, 1, 1, 1, 2, 20, 7, 7, 2, 2, 7, 7, 16, 4096, 16}},
		{"NC1HWC0 to NCHW",
			transOp(desc(operator.FormatNC1HWC0, 2, 2, 7, 7, 16), desc(operator.FormatNCHW, 2, 20, 7, 7)),
			KeyNC1HWC0ToNCHW,
			[]int64{1, 4, 1, 1, 2, 2, 7, 7, 16, 1, 2, 20, 7, 7, 4096, 16}},
		{"ND to FRACTAL_NZ",
			transOp(desc(operator.FormatND, 3, 40, 50), desc(operator.FormatFractalNZ, 3, 4, 3, 16, 16)),
			KeyNDToFractalNZ,
			[]int64{2, 6, 2, 2, 1, 1, 3, 40, 50, 3, 4, 3, 16, 16, 4096, 16}},
		{"FRACTAL_NZ to ND",
			transOp(desc(operator.FormatFractalNZ, 4, 3, 16, 16), desc(operator.FormatND, 40, 50)),
			KeyFractalNZToND,
			[]int64{3, 4, 1, 1, 1, 4, 3, 16, 16, 1, 1, 1, 40, 50, 4096, 16}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runInfo, err := Tiling(tc.op, vars)
			require.NoError(t, err)
			require.Equal(t, int64(tc.key), runInfo.TilingKey)
			p := must.M1(Compute(tc.op, vars))
			values := must.M1(tilingdata.Decode(runInfo.Data, p.Fields().Kinds()))
			require.Equal(t, tc.expected, values)
			require.Equal(t, int(values[1]), runInfo.BlockDim)
		})
	}
}

func TestTransDataBlockDimCap(t *testing.T) {
	capped := must.M1(compileinfo.ParseVars(`{"vars": {"core_num": 8, "ub_size": 262144, "block_dim": 4}}`))
	op := transOp(desc(operator.FormatND, 3, 40, 50), desc(operator.FormatFractalNZ, 3, 4, 3, 16, 16))
	p := must.M1(Compute(op, capped))
	require.Equal(t, [3]int64{4, 3, 3}, [3]int64{p.CoreNum, p.OuterPerCore, p.OuterLastCore})
}

func TestTransDataFormatsFromTensors(t *testing.T) {
	op := operator.New("TransData", "trans").
		AddInput("src", desc(operator.FormatNCHW, 1, 3, 4, 4)).
		AddOutput("dst", desc(operator.FormatNC1HWC0, 1, 1, 4, 4, 16))
	p := must.M1(Compute(op, vars))
	require.Equal(t, KeyNCHWToNC1HWC0, p.Key)
	require.Equal(t, [MaxRank]int64{1, 1, 4, 4, 16}, p.DstShape)
}

func TestTransDataFailures(t *testing.T) {
	_, err := Tiling(transOp(desc(operator.FormatNHWC, 2, 7, 7, 20), desc(operator.FormatNC1HWC0, 2, 2, 7, 7, 16)), vars)
	require.True(t, errors.Is(err, tiling.ErrUnsupported))

	// C1 of the source doesn't match C=40 of the destination.
	_, err = Tiling(transOp(desc(operator.FormatNC1HWC0, 2, 2, 7, 7, 16), desc(operator.FormatNCHW, 2, 40, 7, 7)), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(transOp(desc(operator.FormatNCHW, 2, 20, 7), desc(operator.FormatNC1HWC0, 2, 2, 7, 7, 16)), vars)
	require.True(t, errors.Is(err, tiling.ErrPrecondition))

	_, err = Tiling(transOp(desc(operator.FormatND, 2, 3, 40, 50), desc(operator.FormatFractalNZ, 2, 3, 4, 3, 16, 16)), vars)
	require.True(t, errors.Is(err, tiling.ErrUnsupported))
}
