// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cube implements the tiling of the cube operators (convolutions, their gradients and the matrix
// multiplications) by searching the precomputed tables of their compile info.
//
// Each operator maps its runtime shapes to a search Point and to the values of the dynamic variables
// named by the table's "_vars". The tiling id selected by Search becomes the tiling key, and the tiling
// data holds one int32 per variable, in the declared order.
package cube

import (
	"strconv"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/pkg/support/xslices"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GemmBlock is the number of elements of one fractal block along m, k and n of the matrix multiplications.
const GemmBlock = 16

// query is what an operator contributes to the search: the point and the values of its variables.
type query struct {
	point  Point
	values map[string]int64
}

type family struct {
	policy  compileinfo.FuzzyPolicy
	extract func(op *operator.Operator) (*query, error)
}

var families = map[string]family{
	"Conv2D":               {compileinfo.FuzzyExtend, conv2D},
	"Conv2DTranspose":      {compileinfo.FuzzyExtend, conv2DBackpropInput("x")},
	"Conv2DBackpropInput":  {compileinfo.FuzzyExtendOverrideBlockDim, conv2DBackpropInput("out_backprop")},
	"Conv2DBackpropFilter": {compileinfo.FuzzyExtendKeepVars, conv2DBackpropFilter},
	"Conv3D":               {compileinfo.FuzzyExtend, conv3D},
	"Conv3DTranspose":      {compileinfo.FuzzyExtend, conv3DBackpropInput("x")},
	"Conv3DBackpropInput":  {compileinfo.FuzzyExtendOverrideBlockDim, conv3DBackpropInput("out_backprop")},
	"Conv3DBackpropFilter": {compileinfo.FuzzyExtendKeepVars, conv3DBackpropFilter},
	"MatMul":               {compileinfo.FuzzyUnsupported, gemm("transpose_x1", "transpose_x2")},
	"MatMulV2":             {compileinfo.FuzzyUnsupported, gemm("transpose_x1", "transpose_x2")},
	"BatchMatMul":          {compileinfo.FuzzyUnsupported, gemm("adj_x1", "adj_x2")},
	"BatchMatMulV2":        {compileinfo.FuzzyUnsupported, gemm("adj_x1", "adj_x2")},
}

// Supports returns whether the operator type is tiled by this package.
func Supports(opType string) bool {
	_, found := families[opType]
	return found
}

// Types returns the sorted operator types tiled by this package.
func Types() []string {
	return xslices.SortedKeys(families)
}

// Policy returns the fuzzy build policy of the operator type.
func Policy(opType string) compileinfo.FuzzyPolicy {
	return families[opType].policy
}

// Parser returns the compile info parser of the operator type, for compileinfo.Load.
func Parser(opType string) func(text string) (*compileinfo.CubeTable, error) {
	policy := Policy(opType)
	return func(text string) (*compileinfo.CubeTable, error) {
		return compileinfo.ParseCube(text, policy)
	}
}

// batchOnly returns whether the only dynamic variable of the table is the batch.
// Tables without "_vars" are batch-only if they only carry "tiling_range".
func batchOnly(table *compileinfo.CubeTable) bool {
	if table.Vars == nil || table.Vars.Len() == 0 {
		return table.TilingRange != nil && table.RepoRange == nil && table.CostRange == nil
	}
	names := table.Vars.Oldest().Value
	return len(names) == 1 && (names[0] == "batch_n" || names[0] == "batch")
}

// Tiling searches the table for the tiling of the operator.
//
// The tiling id selected is returned as RunInfo.TilingKey only: the tiling data holds just the declared
// dynamic variables, as int32 in "_vars" order.
func Tiling(op *operator.Operator, table *compileinfo.CubeTable) (*tiling.RunInfo, error) {
	fam, found := families[op.Type()]
	if !found {
		return nil, tiling.Unsupportedf("no cube tiling for operator type %s", op.Type())
	}
	q, err := fam.extract(op)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	id, err := Search(table, q.point, batchOnly(table))
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, tiling.InvalidCompileInfof("tiling id %q is not an integer", id)
	}
	blockDim, err := table.BlockDimOf(id)
	if err != nil {
		return nil, err
	}
	names, err := table.VarNames(id)
	if err != nil {
		return nil, err
	}
	var fields tilingdata.Fields
	for _, name := range names {
		value, found := q.values[name]
		if !found {
			return nil, tiling.InvalidCompileInfof("%s has no dynamic variable named %q", op.Type(), name)
		}
		if err := tilingdata.CheckInt32(name, value); err != nil {
			return nil, tiling.Preconditionf("%s %q: %v", op.Type(), op.Name(), err)
		}
		fields.Int32(name, value)
	}
	klog.V(1).Infof("%s %q: point %s -> tiling id %q, block_dim %d", op.Type(), op.Name(), q.point, id, blockDim)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), &fields)
	return &tiling.RunInfo{
		TilingKey: key,
		BlockDim:  int(blockDim),
		Data:      fields.Bytes(),
	}, nil
}

// nhw returns the batch, height and width of a 2D feature map.
func nhw(desc operator.TensorDesc) (n, h, w int64, err error) {
	dims := desc.Shape.Int64s()
	switch {
	case desc.Format == operator.FormatNHWC && len(dims) == 4:
		return dims[0], dims[1], dims[2], nil
	case (desc.Format == operator.FormatNCHW || desc.Format == operator.FormatND || desc.Format == "") && len(dims) == 4,
		desc.Format == operator.FormatNC1HWC0 && len(dims) == 5:
		return dims[0], dims[2], dims[3], nil
	}
	return 0, 0, 0, tiling.Unsupportedf("feature map %s of format %s", desc.Shape, desc.Format)
}

// ndhw returns the batch, depth, height and width of a 3D feature map.
func ndhw(desc operator.TensorDesc) (n, d, h, w int64, err error) {
	dims := desc.Shape.Int64s()
	format := desc.Format
	if format == operator.FormatND || format == "" {
		switch len(dims) {
		case 5:
			format = operator.FormatNDHWC
		case 6:
			format = operator.FormatNDC1HWC0
		}
	}
	switch {
	case format == operator.FormatNDHWC && len(dims) == 5:
		return dims[0], dims[1], dims[2], dims[3], nil
	case format == operator.FormatNCDHW && len(dims) == 5:
		return dims[0], dims[2], dims[3], dims[4], nil
	case format == operator.FormatNDC1HWC0 && len(dims) == 6:
		return dims[0], dims[1], dims[3], dims[4], nil
	}
	return 0, 0, 0, 0, tiling.Unsupportedf("feature map %s of format %s", desc.Shape, desc.Format)
}

// maps2D returns the (n, h, w) of the named input and the named output of the operator.
func maps2D(op *operator.Operator, input, output string, outputIsInput bool) (in, out [3]int64, err error) {
	inDesc, err := tiling.ConcreteInput(op, input, false)
	if err != nil {
		return
	}
	var outDesc operator.TensorDesc
	if outputIsInput {
		outDesc, err = tiling.ConcreteInput(op, output, false)
	} else {
		outDesc, err = tiling.ConcreteOutput(op, output)
	}
	if err != nil {
		return
	}
	if in[0], in[1], in[2], err = nhw(inDesc); err != nil {
		return
	}
	out[0], out[1], out[2], err = nhw(outDesc)
	return
}

func maps3D(op *operator.Operator, input, output string, outputIsInput bool) (in, out [4]int64, err error) {
	inDesc, err := tiling.ConcreteInput(op, input, false)
	if err != nil {
		return
	}
	var outDesc operator.TensorDesc
	if outputIsInput {
		outDesc, err = tiling.ConcreteInput(op, output, false)
	} else {
		outDesc, err = tiling.ConcreteOutput(op, output)
	}
	if err != nil {
		return
	}
	if in[0], in[1], in[2], in[3], err = ndhw(inDesc); err != nil {
		return
	}
	out[0], out[1], out[2], out[3], err = ndhw(outDesc)
	return
}

func point2D(dims [3]int64) Point {
	return Point{Dims: dims[:], Batch: 0, Optional: -1, Skip: -1}
}

// point3D searches (N, D, H, W): the batch pair of the ranges is optional, and the batch is excluded from
// the seed distance.
func point3D(dims [4]int64) Point {
	return Point{Dims: dims[:], Batch: 0, Optional: 0, Skip: 0}
}

func conv2D(op *operator.Operator) (*query, error) {
	fmap, out, err := maps2D(op, "x", "y", false)
	if err != nil {
		return nil, err
	}
	return &query{
		point: point2D(fmap),
		values: map[string]int64{
			"batch_n": fmap[0], "fmap_h": fmap[1], "ho": out[1], "fmap_w": fmap[2], "wo": out[2],
		},
	}, nil
}

// conv2DBackpropInput searches the output gradient (dedy), read from the named input.
func conv2DBackpropInput(dedyInput string) func(op *operator.Operator) (*query, error) {
	return func(op *operator.Operator) (*query, error) {
		dedy, dx, err := maps2D(op, dedyInput, "y", false)
		if err != nil {
			return nil, err
		}
		return &query{
			point: point2D(dedy),
			values: map[string]int64{
				"batch_n": dedy[0], "dedy_h": dedy[1], "dx_h": dx[1], "dedy_w": dedy[2], "dx_w": dx[2],
			},
		}, nil
	}
}

func conv2DBackpropFilter(op *operator.Operator) (*query, error) {
	fmap, dedy, err := maps2D(op, "x", "out_backprop", true)
	if err != nil {
		return nil, err
	}
	return &query{
		point: point2D(fmap),
		values: map[string]int64{
			"batch": fmap[0], "fmap_h": fmap[1], "ho": dedy[1], "fmap_w": fmap[2], "wo": dedy[2],
		},
	}, nil
}

func conv3D(op *operator.Operator) (*query, error) {
	fmap, out, err := maps3D(op, "x", "y", false)
	if err != nil {
		return nil, err
	}
	return &query{
		point: point3D(fmap),
		values: map[string]int64{
			"batch_n": fmap[0],
			"fmap_d":  fmap[1], "d_out": out[1],
			"fmap_h": fmap[2], "h_out": out[2],
			"fmap_w": fmap[3], "w_out": out[3],
		},
	}, nil
}

func conv3DBackpropInput(dedyInput string) func(op *operator.Operator) (*query, error) {
	return func(op *operator.Operator) (*query, error) {
		dedy, dx, err := maps3D(op, dedyInput, "y", false)
		if err != nil {
			return nil, err
		}
		return &query{
			point: point3D(dedy),
			values: map[string]int64{
				"batch_n": dedy[0],
				"dedy_d":  dedy[1], "dx_d": dx[1],
				"dedy_h": dedy[2], "dx_h": dx[2],
				"dedy_w": dedy[3], "dx_w": dx[3],
			},
		}, nil
	}
}

func conv3DBackpropFilter(op *operator.Operator) (*query, error) {
	fmap, dedy, err := maps3D(op, "x", "out_backprop", true)
	if err != nil {
		return nil, err
	}
	return &query{
		point: point3D(fmap),
		values: map[string]int64{
			"batch":  fmap[0],
			"fmap_d": fmap[1], "dedy_d": dedy[1],
			"fmap_h": fmap[2], "dedy_h": dedy[2],
			"fmap_w": fmap[3], "dedy_w": dedy[3],
		},
	}, nil
}

// gemm searches (m, k, n, batch), with m, k and n counted in GemmBlock elements and the batch being the
// product of the leading dimensions of x1. Seeds and ranges may omit the batch.
func gemm(transposeX1, transposeX2 string) func(op *operator.Operator) (*query, error) {
	return func(op *operator.Operator) (*query, error) {
		x1, err := tiling.ConcreteInput(op, "x1", false)
		if err != nil {
			return nil, err
		}
		x2, err := tiling.ConcreteInput(op, "x2", false)
		if err != nil {
			return nil, err
		}
		if x1.Shape.Rank() < 2 || x2.Shape.Rank() < 2 {
			return nil, tiling.Preconditionf("x1 %s and x2 %s must have rank >= 2", x1.Shape, x2.Shape)
		}
		t1, err := operator.AttrOr(op, transposeX1, false)
		if err != nil {
			return nil, err
		}
		t2, err := operator.AttrOr(op, transposeX2, false)
		if err != nil {
			return nil, err
		}
		d1, d2 := x1.Shape.Int64s(), x2.Shape.Int64s()
		m, k := d1[len(d1)-2], d1[len(d1)-1]
		if t1 {
			m, k = k, m
		}
		k2, n := d2[len(d2)-2], d2[len(d2)-1]
		if t2 {
			k2, n = n, k2
		}
		if k != k2 {
			return nil, tiling.Preconditionf("contracting dimensions differ: x1 %s has k=%d, x2 %s has k=%d", x1.Shape, k, x2.Shape, k2)
		}
		batch := xmath.Prod(d1[:len(d1)-2])
		mb, kb, nb := xmath.CeilDiv(m, GemmBlock), xmath.CeilDiv(k, GemmBlock), xmath.CeilDiv(n, GemmBlock)
		return &query{
			point:  Point{Dims: []int64{mb, kb, nb, batch}, Batch: 3, Optional: 3, Skip: -1},
			values: map[string]int64{"m": mb, "k": kb, "n": nb, "batch": batch},
		}, nil
	}
}
