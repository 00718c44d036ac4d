// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package split

import (
	"slices"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/shapeinference"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SplitVMode of the SplitV kernel.
type SplitVMode int64

const (
	// SplitVModeContiguous is used when each output is a contiguous slab of the input (nothing before the
	// axis). The core split counts elements instead of outer rows.
	SplitVModeContiguous SplitVMode = iota

	// SplitVModeLastDim splits along the last dimension.
	SplitVModeLastDim

	// SplitVModeGeneral splits along an inner axis.
	SplitVModeGeneral
)

// SplitVParams of the SplitV kernel.
type SplitVParams struct {
	Mode                                 SplitVMode
	SplitDim, NumSplit                   int64
	InputSize, Outer, Inner              int64
	CoreNum, OuterPerCore, OuterLastCore int64
	UBElems, MaxSplit                    int64
	Sizes                                []int64
}

// Fields returns the tiling data layout: the fixed fields followed by the size of each output.
func (p *SplitVParams) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	return f.Int64("tiling_mode", int64(p.Mode)).
		Int64("split_dim", p.SplitDim).
		Int64("num_split", p.NumSplit).
		Int64("input_size", p.InputSize).
		Int64("outer", p.Outer).
		Int64("inner", p.Inner).
		Int64("core_num", p.CoreNum).
		Int64("outer_per_core", p.OuterPerCore).
		Int64("outer_last_core", p.OuterLastCore).
		Int64("ub_elems", p.UBElems).
		Int64("max_split", p.MaxSplit).
		Int64s("size_split", p.Sizes)
}

// splitAxis reads the split axis from the constant "split_dim" input, or from the attribute of the same name.
func splitAxis(op *operator.Operator, rank int) (int, error) {
	if desc, err := op.Input("split_dim"); err == nil && desc.HasConst {
		if len(desc.Const) != 1 {
			return 0, tiling.Preconditionf("split_dim must be a scalar, got %v", desc.Const)
		}
		return normalizeAxis(desc.Const[0], rank)
	}
	value, err := operator.Attr[int64](op, "split_dim")
	if err != nil {
		return 0, tiling.Preconditionf("split_dim must be a constant input or an attribute: %v", err)
	}
	return normalizeAxis(value, rank)
}

// ComputeSplitV computes the SplitV parameters.
func ComputeSplitV(op *operator.Operator, vars *compileinfo.Vars) (*SplitVParams, error) {
	coreNum, ubSize, err := vars.Hardware("core_num", "ub_size")
	if err != nil {
		return nil, err
	}
	x, err := tiling.ConcreteInput(op, "x", false)
	if err != nil {
		return nil, err
	}
	dsize, err := tiling.DTypeSize(x)
	if err != nil {
		return nil, err
	}
	dims := x.Shape.Int64s()
	axis, err := splitAxis(op, len(dims))
	if err != nil {
		return nil, err
	}
	numSplit, err := operator.Attr[int64](op, "num_split")
	if err != nil {
		return nil, tiling.Preconditionf("%v", err)
	}
	sizesDesc, err := op.Input("size_splits")
	if err != nil || !sizesDesc.HasConst {
		return nil, tiling.Preconditionf("size_splits must be a constant input")
	}
	if int64(len(sizesDesc.Const)) != numSplit {
		return nil, tiling.Preconditionf("size_splits has %d entries, but num_split is %d", len(sizesDesc.Const), numSplit)
	}
	sizes, err := shapeinference.ResolveSizeSplits(sizesDesc.Const, dims[axis])
	if err != nil {
		return nil, tiling.Preconditionf("%v", err)
	}
	ubElems, err := bufferElems(ubSize, dsize)
	if err != nil {
		return nil, err
	}

	p := &SplitVParams{
		SplitDim:  int64(axis),
		NumSplit:  numSplit,
		InputSize: xmath.Prod(dims),
		Outer:     xmath.Prod(dims[:axis]),
		Inner:     xmath.Prod(dims[axis+1:]),
		UBElems:   ubElems,
		MaxSplit:  slices.Max(sizes),
		Sizes:     sizes,
	}
	switch {
	case p.Outer == 1:
		p.Mode = SplitVModeContiguous
		p.CoreNum, p.OuterPerCore, p.OuterLastCore = xmath.Split(p.InputSize, coreNum, tiling.ElemsPerBlock(dsize))
		return p, nil
	case axis == len(dims)-1:
		p.Mode = SplitVModeLastDim
	default:
		p.Mode = SplitVModeGeneral
	}
	p.CoreNum, p.OuterPerCore, p.OuterLastCore = xmath.Split(p.Outer, coreNum, 1)
	return p, nil
}

// SplitVTiling is the tiling of SplitV.
func SplitVTiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := ComputeSplitV(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: mode %d, %d cores, sizes %v", op.Type(), op.Name(), p.Mode, p.CoreNum, p.Sizes)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	return &tiling.RunInfo{
		TilingKey: int64(p.Mode),
		BlockDim:  int(p.CoreNum),
		Data:      fields.Bytes(),
	}, nil
}
