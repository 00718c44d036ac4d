// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package split implements the tiling of the operators cutting a tensor along one axis: Unpack (one output
// per index of the axis, which is removed) and SplitV (outputs of the given sizes along the axis).
//
// Both see the input as [left, axis, right], with left the product of the dimensions before the axis and
// right the product of those after it.
package split

import (
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// UnpackMode of the Unpack kernel.
type UnpackMode int64

const (
	// UnpackModeAligned is used when the right part is a multiple of a block.
	UnpackModeAligned UnpackMode = iota

	// UnpackModeUnaligned is used when the right part is not block aligned: short rows are grouped by core.
	UnpackModeUnaligned

	// UnpackModeBigRight cuts the right part in buffer sized chunks.
	UnpackModeBigRight

	// UnpackModeSingleOutput copies the input to its only output.
	UnpackModeSingleOutput
)

// UnpackParams of the Unpack kernel.
type UnpackParams struct {
	Mode                           UnpackMode
	CoreNum                        int64
	LeftDim, RightDim, OutputNum   int64
	LeftPerCore, LeftLastCore      int64
	UBRight, RightLoops, RightTail int64
}

// Fields returns the tiling data layout.
func (p *UnpackParams) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	return f.Int64("tiling_mode", int64(p.Mode)).
		Int64("core_num", p.CoreNum).
		Int64("left_dim", p.LeftDim).
		Int64("right_dim", p.RightDim).
		Int64("output_num", p.OutputNum).
		Int64("left_per_core", p.LeftPerCore).
		Int64("left_last_core", p.LeftLastCore).
		Int64("ub_right", p.UBRight).
		Int64("right_loops", p.RightLoops).
		Int64("right_tail", p.RightTail)
}

// normalizeAxis returns axis in [0, rank).
func normalizeAxis(axis int64, rank int) (int, error) {
	adjusted := int(axis)
	if adjusted < 0 {
		adjusted += rank
	}
	if adjusted < 0 || adjusted >= rank {
		return 0, tiling.Preconditionf("axis %d out of range for rank %d", axis, rank)
	}
	return adjusted, nil
}

// bufferElems returns the number of elements of one of the two halves of the buffer, block aligned.
func bufferElems(ubSize, dsize int64) (int64, error) {
	elems := xmath.AlignDown(ubSize/dsize/2, tiling.ElemsPerBlock(dsize))
	if elems < 1 {
		return 0, tiling.InvalidCompileInfof("ub_size %d too small", ubSize)
	}
	return elems, nil
}

// ComputeUnpack computes the Unpack parameters.
func ComputeUnpack(op *operator.Operator, vars *compileinfo.Vars) (*UnpackParams, error) {
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
	num, err := operator.Attr[int64](op, "num")
	if err != nil {
		return nil, tiling.Preconditionf("%v", err)
	}
	axisAttr, err := operator.AttrOr(op, "axis", int64(0))
	if err != nil {
		return nil, tiling.Preconditionf("%v", err)
	}
	dims := x.Shape.Int64s()
	axis, err := normalizeAxis(axisAttr, len(dims))
	if err != nil {
		return nil, err
	}
	if dims[axis] != num {
		return nil, tiling.Preconditionf("num=%d does not match the dimension %d of axis %d", num, dims[axis], axis)
	}
	ubElems, err := bufferElems(ubSize, dsize)
	if err != nil {
		return nil, err
	}

	p := &UnpackParams{
		LeftDim:   xmath.Prod(dims[:axis]),
		RightDim:  xmath.Prod(dims[axis+1:]),
		OutputNum: num,
	}
	elemsPerBlock := tiling.ElemsPerBlock(dsize)
	switch {
	case num == 1:
		p.Mode = UnpackModeSingleOutput
	case p.RightDim > ubElems:
		p.Mode = UnpackModeBigRight
	case p.RightDim%elemsPerBlock == 0:
		p.Mode = UnpackModeAligned
	default:
		p.Mode = UnpackModeUnaligned
	}
	leftUnit := int64(1)
	if p.RightDim < elemsPerBlock {
		leftUnit = xmath.CeilDiv(elemsPerBlock, p.RightDim)
	}
	p.CoreNum, p.LeftPerCore, p.LeftLastCore = xmath.Split(p.LeftDim, coreNum, leftUnit)
	if p.RightDim > ubElems {
		p.UBRight = ubElems
		p.RightLoops, p.RightTail = p.RightDim/ubElems, p.RightDim%ubElems
	} else {
		p.UBRight, p.RightLoops = p.RightDim, 1
	}
	return p, nil
}

// UnpackTiling is the tiling of Unpack.
func UnpackTiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := ComputeUnpack(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: mode %d, %d cores", op.Type(), op.Name(), p.Mode, p.CoreNum)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	return &tiling.RunInfo{
		TilingKey: int64(p.Mode),
		BlockDim:  int(p.CoreNum),
		Data:      fields.Bytes(),
	}, nil
}
