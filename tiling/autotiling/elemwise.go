// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autotiling

import (
	"slices"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
)

// inputShapes returns the concrete shapes of all inputs.
func inputShapes(op *operator.Operator) ([][]int64, error) {
	if op.NumInputs() == 0 {
		return nil, tiling.Preconditionf("%s %q has no inputs", op.Type(), op.Name())
	}
	all := make([][]int64, op.NumInputs())
	for ii := range all {
		x, err := tiling.ConcreteInput(op, op.InputName(ii), false)
		if err != nil {
			return nil, err
		}
		all[ii] = x.Shape.Int64s()
	}
	return all, nil
}

// elemWise flattens the operands, all of the same shape, into one dimension split by blocks.
func elemWise(op *operator.Operator, hw hardware) (*Params, error) {
	inputs, err := inputShapes(op)
	if err != nil {
		return nil, err
	}
	for ii, dims := range inputs[1:] {
		if !slices.Equal(dims, inputs[0]) {
			return nil, tiling.Preconditionf("input #%d has shape %v, but input #0 has shape %v", ii+1, dims, inputs[0])
		}
	}
	ubElems, err := hw.bufferElems(op.NumInputs() + 1)
	if err != nil {
		return nil, err
	}
	p := &Params{FusedDims: []int64{xmath.Prod(inputs[0])}}
	p.BlockDim, p.BlockFactor, _ = xmath.Split(p.FusedDims[0], hw.coreNum, hw.elemsPerBlock())
	axis, factor := ubSplit(p.FusedDims, 0, p.BlockFactor, ubElems)
	p.UBAxis, p.UBFactor = int64(axis), factor
	return p, nil
}

// broadcastShape returns the shape of the output of the broadcast of the inputs, and the inputs aligned to
// its rank with leading 1s.
func broadcastShape(inputs [][]int64) (output []int64, aligned [][]int64, err error) {
	rank := 0
	for _, dims := range inputs {
		rank = max(rank, len(dims))
	}
	output = make([]int64, rank)
	for axis := range output {
		output[axis] = 1
	}
	aligned = make([][]int64, len(inputs))
	for ii, dims := range inputs {
		aligned[ii] = make([]int64, rank)
		offset := rank - len(dims)
		for axis := range rank {
			dim := int64(1)
			if axis >= offset {
				dim = dims[axis-offset]
			}
			aligned[ii][axis] = dim
			switch {
			case dim == output[axis] || dim == 1:
			case output[axis] == 1:
				output[axis] = dim
			default:
				return nil, nil, tiling.Preconditionf("input shapes %v are not broadcast compatible on axis %d", inputs, axis)
			}
		}
	}
	return
}

// fuseBroadcast merges the consecutive axes where each input is either broadcast on both or on neither.
// Axes of dimension 1 in the output are dropped.
func fuseBroadcast(output []int64, aligned [][]int64) []int64 {
	var fused []int64
	var lastSignature []bool
	for axis, dim := range output {
		if dim == 1 {
			continue
		}
		signature := make([]bool, len(aligned))
		for ii, dims := range aligned {
			signature[ii] = dims[axis] == 1
		}
		if len(fused) > 0 && slices.Equal(signature, lastSignature) {
			fused[len(fused)-1] *= dim
			continue
		}
		fused = append(fused, dim)
		lastSignature = signature
	}
	if len(fused) == 0 {
		fused = []int64{1}
	}
	return fused
}

// broadcast fuses the axes of the output, splits the outermost fused axis across cores and the innermost
// ones across buffer passes.
func broadcast(op *operator.Operator, hw hardware) (*Params, error) {
	inputs, err := inputShapes(op)
	if err != nil {
		return nil, err
	}
	output, aligned, err := broadcastShape(inputs)
	if err != nil {
		return nil, err
	}
	if y, yErr := op.OutputByIndex(0); yErr == nil && y.Shape.IsFullyDefined() && !slices.Equal(y.Shape.Int64s(), output) {
		return nil, tiling.Preconditionf("output has shape %s, but the inputs broadcast to %v", y.Shape, output)
	}
	ubElems, err := hw.bufferElems(op.NumInputs() + 1)
	if err != nil {
		return nil, err
	}
	p := &Params{FusedDims: fuseBroadcast(output, aligned)}
	unit := int64(1)
	if len(p.FusedDims) == 1 {
		unit = hw.elemsPerBlock()
	}
	p.BlockDim, p.BlockFactor, _ = xmath.Split(p.FusedDims[0], hw.coreNum, unit)
	axis, factor := ubSplit(p.FusedDims, 0, p.BlockFactor, ubElems)
	p.UBAxis, p.UBFactor = int64(axis), factor
	return p, nil
}
