// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autotiling

import (
	"slices"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/sets"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
)

// reduceInput returns the shape of the reduced input and the set of its reduce axes, normalized to
// [0, rank). If the operator output is known, it must match the reduction (with "_keep_dims").
func reduceInput(op *operator.Operator, vars *compileinfo.Vars) (dims []int64, axes sets.Set[int], err error) {
	if op.NumInputs() == 0 {
		return nil, nil, tiling.Preconditionf("%s %q has no inputs", op.Type(), op.Name())
	}
	x, err := tiling.ConcreteInput(op, op.InputName(0), false)
	if err != nil {
		return nil, nil, err
	}
	dims = x.Shape.Int64s()
	rawAxes, err := vars.Ints("_reduce_axes")
	if err != nil {
		return nil, nil, err
	}
	axes = sets.Make[int](len(rawAxes))
	for _, axis := range rawAxes {
		adjusted := int(axis)
		if adjusted < 0 {
			adjusted += len(dims)
		}
		if adjusted < 0 || adjusted >= len(dims) {
			return nil, nil, tiling.Preconditionf("reduce axis %d out of range for input shape %s", axis, x.Shape)
		}
		axes.Insert(adjusted)
	}
	keepDims, err := vars.BoolOr("_keep_dims", false)
	if err != nil {
		return nil, nil, err
	}
	if y, yErr := op.OutputByIndex(0); yErr == nil && y.Shape.IsFullyDefined() {
		want := make([]int64, 0, len(dims))
		for axis, dim := range dims {
			switch {
			case !axes.Has(axis):
				want = append(want, dim)
			case keepDims:
				want = append(want, 1)
			}
		}
		if !slices.Equal(y.Shape.Int64s(), want) {
			return nil, nil, tiling.Preconditionf("output has shape %s, but reducing %s on axes %v gives %v (keep_dims=%v)",
				y.Shape, x.Shape, rawAxes, want, keepDims)
		}
	}
	return dims, axes, nil
}

// fuseReduce merges the consecutive axes that are all reduced or all kept. Kept axes of dimension 1 are
// dropped. It returns the fused dimensions and the mask of the reduced ones.
func fuseReduce(dims []int64, axes sets.Set[int]) (fused []int64, mask int64) {
	lastReduced := false
	for axis, dim := range dims {
		reduced := axes.Has(axis)
		if dim == 1 && !reduced {
			continue
		}
		if len(fused) > 0 && reduced == lastReduced {
			fused[len(fused)-1] *= dim
			continue
		}
		if reduced {
			mask |= 1 << len(fused)
		}
		fused = append(fused, dim)
		lastReduced = reduced
	}
	if len(fused) == 0 {
		fused = []int64{1}
	}
	return
}

// isReduced returns whether fused axis is reduced.
func isReduced(mask int64, axis int) bool {
	return mask&(1<<axis) != 0
}

// commReduce splits the outermost kept axis across cores, or the outermost axis if all are reduced.
func commReduce(op *operator.Operator, vars *compileinfo.Vars, hw hardware) (*Params, error) {
	dims, axes, err := reduceInput(op, vars)
	if err != nil {
		return nil, err
	}
	ubElems, err := hw.bufferElems(2)
	if err != nil {
		return nil, err
	}
	p := &Params{}
	p.FusedDims, p.ReduceMask = fuseReduce(dims, axes)
	rank := len(p.FusedDims)
	blockAxis := 0
	switch {
	case p.ReduceMask == 1<<rank-1:
		p.Key = int64(ReduceAll)
	case isReduced(p.ReduceMask, rank-1):
		p.Key = int64(ReduceLast)
	default:
		p.Key = int64(ReduceNonLast)
	}
	if p.Key != int64(ReduceAll) {
		for isReduced(p.ReduceMask, blockAxis) {
			blockAxis++
		}
	}
	p.BlockAxis = int64(blockAxis)
	p.BlockDim, p.BlockFactor, _ = xmath.Split(p.FusedDims[blockAxis], hw.coreNum, 1)
	axis, factor := ubSplit(p.FusedDims, blockAxis, p.BlockFactor, ubElems)
	p.UBAxis, p.UBFactor = int64(axis), factor
	return p, nil
}

// norm reduces the trailing axes: the kept part is split across cores, and each core processes whole
// reduce slices. When a slice doesn't fit the buffer, it is processed in chunks and the partial results go
// to a float32 workspace.
func norm(op *operator.Operator, vars *compileinfo.Vars, hw hardware) (*Params, error) {
	dims, axes, err := reduceInput(op, vars)
	if err != nil {
		return nil, err
	}
	ubElems, err := hw.bufferElems(3)
	if err != nil {
		return nil, err
	}
	p := &Params{}
	p.FusedDims, p.ReduceMask = fuseReduce(dims, axes)
	reduceAxis := len(p.FusedDims) - 1
	if p.ReduceMask != 1<<reduceAxis {
		return nil, tiling.Unsupportedf("Norm must reduce the trailing axes of %v, got reduce mask %b", dims, p.ReduceMask)
	}
	outer := xmath.Prod(p.FusedDims[:reduceAxis])
	p.BlockDim, p.BlockFactor, _ = xmath.Split(outer, hw.coreNum, 1)
	slice := xmath.AlignUp(p.FusedDims[reduceAxis], hw.elemsPerBlock())
	switch {
	case slice > ubElems:
		p.Key = 1
		p.UBAxis, p.UBFactor = int64(reduceAxis), ubElems
		p.Workspace = p.BlockDim * slice * 4
	case reduceAxis == 0:
		p.UBFactor = p.FusedDims[0]
	default:
		p.UBFactor = min(p.BlockFactor, ubElems/slice)
	}
	return p, nil
}
