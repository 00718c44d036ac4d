// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package padv3 implements the tiling of PadV3: padding with a constant value, by reflection (excluding the
// edge) or by replicating the edge.
//
// The shapes are normalized to MaxRank dimensions by prepending 1s. The output rows (all dimensions but the
// last) are split across cores, and the last dimension is either moved several rows per buffer pass (small
// last dim) or cut in chunks (big last dim).
package padv3

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

// MaxRank is the rank shapes are normalized to.
const MaxRank = 8

// Mode of padding.
type Mode int

const (
	ModeConstant Mode = iota
	ModeReflect
	ModeEdge
)

// ParseMode parses the "mode" attribute.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "constant":
		return ModeConstant, nil
	case "reflect":
		return ModeReflect, nil
	case "edge":
		return ModeEdge, nil
	}
	return 0, tiling.Unsupportedf("pad mode %q", s)
}

// Key returns the tiling key: each mode has a small and a big last dimension variant.
func (m Mode) Key(bigLastDim bool) int64 {
	key := 2 * int64(m)
	if bigLastDim {
		key++
	}
	return key
}

// Params of the PadV3 kernel.
type Params struct {
	Mode                              Mode
	BigLastDim                        bool
	NCores, CoreRows, LastCoreRows    int64
	InShape, OutShape                 [MaxRank]int64
	PadBefore, PadAfter               [MaxRank]int64
	UBRows, LastDimLoops, LastDimTail int64
}

// TilingKey returns the kernel variant.
func (p *Params) TilingKey() int64 {
	return p.Mode.Key(p.BigLastDim)
}

// Fields returns the tiling data layout.
func (p *Params) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	return f.Int64("tiling_key", p.TilingKey()).
		Int64("ncores", p.NCores).
		Int64("core_rows", p.CoreRows).
		Int64("last_core_rows", p.LastCoreRows).
		Int64s("in_shape", p.InShape[:]).
		Int64s("out_shape", p.OutShape[:]).
		Int64s("pad_before", p.PadBefore[:]).
		Int64s("pad_after", p.PadAfter[:]).
		Int64("ub_rows", p.UBRows).
		Int64("last_dim_loops", p.LastDimLoops).
		Int64("last_dim_tail", p.LastDimTail)
}

// normalize right-aligns values into MaxRank slots, filling the leading ones with fill.
func normalize(values []int64, fill int64) (out [MaxRank]int64) {
	offset := MaxRank - len(values)
	for ii := range offset {
		out[ii] = fill
	}
	copy(out[offset:], values)
	return
}

// paddings reads the constant paddings input.
func paddings(op *operator.Operator, rank int) (before, after []int64, err error) {
	desc, err := op.Input("paddings")
	if err != nil {
		return nil, nil, tiling.Preconditionf("%v", err)
	}
	if !desc.HasConst {
		return nil, nil, tiling.Preconditionf("paddings must be a constant input")
	}
	contiguous, err := operator.AttrOr(op, "paddings_contiguous", true)
	if err != nil {
		return nil, nil, tiling.Preconditionf("%v", err)
	}
	before, after, err = shapeinference.PaddingsFromConst(desc.Const, rank, contiguous)
	if err != nil {
		return nil, nil, tiling.Preconditionf("%v", err)
	}
	return
}

// Compute the PadV3 parameters.
func Compute(op *operator.Operator, vars *compileinfo.Vars) (*Params, error) {
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
	// dtype_rate is the element width in units of 2 bytes.
	dtypeRate, err := vars.IntOr("dtype_rate", max(1, dsize/2))
	if err != nil {
		return nil, err
	}
	if dtypeRate <= 0 {
		return nil, tiling.InvalidCompileInfof("dtype_rate must be positive, got %d", dtypeRate)
	}
	modeName, err := operator.AttrOr(op, "mode", "constant")
	if err != nil {
		return nil, tiling.Preconditionf("%v", err)
	}
	mode, err := ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	dims := x.Shape.Int64s()
	rank := len(dims)
	if rank > MaxRank {
		return nil, tiling.Unsupportedf("rank %d > %d", rank, MaxRank)
	}
	before, after, err := paddings(op, rank)
	if err != nil {
		return nil, err
	}
	outDims := slices.Clone(dims)
	for axis := range rank {
		if before[axis] < 0 || after[axis] < 0 {
			return nil, tiling.Preconditionf("paddings of axis %d must be non-negative, got (%d, %d)", axis, before[axis], after[axis])
		}
		if mode == ModeReflect && (before[axis] >= dims[axis] || after[axis] >= dims[axis]) {
			return nil, tiling.Preconditionf("reflect paddings of axis %d must be smaller than its dimension %d, got (%d, %d)",
				axis, dims[axis], before[axis], after[axis])
		}
		outDims[axis] += before[axis] + after[axis]
	}

	p := &Params{
		Mode:      mode,
		InShape:   normalize(dims, 1),
		OutShape:  normalize(outDims, 1),
		PadBefore: normalize(before, 0),
		PadAfter:  normalize(after, 0),
	}
	inLast, outLast := p.InShape[MaxRank-1], p.OutShape[MaxRank-1]
	rows := xmath.Prod(p.OutShape[:MaxRank-1])

	// Rows shorter than a block are grouped so that no two cores write the same block.
	elemsPerBlock := tiling.ElemsPerBlock(dsize)
	rowUnit := int64(1)
	if outLast < elemsPerBlock {
		rowUnit = xmath.CeilDiv(elemsPerBlock, outLast)
	}
	p.NCores, p.CoreRows, p.LastCoreRows = xmath.Split(rows, coreNum, rowUnit)

	ubElems := ubSize / (2 * dtypeRate)
	rowElems := xmath.AlignUp(inLast, elemsPerBlock) + xmath.AlignUp(outLast, elemsPerBlock)
	if rowElems <= ubElems {
		p.UBRows = ubElems / rowElems
		p.LastDimLoops = 1
	} else {
		p.BigLastDim = true
		chunk := xmath.AlignDown(ubElems/2, elemsPerBlock)
		if chunk < 1 {
			return nil, tiling.InvalidCompileInfof("ub_size %d too small", ubSize)
		}
		p.UBRows = 1
		p.LastDimLoops, p.LastDimTail = outLast/chunk, outLast%chunk
	}
	return p, nil
}

// Tiling of PadV3.
func Tiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := Compute(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: key %d, %d cores x %d rows", op.Type(), op.Name(), p.TilingKey(), p.NCores, p.CoreRows)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	return &tiling.RunInfo{
		TilingKey: p.TilingKey(),
		BlockDim:  int(p.NCores),
		Data:      fields.Bytes(),
	}, nil
}
