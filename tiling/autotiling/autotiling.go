// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autotiling implements the generic tiling of the operators compiled by pattern instead of with
// a hand written kernel: element-wise, broadcast, reduction and normalization operators.
//
// The compile info names the pattern ("_pattern") and the hardware ("_core_num", "_ub_size"). Each pattern
// first fuses the axes of the output into as few dimensions as possible, then picks one axis to split
// across cores (the block axis) and one axis to split across buffer passes (the ub axis).
package autotiling

import (
	"slices"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pattern of an auto tiled operator.
type Pattern int64

const (
	ElemWise Pattern = iota
	Broadcast
	CommReduce
	Norm
)

var patternNames = []string{"ElemWise", "Broadcast", "CommReduce", "Norm"}

// PatternNames returns the names of the patterns, as given by "_pattern" in the compile info.
func PatternNames() []string {
	return slices.Clone(patternNames)
}

// String implements fmt.Stringer.
func (p Pattern) String() string {
	if p < 0 || int(p) >= len(patternNames) {
		return "Pattern(?)"
	}
	return patternNames[p]
}

// ParsePattern parses the "_pattern" compile info value.
func ParsePattern(s string) (Pattern, error) {
	for ii, name := range patternNames {
		if name == s {
			return Pattern(ii), nil
		}
	}
	return 0, tiling.Unsupportedf("auto tiling pattern %q", s)
}

// MaxFusedRank is the maximum number of dimensions after fusing.
const MaxFusedRank = 8

// ReduceKind is the tiling key of the reduction pattern.
type ReduceKind int64

const (
	ReduceAll ReduceKind = iota
	ReduceLast
	ReduceNonLast
)

// Params of an auto tiled operator.
type Params struct {
	Pattern                          Pattern
	Key                              int64
	BlockDim, BlockAxis, BlockFactor int64
	UBAxis, UBFactor                 int64

	// FusedDims are the dimensions after fusing; bit i of ReduceMask is set if FusedDims[i] is reduced.
	FusedDims  []int64
	ReduceMask int64

	Workspace int64
}

// Fields returns the tiling data layout. Unused fused dimension slots are 0.
func (p *Params) Fields() *tilingdata.Fields {
	var dims [MaxFusedRank]int64
	copy(dims[:], p.FusedDims)
	f := &tilingdata.Fields{}
	return f.Int64("pattern", int64(p.Pattern)).
		Int64("block_dim", p.BlockDim).
		Int64("block_axis", p.BlockAxis).
		Int64("block_factor", p.BlockFactor).
		Int64("ub_axis", p.UBAxis).
		Int64("ub_factor", p.UBFactor).
		Int64("fused_rank", int64(len(p.FusedDims))).
		Int64s("fused_dims", dims[:]).
		Int64("reduce_mask", p.ReduceMask)
}

// hardware is the part of the compile info shared by all patterns.
type hardware struct {
	coreNum, ubSize int64
	maxDTypeBytes   int64
}

// readHardware reads the hardware compile info. The maximum dtype width defaults to the widest tensor of
// the operator.
func readHardware(op *operator.Operator, vars *compileinfo.Vars) (hw hardware, err error) {
	hw.coreNum, hw.ubSize, err = vars.Hardware("_core_num", "_ub_size")
	if err != nil {
		return
	}
	var widest int64 = 1
	for ii := range op.NumInputs() {
		desc, _ := op.InputByIndex(ii)
		if size, sizeErr := tiling.DTypeSize(desc); sizeErr == nil {
			widest = max(widest, size)
		}
	}
	hw.maxDTypeBytes, err = vars.IntOr("_max_dtype_bytes", widest)
	if err == nil && hw.maxDTypeBytes <= 0 {
		err = tiling.InvalidCompileInfof("_max_dtype_bytes must be positive, got %d", hw.maxDTypeBytes)
	}
	return
}

// elemsPerBlock returns the block alignment, in elements of the widest dtype.
func (hw hardware) elemsPerBlock() int64 {
	return tiling.ElemsPerBlock(hw.maxDTypeBytes)
}

// bufferElems returns the number of elements of each of numBuffers equal parts of the buffer, block aligned.
func (hw hardware) bufferElems(numBuffers int) (int64, error) {
	elems := xmath.AlignDown(hw.ubSize/hw.maxDTypeBytes/int64(numBuffers), hw.elemsPerBlock())
	if elems < 1 {
		return 0, tiling.InvalidCompileInfof("_ub_size %d too small for %d buffers", hw.ubSize, numBuffers)
	}
	return elems, nil
}

// ubSplit returns the ub axis and factor: the outermost axis after blockAxis whose inner part doesn't fit
// the buffer, or blockAxis itself with a factor bounded by the block factor.
func ubSplit(dims []int64, blockAxis int, blockFactor, ubElems int64) (axis int, factor int64) {
	inner := int64(1)
	for axis = len(dims) - 1; axis > blockAxis; axis-- {
		if inner*dims[axis] > ubElems {
			return axis, max(1, ubElems/inner)
		}
		inner *= dims[axis]
	}
	return blockAxis, max(1, min(blockFactor, ubElems/inner))
}

// Compute the parameters of the operator, following the pattern named in the compile info.
func Compute(op *operator.Operator, vars *compileinfo.Vars) (*Params, error) {
	name, err := vars.String("_pattern")
	if err != nil {
		return nil, err
	}
	pattern, err := ParsePattern(name)
	if err != nil {
		return nil, err
	}
	hw, err := readHardware(op, vars)
	if err != nil {
		return nil, err
	}
	var p *Params
	switch pattern {
	case ElemWise:
		p, err = elemWise(op, hw)
	case Broadcast:
		p, err = broadcast(op, hw)
	case CommReduce:
		p, err = commReduce(op, vars, hw)
	case Norm:
		p, err = norm(op, vars, hw)
	}
	if err != nil {
		return nil, err
	}
	if len(p.FusedDims) > MaxFusedRank {
		return nil, tiling.Unsupportedf("%d dimensions after fusing, at most %d are supported", len(p.FusedDims), MaxFusedRank)
	}
	p.Pattern = pattern
	return p, nil
}

// Tiling of the auto tiled operators.
func Tiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := Compute(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: %s key %d, fused %v, block axis %d x %d on %d cores, ub axis %d x %d",
		op.Type(), op.Name(), p.Pattern, p.Key, p.FusedDims, p.BlockAxis, p.BlockFactor, p.BlockDim, p.UBAxis, p.UBFactor)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	runInfo := &tiling.RunInfo{
		TilingKey: p.Key,
		BlockDim:  int(p.BlockDim),
		Data:      fields.Bytes(),
	}
	if p.Workspace > 0 {
		runInfo.Workspaces = []int64{p.Workspace}
	}
	return runInfo, nil
}
