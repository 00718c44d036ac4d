// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scatter

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/shapeinference"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SegmentMode of the UnsortedSegmentSum kernel.
type SegmentMode int64

const (
	// SegmentModeScalarRows splits the ids across cores when each row has a single element, accumulating
	// with atomic adds.
	SegmentModeScalarRows SegmentMode = iota

	// SegmentModeSplitRow splits the elements of the rows across cores, each core processing all ids.
	SegmentModeSplitRow

	// SegmentModeSplitIDs splits the ids across cores, accumulating whole rows with atomic adds.
	SegmentModeSplitIDs
)

// SegmentParams of the UnsortedSegmentSum kernel.
type SegmentParams struct {
	Mode                                  SegmentMode
	CoreUsed                              int64
	ENum, IDsNum, NumSegments             int64
	IDsPerCore, IDsLastCore, IDsUBCount   int64
	EPerCore, ELastCore, EUBCount         int64
	ELoops, ETail                         int64
	OutputInitPerCore, OutputInitLastCore int64
}

// Fields returns the tiling data layout.
func (p *SegmentParams) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	return f.Int64("tiling_mode", int64(p.Mode)).
		Int64("core_used", p.CoreUsed).
		Int64("e_num", p.ENum).
		Int64("ids_num", p.IDsNum).
		Int64("num_segments", p.NumSegments).
		Int64("ids_per_core", p.IDsPerCore).
		Int64("ids_last_core", p.IDsLastCore).
		Int64("ids_ub_count", p.IDsUBCount).
		Int64("e_per_core", p.EPerCore).
		Int64("e_last_core", p.ELastCore).
		Int64("e_ub_count", p.EUBCount).
		Int64("e_loops", p.ELoops).
		Int64("e_tail", p.ETail).
		Int64("output_init_per_core", p.OutputInitPerCore).
		Int64("output_init_last_core", p.OutputInitLastCore)
}

// numSegments returns the number of segments: the constant "num_segments" input if known, otherwise the
// first dimension of the output.
func numSegments(op *operator.Operator) (int64, error) {
	if values, found := shapeinference.ConstInput(op, "num_segments"); found {
		if len(values) != 1 || values[0] < 1 {
			return 0, tiling.Preconditionf("num_segments must be one positive value, got %v", values)
		}
		return values[0], nil
	}
	y, err := tiling.ConcreteOutput(op, "y")
	if err != nil {
		return 0, err
	}
	if y.Shape.Rank() < 1 {
		return 0, tiling.Preconditionf("output y must have rank >= 1, got %s", y.Shape)
	}
	return int64(y.Shape.Dim(0)), nil
}

// ComputeSegmentSum computes the UnsortedSegmentSum parameters. Inputs are x, segment_ids (whose shape is
// a prefix of the shape of x) and num_segments.
func ComputeSegmentSum(op *operator.Operator, vars *compileinfo.Vars) (*SegmentParams, error) {
	coreNum, ubSize, err := vars.Hardware("core_num", "ub_size")
	if err != nil {
		return nil, err
	}
	x, err := tiling.ConcreteInput(op, "x", false)
	if err != nil {
		return nil, err
	}
	ids, err := tiling.ConcreteInput(op, "segment_ids", false)
	if err != nil {
		return nil, err
	}
	if ids.DType != dtypes.Int32 && ids.DType != dtypes.Int64 {
		return nil, tiling.Unsupportedf("segment_ids dtype %s", ids.DType)
	}
	xDims, idsDims := x.Shape.Int64s(), ids.Shape.Int64s()
	if len(idsDims) < 1 || len(idsDims) > len(xDims) || !slices.Equal(xDims[:len(idsDims)], idsDims) {
		return nil, tiling.Preconditionf("segment_ids shape %s must be a prefix of x shape %s", ids.Shape, x.Shape)
	}
	dsize, err := tiling.DTypeSize(x)
	if err != nil {
		return nil, err
	}

	p := &SegmentParams{
		IDsNum: xmath.Prod(idsDims),
		ENum:   xmath.Prod(xDims[len(idsDims):]),
	}
	if p.NumSegments, err = numSegments(op); err != nil {
		return nil, err
	}

	// Half of the buffer for the ids (as int32) and half for the rows.
	elemsPerBlock := tiling.ElemsPerBlock(dsize)
	p.IDsUBCount = xmath.AlignDown(ubSize/2/4, 8)
	p.EUBCount = xmath.AlignDown(ubSize/2/dsize, elemsPerBlock)
	if p.IDsUBCount < 1 || p.EUBCount < 1 {
		return nil, tiling.InvalidCompileInfof("ub_size %d too small", ubSize)
	}

	switch {
	case p.ENum == 1:
		p.Mode = SegmentModeScalarRows
		p.CoreUsed, p.IDsPerCore, p.IDsLastCore = xmath.Split(p.IDsNum, coreNum, elemsPerBlock)
		p.EPerCore, p.ELastCore = 1, 1
	case p.ENum >= coreNum*elemsPerBlock:
		p.Mode = SegmentModeSplitRow
		p.CoreUsed, p.EPerCore, p.ELastCore = xmath.Split(p.ENum, coreNum, elemsPerBlock)
		p.IDsPerCore, p.IDsLastCore = p.IDsNum, p.IDsNum
	default:
		p.Mode = SegmentModeSplitIDs
		p.CoreUsed, p.IDsPerCore, p.IDsLastCore = xmath.Split(p.IDsNum, coreNum, 1)
		p.EPerCore, p.ELastCore = p.ENum, p.ENum
	}
	p.ELoops, p.ETail = p.EPerCore/p.EUBCount, p.EPerCore%p.EUBCount
	_, p.OutputInitPerCore, p.OutputInitLastCore = xmath.Split(p.NumSegments*p.ENum, p.CoreUsed, elemsPerBlock)
	return p, nil
}

// SegmentSumTiling is the tiling of UnsortedSegmentSum.
func SegmentSumTiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := ComputeSegmentSum(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: mode %d, %d cores", op.Type(), op.Name(), p.Mode, p.CoreUsed)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	return &tiling.RunInfo{
		TilingKey: int64(p.Mode),
		BlockDim:  int(p.CoreUsed),
		Data:      fields.Bytes(),
	}, nil
}
