// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nllloss implements the tiling of NLLLoss, the negative log likelihood loss: for each row n of
// x, it gathers -x[n, target[n]] * weight[target[n]], skipping rows whose target is ignore_index.
//
// Rows are split across cores by RecursiveSplit. Reductions "sum" and "mean" have each core write one
// partial result to a workspace, later reduced by the kernel.
package nllloss

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Reduction of the per-row losses.
type Reduction int

const (
	ReductionNone Reduction = iota
	ReductionSum
	ReductionMean
)

// String implements fmt.Stringer.
func (r Reduction) String() string {
	switch r {
	case ReductionNone:
		return "none"
	case ReductionSum:
		return "sum"
	case ReductionMean:
		return "mean"
	}
	return "Reduction(?)"
}

// ParseReduction parses the "reduction" compile info value.
func ParseReduction(s string) (Reduction, error) {
	switch s {
	case "none":
		return ReductionNone, nil
	case "sum":
		return ReductionSum, nil
	case "mean":
		return ReductionMean, nil
	}
	return 0, tiling.InvalidCompileInfof("unknown reduction %q, valid values are \"none\", \"sum\" and \"mean\"", s)
}

const (
	// reservedUB is the part of the unified buffer kept for the scalars and the reduction results.
	reservedUB = 1024

	// alignFactor is the starting alignment of the split, in minimum alignments (blocks).
	alignFactor = 8

	// bigCKeyOffset is added to the tiling key when one row of x doesn't fit the buffer.
	bigCKeyOffset = 10

	// bigCRowBytes is the buffer space per row when elements are gathered directly: one block each for the
	// x element, the weight element and the target.
	bigCRowBytes = 3 * tiling.BlockBytes
)

// Params of the NLLLoss kernel.
type Params struct {
	Reduction Reduction
	BigC      bool
	Workspace int64

	C, N                        int64
	CoreNum                     int64
	PerCoreLines, LastCoreLines int64
	UBLines                     int64
	PerCoreLoops, PerCoreTail   int64
	LastCoreLoops, LastCoreTail int64
	IgnoreIndex                 int64
	BigWeight                   int64
}

// TilingKey of the kernel variant.
func (p *Params) TilingKey() int64 {
	key := int64(p.Reduction)
	if p.BigC {
		key += bigCKeyOffset
	}
	return key
}

// Fields returns the tiling data layout.
func (p *Params) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	return f.Int64("c_dim", p.C).
		Int64("n_dim", p.N).
		Int64("core_num", p.CoreNum).
		Int64("per_core_lines", p.PerCoreLines).
		Int64("last_core_lines", p.LastCoreLines).
		Int64("ub_lines", p.UBLines).
		Int64("per_core_loops", p.PerCoreLoops).
		Int64("per_core_tail", p.PerCoreTail).
		Int64("last_core_loops", p.LastCoreLoops).
		Int64("last_core_tail", p.LastCoreTail).
		Int64("ignore_index", p.IgnoreIndex).
		Int64("big_weight", p.BigWeight)
}

// Compute the NLLLoss parameters. Inputs are x ([N, C] or [C]), target ([N]) and weight ([C]).
func Compute(op *operator.Operator, vars *compileinfo.Vars) (*Params, error) {
	coreNum, ubSize, err := vars.Hardware("core_num", "ub_size")
	if err != nil {
		return nil, err
	}
	reductionName, err := vars.StringOr("reduction", "mean")
	if err != nil {
		return nil, err
	}
	p := &Params{}
	if p.Reduction, err = ParseReduction(reductionName); err != nil {
		return nil, err
	}
	if p.IgnoreIndex, err = vars.IntOr("ignore_index", -100); err != nil {
		return nil, err
	}

	x, err := tiling.ConcreteInput(op, "x", false)
	if err != nil {
		return nil, err
	}
	target, err := tiling.ConcreteInput(op, "target", false)
	if err != nil {
		return nil, err
	}
	weight, err := tiling.ConcreteInput(op, "weight", false)
	if err != nil {
		return nil, err
	}
	switch x.Shape.Rank() {
	case 1:
		p.N, p.C = 1, int64(x.Shape.Dim(0))
	case 2:
		p.N, p.C = int64(x.Shape.Dim(0)), int64(x.Shape.Dim(1))
	default:
		return nil, tiling.Preconditionf("x must have rank 1 or 2, got %s", x.Shape)
	}
	if target.Shape.Rank() != 1 || int64(target.Shape.Dim(0)) != p.N {
		return nil, tiling.Preconditionf("target %s must be a vector of %d labels", target.Shape, p.N)
	}
	if weight.Shape.Rank() != 1 || int64(weight.Shape.Dim(0)) != p.C {
		return nil, tiling.Preconditionf("weight %s must be a vector of %d classes", weight.Shape, p.C)
	}
	if target.DType != dtypes.Int32 && target.DType != dtypes.Int64 {
		return nil, tiling.Unsupportedf("target dtype %s", target.DType)
	}
	dsize, err := tiling.DTypeSize(x)
	if err != nil {
		return nil, err
	}
	if ubSize <= reservedUB {
		return nil, tiling.InvalidCompileInfof("ub_size %d is too small, it must be > %d", ubSize, reservedUB)
	}

	minAligned := tiling.ElemsPerBlock(dsize)
	split, err := RecursiveSplit(p.N, coreNum, alignFactor*minAligned, minAligned)
	if err != nil {
		return nil, err
	}
	p.CoreNum, p.PerCoreLines, p.LastCoreLines = split.Cores, split.PerCore, split.LastCore
	if p.Reduction != ReductionNone {
		p.Workspace = p.CoreNum * tiling.BlockBytes
	}

	available := ubSize - reservedUB
	rowBytes := p.C*dsize + dsize + 4 + dsize
	p.UBLines = xmath.AlignDown(available/rowBytes, minAligned)
	if p.UBLines == 0 {
		p.BigC = true
		p.UBLines = xmath.AlignDown(available/bigCRowBytes, minAligned)
		if p.UBLines == 0 {
			return nil, tiling.InvalidCompileInfof("ub_size %d cannot hold %d rows", ubSize, minAligned)
		}
	}
	if p.C*dsize > available/4 {
		p.BigWeight = 1
	}
	p.PerCoreLoops, p.PerCoreTail = p.PerCoreLines/p.UBLines, p.PerCoreLines%p.UBLines
	p.LastCoreLoops, p.LastCoreTail = p.LastCoreLines/p.UBLines, p.LastCoreLines%p.UBLines
	return p, nil
}

// Tiling of NLLLoss.
func Tiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := Compute(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: reduction=%s, %d cores, big C=%v", op.Type(), op.Name(), p.Reduction, p.CoreNum, p.BigC)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	runInfo := &tiling.RunInfo{
		TilingKey: p.TilingKey(),
		BlockDim:  int(p.CoreNum),
		Data:      fields.Bytes(),
	}
	if p.Workspace > 0 {
		runInfo.Workspaces = []int64{p.Workspace}
	}
	return runInfo, nil
}
