// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"fmt"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// OutputName returns the name of the i-th output of the operators with a variable number of outputs
// (Unpack and SplitV).
func OutputName(i int) string {
	return fmt.Sprintf("y%d", i)
}

// unsortedSegmentSum: the segment_ids shape must be a prefix of the x shape, and the output replaces that
// prefix by [num_segments].
func unsortedSegmentSum(op *operator.Operator) error {
	x, err := op.Input("x")
	if err != nil {
		return err
	}
	ids, err := op.Input("segment_ids")
	if err != nil {
		return err
	}
	if _, err = inputWithRank(op, "num_segments", 0); err != nil {
		return err
	}
	numSegments := shapes.UnknownDim
	if n, found := scalarFromConstInput(op, "num_segments"); found {
		if n < 0 {
			return errors.Errorf("num_segments must be >= 0, got %d", n)
		}
		numSegments = int(n)
	}
	if !x.Shape.RankKnown() || !ids.Shape.RankKnown() {
		op.SetOutput("y", operator.NewTensorDesc(x.DType, shapes.UnknownRank()))
		return nil
	}
	if ids.Shape.Rank() > x.Shape.Rank() {
		return errors.Errorf("segment_ids %s must be a prefix of x %s", ids.Shape, x.Shape)
	}
	prefix, err := shapes.SubShape(x.Shape, 0, ids.Shape.Rank(), 1)
	if err != nil {
		return err
	}
	if _, err = shapes.Merge(prefix, ids.Shape); err != nil {
		return errors.WithMessagef(err, "segment_ids %s must be a prefix of x %s", ids.Shape, x.Shape)
	}
	inner, err := shapes.SubShape(x.Shape, ids.Shape.Rank(), shapes.EndOfShape, 1)
	if err != nil {
		return err
	}
	op.SetOutput("y", operator.NewTensorDesc(x.DType, shapes.Concatenate(shapes.Vector(numSegments), inner)))
	return nil
}

// PaddingsFromConst splits the flat paddings content of a PadV3 into before and after paddings per axis.
// Contiguous paddings are laid out as [before_0, after_0, before_1, after_1, ...], otherwise as
// [before_0, before_1, ..., after_0, after_1, ...].
func PaddingsFromConst(values []int64, rank int, contiguous bool) (before, after []int64, err error) {
	if len(values) != 2*rank {
		err = errors.Errorf("paddings must have 2*rank=%d values, got %d", 2*rank, len(values))
		return
	}
	before, after = make([]int64, rank), make([]int64, rank)
	for axis := range rank {
		if contiguous {
			before[axis], after[axis] = values[2*axis], values[2*axis+1]
		} else {
			before[axis], after[axis] = values[axis], values[rank+axis]
		}
	}
	return
}

func padV3(op *operator.Operator) error {
	x, err := op.Input("x")
	if err != nil {
		return err
	}
	mode, err := operator.AttrOr(op, "mode", "constant")
	if err != nil {
		return err
	}
	switch mode {
	case "constant", "reflect", "edge":
	default:
		return errors.Errorf("mode must be one of constant, reflect or edge, got %q", mode)
	}
	if !x.Shape.RankKnown() {
		op.SetOutput("y", operator.NewTensorDesc(x.DType, shapes.UnknownRank()))
		return nil
	}
	rank := x.Shape.Rank()
	values, found := ConstInput(op, "paddings")
	if !found {
		op.SetOutput("y", operator.NewTensorDesc(x.DType, shapes.UnknownShapeOfRank(rank)))
		return nil
	}
	contiguous, err := operator.AttrOr(op, "paddings_contiguous", true)
	if err != nil {
		return err
	}
	before, after, err := PaddingsFromConst(values, rank, contiguous)
	if err != nil {
		return err
	}
	output := x.Shape.Clone()
	for axis, dim := range output.Dimensions {
		if before[axis] < 0 || after[axis] < 0 {
			return errors.Errorf("paddings must be non-negative, got before=%v, after=%v", before, after)
		}
		if dim == shapes.UnknownDim {
			continue
		}
		if mode == "reflect" && (before[axis] >= int64(dim) || after[axis] >= int64(dim)) {
			return errors.Errorf("reflect paddings of axis %d must be smaller than its dimension %d", axis, dim)
		}
		output.Dimensions[axis] = dim + int(before[axis]+after[axis])
	}
	op.SetOutput("y", operator.NewTensorDesc(x.DType, output))
	return nil
}

func unpack(op *operator.Operator) error {
	x, err := op.Input("x")
	if err != nil {
		return err
	}
	num, err := operator.Attr[int64](op, "num")
	if err != nil {
		return err
	}
	axis, err := operator.AttrOr(op, "axis", int64(0))
	if err != nil {
		return err
	}
	output := shapes.UnknownRank()
	if x.Shape.RankKnown() {
		rank := x.Shape.Rank()
		adjusted := int(axis)
		if adjusted < 0 {
			adjusted += rank
		}
		if adjusted < 0 || adjusted >= rank {
			return errors.Errorf("axis %d out of range for x %s", axis, x.Shape)
		}
		if x.Shape.DimKnown(adjusted) && int64(x.Shape.Dim(adjusted)) != num {
			return errors.Errorf("num=%d does not match the dimension %d of axis %d", num, x.Shape.Dim(adjusted), axis)
		}
		output = shapes.Concatenate(
			must.M1(shapes.SubShape(x.Shape, 0, adjusted, 1)),
			must.M1(shapes.SubShape(x.Shape, adjusted+1, shapes.EndOfShape, 1)))
	}
	for ii := range int(num) {
		op.SetOutput(OutputName(ii), operator.NewTensorDesc(x.DType, output.Clone()))
	}
	return nil
}

// ResolveSizeSplits returns the split sizes with a single -1 entry resolved so that they sum to dim.
// It fails if more than one entry is -1, any other entry is negative, or the sizes don't sum to dim.
func ResolveSizeSplits(sizes []int64, dim int64) ([]int64, error) {
	resolved := make([]int64, len(sizes))
	copy(resolved, sizes)
	unknownIdx := -1
	var total int64
	for ii, size := range sizes {
		switch {
		case size == -1:
			if unknownIdx >= 0 {
				return nil, errors.Errorf("size_splits %v can have at most one -1 entry", sizes)
			}
			unknownIdx = ii
		case size < 0:
			return nil, errors.Errorf("size_splits %v must be non-negative (or -1)", sizes)
		default:
			total += size
		}
	}
	if unknownIdx >= 0 {
		if total > dim {
			return nil, errors.Errorf("size_splits %v sum to more than the split dimension %d", sizes, dim)
		}
		resolved[unknownIdx] = dim - total
	} else if total != dim {
		return nil, errors.Errorf("size_splits %v must sum to the split dimension %d, got %d", sizes, dim, total)
	}
	return resolved, nil
}

// SplitDim returns the split axis of a SplitV, normalized to [0, rank), from its constant "split_dim" input
// or its "split_dim" attribute.
func SplitDim(op *operator.Operator, rank int) (int, bool, error) {
	value, found := scalarFromConstInput(op, "split_dim")
	if !found {
		if !op.HasAttr("split_dim") {
			return 0, false, nil
		}
		var err error
		value, err = operator.Attr[int64](op, "split_dim")
		if err != nil {
			return 0, false, err
		}
	}
	axis := int(value)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, false, errors.Errorf("split_dim %d out of range for rank %d", value, rank)
	}
	return axis, true, nil
}

func splitV(op *operator.Operator) error {
	x, err := op.Input("x")
	if err != nil {
		return err
	}
	numSplit, err := operator.Attr[int64](op, "num_split")
	if err != nil {
		return err
	}
	if numSplit < 1 {
		return errors.Errorf("num_split must be >= 1, got %d", numSplit)
	}
	outputs := make([]shapes.Shape, numSplit)
	for ii := range outputs {
		outputs[ii] = shapes.UnknownRank()
	}
	if x.Shape.RankKnown() {
		axis, found, err := SplitDim(op, x.Shape.Rank())
		if err != nil {
			return err
		}
		for ii := range outputs {
			if !found {
				outputs[ii] = shapes.UnknownShapeOfRank(x.Shape.Rank())
			} else {
				outputs[ii] = must.M1(shapes.ReplaceDim(x.Shape, axis, shapes.UnknownDim))
			}
		}
		sizes, sizesFound := ConstInput(op, "size_splits")
		if found && sizesFound {
			if int64(len(sizes)) != numSplit {
				return errors.Errorf("size_splits has %d entries, but num_split is %d", len(sizes), numSplit)
			}
			if x.Shape.DimKnown(axis) {
				sizes, err = ResolveSizeSplits(sizes, int64(x.Shape.Dim(axis)))
				if err != nil {
					return err
				}
			}
			for ii, size := range sizes {
				if size >= 0 {
					outputs[ii].Dimensions[axis] = int(size)
				}
			}
		}
	}
	for ii, output := range outputs {
		op.SetOutput(OutputName(ii), operator.NewTensorDesc(x.DType, output))
	}
	return nil
}
