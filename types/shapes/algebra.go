// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"math"

	"github.com/pkg/errors"
)

// EndOfShape can be used as the `end` argument of SubShape to mean "up to the last dimension".
const EndOfShape = math.MaxInt

// Merge unifies two shapes dimension-wise: an unknown rank unifies with anything, an unknown dimension
// unifies with a known one, and the result carries every known dimension of both.
//
// It returns an error if the ranks are both known and differ, or if the same axis has two different
// known dimensions.
func Merge(s1, s2 Shape) (Shape, error) {
	if s1.unknownRank {
		return s2.Clone(), nil
	}
	if s2.unknownRank {
		return s1.Clone(), nil
	}
	if len(s1.Dimensions) != len(s2.Dimensions) {
		return Shape{}, errors.Errorf("cannot merge shapes %s and %s: ranks %d and %d differ",
			s1, s2, s1.Rank(), s2.Rank())
	}
	merged := Shape{Dimensions: make([]int, len(s1.Dimensions))}
	for axis, dim1 := range s1.Dimensions {
		dim2 := s2.Dimensions[axis]
		switch {
		case dim1 == UnknownDim:
			merged.Dimensions[axis] = dim2
		case dim2 == UnknownDim || dim1 == dim2:
			merged.Dimensions[axis] = dim1
		default:
			return Shape{}, errors.Errorf("cannot merge shapes %s and %s: axis %d has dimensions %d and %d",
				s1, s2, axis, dim1, dim2)
		}
	}
	return merged, nil
}

// MergeDim unifies two dimensions, either of which can be UnknownDim.
func MergeDim(dim1, dim2 int) (int, error) {
	switch {
	case dim1 == UnknownDim:
		return dim2, nil
	case dim2 == UnknownDim || dim1 == dim2:
		return dim1, nil
	}
	return UnknownDim, errors.Errorf("cannot merge dimensions %d and %d", dim1, dim2)
}

// ReplaceDim returns a copy of the shape with the dimension of the given axis replaced by value.
// Negative axes count from the end. An unknown-rank shape is returned unchanged.
//
// It returns an error if the axis is out of range for a known-rank shape.
func ReplaceDim(s Shape, axis, value int) (Shape, error) {
	if s.unknownRank {
		return UnknownRank(), nil
	}
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += len(s.Dimensions)
	}
	if adjustedAxis < 0 || adjustedAxis >= len(s.Dimensions) {
		return Shape{}, errors.Errorf("ReplaceDim(%s, axis=%d): axis out of range for rank %d", s, axis, s.Rank())
	}
	if value < 0 && value != UnknownDim {
		return Shape{}, errors.Errorf("ReplaceDim(%s, axis=%d): invalid dimension %d", s, axis, value)
	}
	out := s.Clone()
	out.Dimensions[adjustedAxis] = value
	return out, nil
}

// WithRank asserts the shape has the given rank. An unknown-rank shape becomes a shape of the given rank
// with all dimensions unknown.
func WithRank(s Shape, rank int) (Shape, error) {
	if rank < 0 {
		return Shape{}, errors.Errorf("WithRank(%s, %d): invalid negative rank", s, rank)
	}
	if s.unknownRank {
		return UnknownShapeOfRank(rank), nil
	}
	if s.Rank() != rank {
		return Shape{}, errors.Errorf("shape %s must have rank %d, but has rank %d", s, rank, s.Rank())
	}
	return s.Clone(), nil
}

// WithRankAtLeast asserts the shape has rank >= minRank. An unknown-rank shape is returned unchanged,
// since a lower bound doesn't fix the rank.
func WithRankAtLeast(s Shape, minRank int) (Shape, error) {
	if s.unknownRank {
		return UnknownRank(), nil
	}
	if s.Rank() < minRank {
		return Shape{}, errors.Errorf("shape %s must have rank at least %d, but has rank %d", s, minRank, s.Rank())
	}
	return s.Clone(), nil
}

// WithRankAtMost asserts the shape has rank <= maxRank. An unknown-rank shape is returned unchanged.
func WithRankAtMost(s Shape, maxRank int) (Shape, error) {
	if s.unknownRank {
		return UnknownRank(), nil
	}
	if s.Rank() > maxRank {
		return Shape{}, errors.Errorf("shape %s must have rank at most %d, but has rank %d", s, maxRank, s.Rank())
	}
	return s.Clone(), nil
}

// SubShape returns the dimensions of s in [start, end) taken every stride axes, with python-like
// semantics: negative start/end count from the end, and out-of-range values are clamped.
// Use EndOfShape as end to go up to the last dimension.
//
// A negative stride walks backwards from start down to (but excluding) end.
// An unknown-rank shape returns an unknown-rank shape, except when the slice is trivially empty.
func SubShape(s Shape, start, end, stride int) (Shape, error) {
	if stride == 0 {
		return Shape{}, errors.Errorf("SubShape(%s, %d, %d): stride cannot be 0", s, start, end)
	}
	if s.unknownRank {
		if stride > 0 && start >= 0 && end != EndOfShape && end >= 0 && end <= start {
			return Scalar(), nil
		}
		return UnknownRank(), nil
	}
	rank := len(s.Dimensions)
	if end == EndOfShape {
		if stride > 0 {
			end = rank
		} else {
			end = -rank - 1
		}
	}
	if start < 0 {
		start += rank
	}
	if end < 0 {
		end += rank
	}
	out := Shape{Dimensions: []int{}}
	if stride > 0 {
		start = max(0, min(start, rank))
		end = max(0, min(end, rank))
		for axis := start; axis < end; axis += stride {
			out.Dimensions = append(out.Dimensions, s.Dimensions[axis])
		}
		return out, nil
	}
	start = max(-1, min(start, rank-1))
	end = max(-1, min(end, rank-1))
	for axis := start; axis > end; axis += stride {
		out.Dimensions = append(out.Dimensions, s.Dimensions[axis])
	}
	return out, nil
}

// Concatenate returns the dimensions of s1 followed by the ones of s2.
// If either rank is unknown, the result has an unknown rank.
func Concatenate(s1, s2 Shape) Shape {
	if s1.unknownRank || s2.unknownRank {
		return UnknownRank()
	}
	out := Shape{Dimensions: make([]int, 0, len(s1.Dimensions)+len(s2.Dimensions))}
	out.Dimensions = append(out.Dimensions, s1.Dimensions...)
	out.Dimensions = append(out.Dimensions, s2.Dimensions...)
	return out
}

// Vector returns a rank-1 shape of the given dimension (possibly UnknownDim).
func Vector(dim int) Shape {
	return Make(dim)
}
