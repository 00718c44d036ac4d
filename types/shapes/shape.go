/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package shapes defines Shape, the dimensions of a tensor as known at graph-construction time,
// and the algebra used to propagate partially-known shapes.
//
// A Shape can be partially known in two ways:
//
//   - One or more of its dimensions is unknown, represented by UnknownDim.
//   - Its rank (number of axes) is itself unknown, see UnknownRank.
//
// Shapes are immutable values: every function in this package returns a new Shape and never
// modifies (or aliases) the dimensions of its inputs.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: is the index of a dimension on a multidimensional tensor.
//   - Dimension: the size of a multi-dimensions tensor in one of its axes.
//   - Scalar: is a shape where there are no axes (or dimensions).
//
// Example: `shapes.Make(2, shapes.UnknownDim, 3)` has rank 3, and its axis 1 is unknown; it is
// printed as `[2,?,3]`.
package shapes

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
)

// UnknownDim is the value of a dimension that is not known at graph-construction time.
const UnknownDim = -1

// Shape represents the dimensions of a tensor, possibly only partially known.
//
// The zero value is the scalar shape (known rank 0).
type Shape struct {
	// Dimensions of each axis, UnknownDim for the axes whose dimension is unknown.
	// It is nil if the rank is unknown.
	Dimensions []int

	unknownRank bool
}

// Make returns a Shape with the given dimensions. Use UnknownDim for the unknown axes.
//
// It panics if any dimension is negative and not UnknownDim.
func Make(dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions)}
	if s.Dimensions == nil {
		s.Dimensions = []int{}
	}
	for _, dim := range dimensions {
		if dim < 0 && dim != UnknownDim {
			exceptions.Panicf("shapes.Make(%v): cannot create a shape with an axis with negative dimension", dimensions)
		}
	}
	return s
}

// Scalar returns the 0-rank shape.
func Scalar() Shape {
	return Shape{Dimensions: []int{}}
}

// UnknownRank returns a shape whose rank (and hence all dimensions) is unknown.
func UnknownRank() Shape {
	return Shape{unknownRank: true}
}

// UnknownShapeOfRank returns a shape of the given rank with all dimensions unknown.
// A negative rank returns UnknownRank().
func UnknownShapeOfRank(rank int) Shape {
	if rank < 0 {
		return UnknownRank()
	}
	dims := make([]int, rank)
	for ii := range dims {
		dims[ii] = UnknownDim
	}
	return Shape{Dimensions: dims}
}

// RankKnown returns whether the number of axes is known.
func (s Shape) RankKnown() bool { return !s.unknownRank }

// Rank of the shape, that is, the number of dimensions. It returns -1 if the rank is unknown.
func (s Shape) Rank() int {
	if s.unknownRank {
		return -1
	}
	return len(s.Dimensions)
}

// IsScalar returns whether the shape is known to be a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return !s.unknownRank && len(s.Dimensions) == 0 }

// IsFullyDefined returns whether the rank and every dimension are known.
func (s Shape) IsFullyDefined() bool {
	if s.unknownRank {
		return false
	}
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			return false
		}
	}
	return true
}

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis or if the rank is unknown.
func (s Shape) Dim(axis int) int {
	if s.unknownRank {
		exceptions.Panicf("Shape.Dim(%d) of a shape with unknown rank", axis)
	}
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// DimKnown returns whether the dimension of the given axis is known. Negative axes count from the end.
// It returns false for an unknown rank or out-of-bounds axis.
func (s Shape) DimKnown(axis int) bool {
	if s.unknownRank {
		return false
	}
	if axis < 0 {
		axis += len(s.Dimensions)
	}
	if axis < 0 || axis >= len(s.Dimensions) {
		return false
	}
	return s.Dimensions[axis] != UnknownDim
}

// NumElements returns the product of all dimensions, or -1 if the shape is not fully defined.
// A scalar has 1 element.
func (s Shape) NumElements() int {
	if !s.IsFullyDefined() {
		return -1
	}
	size := 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return size
}

// Shape returns itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.unknownRank {
		return "<unknown rank>"
	}
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts[ii] = "?"
		} else {
			parts[ii] = strconv.Itoa(dim)
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

// Equal compares two shapes for equality: two unknown-rank shapes are equal, and an unknown
// dimension is only equal to another unknown dimension.
func (s Shape) Equal(s2 Shape) bool {
	if s.unknownRank || s2.unknownRank {
		return s.unknownRank == s2.unknownRank
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	if s.unknownRank {
		return UnknownRank()
	}
	s2.Dimensions = slices.Clone(s.Dimensions)
	if s2.Dimensions == nil {
		s2.Dimensions = []int{}
	}
	return
}

// Int64s returns the dimensions as int64, the width used by tiling data.
// Unknown dimensions are returned as -1, and an unknown rank returns nil.
func (s Shape) Int64s() []int64 {
	if s.unknownRank {
		return nil
	}
	dims := make([]int64, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		dims[ii] = int64(dim)
	}
	return dims
}

// FromInt64s creates a shape from int64 dimensions, where any negative value is taken as UnknownDim.
// This is the conversion used for shapes read from constant tensors (e.g. an `element_shape` input),
// where a dimension of -1 means unknown. A nil slice returns the scalar shape.
func FromInt64s(dims []int64) Shape {
	s := Shape{Dimensions: make([]int, len(dims))}
	for ii, dim := range dims {
		if dim < 0 {
			s.Dimensions[ii] = UnknownDim
		} else {
			s.Dimensions[ii] = int(dim)
		}
	}
	return s
}
