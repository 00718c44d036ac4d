// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package operator

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/types/shapes"
)

// Handle dtypes: they are not numeric element types, so they live outside the range of
// values enumerated by gopjrt's dtypes.
const (
	// Variant is the dtype of a tensor list handle.
	Variant dtypes.DType = 1000 + iota
	// Resource is the dtype of a lookup table handle.
	Resource
)

// DTypeName returns a readable name for the dtype, including the handle dtypes.
func DTypeName(dtype dtypes.DType) string {
	switch dtype {
	case Variant:
		return "Variant"
	case Resource:
		return "Resource"
	}
	return dtype.String()
}

// Format is the memory layout of a tensor, e.g. "NCHW" or "NC1HWC0".
type Format string

const (
	FormatND        Format = "ND"
	FormatNCHW      Format = "NCHW"
	FormatNHWC      Format = "NHWC"
	FormatNC1HWC0   Format = "NC1HWC0"
	FormatNDHWC     Format = "NDHWC"
	FormatNCDHW     Format = "NCDHW"
	FormatNDC1HWC0  Format = "NDC1HWC0"
	FormatFractalNZ Format = "FRACTAL_NZ"
)

// TensorDesc describes one input or output tensor of an operator: its shape, dtype and format,
// and, for inputs whose content is known at compile time, the constant values.
type TensorDesc struct {
	Shape  shapes.Shape
	DType  dtypes.DType
	Format Format

	// Const holds the content of a tensor known at compile time (e.g. an `element_shape` or
	// `paddings` input), flattened and converted to int64. HasConst tells whether it is available.
	Const    []int64
	HasConst bool
}

// NewTensorDesc returns a tensor description with format ND.
func NewTensorDesc(dtype dtypes.DType, shape shapes.Shape) TensorDesc {
	return TensorDesc{Shape: shape, DType: dtype, Format: FormatND}
}

// WithConst returns a copy of the description with the given constant content.
func (t TensorDesc) WithConst(values ...int64) TensorDesc {
	t.Const = slices.Clone(values)
	if t.Const == nil {
		t.Const = []int64{}
	}
	t.HasConst = true
	return t
}

// WithFormat returns a copy of the description with the given format.
func (t TensorDesc) WithFormat(format Format) TensorDesc {
	t.Format = format
	return t
}

// String implements fmt.Stringer.
func (t TensorDesc) String() string {
	s := fmt.Sprintf("(%s)%s", DTypeName(t.DType), t.Shape)
	if t.Format != "" && t.Format != FormatND {
		s += "/" + string(t.Format)
	}
	return s
}

// ShapeAndType is the (shape, dtype) pair carried by a resource handle: a tensor list carries one
// (the element shape and dtype), a lookup table carries two (key and value).
type ShapeAndType struct {
	Shape shapes.Shape
	DType dtypes.DType
}

// String implements fmt.Stringer.
func (st ShapeAndType) String() string {
	return fmt.Sprintf("(%s, %s)", st.Shape, DTypeName(st.DType))
}

// CloneShapesAndTypes returns a deep copy of a handle association.
func CloneShapesAndTypes(handle []ShapeAndType) []ShapeAndType {
	if handle == nil {
		return nil
	}
	out := make([]ShapeAndType, len(handle))
	for ii, st := range handle {
		out[ii] = ShapeAndType{Shape: st.Shape.Clone(), DType: st.DType}
	}
	return out
}
