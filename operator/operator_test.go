// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package operator

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorInputsOutputs(t *testing.T) {
	op := New("TensorListStack", "stack").
		AddInput("input_handle", NewTensorDesc(Variant, shapes.Scalar())).
		AddInput("element_shape", NewTensorDesc(dtypes.Int32, shapes.Make(2)).WithConst(3, 4)).
		AddOutput("tensor", TensorDesc{})
	require.Equal(t, "TensorListStack", op.Type())
	require.Equal(t, "stack", op.Name())
	require.Equal(t, 2, op.NumInputs())
	require.Equal(t, 1, op.NumOutputs())
	require.Equal(t, 1, op.InputIndex("element_shape"))
	require.Equal(t, -1, op.InputIndex("missing"))
	require.Equal(t, "element_shape", op.InputName(1))

	desc, err := op.Input("input_handle")
	require.NoError(t, err)
	require.Equal(t, Variant, desc.DType)
	_, err = op.Input("missing")
	require.Error(t, err)
	_, err = op.InputByIndex(2)
	require.Error(t, err)

	op.SetOutput("tensor", NewTensorDesc(dtypes.Float32, shapes.Make(shapes.UnknownDim, 3, 4)))
	out, err := op.Output("tensor")
	require.NoError(t, err)
	require.Equal(t, "(Float32)[?,3,4]", out.String())

	// SetOutput on a new name appends it.
	op.SetOutput("extra", NewTensorDesc(dtypes.Int64, shapes.Scalar()))
	require.Equal(t, 2, op.NumOutputs())
}

func TestAttrs(t *testing.T) {
	op := New("TensorListStack", "stack").
		SetAttr("num_elements", 3).
		SetAttr("element_dtype", dtypes.Float32).
		SetAttr("ksize", []int{1, 2, 2, 1}).
		SetAttr("padding", "SAME")

	n, err := Attr[int64](op, "num_elements")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	dtype, err := op.AttrDType("element_dtype")
	require.NoError(t, err)
	require.Equal(t, dtypes.Float32, dtype)

	ksize, err := Attr[[]int64](op, "ksize")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 2, 1}, ksize)

	_, err = Attr[string](op, "num_elements")
	require.Error(t, err, "wrong attribute type should fail")
	_, err = Attr[string](op, "missing")
	require.Error(t, err)

	padding, err := AttrOr(op, "padding", "VALID")
	require.NoError(t, err)
	assert.Equal(t, "SAME", padding)
	keepDims, err := AttrOr(op, "keep_dims", true)
	require.NoError(t, err)
	assert.True(t, keepDims)
}

func TestConstInput(t *testing.T) {
	op := New("EmptyTensorList", "list").
		AddInput("element_shape", NewTensorDesc(dtypes.Int32, shapes.Make(2)).WithConst(-1, 5)).
		AddInput("max_num_elements", NewTensorDesc(dtypes.Int32, shapes.Scalar()).WithConst(10))

	// Constant content is only visible after it is declared as an inference dependency.
	_, found := op.ConstInput("element_shape")
	require.False(t, found)

	require.Empty(t, op.InferDependencies())
	op.DeclareInferDependency("max_num_elements", "element_shape")
	require.Equal(t, []string{"element_shape", "max_num_elements"}, op.InferDependencies())
	op = New("EmptyTensorList", "list").
		AddInput("element_shape", NewTensorDesc(dtypes.Int32, shapes.Make(2)).WithConst(-1, 5)).
		AddInput("max_num_elements", NewTensorDesc(dtypes.Int32, shapes.Scalar()).WithConst(10)).
		DeclareInferDependency("element_shape")
	values, found := op.ConstInput("element_shape")
	require.True(t, found)
	require.Equal(t, []int64{-1, 5}, values)
	_, found = op.ConstInput("max_num_elements")
	require.False(t, found)
}

func TestInferenceContext(t *testing.T) {
	ctx := NewInferenceContext(1, 1)
	require.Nil(t, ctx.InputHandleShapesAndTypes(0))
	require.Nil(t, ctx.InputHandleShapesAndTypes(5))

	handle := []ShapeAndType{{Shape: shapes.Make(2, 3), DType: dtypes.Float32}}
	ctx.SetOutputHandleShapesAndTypes(2, handle)
	got := ctx.OutputHandleShapesAndTypes(2)
	require.Len(t, got, 1)
	require.True(t, got[0].Shape.Equal(shapes.Make(2, 3)))

	// Stored associations don't alias the caller's shapes.
	handle[0].Shape.Dimensions[0] = 7
	require.Equal(t, 2, ctx.OutputHandleShapesAndTypes(2)[0].Shape.Dim(0))

	ctx.AddMark("EmptyTensorList:list")
	ctx.AddMark("EmptyTensorList:list")
	require.Equal(t, []string{"EmptyTensorList:list"}, ctx.Marks())
}

func TestDTypeName(t *testing.T) {
	require.Equal(t, "Variant", DTypeName(Variant))
	require.Equal(t, "Resource", DTypeName(Resource))
	require.Equal(t, "Float32", DTypeName(dtypes.Float32))
}
