// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/stretchr/testify/require"
)

func tableOp(opType string) *operator.Operator {
	return operator.New(opType, "table_op").
		AddInput("table_handle", scalarOf(operator.Resource)).
		SetAttr("key_dtype", dtypes.Int64).
		SetAttr("value_dtype", dtypes.Float32)
}

func TestCreateTable(t *testing.T) {
	op := operator.New("MutableHashTableOfTensors", "table").
		SetAttr("key_dtype", dtypes.Int64).
		SetAttr("value_dtype", dtypes.Float32).
		SetAttr("value_shape", []int{2, 3})
	require.NoError(t, Infer(op))
	handle := op.OutputHandle("table_handle")
	require.Len(t, handle, 2)
	require.True(t, handle[0].Shape.IsScalar())
	require.Equal(t, dtypes.Int64, handle[0].DType)
	require.Equal(t, "[2,3]", handle[1].Shape.String())
	require.Equal(t, []string{"MutableHashTableOfTensors:table"}, op.Context().Marks())

	op = operator.New("MutableDenseHashTable", "dense").
		AddInput("empty_key", operator.NewTensorDesc(dtypes.Int64, shapes.Make(2))).
		SetAttr("key_dtype", dtypes.Int64).
		SetAttr("value_dtype", dtypes.Float32)
	require.NoError(t, Infer(op))
	require.Equal(t, "[2]", op.OutputHandle("table_handle")[0].Shape.String())
}

func TestValidateTableResourceHandle(t *testing.T) {
	keyAndValue := []operator.ShapeAndType{
		{Shape: shapes.Make(2), DType: dtypes.Int64},
		{Shape: shapes.Make(3), DType: dtypes.Float32},
	}
	testCases := []struct {
		name     string
		keys     shapes.Shape
		isLookup bool
		want     string
		wantErr  bool
	}{
		{"lookup", shapes.Make(5, 7, 2), true, "[5,7,3]", false},
		{"lookup unknown suffix", shapes.Make(5, U), true, "[5,3]", false},
		{"lookup conflicting suffix", shapes.Make(5, 4), true, "", true},
		{"lookup rank too small degrades", shapes.Scalar(), true, "<unknown rank>", false},
		{"lookup unknown keys rank", shapes.UnknownRank(), true, "<unknown rank>", false},
		{"export", shapes.Make(U), false, "[?,3]", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			op := tableOp("LookupTableFind")
			feedHandle(op, "table_handle", keyAndValue...)
			got, err := ValidateTableResourceHandle(op, tc.keys, tc.isLookup)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got.Shape.String())
			require.Equal(t, dtypes.Float32, got.DType)
		})
	}

	// Without a handle association, the result is unknown.
	op := tableOp("LookupTableFind")
	got, err := ValidateTableResourceHandle(op, shapes.Make(4), true)
	require.NoError(t, err)
	require.False(t, got.Shape.RankKnown())

	// Stored key dtype must match key_dtype.
	op = tableOp("LookupTableFind").SetAttr("key_dtype", dtypes.Int32)
	feedHandle(op, "table_handle", keyAndValue...)
	_, err = ValidateTableResourceHandle(op, shapes.Make(4, 2), true)
	require.Error(t, err)
}

func TestLookupTableOps(t *testing.T) {
	keyAndValue := []operator.ShapeAndType{
		{Shape: shapes.Scalar(), DType: dtypes.Int64},
		{Shape: shapes.Make(4), DType: dtypes.Float32},
	}

	op := tableOp("LookupTableFind").
		AddInput("keys", operator.NewTensorDesc(dtypes.Int64, shapes.Make(8))).
		AddInput("default_value", operator.NewTensorDesc(dtypes.Float32, shapes.Make(4)))
	feedHandle(op, "table_handle", keyAndValue...)
	require.NoError(t, Infer(op))
	require.Equal(t, "[8,4]", outputShape(t, op, "values"))

	op = tableOp("LookupTableExport")
	feedHandle(op, "table_handle", keyAndValue...)
	require.NoError(t, Infer(op))
	require.Equal(t, "[?]", outputShape(t, op, "keys"))
	require.Equal(t, "[?,4]", outputShape(t, op, "values"))

	op = tableOp("LookupTableInsert").
		AddInput("keys", operator.NewTensorDesc(dtypes.Int64, shapes.Make(8))).
		AddInput("values", operator.NewTensorDesc(dtypes.Float32, shapes.Make(8, 4)))
	feedHandle(op, "table_handle", keyAndValue...)
	require.NoError(t, Infer(op))

	op = tableOp("LookupTableImport").
		AddInput("keys", operator.NewTensorDesc(dtypes.Int64, shapes.Make(8))).
		AddInput("values", operator.NewTensorDesc(dtypes.Int32, shapes.Make(8, 4)))
	require.Error(t, Infer(op), "values dtype differs from value_dtype")

	op = tableOp("LookupTableSize")
	require.NoError(t, Infer(op))
	desc, err := op.Output("size")
	require.NoError(t, err)
	require.Equal(t, dtypes.Int64, desc.DType)
}
