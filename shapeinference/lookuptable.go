// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/pkg/errors"
)

// Lookup tables: the table handle is a scalar Resource tensor, and its association carries exactly two
// (shape, dtype) pairs: the key and the value.

func createTable(op *operator.Operator) error {
	keyDType, err := op.AttrDType("key_dtype")
	if err != nil {
		return err
	}
	valueDType, err := op.AttrDType("value_dtype")
	if err != nil {
		return err
	}
	keyShape, valueShape := shapes.Scalar(), shapes.Scalar()
	switch op.Type() {
	case "MutableHashTableOfTensors", "MutableDenseHashTable":
		dims, err := operator.AttrOr(op, "value_shape", []int64{})
		if err != nil {
			return err
		}
		valueShape = shapes.FromInt64s(dims)
	}
	if op.Type() == "MutableDenseHashTable" {
		// Dense tables take the key shape from the "empty_key" marker tensor.
		keyShape = shapes.UnknownRank()
		if emptyKey, err := op.Input("empty_key"); err == nil {
			keyShape = emptyKey.Shape.Clone()
			if err = checkDType("input empty_key", emptyKey.DType, keyDType); err != nil {
				return err
			}
		}
	}
	op.Context().SetMarks([]string{creatorMark(op)})
	op.SetOutput("table_handle", operator.NewTensorDesc(operator.Resource, shapes.Scalar()))
	return op.SetOutputHandle("table_handle", []operator.ShapeAndType{
		{Shape: keyShape, DType: keyDType},
		{Shape: valueShape, DType: valueDType},
	})
}

// ValidateTableResourceHandle validates the table fed to the "table_handle" input of op against the
// "key_dtype" and "value_dtype" attributes, and returns the (shape, dtype) of the values read with the
// given keys.
//
// For a lookup (isLookup), the trailing dimensions of keys must unify with the stored key shape, and the
// result is the keys prefix followed by the stored value shape; if the ranks don't allow the keys to end
// with the stored key shape, the result degrades to unknown rank. For an export, the result is keys
// followed by the value shape.
//
// A table without an association yields an unknown shape with the declared value dtype.
func ValidateTableResourceHandle(op *operator.Operator, keys shapes.Shape, isLookup bool) (operator.ShapeAndType, error) {
	keyDType, err := op.AttrDType("key_dtype")
	if err != nil {
		return operator.ShapeAndType{}, err
	}
	valueDType, err := op.AttrDType("value_dtype")
	if err != nil {
		return operator.ShapeAndType{}, err
	}
	handle := op.InputHandle("table_handle")
	if len(handle) != 2 {
		return operator.ShapeAndType{Shape: shapes.UnknownRank(), DType: valueDType}, nil
	}
	storedKey, storedValue := handle[0], handle[1]
	if storedKey.DType != keyDType {
		return operator.ShapeAndType{}, errors.Errorf("table keys have dtype %s, but key_dtype is %s",
			operator.DTypeName(storedKey.DType), operator.DTypeName(keyDType))
	}
	if storedValue.DType != valueDType {
		return operator.ShapeAndType{}, errors.Errorf("table values have dtype %s, but value_dtype is %s",
			operator.DTypeName(storedValue.DType), operator.DTypeName(valueDType))
	}
	result := operator.ShapeAndType{DType: valueDType}
	if !isLookup {
		result.Shape = shapes.Concatenate(keys, storedValue.Shape)
		return result, nil
	}

	if !keys.RankKnown() || !storedKey.Shape.RankKnown() || keys.Rank() < storedKey.Shape.Rank() {
		result.Shape = shapes.UnknownRank()
		return result, nil
	}
	prefixRank := keys.Rank() - storedKey.Shape.Rank()
	for axis, dim := range storedKey.Shape.Dimensions {
		keysAxis := prefixRank + axis
		if _, err := shapes.MergeDim(keys.Dimensions[keysAxis], dim); err != nil {
			return operator.ShapeAndType{}, errors.WithMessagef(err,
				"keys %s must end with the table key shape %s", keys, storedKey.Shape)
		}
	}
	prefix, err := shapes.SubShape(keys, 0, prefixRank, 1)
	if err != nil {
		return operator.ShapeAndType{}, err
	}
	result.Shape = shapes.Concatenate(prefix, storedValue.Shape)
	return result, nil
}

func lookupTableFind(op *operator.Operator) error {
	if _, err := inputWithRank(op, "table_handle", 0); err != nil {
		return err
	}
	keys, err := op.Input("keys")
	if err != nil {
		return err
	}
	if defaultValue, err := op.Input("default_value"); err == nil {
		if _, err = shapes.WithRankAtMost(defaultValue.Shape, 1); err != nil {
			return errors.WithMessage(err, "input \"default_value\"")
		}
	}
	values, err := ValidateTableResourceHandle(op, keys.Shape, true)
	if err != nil {
		return err
	}
	op.SetOutput("values", operator.NewTensorDesc(values.DType, values.Shape))
	return nil
}

func lookupTableExport(op *operator.Operator) error {
	if _, err := inputWithRank(op, "table_handle", 0); err != nil {
		return err
	}
	keys := shapes.Vector(shapes.UnknownDim)
	values, err := ValidateTableResourceHandle(op, keys, false)
	if err != nil {
		return err
	}
	keyDType, _ := op.AttrDType("key_dtype")
	exportedKeys := keys
	if handle := op.InputHandle("table_handle"); len(handle) == 2 {
		exportedKeys = shapes.Concatenate(keys, handle[0].Shape)
	}
	op.SetOutput("keys", operator.NewTensorDesc(keyDType, exportedKeys))
	op.SetOutput("values", operator.NewTensorDesc(values.DType, values.Shape))
	return nil
}

// lookupTableInsert validates LookupTableInsert and LookupTableImport: they have no outputs besides the
// table side effect.
func lookupTableInsert(op *operator.Operator) error {
	if _, err := inputWithRank(op, "table_handle", 0); err != nil {
		return err
	}
	keys, err := op.Input("keys")
	if err != nil {
		return err
	}
	values, err := op.Input("values")
	if err != nil {
		return err
	}
	keyDType, err := op.AttrDType("key_dtype")
	if err != nil {
		return err
	}
	valueDType, err := op.AttrDType("value_dtype")
	if err != nil {
		return err
	}
	if err = checkDType("input keys", keys.DType, keyDType); err != nil {
		return err
	}
	if err = checkDType("input values", values.DType, valueDType); err != nil {
		return err
	}
	if _, err = ValidateTableResourceHandle(op, keys.Shape, false); err != nil {
		return err
	}
	return nil
}

func lookupTableSize(op *operator.Operator) error {
	if _, err := inputWithRank(op, "table_handle", 0); err != nil {
		return err
	}
	op.SetOutput("size", operator.NewTensorDesc(dtypes.Int64, shapes.Scalar()))
	return nil
}
