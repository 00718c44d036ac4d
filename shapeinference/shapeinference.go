// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the output shapes and dtypes of operators at graph-construction time,
// and propagates the (shape, dtype) associations of resource handles (tensor lists and lookup tables)
// through the graph.
//
// Each operator has one inference function, selected by Infer from the operator type. Inference functions
// read the operator's input descriptions, attributes and the constant content of the inputs declared as
// inference dependencies, and they write the output descriptions and the output handle associations to the
// operator's InferenceContext.
//
// Failure semantics: a dtype mismatch, a missing required attribute or a shape merge conflict aborts the
// inference of the operator with an error. A missing constant input only degrades the result to an
// unknown-rank shape.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/sets"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ListCreateOps create a new tensor list handle, and mark their output with their identity.
	ListCreateOps = sets.MakeWith(
		"EmptyTensorList",
		"TensorListReserve",
		"TensorListFromTensor",
		"TensorListScatter",
		"TensorListScatterV2",
		"TensorListSplit",
	)

	// TableCreateOps create a new lookup table handle.
	TableCreateOps = sets.MakeWith(
		"HashTable",
		"MutableHashTable",
		"MutableHashTableOfTensors",
		"MutableDenseHashTable",
	)
)

// inferDependencies lists, per operator type, the inputs whose constant content the inference reads.
var inferDependencies = map[string][]string{
	"EmptyTensorList":      {"element_shape"},
	"TensorListReserve":    {"element_shape", "num_elements"},
	"TensorListFromTensor": {"element_shape"},
	"TensorListScatter":    {"element_shape"},
	"TensorListScatterV2":  {"element_shape", "num_elements"},
	"TensorListGetItem":    {"element_shape"},
	"TensorListStack":      {"element_shape"},
	"TensorListGather":     {"element_shape"},
	"TensorListConcat":     {"element_shape"},
	"TensorListConcatV2":   {"element_shape"},
	"TensorListPopBack":    {"element_shape"},
	"TensorListSplit":      {"element_shape"},
	"UnsortedSegmentSum":   {"num_segments"},
	"PadV3":                {"paddings"},
	"SplitV":               {"size_splits", "split_dim"},
}

// InferDependencies returns the inputs of the operator type whose constant content is read at
// graph-construction time. Tiling functions read the same inputs.
func InferDependencies(opType string) []string {
	return inferDependencies[opType]
}

// Infer runs the inference function of the operator's type.
//
// It returns an error if the operator type is not supported or if its inference fails.
func Infer(op *operator.Operator) error {
	opType := op.Type()
	if deps, found := inferDependencies[opType]; found {
		op.DeclareInferDependency(deps...)
	}
	var err error
	switch opType {
	// Tensor list creation.
	case "EmptyTensorList":
		err = emptyTensorList(op)
	case "TensorListReserve":
		err = tensorListReserve(op)
	case "TensorListFromTensor":
		err = tensorListFromTensor(op)
	case "TensorListScatter", "TensorListScatterV2":
		err = tensorListScatter(op)
	case "TensorListSplit":
		err = tensorListSplit(op)

	// Tensor list reads.
	case "TensorListGetItem":
		err = tensorListGetItem(op)
	case "TensorListStack":
		err = tensorListStack(op)
	case "TensorListGather":
		err = tensorListGather(op)
	case "TensorListConcat", "TensorListConcatV2":
		err = tensorListConcat(op)
	case "TensorListPopBack":
		err = tensorListPopBack(op)
	case "TensorListLength":
		err = tensorListLength(op)
	case "TensorListElementShape":
		err = tensorListElementShape(op)

	// Tensor list writes.
	case "TensorListSetItem":
		err = tensorListSetItem(op)
	case "TensorListPushBack":
		err = tensorListPushBack(op)
	case "TensorListPushBackBatch":
		err = tensorListPushBackBatch(op)
	case "TensorListScatterIntoExistingList":
		err = tensorListScatterIntoExistingList(op)
	case "TensorListResize":
		err = tensorListResize(op)
	case "TensorListConcatLists":
		err = tensorListConcatLists(op)

	// Lookup tables.
	case "HashTable", "MutableHashTable", "MutableHashTableOfTensors", "MutableDenseHashTable":
		err = createTable(op)
	case "LookupTableFind":
		err = lookupTableFind(op)
	case "LookupTableExport":
		err = lookupTableExport(op)
	case "LookupTableInsert", "LookupTableImport":
		err = lookupTableInsert(op)
	case "LookupTableSize":
		err = lookupTableSize(op)

	// Tensor operators with tiling functions.
	case "UnsortedSegmentSum":
		err = unsortedSegmentSum(op)
	case "PadV3":
		err = padV3(op)
	case "Unpack":
		err = unpack(op)
	case "SplitV":
		err = splitV(op)

	default:
		return errors.Errorf("shape inference for operator type %q (%q) not supported", opType, op.Name())
	}
	if err != nil {
		return errors.WithMessagef(err, "shape inference of %s %q", opType, op.Name())
	}
	if klog.V(2).Enabled() {
		for ii := range op.NumOutputs() {
			out, _ := op.OutputByIndex(ii)
			klog.Infof("%s %q: output %q -> %s, handle=%v", opType, op.Name(), op.OutputName(ii), out,
				op.Context().OutputHandleShapesAndTypes(ii))
		}
	}
	return nil
}

// SupportedOps returns the sorted list of operator types Infer supports.
func SupportedOps() []string {
	ops := []string{
		"TensorListGetItem", "TensorListStack", "TensorListGather", "TensorListConcat", "TensorListConcatV2",
		"TensorListPopBack", "TensorListLength", "TensorListElementShape", "TensorListSetItem",
		"TensorListPushBack", "TensorListPushBackBatch", "TensorListScatterIntoExistingList",
		"TensorListResize", "TensorListConcatLists", "LookupTableFind", "LookupTableExport",
		"LookupTableInsert", "LookupTableImport", "LookupTableSize",
		"UnsortedSegmentSum", "PadV3", "Unpack", "SplitV",
	}
	for op := range ListCreateOps {
		ops = append(ops, op)
	}
	for op := range TableCreateOps {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// creatorMark identifies the operator that created a handle.
func creatorMark(op *operator.Operator) string {
	return op.Type() + ":" + op.Name()
}

// inputWithRank returns the shape of the named input, checked (or relaxed, if its rank is unknown) to the given rank.
func inputWithRank(op *operator.Operator, name string, rank int) (shapes.Shape, error) {
	desc, err := op.Input(name)
	if err != nil {
		return shapes.Shape{}, err
	}
	shape, err := shapes.WithRank(desc.Shape, rank)
	if err != nil {
		return shapes.Shape{}, errors.WithMessagef(err, "input %q", name)
	}
	return shape, nil
}

// shapeFromConstInput converts the constant content of a shape input (e.g. "element_shape") to a Shape.
// A scalar -1 means unknown rank, and -1 entries of a vector mean unknown dimensions.
//
// If the content is not available at graph-construction time, it degrades to an unknown rank shape.
func shapeFromConstInput(op *operator.Operator, name string) shapes.Shape {
	values, found := ConstInput(op, name)
	if !found {
		return shapes.UnknownRank()
	}
	desc, _ := op.Input(name)
	if desc.Shape.IsScalar() {
		if len(values) != 1 || values[0] != -1 {
			klog.Warningf("%s %q: scalar shape input %q has invalid content %v, using an unknown shape",
				op.Type(), op.Name(), name, values)
		}
		return shapes.UnknownRank()
	}
	return shapes.FromInt64s(values)
}

// ConstInput returns the constant content of the named input, if it is an inference dependency of the
// operator (declared on it, or listed for its type by InferDependencies) and its content is known.
//
// It doesn't modify the operator, so it is safe to use from concurrent tiling calls. If the input exists
// but its content is not available, it logs a warning and returns false: callers degrade to an unknown
// value.
func ConstInput(op *operator.Operator, name string) ([]int64, bool) {
	values, found := op.ConstInput(name)
	if !found && slices.Contains(inferDependencies[op.Type()], name) {
		if desc, err := op.Input(name); err == nil && desc.HasConst {
			values, found = desc.Const, true
		}
	}
	if !found && op.InputIndex(name) >= 0 {
		klog.Warningf("%s %q: constant content of input %q not available, using an unknown value",
			op.Type(), op.Name(), name)
	}
	return values, found
}

// scalarFromConstInput returns the scalar constant content of the named input, if available.
func scalarFromConstInput(op *operator.Operator, name string) (int64, bool) {
	values, found := ConstInput(op, name)
	if !found || len(values) != 1 {
		return 0, false
	}
	return values[0], true
}

// checkDType returns an error if got is known and different from want.
func checkDType(what string, got, want dtypes.DType) error {
	if got == dtypes.InvalidDType || want == dtypes.InvalidDType || got == want {
		return nil
	}
	return errors.Errorf("%s has dtype %s, but %s was expected", what, operator.DTypeName(got), operator.DTypeName(want))
}
