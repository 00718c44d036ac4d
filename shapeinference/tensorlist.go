// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/pkg/errors"
)

// Tensor lists: the list handle is a scalar Variant tensor, and its association carries exactly one
// (shape, dtype) pair, the element shape and dtype.

// setListHandle sets the named output to a scalar Variant with the given element association.
func setListHandle(op *operator.Operator, outputName string, element operator.ShapeAndType) error {
	op.SetOutput(outputName, operator.NewTensorDesc(operator.Variant, shapes.Scalar()))
	return op.SetOutputHandle(outputName, []operator.ShapeAndType{element})
}

// storedElement returns the element association of the list fed to the named input, checking it
// against the declared elementDType.
//
// A list without an association (e.g. fed by a graph input) is treated as (unknown rank, elementDType).
func storedElement(op *operator.Operator, inputName string, elementDType dtypes.DType) (operator.ShapeAndType, error) {
	if _, err := inputWithRank(op, inputName, 0); err != nil {
		return operator.ShapeAndType{}, err
	}
	handle := op.InputHandle(inputName)
	if len(handle) == 0 {
		return operator.ShapeAndType{Shape: shapes.UnknownRank(), DType: elementDType}, nil
	}
	if len(handle) != 1 {
		return operator.ShapeAndType{}, errors.Errorf(
			"input %q should be a tensor list handle with one (shape, dtype) pair, got %d pairs", inputName, len(handle))
	}
	stored := operator.ShapeAndType{Shape: handle[0].Shape.Clone(), DType: handle[0].DType}
	if err := checkDType("tensor list element of input "+inputName, stored.DType, elementDType); err != nil {
		return operator.ShapeAndType{}, errors.WithMessage(err, "element_dtype")
	}
	if stored.DType == dtypes.InvalidDType {
		stored.DType = elementDType
	}
	return stored, nil
}

// mergeElement merges the stored element shape with a hint or an item shape.
func mergeElement(stored shapes.Shape, other shapes.Shape, what string) (shapes.Shape, error) {
	merged, err := shapes.Merge(stored, other)
	if err != nil {
		return shapes.Shape{}, errors.WithMessagef(err, "element shape %s of the list is incompatible with %s %s",
			stored, what, other)
	}
	return merged, nil
}

// createList is shared by the list creation operators: the element shape is the constant
// "element_shape" input merged with elementHint.
func createList(op *operator.Operator, elementHint shapes.Shape) error {
	elementDType, err := op.AttrDType("element_dtype")
	if err != nil {
		return err
	}
	element, err := mergeElement(shapeFromConstInput(op, "element_shape"), elementHint, "the tensor elements")
	if err != nil {
		return err
	}
	op.Context().SetMarks([]string{creatorMark(op)})
	return setListHandle(op, "handle", operator.ShapeAndType{Shape: element, DType: elementDType})
}

func emptyTensorList(op *operator.Operator) error {
	if _, err := inputWithRank(op, "max_num_elements", 0); err != nil {
		return err
	}
	return createList(op, shapes.UnknownRank())
}

func tensorListReserve(op *operator.Operator) error {
	if _, err := inputWithRank(op, "num_elements", 0); err != nil {
		return err
	}
	return createList(op, shapes.UnknownRank())
}

// tensorElementShape returns the shape of the elements of the list built from the named tensor,
// that is tensor.shape[1:], after checking the tensor dtype against "element_dtype".
func tensorElementShape(op *operator.Operator, name string) (shapes.Shape, error) {
	elementDType, err := op.AttrDType("element_dtype")
	if err != nil {
		return shapes.Shape{}, err
	}
	desc, err := op.Input(name)
	if err != nil {
		return shapes.Shape{}, err
	}
	if err = checkDType("input "+name, desc.DType, elementDType); err != nil {
		return shapes.Shape{}, err
	}
	shape, err := shapes.WithRankAtLeast(desc.Shape, 1)
	if err != nil {
		return shapes.Shape{}, errors.WithMessagef(err, "input %q", name)
	}
	return shapes.SubShape(shape, 1, shapes.EndOfShape, 1)
}

func tensorListFromTensor(op *operator.Operator) error {
	element, err := tensorElementShape(op, "tensor")
	if err != nil {
		return err
	}
	return createList(op, element)
}

func tensorListScatter(op *operator.Operator) error {
	if _, err := inputWithRank(op, "indices", 1); err != nil {
		return err
	}
	element, err := tensorElementShape(op, "tensor")
	if err != nil {
		return err
	}
	return createList(op, element)
}

func tensorListSplit(op *operator.Operator) error {
	if _, err := inputWithRank(op, "lengths", 1); err != nil {
		return err
	}
	element, err := tensorElementShape(op, "tensor")
	if err != nil {
		return err
	}
	// Each element takes a variable number of rows of the tensor.
	return createList(op, shapes.Concatenate(shapes.Vector(shapes.UnknownDim), element))
}

// readElement returns the element shape of the list fed to "input_handle" merged with the constant
// "element_shape" hint, and the element dtype.
func readElement(op *operator.Operator) (operator.ShapeAndType, error) {
	elementDType, err := op.AttrDType("element_dtype")
	if err != nil {
		return operator.ShapeAndType{}, err
	}
	stored, err := storedElement(op, "input_handle", elementDType)
	if err != nil {
		return operator.ShapeAndType{}, err
	}
	stored.Shape, err = mergeElement(stored.Shape, shapeFromConstInput(op, "element_shape"), "element_shape")
	return stored, err
}

func tensorListGetItem(op *operator.Operator) error {
	if _, err := inputWithRank(op, "index", 0); err != nil {
		return err
	}
	element, err := readElement(op)
	if err != nil {
		return err
	}
	op.SetOutput("item", operator.NewTensorDesc(element.DType, element.Shape))
	return nil
}

func tensorListStack(op *operator.Operator) error {
	element, err := readElement(op)
	if err != nil {
		return err
	}
	numElements, err := operator.AttrOr(op, "num_elements", int64(-1))
	if err != nil {
		return err
	}
	leading := shapes.UnknownDim
	if numElements >= 0 {
		leading = int(numElements)
	}
	op.SetOutput("tensor", operator.NewTensorDesc(element.DType, shapes.Concatenate(shapes.Vector(leading), element.Shape)))
	return nil
}

func tensorListGather(op *operator.Operator) error {
	indices, err := inputWithRank(op, "indices", 1)
	if err != nil {
		return err
	}
	element, err := readElement(op)
	if err != nil {
		return err
	}
	op.SetOutput("values", operator.NewTensorDesc(element.DType, shapes.Concatenate(indices, element.Shape)))
	return nil
}

func tensorListConcat(op *operator.Operator) error {
	element, err := readElement(op)
	if err != nil {
		return err
	}
	elementShape, err := shapes.WithRankAtLeast(element.Shape, 1)
	if err != nil {
		return errors.WithMessage(err, "concatenated elements must have rank >= 1")
	}
	output := shapes.UnknownRank()
	if elementShape.RankKnown() {
		// Concatenation happens along the first axis, whose total size is not known.
		output, err = shapes.ReplaceDim(elementShape, 0, shapes.UnknownDim)
		if err != nil {
			return err
		}
	}
	op.SetOutput("tensor", operator.NewTensorDesc(element.DType, output))
	op.SetOutput("lengths", operator.NewTensorDesc(dtypes.Int64, shapes.Vector(shapes.UnknownDim)))
	return nil
}

func tensorListPopBack(op *operator.Operator) error {
	element, err := readElement(op)
	if err != nil {
		return err
	}
	op.SetOutput("tensor", operator.NewTensorDesc(element.DType, element.Shape))
	return setListHandle(op, "output_handle", element)
}

func tensorListLength(op *operator.Operator) error {
	if _, err := inputWithRank(op, "input_handle", 0); err != nil {
		return err
	}
	op.SetOutput("length", operator.NewTensorDesc(dtypes.Int32, shapes.Scalar()))
	return nil
}

func tensorListElementShape(op *operator.Operator) error {
	shapeType, err := op.AttrDType("shape_type")
	if err != nil {
		return err
	}
	if shapeType != dtypes.Int32 && shapeType != dtypes.Int64 {
		return errors.Errorf("shape_type must be Int32 or Int64, got %s", shapeType)
	}
	stored, err := storedElement(op, "input_handle", dtypes.InvalidDType)
	if err != nil {
		return err
	}
	output := shapes.Vector(shapes.UnknownDim)
	if stored.Shape.RankKnown() {
		output = shapes.Vector(stored.Shape.Rank())
	}
	op.SetOutput("element_shape", operator.NewTensorDesc(shapeType, output))
	return nil
}

// writeElement merges the shape of the tensor being written (item) with the element shape of the list
// fed to handleInput, checks dtypes, and forwards the merged association to outputName.
func writeElement(op *operator.Operator, handleInput, outputName string, item shapes.Shape, itemDType dtypes.DType) error {
	elementDType, err := op.AttrDType("element_dtype")
	if err != nil {
		return err
	}
	if err = checkDType("written tensor", itemDType, elementDType); err != nil {
		return err
	}
	stored, err := storedElement(op, handleInput, elementDType)
	if err != nil {
		return err
	}
	stored.Shape, err = mergeElement(stored.Shape, item, "the written tensor")
	if err != nil {
		return err
	}
	return setListHandle(op, outputName, stored)
}

func tensorListSetItem(op *operator.Operator) error {
	if _, err := inputWithRank(op, "index", 0); err != nil {
		return err
	}
	item, err := op.Input("item")
	if err != nil {
		return err
	}
	return writeElement(op, "input_handle", "output_handle", item.Shape, item.DType)
}

func tensorListPushBack(op *operator.Operator) error {
	tensor, err := op.Input("tensor")
	if err != nil {
		return err
	}
	return writeElement(op, "input_handle", "output_handle", tensor.Shape, tensor.DType)
}

func tensorListPushBackBatch(op *operator.Operator) error {
	handles, err := inputWithRank(op, "input_handles", 1)
	if err != nil {
		return err
	}
	tensor, err := op.Input("tensor")
	if err != nil {
		return err
	}
	tensorShape, err := shapes.WithRankAtLeast(tensor.Shape, 1)
	if err != nil {
		return errors.WithMessage(err, "input \"tensor\"")
	}
	if tensorShape.RankKnown() && handles.DimKnown(0) && tensorShape.DimKnown(0) && handles.Dim(0) != tensorShape.Dim(0) {
		return errors.Errorf("batch size of \"tensor\" (%d) does not match the number of lists (%d)",
			tensorShape.Dim(0), handles.Dim(0))
	}
	item, err := shapes.SubShape(tensorShape, 1, shapes.EndOfShape, 1)
	if err != nil {
		return err
	}
	elementDType, err := op.AttrDType("element_dtype")
	if err != nil {
		return err
	}
	if err = checkDType("input tensor", tensor.DType, elementDType); err != nil {
		return err
	}

	// The batch of handles shares one association.
	element := operator.ShapeAndType{Shape: shapes.UnknownRank(), DType: elementDType}
	if handle := op.InputHandle("input_handles"); len(handle) > 0 {
		if len(handle) != 1 {
			return errors.Errorf("input \"input_handles\" should carry one (shape, dtype) pair, got %d", len(handle))
		}
		if err = checkDType("tensor list element", handle[0].DType, elementDType); err != nil {
			return err
		}
		element.Shape = handle[0].Shape.Clone()
	}
	element.Shape, err = mergeElement(element.Shape, item, "the pushed batch")
	if err != nil {
		return err
	}
	op.SetOutput("output_handles", operator.NewTensorDesc(operator.Variant, handles))
	return op.SetOutputHandle("output_handles", []operator.ShapeAndType{element})
}

func tensorListScatterIntoExistingList(op *operator.Operator) error {
	if _, err := inputWithRank(op, "indices", 1); err != nil {
		return err
	}
	tensor, err := op.Input("tensor")
	if err != nil {
		return err
	}
	tensorShape, err := shapes.WithRankAtLeast(tensor.Shape, 1)
	if err != nil {
		return errors.WithMessage(err, "input \"tensor\"")
	}
	item, err := shapes.SubShape(tensorShape, 1, shapes.EndOfShape, 1)
	if err != nil {
		return err
	}
	return writeElement(op, "input_handle", "output_handle", item, tensor.DType)
}

func tensorListResize(op *operator.Operator) error {
	if _, err := inputWithRank(op, "size", 0); err != nil {
		return err
	}
	stored, err := storedElement(op, "input_handle", dtypes.InvalidDType)
	if err != nil {
		return err
	}
	if len(op.InputHandle("input_handle")) == 0 {
		op.SetOutput("output_handle", operator.NewTensorDesc(operator.Variant, shapes.Scalar()))
		return nil
	}
	return setListHandle(op, "output_handle", stored)
}

// tensorListConcatLists concatenates two batches of lists element-wise: both inputs must have the same
// shape, and their element associations must agree.
func tensorListConcatLists(op *operator.Operator) error {
	elementDType, err := op.AttrDType("element_dtype")
	if err != nil {
		return err
	}
	a, err := op.Input("input_a")
	if err != nil {
		return err
	}
	b, err := op.Input("input_b")
	if err != nil {
		return err
	}
	outputShape, err := shapes.Merge(a.Shape, b.Shape)
	if err != nil {
		return errors.WithMessage(err, "input_a and input_b must have the same shape")
	}
	op.SetOutput("output", operator.NewTensorDesc(operator.Variant, outputShape))

	handleA, handleB := op.InputHandle("input_a"), op.InputHandle("input_b")
	if len(handleA) == 0 && len(handleB) == 0 {
		// Nothing known about either side: the output carries no association.
		return nil
	}
	element := operator.ShapeAndType{Shape: shapes.UnknownRank(), DType: elementDType}
	for _, side := range []struct {
		name   string
		handle []operator.ShapeAndType
	}{{"input_a", handleA}, {"input_b", handleB}} {
		if len(side.handle) == 0 {
			continue
		}
		if len(side.handle) != 1 {
			return errors.Errorf("input %q should carry one (shape, dtype) pair, got %d", side.name, len(side.handle))
		}
		if side.handle[0].DType != elementDType {
			return errors.Errorf("input %q holds lists of %s, but element_dtype is %s",
				side.name, operator.DTypeName(side.handle[0].DType), operator.DTypeName(elementDType))
		}
		element.Shape, err = mergeElement(element.Shape, side.handle[0].Shape, "the element shape of "+side.name)
		if err != nil {
			return err
		}
	}
	return op.SetOutputHandle("output", []operator.ShapeAndType{element})
}
