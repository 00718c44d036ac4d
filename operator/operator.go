// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package operator provides the operator description consumed by shape inference and tiling:
// named input and output tensor descriptions, static attributes, the constant contents of the
// inputs known at compile time and the InferenceContext with the resource handle associations.
//
// It is the minimal stand-in for the operator/tensor-descriptor library of the graph engine.
package operator

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/pkg/support/sets"
	"github.com/pkg/errors"
)

type namedDesc struct {
	name string
	desc TensorDesc
}

// Operator is one node of the graph: its type, name, ordered named inputs and outputs, and attributes.
type Operator struct {
	opType, name string
	inputs       []namedDesc
	outputs      []namedDesc
	attrs        map[string]any
	inferDeps    sets.Set[string]
	ctx          *InferenceContext
}

// New creates an operator of the given type (e.g. "TensorListPushBack") and name.
func New(opType, name string) *Operator {
	return &Operator{
		opType:    opType,
		name:      name,
		attrs:     make(map[string]any),
		inferDeps: sets.Make[string](),
		ctx:       NewInferenceContext(0, 0),
	}
}

// Type returns the operator type.
func (op *Operator) Type() string { return op.opType }

// Name returns the operator name.
func (op *Operator) Name() string { return op.name }

// String implements fmt.Stringer.
func (op *Operator) String() string {
	parts := make([]string, 0, len(op.inputs))
	for _, in := range op.inputs {
		parts = append(parts, fmt.Sprintf("%s=%s", in.name, in.desc))
	}
	return fmt.Sprintf("%s(%q, %s)", op.opType, op.name, strings.Join(parts, ", "))
}

// AddInput appends a named input. It returns the operator itself, so calls can be cascaded.
func (op *Operator) AddInput(name string, desc TensorDesc) *Operator {
	op.inputs = append(op.inputs, namedDesc{name: name, desc: desc})
	return op
}

// AddOutput appends a named output. The output description is usually filled by shape inference.
func (op *Operator) AddOutput(name string, desc TensorDesc) *Operator {
	op.outputs = append(op.outputs, namedDesc{name: name, desc: desc})
	return op
}

// NumInputs returns the number of inputs.
func (op *Operator) NumInputs() int { return len(op.inputs) }

// NumOutputs returns the number of outputs.
func (op *Operator) NumOutputs() int { return len(op.outputs) }

// InputIndex returns the index of the named input, or -1 if not present.
func (op *Operator) InputIndex(name string) int {
	for ii, in := range op.inputs {
		if in.name == name {
			return ii
		}
	}
	return -1
}

// OutputIndex returns the index of the named output, or -1 if not present.
func (op *Operator) OutputIndex(name string) int {
	for ii, out := range op.outputs {
		if out.name == name {
			return ii
		}
	}
	return -1
}

// InputName returns the name of the input at the given index.
func (op *Operator) InputName(index int) string { return op.inputs[index].name }

// OutputName returns the name of the output at the given index.
func (op *Operator) OutputName(index int) string { return op.outputs[index].name }

// Input returns the description of the named input.
func (op *Operator) Input(name string) (TensorDesc, error) {
	idx := op.InputIndex(name)
	if idx < 0 {
		return TensorDesc{}, errors.Errorf("%s %q has no input %q", op.opType, op.name, name)
	}
	return op.inputs[idx].desc, nil
}

// InputByIndex returns the description of the input at the given index.
func (op *Operator) InputByIndex(index int) (TensorDesc, error) {
	if index < 0 || index >= len(op.inputs) {
		return TensorDesc{}, errors.Errorf("%s %q has no input #%d (it has %d inputs)", op.opType, op.name, index, len(op.inputs))
	}
	return op.inputs[index].desc, nil
}

// SetInput replaces the description of the named input.
func (op *Operator) SetInput(name string, desc TensorDesc) error {
	idx := op.InputIndex(name)
	if idx < 0 {
		return errors.Errorf("%s %q has no input %q", op.opType, op.name, name)
	}
	op.inputs[idx].desc = desc
	return nil
}

// Output returns the description of the named output.
func (op *Operator) Output(name string) (TensorDesc, error) {
	idx := op.OutputIndex(name)
	if idx < 0 {
		return TensorDesc{}, errors.Errorf("%s %q has no output %q", op.opType, op.name, name)
	}
	return op.outputs[idx].desc, nil
}

// OutputByIndex returns the description of the output at the given index.
func (op *Operator) OutputByIndex(index int) (TensorDesc, error) {
	if index < 0 || index >= len(op.outputs) {
		return TensorDesc{}, errors.Errorf("%s %q has no output #%d (it has %d outputs)", op.opType, op.name, index, len(op.outputs))
	}
	return op.outputs[index].desc, nil
}

// SetOutput sets the description of the named output, adding the output if it was not declared yet.
func (op *Operator) SetOutput(name string, desc TensorDesc) {
	idx := op.OutputIndex(name)
	if idx < 0 {
		op.AddOutput(name, desc)
		return
	}
	op.outputs[idx].desc = desc
}

// SetAttr sets an attribute. Integer values are stored as int64, integer slices as []int64.
// It returns the operator itself, so calls can be cascaded.
func (op *Operator) SetAttr(name string, value any) *Operator {
	switch v := value.(type) {
	case int:
		value = int64(v)
	case int32:
		value = int64(v)
	case []int:
		ints := make([]int64, len(v))
		for ii, x := range v {
			ints[ii] = int64(x)
		}
		value = ints
	case []int32:
		ints := make([]int64, len(v))
		for ii, x := range v {
			ints[ii] = int64(x)
		}
		value = ints
	case float64:
		value = float32(v)
	}
	op.attrs[name] = value
	return op
}

// HasAttr returns whether the attribute is set.
func (op *Operator) HasAttr(name string) bool {
	_, found := op.attrs[name]
	return found
}

// Attr returns the attribute value with the given type. Integer attributes have type int64, integer
// lists []int64, floats float32 and dtypes dtypes.DType.
//
// It returns an error if the attribute is missing or has a different type.
func Attr[T any](op *Operator, name string) (value T, err error) {
	raw, found := op.attrs[name]
	if !found {
		err = errors.Errorf("%s %q: missing required attribute %q", op.opType, op.name, name)
		return
	}
	value, ok := raw.(T)
	if !ok {
		err = errors.Errorf("%s %q: attribute %q has type %T, wanted %T", op.opType, op.name, name, raw, value)
	}
	return
}

// AttrOr returns the attribute value or defaultValue if it is not set.
// It still returns an error if the attribute is set with a different type.
func AttrOr[T any](op *Operator, name string, defaultValue T) (T, error) {
	if !op.HasAttr(name) {
		return defaultValue, nil
	}
	return Attr[T](op, name)
}

// AttrDType is a shortcut to Attr[dtypes.DType].
func (op *Operator) AttrDType(name string) (dtypes.DType, error) {
	return Attr[dtypes.DType](op, name)
}

// DeclareInferDependency declares that shape inference reads the constant content of the named inputs.
// Constant content of inputs not declared is never read.
func (op *Operator) DeclareInferDependency(names ...string) *Operator {
	op.inferDeps.Insert(names...)
	return op
}

// InferDependencies returns the sorted names of the inputs declared with DeclareInferDependency.
func (op *Operator) InferDependencies() []string {
	return sets.Sorted(op.inferDeps)
}

// ConstInput returns the constant content of the named input, if the input exists, it was declared as an
// inference dependency and its content is known. Otherwise, it returns false.
func (op *Operator) ConstInput(name string) ([]int64, bool) {
	if !op.inferDeps.Has(name) {
		return nil, false
	}
	desc, err := op.Input(name)
	if err != nil || !desc.HasConst {
		return nil, false
	}
	return desc.Const, true
}

// Context returns the inference context of the operator.
func (op *Operator) Context() *InferenceContext { return op.ctx }

// InputHandle returns the handle association of the named input.
func (op *Operator) InputHandle(name string) []ShapeAndType {
	return op.ctx.InputHandleShapesAndTypes(op.InputIndex(name))
}

// SetOutputHandle sets the handle association of the named output.
func (op *Operator) SetOutputHandle(name string, handle []ShapeAndType) error {
	idx := op.OutputIndex(name)
	if idx < 0 {
		return errors.Errorf("%s %q has no output %q", op.opType, op.name, name)
	}
	op.ctx.SetOutputHandleShapesAndTypes(idx, handle)
	return nil
}

// OutputHandle returns the handle association set for the named output.
func (op *Operator) OutputHandle(name string) []ShapeAndType {
	return op.ctx.OutputHandleShapesAndTypes(op.OutputIndex(name))
}
