// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/fsutil"
	"github.com/gomlx/optiling/pkg/support/xslices"
	"github.com/gomlx/optiling/shapeinference"
	"github.com/gomlx/optiling/types/shapes"
	"github.com/pkg/errors"
)

// TensorDescription is the JSON description of one input or output of an operator.
//
// Unknown dimensions are given as -1, and an unknown rank with "unknown_rank": true.
type TensorDescription struct {
	Name        string  `json:"name"`
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	UnknownRank bool    `json:"unknown_rank,omitempty"`
	Format      string  `json:"format,omitempty"`
	Const       []int64 `json:"const,omitempty"`
}

// OpDescription is the JSON description of an operator.
//
// Attributes are decoded as int64 (integer numbers), []int64 (lists of integers), string, bool or float64.
// DTypeAttrs holds the attributes of type dtype, by name.
type OpDescription struct {
	Type       string              `json:"type"`
	Name       string              `json:"name"`
	Inputs     []TensorDescription `json:"inputs"`
	Outputs    []TensorDescription `json:"outputs,omitempty"`
	Attrs      map[string]any      `json:"attrs,omitempty"`
	DTypeAttrs map[string]string   `json:"dtype_attrs,omitempty"`
}

// EdgeDescription connects the output of an operator to the input of a later one.
type EdgeDescription struct {
	From   string `json:"from"`
	Output string `json:"output"`
	To     string `json:"to"`
	Input  string `json:"input"`
}

// GraphDescription is the JSON description of a graph, with the operators in topological order.
type GraphDescription struct {
	Ops   []OpDescription   `json:"ops"`
	Edges []EdgeDescription `json:"edges"`
}

// readFileOrText returns the content of the file if value starts with "@", or value itself otherwise.
func readFileOrText(value string) (string, error) {
	path, isFile := strings.CutPrefix(value, "@")
	if !isFile {
		return value, nil
	}
	content, err := fsutil.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// decodeJSON decodes text into target, keeping numbers as json.Number.
func decodeJSON(text string, target any) error {
	decoder := json.NewDecoder(bytes.NewReader([]byte(text)))
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// ParseOp parses the JSON description of an operator.
func ParseOp(text string) (*OpDescription, error) {
	var desc OpDescription
	if err := decodeJSON(text, &desc); err != nil {
		return nil, errors.Wrap(err, "invalid operator description")
	}
	return &desc, nil
}

// ParseGraph parses the JSON description of a graph.
func ParseGraph(text string) (*GraphDescription, error) {
	var desc GraphDescription
	if err := decodeJSON(text, &desc); err != nil {
		return nil, errors.Wrap(err, "invalid graph description")
	}
	return &desc, nil
}

// parseDType parses a dtype name, including the handle dtypes "variant" and "resource".
func parseDType(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "variant":
		return operator.Variant, nil
	case "resource":
		return operator.Resource, nil
	case "":
		return dtypes.InvalidDType, nil
	}
	if dtype, found := dtypes.MapOfNames[name]; found {
		return dtype, nil
	}
	dtype, err := dtypes.DTypeString(name)
	if err != nil {
		return dtypes.InvalidDType, errors.Wrapf(err, "unknown dtype %q", name)
	}
	return dtype, nil
}

// Build returns the tensor description.
func (t TensorDescription) Build() (operator.TensorDesc, error) {
	dtype, err := parseDType(t.DType)
	if err != nil {
		return operator.TensorDesc{}, errors.WithMessagef(err, "tensor %q", t.Name)
	}
	shape := shapes.UnknownRank()
	if !t.UnknownRank {
		for _, dim := range t.Shape {
			if dim < 0 && dim != shapes.UnknownDim {
				return operator.TensorDesc{}, errors.Errorf("tensor %q has an invalid dimension %d", t.Name, dim)
			}
		}
		shape = shapes.Make(t.Shape...)
	}
	desc := operator.NewTensorDesc(dtype, shape)
	if t.Format != "" {
		desc = desc.WithFormat(operator.Format(strings.ToUpper(t.Format)))
	}
	if t.Const != nil {
		desc = desc.WithConst(t.Const...)
	}
	return desc, nil
}

// attrValue converts a decoded JSON value to the attribute types of operator.Operator.
func attrValue(value any) (any, error) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case string, bool:
		return v, nil
	case []any:
		ints := make([]int64, len(v))
		for ii, element := range v {
			number, ok := element.(json.Number)
			if !ok {
				return nil, errors.Errorf("list attributes must hold integers, got %v", v)
			}
			var err error
			if ints[ii], err = number.Int64(); err != nil {
				return nil, errors.Errorf("list attributes must hold integers, got %v", v)
			}
		}
		return ints, nil
	}
	return nil, errors.Errorf("unsupported attribute value %v (%T)", value, value)
}

// Build returns the operator. The inputs read by its shape inference are declared as such.
func (d *OpDescription) Build() (*operator.Operator, error) {
	if d.Type == "" {
		return nil, errors.New("operator description without a type")
	}
	name := d.Name
	if name == "" {
		name = strings.ToLower(d.Type)
	}
	op := operator.New(d.Type, name)
	for _, input := range d.Inputs {
		desc, err := input.Build()
		if err != nil {
			return nil, errors.WithMessagef(err, "operator %q", name)
		}
		op.AddInput(input.Name, desc)
	}
	for _, output := range d.Outputs {
		desc, err := output.Build()
		if err != nil {
			return nil, errors.WithMessagef(err, "operator %q", name)
		}
		op.AddOutput(output.Name, desc)
	}
	for _, key := range xslices.SortedKeys(d.Attrs) {
		value, err := attrValue(d.Attrs[key])
		if err != nil {
			return nil, errors.WithMessagef(err, "attribute %q of operator %q", key, name)
		}
		op.SetAttr(key, value)
	}
	for _, key := range xslices.SortedKeys(d.DTypeAttrs) {
		dtype, err := parseDType(d.DTypeAttrs[key])
		if err != nil {
			return nil, errors.WithMessagef(err, "attribute %q of operator %q", key, name)
		}
		op.SetAttr(key, dtype)
	}
	op.DeclareInferDependency(shapeinference.InferDependencies(d.Type)...)
	return op, nil
}

// WithDim returns a copy of the description with the dimension at axis of the named input replaced by dim.
// Outputs are left unchanged.
func (d *OpDescription) WithDim(input string, axis, dim int) (*OpDescription, error) {
	clone := *d
	clone.Inputs = slices.Clone(d.Inputs)
	found := false
	for ii, t := range clone.Inputs {
		if t.Name != input {
			continue
		}
		if axis < 0 || axis >= len(t.Shape) {
			return nil, errors.Errorf("axis %d out of range for input %q of shape %v", axis, input, t.Shape)
		}
		t.Shape = slices.Clone(t.Shape)
		t.Shape[axis] = dim
		clone.Inputs[ii] = t
		found = true
	}
	if !found {
		return nil, errors.Errorf("operator %q has no input %q", d.Name, input)
	}
	return &clone, nil
}

// Build returns the graph, with all operators and edges added.
func (g *GraphDescription) Build() (*shapeinference.Graph, error) {
	graph := shapeinference.NewGraph()
	for ii := range g.Ops {
		op, err := g.Ops[ii].Build()
		if err != nil {
			return nil, err
		}
		if _, err = graph.Add(op); err != nil {
			return nil, err
		}
	}
	for _, e := range g.Edges {
		from, to := graph.Node(e.From), graph.Node(e.To)
		if from == nil || to == nil {
			return nil, errors.Errorf("edge %s:%s -> %s:%s refers to an unknown operator", e.From, e.Output, e.To, e.Input)
		}
		if err := graph.Connect(from, e.Output, to, e.Input); err != nil {
			return nil, err
		}
	}
	return graph, nil
}
