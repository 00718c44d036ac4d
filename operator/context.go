// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package operator

import "slices"

// InferenceContext carries the resource handle associations of one operator invocation:
// for each input and output index, the (shape, dtype) pairs of the handle it holds (if any),
// plus a list of string marks used to identify which operator created a handle.
//
// It is owned by the graph-construction pass, mutated only by the operator's inference
// function and read by its immediate successors.
type InferenceContext struct {
	inputHandles  [][]ShapeAndType
	outputHandles [][]ShapeAndType
	marks         []string
}

// NewInferenceContext returns an empty context for the given number of inputs and outputs.
func NewInferenceContext(numInputs, numOutputs int) *InferenceContext {
	return &InferenceContext{
		inputHandles:  make([][]ShapeAndType, numInputs),
		outputHandles: make([][]ShapeAndType, numOutputs),
	}
}

func growTo(handles [][]ShapeAndType, index int) [][]ShapeAndType {
	if index >= len(handles) {
		handles = append(handles, make([][]ShapeAndType, index+1-len(handles))...)
	}
	return handles
}

// InputHandleShapesAndTypes returns the handle association of the given input, nil if there is none.
func (ctx *InferenceContext) InputHandleShapesAndTypes(index int) []ShapeAndType {
	if index < 0 || index >= len(ctx.inputHandles) {
		return nil
	}
	return ctx.inputHandles[index]
}

// SetInputHandleShapesAndTypes sets the handle association of the given input. It is used
// by the graph to forward the association produced by the input's producer.
func (ctx *InferenceContext) SetInputHandleShapesAndTypes(index int, handle []ShapeAndType) {
	ctx.inputHandles = growTo(ctx.inputHandles, index)
	ctx.inputHandles[index] = CloneShapesAndTypes(handle)
}

// OutputHandleShapesAndTypes returns the handle association set for the given output.
func (ctx *InferenceContext) OutputHandleShapesAndTypes(index int) []ShapeAndType {
	if index < 0 || index >= len(ctx.outputHandles) {
		return nil
	}
	return ctx.outputHandles[index]
}

// SetOutputHandleShapesAndTypes sets the handle association of the given output.
func (ctx *InferenceContext) SetOutputHandleShapesAndTypes(index int, handle []ShapeAndType) {
	ctx.outputHandles = growTo(ctx.outputHandles, index)
	ctx.outputHandles[index] = CloneShapesAndTypes(handle)
}

// Marks returns the marks of the context.
func (ctx *InferenceContext) Marks() []string {
	return ctx.marks
}

// SetMarks replaces the marks of the context.
func (ctx *InferenceContext) SetMarks(marks []string) {
	ctx.marks = slices.Clone(marks)
}

// AddMark appends a mark, if not yet present.
func (ctx *InferenceContext) AddMark(mark string) {
	if !slices.Contains(ctx.marks, mark) {
		ctx.marks = append(ctx.marks, mark)
	}
}
