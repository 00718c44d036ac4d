// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiling defines the result of a tiling decision (RunInfo) and the error kinds shared by all
// tiling functions.
//
// A tiling function reads the concrete shapes of an operator plus its compile info, and decides how
// the work is partitioned across the accelerator cores (the block dim) and across on-chip buffer
// passes. The decision is serialized as a fixed-layout blob of scalars (see package tilingdata) consumed
// by the kernel.
//
// The tiling functions themselves live in the sub-packages: cube (table search for the
// convolution and matmul family), nllloss, pooling, scatter, padv3, transdata, split and autotiling.
// Package dispatch routes an operator to its tiling function.
package tiling

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/optiling/operator"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidCompileInfo is returned (wrapped) when the compile info is malformed or misses a required key.
	ErrInvalidCompileInfo = errors.New("invalid compile info")

	// ErrUncoveredShape is returned (wrapped) when no entry of a tiling table covers the runtime shape.
	ErrUncoveredShape = errors.New("this shape is not covered by any tiling, please modify range and recompile")

	// ErrPrecondition is returned (wrapped) when the inputs violate a precondition of the tiling: empty
	// or not fully defined shapes, zero divisors, non-divisible sizes.
	ErrPrecondition = errors.New("tiling precondition failed")

	// ErrUnsupported is returned (wrapped) for operator types, formats or dtypes without a tiling function.
	ErrUnsupported = errors.New("unsupported")
)

// InvalidCompileInfof returns an error wrapping ErrInvalidCompileInfo.
func InvalidCompileInfof(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidCompileInfo, format, args...)
}

// Preconditionf returns an error wrapping ErrPrecondition.
func Preconditionf(format string, args ...any) error {
	return errors.Wrapf(ErrPrecondition, format, args...)
}

// Unsupportedf returns an error wrapping ErrUnsupported.
func Unsupportedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupported, format, args...)
}

// RunInfo is the tiling decision returned to the caller that launches the kernel.
type RunInfo struct {
	// TilingKey selects the kernel variant. It is 0 when the operator has a single variant.
	TilingKey int64

	// BlockDim is the number of cores the kernel is launched on.
	BlockDim int

	// Data is the serialized tiling data, in the operator's field layout.
	Data []byte

	// Workspaces lists the byte sizes of the extra scratch buffers the kernel needs.
	Workspaces []int64
}

// String implements fmt.Stringer.
func (r *RunInfo) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "RunInfo{key=%d, block_dim=%d, data=%s", r.TilingKey, r.BlockDim, humanize.IBytes(uint64(len(r.Data))))
	if len(r.Workspaces) > 0 {
		parts := make([]string, len(r.Workspaces))
		for ii, ws := range r.Workspaces {
			parts[ii] = humanize.IBytes(uint64(ws))
		}
		_, _ = fmt.Fprintf(&sb, ", workspaces=[%s]", strings.Join(parts, ", "))
	}
	sb.WriteString("}")
	return sb.String()
}

// ConcreteInput returns the description of the named input, which must have a fully defined shape.
// Empty tensors (with a zero dimension) are rejected unless allowEmpty is set.
func ConcreteInput(op *operator.Operator, name string, allowEmpty bool) (operator.TensorDesc, error) {
	desc, err := op.Input(name)
	if err != nil {
		return desc, Preconditionf("%v", err)
	}
	if !desc.Shape.IsFullyDefined() {
		return desc, Preconditionf("input %q of %s %q must have a concrete shape, got %s", name, op.Type(), op.Name(), desc.Shape)
	}
	if !allowEmpty && desc.Shape.NumElements() == 0 {
		return desc, Preconditionf("input %q of %s %q is empty: %s", name, op.Type(), op.Name(), desc.Shape)
	}
	return desc, nil
}

// ConcreteOutput returns the description of the named output, which must have a fully defined shape.
func ConcreteOutput(op *operator.Operator, name string) (operator.TensorDesc, error) {
	desc, err := op.Output(name)
	if err != nil {
		return desc, Preconditionf("%v", err)
	}
	if !desc.Shape.IsFullyDefined() {
		return desc, Preconditionf("output %q of %s %q must have a concrete shape, got %s", name, op.Type(), op.Name(), desc.Shape)
	}
	return desc, nil
}

// DTypeSize returns the byte width of the tensor element type, or an ErrUnsupported error for dtypes without
// a fixed width (including the handle dtypes).
func DTypeSize(desc operator.TensorDesc) (int64, error) {
	var size int
	err := exceptions.TryCatch[error](func() { size = desc.DType.Size() })
	if err != nil || size <= 0 {
		return 0, Unsupportedf("dtype %s has no fixed byte width", operator.DTypeName(desc.DType))
	}
	return int64(size), nil
}

// BlockBytes is the alignment unit of on-chip buffer transfers.
const BlockBytes = 32

// ElemsPerBlock returns the number of elements of the given byte width in one 32 bytes block.
func ElemsPerBlock(dtypeSize int64) int64 {
	if dtypeSize <= 0 {
		return 1
	}
	return max(1, BlockBytes/dtypeSize)
}
