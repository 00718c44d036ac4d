// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scatter implements the tiling of the scatter family: ScatterNdSub, ScatterNdAdd,
// ScatterNdUpdate, ScatterNonAliasingAdd (which first copies its input to the output) and
// UnsortedSegmentSum.
//
// For the ScatterNd operators, indices has shape [..., K]: each index tuple selects a slice
// var[i_0, ..., i_{K-1}] of shape var.shape[K:], updated by one slice of updates.
package scatter

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Mode of the ScatterNd kernels.
type Mode int64

const (
	// ModeSmallSlice splits the var rows across cores, for slices smaller than one block.
	ModeSmallSlice Mode = iota

	// ModeRows splits the var rows across cores, each core updating the rows it owns.
	ModeRows

	// ModeLargeSlice splits each slice across cores, for slices larger than the buffer.
	ModeLargeSlice
)

// MaxIndexDepth is the maximum K, the last dimension of indices.
const MaxIndexDepth = 7

// Params of the ScatterNd kernels.
type Params struct {
	NonAliasing bool

	Mode                           Mode
	IndiceStep                     int64
	CoreNum                        int64
	UpdatesDataNum                 int64
	IndicesLoopNum, IndicesLastNum int64
	UpdatesNum                     int64
	UpdatesLoopNum, UpdatesLastNum int64
	VarNum                         int64
	IndicesNum                     int64
	VarOffsets                     [MaxIndexDepth]int64
	VarCopyLoop, VarCopyTail       int64
}

// Fields returns the tiling data layout. ScatterNonAliasingAdd appends the copy loop fields.
func (p *Params) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	f.Int64("tiling_mode", int64(p.Mode)).
		Int64("indice_step", p.IndiceStep).
		Int64("core_num", p.CoreNum).
		Int64("updates_data_num", p.UpdatesDataNum).
		Int64("indices_loop_num", p.IndicesLoopNum).
		Int64("indices_last_num", p.IndicesLastNum).
		Int64("updates_num", p.UpdatesNum).
		Int64("updates_loop_num", p.UpdatesLoopNum).
		Int64("updates_last_num", p.UpdatesLastNum).
		Int64("var_num", p.VarNum).
		Int64("indices_num", p.IndicesNum).
		Int64s("var_offset", p.VarOffsets[:])
	if p.NonAliasing {
		f.Int64("var_copy_loop", p.VarCopyLoop).
			Int64("var_copy_tail", p.VarCopyTail)
	}
	return f
}

// varInput returns the name of the updated input of the operator type.
func varInput(opType string) (string, error) {
	switch opType {
	case "ScatterNdSub", "ScatterNdAdd", "ScatterNdUpdate":
		return "var", nil
	case "ScatterNonAliasingAdd":
		return "x", nil
	}
	return "", tiling.Unsupportedf("no scatter tiling for operator type %s", opType)
}

// byteWidth returns the named compile info value, or the byte width of the dtype if it is missing.
func byteWidth(vars *compileinfo.Vars, key string, desc operator.TensorDesc) (int64, error) {
	if vars.Has(key) {
		return vars.PositiveInt(key)
	}
	return tiling.DTypeSize(desc)
}

// Compute the ScatterNd parameters.
func Compute(op *operator.Operator, vars *compileinfo.Vars) (*Params, error) {
	varName, err := varInput(op.Type())
	if err != nil {
		return nil, err
	}
	coreNum, ubSize, err := vars.Hardware("core_num", "ub_size")
	if err != nil {
		return nil, err
	}
	varDesc, err := tiling.ConcreteInput(op, varName, false)
	if err != nil {
		return nil, err
	}
	indices, err := tiling.ConcreteInput(op, "indices", false)
	if err != nil {
		return nil, err
	}
	updates, err := tiling.ConcreteInput(op, "updates", false)
	if err != nil {
		return nil, err
	}
	if indices.DType != dtypes.Int32 && indices.DType != dtypes.Int64 {
		return nil, tiling.Unsupportedf("indices dtype %s", indices.DType)
	}
	varSize, err := byteWidth(vars, "var_size", varDesc)
	if err != nil {
		return nil, err
	}
	indicesSize, err := byteWidth(vars, "indices_size", indices)
	if err != nil {
		return nil, err
	}

	varDims, indicesDims := varDesc.Shape.Int64s(), indices.Shape.Int64s()
	if len(indicesDims) < 1 {
		return nil, tiling.Preconditionf("indices must have rank >= 1, got %s", indices.Shape)
	}
	k := indicesDims[len(indicesDims)-1]
	if k < 1 || k > int64(len(varDims)) || k > MaxIndexDepth {
		return nil, tiling.Preconditionf("indices last dimension %d must be in [1, min(%d, rank of %s)]", k, MaxIndexDepth, varDesc.Shape)
	}
	wantUpdates := append(slices.Clone(indicesDims[:len(indicesDims)-1]), varDims[k:]...)
	if !slices.Equal(updates.Shape.Int64s(), wantUpdates) {
		return nil, tiling.Preconditionf("updates must have shape %v, got %s", wantUpdates, updates.Shape)
	}

	p := &Params{NonAliasing: op.Type() == "ScatterNonAliasingAdd"}
	p.IndicesNum = xmath.Prod(indicesDims[:len(indicesDims)-1])
	p.UpdatesDataNum = xmath.Prod(varDims[k:])
	p.UpdatesNum = p.IndicesNum * p.UpdatesDataNum
	p.VarNum = xmath.Prod(varDims)
	for ii := range k {
		p.VarOffsets[ii] = xmath.Prod(varDims[ii+1 : k])
	}
	varRows := xmath.Prod(varDims[:k])

	// An eighth of the buffer for the indices, the rest double buffered for the updates.
	indicesUB := ubSize / 8
	updatesUBElems := xmath.AlignDown((ubSize-indicesUB)/2/varSize, tiling.ElemsPerBlock(varSize))
	indicesPerPass := indicesUB / (indicesSize * k)
	if updatesUBElems < 1 || indicesPerPass < 1 {
		return nil, tiling.InvalidCompileInfof("ub_size %d too small", ubSize)
	}
	p.IndicesLoopNum, p.IndicesLastNum = p.IndicesNum/indicesPerPass, p.IndicesNum%indicesPerPass

	elemsPerBlock := tiling.ElemsPerBlock(varSize)
	sliceElems := p.UpdatesDataNum
	switch {
	case p.UpdatesDataNum < elemsPerBlock:
		p.Mode = ModeSmallSlice
	case p.UpdatesDataNum > updatesUBElems:
		p.Mode = ModeLargeSlice
	default:
		p.Mode = ModeRows
	}
	if p.Mode == ModeLargeSlice {
		p.CoreNum, sliceElems, _ = xmath.Split(p.UpdatesDataNum, coreNum, elemsPerBlock)
	} else {
		p.IndiceStep = xmath.CeilDiv(varRows, min(coreNum, varRows))
		p.CoreNum = xmath.CeilDiv(varRows, p.IndiceStep)
	}
	p.UpdatesLoopNum, p.UpdatesLastNum = sliceElems/updatesUBElems, sliceElems%updatesUBElems

	if p.NonAliasing {
		perCore := xmath.CeilDiv(p.VarNum, p.CoreNum)
		p.VarCopyLoop, p.VarCopyTail = perCore/updatesUBElems, perCore%updatesUBElems
	}
	return p, nil
}

// Tiling of the ScatterNd operators.
func Tiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := Compute(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: mode %d, %d cores", op.Type(), op.Name(), p.Mode, p.CoreNum)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	return &tiling.RunInfo{
		TilingKey: int64(p.Mode),
		BlockDim:  int(p.CoreNum),
		Data:      fields.Bytes(),
	}, nil
}
