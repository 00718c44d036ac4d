// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pooling

import (
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/pkg/errors"
)

// ComputeMaxPoolGrad computes the MaxPoolGradWithArgmax parameters. Inputs are x, grad (the gradient of
// the pooling output) and argmax (the mask of the forward pass).
//
// The column image is accumulated in float32, whatever the dtype of x.
func ComputeMaxPoolGrad(op *operator.Operator, vars *compileinfo.Vars) (*Params, error) {
	coreNum, ubLimit, l1Size, err := hardware(vars)
	if err != nil {
		return nil, err
	}
	x, err := tiling.ConcreteInput(op, "x", false)
	if err != nil {
		return nil, err
	}
	g, err := newGeometry(op, x)
	if err != nil {
		return nil, err
	}
	dims := x.Shape.Int64s()
	if err = checkShape(op, "grad", []int64{dims[0], dims[1], g.ho, g.wo, dims[4]}); err != nil {
		return nil, err
	}
	if _, err = tiling.ConcreteInput(op, "argmax", false); err != nil {
		return nil, err
	}
	g.colDSize = 4
	g.accumulate = true
	g.overlap = g.kh > g.sh || g.kw > g.sw

	p, err := plan(g, coreNum, ubLimit, l1Size)
	if err != nil {
		return nil, err
	}
	p.Grad = true
	p.OverlapH, p.OverlapW = max(0, g.kh-g.sh), max(0, g.kw-g.sw)
	p.Col2ImgH, p.Col2ImgW = g.inRows(p.HoMax), g.inCols(p.WoMax)
	if g.overlap {
		switch p.Mode {
		case ModeCutH:
			p.Mode = ModeOverlapCutH
			p.Workspace = p.NeedCoreNum * p.OverlapH * p.Col2ImgW * g.c0 * 4
		case ModeCutHW:
			p.Mode = ModeOverlapCutHW
			p.Workspace = p.NeedCoreNum * (p.OverlapH*p.Col2ImgW + p.OverlapW*p.Col2ImgH) * g.c0 * 4
		}
	}
	return p, nil
}

// MaxPoolGradTiling is the tiling of MaxPoolGradWithArgmax.
func MaxPoolGradTiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := ComputeMaxPoolGrad(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	logParams(op, p, p.Fields())
	return runInfo(p), nil
}
