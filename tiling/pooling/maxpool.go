// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pooling

import (
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/pkg/errors"
)

// ComputeMaxPool computes the MaxPoolWithArgmax parameters.
func ComputeMaxPool(op *operator.Operator, vars *compileinfo.Vars) (*Params, error) {
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
	return plan(g, coreNum, ubLimit, l1Size)
}

// MaxPoolTiling is the tiling of MaxPoolWithArgmax.
func MaxPoolTiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := ComputeMaxPool(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	logParams(op, p, p.Fields())
	return runInfo(p), nil
}
