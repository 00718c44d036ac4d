// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch routes an operator to its tiling function, parsing its compile info through a cache.
//
// The cube operators (convolutions and matrix multiplications) are tiled by table search (package cube),
// the operators with a dedicated kernel by an analytic formula, and the remaining ones by the generic
// auto tiling patterns, if their compile info names one ("_pattern").
package dispatch

import (
	"maps"
	"slices"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/autotiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/cube"
	"github.com/gomlx/optiling/tiling/nllloss"
	"github.com/gomlx/optiling/tiling/padv3"
	"github.com/gomlx/optiling/tiling/pooling"
	"github.com/gomlx/optiling/tiling/scatter"
	"github.com/gomlx/optiling/tiling/split"
	"github.com/gomlx/optiling/tiling/transdata"
	"github.com/pkg/errors"
)

// TilingFn is the signature of the tiling functions of the analytically tiled operators.
type TilingFn func(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error)

// analytic maps the operator types with a dedicated kernel to their tiling function.
var analytic = map[string]TilingFn{
	"NLLLoss":               nllloss.Tiling,
	"MaxPoolWithArgmax":     pooling.MaxPoolTiling,
	"MaxPoolGradWithArgmax": pooling.MaxPoolGradTiling,
	"ScatterNdSub":          scatter.Tiling,
	"ScatterNdAdd":          scatter.Tiling,
	"ScatterNdUpdate":       scatter.Tiling,
	"ScatterNonAliasingAdd": scatter.Tiling,
	"UnsortedSegmentSum":    scatter.SegmentSumTiling,
	"PadV3":                 padv3.Tiling,
	"TransData":             transdata.Tiling,
	"Unpack":                split.UnpackTiling,
	"SplitV":                split.SplitVTiling,
}

// AnalyticTypes returns the sorted operator types tiled by an analytic formula.
func AnalyticTypes() []string {
	return slices.Sorted(maps.Keys(analytic))
}

// Tiler computes the tiling of operators. It is safe for concurrent use.
type Tiler struct {
	cache *compileinfo.Cache
}

// New returns a Tiler parsing compile info through the given cache. If cache is nil, a new one is created.
func New(cache *compileinfo.Cache) *Tiler {
	if cache == nil {
		cache = compileinfo.NewCache()
	}
	return &Tiler{cache: cache}
}

// Default is the process wide Tiler.
var Default = New(nil)

// Cache returns the compile info cache of the Tiler.
func (t *Tiler) Cache() *compileinfo.Cache {
	return t.cache
}

// Tiling computes the tiling of the operator, given the compile info text produced by its compilation.
//
// Errors wrap one of the tiling error kinds (tiling.ErrInvalidCompileInfo, tiling.ErrUncoveredShape,
// tiling.ErrPrecondition or tiling.ErrUnsupported).
func (t *Tiler) Tiling(op *operator.Operator, compileInfo string) (*tiling.RunInfo, error) {
	opType := op.Type()
	if cube.Supports(opType) {
		table, err := compileinfo.Load(t.cache, opType, compileInfo, cube.Parser(opType))
		if err != nil {
			return nil, errors.WithMessagef(err, "%s %q", opType, op.Name())
		}
		return cube.Tiling(op, table)
	}

	vars, err := compileinfo.Load(t.cache, opType, compileInfo, compileinfo.ParseVars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", opType, op.Name())
	}
	if fn, found := analytic[opType]; found {
		return fn(op, vars)
	}
	if vars.Has("_pattern") {
		return autotiling.Tiling(op, vars)
	}
	return nil, tiling.Unsupportedf("no tiling for operator type %s (%q)", opType, op.Name())
}

// Tiling computes the tiling of the operator with the Default Tiler.
func Tiling(op *operator.Operator, compileInfo string) (*tiling.RunInfo, error) {
	return Default.Tiling(op, compileInfo)
}
