// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cube

import (
	"fmt"

	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultTilingType is the value of "tiling_type" for tables with a single tiling valid for every shape.
const DefaultTilingType = "default_tiling"

// Point is the runtime shape point searched in a table.
type Point struct {
	// Dims are the searched dimension values, in the table's order (e.g. N, H, W for the 2D convolutions).
	Dims []int64

	// Batch is the index in Dims of the batch dimension, used by the batch-only search.
	Batch int

	// Optional is the index of a dimension that seeds and ranges may omit, or -1.
	// A list of one entry (or one pair) less than len(Dims) skips that dimension.
	Optional int

	// Skip is the index of a dimension range-checked but excluded from the seed distance, or -1.
	Skip int
}

// String implements fmt.Stringer.
func (p Point) String() string {
	return fmt.Sprintf("%v", p.Dims)
}

// covered returns the indices of Dims described by a list of n entries of perDim values each.
func (p Point) covered(n, perDim int) ([]int, error) {
	all := len(p.Dims)
	indices := make([]int, 0, all)
	switch {
	case n == perDim*all:
		for ii := range all {
			indices = append(indices, ii)
		}
	case p.Optional >= 0 && n == perDim*(all-1):
		for ii := range all {
			if ii != p.Optional {
				indices = append(indices, ii)
			}
		}
	default:
		return nil, tiling.InvalidCompileInfof("table entry has %d values, expected %d per searched dimension for point %s", n, perDim, p)
	}
	return indices, nil
}

// contains returns whether the inclusive ranges ([low, high] pairs) contain the point.
func (p Point) contains(ranges []int64) (bool, error) {
	indices, err := p.covered(len(ranges), 2)
	if err != nil {
		return false, err
	}
	for k, axis := range indices {
		if p.Dims[axis] < ranges[2*k] || p.Dims[axis] > ranges[2*k+1] {
			return false, nil
		}
	}
	return true, nil
}

// distance returns the L2² distance between the point and a seed, skipping the Skip dimension.
func (p Point) distance(seed []int64) (int64, error) {
	indices, err := p.covered(len(seed), 1)
	if err != nil {
		return 0, err
	}
	var dist int64
	for k, axis := range indices {
		if axis == p.Skip {
			continue
		}
		diff := seed[k] - p.Dims[axis]
		dist += diff * diff
	}
	return dist, nil
}

// Search returns the tiling id of the table selected for the point:
//
//  1. Tables with tiling_type "default_tiling" return their default id.
//  2. If batchOnly, the last entry of "tiling_range" containing the batch wins.
//  3. Otherwise, among the "repo_range" entries containing the point, the one whose seed is the closest
//     (L2² distance) wins. Ties keep the first in document order.
//  4. Otherwise the first "cost_range" entry containing the point wins.
//
// If nothing matches, it returns an error wrapping tiling.ErrUncoveredShape.
func Search(table *compileinfo.CubeTable, point Point, batchOnly bool) (string, error) {
	if table.TilingType == DefaultTilingType {
		return table.DefaultID()
	}

	if batchOnly {
		if point.Batch < 0 || point.Batch >= len(point.Dims) {
			return "", errors.Errorf("batch index %d out of range for point %s", point.Batch, point)
		}
		batch := point.Dims[point.Batch]
		var id string
		if table.TilingRange != nil {
			for pair := table.TilingRange.Oldest(); pair != nil; pair = pair.Next() {
				if len(pair.Value) != 2 {
					return "", tiling.InvalidCompileInfof("\"tiling_range\" of id %q must be a [low, high] pair, got %v", pair.Key, pair.Value)
				}
				if batch >= pair.Value[0] && batch <= pair.Value[1] {
					id = pair.Key
				}
			}
		}
		if id == "" {
			return "", errors.Wrapf(tiling.ErrUncoveredShape, "batch %d", batch)
		}
		return id, nil
	}

	id, err := searchRepo(table, point)
	if err != nil || id != "" {
		return id, err
	}
	if table.CostRange != nil {
		for pair := table.CostRange.Oldest(); pair != nil; pair = pair.Next() {
			inside, err := point.contains(pair.Value)
			if err != nil {
				return "", errors.WithMessagef(err, "\"cost_range\" of id %q", pair.Key)
			}
			if inside {
				klog.V(2).Infof("point %s covered by cost_range of id %q", point, pair.Key)
				return pair.Key, nil
			}
		}
	}
	return "", errors.Wrapf(tiling.ErrUncoveredShape, "point %s", point)
}

// searchRepo returns the id of the closest seed whose range contains the point, or "" if none does.
func searchRepo(table *compileinfo.CubeTable, point Point) (string, error) {
	if table.RepoRange == nil {
		return "", nil
	}
	var (
		best     string
		bestDist int64
	)
	for pair := table.RepoRange.Oldest(); pair != nil; pair = pair.Next() {
		inside, err := point.contains(pair.Value)
		if err != nil {
			return "", errors.WithMessagef(err, "\"repo_range\" of id %q", pair.Key)
		}
		if !inside {
			continue
		}
		var seed []int64
		if table.RepoSeeds != nil {
			seed, _ = table.RepoSeeds.Get(pair.Key)
		}
		if seed == nil {
			return "", tiling.InvalidCompileInfof("\"repo_seeds\" has no entry for id %q of \"repo_range\"", pair.Key)
		}
		dist, err := point.distance(seed)
		if err != nil {
			return "", errors.WithMessagef(err, "\"repo_seeds\" of id %q", pair.Key)
		}
		if best == "" || dist < bestDist {
			best, bestDist = pair.Key, dist
		}
	}
	if best != "" {
		klog.V(2).Infof("point %s matched repo id %q at distance %d", point, best, bestDist)
	}
	return best, nil
}
