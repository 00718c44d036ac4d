// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compileinfo

import (
	"bytes"
	"encoding/json"

	"github.com/gomlx/optiling/tiling"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// IntTable maps a tiling id to a list of integers (a seed point or a list of inclusive ranges).
type IntTable = orderedmap.OrderedMap[string, []int64]

// CubeTable is the compile info of the cube operators (convolutions and matrix multiplications): the
// precomputed tilings and the shape ranges they cover, all keyed by tiling id, in document order.
type CubeTable struct {
	// TilingType is "default_tiling" when the table holds a single tiling valid for every shape.
	TilingType string `json:"tiling_type"`

	// DefaultRange holds the default tiling id (its first key) for TilingType "default_tiling".
	DefaultRange *IntTable `json:"default_range"`

	// TilingRange maps tiling ids to an inclusive [low, high] batch range, used when the batch is the
	// only dynamic dimension.
	TilingRange *IntTable `json:"tiling_range"`

	// RepoSeeds maps tiling ids to the shape point each tiling was tuned for.
	RepoSeeds *IntTable `json:"repo_seeds"`

	// RepoRange maps tiling ids to inclusive ranges, one [low, high] pair per searched dimension.
	RepoRange *IntTable `json:"repo_range"`

	// CostRange maps tiling ids to inclusive ranges of tilings chosen by the cost model. They are the
	// fallback when no tuned tiling covers the shape.
	CostRange *IntTable `json:"cost_range"`

	// BlockDim maps tiling ids to the number of cores to launch.
	BlockDim *orderedmap.OrderedMap[string, int64] `json:"block_dim"`

	// Vars maps tiling ids to the names of the dynamic variables serialized in the tiling data.
	Vars *orderedmap.OrderedMap[string, []string] `json:"_vars"`
}

// FuzzyPolicy defines how the objects of a "fuzzy build" compile info (a JSON array of tables compiled for
// different shape ranges) are spliced into one table. Each operator family keeps its own policy.
type FuzzyPolicy int

const (
	// FuzzyUnsupported rejects arrays of tables.
	FuzzyUnsupported FuzzyPolicy = iota

	// FuzzyExtend extends every map with the ids not yet present: the first occurrence of an id wins.
	// Scalars (tiling_type, default_range) are kept from the first object.
	FuzzyExtend

	// FuzzyExtendKeepVars is FuzzyExtend, except that "_vars" is taken from the first object only.
	FuzzyExtendKeepVars

	// FuzzyExtendOverrideBlockDim is FuzzyExtend, except that later objects override "block_dim" of ids
	// already present.
	FuzzyExtendOverrideBlockDim
)

// String implements fmt.Stringer.
func (p FuzzyPolicy) String() string {
	switch p {
	case FuzzyUnsupported:
		return "Unsupported"
	case FuzzyExtend:
		return "Extend"
	case FuzzyExtendKeepVars:
		return "ExtendKeepVars"
	case FuzzyExtendOverrideBlockDim:
		return "ExtendOverrideBlockDim"
	}
	return "FuzzyPolicy(?)"
}

// ParseCube parses the compile info of a cube operator. The text is either one JSON object or, for fuzzy
// builds, a JSON array of objects spliced according to policy.
func ParseCube(text string, policy FuzzyPolicy) (*CubeTable, error) {
	data := bytes.TrimSpace([]byte(text))
	if len(data) == 0 {
		return nil, tiling.InvalidCompileInfof("empty compile info")
	}
	if data[0] != '[' {
		table := &CubeTable{}
		if err := json.Unmarshal(data, table); err != nil {
			return nil, tiling.InvalidCompileInfof("cube compile info: %v", err)
		}
		return table, nil
	}

	if policy == FuzzyUnsupported {
		return nil, tiling.InvalidCompileInfof("compile info with multiple tables (fuzzy build) is not supported for this operator")
	}
	var tables []*CubeTable
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, tiling.InvalidCompileInfof("fuzzy build cube compile info: %v", err)
	}
	if len(tables) == 0 {
		return nil, tiling.InvalidCompileInfof("fuzzy build compile info has no tables")
	}
	merged := tables[0]
	for ii, table := range tables[1:] {
		if table == nil {
			return nil, tiling.InvalidCompileInfof("fuzzy build compile info: table #%d is null", ii+1)
		}
		merged.splice(table, policy)
	}
	return merged, nil
}

// splice other into t according to the policy.
func (t *CubeTable) splice(other *CubeTable, policy FuzzyPolicy) {
	t.TilingRange = extend(t.TilingRange, other.TilingRange, false)
	t.RepoSeeds = extend(t.RepoSeeds, other.RepoSeeds, false)
	t.RepoRange = extend(t.RepoRange, other.RepoRange, false)
	t.CostRange = extend(t.CostRange, other.CostRange, false)
	t.BlockDim = extend(t.BlockDim, other.BlockDim, policy == FuzzyExtendOverrideBlockDim)
	if policy != FuzzyExtendKeepVars {
		t.Vars = extend(t.Vars, other.Vars, false)
	}
}

// extend adds to base the entries of other: only the new keys, unless override is set.
// New keys are appended in other's order.
func extend[V any](base, other *orderedmap.OrderedMap[string, V], override bool) *orderedmap.OrderedMap[string, V] {
	if other == nil {
		return base
	}
	if base == nil {
		base = orderedmap.New[string, V]()
	}
	for pair := other.Oldest(); pair != nil; pair = pair.Next() {
		if _, found := base.Get(pair.Key); found && !override {
			continue
		}
		base.Set(pair.Key, pair.Value)
	}
	return base
}

// VarNames returns the names of the dynamic variables of the tiling id: the "_vars" entry of the id if
// present, otherwise the first entry.
func (t *CubeTable) VarNames(id string) ([]string, error) {
	if t.Vars == nil || t.Vars.Len() == 0 {
		return nil, tiling.InvalidCompileInfof("missing required key \"_vars\"")
	}
	if names, found := t.Vars.Get(id); found {
		return names, nil
	}
	return t.Vars.Oldest().Value, nil
}

// BlockDimOf returns the number of cores of the tiling id.
func (t *CubeTable) BlockDimOf(id string) (int64, error) {
	if t.BlockDim == nil {
		return 0, tiling.InvalidCompileInfof("missing required key \"block_dim\"")
	}
	blockDim, found := t.BlockDim.Get(id)
	if !found {
		return 0, tiling.InvalidCompileInfof("\"block_dim\" has no entry for tiling id %q", id)
	}
	if blockDim <= 0 {
		return 0, tiling.InvalidCompileInfof("\"block_dim\" of tiling id %q must be positive, got %d", id, blockDim)
	}
	return blockDim, nil
}

// DefaultID returns the default tiling id: the first key of "default_range".
func (t *CubeTable) DefaultID() (string, error) {
	if t.DefaultRange == nil || t.DefaultRange.Len() == 0 {
		return "", tiling.InvalidCompileInfof("tiling_type is \"default_tiling\" but \"default_range\" is empty")
	}
	return t.DefaultRange.Oldest().Key, nil
}
