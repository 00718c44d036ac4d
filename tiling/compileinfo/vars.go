// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compileinfo

import (
	"encoding/json"
	"strings"

	"github.com/gomlx/optiling/tiling"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Vars is the compile info of the analytically tiled operators: a flat JSON object of named hardware
// parameters and operator constants, e.g. {"core_num": 32, "ub_size": 262144, "reduction": "mean"}.
type Vars struct {
	values *orderedmap.OrderedMap[string, json.RawMessage]
}

// ParseVars parses a compile info object. If the object has a "vars" member holding an object, that member
// is the parsed value; otherwise the top-level object is.
func ParseVars(text string) (*Vars, error) {
	top := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), top); err != nil {
		return nil, tiling.InvalidCompileInfof("compile info must be a JSON object: %v", err)
	}
	if raw, found := top.Get("vars"); found {
		inner := orderedmap.New[string, json.RawMessage]()
		if err := json.Unmarshal(raw, inner); err == nil {
			return &Vars{values: inner}, nil
		}
	}
	return &Vars{values: top}, nil
}

// Has returns whether the variable is present.
func (v *Vars) Has(name string) bool {
	_, found := v.values.Get(name)
	return found
}

// Names returns the variable names in document order.
func (v *Vars) Names() []string {
	names := make([]string, 0, v.values.Len())
	for pair := v.values.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (v *Vars) decode(name string, target any) error {
	raw, found := v.values.Get(name)
	if !found {
		return tiling.InvalidCompileInfof("missing required key %q", name)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return tiling.InvalidCompileInfof("key %q has an invalid value %s: %v", name, string(raw), err)
	}
	return nil
}

// Int returns the integer variable.
func (v *Vars) Int(name string) (int64, error) {
	var value int64
	err := v.decode(name, &value)
	return value, err
}

// IntOr returns the integer variable, or defaultValue if it is missing.
func (v *Vars) IntOr(name string, defaultValue int64) (int64, error) {
	if !v.Has(name) {
		return defaultValue, nil
	}
	return v.Int(name)
}

// PositiveInt returns the integer variable, which must be present and > 0.
func (v *Vars) PositiveInt(name string) (int64, error) {
	value, err := v.Int(name)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, tiling.InvalidCompileInfof("key %q must be positive, got %d", name, value)
	}
	return value, nil
}

// Ints returns the integer list variable.
func (v *Vars) Ints(name string) ([]int64, error) {
	var values []int64
	err := v.decode(name, &values)
	return values, err
}

// String returns the string variable.
func (v *Vars) String(name string) (string, error) {
	var value string
	err := v.decode(name, &value)
	return value, err
}

// StringOr returns the string variable, or defaultValue if it is missing.
func (v *Vars) StringOr(name, defaultValue string) (string, error) {
	if !v.Has(name) {
		return defaultValue, nil
	}
	return v.String(name)
}

// BoolOr returns the boolean variable, or defaultValue if it is missing. Integers 0 and 1 are accepted
// as booleans.
func (v *Vars) BoolOr(name string, defaultValue bool) (bool, error) {
	if !v.Has(name) {
		return defaultValue, nil
	}
	var value bool
	if err := v.decode(name, &value); err == nil {
		return value, nil
	}
	asInt, err := v.Int(name)
	if err != nil || (asInt != 0 && asInt != 1) {
		return false, tiling.InvalidCompileInfof("key %q must be a boolean", name)
	}
	return asInt == 1, nil
}

// Hardware returns the core count and the on-chip (unified) buffer size, read from the given keys.
// Both must be positive.
func (v *Vars) Hardware(coreNumKey, ubSizeKey string) (coreNum, ubSize int64, err error) {
	coreNum, err = v.PositiveInt(coreNumKey)
	if err != nil {
		return
	}
	ubSize, err = v.PositiveInt(ubSizeKey)
	return
}
