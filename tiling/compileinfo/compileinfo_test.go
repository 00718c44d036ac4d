// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compileinfo

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gomlx/optiling/tiling"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func keysOf[V any](m *orderedmap.OrderedMap[string, V]) []string {
	var keys []string
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func TestKey(t *testing.T) {
	k1 := Key("Conv2D", `{"a":1}`)
	require.Equal(t, k1, Key("Conv2D", `{"a":1}`))
	require.NotEqual(t, k1, Key("Conv3D", `{"a":1}`))
	require.NotEqual(t, k1, Key("Conv2D", `{"a":2}`))
}

func TestCacheParsesOnce(t *testing.T) {
	cache := NewCache()
	var calls atomic.Int32
	parse := func(text string) (*Vars, error) {
		calls.Add(1)
		return ParseVars(text)
	}
	text := `{"vars": {"core_num": 32, "ub_size": 262144}}`

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vars, err := Load(cache, "NLLLoss", text, parse)
			assert.NoError(t, err)
			coreNum, err := vars.Int("core_num")
			assert.NoError(t, err)
			assert.Equal(t, int64(32), coreNum)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, cache.Len())

	// Failures are not cached.
	_, err := Load(cache, "NLLLoss", `not json`, parse)
	require.Error(t, err)
	require.Equal(t, 1, cache.Len())

	// Same text cached as a different type.
	_, err = Load(cache, "NLLLoss", text, func(string) (int, error) { return 0, nil })
	require.Error(t, err)

	cache.Reset()
	require.Equal(t, 0, cache.Len())
}

func TestVars(t *testing.T) {
	vars, err := ParseVars(`{"vars": {"core_num": 8, "ub_size": 1024, "reduction": "mean", "ksize": [1, 2], "flag": 1}}`)
	require.NoError(t, err)
	require.Equal(t, []string{"core_num", "ub_size", "reduction", "ksize", "flag"}, vars.Names())

	coreNum, ubSize, err := vars.Hardware("core_num", "ub_size")
	require.NoError(t, err)
	require.Equal(t, int64(8), coreNum)
	require.Equal(t, int64(1024), ubSize)

	reduction, err := vars.String("reduction")
	require.NoError(t, err)
	require.Equal(t, "mean", reduction)
	ksize, err := vars.Ints("ksize")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ksize)
	flag, err := vars.BoolOr("flag", false)
	require.NoError(t, err)
	require.True(t, flag)
	ignore, err := vars.IntOr("ignore_index", -100)
	require.NoError(t, err)
	require.Equal(t, int64(-100), ignore)

	_, err = vars.Int("missing")
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))
	_, err = vars.Int("reduction")
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))

	// Top-level keys, without a "vars" member.
	vars, err = ParseVars(`{"_pattern": "ElemWise", "_core_num": 0}`)
	require.NoError(t, err)
	_, err = vars.PositiveInt("_core_num")
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))

	_, err = ParseVars(`[1, 2]`)
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))
}

func TestParseCubeKeepsDocumentOrder(t *testing.T) {
	table, err := ParseCube(`{
		"_vars": {"10000": ["batch_n", "fmap_h", "ho", "fmap_w", "wo"]},
		"tiling_type": "",
		"repo_seeds": {"3": [1, 7, 7], "1": [2, 8, 8], "2": [3, 9, 9]},
		"repo_range": {"3": [1, 10, 1, 10, 1, 10]},
		"block_dim": {"3": 2}
	}`, FuzzyUnsupported)
	require.NoError(t, err)
	require.Equal(t, []string{"3", "1", "2"}, keysOf(table.RepoSeeds))
	require.Nil(t, table.CostRange)

	names, err := table.VarNames("3")
	require.NoError(t, err)
	require.Equal(t, []string{"batch_n", "fmap_h", "ho", "fmap_w", "wo"}, names)
	blockDim, err := table.BlockDimOf("3")
	require.NoError(t, err)
	require.Equal(t, int64(2), blockDim)
	_, err = table.BlockDimOf("1")
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))

	_, err = ParseCube(`[{}, {}]`, FuzzyUnsupported)
	require.True(t, errors.Is(err, tiling.ErrInvalidCompileInfo))
	_, err = ParseCube(`  `, FuzzyExtend)
	require.Error(t, err)
}

const fuzzyTables = `[
	{"_vars": {"1": ["batch_n", "fmap_h"]}, "tiling_type": "", "repo_range": {"1": [1, 4]},
	 "block_dim": {"1": 2}},
	{"_vars": {"2": ["batch_n", "fmap_w"]}, "tiling_type": "default_tiling", "repo_range": {"2": [5, 8], "1": [9, 9]},
	 "block_dim": {"1": 7, "2": 4}}
]`

func TestFuzzyPolicies(t *testing.T) {
	t.Run("Extend", func(t *testing.T) {
		table, err := ParseCube(fuzzyTables, FuzzyExtend)
		require.NoError(t, err)
		require.Equal(t, "", table.TilingType, "scalars come from the first table")
		require.Equal(t, []string{"1", "2"}, keysOf(table.RepoRange))
		r, _ := table.RepoRange.Get("1")
		require.Equal(t, []int64{1, 4}, r, "first occurrence wins")
		b, _ := table.BlockDim.Get("1")
		require.Equal(t, int64(2), b)
		require.Equal(t, []string{"1", "2"}, keysOf(table.Vars))
	})

	t.Run("ExtendKeepVars", func(t *testing.T) {
		table, err := ParseCube(fuzzyTables, FuzzyExtendKeepVars)
		require.NoError(t, err)
		require.Equal(t, []string{"1"}, keysOf(table.Vars))
		require.Equal(t, []string{"1", "2"}, keysOf(table.BlockDim))
	})

	t.Run("ExtendOverrideBlockDim", func(t *testing.T) {
		table, err := ParseCube(fuzzyTables, FuzzyExtendOverrideBlockDim)
		require.NoError(t, err)
		b, _ := table.BlockDim.Get("1")
		require.Equal(t, int64(7), b)
		r, _ := table.RepoRange.Get("1")
		require.Equal(t, []int64{1, 4}, r, "only block_dim is overridden")
	})
}
