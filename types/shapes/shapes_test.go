/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	shape0 := Scalar()
	require.True(t, shape0.RankKnown())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.NumElements())
	require.Equal(t, "[]", shape0.String())

	shape1 := Make(4, 3, 2)
	require.False(t, shape1.IsScalar())
	require.True(t, shape1.IsFullyDefined())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.NumElements())
	require.Equal(t, []int64{4, 3, 2}, shape1.Int64s())

	partial := Make(4, UnknownDim)
	require.False(t, partial.IsFullyDefined())
	require.Equal(t, -1, partial.NumElements())
	require.Equal(t, "[4,?]", partial.String())
	require.True(t, partial.DimKnown(0))
	require.False(t, partial.DimKnown(1))
	require.False(t, partial.DimKnown(2))

	unknown := UnknownRank()
	require.False(t, unknown.RankKnown())
	require.False(t, unknown.IsScalar())
	require.Equal(t, -1, unknown.Rank())
	require.Equal(t, "<unknown rank>", unknown.String())
	require.True(t, unknown.Equal(UnknownRank()))
	require.False(t, unknown.Equal(Scalar()))

	require.Panics(t, func() { _ = Make(2, -3) })
}

func TestDim(t *testing.T) {
	shape := Make(4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
	require.Panics(t, func() { _ = UnknownRank().Dim(0) })
}

func TestFromInt64s(t *testing.T) {
	require.True(t, Make(2, UnknownDim, 5).Equal(FromInt64s([]int64{2, -1, 5})))
	require.True(t, Scalar().Equal(FromInt64s(nil)))
}

func TestCheckDims(t *testing.T) {
	shape := Make(4, 3)
	require.NoError(t, shape.CheckDims(4, UncheckedAxis))
	require.Error(t, shape.CheckDims(4, 2))
	require.Error(t, shape.CheckDims(4))
	require.Error(t, UnknownRank().CheckDims(4))
	require.Error(t, Make(4, UnknownDim).CheckFullyDefined())
	require.NoError(t, shape.CheckFullyDefined())
	require.Panics(t, func() { shape.AssertDims(1, 1) })
}
