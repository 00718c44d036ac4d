// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	s := Make[int](10)
	require.Empty(t, s)
	require.Empty(t, Sorted(s))

	s.Insert(7, 3, 7)
	require.Len(t, s, 2)
	require.True(t, s.Has(3))
	require.False(t, s.Has(5))
	require.Equal(t, []int{3, 7}, Sorted(s))

	names := MakeWith("paddings", "element_shape")
	require.True(t, names.Has("paddings"))
	require.Equal(t, []string{"element_shape", "paddings"}, Sorted(names))
}
