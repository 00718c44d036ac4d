// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xmath implements the small integer helpers used when partitioning work: ceiling division
// and alignment to multiples of a block size.
package xmath

import "golang.org/x/exp/constraints"

// CeilDiv returns ceil(a/b) for non-negative a and positive b. It returns 0 if b is 0.
func CeilDiv[T constraints.Integer](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// AlignUp rounds a up to the next multiple of align. It returns a if align is 0.
func AlignUp[T constraints.Integer](a, align T) T {
	if align == 0 {
		return a
	}
	return CeilDiv(a, align) * align
}

// AlignDown rounds a down to the previous multiple of align. It returns a if align is 0.
func AlignDown[T constraints.Integer](a, align T) T {
	if align == 0 {
		return a
	}
	return (a / align) * align
}

// Clamp returns value limited to the range [low, high].
func Clamp[T constraints.Integer](value, low, high T) T {
	return max(low, min(value, high))
}

// Prod returns the product of the values, 1 for an empty slice.
func Prod[T constraints.Integer](values []T) T {
	p := T(1)
	for _, v := range values {
		p *= v
	}
	return p
}

// Split divides total into parts that are multiples of unit (except possibly the last) across at most
// maxParts parts. It returns the number of parts used, the size of each part and the size of the last part.
//
// The size of each part is ceil(total/maxParts) aligned up to unit, so fewer than maxParts parts may be used.
// For total == 0 it returns (1, 0, 0).
func Split[T constraints.Integer](total, maxParts, unit T) (parts, perPart, lastPart T) {
	if total <= 0 || maxParts <= 0 {
		return 1, 0, 0
	}
	if unit <= 0 {
		unit = 1
	}
	perPart = AlignUp(CeilDiv(total, maxParts), unit)
	parts = CeilDiv(total, perPart)
	lastPart = total - perPart*(parts-1)
	return
}
