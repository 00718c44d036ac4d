// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provides slice and map helpers missing from the standard slices and maps packages.
package xslices

import (
	"cmp"
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Map returns fn applied to every element of in.
func Map[In, Out any](in []In, fn func(e In) Out) []Out {
	out := make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return out
}

// SortedKeys returns the sorted keys of a map.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Iota returns a slice of length n with the values start, start+step, start+2*step, ...
func Iota[T constraints.Integer | constraints.Float](start, step T, n int) []T {
	out := make([]T, n)
	for ii := range out {
		out[ii] = start + T(ii)*step
	}
	return out
}

// ParseRange parses "start:end[:step]" into the values start, start+step, ... up to end (inclusive).
// The step defaults to 1 and must be positive.
func ParseRange[T constraints.Integer](text string, parserFn func(string) (T, error)) ([]T, error) {
	parts := strings.Split(text, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, errors.Errorf("invalid range %q, wanted start:end[:step]", text)
	}
	bounds := make([]T, 3)
	bounds[2] = 1
	for ii, part := range parts {
		var err error
		if bounds[ii], err = parserFn(part); err != nil {
			return nil, errors.WithMessagef(err, "invalid range %q", text)
		}
	}
	start, end, step := bounds[0], bounds[1], bounds[2]
	if step <= 0 || end < start {
		return nil, errors.Errorf("invalid range %q, wanted start <= end and step > 0", text)
	}
	return Iota(start, step, int((end-start)/step)+1), nil
}

// Flag defines a flag in flagSet for a comma separated list of T, parsed with parserFn.
// It returns a pointer to the parsed values. If flagSet is nil, flag.CommandLine is used.
func Flag[T any](flagSet *flag.FlagSet, name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	if flagSet == nil {
		flagSet = flag.CommandLine
	}
	f := &sliceFlag[T]{parsed: defaultValue, parserFn: parserFn}
	flagSet.Var(f, name, usage)
	return &f.parsed
}

// sliceFlag implements flag.Value for a list of T.
type sliceFlag[T any] struct {
	parsed   []T
	parserFn func(valueStr string) (T, error)
}

func (f *sliceFlag[T]) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(Map(f.parsed, func(e T) string { return fmt.Sprint(e) }), ",")
}

func (f *sliceFlag[T]) Set(listStr string) error {
	f.parsed = make([]T, 0)
	if listStr == "" {
		return nil
	}
	for _, part := range strings.Split(listStr, ",") {
		value, err := f.parserFn(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		f.parsed = append(f.parsed, value)
	}
	return nil
}
