// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transdata implements the tiling of TransData, the conversion between the plain layouts (NCHW, ND)
// and the blocked layouts of the accelerator (NC1HWC0, FRACTAL_NZ).
//
// The channel (or column) dimension is cut in blocks of C0 elements: C1 = ceil(C/C0). For FRACTAL_NZ the
// rows are also cut in blocks of 16, and the blocks are stored column block major:
// [..., M, N] -> [..., ceil(N/C0), ceil(M/16), 16, C0].
package transdata

import (
	"slices"

	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxRank of the shapes in the tiling data.
const MaxRank = 5

// FractalRows is the number of rows of a FRACTAL_NZ block.
const FractalRows = 16

// Key identifies the conversion.
type Key int64

const (
	KeyNCHWToNC1HWC0 Key = iota
	KeyNC1HWC0ToNCHW
	KeyNDToFractalNZ
	KeyFractalNZToND
)

// keyOf returns the key of the conversion between the two formats.
func keyOf(src, dst operator.Format) (Key, error) {
	switch {
	case src == operator.FormatNCHW && dst == operator.FormatNC1HWC0:
		return KeyNCHWToNC1HWC0, nil
	case src == operator.FormatNC1HWC0 && dst == operator.FormatNCHW:
		return KeyNC1HWC0ToNCHW, nil
	case src == operator.FormatND && dst == operator.FormatFractalNZ:
		return KeyNDToFractalNZ, nil
	case src == operator.FormatFractalNZ && dst == operator.FormatND:
		return KeyFractalNZToND, nil
	}
	return 0, tiling.Unsupportedf("no TransData from %s to %s", src, dst)
}

// C0 returns the channel block size for the element byte width.
func C0(dsize int64) int64 {
	if dsize == 1 {
		return 32
	}
	return 16
}

// Params of the TransData kernel.
type Params struct {
	Key                                  Key
	CoreNum, OuterPerCore, OuterLastCore int64
	SrcShape, DstShape                   [MaxRank]int64
	UBBlocks                             int64
	C0                                   int64
}

// Fields returns the tiling data layout.
func (p *Params) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	return f.Int64("tiling_key", int64(p.Key)).
		Int64("core_num", p.CoreNum).
		Int64("outer_per_core", p.OuterPerCore).
		Int64("outer_last_core", p.OuterLastCore).
		Int64s("src_shape", p.SrcShape[:]).
		Int64s("dst_shape", p.DstShape[:]).
		Int64("ub_blocks", p.UBBlocks).
		Int64("c0", p.C0)
}

// normalize right-aligns dims into MaxRank slots, filling the leading ones with 1.
func normalize(dims []int64) (out [MaxRank]int64, err error) {
	if len(dims) > MaxRank {
		return out, tiling.Unsupportedf("rank %d > %d", len(dims), MaxRank)
	}
	offset := MaxRank - len(dims)
	for ii := range offset {
		out[ii] = 1
	}
	copy(out[offset:], dims)
	return
}

// format returns the named format attribute, or the format of the tensor if it is not set.
func format(op *operator.Operator, attr string, desc operator.TensorDesc) (operator.Format, error) {
	name, err := operator.AttrOr(op, attr, string(desc.Format))
	if err != nil {
		return "", tiling.Preconditionf("%v", err)
	}
	return operator.Format(name), nil
}

// toBlocked returns the blocked shape of a plain shape and the number of outer units split across cores.
func toBlocked(key Key, plain []int64, c0 int64) (blocked []int64, outer int64, err error) {
	switch key {
	case KeyNCHWToNC1HWC0, KeyNC1HWC0ToNCHW:
		if len(plain) != 4 {
			return nil, 0, tiling.Preconditionf("NCHW shape must have rank 4, got %v", plain)
		}
		n, c, h, w := plain[0], plain[1], plain[2], plain[3]
		c1 := xmath.CeilDiv(c, c0)
		return []int64{n, c1, h, w, c0}, n * c1, nil
	default:
		if len(plain) == 1 {
			plain = []int64{1, plain[0]}
		}
		if len(plain) > 3 {
			return nil, 0, tiling.Unsupportedf("ND shape of rank %d > 3", len(plain))
		}
		batch := plain[:len(plain)-2]
		m, n := plain[len(plain)-2], plain[len(plain)-1]
		n1 := xmath.CeilDiv(n, c0)
		blocked = append(slices.Clone(batch), n1, xmath.CeilDiv(m, FractalRows), FractalRows, c0)
		return blocked, xmath.Prod(batch) * n1, nil
	}
}

// Compute the TransData parameters. The input is "src" and the output "dst". The conversions to a
// plain layout read the plain shape from the output.
func Compute(op *operator.Operator, vars *compileinfo.Vars) (*Params, error) {
	coreNum, ubSize, err := vars.Hardware("core_num", "ub_size")
	if err != nil {
		return nil, err
	}
	blockDim, err := vars.IntOr("block_dim", coreNum)
	if err != nil {
		return nil, err
	}
	if blockDim > 0 {
		coreNum = min(coreNum, blockDim)
	}
	src, err := tiling.ConcreteInput(op, "src", false)
	if err != nil {
		return nil, err
	}
	srcFormat, err := format(op, "src_format", src)
	if err != nil {
		return nil, err
	}
	dst, _ := op.Output("dst")
	dstFormat, err := format(op, "dst_format", dst)
	if err != nil {
		return nil, err
	}
	key, err := keyOf(srcFormat, dstFormat)
	if err != nil {
		return nil, err
	}
	dsize, err := tiling.DTypeSize(src)
	if err != nil {
		return nil, err
	}

	p := &Params{Key: key, C0: C0(dsize), UBBlocks: ubSize / tiling.BlockBytes / 2}
	if p.UBBlocks < 1 {
		return nil, tiling.InvalidCompileInfof("ub_size %d too small", ubSize)
	}
	var srcDims, dstDims []int64
	var outer int64
	switch key {
	case KeyNCHWToNC1HWC0, KeyNDToFractalNZ:
		srcDims = src.Shape.Int64s()
		if dstDims, outer, err = toBlocked(key, srcDims, p.C0); err != nil {
			return nil, err
		}
	default:
		if dst, err = tiling.ConcreteOutput(op, "dst"); err != nil {
			return nil, err
		}
		srcDims, dstDims = src.Shape.Int64s(), dst.Shape.Int64s()
		var want []int64
		if want, outer, err = toBlocked(key, dstDims, p.C0); err != nil {
			return nil, err
		}
		if !slices.Equal(want, srcDims) {
			return nil, tiling.Preconditionf("src shape %s is not the %s layout of dst shape %s", src.Shape, srcFormat, dst.Shape)
		}
	}
	if p.SrcShape, err = normalize(srcDims); err != nil {
		return nil, err
	}
	if p.DstShape, err = normalize(dstDims); err != nil {
		return nil, err
	}
	p.CoreNum, p.OuterPerCore, p.OuterLastCore = xmath.Split(outer, coreNum, 1)
	return p, nil
}

// Tiling of TransData.
func Tiling(op *operator.Operator, vars *compileinfo.Vars) (*tiling.RunInfo, error) {
	p, err := Compute(op, vars)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s %q", op.Type(), op.Name())
	}
	fields := p.Fields()
	klog.V(1).Infof("%s %q: key %d, %d cores x %d", op.Type(), op.Name(), p.Key, p.CoreNum, p.OuterPerCore)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
	return &tiling.RunInfo{
		TilingKey: int64(p.Key),
		BlockDim:  int(p.CoreNum),
		Data:      fields.Bytes(),
	}, nil
}
