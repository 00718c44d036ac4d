// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pooling implements the tiling of MaxPoolWithArgmax and MaxPoolGradWithArgmax over NC1HWC0
// feature maps.
//
// The kernels compute the pooling through a "column image" (im2col): for each output position, the
// kh*kw input values of its window. The tiling picks a mode by comparing the buffer requirement of the
// column image against the unified buffer (ub) and L1 capacities:
//
//   - 0: the whole output plane in one pass.
//   - 1: cut the output rows, ho_max rows per pass.
//   - 2: cut the output rows and columns, one row and wo_max columns per pass.
//   - 3, 4: modes 1 and 2, with the output rows also split across cores, used when there are fewer
//     planes (N*C1) than cores.
//   - 5: global pooling, the window covers the whole padded input.
//
// The gradient adds modes 6 and 7: modes 1 and 2 where consecutive windows overlap (stride < kernel), so
// the col2img accumulation carries halo rows (and columns) across passes.
package pooling

import (
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xmath"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/compileinfo"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"k8s.io/klog/v2"
)

// Mode of the pooling kernels.
type Mode int64

const (
	ModeWhole Mode = iota
	ModeCutH
	ModeCutHW
	ModeCoreCutH
	ModeCoreCutHW
	ModeGlobal
	ModeOverlapCutH
	ModeOverlapCutHW
)

// maxGrowSteps caps the ho_max and wo_max searches.
const maxGrowSteps = 1 << 16

// maskBlock is the number of output positions whose argmax bits take one block of the mask.
const maskBlock = 16

// geometry of one pooling: the input plane, the window and the output plane.
type geometry struct {
	nc1, c0    int64
	h, w       int64
	kh, kw     int64
	sh, sw     int64
	ho, wo     int64
	padTop     int64
	padBottom  int64
	padLeft    int64
	padRight   int64
	dsize      int64
	colDSize   int64
	accumulate bool
	overlap    bool
}

// windowAttrs returns the kernel and the strides from the NHWC "ksize" and "strides" attributes.
func windowAttrs(op *operator.Operator) (kh, kw, sh, sw int64, err error) {
	ksize, err := operator.Attr[[]int64](op, "ksize")
	if err != nil {
		return
	}
	strides, err := operator.Attr[[]int64](op, "strides")
	if err != nil {
		return
	}
	for _, attr := range [][]int64{ksize, strides} {
		if len(attr) != 4 || attr[0] != 1 || attr[3] != 1 || attr[1] < 1 || attr[2] < 1 {
			err = tiling.Preconditionf("ksize %v and strides %v must be NHWC lists [1, h, w, 1] of positive values", ksize, strides)
			return
		}
	}
	return ksize[1], ksize[2], strides[1], strides[2], nil
}

// outputSize returns the output size of one axis and its paddings.
func outputSize(in, kernel, stride int64, same bool) (out, padBefore, padAfter int64) {
	if !same {
		if in < kernel {
			return 0, 0, 0
		}
		return (in-kernel)/stride + 1, 0, 0
	}
	out = xmath.CeilDiv(in, stride)
	pad := max(0, (out-1)*stride+kernel-in)
	return out, pad / 2, pad - pad/2
}

func newGeometry(op *operator.Operator, x operator.TensorDesc) (*geometry, error) {
	if x.Shape.Rank() != 5 || (x.Format != operator.FormatNC1HWC0 && x.Format != operator.FormatND) {
		return nil, tiling.Unsupportedf("x must be a NC1HWC0 feature map, got %s", x)
	}
	if x.DType != dtypes.Float16 && x.DType != dtypes.Float32 {
		return nil, tiling.Unsupportedf("x dtype %s, only float16 and float32 are supported", x.DType)
	}
	dims := x.Shape.Int64s()
	g := &geometry{nc1: dims[0] * dims[1], h: dims[2], w: dims[3], c0: dims[4]}
	var err error
	if g.dsize, err = tiling.DTypeSize(x); err != nil {
		return nil, err
	}
	g.colDSize = g.dsize
	if g.kh, g.kw, g.sh, g.sw, err = windowAttrs(op); err != nil {
		return nil, err
	}
	padding, err := operator.Attr[string](op, "padding")
	if err != nil {
		return nil, err
	}
	var same bool
	switch strings.ToUpper(padding) {
	case "SAME":
		same = true
	case "VALID":
	default:
		return nil, tiling.Unsupportedf("padding %q, valid values are SAME and VALID", padding)
	}
	g.ho, g.padTop, g.padBottom = outputSize(g.h, g.kh, g.sh, same)
	g.wo, g.padLeft, g.padRight = outputSize(g.w, g.kw, g.sw, same)
	if g.ho < 1 || g.wo < 1 {
		return nil, tiling.Preconditionf("window %dx%d larger than the input %dx%d", g.kh, g.kw, g.h, g.w)
	}
	return g, nil
}

// inRows returns the input rows (padding included) read by hoRows output rows.
func (g *geometry) inRows(hoRows int64) int64 {
	return min((hoRows-1)*g.sh+g.kh, g.h+g.padTop+g.padBottom)
}

// inCols returns the input columns (padding included) read by woCols output columns.
func (g *geometry) inCols(woCols int64) int64 {
	return min((woCols-1)*g.sw+g.kw, g.w+g.padLeft+g.padRight)
}

// ubNeed returns the unified buffer bytes used by a pass over hoRows x woCols output positions.
func (g *geometry) ubNeed(hoRows, woCols int64) int64 {
	positions := hoRows * xmath.AlignUp(woCols, maskBlock)
	col := positions * g.kh * g.kw * g.c0 * g.colDSize
	out := positions * g.c0 * g.dsize
	mask := g.kh * g.kw * xmath.CeilDiv(positions, maskBlock) * tiling.BlockBytes
	need := col + out + mask
	if g.accumulate {
		need += g.inRows(hoRows) * g.inCols(woCols) * g.c0 * 4
	}
	return need
}

// l1Need returns the L1 bytes of the input rows read by a pass over hoRows x woCols output positions.
func (g *geometry) l1Need(hoRows, woCols int64) int64 {
	return g.inRows(hoRows) * g.inCols(woCols) * g.c0 * g.dsize
}

func (g *geometry) isGlobal() bool {
	return g.ho == 1 && g.wo == 1 && g.kh >= g.h+g.padTop+g.padBottom && g.kw >= g.w+g.padLeft+g.padRight
}

// Params of the pooling kernels.
type Params struct {
	Grad bool

	Mode                    Mode
	NeedCoreNum             int64
	NC1PerCore, NC1LastCore int64
	InputH, InputW          int64
	OutputH, OutputW        int64
	PadTop, PadBottom       int64
	PadLeft, PadRight       int64
	HoMax, HoLoops, HoTail  int64
	WoMax, WoLoops, WoTail  int64
	HoPerCore, HoLastCore   int64
	MaskStride              int64
	OverlapH, OverlapW      int64
	Col2ImgH, Col2ImgW      int64
	Workspace               int64
}

// Fields returns the tiling data layout. The gradient appends the overlap and col2img fields.
func (p *Params) Fields() *tilingdata.Fields {
	f := &tilingdata.Fields{}
	f.Int64("tiling_mode", int64(p.Mode)).
		Int64("need_core_num", p.NeedCoreNum).
		Int64("nc1_per_core", p.NC1PerCore).
		Int64("nc1_last_core", p.NC1LastCore).
		Int64("input_h", p.InputH).
		Int64("input_w", p.InputW).
		Int64("output_h", p.OutputH).
		Int64("output_w", p.OutputW).
		Int64("pad_top", p.PadTop).
		Int64("pad_bottom", p.PadBottom).
		Int64("pad_left", p.PadLeft).
		Int64("pad_right", p.PadRight).
		Int64("ho_max", p.HoMax).
		Int64("ho_loops", p.HoLoops).
		Int64("ho_tail", p.HoTail).
		Int64("wo_max", p.WoMax).
		Int64("wo_loops", p.WoLoops).
		Int64("wo_tail", p.WoTail).
		Int64("ho_per_core", p.HoPerCore).
		Int64("ho_last_core", p.HoLastCore).
		Int64("mask_stride", p.MaskStride)
	if p.Grad {
		f.Int64("overlap_h", p.OverlapH).
			Int64("overlap_w", p.OverlapW).
			Int64("col2img_h", p.Col2ImgH).
			Int64("col2img_w", p.Col2ImgW)
	}
	return f
}

// hardware reads the core count and the buffer capacities of the compile info.
func hardware(vars *compileinfo.Vars) (coreNum, ubLimit, l1Size int64, err error) {
	coreNum, ubSize, err := vars.Hardware("core_num", "ub_size")
	if err != nil {
		return
	}
	if l1Size, err = vars.PositiveInt("l1_size"); err != nil {
		return
	}
	// Half of the buffer, for double buffering.
	ubLimit = ubSize / 2
	return
}

// grow returns the largest value v in [start, limit] such that fits(v) holds, assuming fits(start) holds and
// fits is monotonic.
func grow(start, limit int64, fits func(v int64) bool) int64 {
	v := start
	for steps := 0; v < limit && steps < maxGrowSteps && fits(v+1); steps++ {
		v++
	}
	return v
}

// plan selects the mode and computes the per pass and per core partition.
func plan(g *geometry, coreNum, ubLimit, l1Size int64) (*Params, error) {
	p := &Params{
		InputH: g.h, InputW: g.w,
		OutputH: g.ho, OutputW: g.wo,
		PadTop: g.padTop, PadBottom: g.padBottom,
		PadLeft: g.padLeft, PadRight: g.padRight,
		MaskStride: xmath.AlignUp(g.ho*g.wo, maskBlock),
	}
	fits := func(hoRows, woCols int64) bool {
		return g.ubNeed(hoRows, woCols) <= ubLimit && g.l1Need(hoRows, woCols) <= l1Size
	}
	switch {
	case g.isGlobal():
		p.Mode = ModeGlobal
		p.HoMax, p.WoMax = 1, 1
	case fits(g.ho, g.wo):
		p.Mode = ModeWhole
		p.HoMax, p.WoMax = g.ho, g.wo
	case fits(1, g.wo):
		p.Mode = ModeCutH
		p.WoMax = g.wo
	case fits(1, 1):
		p.Mode = ModeCutHW
		p.HoMax = 1
		p.WoMax = grow(1, g.wo, func(woCols int64) bool { return fits(1, woCols) })
	default:
		return nil, tiling.Preconditionf("window %dx%d does not fit the buffers (ub %d bytes, l1 %d bytes) even for one output",
			g.kh, g.kw, ubLimit, l1Size)
	}

	rowsPerCore := g.ho
	p.HoPerCore, p.HoLastCore = g.ho, g.ho
	if (p.Mode == ModeCutH || p.Mode == ModeCutHW) && g.nc1 < coreNum && g.ho >= 2 && !g.overlap {
		p.Mode += ModeCoreCutH - ModeCutH
		parts, perCore, lastCore := xmath.Split(g.ho, coreNum/g.nc1, 1)
		p.NeedCoreNum = g.nc1 * parts
		p.NC1PerCore, p.NC1LastCore = 1, 1
		p.HoPerCore, p.HoLastCore = perCore, lastCore
		rowsPerCore = perCore
	} else {
		p.NeedCoreNum, p.NC1PerCore, p.NC1LastCore = xmath.Split(g.nc1, coreNum, 1)
	}

	if p.Mode == ModeCutH || p.Mode == ModeCoreCutH {
		p.HoMax = grow(1, rowsPerCore, func(hoRows int64) bool { return fits(hoRows, g.wo) })
	}
	p.HoLoops, p.HoTail = rowsPerCore/p.HoMax, rowsPerCore%p.HoMax
	p.WoLoops, p.WoTail = g.wo/p.WoMax, g.wo%p.WoMax
	if p.Mode == ModeGlobal {
		p.HoLoops, p.HoTail, p.WoLoops, p.WoTail = 1, 0, 1, 0
	}
	return p, nil
}

// logParams logs the decision.
func logParams(op *operator.Operator, p *Params, fields *tilingdata.Fields) {
	klog.V(1).Infof("%s %q: mode %d, %d cores, ho_max=%d, wo_max=%d", op.Type(), op.Name(), p.Mode, p.NeedCoreNum, p.HoMax, p.WoMax)
	klog.V(2).Infof("%s %q tiling data: %s", op.Type(), op.Name(), fields)
}

func runInfo(p *Params) *tiling.RunInfo {
	r := &tiling.RunInfo{
		TilingKey: int64(p.Mode),
		BlockDim:  int(p.NeedCoreNum),
		Data:      p.Fields().Bytes(),
	}
	if p.Workspace > 0 {
		r.Workspaces = []int64{p.Workspace}
	}
	return r
}

// checkShape verifies that the named input has the given dimensions.
func checkShape(op *operator.Operator, name string, dims []int64) error {
	desc, err := tiling.ConcreteInput(op, name, false)
	if err != nil {
		return err
	}
	if !slices.Equal(desc.Shape.Int64s(), dims) {
		return tiling.Preconditionf("%s must have shape %v, got %s", name, dims, desc.Shape)
	}
	return nil
}
