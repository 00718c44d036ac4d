// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/optiling/internal/workerspool"
	"github.com/gomlx/optiling/operator"
	"github.com/gomlx/optiling/pkg/support/xslices"
	"github.com/gomlx/optiling/shapeinference"
	"github.com/gomlx/optiling/tiling"
	"github.com/gomlx/optiling/tiling/autotiling"
	"github.com/gomlx/optiling/tiling/cube"
	"github.com/gomlx/optiling/tiling/dispatch"
	"github.com/gomlx/optiling/tiling/tilingdata"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// maxWordsShown limits the tiling data words printed per row of a sweep.
const maxWordsShown = 12

// dataWords decodes the tiling data as little-endian words of width bytes (4 or 8).
func dataWords(data []byte, width int) ([]int64, error) {
	kind := tilingdata.Int32
	switch width {
	case 4:
	case 8:
		kind = tilingdata.Int64
	default:
		return nil, errors.Errorf("invalid word width %d, valid values are 4 or 8", width)
	}
	if len(data)%width != 0 {
		return nil, errors.Errorf("tiling data has %d bytes, not a multiple of the word width %d", len(data), width)
	}
	kinds := make([]tilingdata.Kind, len(data)/width)
	for ii := range kinds {
		kinds[ii] = kind
	}
	return tilingdata.Decode(data, kinds)
}

func formatWords(words []int64, limit int) string {
	shown := words
	if limit > 0 && len(words) > limit {
		shown = words[:limit]
	}
	text := strings.Join(xslices.Map(shown, func(w int64) string { return strconv.FormatInt(w, 10) }), " ")
	if len(shown) < len(words) {
		text += fmt.Sprintf(" ... (%d more)", len(words)-len(shown))
	}
	return text
}

func formatWorkspaces(workspaces []int64) string {
	if len(workspaces) == 0 {
		return "-"
	}
	return strings.Join(xslices.Map(workspaces, func(ws int64) string { return humanize.IBytes(uint64(ws)) }), ", ")
}

// tileOp builds the described operator and computes its tiling. Panics are converted to errors.
func tileOp(tiler *dispatch.Tiler, desc *OpDescription, compileInfo string) (runInfo *tiling.RunInfo, err error) {
	op, err := desc.Build()
	if err != nil {
		return nil, err
	}
	exception := exceptions.TryCatch[error](func() { runInfo, err = tiler.Tiling(op, compileInfo) })
	if exception != nil {
		return nil, exception
	}
	return
}

func runTiling(args []string) error {
	flagSet := newFlagSet("tiling")
	flagOp := flagSet.String("op", "", "JSON description of the operator (or @<path>).")
	flagCompileInfo := flagSet.String("compile_info", "", "Compile info of the operator (or @<path>).")
	flagWords := flagSet.Int("words", 4, "Width in bytes (4 or 8) of the words the tiling data is printed as.")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	desc, compileInfo, err := readOpAndCompileInfo(*flagOp, *flagCompileInfo)
	if err != nil {
		return err
	}
	runInfo, err := tileOp(dispatch.New(nil), desc, compileInfo)
	if err != nil {
		return err
	}
	words, err := dataWords(runInfo.Data, *flagWords)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Tiling of %s %q", desc.Type, desc.Name)))
	table := newPlainTable(lipgloss.Left)
	table.Row(false, "tiling_key", strconv.FormatInt(runInfo.TilingKey, 10))
	table.Row(false, "block_dim", strconv.Itoa(runInfo.BlockDim))
	table.Row(false, "data size", humanize.IBytes(uint64(len(runInfo.Data))))
	table.Row(false, "workspaces", formatWorkspaces(runInfo.Workspaces))
	table.Row(false, fmt.Sprintf("data (%d words)", len(words)), formatWords(words, 0))
	fmt.Println(table.Table.Render())
	return nil
}

func readOpAndCompileInfo(opFlag, compileInfoFlag string) (*OpDescription, string, error) {
	if opFlag == "" || compileInfoFlag == "" {
		return nil, "", errors.New("both -op and -compile_info must be given")
	}
	opText, err := readFileOrText(opFlag)
	if err != nil {
		return nil, "", err
	}
	desc, err := ParseOp(opText)
	if err != nil {
		return nil, "", err
	}
	compileInfo, err := readFileOrText(compileInfoFlag)
	if err != nil {
		return nil, "", err
	}
	return desc, compileInfo, nil
}

// sweepResult is the outcome of the tiling for one value of the swept dimension.
type sweepResult struct {
	dim     int
	runInfo *tiling.RunInfo
	err     error
}

// sweep computes the tiling of the operator for each value of the dimension at axis of the named input,
// with at most parallelism tilings at a time. onDone is called after each tiling, if not nil.
func sweep(tiler *dispatch.Tiler, desc *OpDescription, compileInfo, input string, axis int, dims []int,
	parallelism int, onDone func()) []sweepResult {
	pool := workerspool.New(parallelism)
	return workerspool.Map(pool, dims, func(_ int, dim int) sweepResult {
		if onDone != nil {
			defer onDone()
		}
		result := sweepResult{dim: dim}
		variant, err := desc.WithDim(input, axis, dim)
		if err != nil {
			result.err = err
			return result
		}
		result.runInfo, result.err = tileOp(tiler, variant, compileInfo)
		if result.err != nil {
			klog.V(1).Infof("%s %q with %s[%d]=%d: %v", desc.Type, desc.Name, input, axis, dim, result.err)
		}
		return result
	})
}

func runSweep(args []string) error {
	flagSet := newFlagSet("sweep")
	flagOp := flagSet.String("op", "", "JSON description of the operator (or @<path>).")
	flagCompileInfo := flagSet.String("compile_info", "", "Compile info of the operator (or @<path>).")
	flagInput := flagSet.String("input", "", "Name of the input whose dimension is swept.")
	flagAxis := flagSet.Int("axis", 0, "Axis of the swept dimension.")
	flagValues := xslices.Flag(flagSet, "values", nil, "Comma separated values of the swept dimension.", strconv.Atoi)
	flagRange := flagSet.String("range", "", "Range start:end[:step] of values of the swept dimension, "+
		"added to -values.")
	flagParallelism := flagSet.Int("parallelism", 0, "Number of tilings computed in parallel. "+
		"If <= 0, it uses the number of CPUs.")
	flagWords := flagSet.Int("words", 4, "Width in bytes (4 or 8) of the words the tiling data is printed as.")
	flagProgress := flagSet.Bool("progress", true, "Display a progress bar.")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	desc, compileInfo, err := readOpAndCompileInfo(*flagOp, *flagCompileInfo)
	if err != nil {
		return err
	}
	dims := *flagValues
	if *flagRange != "" {
		rangeDims, err := xslices.ParseRange(*flagRange, strconv.Atoi)
		if err != nil {
			return err
		}
		dims = append(dims, rangeDims...)
	}
	if len(dims) == 0 {
		return errors.New("no values to sweep, set -values or -range")
	}
	if *flagInput == "" {
		return errors.New("missing -input with the dimension to sweep")
	}

	var bar *progressbar.ProgressBar
	var onDone func()
	if *flagProgress {
		term := termenv.NewOutput(os.Stdout)
		term.HideCursor()
		defer term.ShowCursor()
		bar = progressbar.NewOptions(len(dims),
			progressbar.OptionSetDescription("Tiling"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("tilings"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
		onDone = func() { _ = bar.Add(1) }
	}
	tiler := dispatch.New(nil)
	results := sweep(tiler, desc, compileInfo, *flagInput, *flagAxis, dims, *flagParallelism, onDone)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	return reportSweep(desc, *flagInput, *flagAxis, results, *flagWords)
}

func reportSweep(desc *OpDescription, input string, axis int, results []sweepResult, width int) error {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Sweep of %s %q on %s[%d]", desc.Type, desc.Name, input, axis)))
	table := newPlainTable(lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	table.Table.Headers("dim", "tiling_key", "block_dim", "data / error")
	var uncovered, failed int
	for _, result := range results {
		dim := humanize.Comma(int64(result.dim))
		if result.err != nil {
			if errors.Is(result.err, tiling.ErrUncoveredShape) {
				uncovered++
			} else {
				failed++
			}
			table.Row(true, dim, "-", "-", result.err.Error())
			continue
		}
		words, err := dataWords(result.runInfo.Data, width)
		if err != nil {
			return err
		}
		table.Row(false, dim, strconv.FormatInt(result.runInfo.TilingKey, 10),
			strconv.Itoa(result.runInfo.BlockDim), formatWords(words, maxWordsShown))
	}
	fmt.Println(table.Table.Render())

	summary := newPlainTable(lipgloss.Left, lipgloss.Right)
	summary.Row(false, "values", humanize.Comma(int64(len(results))))
	summary.Row(false, "tiled", humanize.Comma(int64(len(results)-uncovered-failed)))
	summary.Row(uncovered > 0, "not covered", humanize.Comma(int64(uncovered)))
	summary.Row(failed > 0, "failed", humanize.Comma(int64(failed)))
	fmt.Println(summary.Table.Render())
	return nil
}

// inferGraph builds the described graph and runs shape inference over it.
func inferGraph(desc *GraphDescription) (graph *shapeinference.Graph, err error) {
	graph, err = desc.Build()
	if err != nil {
		return nil, err
	}
	if exception := exceptions.TryCatch[error](func() { err = graph.Infer() }); exception != nil {
		err = exception
	}
	return graph, err
}

func runInfer(args []string) error {
	flagSet := newFlagSet("infer")
	flagGraph := flagSet.String("graph", "", "JSON description of the graph (or @<path>).")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *flagGraph == "" {
		return errors.New("missing -graph")
	}
	text, err := readFileOrText(*flagGraph)
	if err != nil {
		return err
	}
	desc, err := ParseGraph(text)
	if err != nil {
		return err
	}
	graph, inferErr := inferGraph(desc)
	if graph == nil {
		return inferErr
	}

	fmt.Println(titleStyle.Render("Shape inference"))
	table := newPlainTable(lipgloss.Left)
	table.Table.Headers("operator", "output", "dtype", "shape", "handle", "marks")
	for _, node := range graph.Nodes() {
		op := node.Op
		marks := strings.Join(op.Context().Marks(), ",")
		for ii := range op.NumOutputs() {
			name := op.OutputName(ii)
			out, _ := op.OutputByIndex(ii)
			handle := xslices.Map(op.OutputHandle(name), operator.ShapeAndType.String)
			table.Row(false, fmt.Sprintf("%s %q", op.Type(), op.Name()), name, operator.DTypeName(out.DType),
				out.Shape.String(), strings.Join(handle, ", "), marks)
		}
	}
	fmt.Println(table.Table.Render())
	return inferErr
}

func runOps(args []string) error {
	flagSet := newFlagSet("ops")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Supported operators"))
	table := newPlainTable(lipgloss.Left)
	table.Table.Headers("kind", "operator types")
	table.Row(false, "table search tiling", strings.Join(cube.Types(), ", "))
	table.Row(false, "analytic tiling", strings.Join(dispatch.AnalyticTypes(), ", "))
	table.Row(false, "auto tiling patterns", strings.Join(autotiling.PatternNames(), ", "))
	table.Row(false, "shape inference", strings.Join(shapeinference.SupportedOps(), ", "))
	fmt.Println(table.Table.Render())
	return nil
}
