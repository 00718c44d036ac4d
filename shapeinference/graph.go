// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"github.com/gomlx/optiling/operator"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Graph is a dataflow graph of operators, used to run shape inference over a whole program: handle
// associations produced by one operator are forwarded to the operators consuming them.
//
// Nodes must be added in topological order: an edge can only go from an earlier node to a later one.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
}

// Node is one operator in the Graph, with its incoming edges.
type Node struct {
	Op    *operator.Operator
	index int
	edges []edge
}

type edge struct {
	from          *Node
	output, input string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{byName: make(map[string]*Node)}
}

// Add an operator to the graph. Operator names must be unique.
func (g *Graph) Add(op *operator.Operator) (*Node, error) {
	if _, found := g.byName[op.Name()]; found {
		return nil, errors.Errorf("graph already has an operator named %q", op.Name())
	}
	node := &Node{Op: op, index: len(g.nodes)}
	g.nodes = append(g.nodes, node)
	g.byName[op.Name()] = node
	return node, nil
}

// Node returns the node of the operator with the given name, or nil if there is none.
func (g *Graph) Node(name string) *Node {
	return g.byName[name]
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Connect feeds the output named output of from to the input named input of to.
func (g *Graph) Connect(from *Node, output string, to *Node, input string) error {
	if from == nil || to == nil {
		return errors.New("Graph.Connect() with nil node")
	}
	if from.index >= to.index {
		return errors.Errorf("edge %s:%s -> %s:%s breaks the topological order of the graph",
			from.Op.Name(), output, to.Op.Name(), input)
	}
	if to.Op.InputIndex(input) < 0 {
		return errors.Errorf("operator %s %q has no input %q", to.Op.Type(), to.Op.Name(), input)
	}
	for _, e := range to.edges {
		if e.input == input {
			return errors.Errorf("input %q of %q is already connected to %s:%s", input, to.Op.Name(), e.from.Op.Name(), e.output)
		}
	}
	to.edges = append(to.edges, edge{from: from, output: output, input: input})
	return nil
}

// Infer runs shape inference on every node, in order. Before a node is inferred, the descriptions,
// handle associations and marks of the outputs it consumes are forwarded to its inputs.
//
// It stops at the first failure.
func (g *Graph) Infer() error {
	for _, node := range g.nodes {
		op := node.Op
		ctx := op.Context()
		for _, e := range node.edges {
			producer := e.from.Op
			outIdx := producer.OutputIndex(e.output)
			if outIdx < 0 {
				return errors.Errorf("operator %s %q has no output %q (consumed by %q)",
					producer.Type(), producer.Name(), e.output, op.Name())
			}
			desc, _ := producer.OutputByIndex(outIdx)
			if previous, err := op.Input(e.input); err == nil && !desc.HasConst && previous.HasConst {
				// Keep constant content folded in by the caller.
				desc = desc.WithConst(previous.Const...)
			}
			if err := op.SetInput(e.input, desc); err != nil {
				return err
			}
			handle := producer.Context().OutputHandleShapesAndTypes(outIdx)
			ctx.SetInputHandleShapesAndTypes(op.InputIndex(e.input), handle)
			if len(handle) > 0 {
				for _, mark := range producer.Context().Marks() {
					ctx.AddMark(mark)
				}
			}
		}
		if err := Infer(op); err != nil {
			return err
		}
		klog.V(1).Infof("inferred %s %q, marks=%v", op.Type(), op.Name(), ctx.Marks())
	}
	return nil
}
