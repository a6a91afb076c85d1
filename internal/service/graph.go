package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// NodeKind distinguishes step nodes from file nodes.
type NodeKind string

const (
	NodeStep NodeKind = "step"
	NodeFile NodeKind = "file"
)

// Node is a vertex of the reference graph.
type Node struct {
	ID       string      `json:"id"`
	Kind     NodeKind    `json:"kind"`
	Label    string      `json:"label"`
	StepID   core.StepID `json:"step_id,omitempty"`
	OutputID string      `json:"output_id,omitempty"`
	Position int         `json:"position"`
}

// Edge is one resolved reference, from producer to consumer.
type Edge struct {
	ID     string             `json:"id"`
	Source string             `json:"source"`
	Target string             `json:"target"`
	Kind   core.ReferenceKind `json:"kind"`
}

// DanglingInput is a reference that could not be drawn.
type DanglingInput struct {
	StepID core.StepID    `json:"step_id"`
	Ref    core.Reference `json:"reference"`
}

// Graph is the derived, read-only view of a workflow's references. It is
// rebuilt from scratch on every change and holds no state of its own.
type Graph struct {
	Nodes    []Node          `json:"nodes"`
	Edges    []Edge          `json:"edges"`
	Dangling []DanglingInput `json:"dangling"`
}

// StepNodeID returns the node id of a step.
func StepNodeID(id core.StepID) string {
	return "step:" + string(id)
}

// FileNodeID returns the node id of a file.
func FileNodeID(name string) string {
	return "file:" + name
}

// BuildGraph derives the reference graph. Step nodes follow sequence
// order; file nodes follow the order of their first reference. There are
// no implicit edges between consecutive steps.
func BuildGraph(wf *core.Workflow, files core.FileCatalog) *Graph {
	g := &Graph{
		Nodes:    make([]Node, 0, len(wf.Steps)),
		Edges:    make([]Edge, 0),
		Dangling: make([]DanglingInput, 0),
	}
	for i, s := range wf.Steps {
		g.Nodes = append(g.Nodes, Node{
			ID:       StepNodeID(s.ID),
			Kind:     NodeStep,
			Label:    s.Text,
			StepID:   s.ID,
			OutputID: s.OutputID,
			Position: i,
		})
	}

	fileSeen := make(map[string]bool)
	edgeSeen := make(map[string]int)
	for i := range wf.Steps {
		sr := ResolveStep(wf, i, files)
		target := StepNodeID(sr.Step.ID)
		for _, in := range sr.Inputs {
			if !in.Resolved() {
				g.Dangling = append(g.Dangling, DanglingInput{StepID: sr.Step.ID, Ref: in.Ref})
				continue
			}
			var source string
			if in.Ref.Kind == core.ReferenceFile {
				source = FileNodeID(in.FileName)
				if !fileSeen[in.FileName] {
					fileSeen[in.FileName] = true
					g.Nodes = append(g.Nodes, Node{
						ID:       source,
						Kind:     NodeFile,
						Label:    in.FileName,
						Position: -1,
					})
				}
			} else {
				source = StepNodeID(in.Producer.ID)
			}
			base := source + "->" + target
			n := edgeSeen[base]
			edgeSeen[base] = n + 1
			g.Edges = append(g.Edges, Edge{
				ID:     fmt.Sprintf("%s#%d", base, n),
				Source: source,
				Target: target,
				Kind:   in.Ref.Kind,
			})
		}
	}
	return g
}

// TopologicalOrder returns step ids in an order that respects every
// step-to-step edge, preferring sequence position among ready steps
// (Kahn's algorithm). It fails with CYCLE_DETECTED if no order exists.
func (g *Graph) TopologicalOrder() ([]core.StepID, error) {
	position := make(map[string]int)
	stepOf := make(map[string]core.StepID)
	for _, n := range g.Nodes {
		if n.Kind == NodeStep {
			position[n.ID] = n.Position
			stepOf[n.ID] = n.StepID
		}
	}

	inDegree := make(map[string]int, len(position))
	dependents := make(map[string][]string)
	for id := range position {
		inDegree[id] = 0
	}
	for _, e := range g.Edges {
		if _, ok := position[e.Source]; !ok {
			continue // file edges do not constrain order
		}
		inDegree[e.Target]++
		dependents[e.Source] = append(dependents[e.Source], e.Target)
	}

	ready := make([]string, 0)
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]core.StepID, 0, len(position))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		current := ready[0]
		ready = ready[1:]
		order = append(order, stepOf[current])
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(position) {
		return nil, core.ErrValidation(core.CodeGraphCycle, "step reference graph contains a cycle")
	}
	return order, nil
}

// DOT renders the graph in Graphviz format.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph workflow {\n  rankdir=LR;\n")
	for _, n := range g.Nodes {
		shape := "box"
		if n.Kind == NodeFile {
			shape = "note"
		}
		fmt.Fprintf(&b, "  %q [label=%q, shape=%s];\n", n.ID, truncateLabel(n.Label, 40), shape)
	}
	for _, e := range g.Edges {
		style := "solid"
		if e.Kind == core.ReferenceFile {
			style = "dashed"
		}
		fmt.Fprintf(&b, "  %q -> %q [style=%s];\n", e.Source, e.Target, style)
	}
	b.WriteString("}\n")
	return b.String()
}

func truncateLabel(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
