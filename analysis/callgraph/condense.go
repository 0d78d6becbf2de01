// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package callgraph

import (
	"errors"
	"fmt"

	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/internal/funcutil"
	"github.com/awslabs/ar-pyrite-tools/internal/graphutil"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/topo"
)

// ErrCondensationCycle reports that the condensed component graph still
// contained a cycle. Tarjan guarantees it cannot; seeing this means the
// analysis is broken, so it aborts rather than producing diagnostics.
var ErrCondensationCycle = errors.New("component graph is not acyclic")

// Component is one node of the condensation: a maximal set of mutually
// reachable functions, or a single function. Members are sorted; Index is the
// component's position in the callees-first order.
type Component struct {
	Index     int
	Members   []pir.FuncID
	Recursive bool
}

func (c *Component) String() string {
	if len(c.Members) == 1 {
		return string(c.Members[0])
	}
	return fmt.Sprintf("scc(%d functions, %s ...)", len(c.Members), c.Members[0])
}

// Condensation is the component DAG of the call graph, with components in
// callees-first (reverse topological) order. The solver processes Components
// front to back; by the time it reaches a component, every out-of-component
// callee already has a final summary.
type Condensation struct {
	Graph      *Graph
	Components []*Component
	compOf     map[pir.FuncID]int

	// function-level digraph, kept for cycle enumeration in diagnostics
	fnGraph graphutil.Digraph
	fnID    map[pir.FuncID]int64
	fnOf    []pir.FuncID
}

// ComponentOf returns the component containing the function.
func (c *Condensation) ComponentOf(id pir.FuncID) *Component {
	return c.Components[c.compOf[id]]
}

// SameComponent reports whether two functions are mutually recursive.
func (c *Condensation) SameComponent(a, b pir.FuncID) bool {
	return c.compOf[a] == c.compOf[b]
}

// Condense computes the strongly connected components of the call graph and
// orders them callees-first. The component order is re-derived through a
// stabilized topological sort of the component DAG, which independently
// re-checks that the condensation is acyclic; a cycle there is an internal
// failure, not a user diagnostic.
func Condense(g *Graph) (*Condensation, error) {
	ids := g.SortedFuncs()
	fnID := make(map[pir.FuncID]int64, len(ids))
	for i, id := range ids {
		fnID[id] = int64(i)
	}

	// In-program successor lists, deduplicated, in edge order. External edges
	// have no bearing on recursion structure.
	succs := make(map[pir.FuncID][]pir.FuncID, len(ids))
	fnGraph := graphutil.NewDigraph(len(ids))
	for _, id := range ids {
		seen := make(map[pir.FuncID]bool)
		for _, e := range g.Funcs[id].Out {
			if e.Callee == "" || seen[e.Callee] {
				continue
			}
			seen[e.Callee] = true
			succs[id] = append(succs[id], e.Callee)
			fnGraph.AddEdge(fnID[id], fnID[e.Callee])
		}
	}

	sccs := graphutil.StronglyConnectedComponents(ids, func(id pir.FuncID) []pir.FuncID {
		return succs[id]
	})

	comps := make([]*Component, len(sccs))
	compOf := make(map[pir.FuncID]int, len(ids))
	for i, members := range sccs {
		ms := slices.Clone(members)
		slices.Sort(ms)
		comps[i] = &Component{
			Members:   ms,
			Recursive: len(ms) > 1 || funcutil.Contains(succs[ms[0]], ms[0]),
		}
		for _, m := range ms {
			compOf[m] = i
		}
	}

	// Component DAG, edges caller-component -> callee-component.
	dag := graphutil.NewDigraph(len(comps))
	for _, id := range ids {
		for _, callee := range succs[id] {
			if cu, cv := compOf[id], compOf[callee]; cu != cv {
				dag.AddEdge(int64(cu), int64(cv))
			}
		}
	}
	sorted, err := topo.SortStabilized(dag, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCondensationCycle, err)
	}

	// Callers sort first; reverse for the callees-first order the solver wants.
	cond := &Condensation{
		Graph:   g,
		compOf:  make(map[pir.FuncID]int, len(ids)),
		fnGraph: fnGraph,
		fnID:    fnID,
		fnOf:    ids,
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		comp := comps[sorted[i].ID()]
		comp.Index = len(cond.Components)
		cond.Components = append(cond.Components, comp)
		for _, m := range comp.Members {
			cond.compOf[m] = comp.Index
		}
	}
	return cond, nil
}

// ComponentCycles enumerates the elementary cycles inside one recursive
// component, each as a function sequence with the anchor repeated at the end.
// no_recursion diagnostics use this to name the actual cycle instead of just
// the component; a non-recursive component has none.
func (c *Condensation) ComponentCycles(comp *Component) [][]pir.FuncID {
	include := make([]int64, len(comp.Members))
	for i, m := range comp.Members {
		include[i] = c.fnID[m]
	}
	sub := graphutil.Subgraph(c.fnGraph, include)
	var out [][]pir.FuncID
	for _, cycle := range graphutil.FindAllElementaryCycles(sub) {
		names := make([]pir.FuncID, len(cycle))
		for i, v := range cycle {
			names[i] = c.fnOf[v]
		}
		out = append(out, names)
	}
	return out
}
