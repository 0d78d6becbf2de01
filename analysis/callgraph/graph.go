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

// Package callgraph builds the whole-program call graph from extracted call
// facts and condenses it into the DAG of strongly connected components the
// solver iterates over. Virtual calls expand against the closed type
// hierarchy; calls that leave the program become edges to external nodes
// resolved later by the summary provider.
//
// Everything here is deterministic: node and edge orders are pure functions
// of the input program, so identical bundles condense identically. Cached
// fingerprints and reproducible diagnostics both lean on that.
package callgraph

import (
	"fmt"

	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/contracts"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/extract"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"golang.org/x/exp/slices"
)

// UnknownCalleeSymbol is the synthetic external node standing in for the
// target of a virtual call the type hierarchy cannot close. Its summary is
// always the conservative top.
const UnknownCalleeSymbol = pir.SymbolID("<unknown virtual callee>")

// EdgeKind distinguishes how a call site reaches its target.
type EdgeKind int

const (
	// EdgeDirect is a statically resolved call to a defined function
	EdgeDirect EdgeKind = iota
	// EdgeVirtual is one expanded target of a closed-world virtual call
	EdgeVirtual
	// EdgeExternal leaves the program under analysis
	EdgeExternal
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeDirect:
		return "direct"
	case EdgeVirtual:
		return "virtual"
	case EdgeExternal:
		return "external"
	}
	return fmt.Sprintf("edgekind(%d)", int(k))
}

// Edge is one call edge. Callee is set for direct and virtual edges, Symbol
// for external ones. Freq is the loop multiplier at the call site; the solver
// scales callee costs by it.
type Edge struct {
	Kind   EdgeKind
	Caller pir.FuncID
	Callee pir.FuncID
	Symbol pir.SymbolID
	// Method is the hierarchy key for virtual edges
	Method string
	Site   pir.Span
	Freq   effects.Sat
	// Op is the index of the call op in the caller's body
	Op int
}

// Node is a defined function in the call graph, with its parsed contract and
// outgoing edges in body order (virtual expansions in target order).
type Node struct {
	ID       pir.FuncID
	Fn       *pir.Function
	Contract contracts.Contract
	Out      []Edge
}

// External is a node for a symbol outside the program: an extern declaration
// (with its trust attribute, if any) or a synthetic target such as
// UnknownCalleeSymbol. Decl is nil for synthetic and undeclared symbols.
type External struct {
	Symbol pir.SymbolID
	Decl   *pir.Function
	Trust  *contracts.Trust
	Span   pir.Span
}

// Graph is the whole-program call graph.
type Graph struct {
	Funcs     map[pir.FuncID]*Node
	Externals map[pir.SymbolID]*External
	order     []pir.FuncID
}

// SortedFuncs returns the defined function IDs in sorted order.
func (g *Graph) SortedFuncs() []pir.FuncID {
	return g.order
}

// SortedExternals returns the external symbols in sorted order.
func (g *Graph) SortedExternals() []pir.SymbolID {
	syms := make([]pir.SymbolID, 0, len(g.Externals))
	for s := range g.Externals {
		syms = append(syms, s)
	}
	slices.Sort(syms)
	return syms
}

// NumEdges counts all edges.
func (g *Graph) NumEdges() int {
	n := 0
	for _, node := range g.Funcs {
		n += len(node.Out)
	}
	return n
}

// Build assembles the call graph: one node per defined function (uncalled
// functions included, since exported entry points have no callers here), one
// external node per symbol the program reaches, and edges from the extracted
// call facts. Attribute parse failures are returned as errors because the
// front-end validates attributes before emitting bundles.
func Build(prog *pir.Program, facts map[pir.FuncID]extract.Facts, log *config.LogGroup) (*Graph, error) {
	g := &Graph{
		Funcs:     make(map[pir.FuncID]*Node),
		Externals: make(map[pir.SymbolID]*External),
	}

	// Extern declarations, indexed by symbol. The first declaration of a
	// symbol wins; later ones are harmless duplicates across units.
	declBySymbol := make(map[pir.SymbolID]*pir.Function)
	for _, id := range prog.SortedIDs() {
		fn := prog.Functions[id]
		if !fn.Extern {
			continue
		}
		sym := externSymbol(fn)
		if _, ok := declBySymbol[sym]; !ok {
			declBySymbol[sym] = fn
		}
		if _, err := g.ensureExternal(sym, fn); err != nil {
			return nil, err
		}
	}

	for _, id := range prog.SortedIDs() {
		fn := prog.Functions[id]
		if fn.Extern {
			continue
		}
		contract, err := contracts.ParseContract(fn.Attrs)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", id, err)
		}
		g.Funcs[id] = &Node{ID: id, Fn: fn, Contract: contract}
		g.order = append(g.order, id)
	}

	for _, id := range g.order {
		node := g.Funcs[id]
		for i, call := range facts[id].Calls {
			if err := g.addCall(prog, declBySymbol, node, i, call, log); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func (g *Graph) addCall(prog *pir.Program, decls map[pir.SymbolID]*pir.Function, node *Node, idx int, call extract.CallFact, log *config.LogGroup) error {
	switch call.Kind {
	case pir.OpCall:
		return g.addTarget(prog, node, EdgeDirect, call.Callee, "", call, idx, log)

	case pir.OpCallVirtual:
		targets, ok := prog.MethodTargets(call.Method)
		if !ok || len(targets) == 0 {
			log.Debugf("%s: open virtual call %q at %v", node.ID, call.Method, call.Site)
			if _, err := g.ensureExternal(UnknownCalleeSymbol, nil); err != nil {
				return err
			}
			node.Out = append(node.Out, Edge{
				Kind: EdgeExternal, Caller: node.ID, Symbol: UnknownCalleeSymbol,
				Method: call.Method, Site: call.Site, Freq: call.Freq, Op: idx,
			})
			return nil
		}
		for _, target := range targets {
			if err := g.addTarget(prog, node, EdgeVirtual, target, call.Method, call, idx, log); err != nil {
				return err
			}
		}
		return nil

	case pir.OpCallExtern:
		decl := decls[call.Symbol]
		if _, err := g.ensureExternal(call.Symbol, decl); err != nil {
			return err
		}
		node.Out = append(node.Out, Edge{
			Kind: EdgeExternal, Caller: node.ID, Symbol: call.Symbol,
			Site: call.Site, Freq: call.Freq, Op: idx,
		})
		return nil
	}
	return fmt.Errorf("%s: call fact with non-call kind %v at %v", node.ID, call.Kind, call.Site)
}

// addTarget resolves one concrete callee. A callee that turns out to be an
// extern declaration, or that has no definition at all, normalizes to an
// external edge so the summary provider owns every boundary crossing.
func (g *Graph) addTarget(prog *pir.Program, node *Node, kind EdgeKind, callee pir.FuncID, method string, call extract.CallFact, idx int, log *config.LogGroup) error {
	target, ok := prog.Functions[callee]
	switch {
	case ok && !target.Extern:
		node.Out = append(node.Out, Edge{
			Kind: kind, Caller: node.ID, Callee: callee,
			Method: method, Site: call.Site, Freq: call.Freq, Op: idx,
		})
	case ok:
		sym := externSymbol(target)
		if _, err := g.ensureExternal(sym, target); err != nil {
			return err
		}
		node.Out = append(node.Out, Edge{
			Kind: EdgeExternal, Caller: node.ID, Symbol: sym,
			Method: method, Site: call.Site, Freq: call.Freq, Op: idx,
		})
	default:
		log.Warnf("%s: call to undeclared function %s at %v", node.ID, callee, call.Site)
		sym := pir.SymbolID(callee)
		if _, err := g.ensureExternal(sym, nil); err != nil {
			return err
		}
		node.Out = append(node.Out, Edge{
			Kind: EdgeExternal, Caller: node.ID, Symbol: sym,
			Method: method, Site: call.Site, Freq: call.Freq, Op: idx,
		})
	}
	return nil
}

// ensureExternal returns the external node for sym, creating it on first use.
// The declaration's trust attribute is parsed once, here.
func (g *Graph) ensureExternal(sym pir.SymbolID, decl *pir.Function) (*External, error) {
	if ext, ok := g.Externals[sym]; ok {
		return ext, nil
	}
	ext := &External{Symbol: sym}
	if decl != nil {
		trust, err := contracts.ParseTrust(decl.Attrs)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", sym, err)
		}
		ext.Decl = decl
		ext.Trust = trust
		ext.Span = decl.Span
	}
	g.Externals[sym] = ext
	return ext, nil
}

// externSymbol returns the linkage symbol of an extern declaration, falling
// back to its function ID when the front-end left the symbol empty.
func externSymbol(fn *pir.Function) pir.SymbolID {
	if fn.Symbol != "" {
		return fn.Symbol
	}
	return pir.SymbolID(fn.ID())
}
