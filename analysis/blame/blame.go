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

// Package blame reconstructs, for a violated contract axis, the concrete call
// path from the contract holder to the operation responsible. No searching
// happens here: the solver left a provenance pointer per effect kind and cost
// axis, so the chain is a linear walk over pointers the fixpoint already paid
// for. Walks are read-only; summaries are never mutated.
package blame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
)

// ErrProvenance reports a walk that hit a hole the solver's invariants forbid:
// a missing summary, or an effect present with no recorded source.
var ErrProvenance = errors.New("provenance chain is broken")

// Step is one function on a blame chain. CallSite is the call in the previous
// step's body that reached this function; the first step is the contract
// holder and has none.
type Step struct {
	Function pir.FuncID `json:"function"`
	CallSite *pir.Span  `json:"call_site,omitempty"`
}

// TerminalKind says how a chain ends.
type TerminalKind int

const (
	// TerminalEvidence ends at a concrete operation in the last function.
	TerminalEvidence TerminalKind = iota
	// TerminalExternal ends at a call across the compilation-unit boundary.
	TerminalExternal
	// TerminalOwnBody ends at a function whose own body carries the value in
	// aggregate, with no single dominating site.
	TerminalOwnBody
	// TerminalCycle ends where recursion closes back onto a function already
	// on the chain; the cost comes from going around again.
	TerminalCycle
)

var terminalNames = map[TerminalKind]string{
	TerminalEvidence: "evidence",
	TerminalExternal: "external",
	TerminalOwnBody:  "own_body",
	TerminalCycle:    "cycle",
}

func (k TerminalKind) String() string {
	if n, ok := terminalNames[k]; ok {
		return n
	}
	return fmt.Sprintf("terminal(%d)", int(k))
}

// Terminal is the end of a chain: the evidence site, the external symbol, or
// the function that closes a recursion cycle. Function owns the terminal.
type Terminal struct {
	Kind     TerminalKind      `json:"kind"`
	Function pir.FuncID        `json:"function"`
	Evidence *effects.Evidence `json:"evidence,omitempty"`
	Symbol   pir.SymbolID      `json:"symbol,omitempty"`
	Origin   effects.Origin    `json:"origin,omitempty"`
	Span     pir.Span          `json:"span,omitempty"`
}

func (t Terminal) String() string {
	switch t.Kind {
	case TerminalEvidence:
		if t.Evidence != nil {
			return fmt.Sprintf("%v at %v", t.Evidence.Kind, t.Evidence.Span)
		}
		return fmt.Sprintf("evidence in %s", t.Function)
	case TerminalExternal:
		return fmt.Sprintf("external %s (%v summary)", t.Symbol, t.Origin)
	case TerminalOwnBody:
		return fmt.Sprintf("body of %s", t.Function)
	case TerminalCycle:
		return fmt.Sprintf("recursion back into %s", t.Function)
	}
	return "unknown terminal"
}

// Chain is a blame chain: the steps from the contract holder to the terminal.
// CrossedAsserted marks chains whose value rests anywhere on an asserted,
// unverified claim; the checker surfaces it for audit.
type Chain struct {
	Steps           []Step   `json:"steps"`
	Terminal        Terminal `json:"terminal"`
	CrossedAsserted bool     `json:"crossed_asserted,omitempty"`
}

func (c Chain) String() string {
	var b strings.Builder
	for i, s := range c.Steps {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(string(s.Function))
		if s.CallSite != nil {
			fmt.Fprintf(&b, " (called at %v)", *s.CallSite)
		}
	}
	fmt.Fprintf(&b, " -> %v", c.Terminal)
	return b.String()
}

// Blamer walks provenance over a fixed set of final summaries.
type Blamer struct {
	sums map[pir.FuncID]effects.Summary
}

// NewBlamer returns a blamer over final summaries, as published by a
// successful solve.
func NewBlamer(sums map[pir.FuncID]effects.Summary) *Blamer {
	return &Blamer{sums: sums}
}

// EffectChain reconstructs the chain for an effect kind present in fn's
// summary.
func (b *Blamer) EffectChain(fn pir.FuncID, kind effects.Kind) (Chain, error) {
	return b.walk(fn, func(sum effects.Summary) (effects.Source, error) {
		if src, ok := sum.Prov[kind]; ok {
			return src, nil
		}
		if sum.Effects.Has(kind) {
			return effects.Source{}, fmt.Errorf("%w: effect %v has no recorded source", ErrProvenance, kind)
		}
		// The kind vanished mid-walk; an edge source only exists because the
		// callee had it.
		return effects.Source{}, fmt.Errorf("%w: effect %v absent from callee summary", ErrProvenance, kind)
	})
}

// CostChain reconstructs the chain for a cost axis of fn's summary.
func (b *Blamer) CostChain(fn pir.FuncID, axis effects.Axis) (Chain, error) {
	return b.walk(fn, func(sum effects.Summary) (effects.Source, error) {
		if src, ok := sum.CostProv[axis]; ok {
			return src, nil
		}
		if sum.AxisValue(axis) > 0 {
			return effects.Source{}, fmt.Errorf("%w: axis %v has no recorded source", ErrProvenance, axis)
		}
		// A zero axis with no source: the caller blamed the edge for its own
		// frame pushed onto a zero-cost callee; the chain ends here.
		return effects.Source{}, errOwnBody
	})
}

// errOwnBody is an internal signal, never returned to callers.
var errOwnBody = errors.New("own body")

// walk follows provenance pointers from start until a terminal shape. pick
// extracts the relevant source from the current summary.
func (b *Blamer) walk(start pir.FuncID, pick func(effects.Summary) (effects.Source, error)) (Chain, error) {
	chain := Chain{Steps: []Step{{Function: start}}}
	visited := map[pir.FuncID]bool{start: true}
	cur := start

	for {
		sum, ok := b.sums[cur]
		if !ok {
			return Chain{}, fmt.Errorf("%w: no summary for %s", ErrProvenance, cur)
		}
		if sum.Asserted {
			chain.CrossedAsserted = true
		}

		src, err := pick(sum)
		if errors.Is(err, errOwnBody) {
			chain.Terminal = Terminal{Kind: TerminalOwnBody, Function: cur}
			return chain, nil
		}
		if err != nil {
			return Chain{}, err
		}

		switch {
		case src.IsLocal():
			chain.Terminal = Terminal{
				Kind:     TerminalEvidence,
				Function: cur,
				Evidence: src.Evidence,
				Span:     src.Evidence.Span,
			}
			return chain, nil

		case src.IsExternal():
			t := Terminal{
				Kind:     TerminalExternal,
				Function: cur,
				Symbol:   src.Symbol,
				Origin:   src.Origin,
			}
			if src.Site != nil {
				t.Span = *src.Site
			}
			if src.Origin.Asserted() {
				chain.CrossedAsserted = true
			}
			chain.Terminal = t
			return chain, nil

		case src.IsEdge():
			chain.Steps = append(chain.Steps, Step{Function: src.Callee, CallSite: src.Site})
			if visited[src.Callee] {
				t := Terminal{Kind: TerminalCycle, Function: src.Callee}
				if src.Site != nil {
					t.Span = *src.Site
				}
				chain.Terminal = t
				return chain, nil
			}
			visited[src.Callee] = true
			cur = src.Callee

		default:
			chain.Terminal = Terminal{Kind: TerminalOwnBody, Function: cur}
			return chain, nil
		}
	}
}
