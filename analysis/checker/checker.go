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

// Package checker compares each declared contract against the solved summary
// and produces violation records. Axes are judged independently: a function
// breaking both no_alloc and a cycle budget gets two separately fixable
// diagnostics. Violations are data for the diagnostic layer, never Go errors;
// the only errors out of this package are broken-provenance internals.
package checker

import (
	"fmt"
	"strings"

	"github.com/awslabs/ar-pyrite-tools/analysis/blame"
	"github.com/awslabs/ar-pyrite-tools/analysis/callgraph"
	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/internal/funcutil"
)

// Code identifies a violation class for the diagnostic layer.
type Code string

const (
	CodeNoAlloc     Code = "PC1001"
	CodeNoCopyOver  Code = "PC1002"
	CodeNoSyscall   Code = "PC1003"
	CodeNoPanic     Code = "PC1004"
	CodeNoRecursion Code = "PC1005"
	CodeBudget      Code = "PC1006"
	// CodeUnresolvedExternal replaces the class code when the blame chain ends
	// at an external nobody could resolve: the actionable fix is a summary or
	// a trust annotation, not the function body.
	CodeUnresolvedExternal Code = "PC1100"
)

// Violation is one failed contract axis. Observed and Declared are rendered
// values ("present"/"absent" for effect axes, numbers for cost axes) so the
// consumer never recomputes anything.
type Violation struct {
	Code     Code        `json:"code"`
	Function pir.FuncID  `json:"function"`
	Axis     string      `json:"axis"`
	Observed string      `json:"observed"`
	Declared string      `json:"declared"`
	Span     pir.Span    `json:"span"`
	Message  string      `json:"message"`
	Chain    blame.Chain `json:"chain"`
	// Asserted marks conclusions that rest on trust annotations rather than
	// verified summaries.
	Asserted bool `json:"asserted,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s", v.Code, v.Function, v.Message)
}

// Checker judges contracts over the final summaries of one solve.
type Checker struct {
	cond   *callgraph.Condensation
	sums   map[pir.FuncID]effects.Summary
	blamer *blame.Blamer
	log    *config.LogGroup
}

// New returns a checker over a finished solve.
func New(cond *callgraph.Condensation, sums map[pir.FuncID]effects.Summary, log *config.LogGroup) *Checker {
	return &Checker{cond: cond, sums: sums, blamer: blame.NewBlamer(sums), log: log}
}

// Check judges every declared contract. Functions are visited in sorted order
// and axes in declaration order, so the output order is deterministic. An
// error means a provenance walk failed, which is an internal fault, not a
// user diagnostic.
func (c *Checker) Check() ([]Violation, error) {
	var out []Violation
	for _, id := range c.cond.Graph.SortedFuncs() {
		node := c.cond.Graph.Funcs[id]
		if node.Contract.IsEmpty() {
			continue
		}
		sum, ok := c.sums[id]
		if !ok {
			return nil, fmt.Errorf("%w: no summary for contract holder %s", blame.ErrProvenance, id)
		}
		vs, err := c.checkFunction(node, sum)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (c *Checker) checkFunction(node *callgraph.Node, sum effects.Summary) ([]Violation, error) {
	var out []Violation
	id := node.ID
	ct := node.Contract

	addEffect := func(code Code, kind effects.Kind, clause, message string) error {
		if !sum.Effects.Has(kind) {
			return nil
		}
		chain, err := c.blamer.EffectChain(id, kind)
		if err != nil {
			return err
		}
		out = append(out, c.build(node, code, kind.String(), "present", clause, message, chain))
		return nil
	}

	if ct.NoAlloc {
		if err := addEffect(CodeNoAlloc, effects.Alloc, "no_alloc", "declared no_alloc but may allocate"); err != nil {
			return nil, err
		}
	}
	if ct.NoCopyOver != nil && sum.MaxCopy.Exceeds(*ct.NoCopyOver) {
		chain, err := c.blamer.CostChain(id, effects.AxisMaxCopy)
		if err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("declared no_copy_over(%d) but may copy %v bytes", *ct.NoCopyOver, sum.MaxCopy)
		out = append(out, c.build(node, CodeNoCopyOver, effects.AxisMaxCopy.String(), sum.MaxCopy.String(),
			fmt.Sprintf("no_copy_over(%d)", *ct.NoCopyOver), msg, chain))
	}
	if ct.NoSyscall {
		if err := addEffect(CodeNoSyscall, effects.Syscall, "no_syscall", "declared no_syscall but may perform syscalls"); err != nil {
			return nil, err
		}
	}
	if ct.NoPanic {
		if err := addEffect(CodeNoPanic, effects.Panic, "no_panic", "declared no_panic but may panic"); err != nil {
			return nil, err
		}
	}
	if ct.NoRecursion && sum.Effects.Has(effects.Recursion) {
		chain, err := c.blamer.EffectChain(id, effects.Recursion)
		if err != nil {
			return nil, err
		}
		msg := "declared no_recursion but may recurse"
		if cycle := c.namedCycle(id); cycle != "" {
			msg += " (cycle: " + cycle + ")"
		}
		out = append(out, c.build(node, CodeNoRecursion, effects.Recursion.String(), "present", "no_recursion", msg, chain))
	}
	if ct.Budget != nil {
		for _, ax := range []struct {
			axis  effects.Axis
			limit *uint64
		}{
			{effects.AxisCycles, ct.Budget.Cycles},
			{effects.AxisAllocs, ct.Budget.Allocs},
			{effects.AxisStackBytes, ct.Budget.StackBytes},
			{effects.AxisSyscalls, ct.Budget.Syscalls},
		} {
			if ax.limit == nil {
				continue
			}
			got := sum.AxisValue(ax.axis)
			if !got.Exceeds(*ax.limit) {
				continue
			}
			chain, err := c.blamer.CostChain(id, ax.axis)
			if err != nil {
				return nil, err
			}
			msg := fmt.Sprintf("budget exceeded on %v: computed %v, declared at most %d", ax.axis, got, *ax.limit)
			out = append(out, c.build(node, CodeBudget, ax.axis.String(), got.String(),
				fmt.Sprintf("%v<=%d", ax.axis, *ax.limit), msg, chain))
		}
	}
	return out, nil
}

// build assembles the record, downgrading the class code to the unresolved
// external variant when the chain bottoms out at a conservatively assumed
// symbol: the fix then is supplying a summary, not editing bodies.
func (c *Checker) build(node *callgraph.Node, code Code, axis, observed, declared, message string, chain blame.Chain) Violation {
	t := chain.Terminal
	if t.Kind == blame.TerminalExternal && t.Origin == effects.OriginConservative {
		code = CodeUnresolvedExternal
		message = fmt.Sprintf("%s: effect originates in unverified external dependency %s", message, t.Symbol)
	}
	return Violation{
		Code:     code,
		Function: node.ID,
		Axis:     axis,
		Observed: observed,
		Declared: declared,
		Span:     node.Fn.Span,
		Message:  message,
		Chain:    chain,
		Asserted: chain.CrossedAsserted,
	}
}

// namedCycle renders one elementary cycle through id's component, preferring
// a cycle that passes through id itself.
func (c *Checker) namedCycle(id pir.FuncID) string {
	comp := c.cond.ComponentOf(id)
	if comp == nil || !comp.Recursive {
		return ""
	}
	cycles := c.cond.ComponentCycles(comp)
	if len(cycles) == 0 {
		return ""
	}
	pick := cycles[0]
	for _, cy := range cycles {
		if funcutil.Contains(cy, id) {
			pick = cy
			break
		}
	}
	names := make([]string, len(pick))
	for i, f := range pick {
		names[i] = string(f)
	}
	return strings.Join(names, " -> ")
}

// Unresolved reports the distinct external symbols behind unresolved-external
// violations, sorted, for the driver's summary statistics.
func Unresolved(vs []Violation) []pir.SymbolID {
	seen := make(map[pir.SymbolID]bool)
	for _, v := range vs {
		if v.Code == CodeUnresolvedExternal {
			seen[v.Chain.Terminal.Symbol] = true
		}
	}
	return funcutil.SetToOrderedSlice(seen)
}

// CapAlarms truncates the list when the config caps diagnostics.
func CapAlarms(cfg *config.Config, vs []Violation, log *config.LogGroup) []Violation {
	if cfg.ExceedsMaxAlarms(len(vs)) {
		log.Warnf("%d violations found, reporting the first %d", len(vs), cfg.MaxAlarms)
		return vs[:cfg.MaxAlarms]
	}
	return vs
}
