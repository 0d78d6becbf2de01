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

// Package extract computes per-function local effect facts from the IR: the
// evidence sites, the call facts for the graph builder, and the function's
// own cost contribution under the configured cost model. The pass is purely
// local; nothing here looks across function boundaries, which is what makes
// it safe to run in parallel and cheap to fingerprint for the cache.
package extract

import (
	"fmt"

	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/internal/funcutil"
)

// CallFact is one call site observed in a function body, with the loop
// multiplier in scope there. The graph builder turns these into edges.
type CallFact struct {
	// Kind is OpCall, OpCallVirtual or OpCallExtern
	Kind pir.OpKind
	// Callee is set for direct calls
	Callee pir.FuncID
	// Method is set for virtual calls
	Method string
	// Symbol is set for external calls
	Symbol pir.SymbolID
	// Site is the call site
	Site pir.Span
	// Freq is the loop multiplier at the site
	Freq effects.Sat
}

// Facts is the local contribution of one function: evidence sites, call
// facts, and the function's own summary before any callee flows in. Degraded
// marks functions whose body contained something the classifier could not
// categorize; their local contribution is the conservative top.
type Facts struct {
	Fn       pir.FuncID
	Evidence []effects.Evidence
	Calls    []CallFact
	Local    effects.Summary
	Degraded bool
}

// Extractor runs the local pass under one cost model.
type Extractor struct {
	model      config.CostModel
	log        *config.LogGroup
	numWorkers int
}

// NewExtractor returns an extractor using the config's cost model and worker
// count.
func NewExtractor(cfg *config.Config, log *config.LogGroup) *Extractor {
	return &Extractor{model: cfg.CostModel, log: log, numWorkers: cfg.NumWorkers}
}

// Program extracts facts for every defined function of the program. Extern
// declarations have no body and are resolved by the summary provider instead.
// The result is keyed by function ID and independent of worker scheduling.
func (e *Extractor) Program(prog *pir.Program) map[pir.FuncID]Facts {
	var fns []*pir.Function
	for _, id := range prog.SortedIDs() {
		if fn := prog.Functions[id]; !fn.Extern {
			fns = append(fns, fn)
		}
	}
	all := funcutil.MapParallel(fns, e.Function, e.numWorkers)
	byID := make(map[pir.FuncID]Facts, len(all))
	for _, f := range all {
		byID[f.Fn] = f
	}
	return byID
}

// Function extracts the local facts of one function body.
func (e *Extractor) Function(fn *pir.Function) Facts {
	id := fn.ID()
	facts := Facts{Fn: id}
	facts.Local.Cost.StackBytes = effects.Sat(fn.FrameBytes)

	// Loop multipliers: freq is the product of the bounds of all open loops,
	// saturating; an unknown bound makes everything under it unbounded.
	freq := effects.Sat(1)
	var enclosing []effects.Sat

	// First unclassifiable thing wins; the walk continues only to collect the
	// remaining call facts.
	degradedAt := pir.Span{}
	degradedWhy := ""
	degrade := func(span pir.Span, why string) {
		if degradedWhy == "" {
			degradedAt, degradedWhy = span, why
		}
	}

	// Dominant-site candidates seeding cost provenance. Cycles get a concrete
	// site only when a single op carries the whole local total; a mixed body
	// stays own-body.
	var allocProv, syscallProv *effects.Evidence
	var allocBest, syscallBest effects.Sat
	var copyProv *effects.Evidence
	var copyBest effects.Sat
	var cyclesProv *effects.Evidence
	cyclesOps := 0

	record := func(ev effects.Evidence) *effects.Evidence {
		facts.Evidence = append(facts.Evidence, ev)
		facts.Local.RecordEffect(ev.Kind, effects.LocalSource(ev))
		return &facts.Evidence[len(facts.Evidence)-1]
	}
	addCost := func(a effects.Axis, v effects.Sat) {
		facts.Local.Cost.SetAxis(a, facts.Local.Cost.Axis(a).Plus(v.Times(freq)))
	}
	addCycles := func(op pir.Op, site *effects.Evidence) {
		c := e.opCycles(op)
		if c == 0 {
			return
		}
		addCost(effects.AxisCycles, c)
		cyclesOps++
		if cyclesOps > 1 {
			site = nil
		}
		cyclesProv = site
	}

	for _, op := range fn.Ops {
		switch op.Kind {
		case pir.OpCall:
			facts.Calls = append(facts.Calls, CallFact{Kind: op.Kind, Callee: op.Callee, Site: op.Span, Freq: freq})
			addCycles(op, nil)
			if op.Callee == id {
				record(effects.Evidence{Kind: effects.Recursion, Span: op.Span, Detail: "direct self-call", Freq: freq})
			}

		case pir.OpCallVirtual:
			facts.Calls = append(facts.Calls, CallFact{Kind: op.Kind, Method: op.Method, Site: op.Span, Freq: freq})
			addCycles(op, nil)
			record(effects.Evidence{Kind: effects.DynamicDispatch, Span: op.Span, Detail: op.Method, Freq: freq})

		case pir.OpCallExtern:
			facts.Calls = append(facts.Calls, CallFact{Kind: op.Kind, Symbol: op.Symbol, Site: op.Span, Freq: freq})
			addCycles(op, nil)

		case pir.OpAlloc:
			ev := record(effects.Evidence{Kind: effects.Alloc, Span: op.Span, Detail: op.Detail, Bytes: effects.Sat(op.Bytes), Freq: freq})
			addCost(effects.AxisAllocs, 1)
			addCycles(op, ev)
			if allocProv == nil || freq > allocBest {
				allocProv, allocBest = ev, freq
			}

		case pir.OpClosure:
			if op.Captures == 0 {
				addCycles(op, nil)
				continue
			}
			bytes := op.Bytes
			if bytes == 0 {
				bytes = uint64(op.Captures) * 8
			}
			ev := record(effects.Evidence{Kind: effects.Alloc, Span: op.Span, Detail: "closure environment", Bytes: effects.Sat(bytes), Freq: freq})
			addCost(effects.AxisAllocs, 1)
			addCycles(op, ev)
			if allocProv == nil || freq > allocBest {
				allocProv, allocBest = ev, freq
			}

		case pir.OpCopy:
			width := effects.Unbounded
			if op.Bytes > 0 {
				width = effects.Sat(op.Bytes)
			}
			ev := record(effects.Evidence{Kind: effects.Copy, Span: op.Span, Detail: op.Detail, Bytes: width, Freq: freq})
			facts.Local.MaxCopy = facts.Local.MaxCopy.Max(width)
			addCycles(op, ev)
			if copyProv == nil || width > copyBest {
				copyProv, copyBest = ev, width
			}

		case pir.OpSyscall:
			ev := record(effects.Evidence{Kind: effects.Syscall, Span: op.Span, Detail: op.Detail, Freq: freq})
			addCost(effects.AxisSyscalls, 1)
			addCycles(op, ev)
			if syscallProv == nil || freq > syscallBest {
				syscallProv, syscallBest = ev, freq
			}

		case pir.OpPanic:
			ev := record(effects.Evidence{Kind: effects.Panic, Span: op.Span, Detail: op.Detail, Freq: freq})
			addCycles(op, ev)

		case pir.OpLoopEnter:
			enclosing = append(enclosing, freq)
			if op.Bound == 0 {
				freq = effects.Unbounded
			} else {
				freq = freq.Times(effects.Sat(op.Bound))
			}

		case pir.OpLoopExit:
			if len(enclosing) == 0 {
				degrade(op.Span, "loop exit without a matching loop entry")
				continue
			}
			freq = enclosing[len(enclosing)-1]
			enclosing = enclosing[:len(enclosing)-1]

		case pir.OpCompute:
			addCycles(op, nil)

		default:
			degrade(op.Span, fmt.Sprintf("unclassifiable operation %v", op.Kind))
		}
	}
	if len(enclosing) > 0 && degradedWhy == "" {
		degrade(fn.Span, "loop entered but never exited")
	}

	if degradedWhy != "" {
		e.log.Warnf("%s: %s; assuming the worst for the whole function", id, degradedWhy)
		return e.degraded(facts, degradedAt, degradedWhy)
	}

	if cyclesProv != nil {
		facts.Local.RecordCostProv(effects.AxisCycles, effects.LocalSource(*cyclesProv))
	}
	if allocProv != nil {
		facts.Local.RecordCostProv(effects.AxisAllocs, effects.LocalSource(*allocProv))
	}
	if syscallProv != nil {
		facts.Local.RecordCostProv(effects.AxisSyscalls, effects.LocalSource(*syscallProv))
	}
	if copyProv != nil {
		facts.Local.RecordCostProv(effects.AxisMaxCopy, effects.LocalSource(*copyProv))
	}
	return facts
}

// degraded replaces the local contribution with the conservative top: every
// value-producing effect kind with synthetic evidence at the offending site,
// unbounded cost on every axis. Call facts survive so the graph keeps its
// edges.
func (e *Extractor) degraded(facts Facts, at pir.Span, why string) Facts {
	out := Facts{Fn: facts.Fn, Calls: facts.Calls, Degraded: true}
	out.Local = effects.Summary{
		Effects: effects.NewSet(effects.Alloc, effects.Copy, effects.Syscall, effects.Panic),
		Cost:    effects.TopCost(),
		MaxCopy: effects.Unbounded,
	}
	for _, k := range []effects.Kind{effects.Alloc, effects.Copy, effects.Syscall, effects.Panic} {
		ev := effects.Evidence{Kind: k, Span: at, Detail: why, Freq: 1}
		if k == effects.Alloc || k == effects.Copy {
			ev.Bytes = effects.Unbounded
		}
		out.Evidence = append(out.Evidence, ev)
		out.Local.RecordEffect(k, effects.LocalSource(ev))
		switch k {
		case effects.Alloc:
			out.Local.RecordCostProv(effects.AxisAllocs, effects.LocalSource(ev))
		case effects.Copy:
			out.Local.RecordCostProv(effects.AxisMaxCopy, effects.LocalSource(ev))
		case effects.Syscall:
			out.Local.RecordCostProv(effects.AxisSyscalls, effects.LocalSource(ev))
		}
	}
	return out
}

// opCycles prices one execution of an op: the front-end's estimate when it
// gave one, otherwise the per-kind model default. A copy of statically
// unknown width prices as unbounded.
func (e *Extractor) opCycles(op pir.Op) effects.Sat {
	if op.Cycles > 0 {
		return effects.Sat(op.Cycles)
	}
	switch op.Kind {
	case pir.OpCall, pir.OpCallVirtual, pir.OpCallExtern:
		return effects.Sat(e.model.CallOverheadCycles)
	case pir.OpAlloc:
		return effects.Sat(e.model.AllocCycles)
	case pir.OpClosure:
		if op.Captures > 0 {
			return effects.Sat(e.model.AllocCycles)
		}
		return effects.Sat(e.model.DefaultOpCycles)
	case pir.OpSyscall:
		return effects.Sat(e.model.SyscallCycles)
	case pir.OpCopy:
		if op.Bytes == 0 {
			return effects.Unbounded
		}
		per := e.model.CopyBytesPerCycle
		if per == 0 {
			per = 1
		}
		if c := op.Bytes / per; c > 0 {
			return effects.Sat(c)
		}
		return 1
	default:
		return effects.Sat(e.model.DefaultOpCycles)
	}
}
