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

package solver_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/awslabs/ar-pyrite-tools/analysis/callgraph"
	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/extract"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/analysis/solver"
	"github.com/awslabs/ar-pyrite-tools/analysis/summaries"
)

func fn(name string, frame uint64, ops ...pir.Op) *pir.Function {
	return &pir.Function{Name: name, Pkg: "demo", FrameBytes: frame, Ops: ops}
}

func extern(name string, symbol pir.SymbolID, attrs ...string) *pir.Function {
	return &pir.Function{Name: name, Pkg: "demo", Extern: true, Symbol: symbol, Attrs: attrs}
}

func at(line int) pir.Span { return pir.Span{File: "demo.pyr", Line: line} }

func buildSolver(t *testing.T, cfg *config.Config, methods map[string][]pir.FuncID, fns ...*pir.Function) (*solver.Solver, *summaries.Provider) {
	t.Helper()
	prog := pir.NewProgram()
	if err := prog.AddUnit(&pir.Unit{Name: "demo", Functions: fns, Methods: methods}); err != nil {
		t.Fatal(err)
	}
	log := config.NewLogGroup(cfg)
	facts := extract.NewExtractor(cfg, log).Program(prog)
	g, err := callgraph.Build(prog, facts, log)
	if err != nil {
		t.Fatal(err)
	}
	cond, err := callgraph.Condense(g)
	if err != nil {
		t.Fatal(err)
	}
	prov, err := summaries.NewProvider(cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	return solver.NewSolver(cond, facts, prov, cfg, log), prov
}

func runSolver(t *testing.T, methods map[string][]pir.FuncID, fns ...*pir.Function) (*solver.Solver, *summaries.Provider) {
	t.Helper()
	s, prov := buildSolver(t, config.NewDefault(), methods, fns...)
	if err := s.Solve(); err != nil {
		t.Fatal(err)
	}
	return s, prov
}

func summaryOf(t *testing.T, s *solver.Solver, id pir.FuncID) effects.Summary {
	t.Helper()
	sum, ok := s.Summary(id)
	if !ok {
		t.Fatalf("no summary published for %s", id)
	}
	return sum
}

func TestSolveLinearChain(t *testing.T) {
	s, _ := runSolver(t, nil,
		fn("helper", 64,
			pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 16},
			pir.Op{Kind: pir.OpSyscall, Span: at(2), Detail: "write"},
		),
		fn("main", 32,
			pir.Op{Kind: pir.OpCall, Span: at(3), Callee: "demo::helper"},
		),
	)

	helper := summaryOf(t, s, "demo::helper")
	if got := helper.Cost; got.Cycles != 180 || got.Allocs != 1 || got.Syscalls != 1 || got.StackBytes != 64 {
		t.Errorf("helper cost = %v", got)
	}
	if !helper.CostProv[effects.AxisCycles].IsOwnBody() {
		t.Errorf("helper cycles provenance should stay own-body: %+v", helper.CostProv[effects.AxisCycles])
	}

	main := summaryOf(t, s, "demo::main")
	want := effects.NewSet(effects.Alloc, effects.Syscall)
	if main.Effects != want {
		t.Errorf("main effects = %v, want %v", main.Effects, want)
	}
	if got := main.Cost; got.Cycles != 185 || got.Allocs != 1 || got.Syscalls != 1 || got.StackBytes != 96 {
		t.Errorf("main cost = %v", got)
	}

	// The effect flowed in over the call edge, and the site names the call.
	src := main.Prov[effects.Alloc]
	if !src.IsEdge() || src.Callee != "demo::helper" || src.Site == nil || src.Site.Line != 3 {
		t.Errorf("main alloc provenance = %+v", src)
	}
	// The callee dominates main's cycles, so the axis blames the edge.
	if cp := main.CostProv[effects.AxisCycles]; !cp.IsEdge() || cp.Callee != "demo::helper" {
		t.Errorf("main cycles provenance = %+v", cp)
	}
	if cp := main.CostProv[effects.AxisStackBytes]; !cp.IsEdge() {
		t.Errorf("main stack provenance = %+v", cp)
	}
}

func TestSolveLoopScalesCallFrequency(t *testing.T) {
	s, _ := runSolver(t, nil,
		fn("helper", 64,
			pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 16},
			pir.Op{Kind: pir.OpSyscall, Span: at(2)},
		),
		fn("main", 32,
			pir.Op{Kind: pir.OpLoopEnter, Span: at(3), Bound: 10},
			pir.Op{Kind: pir.OpCall, Span: at(4), Callee: "demo::helper"},
			pir.Op{Kind: pir.OpLoopExit, Span: at(5)},
		),
	)

	main := summaryOf(t, s, "demo::main")
	if got := main.Cost; got.Cycles != 50+10*180 || got.Allocs != 10 || got.Syscalls != 10 {
		t.Errorf("main cost = %v", got)
	}
	// Stack does not multiply with the loop: frames pop between iterations.
	if main.Cost.StackBytes != 96 {
		t.Errorf("main stack = %v, want 96", main.Cost.StackBytes)
	}
}

func TestSolveExternalResolution(t *testing.T) {
	s, prov := runSolver(t, nil,
		extern("write", "libc::write", "trusted(effects=[syscall], syscalls=1, cycles=200)"),
		fn("main", 32,
			pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::write"},
			pir.Op{Kind: pir.OpCallExtern, Span: at(3), Symbol: "mystery::x"},
		),
	)

	main := summaryOf(t, s, "demo::main")
	// The unresolved external poisons every axis and every effect kind.
	if main.Effects != effects.AllKinds {
		t.Errorf("main effects = %v, want all kinds", main.Effects)
	}
	for _, a := range effects.Axes() {
		if !main.AxisValue(a).IsUnbounded() {
			t.Errorf("axis %v should be unbounded", a)
		}
	}
	if !main.Asserted {
		t.Error("main should carry the asserted mark from the trusted declaration")
	}

	// The syscall kind arrived first from the trusted symbol.
	src := main.Prov[effects.Syscall]
	if !src.IsExternal() || src.Symbol != "libc::write" || src.Origin != effects.OriginAttribute {
		t.Errorf("syscall provenance = %+v", src)
	}
	if src.Site == nil || src.Site.Line != 2 {
		t.Errorf("syscall provenance site = %+v", src.Site)
	}
	// The alloc kind only ever came from the conservative top.
	if src := main.Prov[effects.Alloc]; src.Origin != effects.OriginConservative || src.Symbol != "mystery::x" {
		t.Errorf("alloc provenance = %+v", src)
	}
	// The first contribution to saturate cycles freezes that axis's blame.
	if cp := main.CostProv[effects.AxisCycles]; cp.Symbol != "mystery::x" {
		t.Errorf("cycles provenance = %+v", cp)
	}

	if got := prov.Unresolved(); len(got) != 1 || got[0] != "mystery::x" {
		t.Errorf("unresolved = %v", got)
	}
}

func TestSolveSelfRecursionWidens(t *testing.T) {
	s, _ := runSolver(t, nil,
		fn("f", 16,
			pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 8},
			pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::f"},
		),
	)

	f := summaryOf(t, s, "demo::f")
	if !f.Effects.Has(effects.Recursion) || !f.Effects.Has(effects.Alloc) {
		t.Errorf("effects = %v", f.Effects)
	}
	// Each recursive level allocates and pushes a frame, so those axes
	// saturate; nothing in the cycle performs a syscall, so that axis stays
	// exactly zero.
	if !f.Cost.Allocs.IsUnbounded() || !f.Cost.Cycles.IsUnbounded() || !f.Cost.StackBytes.IsUnbounded() {
		t.Errorf("cost = %v", f.Cost)
	}
	if f.Cost.Syscalls != 0 || f.MaxCopy != 0 {
		t.Errorf("syscalls = %v, maxcopy = %v, want both 0", f.Cost.Syscalls, f.MaxCopy)
	}
	// The extractor's own self-call evidence wins over the solver's edge.
	if src := f.Prov[effects.Recursion]; !src.IsLocal() {
		t.Errorf("recursion provenance = %+v", src)
	}
}

func TestSolveMutualRecursion(t *testing.T) {
	s, _ := runSolver(t, nil,
		fn("p", 8,
			pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 16},
			pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::q"},
		),
		fn("q", 8,
			pir.Op{Kind: pir.OpCall, Span: at(5), Callee: "demo::p"},
		),
	)

	p := summaryOf(t, s, "demo::p")
	q := summaryOf(t, s, "demo::q")
	for name, sum := range map[string]effects.Summary{"p": p, "q": q} {
		if !sum.Effects.Has(effects.Recursion) || !sum.Effects.Has(effects.Alloc) {
			t.Errorf("%s effects = %v", name, sum.Effects)
		}
		if !sum.Cost.Allocs.IsUnbounded() || !sum.Cost.StackBytes.IsUnbounded() {
			t.Errorf("%s cost = %v", name, sum.Cost)
		}
		if sum.Cost.Syscalls != 0 || sum.MaxCopy != 0 {
			t.Errorf("%s has phantom syscalls or copies: %v", name, sum)
		}
	}

	// q never allocates itself: the kind must blame the edge into p, at q's
	// call site, so a blame chain can walk q -> p -> evidence.
	src := q.Prov[effects.Alloc]
	if !src.IsEdge() || src.Callee != "demo::p" || src.Site == nil || src.Site.Line != 5 {
		t.Errorf("q alloc provenance = %+v", src)
	}
	if src := p.Prov[effects.Alloc]; !src.IsLocal() {
		t.Errorf("p alloc provenance = %+v", src)
	}
	if src := q.Prov[effects.Recursion]; !src.IsEdge() {
		t.Errorf("q recursion provenance = %+v", src)
	}
}

func TestSolveRecursionKeepsFiniteAxes(t *testing.T) {
	// Zero-frame mutual recursion over a trusted external with a known stack
	// bound: cycles diverge around the cycle, but the stack fixpoint is finite
	// and must not be widened away during propagation.
	s, _ := runSolver(t, nil,
		extern("probe", "rt::probe", "trusted(effects=[], stack_bytes=40)"),
		fn("p", 0,
			pir.Op{Kind: pir.OpCall, Span: at(1), Callee: "demo::q"},
			pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::probe"},
		),
		fn("q", 0,
			pir.Op{Kind: pir.OpCall, Span: at(3), Callee: "demo::p"},
		),
	)

	p := summaryOf(t, s, "demo::p")
	q := summaryOf(t, s, "demo::q")
	if p.Cost.StackBytes != 40 || q.Cost.StackBytes != 40 {
		t.Errorf("stack = %v / %v, want 40 / 40", p.Cost.StackBytes, q.Cost.StackBytes)
	}
	if !p.Cost.Cycles.IsUnbounded() || !q.Cost.Cycles.IsUnbounded() {
		t.Errorf("cycles = %v / %v, want unbounded", p.Cost.Cycles, q.Cost.Cycles)
	}
	if !q.Asserted {
		t.Error("asserted mark should propagate through the component")
	}
}

func TestSolveEffectPropagationDepth(t *testing.T) {
	s, _ := runSolver(t, nil,
		fn("a", 0, pir.Op{Kind: pir.OpCall, Span: at(1), Callee: "demo::b"}),
		fn("b", 0, pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::c"}),
		fn("c", 0, pir.Op{Kind: pir.OpCall, Span: at(3), Callee: "demo::d"}),
		fn("d", 0, pir.Op{Kind: pir.OpPanic, Span: at(4), Detail: "unwrap"}),
	)

	a := summaryOf(t, s, "demo::a")
	if !a.Effects.Has(effects.Panic) {
		t.Fatalf("panic should propagate up the chain: %v", a.Effects)
	}
	if src := a.Prov[effects.Panic]; !src.IsEdge() || src.Callee != "demo::b" {
		t.Errorf("a panic provenance = %+v", src)
	}
	if a.Effects.Has(effects.Recursion) {
		t.Error("no recursion in a straight chain")
	}
}

func TestSolvePrepublishedSummariesAreReused(t *testing.T) {
	s, _ := buildSolver(t, config.NewDefault(), nil,
		fn("helper", 64, pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 16}),
		fn("main", 32, pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::helper"}),
	)

	cached := effects.Bottom()
	cached.Effects = effects.NewSet(effects.Alloc)
	cached.Cost.Allocs = 7
	s.Prepublish("demo::helper", cached)
	if err := s.Solve(); err != nil {
		t.Fatal(err)
	}

	helper := summaryOf(t, s, "demo::helper")
	if helper.Cost.Allocs != 7 {
		t.Errorf("prepublished summary was recomputed: %v", helper.Cost)
	}
	main := summaryOf(t, s, "demo::main")
	if main.Cost.Allocs != 7 {
		t.Errorf("caller should see the cached callee: %v", main.Cost)
	}
}

func TestSolvePartiallyCachedComponentFails(t *testing.T) {
	s, _ := buildSolver(t, config.NewDefault(), nil,
		fn("p", 8, pir.Op{Kind: pir.OpCall, Span: at(1), Callee: "demo::q"}),
		fn("q", 8, pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::p"}),
	)
	s.Prepublish("demo::p", effects.Bottom())
	err := s.Solve()
	if !errors.Is(err, solver.ErrDependencyOrder) {
		t.Errorf("partially cached component should abort the solve, got %v", err)
	}
}

func TestSolveParallelMatchesSequential(t *testing.T) {
	methods := map[string][]pir.FuncID{
		"Shape::area": {"demo::sq", "demo::ci"},
	}
	program := []*pir.Function{
		extern("write", "libc::write", "trusted(effects=[syscall], syscalls=1, cycles=200)"),
		fn("sq", 16, pir.Op{Kind: pir.OpCopy, Span: at(1), Bytes: 128, Detail: "[u8; 128]"}),
		fn("ci", 16, pir.Op{Kind: pir.OpCompute, Span: at(2), Cycles: 9}),
		fn("p", 8,
			pir.Op{Kind: pir.OpAlloc, Span: at(3), Bytes: 16},
			pir.Op{Kind: pir.OpCall, Span: at(4), Callee: "demo::q"},
		),
		fn("q", 8, pir.Op{Kind: pir.OpCall, Span: at(5), Callee: "demo::p"}),
		fn("helper", 64, pir.Op{Kind: pir.OpCall, Span: at(6), Callee: "demo::p"}),
		fn("main", 32,
			pir.Op{Kind: pir.OpLoopEnter, Span: at(7), Bound: 4},
			pir.Op{Kind: pir.OpCall, Span: at(8), Callee: "demo::helper"},
			pir.Op{Kind: pir.OpLoopExit, Span: at(9)},
			pir.Op{Kind: pir.OpCallVirtual, Span: at(10), Method: "Shape::area"},
			pir.Op{Kind: pir.OpCall, Span: at(11), Callee: "demo::write"},
			pir.Op{Kind: pir.OpCallExtern, Span: at(12), Symbol: "wild::x"},
		),
	}

	solve := func(workers int) map[pir.FuncID]effects.Summary {
		cfg := config.NewDefault()
		cfg.NumWorkers = workers
		s, _ := buildSolver(t, cfg, methods, program...)
		if err := s.Solve(); err != nil {
			t.Fatal(err)
		}
		return s.Summaries()
	}

	sequential := solve(1)
	for run := 0; run < 3; run++ {
		parallel := solve(4)
		if !reflect.DeepEqual(sequential, parallel) {
			t.Fatalf("parallel solve diverged on run %d", run)
		}
	}
}
