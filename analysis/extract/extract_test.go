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

package extract

import (
	"reflect"
	"testing"

	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
)

func newTestExtractor() *Extractor {
	cfg := config.NewDefault()
	return NewExtractor(cfg, config.NewLogGroup(cfg))
}

func fnOf(name string, frame uint64, ops ...pir.Op) *pir.Function {
	return &pir.Function{Name: name, Pkg: "demo", FrameBytes: frame, Ops: ops}
}

func at(line int) pir.Span { return pir.Span{File: "demo.pyr", Line: line} }

func TestFunctionStraightLine(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 64,
		pir.Op{Kind: pir.OpAlloc, Span: at(2), Bytes: 128, Detail: "Box<Frame>"},
		pir.Op{Kind: pir.OpSyscall, Span: at(3), Detail: "write"},
		pir.Op{Kind: pir.OpCompute, Span: at(4)},
	))
	if f.Degraded {
		t.Fatal("should not degrade")
	}
	if !f.Local.Effects.Has(effects.Alloc) || !f.Local.Effects.Has(effects.Syscall) {
		t.Errorf("effects = %v", f.Local.Effects)
	}
	// alloc 30 + syscall 150 + compute 1, under the default model.
	want := effects.Cost{Cycles: 181, Allocs: 1, StackBytes: 64, Syscalls: 1}
	if f.Local.Cost != want {
		t.Errorf("cost = %v, want %v", f.Local.Cost, want)
	}
	src, ok := f.Local.Prov[effects.Alloc]
	if !ok || !src.IsLocal() || src.Evidence.Detail != "Box<Frame>" {
		t.Errorf("alloc provenance = %+v", src)
	}
	if cp, ok := f.Local.CostProv[effects.AxisSyscalls]; !ok || cp.Evidence.Detail != "write" {
		t.Errorf("syscall cost provenance = %+v", cp)
	}
}

func TestFunctionLoopMultipliers(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpLoopEnter, Span: at(1), Bound: 4},
		pir.Op{Kind: pir.OpLoopEnter, Span: at(2), Bound: 5},
		pir.Op{Kind: pir.OpAlloc, Span: at(3), Detail: "inner"},
		pir.Op{Kind: pir.OpLoopExit, Span: at(4)},
		pir.Op{Kind: pir.OpAlloc, Span: at(5), Detail: "outer"},
		pir.Op{Kind: pir.OpLoopExit, Span: at(6)},
	))
	if f.Local.Cost.Allocs != 24 {
		t.Errorf("allocs = %v, want 24", f.Local.Cost.Allocs)
	}
	if f.Evidence[0].Freq != 20 || f.Evidence[1].Freq != 4 {
		t.Errorf("site multipliers = %v, %v", f.Evidence[0].Freq, f.Evidence[1].Freq)
	}
	// The inner site dominates the alloc count, so it seeds provenance.
	if cp := f.Local.CostProv[effects.AxisAllocs]; cp.Evidence == nil || cp.Evidence.Detail != "inner" {
		t.Errorf("alloc cost provenance = %+v", cp)
	}
}

func TestFunctionUnknownBound(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpLoopEnter, Span: at(1)},
		pir.Op{Kind: pir.OpAlloc, Span: at(2)},
		pir.Op{Kind: pir.OpLoopExit, Span: at(3)},
	))
	if !f.Local.Cost.Allocs.IsUnbounded() || !f.Local.Cost.Cycles.IsUnbounded() {
		t.Errorf("unknown bound should saturate: %v", f.Local.Cost)
	}
	if f.Degraded {
		t.Error("an unknown bound is conservative, not degraded")
	}
}

func TestFunctionUnknownBoundNoEffects(t *testing.T) {
	// A loop body that does nothing effectful costs unbounded cycles but
	// zero allocations: zero annihilates the multiplier.
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpLoopEnter, Span: at(1)},
		pir.Op{Kind: pir.OpCompute, Span: at(2)},
		pir.Op{Kind: pir.OpLoopExit, Span: at(3)},
	))
	if f.Local.Cost.Allocs != 0 || f.Local.Cost.Syscalls != 0 {
		t.Errorf("effect-free loop should not count effects: %v", f.Local.Cost)
	}
	if !f.Local.Cost.Cycles.IsUnbounded() {
		t.Errorf("cycles = %v, want unbounded", f.Local.Cost.Cycles)
	}
}

func TestFunctionDegradesOnInvalidOp(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 8,
		pir.Op{Kind: pir.OpCall, Span: at(1), Callee: "demo::g"},
		pir.Op{Kind: pir.OpInvalid, Span: at(2)},
		pir.Op{Kind: pir.OpCall, Span: at(3), Callee: "demo::h"},
	))
	if !f.Degraded {
		t.Fatal("invalid op must degrade the function")
	}
	if f.Local.Cost != effects.TopCost() || !f.Local.MaxCopy.IsUnbounded() {
		t.Errorf("degraded cost should saturate everywhere: %v", f.Local)
	}
	if len(f.Calls) != 2 {
		t.Errorf("call facts must survive degradation: %v", f.Calls)
	}
	want := effects.NewSet(effects.Alloc, effects.Copy, effects.Syscall, effects.Panic)
	if f.Local.Effects != want {
		t.Errorf("degraded effects = %v, want %v", f.Local.Effects, want)
	}
	if src := f.Local.Prov[effects.Alloc]; src.Evidence == nil || src.Evidence.Span.Line != 2 {
		t.Errorf("degradation should blame the offending op: %+v", src)
	}
}

func TestFunctionDegradesOnUnbalancedLoops(t *testing.T) {
	e := newTestExtractor()
	for _, ops := range [][]pir.Op{
		{{Kind: pir.OpLoopExit, Span: at(1)}},
		{{Kind: pir.OpLoopEnter, Span: at(1), Bound: 2}},
	} {
		if f := e.Function(fnOf("f", 0, ops...)); !f.Degraded {
			t.Errorf("unbalanced markers should degrade: %v", ops)
		}
	}
}

func TestFunctionSelfCall(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpCall, Span: at(1), Callee: "demo::f"},
	))
	if !f.Local.Effects.Has(effects.Recursion) {
		t.Errorf("direct self-call should record recursion: %v", f.Local.Effects)
	}
	if len(f.Calls) != 1 || f.Calls[0].Callee != "demo::f" {
		t.Errorf("self edge missing: %v", f.Calls)
	}
}

func TestFunctionVirtualCall(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpCallVirtual, Span: at(1), Method: "Writer::write"},
	))
	if !f.Local.Effects.Has(effects.DynamicDispatch) {
		t.Errorf("virtual call should record dynamic dispatch: %v", f.Local.Effects)
	}
	if len(f.Calls) != 1 || f.Calls[0].Method != "Writer::write" {
		t.Errorf("virtual call fact = %v", f.Calls)
	}
}

func TestFunctionCopyWidths(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpCopy, Span: at(1), Bytes: 512, Detail: "[u8; 512]"},
		pir.Op{Kind: pir.OpCopy, Span: at(2), Bytes: 64},
	))
	if f.Local.MaxCopy != 512 {
		t.Errorf("max copy = %v, want 512", f.Local.MaxCopy)
	}
	// 512/8 + 64/8 cycles under the default model.
	if f.Local.Cost.Cycles != 72 {
		t.Errorf("cycles = %v, want 72", f.Local.Cost.Cycles)
	}
	if cp := f.Local.CostProv[effects.AxisMaxCopy]; cp.Evidence == nil || cp.Evidence.Detail != "[u8; 512]" {
		t.Errorf("max copy provenance = %+v", cp)
	}

	f = e.Function(fnOf("g", 0, pir.Op{Kind: pir.OpCopy, Span: at(1)}))
	if !f.Local.MaxCopy.IsUnbounded() {
		t.Errorf("unknown width should be unbounded: %v", f.Local.MaxCopy)
	}
}

func TestFunctionClosureEnvironment(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpClosure, Span: at(1), Captures: 3},
		pir.Op{Kind: pir.OpClosure, Span: at(2)},
	))
	if f.Local.Cost.Allocs != 1 {
		t.Errorf("only the capturing closure allocates: %v", f.Local.Cost.Allocs)
	}
	src := f.Local.Prov[effects.Alloc]
	if src.Evidence == nil || src.Evidence.Detail != "closure environment" || src.Evidence.Bytes != 24 {
		t.Errorf("closure evidence = %+v", src.Evidence)
	}
}

func TestFunctionFrontEndCycleEstimateWins(t *testing.T) {
	e := newTestExtractor()
	f := e.Function(fnOf("f", 0,
		pir.Op{Kind: pir.OpAlloc, Span: at(1), Cycles: 7},
	))
	if f.Local.Cost.Cycles != 7 {
		t.Errorf("cycles = %v, want the front-end estimate 7", f.Local.Cost.Cycles)
	}
}

func TestProgramSkipsExternsAndIsDeterministic(t *testing.T) {
	prog := pir.NewProgram()
	unit := &pir.Unit{Name: "demo"}
	unit.Functions = append(unit.Functions,
		fnOf("a", 16, pir.Op{Kind: pir.OpAlloc, Span: at(1)}),
		fnOf("b", 16, pir.Op{Kind: pir.OpSyscall, Span: at(2)}),
		&pir.Function{Name: "ext", Pkg: "demo", Extern: true, Symbol: "libc::ext"},
	)
	if err := prog.AddUnit(unit); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewDefault()
	log := config.NewLogGroup(cfg)
	serial := NewExtractor(cfg, log)
	serial.numWorkers = 1
	parallel := NewExtractor(cfg, log)
	parallel.numWorkers = 4

	got := parallel.Program(prog)
	if _, ok := got["demo::ext"]; ok {
		t.Error("externs have no body to extract")
	}
	if len(got) != 2 {
		t.Fatalf("extracted %d functions, want 2", len(got))
	}
	if !reflect.DeepEqual(got, serial.Program(prog)) {
		t.Error("results must not depend on worker count")
	}
}
