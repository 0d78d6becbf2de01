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

package incremental_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/awslabs/ar-pyrite-tools/analysis/callgraph"
	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/extract"
	"github.com/awslabs/ar-pyrite-tools/analysis/incremental"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/analysis/solver"
	"github.com/awslabs/ar-pyrite-tools/analysis/summaries"
)

func fn(name string, ops ...pir.Op) *pir.Function {
	return &pir.Function{Name: name, Pkg: "demo", FrameBytes: 16, Ops: ops}
}

func at(line int) pir.Span { return pir.Span{File: "demo.pyr", Line: line} }

// verify runs the cached pipeline the way the driver does and returns the
// manifest plus the final summaries.
func verify(t *testing.T, cfg *config.Config, path string, fns ...*pir.Function) (incremental.Manifest, map[pir.FuncID]effects.Summary) {
	t.Helper()
	prog := pir.NewProgram()
	if err := prog.AddUnit(&pir.Unit{Name: "demo", Functions: fns}); err != nil {
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

	cache := incremental.Open(path, cfg.CostModel, log)
	cache.Fingerprint(cond, facts, prov)
	s := solver.NewSolver(cond, facts, prov, cfg, log)
	for id, sum := range cache.Reusable() {
		s.Prepublish(id, sum)
	}
	if err := s.Solve(); err != nil {
		t.Fatal(err)
	}
	manifest := cache.Commit(s.Summaries())
	if err := cache.Flush(); err != nil {
		t.Fatal(err)
	}
	return manifest, s.Summaries()
}

func baseProgram() []*pir.Function {
	return []*pir.Function{
		fn("leaf", pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 8}),
		fn("helper", pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::leaf"}),
		fn("main", pir.Op{Kind: pir.OpCall, Span: at(3), Callee: "demo::helper"}),
		fn("bystander", pir.Op{Kind: pir.OpSyscall, Span: at(4)}),
	}
}

func TestColdStartThenFullReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.json")
	cfg := config.NewDefault()

	first, sums1 := verify(t, cfg, path, baseProgram()...)
	if len(first.Reused) != 0 || len(first.Recomputed) != 4 || len(first.Invalidated) != 0 {
		t.Fatalf("cold manifest = %v", first)
	}

	second, sums2 := verify(t, cfg, path, baseProgram()...)
	if len(second.Reused) != 4 || len(second.Recomputed) != 0 || len(second.Invalidated) != 0 {
		t.Fatalf("warm manifest = %v", second)
	}
	if !reflect.DeepEqual(sums1, sums2) {
		t.Error("reused summaries differ from computed ones")
	}
}

func TestLocalChangeInvalidatesTransitiveCallers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.json")
	cfg := config.NewDefault()
	verify(t, cfg, path, baseProgram()...)

	changed := baseProgram()
	changed[0] = fn("leaf",
		pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 8},
		pir.Op{Kind: pir.OpSyscall, Span: at(9), Detail: "log"},
	)
	manifest, sums := verify(t, cfg, path, changed...)

	if got := manifest.Reused; len(got) != 1 || got[0] != "demo::bystander" {
		t.Errorf("reused = %v, want only the bystander", got)
	}
	wantInvalid := []pir.FuncID{"demo::helper", "demo::leaf", "demo::main"}
	if !reflect.DeepEqual(manifest.Invalidated, wantInvalid) {
		t.Errorf("invalidated = %v, want %v", manifest.Invalidated, wantInvalid)
	}
	// The new effect actually flowed to the recomputed root.
	if !sums["demo::main"].Effects.Has(effects.Syscall) {
		t.Error("recomputation did not propagate the new effect")
	}
}

func TestRecursiveComponentReusesAsUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.json")
	cfg := config.NewDefault()
	program := func(qLine int) []*pir.Function {
		return []*pir.Function{
			fn("p",
				pir.Op{Kind: pir.OpAlloc, Span: at(1), Bytes: 8},
				pir.Op{Kind: pir.OpCall, Span: at(2), Callee: "demo::q"},
			),
			fn("q", pir.Op{Kind: pir.OpCall, Span: at(qLine), Callee: "demo::p"}),
			fn("bystander", pir.Op{Kind: pir.OpSyscall, Span: at(7)}),
		}
	}

	verify(t, cfg, path, program(5)...)
	warm, _ := verify(t, cfg, path, program(5)...)
	if len(warm.Reused) != 3 {
		t.Fatalf("warm manifest = %v", warm)
	}

	// Touching one member must recompute the whole component.
	touched, _ := verify(t, cfg, path, program(6)...)
	if got := touched.Reused; len(got) != 1 || got[0] != "demo::bystander" {
		t.Errorf("reused = %v", got)
	}
	wantInvalid := []pir.FuncID{"demo::p", "demo::q"}
	if !reflect.DeepEqual(touched.Invalidated, wantInvalid) {
		t.Errorf("invalidated = %v, want %v", touched.Invalidated, wantInvalid)
	}
}

func TestCostModelChangeStartsCold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.json")
	cfg := config.NewDefault()
	verify(t, cfg, path, baseProgram()...)

	cfg2 := config.NewDefault()
	cfg2.CostModel.AllocCycles = 99
	manifest, _ := verify(t, cfg2, path, baseProgram()...)
	if len(manifest.Reused) != 0 {
		t.Errorf("cost model change must discard the cache, reused = %v", manifest.Reused)
	}
}

func TestTrustConfigChangeInvalidatesCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.json")
	program := []*pir.Function{
		fn("f", pir.Op{Kind: pir.OpCallExtern, Span: at(2), Symbol: "vendor::mix"}),
		fn("bystander", pir.Op{Kind: pir.OpSyscall, Span: at(4)}),
	}

	verify(t, config.NewDefault(), path, program...)

	cfg := config.NewDefault()
	cfg.Trusted = []config.TrustEntry{{Symbol: "vendor::mix", Pure: true}}
	manifest, sums := verify(t, cfg, path, program...)
	if got := manifest.Reused; len(got) != 1 || got[0] != "demo::bystander" {
		t.Errorf("reused = %v", got)
	}
	if sums["demo::f"].IsTop() {
		t.Error("the new trust entry should have replaced the conservative top")
	}
}

func TestCorruptOrMissingCacheStartsCold(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefault()
	log := config.NewLogGroup(cfg)

	missing := incremental.Open(filepath.Join(dir, "nope.json"), cfg.CostModel, log)
	if len(missing.Reusable()) != 0 {
		t.Error("missing file must start cold")
	}

	corrupt := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	manifest, _ := verify(t, cfg, corrupt, baseProgram()...)
	if len(manifest.Reused) != 0 || len(manifest.Recomputed) != 4 {
		t.Errorf("corrupt cache manifest = %v", manifest)
	}

	skewed := filepath.Join(dir, "skew.json")
	if err := os.WriteFile(skewed, []byte(`{"version": 99, "cost_model": "x", "entries": {}}`), 0644); err != nil {
		t.Fatal(err)
	}
	manifest, _ = verify(t, cfg, skewed, baseProgram()...)
	if len(manifest.Reused) != 0 {
		t.Errorf("version skew manifest = %v", manifest)
	}
}

func TestDisabledCacheStillReportsManifest(t *testing.T) {
	manifest, _ := verify(t, config.NewDefault(), "", baseProgram()...)
	if len(manifest.Recomputed) != 4 || len(manifest.Reused) != 0 {
		t.Errorf("manifest = %v", manifest)
	}
	if manifest.String() != "reused 0, recomputed 4, invalidated 0" {
		t.Errorf("manifest text = %q", manifest.String())
	}
}
