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

// Package analysis drives the contract verification passes: it loads
// front-end bundles, extracts local effect facts, builds and condenses the
// call graph, solves for whole-program summaries, and checks declared
// contracts. Consumers call Verify and read the structured result; contract
// violations are data, never errors.
package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/awslabs/ar-pyrite-tools/analysis/callgraph"
	"github.com/awslabs/ar-pyrite-tools/analysis/checker"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/extract"
	"github.com/awslabs/ar-pyrite-tools/analysis/incremental"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/analysis/solver"
	"github.com/awslabs/ar-pyrite-tools/analysis/summaries"
)

// ErrInternal marks failures of the analysis itself, as opposed to findings
// about the program under analysis. Callers distinguish it with errors.Is;
// the CLI maps it to its own exit code. Anything wrapped in it is a bug in
// the front-end hand-off or in this analyzer, so no partial results escape.
var ErrInternal = errors.New("internal analysis failure")

// internalErr tags an internal failure while keeping the cause inspectable
// through errors.Is.
func internalErr(err error) error {
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

// VerifyResult is everything one verification run produced: the contract
// violations with their blame chains, the final per-function summaries, the
// asserted-not-verified audit inventory, the cache manifest for the build
// driver, and counting statistics.
type VerifyResult struct {
	Violations []checker.Violation
	Summaries  map[pir.FuncID]effects.Summary
	Audit      []summaries.Record
	Manifest   incremental.Manifest
	Stats      Stats
}

// Verify runs the whole pipeline over the state's program: extraction, call
// graph construction, condensation, cache fingerprinting, the fixpoint solve
// with cached summaries pre-published, contract checking, and the cache
// commit. The error is non-nil only for internal failures (wrapped
// ErrInternal) and for attribute forms the front-end should have rejected;
// violations never surface as errors.
func Verify(state *State) (VerifyResult, error) {
	state.Logger.Infof("Starting effect fact extraction ...")
	start := time.Now()
	extractor := extract.NewExtractor(state.Config, state.Logger)
	facts := extractor.Program(state.Program)
	state.Logger.Infof("Extraction done (%.2f s).", time.Since(start).Seconds())

	state.Logger.Infof("Building the call graph ...")
	start = time.Now()
	g, err := callgraph.Build(state.Program, facts, state.Logger)
	if err != nil {
		// Malformed attributes reach us only if the front-end skipped its own
		// validation.
		return VerifyResult{}, internalErr(err)
	}
	cond, err := callgraph.Condense(g)
	if err != nil {
		return VerifyResult{}, internalErr(err)
	}
	state.Logger.Infof("Call graph built: %d functions, %d edges, %d components (%.2f s).",
		len(g.Funcs), g.NumEdges(), len(cond.Components), time.Since(start).Seconds())

	state.Logger.Infof("Solving effect summaries ...")
	start = time.Now()
	state.Cache.Fingerprint(cond, facts, state.Provider)
	slv := solver.NewSolver(cond, facts, state.Provider, state.Config, state.Logger)
	reusable := state.Cache.Reusable()
	for id, sum := range reusable {
		slv.Prepublish(id, sum)
	}
	if len(reusable) > 0 {
		state.Logger.Infof("Reusing %d cached summaries.", len(reusable))
	}
	if err := slv.Solve(); err != nil {
		return VerifyResult{}, internalErr(err)
	}
	sums := slv.Summaries()
	state.Logger.Infof("Solve done (%.2f s).", time.Since(start).Seconds())

	state.Logger.Infof("Checking contracts ...")
	start = time.Now()
	violations, err := checker.New(cond, sums, state.Logger).Check()
	if err != nil {
		return VerifyResult{}, internalErr(err)
	}
	violations = filterByPkg(state, g, violations)
	violations = checker.CapAlarms(state.Config, violations, state.Logger)
	state.Logger.Infof("Checking done, %d violation(s) (%.2f s).",
		len(violations), time.Since(start).Seconds())

	manifest := state.Cache.Commit(sums)
	if err := state.Cache.Flush(); err != nil {
		// A cache that cannot be written costs the next run its reuse, nothing
		// more.
		state.Logger.Errorf("Could not write the summary cache: %v", err)
	}
	state.Logger.Infof("Cache manifest: %s.", manifest)

	result := VerifyResult{
		Violations: violations,
		Summaries:  sums,
		Audit:      state.Provider.Audit(),
		Manifest:   manifest,
		Stats:      ComputeStats(state.Program, cond),
	}
	reportResults(state, result)
	return result, nil
}

// filterByPkg drops violations outside the configured package filter.
// Summaries are still computed for everything; only the reporting narrows.
func filterByPkg(state *State, g *callgraph.Graph, vs []checker.Violation) []checker.Violation {
	if state.Config.PkgFilter == "" {
		return vs
	}
	var kept []checker.Violation
	for _, v := range vs {
		node, ok := g.Funcs[v.Function]
		if ok && state.Config.MatchPkgFilter(node.Fn.Pkg) {
			kept = append(kept, v)
		}
	}
	if n := len(vs) - len(kept); n > 0 {
		state.Logger.Debugf("package filter %q hid %d violation(s)", state.Config.PkgFilter, n)
	}
	return kept
}
