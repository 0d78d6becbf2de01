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

// Package solver computes the final effect summary of every function by a
// bottom-up fixpoint over the condensed call graph. Components are processed
// callees-first, so a non-recursive function is solved in one pass over its
// edges; a recursive component iterates its members until their summaries
// stabilize, with widening to keep the iteration inside the lattice's finite
// height.
//
// Summaries publish through atomic pointers: a reader sees a function's
// summary either absent or final, never half-built. That is what lets the
// component DAG solve in parallel without locks around the results.
package solver

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/awslabs/ar-pyrite-tools/analysis/callgraph"
	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/extract"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/analysis/summaries"
)

var (
	// ErrNoConvergence reports a recursive component that failed to stabilize
	// within its iteration bound. Widening makes this unreachable unless the
	// solver itself is wrong.
	ErrNoConvergence = errors.New("recursive component failed to stabilize")

	// ErrDependencyOrder reports a callee summary missing when a caller
	// needed it: the callees-first order was violated.
	ErrDependencyOrder = errors.New("callee summary missing during bottom-up solve")

	// ErrNonMonotone reports a summary update that lost information. Joins
	// can only grow summaries; shrinking means the lattice is broken.
	ErrNonMonotone = errors.New("summary update lost information")
)

// Solver runs the fixpoint. Construct with NewSolver, optionally Prepublish
// cached summaries, then call Solve once.
type Solver struct {
	cond     *callgraph.Condensation
	facts    map[pir.FuncID]extract.Facts
	provider *summaries.Provider
	log      *config.LogGroup

	slack      int
	numWorkers int

	// published is fully keyed at construction; after that, only the atomic
	// values move, so concurrent readers need no lock.
	published map[pir.FuncID]*atomic.Pointer[effects.Summary]
	reused    map[pir.FuncID]bool
}

// NewSolver prepares a solver over the condensation.
func NewSolver(cond *callgraph.Condensation, facts map[pir.FuncID]extract.Facts, provider *summaries.Provider, cfg *config.Config, log *config.LogGroup) *Solver {
	s := &Solver{
		cond:       cond,
		facts:      facts,
		provider:   provider,
		log:        log,
		slack:      cfg.SCCIterationSlack,
		numWorkers: cfg.NumWorkers,
		published:  make(map[pir.FuncID]*atomic.Pointer[effects.Summary]),
		reused:     make(map[pir.FuncID]bool),
	}
	if s.slack <= 0 {
		s.slack = config.DefaultSCCIterationSlack
	}
	for _, id := range cond.Graph.SortedFuncs() {
		s.published[id] = &atomic.Pointer[effects.Summary]{}
	}
	return s
}

// Prepublish installs a cached summary as final before the solve. The
// component containing the function will be skipped if all of its members are
// prepublished.
func (s *Solver) Prepublish(id pir.FuncID, sum effects.Summary) {
	if p, ok := s.published[id]; ok {
		v := sum
		p.Store(&v)
		s.reused[id] = true
	}
}

// Summary returns the published summary of a function, if final.
func (s *Solver) Summary(id pir.FuncID) (effects.Summary, bool) {
	p, ok := s.published[id]
	if !ok {
		return effects.Summary{}, false
	}
	v := p.Load()
	if v == nil {
		return effects.Summary{}, false
	}
	return *v, true
}

// Summaries returns all published summaries. After a successful Solve this
// covers every defined function.
func (s *Solver) Summaries() map[pir.FuncID]effects.Summary {
	out := make(map[pir.FuncID]effects.Summary, len(s.published))
	for id, p := range s.published {
		if v := p.Load(); v != nil {
			out[id] = *v
		}
	}
	return out
}

// Solve computes summaries for every component not already prepublished.
// Any internal error aborts the whole solve; the results are all-or-nothing.
func (s *Solver) Solve() error {
	if s.numWorkers > 1 {
		return s.solveParallel()
	}
	for _, comp := range s.cond.Components {
		skip, err := s.alreadyFinal(comp)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		if err := s.solveComponent(comp); err != nil {
			return err
		}
	}
	return nil
}

// solveParallel schedules components over a worker pool as their callee
// components finish. Results are schedule-independent: a component reads only
// final callee summaries and its own facts.
func (s *Solver) solveParallel() error {
	comps := s.cond.Components
	n := len(comps)
	if n == 0 {
		return nil
	}

	// Component dependencies: a caller component waits for its callees.
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, comp := range comps {
		seen := make(map[int]bool)
		for _, m := range comp.Members {
			for _, e := range s.cond.Graph.Funcs[m].Out {
				if e.Callee == "" {
					continue
				}
				j := s.cond.ComponentOf(e.Callee).Index
				if j != i && !seen[j] {
					seen[j] = true
					indegree[i]++
					dependents[j] = append(dependents[j], i)
				}
			}
		}
	}

	ready := make(chan int, n)
	type outcome struct {
		idx int
		err error
	}
	done := make(chan outcome, n)

	var wg sync.WaitGroup
	for w := 0; w < s.numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range ready {
				comp := comps[idx]
				skip, err := s.alreadyFinal(comp)
				if !skip && err == nil {
					err = s.solveComponent(comp)
				}
				done <- outcome{idx: idx, err: err}
			}
		}()
	}

	inflight := 0
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready <- i
			inflight++
		}
	}

	var firstErr error
	for inflight > 0 {
		r := <-done
		inflight--
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		for _, d := range dependents[r.idx] {
			indegree[d]--
			if indegree[d] == 0 {
				ready <- d
				inflight++
			}
		}
	}
	close(ready)
	wg.Wait()
	return firstErr
}

// alreadyFinal reports whether the whole component was prepublished from the
// cache. A component where only some members are final is an inconsistency
// the cache layer must never produce.
func (s *Solver) alreadyFinal(comp *callgraph.Component) (bool, error) {
	final := 0
	for _, m := range comp.Members {
		if s.published[m].Load() != nil {
			final++
		}
	}
	switch final {
	case 0:
		return false, nil
	case len(comp.Members):
		return true, nil
	}
	return false, fmt.Errorf("%w: component %v is partially cached", ErrDependencyOrder, comp)
}

// solveComponent computes the summaries of one component and publishes them.
func (s *Solver) solveComponent(comp *callgraph.Component) error {
	if !comp.Recursive {
		id := comp.Members[0]
		sum, err := s.compute(id, nil)
		if err != nil {
			return err
		}
		s.publish(id, sum)
		return nil
	}
	return s.solveRecursive(comp)
}

// solveRecursive iterates a recursive component until its members stabilize.
// The first len(members) rounds let finite contributions propagate through
// the component; any axis still growing after that is being fed by the cycle
// itself and widens to Unbounded, which caps the iteration at the lattice
// height. Overrunning the bound anyway means the solver is broken.
func (s *Solver) solveRecursive(comp *callgraph.Component) error {
	members := comp.Members
	bound := len(members) + s.slack

	current := make(map[pir.FuncID]*effects.Summary, len(members))
	for _, m := range members {
		b := effects.Bottom()
		current[m] = &b
	}

	for round := 0; ; round++ {
		if round > bound {
			return fmt.Errorf("%w: %v after %d rounds", ErrNoConvergence, comp, round)
		}
		changed := false
		for _, m := range members {
			next, err := s.compute(m, current)
			if err != nil {
				return err
			}
			old := current[m]
			if err := checkMonotone(m, *old, next); err != nil {
				return err
			}
			if !next.ValuesEqual(*old) {
				changed = true
				if round >= len(members) {
					widen(&next, *old)
				}
			}
			current[m] = &next
		}
		if !changed {
			if round > 0 {
				s.log.Debugf("component %v stabilized after %d rounds", comp, round+1)
			}
			break
		}
	}

	for _, m := range members {
		s.publish(m, *current[m])
	}
	return nil
}

// widen saturates every cost axis that grew since the previous round. The
// effect set needs no widening: it is finite and only unions.
func widen(next *effects.Summary, old effects.Summary) {
	for _, a := range effects.Axes() {
		if next.AxisValue(a) > old.AxisValue(a) {
			next.SetAxisValue(a, effects.Unbounded)
		}
	}
}

// checkMonotone verifies an update only grew. The fixpoint argument depends
// on it, so a violation aborts the analysis instead of producing results.
func checkMonotone(id pir.FuncID, old, next effects.Summary) error {
	if !next.Effects.Contains(old.Effects) {
		return fmt.Errorf("%w: %s lost effects %v", ErrNonMonotone, id, old.Effects)
	}
	for _, a := range effects.Axes() {
		if next.AxisValue(a) < old.AxisValue(a) {
			return fmt.Errorf("%w: %s shrank on %v", ErrNonMonotone, id, a)
		}
	}
	if old.Asserted && !next.Asserted {
		return fmt.Errorf("%w: %s dropped its asserted mark", ErrNonMonotone, id)
	}
	return nil
}

func (s *Solver) publish(id pir.FuncID, sum effects.Summary) {
	v := sum
	s.published[id].Store(&v)
}

// calleeSummary resolves the summary of an in-program callee: the in-flight
// value for a component member mid-iteration, otherwise the published final.
func (s *Solver) calleeSummary(callee pir.FuncID, current map[pir.FuncID]*effects.Summary) (effects.Summary, error) {
	if cur, ok := current[callee]; ok {
		return *cur, nil
	}
	if v := s.published[callee].Load(); v != nil {
		return *v, nil
	}
	return effects.Summary{}, fmt.Errorf("%w: %s", ErrDependencyOrder, callee)
}

// compute evaluates one function's summary from its local facts and the
// summaries of its callees. Edges are walked in body order, which fixes every
// tie-break in the provenance bookkeeping.
func (s *Solver) compute(id pir.FuncID, current map[pir.FuncID]*effects.Summary) (effects.Summary, error) {
	node := s.cond.Graph.Funcs[id]
	local := s.facts[id].Local
	sum := local.Clone()
	frame := effects.Sat(node.Fn.FrameBytes)

	// Largest single contribution per axis, seeded by the local part. The
	// first contribution to saturate an axis freezes its provenance.
	type axisState struct {
		best   effects.Sat
		src    effects.Source
		frozen bool
	}
	track := make(map[effects.Axis]*axisState, 5)
	for _, a := range effects.Axes() {
		st := &axisState{best: local.AxisValue(a), frozen: local.AxisValue(a).IsUnbounded()}
		if seed, ok := local.CostProv[a]; ok {
			st.src = seed
		}
		track[a] = st
	}

	contribute := func(a effects.Axis, amount effects.Sat, src effects.Source) {
		st := track[a]
		if st.frozen {
			return
		}
		before := sum.AxisValue(a)
		var after effects.Sat
		if a == effects.AxisStackBytes || a == effects.AxisMaxCopy {
			after = before.Max(amount)
		} else {
			after = before.Plus(amount)
		}
		sum.SetAxisValue(a, after)
		switch {
		case after.IsUnbounded() && !before.IsUnbounded():
			st.src = src
			st.frozen = true
		case amount > st.best:
			st.best = amount
			st.src = src
		}
	}

	apply := func(callee effects.Summary, freq effects.Sat, src effects.Source) {
		for _, k := range callee.Effects.Slice() {
			sum.RecordEffect(k, src)
		}
		contribute(effects.AxisCycles, callee.Cost.Cycles.Times(freq), src)
		contribute(effects.AxisAllocs, callee.Cost.Allocs.Times(freq), src)
		contribute(effects.AxisSyscalls, callee.Cost.Syscalls.Times(freq), src)
		contribute(effects.AxisStackBytes, frame.Plus(callee.Cost.StackBytes), src)
		contribute(effects.AxisMaxCopy, callee.MaxCopy, src)
		if callee.Asserted {
			sum.Asserted = true
		}
	}

	for _, e := range node.Out {
		switch e.Kind {
		case callgraph.EdgeDirect, callgraph.EdgeVirtual:
			callee, err := s.calleeSummary(e.Callee, current)
			if err != nil {
				return effects.Summary{}, err
			}
			src := effects.EdgeSource(e.Callee, e.Site)
			if s.cond.SameComponent(id, e.Callee) {
				sum.RecordEffect(effects.Recursion, src)
			}
			apply(callee, e.Freq, src)

		case callgraph.EdgeExternal:
			ext := s.cond.Graph.Externals[e.Symbol]
			callee, origin := s.provider.Resolve(e.Symbol, ext.Trust, ext.Span)
			src := effects.ExternalSource(e.Symbol, e.Site, origin)
			apply(callee, e.Freq, src)
		}
	}

	for _, a := range effects.Axes() {
		if sum.AxisValue(a) > 0 {
			sum.RecordCostProv(a, track[a].src)
		}
	}
	return sum, nil
}
