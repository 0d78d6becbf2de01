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

package graphutil

import (
	"sort"

	"github.com/yourbasic/graph"
)

// FindAllElementaryCycles finds all elementary cycles in the graph.
// This uses Donald B. Johnson's algorithm presented in
// "Finding All The Elementary Circuits of a Directed Graph", 1975.
// Each cycle is reported as a sequence of node ids with the anchor node repeated
// at the end; the anchor is the least id of the cycle. Self-loops are reported
// as two-element cycles. The output order is deterministic.
func FindAllElementaryCycles(g Digraph) [][]int64 {
	s := &cycleState{
		blocked: map[int64]bool{},
		blist:   map[int64]map[int64]bool{},
	}
	for i := 0; i < len(g.Keys); i++ {
		anchor := g.Keys[i]
		sub := Subgraph(g, g.Keys[i:])
		comp := componentOf(sub, anchor)
		if len(comp) >= 2 {
			scc := Subgraph(sub, comp)
			s.stack = s.stack[:0]
			s.blocked = map[int64]bool{}
			s.blist = map[int64]map[int64]bool{}
			s.circuit(anchor, anchor, scc)
		} else if g.Edges[anchor][anchor] {
			// A lone self-loop forms a singleton component the main search skips.
			s.cycles = append(s.cycles, []int64{anchor, anchor})
		}
	}
	return s.cycles
}

// componentOf returns the strongly connected component of g containing v.
func componentOf(g Digraph, v int64) []int64 {
	for _, comp := range graph.StrongComponents(g) {
		for _, w := range comp {
			if int64(w) == v {
				ids := make([]int64, len(comp))
				for j, x := range comp {
					ids[j] = int64(x)
				}
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				return ids
			}
		}
	}
	return nil
}

type cycleState struct {
	blocked map[int64]bool
	blist   map[int64]map[int64]bool
	stack   []int64
	cycles  [][]int64
}

func (s *cycleState) unblock(u int64) {
	s.blocked[u] = false
	for w := range s.blist[u] {
		if s.blocked[w] {
			s.unblock(w)
		}
	}
	delete(s.blist, u)
}

func (s *cycleState) circuit(v int64, anchor int64, g Digraph) bool {
	found := false
	s.stack = append(s.stack, v)
	s.blocked[v] = true
	for _, w := range g.Successors(v) {
		if w == anchor {
			cycle := make([]int64, len(s.stack), len(s.stack)+1)
			copy(cycle, s.stack)
			cycle = append(cycle, w)
			s.cycles = append(s.cycles, cycle)
			found = true
		} else if !s.blocked[w] {
			if s.circuit(w, anchor, g) {
				found = true
			}
		}
	}

	if found {
		s.unblock(v)
	} else {
		for _, w := range g.Successors(v) {
			if m := s.blist[w]; m != nil {
				m[v] = true
			} else {
				s.blist[w] = map[int64]bool{v: true}
			}
		}
	}
	s.stack = s.stack[:len(s.stack)-1]
	return found
}
