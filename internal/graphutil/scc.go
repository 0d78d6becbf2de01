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

// tarjan holds the bookkeeping of Tarjan's strongly connected component
// algorithm over nodes of type T.
type tarjan[T comparable] struct {
	index   map[T]int
	lowlink map[T]int
	onStack map[T]bool
	stack   []T
	next    int
	succ    func(T) []T
	sccs    [][]T
}

// StronglyConnectedComponents computes the strongly connected components (SCCs) of the
// directed graph spanned by nodes and the successors function, using Tarjan's algorithm.
// Successors returns the targets of the directed edges out of the given node.
// The order of nodes within an SCC is arbitrary. The order of the SCCs is toposorted
// successors-first: when an edge crosses two components, the callee's component appears
// before the caller's. For summary-based bottom-up algorithms this is exactly the
// processing order, so the result can be consumed directly.
//
// The traversal order is fixed by the order of nodes and of each successors slice;
// identical inputs produce identical outputs.
func StronglyConnectedComponents[T comparable](nodes []T, successors func(T) []T) [][]T {
	s := &tarjan[T]{
		index:   make(map[T]int, len(nodes)),
		lowlink: make(map[T]int, len(nodes)),
		onStack: make(map[T]bool, len(nodes)),
		succ:    successors,
	}
	for _, v := range nodes {
		if _, seen := s.index[v]; !seen {
			s.visit(v)
		}
	}
	return s.sccs
}

func (s *tarjan[T]) visit(v T) {
	s.index[v] = s.next
	s.lowlink[v] = s.next
	s.next++
	s.stack = append(s.stack, v)
	s.onStack[v] = true

	for _, w := range s.succ(v) {
		if _, seen := s.index[w]; !seen {
			s.visit(w)
			if s.lowlink[w] < s.lowlink[v] {
				s.lowlink[v] = s.lowlink[w]
			}
		} else if s.onStack[w] && s.index[w] < s.lowlink[v] {
			s.lowlink[v] = s.index[w]
		}
	}

	if s.lowlink[v] != s.index[v] {
		return
	}
	// v roots a component: pop the stack down to and including v.
	var scc []T
	for {
		w := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		s.onStack[w] = false
		scc = append(scc, w)
		if w == v {
			break
		}
	}
	s.sccs = append(s.sccs, scc)
}
