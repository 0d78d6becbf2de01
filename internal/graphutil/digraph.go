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

	"gonum.org/v1/gonum/graph"
)

// Digraph is a directed graph over int64 node ids in [0, order). It satisfies both the
// Iterator interface consumed by yourbasic/graph algorithms and Gonum's graph.Directed,
// so the same structure feeds cycle enumeration and stabilized topological sorting.
//
// Callers keep their own mapping from domain objects to ids; the Digraph knows only ids.
type Digraph struct {
	// order is the number of ids the graph was created with. Subgraphs keep the
	// original order so ids remain consistent across subgraphs.
	order int

	// Keys are the node ids present in this graph, sorted ascending.
	Keys []int64

	// Edges is an adjacency matrix: Edges[x][y] means there is a directed edge x -> y.
	Edges map[int64]map[int64]bool

	// preds is the reverse adjacency of Edges, to answer To queries.
	preds map[int64]map[int64]bool
}

// NewDigraph returns a graph with nodes 0..order-1 and no edges.
func NewDigraph(order int) Digraph {
	keys := make([]int64, order)
	edges := make(map[int64]map[int64]bool, order)
	preds := make(map[int64]map[int64]bool, order)
	for i := 0; i < order; i++ {
		keys[i] = int64(i)
		edges[int64(i)] = map[int64]bool{}
		preds[int64(i)] = map[int64]bool{}
	}
	return Digraph{order: order, Keys: keys, Edges: edges, preds: preds}
}

// AddEdge records the directed edge x -> y. Both ids must be nodes of the graph.
func (c Digraph) AddEdge(x, y int64) {
	c.Edges[x][y] = true
	c.preds[y][x] = true
}

// Subgraph returns a new graph that is the original graph with only the nodes in include.
// Only the edges that have both the origin and destination nodes in the include nodes are
// kept in the resulting graph. The subgraph's order is the same as in the original, so
// node ids stay consistent across subgraphs.
func Subgraph(original Digraph, include []int64) Digraph {
	in := make(map[int64]bool, len(include))
	keys := make([]int64, len(include))
	for j, i := range include {
		keys[j] = i
		in[i] = true
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	edges := make(map[int64]map[int64]bool, len(include))
	preds := make(map[int64]map[int64]bool, len(include))
	for _, i := range keys {
		edges[i] = map[int64]bool{}
		preds[i] = map[int64]bool{}
	}
	for _, i := range keys {
		for e := range original.Edges[i] {
			if in[e] {
				edges[i][e] = true
				preds[e][i] = true
			}
		}
	}

	return Digraph{order: original.order, Keys: keys, Edges: edges, preds: preds}
}

// Successors returns the targets of edges out of v, sorted ascending.
func (c Digraph) Successors(v int64) []int64 {
	var succ []int64
	for w := range c.Edges[v] {
		succ = append(succ, w)
	}
	sort.Slice(succ, func(i, j int) bool { return succ[i] < succ[j] })
	return succ
}

// Order implements the Iterator interface of yourbasic/graph.
func (c Digraph) Order() int {
	return c.order
}

// Visit implements the Iterator interface of yourbasic/graph.
func (c Digraph) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	if _, ok := c.Edges[int64(v)]; !ok {
		return false
	}
	for w := range c.Edges[int64(v)] {
		if do(int(w), 1) {
			return true
		}
	}
	return false
}

// *************** Gonum graph.Directed implementation **********************

// Node returns the node with the given id, or nil if it is not in the graph.
func (c Digraph) Node(id int64) graph.Node {
	if _, ok := c.Edges[id]; !ok {
		return nil
	}
	return VNode(id)
}

// Nodes returns an iterator over all nodes of the graph.
func (c Digraph) Nodes() graph.Nodes {
	ids := make([]int64, len(c.Keys))
	copy(ids, c.Keys)
	return newNodeSet(ids)
}

// From returns an iterator over the direct successors of id.
func (c Digraph) From(id int64) graph.Nodes {
	return newNodeSet(c.Successors(id))
}

// To returns an iterator over the direct predecessors of id.
func (c Digraph) To(id int64) graph.Nodes {
	var ids []int64
	for w := range c.preds[id] {
		ids = append(ids, w)
	}
	return newNodeSet(ids)
}

// HasEdgeBetween reports an edge between the two ids, in either direction.
func (c Digraph) HasEdgeBetween(xid, yid int64) bool {
	return c.Edges[xid][yid] || c.Edges[yid][xid]
}

// HasEdgeFromTo reports a directed edge from uid to vid.
func (c Digraph) HasEdgeFromTo(uid, vid int64) bool {
	return c.Edges[uid][vid]
}

// Edge returns the edge from uid to vid (nil if none exists).
func (c Digraph) Edge(uid, vid int64) graph.Edge {
	if c.Edges[uid][vid] {
		return DEdge{from: VNode(uid), to: VNode(vid)}
	}
	return nil
}

// VNode is a graph node identified purely by its id.
type VNode int64

// ID implements the graph.Node interface.
func (n VNode) ID() int64 { return int64(n) }

// NodeSet implements the graph.Nodes interface, an iterator over a fixed set of node ids.
// The iterator starts before the first node: Next must be called before the first access.
type NodeSet struct {
	ids []int64
	cur int
}

func newNodeSet(ids []int64) *NodeSet {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &NodeSet{ids: ids, cur: -1}
}

// Next moves the iterator to the next node and returns whether one exists.
func (ns *NodeSet) Next() bool {
	if ns.cur+1 < len(ns.ids) {
		ns.cur++
		return true
	}
	return false
}

// Len returns the number of nodes remaining in the iterator.
func (ns *NodeSet) Len() int {
	return len(ns.ids) - ns.cur - 1
}

// Reset returns the iterator to its initial position.
func (ns *NodeSet) Reset() {
	ns.cur = -1
}

// Node returns the current node of the iterator.
func (ns *NodeSet) Node() graph.Node {
	return VNode(ns.ids[ns.cur])
}

// DEdge implements the graph.Edge interface.
type DEdge struct {
	from VNode
	to   VNode
}

// From returns the origin of the edge.
func (e DEdge) From() graph.Node { return e.from }

// To returns the destination of the edge.
func (e DEdge) To() graph.Node { return e.to }

// ReversedEdge returns a new value representing the reversed edge.
func (e DEdge) ReversedEdge() graph.Edge { return DEdge{from: e.to, to: e.from} }
