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

package analysis

import (
	"fmt"

	"github.com/awslabs/ar-pyrite-tools/analysis/callgraph"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
)

// Stats counts the shape of one verification run.
type Stats struct {
	NumberOfFunctions           uint
	NumberOfExternDeclarations  uint
	NumberOfOps                 uint
	NumberOfContracts           uint
	NumberOfCallEdges           uint
	NumberOfComponents          uint
	NumberOfRecursiveComponents uint
	NumberOfExternalSymbols     uint
}

// ComputeStats returns general statistics about the program and its condensed
// call graph.
func ComputeStats(prog *pir.Program, cond *callgraph.Condensation) Stats {
	stats := Stats{}

	for _, fn := range prog.Functions {
		if fn.Extern {
			stats.NumberOfExternDeclarations++
			continue
		}
		stats.NumberOfFunctions++
		stats.NumberOfOps += uint(len(fn.Ops))
	}

	g := cond.Graph
	stats.NumberOfCallEdges = uint(g.NumEdges())
	stats.NumberOfExternalSymbols = uint(len(g.Externals))
	for _, id := range g.SortedFuncs() {
		if !g.Funcs[id].Contract.IsEmpty() {
			stats.NumberOfContracts++
		}
	}

	stats.NumberOfComponents = uint(len(cond.Components))
	for _, comp := range cond.Components {
		if comp.Recursive {
			stats.NumberOfRecursiveComponents++
		}
	}
	return stats
}

func (s Stats) String() string {
	return fmt.Sprintf("%d functions (%d with contracts), %d extern declarations, %d ops, "+
		"%d call edges, %d components (%d recursive), %d external symbols",
		s.NumberOfFunctions, s.NumberOfContracts, s.NumberOfExternDeclarations, s.NumberOfOps,
		s.NumberOfCallEdges, s.NumberOfComponents, s.NumberOfRecursiveComponents,
		s.NumberOfExternalSymbols)
}
