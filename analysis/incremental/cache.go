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

// Package incremental caches final summaries between runs, keyed by a
// fingerprint that chains structurally: a function's fingerprint covers its
// own local facts, its contract, and the fingerprints of everything it calls.
// A local change therefore invalidates exactly the function and its
// transitive callers; nothing else is ever recomputed. Members of a recursive
// component share a group fingerprint folded with their own ID, so a
// component reuses or recomputes as a unit.
//
// The cache is a convenience, never a correctness dependency: a missing,
// corrupt, or version-skewed file just means a cold start.
package incremental

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"os"
	"sort"

	"github.com/awslabs/ar-pyrite-tools/analysis/callgraph"
	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/extract"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/analysis/summaries"
)

// cacheVersion gates the file format, not the analysis semantics; the cost
// model tag covers those.
const cacheVersion = 1

type entry struct {
	Fingerprint string          `json:"fingerprint"`
	Summary     effects.Summary `json:"summary"`
}

type cacheFile struct {
	Version   int                  `json:"version"`
	CostModel string               `json:"cost_model"`
	Entries   map[pir.FuncID]entry `json:"entries"`
}

// Manifest tells the build driver what this run did with the cache. The
// invalidated set is the subset of recomputed functions that had a cached
// summary which no longer applied.
type Manifest struct {
	Reused      []pir.FuncID `json:"reused,omitempty"`
	Recomputed  []pir.FuncID `json:"recomputed,omitempty"`
	Invalidated []pir.FuncID `json:"invalidated,omitempty"`
}

func (m Manifest) String() string {
	return fmt.Sprintf("reused %d, recomputed %d, invalidated %d",
		len(m.Reused), len(m.Recomputed), len(m.Invalidated))
}

// Cache is the between-runs summary store. Zero value is unusable; construct
// with Open.
type Cache struct {
	path     string
	log      *config.LogGroup
	modelTag string

	prev map[pir.FuncID]entry
	next map[pir.FuncID]entry

	fps      map[pir.FuncID]string
	reusable map[pir.FuncID]effects.Summary
}

// Open loads the cache at path, starting cold on any problem. An empty path
// disables persistence; fingerprints and the manifest still work.
func Open(path string, model config.CostModel, log *config.LogGroup) *Cache {
	c := &Cache{
		path:     path,
		log:      log,
		modelTag: fmt.Sprintf("%+v", model),
		prev:     map[pir.FuncID]entry{},
		next:     map[pir.FuncID]entry{},
	}
	if path == "" {
		return c
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Debugf("summary cache %s not loaded (%v), starting cold", path, err)
		return c
	}
	var f cacheFile
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warnf("summary cache %s is corrupt (%v), starting cold", path, err)
		return c
	}
	if f.Version != cacheVersion {
		log.Infof("summary cache %s has version %d, want %d, starting cold", path, f.Version, cacheVersion)
		return c
	}
	if f.CostModel != c.modelTag {
		log.Infof("cost model changed, discarding summary cache %s", path)
		return c
	}
	if f.Entries != nil {
		c.prev = f.Entries
	}
	log.Debugf("summary cache %s loaded with %d entries", path, len(c.prev))
	return c
}

// Fingerprint computes the chained fingerprint of every defined function,
// walking components callees-first so callee fingerprints always exist when a
// caller needs them. External callees fold in their resolved summaries, so a
// changed summary table invalidates the direct callers.
func (c *Cache) Fingerprint(cond *callgraph.Condensation, facts map[pir.FuncID]extract.Facts, prov *summaries.Provider) map[pir.FuncID]string {
	c.fps = make(map[pir.FuncID]string, len(cond.Graph.Funcs))
	c.reusable = make(map[pir.FuncID]effects.Summary)

	for _, comp := range cond.Components {
		if !comp.Recursive && len(comp.Members) == 1 {
			id := comp.Members[0]
			h := sha256.New()
			c.writeLocal(h, cond.Graph.Funcs[id], facts[id])
			c.writeEdges(h, cond, cond.Graph.Funcs[id], prov, nil)
			c.fps[id] = hex.EncodeToString(h.Sum(nil))
			continue
		}

		inComp := make(map[pir.FuncID]bool, len(comp.Members))
		for _, m := range comp.Members {
			inComp[m] = true
		}
		group := sha256.New()
		for _, m := range comp.Members {
			c.writeLocal(group, cond.Graph.Funcs[m], facts[m])
			c.writeEdges(group, cond, cond.Graph.Funcs[m], prov, inComp)
		}
		groupSum := hex.EncodeToString(group.Sum(nil))
		for _, m := range comp.Members {
			h := sha256.New()
			fmt.Fprintf(h, "group %s self %s\n", groupSum, m)
			c.fps[m] = hex.EncodeToString(h.Sum(nil))
		}
	}

	// Reuse decisions are per component: a half-cached recursive component
	// would violate the solver's all-or-nothing publication.
	for _, comp := range cond.Components {
		all := true
		for _, m := range comp.Members {
			prev, ok := c.prev[m]
			if !ok || prev.Fingerprint != c.fps[m] {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		for _, m := range comp.Members {
			c.reusable[m] = c.prev[m].Summary
		}
	}
	return c.fps
}

// writeLocal folds one function's local facts and contract into h. Call facts
// are part of the local surface: moving a call site changes the provenance
// spans a cached summary would carry.
func (c *Cache) writeLocal(h hash.Hash, node *callgraph.Node, f extract.Facts) {
	fmt.Fprintf(h, "fn %s frame %d degraded %v\n", node.ID, node.Fn.FrameBytes, f.Degraded)
	fmt.Fprintf(h, "contract %v\n", node.Contract)
	fmt.Fprintf(h, "local %v asserted %v\n", f.Local, f.Local.Asserted)
	for _, ev := range f.Evidence {
		fmt.Fprintf(h, "ev %v %v %q %v %v\n", ev.Kind, ev.Span, ev.Detail, ev.Bytes, ev.Freq)
	}
	for _, cf := range f.Calls {
		fmt.Fprintf(h, "call %d %s %s %s %v x%v\n", int(cf.Kind), cf.Callee, cf.Method, cf.Symbol, cf.Site, cf.Freq)
	}
}

// writeEdges folds the call surface: fingerprints of in-program callees,
// resolved summaries of externals, and for recursive components the in-group
// edge shape. Lines are sorted so the fold is order-independent.
func (c *Cache) writeEdges(h hash.Hash, cond *callgraph.Condensation, node *callgraph.Node, prov *summaries.Provider, inComp map[pir.FuncID]bool) {
	var lines []string
	for _, e := range node.Out {
		switch e.Kind {
		case callgraph.EdgeDirect, callgraph.EdgeVirtual:
			if inComp != nil && inComp[e.Callee] {
				lines = append(lines, fmt.Sprintf("in %s -> %s x%v", node.ID, e.Callee, e.Freq))
				continue
			}
			lines = append(lines, fmt.Sprintf("callee %s %s x%v", e.Callee, c.fps[e.Callee], e.Freq))
		case callgraph.EdgeExternal:
			ext := cond.Graph.Externals[e.Symbol]
			sum, origin := prov.Resolve(e.Symbol, ext.Trust, ext.Span)
			lines = append(lines, fmt.Sprintf("ext %s %v %v asserted %v x%v", e.Symbol, origin, sum, sum.Asserted, e.Freq))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(h, l)
	}
}

// Reusable returns the summaries whose fingerprints matched, to be
// prepublished before the solve. Only valid after Fingerprint.
func (c *Cache) Reusable() map[pir.FuncID]effects.Summary {
	return c.reusable
}

// Commit records the run's final summaries against the computed fingerprints
// and returns the manifest. Call after a successful solve; on an aborted run
// nothing is committed and the old cache stays.
func (c *Cache) Commit(sums map[pir.FuncID]effects.Summary) Manifest {
	var m Manifest
	for id, fp := range c.fps {
		sum, ok := sums[id]
		if !ok {
			continue
		}
		c.next[id] = entry{Fingerprint: fp, Summary: sum}
		if _, hit := c.reusable[id]; hit {
			m.Reused = append(m.Reused, id)
		} else {
			m.Recomputed = append(m.Recomputed, id)
			if prev, had := c.prev[id]; had && prev.Fingerprint != fp {
				m.Invalidated = append(m.Invalidated, id)
			}
		}
	}
	sortIDs(m.Reused)
	sortIDs(m.Recomputed)
	sortIDs(m.Invalidated)
	return m
}

// Flush writes the committed entries. A disabled cache is a no-op.
func (c *Cache) Flush() error {
	if c.path == "" || len(c.next) == 0 {
		return nil
	}
	f := cacheFile{Version: cacheVersion, CostModel: c.modelTag, Entries: c.next}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary cache: %w", err)
	}
	if err := os.WriteFile(c.path, raw, 0644); err != nil {
		return fmt.Errorf("writing summary cache %s: %w", c.path, err)
	}
	c.log.Debugf("summary cache %s written with %d entries", c.path, len(c.next))
	return nil
}

func sortIDs(ids []pir.FuncID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
