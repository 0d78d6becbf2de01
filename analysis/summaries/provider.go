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

// Package summaries resolves effect summaries for symbols outside the program
// under analysis. Resolution consults, in order: precomputed summary tables
// (the built-in runtime table plus any YAML tables named in the config), the
// trust attribute on the extern declaration, the config's trust side-table,
// and finally the conservative top.
//
// Trust is never ambient state: every asserted-not-verified summary the
// analysis relies on shows up in the audit log, and every conservative
// fallback is remembered so the checker can name the unresolved symbol in its
// diagnostics.
package summaries

import (
	"fmt"
	"os"
	"sync"

	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/contracts"
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// Record is one audit entry: an asserted-not-verified summary the analysis
// used. Consumers get the full inventory from Audit.
type Record struct {
	Symbol  pir.SymbolID    `json:"symbol"`
	Origin  effects.Origin  `json:"origin"`
	Span    pir.Span        `json:"span,omitempty"`
	Summary effects.Summary `json:"summary"`
	Detail  string          `json:"detail,omitempty"`
}

// tableFile is the YAML shape of one shipped summary table. Rows reuse the
// config's trust-entry shape.
type tableFile struct {
	Unit      string              `yaml:"unit"`
	Summaries []config.TrustEntry `yaml:"summaries"`
}

type tableEntry struct {
	summary effects.Summary
	unit    string
}

// Provider answers summary queries for external symbols. Resolution is pure:
// the first answer for a symbol is cached and every later query returns it.
// Safe for concurrent use by the solver's workers.
type Provider struct {
	mu  sync.Mutex
	log *config.LogGroup

	table   map[pir.SymbolID]tableEntry
	trusted map[pir.SymbolID]contracts.Trust

	resolved map[pir.SymbolID]effects.Summary
	origins  map[pir.SymbolID]effects.Origin
	audit    []Record
}

// NewProvider loads the built-in runtime table, the YAML tables named in the
// config (paths relative to the config file), and the config trust entries.
// Later tables override earlier ones, so a project table can replace a
// built-in summary.
func NewProvider(cfg *config.Config, log *config.LogGroup) (*Provider, error) {
	p := &Provider{
		log:      log,
		table:    make(map[pir.SymbolID]tableEntry),
		trusted:  make(map[pir.SymbolID]contracts.Trust),
		resolved: make(map[pir.SymbolID]effects.Summary),
		origins:  make(map[pir.SymbolID]effects.Origin),
	}
	for sym, s := range builtinTable {
		p.table[sym] = tableEntry{summary: s, unit: builtinUnit}
	}
	for _, filename := range cfg.SummaryTables {
		if err := p.loadTable(cfg.RelPath(filename)); err != nil {
			return nil, err
		}
	}
	for _, entry := range cfg.Trusted {
		trust, err := trustFromEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("config trust entry %q: %v", entry.Symbol, err)
		}
		p.trusted[pir.SymbolID(entry.Symbol)] = trust
	}
	return p, nil
}

func (p *Provider) loadTable(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("could not read summary table %s: %v", filename, err)
	}
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("could not parse summary table %s: %v", filename, err)
	}
	if tf.Unit == "" {
		return fmt.Errorf("summary table %s names no unit", filename)
	}
	for _, entry := range tf.Summaries {
		if entry.Symbol == "" {
			return fmt.Errorf("summary table %s: entry without a symbol", filename)
		}
		trust, err := trustFromEntry(entry)
		if err != nil {
			return fmt.Errorf("summary table %s, symbol %q: %v", filename, entry.Symbol, err)
		}
		sym := pir.SymbolID(entry.Symbol)
		if prev, ok := p.table[sym]; ok {
			p.log.Debugf("summary table %s overrides %s from %s", tf.Unit, sym, prev.unit)
		}
		// Table rows are precomputed, not asserted.
		s := trust.Summary()
		s.Asserted = false
		p.table[sym] = tableEntry{summary: s, unit: tf.Unit}
	}
	p.log.Infof("loaded %d summaries from table %s (%s)", len(tf.Summaries), tf.Unit, filename)
	return nil
}

// trustFromEntry converts a YAML trust/table row into a parsed trust.
func trustFromEntry(e config.TrustEntry) (contracts.Trust, error) {
	t := contracts.Trust{
		Pure:       e.Pure,
		Cycles:     e.Cycles,
		Allocs:     e.Allocs,
		StackBytes: e.StackBytes,
		Syscalls:   e.Syscalls,
		MaxCopy:    e.MaxCopy,
	}
	for _, name := range e.Effects {
		k, err := effects.ParseKind(name)
		if err != nil {
			return contracts.Trust{}, err
		}
		t.Effects = t.Effects.With(k)
	}
	return t, nil
}

// Resolve returns the summary and origin for one external symbol. declTrust
// is the trust attribute parsed from the extern declaration, if any; declSpan
// locates the declaration for audit records. The first resolution of a symbol
// is final.
func (p *Provider) Resolve(sym pir.SymbolID, declTrust *contracts.Trust, declSpan pir.Span) (effects.Summary, effects.Origin) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.resolved[sym]; ok {
		return s, p.origins[sym]
	}

	var s effects.Summary
	var origin effects.Origin
	var detail string
	switch {
	case p.tableHas(sym):
		entry := p.table[sym]
		s, origin, detail = entry.summary, effects.OriginTable, entry.unit
	case declTrust != nil:
		s, origin, detail = declTrust.Summary(), effects.OriginAttribute, "trust attribute on declaration"
	default:
		if trust, ok := p.trusted[sym]; ok {
			s, origin, detail = trust.Summary(), effects.OriginConfig, "config trust entry"
		} else {
			s, origin = effects.Top(), effects.OriginConservative
			p.log.Warnf("no summary for external symbol %s; assuming the worst", sym)
		}
	}

	p.resolved[sym] = s
	p.origins[sym] = origin
	if origin.Asserted() {
		p.audit = append(p.audit, Record{Symbol: sym, Origin: origin, Span: declSpan, Summary: s, Detail: detail})
	}
	return s, origin
}

func (p *Provider) tableHas(sym pir.SymbolID) bool {
	_, ok := p.table[sym]
	return ok
}

// Origin returns how a previously resolved symbol was answered, or
// OriginUnknown for a symbol never queried.
func (p *Provider) Origin(sym pir.SymbolID) effects.Origin {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.origins[sym]
}

// Audit returns the asserted-not-verified inventory, sorted by symbol.
func (p *Provider) Audit() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := slices.Clone(p.audit)
	slices.SortFunc(out, func(a, b Record) bool { return a.Symbol < b.Symbol })
	return out
}

// Unresolved returns the symbols that fell through to the conservative top,
// sorted.
func (p *Provider) Unresolved() []pir.SymbolID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pir.SymbolID
	for sym, origin := range p.origins {
		if origin == effects.OriginConservative {
			out = append(out, sym)
		}
	}
	slices.Sort(out)
	return out
}
