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

package effects

import (
	"fmt"

	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
)

// Evidence ties one effect or cost contribution to the instruction that
// produced it. Blame chains terminate at an Evidence.
type Evidence struct {
	// Kind is the effect kind the site contributes
	Kind Kind `json:"kind"`
	// Span locates the site in the source
	Span pir.Span `json:"span"`
	// Detail is a human-readable description of the site, e.g. "Box::new" or
	// "copy of [u8; 4096]"
	Detail string `json:"detail,omitempty"`
	// Bytes is the size involved, for allocation and copy sites
	Bytes Sat `json:"bytes,omitempty"`
	// Freq is the loop multiplier in scope at the site; 1 outside loops
	Freq Sat `json:"freq,omitempty"`
}

func (e Evidence) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at %v", e.Kind, e.Span)
	}
	return fmt.Sprintf("%v (%s) at %v", e.Kind, e.Detail, e.Span)
}

// Origin says how an external summary was obtained. The checker treats
// attribute- and config-trusted summaries as asserted rather than verified,
// and the conservative origin as a reportable gap in its own right.
type Origin int

const (
	OriginUnknown Origin = iota
	// OriginTable means the summary came from a summary table shipped with
	// the toolchain or named in the config
	OriginTable
	// OriginAttribute means the callee's own pure/trusted attribute supplied
	// the summary
	OriginAttribute
	// OriginConfig means a trust entry in the config file supplied it
	OriginConfig
	// OriginConservative means nothing was known and the top summary was used
	OriginConservative

	numOrigins
)

var originNames = [numOrigins]string{
	OriginUnknown:      "unknown",
	OriginTable:        "table",
	OriginAttribute:    "attribute",
	OriginConfig:       "config",
	OriginConservative: "conservative",
}

func (o Origin) String() string {
	if o >= 0 && o < numOrigins {
		return originNames[o]
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// Asserted reports whether the origin is a claim the toolchain could not
// verify: the author or the config said so, nothing checked it.
func (o Origin) Asserted() bool {
	return o == OriginAttribute || o == OriginConfig
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	if o < 0 || o >= numOrigins {
		return nil, fmt.Errorf("cannot marshal invalid summary origin %d", int(o))
	}
	return []byte(originNames[o]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(text []byte) error {
	for i, name := range originNames {
		if name == string(text) {
			*o = Origin(i)
			return nil
		}
	}
	return fmt.Errorf("unknown summary origin %q", string(text))
}

// Source records where one component of a summary came from. Exactly one of
// four shapes is populated:
//
//   - Evidence set: a site in the function's own body
//   - Callee set (with Site): the component flowed in through a call edge
//   - Symbol set (with Site and Origin): an external summary supplied it
//   - zero value: the function's own body in aggregate, used for cost axes
//     like cycles that no single site dominates
//
// Blame reconstruction follows Callee links until it reaches a local,
// external, or aggregate source.
type Source struct {
	Evidence *Evidence    `json:"evidence,omitempty"`
	Callee   pir.FuncID   `json:"callee,omitempty"`
	Symbol   pir.SymbolID `json:"symbol,omitempty"`
	Site     *pir.Span    `json:"site,omitempty"`
	Origin   Origin       `json:"origin,omitempty"`
}

// IsLocal reports whether the source is a site in the function's own body.
func (s Source) IsLocal() bool { return s.Evidence != nil }

// IsEdge reports whether the source points through a call edge to a callee
// analyzed in this run.
func (s Source) IsEdge() bool { return s.Callee != "" }

// IsExternal reports whether the source is an external summary.
func (s Source) IsExternal() bool { return s.Symbol != "" }

// IsOwnBody reports whether the source is the aggregate shape: the function's
// own body, with no single dominating site.
func (s Source) IsOwnBody() bool {
	return s.Evidence == nil && s.Callee == "" && s.Symbol == ""
}

// EdgeSource returns a source pointing through the call at site to callee.
func EdgeSource(callee pir.FuncID, site pir.Span) Source {
	sp := site
	return Source{Callee: callee, Site: &sp}
}

// ExternalSource returns a source naming an external summary applied at site.
func ExternalSource(symbol pir.SymbolID, site pir.Span, origin Origin) Source {
	sp := site
	return Source{Symbol: symbol, Site: &sp, Origin: origin}
}

// LocalSource returns a source for a site in the function's own body.
func LocalSource(ev Evidence) Source {
	e := ev
	return Source{Evidence: &e}
}

// Summary is the lattice element computed per function: which effects the
// function may perform, worst-case costs, the widest single copy, and for
// each of those a source saying where it came from. Prov and CostProv are
// bookkeeping alongside the lattice value; equality and ordering ignore them.
type Summary struct {
	Effects  Set             `json:"effects"`
	Cost     Cost            `json:"cost"`
	MaxCopy  Sat             `json:"max_copy"`
	Prov     map[Kind]Source `json:"prov,omitempty"`
	CostProv map[Axis]Source `json:"cost_prov,omitempty"`
	// Asserted is true when any contribution rests on an asserted-not-verified
	// external claim. It propagates to callers like any other join.
	Asserted bool `json:"asserted,omitempty"`
}

// Bottom returns the least element: no effects, zero cost.
func Bottom() Summary {
	return Summary{}
}

// Top returns the greatest element: every effect, every cost unbounded. The
// caller attaches provenance; a bare top is only useful in tests.
func Top() Summary {
	return Summary{
		Effects: AllKinds,
		Cost:    TopCost(),
		MaxCopy: Unbounded,
	}
}

// IsTop reports whether the summary value equals the top element.
func (s Summary) IsTop() bool {
	return s.Effects == AllKinds && s.Cost == TopCost() && s.MaxCopy.IsUnbounded()
}

// ValuesEqual reports whether two summaries carry the same lattice value,
// ignoring provenance. The fixpoint loop stabilizes on this, so provenance
// churn can never keep the solver spinning.
func (s Summary) ValuesEqual(o Summary) bool {
	return s.Effects == o.Effects && s.Cost == o.Cost && s.MaxCopy == o.MaxCopy && s.Asserted == o.Asserted
}

// AxisValue returns the summary's value on one cost axis.
func (s Summary) AxisValue(a Axis) Sat {
	if a == AxisMaxCopy {
		return s.MaxCopy
	}
	return s.Cost.Axis(a)
}

// SetAxisValue sets the summary's value on one cost axis.
func (s *Summary) SetAxisValue(a Axis, v Sat) {
	if a == AxisMaxCopy {
		s.MaxCopy = v
		return
	}
	s.Cost.SetAxis(a, v)
}

// RecordEffect adds k to the effect set. The first source recorded for a kind
// wins; later contributions of the same kind do not disturb it, so blame
// chains are stable across joins.
func (s *Summary) RecordEffect(k Kind, src Source) {
	if !s.Effects.Has(k) {
		s.Effects = s.Effects.With(k)
	}
	if s.Prov == nil {
		s.Prov = make(map[Kind]Source)
	}
	if _, ok := s.Prov[k]; !ok {
		s.Prov[k] = src
	}
}

// RecordCostProv sets the source for one cost axis, replacing any previous
// one. The solver owns the replacement policy (first unbounded-maker freezes,
// otherwise largest contributor).
func (s *Summary) RecordCostProv(a Axis, src Source) {
	if s.CostProv == nil {
		s.CostProv = make(map[Axis]Source)
	}
	s.CostProv[a] = src
}

// Clone returns a deep copy; the maps do not alias.
func (s Summary) Clone() Summary {
	c := s
	if s.Prov != nil {
		c.Prov = make(map[Kind]Source, len(s.Prov))
		for k, v := range s.Prov {
			c.Prov[k] = v
		}
	}
	if s.CostProv != nil {
		c.CostProv = make(map[Axis]Source, len(s.CostProv))
		for k, v := range s.CostProv {
			c.CostProv[k] = v
		}
	}
	return c
}

// Join returns the least upper bound of a and b: effect union, pointwise cost
// max. Provenance keeps a's sources where both sides contribute, which makes
// the operation asymmetric in bookkeeping but not in value.
func Join(a, b Summary) Summary {
	j := a.Clone()
	j.Effects = a.Effects.Union(b.Effects)
	j.Cost = a.Cost.Max(b.Cost)
	j.MaxCopy = a.MaxCopy.Max(b.MaxCopy)
	j.Asserted = a.Asserted || b.Asserted
	for _, k := range b.Effects.Slice() {
		if src, ok := b.Prov[k]; ok {
			if j.Prov == nil {
				j.Prov = make(map[Kind]Source)
			}
			if _, dup := j.Prov[k]; !dup {
				j.Prov[k] = src
			}
		}
	}
	for a2, src := range b.CostProv {
		if j.CostProv == nil {
			j.CostProv = make(map[Axis]Source)
		}
		if _, dup := j.CostProv[a2]; !dup {
			j.CostProv[a2] = src
		}
	}
	return j
}

func (s Summary) String() string {
	return fmt.Sprintf("effects=%v %v max_copy=%v", s.Effects, s.Cost, s.MaxCopy)
}
