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

// Package pir defines the Pyrite intermediate representation handed off by the
// compiler front-end to the contract verification analyses. The front-end lowers
// each compilation unit to a bundle of functions whose bodies are flat sequences
// of effect-relevant operations; everything the analyses know about the program
// comes through these structures.
package pir

import (
	"fmt"
	"sort"
)

// FuncID identifies a function, as "pkg::name". It is stable across runs for
// the same source, so it can key caches and order iteration deterministically.
type FuncID string

// SymbolID identifies a linkable symbol across unit boundaries, as
// "unit::pkg::name". External call operations reference symbols, not FuncIDs.
type SymbolID string

func (id FuncID) String() string   { return string(id) }
func (id SymbolID) String() string { return string(id) }

// QualifiedName builds the FuncID of a function from its package and name.
func QualifiedName(pkg string, name string) FuncID {
	return FuncID(pkg + "::" + name)
}

// Span is a source location range. Line and Col are 1-based; a zero Span means
// the location is unknown.
type Span struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	EndLine int    `json:"end_line,omitempty"`
	EndCol  int    `json:"end_col,omitempty"`
}

func (s Span) String() string {
	if s.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// IsZero reports whether the span carries no location.
func (s Span) IsZero() bool {
	return s.File == "" && s.Line == 0 && s.Col == 0
}

// OpKind discriminates the operations the front-end lowers to.
type OpKind int

const (
	// OpInvalid is any operation the decoder could not classify. The extractor
	// treats functions containing one conservatively instead of ignoring it.
	OpInvalid OpKind = iota
	// OpCall is a direct call to a function of the program
	OpCall
	// OpCallVirtual is a call through a trait object, resolved against the
	// type hierarchy
	OpCallVirtual
	// OpCallExtern is a call to a symbol outside the program under analysis
	OpCallExtern
	// OpAlloc is a heap allocation
	OpAlloc
	// OpCopy is a by-value copy of an aggregate
	OpCopy
	// OpClosure builds a closure; a closure capturing variables allocates its
	// environment at runtime
	OpClosure
	// OpSyscall crosses the system call boundary
	OpSyscall
	// OpPanic may abort the program (explicit panic, failed assertion, or a
	// checked operation that panics on failure)
	OpPanic
	// OpLoopEnter marks the head of a loop; Bound carries the trip count when
	// the front-end proved one, and 0 when the bound is unknown
	OpLoopEnter
	// OpLoopExit marks the end of the innermost open loop
	OpLoopExit
	// OpCompute is straight-line computation with no effect, priced by Cycles
	OpCompute
)

var opKindNames = map[OpKind]string{
	OpInvalid:     "invalid",
	OpCall:        "call",
	OpCallVirtual: "call_virtual",
	OpCallExtern:  "call_extern",
	OpAlloc:       "alloc",
	OpCopy:        "copy",
	OpClosure:     "closure",
	OpSyscall:     "syscall",
	OpPanic:       "panic",
	OpLoopEnter:   "loop_enter",
	OpLoopExit:    "loop_exit",
	OpCompute:     "compute",
}

var opKindValues = func() map[string]OpKind {
	m := make(map[string]OpKind, len(opKindNames))
	for k, s := range opKindNames {
		m[s] = k
	}
	return m
}()

func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("opkind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler so op kinds appear as names in
// bundles.
func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes an op kind name. Unknown names decode to OpInvalid
// instead of failing: a newer front-end may emit kinds this analyzer does not
// know, and the extractor handles those conservatively.
func (k *OpKind) UnmarshalText(text []byte) error {
	if v, ok := opKindValues[string(text)]; ok {
		*k = v
	} else {
		*k = OpInvalid
	}
	return nil
}

// Op is one effect-relevant operation of a function body. Which fields are
// meaningful depends on Kind; the rest stay zero.
type Op struct {
	Kind OpKind `json:"kind"`
	Span Span   `json:"span"`

	// Callee is the target of an OpCall
	Callee FuncID `json:"callee,omitempty"`

	// Method is the hierarchy key of an OpCallVirtual, e.g. "Writer::write"
	Method string `json:"method,omitempty"`

	// Symbol is the target of an OpCallExtern
	Symbol SymbolID `json:"symbol,omitempty"`

	// Bytes is the allocation size of an OpAlloc or the copied width of an
	// OpCopy; 0 means the size is not statically known
	Bytes uint64 `json:"bytes,omitempty"`

	// Cycles is the front-end cycle estimate of the operation; 0 selects the
	// cost model default for the kind
	Cycles uint64 `json:"cycles,omitempty"`

	// Bound is the trip count of an OpLoopEnter; 0 means unknown
	Bound uint64 `json:"bound,omitempty"`

	// Captures is the number of environment slots of an OpClosure. A closure
	// with no captures is resolved at compile time and costs nothing.
	Captures int `json:"captures,omitempty"`

	// Detail carries human-oriented context: the allocated type of an OpAlloc,
	// the category of an OpSyscall, the condition of an OpPanic
	Detail string `json:"detail,omitempty"`
}

// Function is one function of the program. Extern declarations have Extern set,
// no body, and a Symbol linking them to their defining unit.
type Function struct {
	Name string `json:"name"`
	Pkg  string `json:"pkg"`
	Span Span   `json:"span,omitempty"`

	// Attrs are the raw attribute strings from the source, e.g. "no_alloc",
	// "budget(cycles=8000)", "trusted(effects=[syscall])". Parsing happens in
	// the contracts package; the front-end owns the attribute namespace.
	Attrs []string `json:"attrs,omitempty"`

	// FrameBytes is the static stack frame estimate from the front-end
	FrameBytes uint64 `json:"frame_bytes,omitempty"`

	// Extern marks a declaration whose body lives outside the program
	Extern bool `json:"extern,omitempty"`

	// Symbol is the link symbol of the function; always set on extern
	// declarations
	Symbol SymbolID `json:"symbol,omitempty"`

	Ops []Op `json:"ops,omitempty"`
}

// ID returns the function's identity within the program.
func (f *Function) ID() FuncID {
	return QualifiedName(f.Pkg, f.Name)
}

// Unit is one compilation unit bundle as emitted by the front-end lowering.
type Unit struct {
	Name      string      `json:"unit"`
	Functions []*Function `json:"functions"`

	// Methods is the closed-world method table of the unit: a hierarchy key
	// maps to every function that can be the target of a virtual call through
	// that key. A key that appears in no unit is an open method with unknown
	// targets.
	Methods map[string][]FuncID `json:"methods,omitempty"`
}

// Program is the merged whole-program view of all loaded units.
type Program struct {
	Units     []string
	Functions map[FuncID]*Function
	// Hierarchy merges the method tables of all units; target lists are sorted
	// and deduplicated.
	Hierarchy map[string][]FuncID
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{
		Functions: map[FuncID]*Function{},
		Hierarchy: map[string][]FuncID{},
	}
}

// AddUnit merges one unit bundle into the program. Two functions with the same
// id are a front-end inconsistency and fail the merge.
func (p *Program) AddUnit(u *Unit) error {
	for _, fn := range u.Functions {
		id := fn.ID()
		if fn.Name == "" || fn.Pkg == "" {
			return fmt.Errorf("unit %q contains a function without a name or package", u.Name)
		}
		if _, dup := p.Functions[id]; dup {
			return fmt.Errorf("duplicate function %s while merging unit %q", id, u.Name)
		}
		p.Functions[id] = fn
	}
	for key, targets := range u.Methods {
		merged := append(p.Hierarchy[key], targets...)
		sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
		p.Hierarchy[key] = dedup(merged)
	}
	p.Units = append(p.Units, u.Name)
	return nil
}

func dedup(ids []FuncID) []FuncID {
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || ids[i-1] != id {
			out = append(out, id)
		}
	}
	return out
}

// Function returns the function with the given id, if any.
func (p *Program) Function(id FuncID) (*Function, bool) {
	fn, ok := p.Functions[id]
	return fn, ok
}

// SortedIDs returns all function ids in ascending order. Analyses iterate the
// program through this so their results do not depend on map order.
func (p *Program) SortedIDs() []FuncID {
	ids := make([]FuncID, 0, len(p.Functions))
	for id := range p.Functions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MethodTargets returns the possible targets of a virtual call through key,
// sorted, and whether the key is known to the hierarchy at all.
func (p *Program) MethodTargets(key string) ([]FuncID, bool) {
	targets, ok := p.Hierarchy[key]
	return targets, ok
}
