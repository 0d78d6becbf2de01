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

// Package effects defines the join-semilattice the contract analyses compute
// over: effect kinds and sets, saturating costs with an unbounded top, and
// per-function summaries carrying provenance back to the sites that produced
// them. Everything here is a value type; summaries are only grown, never
// shrunk, so that fixpoint iteration terminates on the finite lattice height.
package effects

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is one category of contract-relevant behavior. The set of kinds is
// closed: new kinds are added here and nowhere else, because Set is a bitmask
// over them and the checker maps each contract axis to a fixed kind.
type Kind int

const (
	// Alloc is a heap allocation, including closure environments
	Alloc Kind = iota
	// Copy is a by-value copy of an aggregate
	Copy
	// Syscall is a crossing of the system call boundary
	Syscall
	// Panic is a path that may abort the program
	Panic
	// Recursion is a self or mutual call
	Recursion
	// DynamicDispatch is a call through a trait object
	DynamicDispatch

	numKinds
)

var kindNames = [numKinds]string{
	Alloc:           "alloc",
	Copy:            "copy",
	Syscall:         "syscall",
	Panic:           "panic",
	Recursion:       "recursion",
	DynamicDispatch: "dynamic_dispatch",
}

// Kinds returns all effect kinds in their canonical order.
func Kinds() []Kind {
	ks := make([]Kind, numKinds)
	for i := range ks {
		ks[i] = Kind(i)
	}
	return ks
}

func (k Kind) String() string {
	if k >= 0 && k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the kind named by s. Unlike the IR decoder, this is
// strict: summary tables and trust entries naming an unknown kind are user
// errors, not something to paper over.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown effect kind %q", s)
}

// MarshalText implements encoding.TextMarshaler, so kinds serialize by name,
// including as JSON map keys in provenance maps.
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || k >= numKinds {
		return nil, fmt.Errorf("cannot marshal invalid effect kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Set is a set of effect kinds, represented as a bitmask. The zero value is
// the empty set.
type Set uint8

// AllKinds is the full set of effect kinds, the effect component of the
// lattice's top element.
const AllKinds Set = 1<<numKinds - 1

// NewSet returns the set containing exactly the given kinds.
func NewSet(ks ...Kind) Set {
	var s Set
	for _, k := range ks {
		s = s.With(k)
	}
	return s
}

// Has reports whether k is in the set.
func (s Set) Has(k Kind) bool {
	return s&(1<<uint(k)) != 0
}

// With returns the set with k added.
func (s Set) With(k Kind) Set {
	return s | 1<<uint(k)
}

// Union returns the union of both sets.
func (s Set) Union(o Set) Set {
	return s | o
}

// IsEmpty reports whether the set contains no kinds.
func (s Set) IsEmpty() bool {
	return s == 0
}

// Contains reports whether every kind of o is also in s.
func (s Set) Contains(o Set) bool {
	return s&o == o
}

// Slice returns the kinds of the set in canonical order.
func (s Set) Slice() []Kind {
	var ks []Kind
	for k := Kind(0); k < numKinds; k++ {
		if s.Has(k) {
			ks = append(ks, k)
		}
	}
	return ks
}

func (s Set) String() string {
	names := make([]string, 0, numKinds)
	for _, k := range s.Slice() {
		names = append(names, k.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// MarshalJSON serializes the set as a sorted list of kind names, which keeps
// cache files and reports readable and diffable.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON reads a list of kind names.
func (s *Set) UnmarshalJSON(b []byte) error {
	var ks []Kind
	if err := json.Unmarshal(b, &ks); err != nil {
		return err
	}
	*s = NewSet(ks...)
	return nil
}
