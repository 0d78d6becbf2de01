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

// Package contracts parses the performance-contract attributes the front-end
// attaches to function declarations: no_alloc, no_copy_over(n), no_syscall,
// no_panic, no_recursion, and numeric budgets, plus the trust attributes
// (pure, trusted(...)) that assert summaries for external declarations.
//
// The attribute namespace belongs to the front-end: attributes this package
// does not recognize are ignored, but a recognized attribute with a malformed
// payload is an error, because the front-end validates attribute syntax
// before emitting IR bundles.
package contracts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Budget is the numeric-budget clause. A nil axis is unconstrained.
type Budget struct {
	Cycles     *uint64
	Allocs     *uint64
	StackBytes *uint64
	Syscalls   *uint64
}

// IsEmpty reports whether no axis is constrained.
func (b Budget) IsEmpty() bool {
	return b.Cycles == nil && b.Allocs == nil && b.StackBytes == nil && b.Syscalls == nil
}

func (b Budget) String() string {
	var parts []string
	add := func(name string, v *uint64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%d", name, *v))
		}
	}
	add("cycles", b.Cycles)
	add("allocs", b.Allocs)
	add("stack_bytes", b.StackBytes)
	add("syscalls", b.Syscalls)
	return "budget(" + strings.Join(parts, ", ") + ")"
}

// Contract is the set of constraints declared on one function. The zero value
// constrains nothing.
type Contract struct {
	NoAlloc     bool
	NoCopyOver  *uint64
	NoSyscall   bool
	NoPanic     bool
	NoRecursion bool
	Budget      *Budget
}

// IsEmpty reports whether the contract constrains nothing.
func (c Contract) IsEmpty() bool {
	return !c.NoAlloc && c.NoCopyOver == nil && !c.NoSyscall && !c.NoPanic &&
		!c.NoRecursion && c.Budget == nil
}

// String renders the contract the way it was declared, clauses in canonical
// order, for diagnostics.
func (c Contract) String() string {
	var parts []string
	if c.NoAlloc {
		parts = append(parts, "no_alloc")
	}
	if c.NoCopyOver != nil {
		parts = append(parts, fmt.Sprintf("no_copy_over(%d)", *c.NoCopyOver))
	}
	if c.NoSyscall {
		parts = append(parts, "no_syscall")
	}
	if c.NoPanic {
		parts = append(parts, "no_panic")
	}
	if c.NoRecursion {
		parts = append(parts, "no_recursion")
	}
	if c.Budget != nil {
		parts = append(parts, c.Budget.String())
	}
	if len(parts) == 0 {
		return "(unconstrained)"
	}
	return strings.Join(parts, ", ")
}

// attrRe splits an attribute into its name and optional parenthesized payload.
var attrRe = regexp.MustCompile(`^\s*([a-z_]+)\s*(?:\((.*)\))?\s*$`)

// pairRe matches one key=value element of a payload.
var pairRe = regexp.MustCompile(`^\s*([a-z_]+)\s*=\s*([0-9]+)\s*$`)

// ParseContract extracts the contract clauses from a declaration's attribute
// list. Attributes that are not contract clauses (including trust attributes)
// are skipped; a clause appearing twice keeps the first occurrence.
func ParseContract(attrs []string) (Contract, error) {
	var c Contract
	for _, attr := range attrs {
		m := attrRe.FindStringSubmatch(attr)
		if m == nil {
			continue
		}
		name, payload := m[1], m[2]
		switch name {
		case "no_alloc":
			if err := rejectPayload(attr, payload); err != nil {
				return Contract{}, err
			}
			c.NoAlloc = true
		case "no_syscall":
			if err := rejectPayload(attr, payload); err != nil {
				return Contract{}, err
			}
			c.NoSyscall = true
		case "no_panic":
			if err := rejectPayload(attr, payload); err != nil {
				return Contract{}, err
			}
			c.NoPanic = true
		case "no_recursion":
			if err := rejectPayload(attr, payload); err != nil {
				return Contract{}, err
			}
			c.NoRecursion = true
		case "no_copy_over":
			n, err := strconv.ParseUint(strings.TrimSpace(payload), 10, 64)
			if err != nil {
				return Contract{}, fmt.Errorf("malformed attribute %q: no_copy_over wants one byte count: %v", attr, err)
			}
			if c.NoCopyOver == nil {
				c.NoCopyOver = &n
			}
		case "budget":
			b, err := parseBudget(attr, payload)
			if err != nil {
				return Contract{}, err
			}
			if c.Budget == nil {
				c.Budget = b
			}
		}
	}
	return c, nil
}

func rejectPayload(attr, payload string) error {
	if payload != "" {
		return fmt.Errorf("malformed attribute %q: unexpected payload", attr)
	}
	return nil
}

func parseBudget(attr, payload string) (*Budget, error) {
	b := &Budget{}
	for _, part := range strings.Split(payload, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m := pairRe.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("malformed attribute %q: bad budget element %q", attr, strings.TrimSpace(part))
		}
		v, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed attribute %q: %v", attr, err)
		}
		switch m[1] {
		case "cycles":
			b.Cycles = &v
		case "allocs":
			b.Allocs = &v
		case "stack_bytes":
			b.StackBytes = &v
		case "syscalls":
			b.Syscalls = &v
		default:
			return nil, fmt.Errorf("malformed attribute %q: unknown budget axis %q", attr, m[1])
		}
	}
	if b.IsEmpty() {
		return nil, fmt.Errorf("malformed attribute %q: budget constrains no axis", attr)
	}
	return b, nil
}
