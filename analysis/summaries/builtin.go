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

package summaries

import (
	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
)

const builtinUnit = "pyrite-runtime"

func set(ks ...effects.Kind) effects.Set { return effects.NewSet(ks...) }

// builtinTable ships summaries for the Pyrite runtime intrinsics every
// program links against. Lowered code calls these without declarations, so
// without this table every nontrivial program would drown in conservative
// fallbacks. Costs follow the default cost model's pricing of the equivalent
// operations; a project table named in the config can override any row.
var builtinTable = map[pir.SymbolID]effects.Summary{
	// Heap management.
	"pyrite::rt::alloc": {
		Effects: set(effects.Alloc),
		Cost:    effects.Cost{Cycles: 30, Allocs: 1},
	},
	"pyrite::rt::alloc_zeroed": {
		Effects: set(effects.Alloc),
		Cost:    effects.Cost{Cycles: 60, Allocs: 1},
	},
	// realloc may copy the old payload; the width depends on the call site.
	"pyrite::rt::realloc": {
		Effects: set(effects.Alloc, effects.Copy),
		Cost:    effects.Cost{Cycles: effects.Unbounded, Allocs: 1},
		MaxCopy: effects.Unbounded,
	},
	"pyrite::rt::dealloc": {
		Cost: effects.Cost{Cycles: 15},
	},

	// Bulk memory. Widths are call-site dependent, so the copy stays
	// unbounded here; front-ends that know the width lower to OpCopy instead.
	"pyrite::rt::memcpy": {
		Effects: set(effects.Copy),
		Cost:    effects.Cost{Cycles: effects.Unbounded},
		MaxCopy: effects.Unbounded,
	},
	"pyrite::rt::memmove": {
		Effects: set(effects.Copy),
		Cost:    effects.Cost{Cycles: effects.Unbounded},
		MaxCopy: effects.Unbounded,
	},
	"pyrite::rt::memset": {
		Cost: effects.Cost{Cycles: effects.Unbounded},
	},

	// Unwinding and aborts.
	"pyrite::rt::panic": {
		Effects: set(effects.Panic),
		Cost:    effects.Cost{Cycles: 50},
	},
	"pyrite::rt::panic_bounds_check": {
		Effects: set(effects.Panic),
		Cost:    effects.Cost{Cycles: 50},
	},
	"pyrite::rt::panic_overflow": {
		Effects: set(effects.Panic),
		Cost:    effects.Cost{Cycles: 50},
	},
	"pyrite::rt::abort": {
		Effects: set(effects.Panic, effects.Syscall),
		Cost:    effects.Cost{Cycles: 150, Syscalls: 1},
	},

	// Console I/O.
	"pyrite::rt::print": {
		Effects: set(effects.Syscall),
		Cost:    effects.Cost{Cycles: 150, Syscalls: 1},
	},
	"pyrite::rt::eprint": {
		Effects: set(effects.Syscall),
		Cost:    effects.Cost{Cycles: 150, Syscalls: 1},
	},
	"pyrite::rt::read_line": {
		Effects: set(effects.Syscall, effects.Alloc),
		Cost:    effects.Cost{Cycles: effects.Unbounded, Allocs: 1, Syscalls: 1},
	},

	// Closures and dispatch plumbing emitted by lowering.
	"pyrite::rt::closure_alloc": {
		Effects: set(effects.Alloc),
		Cost:    effects.Cost{Cycles: 30, Allocs: 1},
	},
	"pyrite::rt::trait_dispatch": {
		Effects: set(effects.DynamicDispatch),
		Cost:    effects.Cost{Cycles: 10},
	},

	// Checked arithmetic helpers trap on overflow.
	"pyrite::rt::checked_add": {
		Effects: set(effects.Panic),
		Cost:    effects.Cost{Cycles: 2},
	},
	"pyrite::rt::checked_mul": {
		Effects: set(effects.Panic),
		Cost:    effects.Cost{Cycles: 2},
	},

	// Pure helpers the optimizer keeps around.
	"pyrite::rt::black_box":   {},
	"pyrite::rt::assume":      {},
	"pyrite::rt::stack_probe": {Cost: effects.Cost{Cycles: 5}},
}
