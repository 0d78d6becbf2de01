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
	"math"
	"strconv"
)

// Sat is a saturating counter: arithmetic that would overflow, and any
// arithmetic involving Unbounded, yields Unbounded. Unbounded is absorbing,
// which is what makes pointwise max over costs a valid join.
type Sat uint64

// Unbounded is the top of the cost lattice. A loop without a recognized bound,
// an unresolved external call, or plain overflow all saturate to it.
const Unbounded Sat = math.MaxUint64

// IsUnbounded reports whether x is the top element.
func (x Sat) IsUnbounded() bool {
	return x == Unbounded
}

// Plus returns x + y, saturating to Unbounded on overflow.
func (x Sat) Plus(y Sat) Sat {
	if x.IsUnbounded() || y.IsUnbounded() {
		return Unbounded
	}
	if x > Unbounded-y {
		return Unbounded
	}
	return x + y
}

// Times returns x * y, saturating to Unbounded on overflow. Zero annihilates
// even Unbounded: a loop body with no allocations allocates nothing no matter
// how often it runs.
func (x Sat) Times(y Sat) Sat {
	if x == 0 || y == 0 {
		return 0
	}
	if x.IsUnbounded() || y.IsUnbounded() {
		return Unbounded
	}
	if x > Unbounded/y {
		return Unbounded
	}
	return x * y
}

// Max returns the larger of x and y.
func (x Sat) Max(y Sat) Sat {
	if x > y {
		return x
	}
	return y
}

// Exceeds reports whether x is above the finite limit. Unbounded exceeds
// every limit.
func (x Sat) Exceeds(limit uint64) bool {
	if x.IsUnbounded() {
		return true
	}
	return uint64(x) > limit
}

func (x Sat) String() string {
	if x.IsUnbounded() {
		return "unbounded"
	}
	return strconv.FormatUint(uint64(x), 10)
}

// MarshalJSON writes finite values as numbers and the top element as the
// string "unbounded". A raw MaxUint64 in a report or cache file would read
// like a measurement; the sentinel string keeps it honest.
func (x Sat) MarshalJSON() ([]byte, error) {
	if x.IsUnbounded() {
		return []byte(`"unbounded"`), nil
	}
	return []byte(strconv.FormatUint(uint64(x), 10)), nil
}

// UnmarshalJSON accepts either form produced by MarshalJSON.
func (x *Sat) UnmarshalJSON(b []byte) error {
	if string(b) == `"unbounded"` {
		*x = Unbounded
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid saturating value %s: %w", string(b), err)
	}
	*x = Sat(v)
	return nil
}

// Axis identifies one cost dimension of a summary, including the copy width
// tracked outside Cost. Budget contracts and cost provenance are keyed by
// axis.
type Axis int

const (
	AxisCycles Axis = iota
	AxisAllocs
	AxisStackBytes
	AxisSyscalls
	AxisMaxCopy

	numAxes
)

var axisNames = [numAxes]string{
	AxisCycles:     "cycles",
	AxisAllocs:     "allocs",
	AxisStackBytes: "stack_bytes",
	AxisSyscalls:   "syscalls",
	AxisMaxCopy:    "max_copy",
}

// Axes returns all cost axes in their canonical order.
func Axes() []Axis {
	as := make([]Axis, numAxes)
	for i := range as {
		as[i] = Axis(i)
	}
	return as
}

func (a Axis) String() string {
	if a >= 0 && a < numAxes {
		return axisNames[a]
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// ParseAxis returns the axis named by s.
func ParseAxis(s string) (Axis, error) {
	for a, name := range axisNames {
		if name == s {
			return Axis(a), nil
		}
	}
	return 0, fmt.Errorf("unknown cost axis %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Axis) MarshalText() ([]byte, error) {
	if a < 0 || a >= numAxes {
		return nil, fmt.Errorf("cannot marshal invalid cost axis %d", int(a))
	}
	return []byte(axisNames[a]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Axis) UnmarshalText(text []byte) error {
	v, err := ParseAxis(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Cost is the additive cost component of a summary: worst-case totals per
// axis. StackBytes composes by max along call paths rather than by sum, but
// it joins pointwise like the rest.
type Cost struct {
	Cycles     Sat `json:"cycles"`
	Allocs     Sat `json:"allocs"`
	StackBytes Sat `json:"stack_bytes"`
	Syscalls   Sat `json:"syscalls"`
}

// TopCost is the cost component of the lattice's top element.
func TopCost() Cost {
	return Cost{Cycles: Unbounded, Allocs: Unbounded, StackBytes: Unbounded, Syscalls: Unbounded}
}

// Max returns the pointwise maximum of both costs.
func (c Cost) Max(o Cost) Cost {
	return Cost{
		Cycles:     c.Cycles.Max(o.Cycles),
		Allocs:     c.Allocs.Max(o.Allocs),
		StackBytes: c.StackBytes.Max(o.StackBytes),
		Syscalls:   c.Syscalls.Max(o.Syscalls),
	}
}

// IsZero reports whether every axis is zero.
func (c Cost) IsZero() bool {
	return c == Cost{}
}

// Axis returns the value of one additive axis. AxisMaxCopy lives on Summary,
// not Cost; asking a Cost for it is a programming error.
func (c Cost) Axis(a Axis) Sat {
	switch a {
	case AxisCycles:
		return c.Cycles
	case AxisAllocs:
		return c.Allocs
	case AxisStackBytes:
		return c.StackBytes
	case AxisSyscalls:
		return c.Syscalls
	}
	panic(fmt.Sprintf("cost has no axis %v", a))
}

// SetAxis sets the value of one additive axis.
func (c *Cost) SetAxis(a Axis, v Sat) {
	switch a {
	case AxisCycles:
		c.Cycles = v
	case AxisAllocs:
		c.Allocs = v
	case AxisStackBytes:
		c.StackBytes = v
	case AxisSyscalls:
		c.Syscalls = v
	default:
		panic(fmt.Sprintf("cost has no axis %v", a))
	}
}

func (c Cost) String() string {
	return fmt.Sprintf("cycles=%v allocs=%v stack_bytes=%v syscalls=%v",
		c.Cycles, c.Allocs, c.StackBytes, c.Syscalls)
}
