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
	"encoding/json"
	"math"
	"testing"
)

func TestSatPlus(t *testing.T) {
	tests := []struct {
		name    string
		x, y    Sat
		want    Sat
	}{
		{"small", 2, 3, 5},
		{"zero", 0, 7, 7},
		{"left unbounded", Unbounded, 1, Unbounded},
		{"right unbounded", 1, Unbounded, Unbounded},
		{"both unbounded", Unbounded, Unbounded, Unbounded},
		{"overflow saturates", Sat(math.MaxUint64 - 1), 2, Unbounded},
		{"just below top", Sat(math.MaxUint64 - 2), 1, Sat(math.MaxUint64 - 1)},
	}
	for _, tt := range tests {
		if got := tt.x.Plus(tt.y); got != tt.want {
			t.Errorf("%s: %v.Plus(%v) = %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestSatTimes(t *testing.T) {
	tests := []struct {
		name string
		x, y Sat
		want Sat
	}{
		{"small", 4, 5, 20},
		{"zero annihilates", 0, 9, 0},
		{"zero annihilates unbounded", 0, Unbounded, 0},
		{"unbounded times zero", Unbounded, 0, 0},
		{"unbounded", Unbounded, 3, Unbounded},
		{"overflow saturates", Sat(math.MaxUint64 / 2), 3, Unbounded},
		{"one is identity", 1, Unbounded, Unbounded},
	}
	for _, tt := range tests {
		if got := tt.x.Times(tt.y); got != tt.want {
			t.Errorf("%s: %v.Times(%v) = %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestSatExceeds(t *testing.T) {
	if Sat(10).Exceeds(10) {
		t.Error("10 should not exceed limit 10")
	}
	if !Sat(11).Exceeds(10) {
		t.Error("11 should exceed limit 10")
	}
	if !Unbounded.Exceeds(math.MaxUint64 - 1) {
		t.Error("unbounded should exceed every finite limit")
	}
}

func TestSatJSON(t *testing.T) {
	b, err := json.Marshal(Unbounded)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"unbounded"` {
		t.Errorf("marshal of top = %s, want \"unbounded\"", string(b))
	}
	var back Sat
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.IsUnbounded() {
		t.Errorf("round trip of top = %v", back)
	}
	b, err = json.Marshal(Sat(42))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "42" {
		t.Errorf("marshal of 42 = %s", string(b))
	}
	if err := json.Unmarshal([]byte("bogus"), &back); err == nil {
		t.Error("expected error unmarshalling garbage")
	}
}

func TestCostMaxPointwise(t *testing.T) {
	a := Cost{Cycles: 10, Allocs: 1, StackBytes: 512, Syscalls: 0}
	b := Cost{Cycles: 3, Allocs: 5, StackBytes: 128, Syscalls: Unbounded}
	got := a.Max(b)
	want := Cost{Cycles: 10, Allocs: 5, StackBytes: 512, Syscalls: Unbounded}
	if got != want {
		t.Errorf("Max = %v, want %v", got, want)
	}
	if got != b.Max(a) {
		t.Error("Max should be commutative")
	}
}

func TestCostAxisRoundTrip(t *testing.T) {
	var c Cost
	for _, a := range []Axis{AxisCycles, AxisAllocs, AxisStackBytes, AxisSyscalls} {
		c.SetAxis(a, Sat(int(a)+1))
	}
	want := Cost{Cycles: 1, Allocs: 2, StackBytes: 3, Syscalls: 4}
	if c != want {
		t.Errorf("SetAxis built %v, want %v", c, want)
	}
	for _, a := range []Axis{AxisCycles, AxisAllocs, AxisStackBytes, AxisSyscalls} {
		if c.Axis(a) != Sat(int(a)+1) {
			t.Errorf("Axis(%v) = %v", a, c.Axis(a))
		}
	}
}

func TestAxisNames(t *testing.T) {
	for _, a := range Axes() {
		parsed, err := ParseAxis(a.String())
		if err != nil {
			t.Fatalf("ParseAxis(%q): %v", a.String(), err)
		}
		if parsed != a {
			t.Errorf("ParseAxis(%q) = %v, want %v", a.String(), parsed, a)
		}
	}
	if _, err := ParseAxis("latency"); err == nil {
		t.Error("expected error for unknown axis name")
	}
}
