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

package contracts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
)

// Trust is an asserted summary for an external declaration, parsed from a
// pure or trusted(...) attribute or built from a config trust entry. Nothing
// verifies it; the provider records every use for the audit report.
type Trust struct {
	// Pure asserts the bottom summary: no effects, zero cost.
	Pure bool
	// Effects are the asserted effect kinds.
	Effects effects.Set
	// Explicitly asserted axes. A nil axis defaults to zero, except where the
	// asserted effect set implies activity on it (alloc implies allocs, and
	// so on), in which case it defaults to unbounded: the author asserted the
	// behavior without bounding it.
	Cycles     *uint64
	Allocs     *uint64
	StackBytes *uint64
	Syscalls   *uint64
	MaxCopy    *uint64
}

// effectsListRe captures the effects=[...] element of a trusted payload,
// which has to come out before the payload splits on commas.
var effectsListRe = regexp.MustCompile(`(?:^|,)\s*effects\s*=\s*\[([^\]]*)\]\s*`)

// ParseTrust extracts the trust assertion from a declaration's attribute
// list, or returns nil when there is none. Contract clauses and unknown
// attributes are skipped.
func ParseTrust(attrs []string) (*Trust, error) {
	var t *Trust
	for _, attr := range attrs {
		m := attrRe.FindStringSubmatch(attr)
		if m == nil {
			continue
		}
		name, payload := m[1], m[2]
		switch name {
		case "pure":
			if err := rejectPayload(attr, payload); err != nil {
				return nil, err
			}
			if t == nil {
				t = &Trust{Pure: true}
			}
		case "trusted":
			parsed, err := parseTrusted(attr, payload)
			if err != nil {
				return nil, err
			}
			if t == nil {
				t = parsed
			}
		}
	}
	return t, nil
}

func parseTrusted(attr, payload string) (*Trust, error) {
	t := &Trust{}
	if m := effectsListRe.FindStringSubmatch(payload); m != nil {
		for _, name := range strings.Split(m[1], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			k, err := effects.ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("malformed attribute %q: %v", attr, err)
			}
			t.Effects = t.Effects.With(k)
		}
		payload = effectsListRe.ReplaceAllString(payload, "")
	}
	for _, part := range strings.Split(payload, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m := pairRe.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("malformed attribute %q: bad trusted element %q", attr, strings.TrimSpace(part))
		}
		v, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed attribute %q: %v", attr, err)
		}
		switch m[1] {
		case "cycles":
			t.Cycles = &v
		case "allocs":
			t.Allocs = &v
		case "stack_bytes":
			t.StackBytes = &v
		case "syscalls":
			t.Syscalls = &v
		case "max_copy":
			t.MaxCopy = &v
		default:
			return nil, fmt.Errorf("malformed attribute %q: unknown trusted axis %q", attr, m[1])
		}
	}
	return t, nil
}

// Summary synthesizes the asserted summary. Pure is the bottom element; for
// trusted(...), named axes take their asserted values, and an unnamed axis is
// zero unless the asserted effect set implies it, in which case the assertion
// left the behavior unbounded.
func (t Trust) Summary() effects.Summary {
	s := effects.Bottom()
	s.Asserted = true
	if t.Pure {
		return s
	}
	s.Effects = t.Effects
	s.Cost.Cycles = axisValue(t.Cycles, false)
	s.Cost.Allocs = axisValue(t.Allocs, t.Effects.Has(effects.Alloc))
	s.Cost.StackBytes = axisValue(t.StackBytes, false)
	s.Cost.Syscalls = axisValue(t.Syscalls, t.Effects.Has(effects.Syscall))
	s.MaxCopy = axisValue(t.MaxCopy, t.Effects.Has(effects.Copy))
	return s
}

func axisValue(asserted *uint64, implied bool) effects.Sat {
	if asserted != nil {
		return effects.Sat(*asserted)
	}
	if implied {
		return effects.Unbounded
	}
	return 0
}
