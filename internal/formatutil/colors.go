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

// Package formatutil renders terminal colors and sanitizes strings destined
// for report output.
package formatutil

import (
	"fmt"
	"strconv"

	"golang.org/x/term"
)

// An sgr value is a single Select Graphic Rendition attribute code.
type sgr int

const (
	attrBold   sgr = 1
	attrFaint  sgr = 2
	attrRed    sgr = 31
	attrGreen  sgr = 32
	attrYellow sgr = 33
)

// Styled text helpers. Each wraps its arguments in the matching escape
// sequence when standard output is a terminal and leaves them plain otherwise.
var (
	Bold   = styler(attrBold)
	Faint  = styler(attrFaint)
	Red    = styler(attrBold, attrRed)
	Green  = styler(attrBold, attrGreen)
	Yellow = styler(attrBold, attrYellow)
)

func styler(attrs ...sgr) func(...interface{}) string {
	seq := "\033["
	for i, a := range attrs {
		if i > 0 {
			seq += ";"
		}
		seq += strconv.Itoa(int(a))
	}
	seq += "m"
	return func(args ...interface{}) string {
		s := fmt.Sprint(args...)
		if !term.IsTerminal(1) {
			return s
		}
		return seq + s + "\033[0m"
	}
}

// Sanitize escapes control characters and non-printable bytes so that
// symbol names read from bundles cannot inject escape sequences into
// report output.
func Sanitize(s string) string {
	q := strconv.Quote(s)
	return q[1 : len(q)-1]
}

// SanitizeRepr sanitizes the string representation of an object.
func SanitizeRepr(s fmt.Stringer) string {
	return Sanitize(s.String())
}
