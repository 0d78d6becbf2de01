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

// Package funcutil holds small generic helpers shared across the analysis
// packages.
package funcutil

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// Map applies f to every element of a and returns the results in order.
func Map[T any, S any](a []T, f func(T) S) []S {
	out := make([]S, len(a))
	for i, x := range a {
		out[i] = f(x)
	}
	return out
}

// MapParallel is Map over numRoutines goroutines. Workers claim indices from
// a shared cursor and write straight into the result slot for their index, so
// the output order matches the input regardless of scheduling. f must be safe
// to call concurrently.
func MapParallel[T any, S any](a []T, f func(T) S, numRoutines int) []S {
	if numRoutines <= 0 {
		numRoutines = 1
	}
	if numRoutines > len(a) {
		numRoutines = len(a)
	}
	out := make([]S, len(a))
	if len(a) == 0 {
		return out
	}

	var cursor int64 = -1
	var wg sync.WaitGroup
	wg.Add(numRoutines)
	for w := 0; w < numRoutines; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1))
				if i >= len(a) {
					return
				}
				out[i] = f(a[i])
			}
		}()
	}
	wg.Wait()
	return out
}

// Contains reports whether x occurs in a.
func Contains[T comparable](a []T, x T) bool {
	for _, y := range a {
		if y == x {
			return true
		}
	}
	return false
}

// SetToOrderedSlice returns the members of a boolean-map set, sorted
// ascending. Entries mapped to false are not members.
func SetToOrderedSlice[T constraints.Ordered](set map[T]bool) []T {
	out := make([]T, 0, len(set))
	for x, in := range set {
		if in {
			out = append(out, x)
		}
	}
	slices.Sort(out)
	return out
}
