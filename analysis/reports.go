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

package analysis

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/awslabs/ar-pyrite-tools/analysis/effects"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/analysis/summaries"
)

// reportResults writes the optional report files named in the config. Report
// failures are logged, never fatal: a verification verdict does not depend on
// being able to write a report.
func reportResults(state *State, result VerifyResult) {
	if state.Config.ReportSummaries {
		reportSummaries(state, result.Summaries)
	}
	if state.Config.ReportAudit {
		reportAudit(state, result.Audit)
	}
}

func reportSummaries(state *State, sums map[pir.FuncID]effects.Summary) {
	f, err := os.CreateTemp(state.Config.ReportsDir, "summaries-*.out")
	if err != nil {
		state.Logger.Errorf("Could not create summaries report file.")
		return
	}
	defer f.Close()
	reportPath(state, f.Name(), "summaries")

	ids := make([]pir.FuncID, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		writeSummaryLine(f, id, sums[id])
	}
}

func writeSummaryLine(w io.Writer, id pir.FuncID, sum effects.Summary) {
	line := fmt.Sprintf("%s: effects=%v %v max_copy=%v", id, sum.Effects, sum.Cost, sum.MaxCopy)
	if sum.Asserted {
		line += " (asserted)"
	}
	fmt.Fprintln(w, line)
}

func reportAudit(state *State, audit []summaries.Record) {
	f, err := os.CreateTemp(state.Config.ReportsDir, "audit-*.out")
	if err != nil {
		state.Logger.Errorf("Could not create audit report file.")
		return
	}
	defer f.Close()
	reportPath(state, f.Name(), "audit")

	for _, rec := range audit {
		fmt.Fprintf(f, "%s: %v summary, effects=%v %v max_copy=%v",
			rec.Symbol, rec.Origin, rec.Summary.Effects, rec.Summary.Cost, rec.Summary.MaxCopy)
		if !rec.Span.IsZero() {
			fmt.Fprintf(f, " declared at %v", rec.Span)
		}
		if rec.Detail != "" {
			fmt.Fprintf(f, " (%s)", rec.Detail)
		}
		fmt.Fprintln(f)
	}
}

func reportPath(state *State, name string, kind string) {
	path, err := filepath.Abs(name)
	if err != nil {
		state.Logger.Errorf("Could not find absolute path of %s report file %s.", kind, name)
		path = name
	}
	state.Logger.Infof("Saving %s report in %s", kind, path)
}
