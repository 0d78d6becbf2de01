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

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/awslabs/ar-pyrite-tools/analysis"
	"github.com/awslabs/ar-pyrite-tools/analysis/checker"
	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/internal/formatutil"
)

var (
	configPath = flag.String("config", "", "Config file path for contract verification")
	verbose    = flag.Bool("verbose", false, "verbose mode, overrides the config file log level")
	audit      = flag.Bool("audit", false, "print every asserted-not-verified summary the verdict rests on")
)

const usage = `Check Pyrite effect contracts against front-end bundles.

Usage:
  contracts [flags] bundle.json ...
  contracts [flags] bundle-directory

Use the -help flag to display the options.

Examples:
% contracts -config config.yaml build/pir/
`

// errViolations distinguishes a completed run that found violations from a
// run that failed; violations have been printed by the time it is returned.
var errViolations = errors.New("contract violations found")

func main() {
	if err := doMain(); err != nil {
		if errors.Is(err, errViolations) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "contracts: %s\n", err)
		os.Exit(2)
	}
}

func doMain() error {
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.NewDefault()
	if *configPath != "" {
		config.SetGlobalConfig(*configPath)
		loaded, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("could not load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if *verbose {
		cfg.LogLevel = int(config.DebugLevel)
	}
	logger := config.NewLogGroup(cfg)

	logger.Infof(formatutil.Faint("Reading bundles"))
	prog, err := analysis.LoadBundles(flag.Args())
	if err != nil {
		return fmt.Errorf("could not load bundles: %v", err)
	}

	state, err := analysis.NewState(prog, logger, cfg)
	if err != nil {
		return err
	}
	result, err := analysis.Verify(state)
	if err != nil {
		return err
	}

	for _, v := range result.Violations {
		printViolation(v)
	}
	if *audit {
		printAudit(result)
	}
	if unresolved := checker.Unresolved(result.Violations); len(unresolved) > 0 {
		logger.Warnf("%d external symbol(s) had no summary; add a summary table row or a trust entry:", len(unresolved))
		for _, sym := range unresolved {
			logger.Warnf("  %s", formatutil.Sanitize(string(sym)))
		}
	}
	logger.Infof("Analyzed %s.", result.Stats)

	if n := len(result.Violations); n > 0 {
		fmt.Println(formatutil.Red(fmt.Sprintf("%d contract violation(s).", n)))
		return errViolations
	}
	fmt.Println(formatutil.Green("All contracts verified."))
	return nil
}

// printViolation renders one violation with its blame chain, one step per
// line, ending at the terminal.
func printViolation(v checker.Violation) {
	header := fmt.Sprintf("%s %s: %s",
		formatutil.Red(string(v.Code)),
		formatutil.Bold(formatutil.Sanitize(string(v.Function))),
		formatutil.Sanitize(v.Message))
	if v.Asserted {
		header += formatutil.Yellow(" [rests on trusted summaries]")
	}
	fmt.Println(header)
	fmt.Printf("    declared %s, observed %s at %v\n",
		formatutil.Sanitize(v.Declared), formatutil.Sanitize(v.Observed), v.Span)
	for _, step := range v.Chain.Steps[1:] {
		if step.CallSite != nil {
			fmt.Printf("    via %s called at %v\n", formatutil.Sanitize(string(step.Function)), *step.CallSite)
		} else {
			fmt.Printf("    via %s\n", formatutil.Sanitize(string(step.Function)))
		}
	}
	fmt.Printf("    %s\n", formatutil.Faint(formatutil.SanitizeRepr(v.Chain.Terminal)))
}

func printAudit(result analysis.VerifyResult) {
	if len(result.Audit) == 0 {
		fmt.Println(formatutil.Green("No trusted summaries were used."))
		return
	}
	fmt.Println(formatutil.Yellow(fmt.Sprintf("%d trusted summaries in use:", len(result.Audit))))
	for _, rec := range result.Audit {
		line := fmt.Sprintf("  %s: %v summary, effects=%v %v max_copy=%v",
			formatutil.Sanitize(string(rec.Symbol)), rec.Origin,
			rec.Summary.Effects, rec.Summary.Cost, rec.Summary.MaxCopy)
		if !rec.Span.IsZero() {
			line += fmt.Sprintf(" declared at %v", rec.Span)
		}
		if rec.Detail != "" {
			line += fmt.Sprintf(" (%s)", formatutil.Sanitize(rec.Detail))
		}
		fmt.Println(line)
	}
}
