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

// Package analysistest loads txtar scenario fixtures for end-to-end tests: a
// config.yaml, one or more front-end bundles, and optionally an "expect" file
// naming the violations the scenario must produce.
package analysistest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/ar-pyrite-tools/analysis"
	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"golang.org/x/tools/txtar"
)

// ExtractTest unpacks the txtar archive into a fresh test directory and
// returns that directory. Relative paths inside the config (summary tables,
// cache file) resolve against it.
func ExtractTest(t *testing.T, archive string) string {
	t.Helper()
	ar, err := txtar.ParseFile(archive)
	if err != nil {
		t.Fatalf("error parsing archive %s: %s", archive, err)
	}
	dir := t.TempDir()
	for _, f := range ar.Files {
		name := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(name), 0750); err != nil {
			t.Fatalf("error creating directory for %s: %s", f.Name, err)
		}
		if err := os.WriteFile(name, f.Data, 0644); err != nil {
			t.Fatalf("error writing %s: %s", f.Name, err)
		}
	}
	return dir
}

// LoadTest unpacks the archive, loads its config.yaml, and merges every
// bundle in the directory into one program.
func LoadTest(t *testing.T, archive string) (*pir.Program, *config.Config, string) {
	t.Helper()
	dir := ExtractTest(t, archive)
	prog, cfg := LoadDir(t, dir)
	return prog, cfg, dir
}

// LoadDir loads config.yaml and the bundles of an already unpacked fixture
// directory. Loading the same directory twice gives cache tests two
// independent runs over identical inputs.
func LoadDir(t *testing.T, dir string) (*pir.Program, *config.Config) {
	t.Helper()
	configFile := filepath.Join(dir, "config.yaml")
	config.SetGlobalConfig(configFile)
	cfg, err := config.LoadGlobal()
	if err != nil {
		t.Fatalf("error loading config from %s: %s", dir, err)
	}

	prog, err := analysis.LoadBundles([]string{dir})
	if err != nil {
		t.Fatalf("error loading bundles from %s: %s", dir, err)
	}
	return prog, cfg
}

// Expectation is one violation a scenario fixture promises, read from its
// "expect" file: one violation code and holder per line, "PC1001 demo::f".
type Expectation struct {
	Code     string
	Function pir.FuncID
}

func (e Expectation) String() string {
	return fmt.Sprintf("%s %s", e.Code, e.Function)
}

// ExpectedViolations parses the fixture's expect file. A fixture without one
// expects a clean run.
func ExpectedViolations(t *testing.T, dir string) []Expectation {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "expect"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []Expectation
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			t.Fatalf("malformed expect line %q in %s", line, dir)
		}
		out = append(out, Expectation{Code: fields[0], Function: pir.FuncID(fields[1])})
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("error reading expect file in %s: %s", dir, err)
	}
	return out
}
