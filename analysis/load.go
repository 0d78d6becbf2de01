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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"golang.org/x/exp/slices"
)

// BundleSuffix is the extension the front-end gives to lowered unit bundles.
const BundleSuffix = ".json"

// LoadBundles reads front-end bundles into one merged program. Each argument
// is either a bundle file or a directory whose bundles are loaded in sorted
// order, so the same arguments always produce the same program.
func LoadBundles(args []string) (*pir.Program, error) {
	files, err := bundleFiles(args)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no bundles to load")
	}

	prog := pir.NewProgram()
	for _, filename := range files {
		unit, err := loadBundle(filename)
		if err != nil {
			return nil, err
		}
		if err := prog.AddUnit(unit); err != nil {
			return nil, fmt.Errorf("failed to merge bundle %s: %v", filename, err)
		}
	}
	return prog, nil
}

// bundleFiles expands the arguments into the list of bundle files to load.
func bundleFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to load bundles: %v", err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle directory %s: %v", arg, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), BundleSuffix) {
				files = append(files, filepath.Join(arg, entry.Name()))
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

func loadBundle(filename string) (*pir.Unit, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %v", filename, err)
	}
	var unit pir.Unit
	if err := json.Unmarshal(data, &unit); err != nil {
		return nil, fmt.Errorf("failed to decode bundle %s: %v", filename, err)
	}
	if unit.Name == "" {
		// The unit name keys diagnostics and table lookups; default it to the
		// file name rather than rejecting hand-written bundles.
		unit.Name = strings.TrimSuffix(filepath.Base(filename), BundleSuffix)
	}
	return &unit, nil
}
