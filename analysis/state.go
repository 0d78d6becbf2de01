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

	"github.com/awslabs/ar-pyrite-tools/analysis/config"
	"github.com/awslabs/ar-pyrite-tools/analysis/incremental"
	"github.com/awslabs/ar-pyrite-tools/analysis/pir"
	"github.com/awslabs/ar-pyrite-tools/analysis/summaries"
)

// State holds everything a verification run needs, and represents the state
// of the analyzer. Different steps of the analysis populate the fields of
// this structure.
type State struct {
	// The logger used during the analysis (can be used to control output)
	Logger *config.LogGroup

	// The configuration file for the analysis
	Config *config.Config

	// The program to be analyzed, merged from the front-end bundles
	// (e.g. loaded by LoadBundles)
	Program *pir.Program

	// Provider resolves summaries for symbols outside the program
	Provider *summaries.Provider

	// Cache is the incremental summary cache; a disabled cache still
	// participates so the manifest is always available
	Cache *incremental.Cache
}

// NewState wires a loaded program to the configuration: the external summary
// provider (built-in and configured tables plus trust entries) and the
// incremental cache named in the config, opened cold when absent or stale.
func NewState(prog *pir.Program, logger *config.LogGroup, cfg *config.Config) (*State, error) {
	provider, err := summaries.NewProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build summary provider: %v", err)
	}

	cachePath := ""
	if cfg.CacheFile != "" {
		cachePath = cfg.RelPath(cfg.CacheFile)
	}
	cache := incremental.Open(cachePath, cfg.CostModel, logger)

	return &State{
		Logger:   logger,
		Config:   cfg,
		Program:  prog,
		Provider: provider,
		Cache:    cache,
	}, nil
}
