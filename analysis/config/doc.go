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

/*
Package config provides the settings of a contract verification run.

Use [Load](filename) to load a configuration from a specific filename.

Use [SetGlobalConfig](filename) to set filename as the global config, and then [LoadGlobal]() to load the global config.

A config file is in yaml format. The top-level fields can be any of the fields defined in the Config
struct type and its embedded Options. For example, a valid config file is as follows:

	log-level: 4
	pkg-filter: "core/.*"
	cache-file: ".pyrite/summaries.json"
	summary-tables:
	  - "tables/libio.yaml"
	trusted:
	  - symbol: "libmath::fastpath::exp_approx"
	    pure: true
	cost-model:
	  alloc-cycles: 25

# Trust assertions

Entries under `trusted` assert summaries for external symbols whose declaring unit ships
no summary table. Assertions are taken at face value by the solver; every use is recorded
in the audit log so reviewers can inventory what was asserted rather than verified.
*/
package config
