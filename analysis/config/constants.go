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

package config

const (
	// DefaultSCCIterationSlack is the number of extra fixpoint rounds granted to a
	// recursive component beyond its member count before the solver reports
	// non-convergence.
	DefaultSCCIterationSlack = 2

	// DefaultCostModelVersion tags the built-in cost model constants.
	DefaultCostModelVersion = "pyrite-cost-v1"
)
