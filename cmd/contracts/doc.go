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
The contracts tool checks Pyrite effect contracts against the lowered bundles
produced by the front-end, and prints one blame chain per violated contract
axis.

Usage:

	contracts [flags] bundle.json ...
	contracts [flags] bundle-directory

The flags are:

	-config path      a path to the configuration file naming summary tables,
	                  trust entries, the cost model and the summary cache

	-verbose=false    verbose mode, overrides the config file log level if set

	-audit=false      print every asserted-not-verified summary the verdict
	                  rests on

The exit code is 0 when every contract holds, 1 when violations were found,
and 2 when the analysis itself failed.
*/
package main
