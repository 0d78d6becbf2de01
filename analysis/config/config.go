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

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config holds the settings of a contract verification run.
// If some field is not defined in the config file, it will be empty/zero in the struct.
// private fields are not populated from a yaml file, but computed after initialization
type Config struct {
	Options `yaml:",inline"`

	sourceFile string

	// if the PkgFilter is specified
	pkgFilterRegex *regexp.Regexp

	// SummaryTables lists paths to yaml files containing precomputed effect summaries
	// for external symbols, one table per dependency unit. Paths are relative to the
	// config file.
	SummaryTables []string `yaml:"summary-tables"`

	// Trusted is a side-table of trust assertions for external symbols that carry no
	// attribute in their declaring unit. Every entry is recorded in the audit log as
	// asserted, not verified.
	Trusted []TrustEntry `yaml:"trusted"`

	// CostModel sets the constants of the static cost model.
	CostModel CostModel `yaml:"cost-model"`
}

// TrustEntry asserts the effect summary of one external symbol from the config file.
// A pure entry asserts the empty summary. Otherwise the entry lists the effect kinds
// the symbol may have and optional cost bounds; a cost axis left nil is unbounded.
type TrustEntry struct {
	// Symbol is the fully qualified symbol, e.g. "libmath::fastpath::exp_approx"
	Symbol string `yaml:"symbol"`

	// Pure asserts that the symbol has no effects and negligible cost
	Pure bool `yaml:"pure"`

	// Effects lists the asserted effect kinds (alloc, copy, syscall, panic,
	// recursion, dynamic_dispatch)
	Effects []string `yaml:"effects"`

	// Cycles, Allocs, StackBytes, Syscalls bound the asserted cost; nil means unbounded
	Cycles     *uint64 `yaml:"cycles"`
	Allocs     *uint64 `yaml:"allocs"`
	StackBytes *uint64 `yaml:"stack-bytes"`
	Syscalls   *uint64 `yaml:"syscalls"`

	// MaxCopy bounds the widest copied value in bytes; nil means unbounded
	MaxCopy *uint64 `yaml:"max-copy"`
}

// CostModel holds the constants used to price IR operations that carry no cycle
// estimate from the front-end. The version tag participates in cache fingerprints so
// that changing the model invalidates cached summaries.
type CostModel struct {
	// Version tags the model; bump it when changing any constant below
	Version string `yaml:"version"`

	// DefaultOpCycles is the cycle cost of an operation with no front-end estimate
	DefaultOpCycles uint64 `yaml:"default-op-cycles"`

	// AllocCycles is the cycle cost of one heap allocation
	AllocCycles uint64 `yaml:"alloc-cycles"`

	// SyscallCycles is the cycle cost of one system call boundary crossing
	SyscallCycles uint64 `yaml:"syscall-cycles"`

	// CallOverheadCycles is the cycle cost added per call site
	CallOverheadCycles uint64 `yaml:"call-overhead-cycles"`

	// CopyBytesPerCycle divides copied bytes into cycles, minimum one cycle per copy
	CopyBytesPerCycle uint64 `yaml:"copy-bytes-per-cycle"`
}

type Options struct {
	// ReportsDir is the directory where summary and audit reports are stored. If the
	// yaml config file does not specify a ReportsDir but sets any Report* option to
	// true, then ReportsDir will be created in the folder the config file is in.
	ReportsDir string `yaml:"reports-dir"`

	// PkgFilter restricts which packages have their contracts checked. Functions
	// outside the filter still contribute summaries. Empty means check everything.
	PkgFilter string `yaml:"pkg-filter"`

	// CacheFile is the path of the incremental summary cache, relative to the config
	// file. Empty disables caching.
	CacheFile string `yaml:"cache-file"`

	// NumWorkers is the number of goroutines used for fact extraction and for solving
	// independent components. Values <= 0 select one worker per CPU.
	NumWorkers int `yaml:"num-workers"`

	// SCCIterationSlack is added to the component size to bound the local fixpoint
	// iterations of a recursive component. Values <= 0 select the default.
	SCCIterationSlack int `yaml:"scc-iteration-slack"`

	// ReportSummaries writes the computed summaries to a summaries-*.out file in the
	// reports directory.
	ReportSummaries bool `yaml:"report-summaries"`

	// ReportAudit writes the asserted-not-verified audit records to an audit-*.out
	// file in the reports directory.
	ReportAudit bool `yaml:"report-audit"`

	// MaxAlarms sets a limit for the number of violations reported. If MaxAlarms > 0,
	// then at most MaxAlarms will be reported. Otherwise it is ignored.
	MaxAlarms int `yaml:"max-alarms"`

	// LogLevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// Suppress warnings
	SilenceWarn bool `yaml:"silence-warn"`
}

// NewDefault returns an empty default config.
func NewDefault() *Config {
	return &Config{
		sourceFile:    "",
		SummaryTables: []string{},
		Trusted:       nil,
		CostModel:     defaultCostModel(),
		Options: Options{
			ReportsDir:        "",
			PkgFilter:         "",
			CacheFile:         "",
			NumWorkers:        0,
			SCCIterationSlack: DefaultSCCIterationSlack,
			ReportSummaries:   false,
			ReportAudit:       false,
			MaxAlarms:         0,
			LogLevel:          int(InfoLevel),
			SilenceWarn:       false,
		},
	}
}

func defaultCostModel() CostModel {
	return CostModel{
		Version:            DefaultCostModelVersion,
		DefaultOpCycles:    1,
		AllocCycles:        30,
		SyscallCycles:      150,
		CallOverheadCycles: 5,
		CopyBytesPerCycle:  8,
	}
}

// Load reads a configuration from a file
func Load(filename string) (*Config, error) {
	cfg := NewDefault()
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if errYaml := yaml.Unmarshal(b, cfg); errYaml != nil {
		return nil, fmt.Errorf("could not unmarshal config file %s: %w", filename, errYaml)
	}

	cfg.sourceFile = filename

	if cfg.ReportSummaries || cfg.ReportAudit {
		if err := setReportsDir(cfg, filename); err != nil {
			return nil, err
		}
	}

	// If logLevel has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}

	if cfg.SCCIterationSlack <= 0 {
		cfg.SCCIterationSlack = DefaultSCCIterationSlack
	}

	// A zero-valued cost model field falls back to the default so that a config
	// file only overrides what it names.
	def := defaultCostModel()
	if cfg.CostModel.Version == "" {
		cfg.CostModel.Version = def.Version
	}
	if cfg.CostModel.DefaultOpCycles == 0 {
		cfg.CostModel.DefaultOpCycles = def.DefaultOpCycles
	}
	if cfg.CostModel.AllocCycles == 0 {
		cfg.CostModel.AllocCycles = def.AllocCycles
	}
	if cfg.CostModel.SyscallCycles == 0 {
		cfg.CostModel.SyscallCycles = def.SyscallCycles
	}
	if cfg.CostModel.CallOverheadCycles == 0 {
		cfg.CostModel.CallOverheadCycles = def.CallOverheadCycles
	}
	if cfg.CostModel.CopyBytesPerCycle == 0 {
		cfg.CostModel.CopyBytesPerCycle = def.CopyBytesPerCycle
	}

	if cfg.PkgFilter != "" {
		r, err := regexp.Compile(cfg.PkgFilter)
		if err == nil {
			cfg.pkgFilterRegex = r
		}
	}

	for i, entry := range cfg.Trusted {
		if entry.Symbol == "" {
			return nil, fmt.Errorf("trusted entry %d in %s has no symbol", i, filename)
		}
	}

	return cfg, nil
}

func setReportsDir(c *Config, filename string) error {
	if c.ReportsDir == "" {
		tmpdir, err := os.MkdirTemp(path.Dir(filename), "*-report")
		if err != nil {
			return fmt.Errorf("could not create temp dir for reports")
		}
		c.ReportsDir = tmpdir
		return nil
	}
	err := os.Mkdir(c.ReportsDir, 0750)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("could not create directory %s", c.ReportsDir)
	}
	return nil
}

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	return path.Join(path.Dir(c.sourceFile), filename)
}

// MatchPkgFilter returns true if the package name pkgname matches the package filter set in the config file. If no
// package filter has been set in the config file, the regex will match anything and return true. This function safely
// considers the case where a filter has been specified by the user, but it could not be compiled to a regex. The safe
// case is to check whether the package filter string is a prefix of the pkgname
func (c Config) MatchPkgFilter(pkgname string) bool {
	if c.pkgFilterRegex != nil {
		return c.pkgFilterRegex.MatchString(pkgname)
	} else if c.PkgFilter != "" {
		return strings.HasPrefix(pkgname, c.PkgFilter)
	} else {
		return true
	}
}

// Verbose returns true is the configuration verbosity setting is larger than Info (i.e. Debug or Trace)
func (c Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}

// ExceedsMaxAlarms returns true if the input exceeds the maximum alarms parameter of the configuration.
// (if the configuration setting is <= 0, then this always returns false)
func (c Config) ExceedsMaxAlarms(n int) bool {
	if c.MaxAlarms <= 0 {
		return false
	}
	return n > c.MaxAlarms
}
