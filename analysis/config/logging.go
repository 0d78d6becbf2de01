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
	"io"
	"log"
	"os"
)

// LogLevel selects how verbose a LogGroup is. Each level includes everything
// below it.
type LogLevel int

const (
	// ErrLevel=1 - the minimum level, errors only.
	ErrLevel LogLevel = iota + 1

	// WarnLevel=2 - warnings and errors.
	WarnLevel

	// InfoLevel=3 - high-level progress and results.
	InfoLevel

	// DebugLevel=4 - per-pass detail. The analysis still runs at a usable
	// speed on large programs with this level enabled.
	DebugLevel

	// TraceLevel=5 - per-function detail, only for small test programs.
	TraceLevel
)

var levelPrefixes = [...]string{
	ErrLevel:   "[ERROR] ",
	WarnLevel:  "[WARN] ",
	InfoLevel:  "[INFO] ",
	DebugLevel: "[DEBUG] ",
	TraceLevel: "[TRACE] ",
}

// LogGroup is a leveled logger: one underlying log.Logger per level, gated by
// the configured threshold.
type LogGroup struct {
	level   LogLevel
	loggers [len(levelPrefixes)]*log.Logger
}

// NewLogGroup returns a log group honoring the config's log-level. With
// silence-warn set, warnings are dropped unless the level is already
// errors-only.
func NewLogGroup(config *Config) *LogGroup {
	g := &LogGroup{level: LogLevel(config.LogLevel)}
	for lvl := ErrLevel; lvl <= TraceLevel; lvl++ {
		g.loggers[lvl] = log.New(os.Stderr, levelPrefixes[lvl], log.LstdFlags)
	}
	if config.SilenceWarn && g.level > ErrLevel {
		g.loggers[WarnLevel].SetOutput(io.Discard)
	}
	return g
}

// SetAllOutput redirects every level to the writer provided.
func (l *LogGroup) SetAllOutput(w io.Writer) {
	for lvl := ErrLevel; lvl <= TraceLevel; lvl++ {
		l.loggers[lvl].SetOutput(w)
	}
}

// SetAllFlags sets the flags of every level's logger.
func (l *LogGroup) SetAllFlags(x int) {
	for lvl := ErrLevel; lvl <= TraceLevel; lvl++ {
		l.loggers[lvl].SetFlags(x)
	}
}

func (l *LogGroup) printf(lvl LogLevel, format string, v ...any) {
	if l.level >= lvl {
		l.loggers[lvl].Printf(format, v...)
	}
}

// Tracef logs at trace level. Arguments are handled in the manner of Printf.
func (l *LogGroup) Tracef(format string, v ...any) { l.printf(TraceLevel, format, v...) }

// Debugf logs at debug level. Arguments are handled in the manner of Printf.
func (l *LogGroup) Debugf(format string, v ...any) { l.printf(DebugLevel, format, v...) }

// Infof logs at info level. Arguments are handled in the manner of Printf.
func (l *LogGroup) Infof(format string, v ...any) { l.printf(InfoLevel, format, v...) }

// Warnf logs at warn level. Arguments are handled in the manner of Printf.
func (l *LogGroup) Warnf(format string, v ...any) { l.printf(WarnLevel, format, v...) }

// Errorf logs at error level. Arguments are handled in the manner of Printf.
func (l *LogGroup) Errorf(format string, v ...any) { l.printf(ErrLevel, format, v...) }
