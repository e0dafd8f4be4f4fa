// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog builds the watcher's structured logger.
//
// It mirrors the teacher binaries' logging setup
// (cmd/config-reloader, cmd/operator): a go-kit/log logger with a
// selectable encoding (logfmt or JSON) and level filtering driven by
// configuration rather than build tags.
package klog

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Format selects the wire encoding of log lines.
type Format string

const (
	FormatLogfmt Format = "LOGFMT"
	FormatJSON   Format = "JSON"
)

// Level names accepted in the YAML config's logging.level field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// New builds a leveled logger writing to w in the given format.
// An unrecognized level defaults to INFO; an unrecognized format
// defaults to logfmt.
func New(w io.Writer, levelName string, format Format) log.Logger {
	var logger log.Logger
	if format == FormatJSON {
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(logger, levelOption(levelName))
}

func levelOption(name string) level.Option {
	switch strings.ToUpper(name) {
	case LevelDebug:
		return level.AllowDebug()
	case LevelWarn:
		return level.AllowWarn()
	case LevelError:
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// ParseFormat validates a logging.format config value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(s) {
	case "", string(FormatLogfmt):
		return FormatLogfmt, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown logging format %q", s)
	}
}

// With returns a child logger carrying an additional key/value pair,
// the idiom used throughout pkg/secrets and cmd/*/main.go in the teacher.
func With(logger log.Logger, keyvals ...interface{}) log.Logger {
	return log.With(logger, keyvals...)
}
