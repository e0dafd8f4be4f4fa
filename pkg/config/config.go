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

// Package config loads and validates the watcher's YAML configuration.
//
// The schema, and the classification of a bad config as a fatal
// startup error, follows the teacher's config-loading idiom
// (pkg/secrets/manager.go uses gopkg.in/yaml.v2 for the same purpose).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// ResourceType selects which Kubernetes kinds are watched.
type ResourceType string

const (
	ResourceConfigMap ResourceType = "configmap"
	ResourceSecret     ResourceType = "secret"
	ResourceBoth       ResourceType = "both"
)

// Method selects the watch transport.
type Method string

const (
	MethodWatch Method = "WATCH"
	MethodSleep Method = "SLEEP"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Output     Output     `yaml:"output"`
	Kubernetes Kubernetes `yaml:"kubernetes"`
	Resources  Resources  `yaml:"resources"`
	Logging    Logging    `yaml:"logging"`
}

// Output configures the Sink.
type Output struct {
	Folder           string `yaml:"folder"`
	FolderAnnotation string `yaml:"folderAnnotation"`
	UniqueFilenames  bool   `yaml:"uniqueFilenames"`
	DefaultFileMode  string `yaml:"defaultFileMode"`

	// fileMode is DefaultFileMode parsed as an octal os.FileMode; populated by Validate.
	fileMode os.FileMode
}

// FileMode returns the parsed file mode. Validate must be called first.
func (o Output) FileMode() os.FileMode { return o.fileMode }

// Kubernetes configures which namespace(s) are watched.
type Kubernetes struct {
	Namespace string `yaml:"namespace"`
}

// Resources configures the WatchEngine and the label rules.
type Resources struct {
	Type        ResourceType `yaml:"type"`
	Method      Method       `yaml:"method"`
	WatchConfig WatchConfig  `yaml:"watchConfig"`
	Labels      []LabelRule  `yaml:"labels"`
}

// WatchConfig tunes the WatchEngine.
type WatchConfig struct {
	ServerTimeout     int  `yaml:"serverTimeout"`
	ClientTimeout     int  `yaml:"clientTimeout"`
	ErrorThrottleTime int  `yaml:"errorThrottleTime"`
	IgnoreProcessed   bool `yaml:"ignoreProcessed"`
}

// LabelRule is an operator-declared trigger: a label selector plus an
// optional notification action.
type LabelRule struct {
	Name    string           `yaml:"name"`
	Value   string           `yaml:"value"`
	Request *RequestTemplate `yaml:"request,omitempty"`
	Script  string           `yaml:"script,omitempty"`
}

// BasicAuth holds static webhook credentials.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Auth wraps the supported webhook authentication schemes.
type Auth struct {
	Basic *BasicAuth `yaml:"basic,omitempty"`
}

// Retry bounds the Notifier's exponential backoff.
type Retry struct {
	Total         int     `yaml:"total"`
	BackoffFactor float64 `yaml:"backoffFactor"`
}

// RequestTemplate describes a webhook call fired after a resource is synced.
type RequestTemplate struct {
	URL           string `yaml:"url"`
	Method        string `yaml:"method"`
	Timeout       int    `yaml:"timeout"`
	SkipTLSVerify bool   `yaml:"skipTLSVerify"`
	Auth          *Auth  `yaml:"auth,omitempty"`
	Retry         Retry  `yaml:"retry"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the YAML file at path. It does not validate;
// call Validate separately so callers can distinguish parse errors
// from semantic ones.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the semantic constraints spec.md §7 classifies as
// fatal config errors: a missing output folder, an invalid file mode,
// clientTimeout <= serverTimeout, and malformed label rules.
func (c *Config) Validate() error {
	if c.Output.Folder == "" {
		return fmt.Errorf("output.folder is required")
	}
	mode, err := parseFileMode(c.Output.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("output.defaultFileMode: %w", err)
	}
	c.Output.fileMode = mode

	switch c.Resources.Type {
	case "", ResourceConfigMap, ResourceSecret, ResourceBoth:
	default:
		return fmt.Errorf("resources.type must be one of configmap, secret, both, got %q", c.Resources.Type)
	}

	switch c.Resources.Method {
	case "", MethodWatch, MethodSleep:
	default:
		return fmt.Errorf("resources.method must be WATCH or SLEEP, got %q", c.Resources.Method)
	}

	wc := c.Resources.WatchConfig
	if wc.ServerTimeout > 0 && wc.ClientTimeout > 0 && wc.ClientTimeout <= wc.ServerTimeout {
		return fmt.Errorf("resources.watchConfig.clientTimeout (%d) must exceed serverTimeout (%d)", wc.ClientTimeout, wc.ServerTimeout)
	}

	for i, rule := range c.Resources.Labels {
		if rule.Name == "" {
			return fmt.Errorf("resources.labels[%d]: name is required", i)
		}
		if rule.Request != nil && rule.Script != "" {
			return fmt.Errorf("resources.labels[%d] %q: request and script are mutually exclusive", i, rule.Name)
		}
		if rule.Request != nil {
			if rule.Request.URL == "" {
				return fmt.Errorf("resources.labels[%d] %q: request.url is required", i, rule.Name)
			}
			if rule.Request.Method == "" {
				rule.Request.Method = "POST"
				c.Resources.Labels[i] = rule
			}
		}
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logging.level must be DEBUG, INFO, WARN or ERROR, got %q", c.Logging.Level)
	}

	return nil
}

// EffectiveType returns the set of kinds to watch, resolving the
// default (both) when Type is unset.
func (r Resources) EffectiveType() ResourceType {
	if r.Type == "" {
		return ResourceBoth
	}
	return r.Type
}

// EffectiveMethod resolves the default watch method (WATCH).
func (r Resources) EffectiveMethod() Method {
	if r.Method == "" {
		return MethodWatch
	}
	return r.Method
}

func parseFileMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0o644, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal file mode %q: %w", s, err)
	}
	return os.FileMode(v), nil
}
