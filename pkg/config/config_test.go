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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
output:
  folder: /data/out
  defaultFileMode: "0644"
resources:
  type: both
  method: WATCH
  watchConfig:
    serverTimeout: 300
    clientTimeout: 330
    errorThrottleTime: 1
    ignoreProcessed: true
  labels:
    - name: reload
      value: "true"
      request:
        url: https://example.com/webhook
        retry:
          total: 3
          backoffFactor: 2
logging:
  level: INFO
  format: LOGFMT
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ResourceBoth, cfg.Resources.EffectiveType())
	require.Equal(t, MethodWatch, cfg.Resources.EffectiveMethod())
	require.Equal(t, os.FileMode(0o644), cfg.Output.FileMode())
	require.Equal(t, "POST", cfg.Resources.Labels[0].Request.Method)
}

func TestValidateRequiresOutputFolder(t *testing.T) {
	path := writeConfig(t, "resources:\n  type: both\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidFileMode(t *testing.T) {
	path := writeConfig(t, "output:\n  folder: /data\n  defaultFileMode: \"999\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsClientTimeoutBelowServerTimeout(t *testing.T) {
	path := writeConfig(t, `
output:
  folder: /data
resources:
  watchConfig:
    serverTimeout: 300
    clientTimeout: 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMutuallyExclusiveRequestAndScript(t *testing.T) {
	path := writeConfig(t, `
output:
  folder: /data
resources:
  labels:
    - name: reload
      value: "true"
      script: /bin/reload.sh
      request:
        url: https://example.com/webhook
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownResourceType(t *testing.T) {
	path := writeConfig(t, "output:\n  folder: /data\nresources:\n  type: pod\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
