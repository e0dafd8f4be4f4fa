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

package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasim-nihal/k8s-watcher/pkg/config"
	"github.com/wasim-nihal/k8s-watcher/pkg/kresource"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		doc    string
		rule   config.LabelRule
		labels map[string]string
		want   bool
	}{
		{
			doc:    "exact match",
			rule:   config.LabelRule{Name: "reload", Value: "true"},
			labels: map[string]string{"reload": "true"},
			want:   true,
		},
		{
			doc:    "value mismatch",
			rule:   config.LabelRule{Name: "reload", Value: "true"},
			labels: map[string]string{"reload": "false"},
			want:   false,
		},
		{
			doc:    "case differs, no match",
			rule:   config.LabelRule{Name: "reload", Value: "True"},
			labels: map[string]string{"reload": "true"},
			want:   false,
		},
		{
			doc:    "key absent",
			rule:   config.LabelRule{Name: "reload", Value: "true"},
			labels: map[string]string{"other": "true"},
			want:   false,
		},
	}
	for _, c := range cases {
		t.Run(c.doc, func(t *testing.T) {
			require.Equal(t, c.want, Matches(c.rule, c.labels))
		})
	}
}

func TestMatchingRulesPreservesOrder(t *testing.T) {
	rulesCfg := []config.LabelRule{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
		{Name: "c", Value: "3"},
	}
	labels := map[string]string{"a": "1", "c": "3"}

	got := MatchingRules(rulesCfg, labels)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Name)
	require.Equal(t, "c", got[1].Name)
}

func TestMatchingRulesEmpty(t *testing.T) {
	got := MatchingRules([]config.LabelRule{{Name: "a", Value: "1"}}, map[string]string{"a": "2"})
	require.Empty(t, got)
}

func TestOutputRoot(t *testing.T) {
	out := config.Output{Folder: "/data", FolderAnnotation: "watcher/output-dir"}

	withAnnotation := kresource.Payload{Annotations: map[string]string{"watcher/output-dir": "/custom"}}
	require.Equal(t, "/custom", OutputRoot(out, withAnnotation))

	withEmptyAnnotation := kresource.Payload{Annotations: map[string]string{"watcher/output-dir": ""}}
	require.Equal(t, "/data", OutputRoot(out, withEmptyAnnotation))

	noAnnotation := kresource.Payload{}
	require.Equal(t, "/data", OutputRoot(out, noAnnotation))
}
