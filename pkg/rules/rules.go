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

// Package rules implements the exact, case-sensitive label matching
// spec.md §3 invariant (iv) requires, and the "effective output root"
// resolution spec.md §4.3 step 4 describes.
package rules

import (
	"github.com/wasim-nihal/k8s-watcher/pkg/config"
	"github.com/wasim-nihal/k8s-watcher/pkg/kresource"
)

// Matches reports whether rule matches labels: the labels map must
// contain an entry whose key equals rule.Name and whose value equals
// rule.Value exactly, byte-for-byte. Differing case never matches
// (spec.md P4).
func Matches(rule config.LabelRule, labels map[string]string) bool {
	v, ok := labels[rule.Name]
	return ok && v == rule.Value
}

// MatchingRules returns every configured rule that matches the given
// labels, preserving configuration order. A resource is synced iff
// this returns a non-empty slice (spec.md invariant (v)).
func MatchingRules(configured []config.LabelRule, labels map[string]string) []config.LabelRule {
	var matched []config.LabelRule
	for _, rule := range configured {
		if Matches(rule, labels) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// OutputRoot resolves the effective output root for a resource: the
// annotation named by folderAnnotation if present and non-empty,
// otherwise the configured default folder (spec.md §4.3 step 4).
func OutputRoot(out config.Output, payload kresource.Payload) string {
	if out.FolderAnnotation != "" {
		if v, ok := payload.Annotations[out.FolderAnnotation]; ok && v != "" {
			return v
		}
	}
	return out.Folder
}
