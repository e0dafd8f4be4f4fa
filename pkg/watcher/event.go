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

package watcher

import "github.com/wasim-nihal/k8s-watcher/pkg/kresource"

// EventType is the normalized event kind the WatchEngine emits
// (spec.md §4.1).
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// NormalizedEvent is the WatchEngine's output: a decoded resource
// change, independent of the underlying watch/list transport.
type NormalizedEvent struct {
	Ref     kresource.Ref
	Payload kresource.Payload
	Type    EventType
}
