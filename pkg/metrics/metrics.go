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

// Package metrics defines the domain counters exposed on /metrics
// alongside the Go/process collectors, in the same promauto.With(reg)
// style as the teacher's examples/go/pkg/instrumentationhttp
// middleware rather than package-level prometheus.MustRegister vars.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters the Dispatcher and Notifier update as
// they process resource events (the Dispatcher also counts Sink
// failures). New(nil) returns a usable,
// unregistered set for tests.
type Metrics struct {
	EventsProcessed prometheus.Counter
	DedupHits       prometheus.Counter
	SinkFailures    prometheus.Counter
	WebhookAttempts prometheus.Counter
	WebhookFailures prometheus.Counter
}

// New builds Metrics and registers them with reg. reg may be nil, in
// which case promauto.With leaves the counters unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "k8s_watcher_events_processed_total",
			Help: "Number of watched resource events that matched a label rule and were processed.",
		}),
		DedupHits: f.NewCounter(prometheus.CounterOpts{
			Name: "k8s_watcher_dedup_hits_total",
			Help: "Number of events skipped because their resourceVersion was already processed.",
		}),
		SinkFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "k8s_watcher_sink_failures_total",
			Help: "Number of batches the sink failed to write to disk.",
		}),
		WebhookAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "k8s_watcher_webhook_attempts_total",
			Help: "Number of webhook HTTP requests attempted, including retries.",
		}),
		WebhookFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "k8s_watcher_webhook_failures_total",
			Help: "Number of webhook deliveries that failed after exhausting retries.",
		}),
	}
}
