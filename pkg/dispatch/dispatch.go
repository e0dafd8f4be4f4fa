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

// Package dispatch implements the Dispatcher component of spec.md
// §4.3: it converts a NormalizedEvent into filesystem writes via the
// Sink and, for each matching LabelRule with a request or script,
// one Notifier job.
//
// Work is sharded across a fixed pool of goroutines keyed by a hash of
// ResourceRef (SPEC_FULL.md §4.3: "a fixed number of workers draining
// a channel ... sharded by ResourceRef hash so that same-resource
// events serialize"), the same sharding idiom pkg/dedup uses for its
// map, so that the Dispatcher and DedupCache agree on what "the same
// resource" means.
package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/wasim-nihal/k8s-watcher/pkg/config"
	"github.com/wasim-nihal/k8s-watcher/pkg/dedup"
	"github.com/wasim-nihal/k8s-watcher/pkg/kresource"
	"github.com/wasim-nihal/k8s-watcher/pkg/metrics"
	"github.com/wasim-nihal/k8s-watcher/pkg/notify"
	"github.com/wasim-nihal/k8s-watcher/pkg/rules"
	"github.com/wasim-nihal/k8s-watcher/pkg/sink"
	"github.com/wasim-nihal/k8s-watcher/pkg/watcher"
)

// DefaultShards is the width of the Dispatcher's worker pool.
const DefaultShards = 8

// Dispatcher consumes NormalizedEvents and drives the Sink and
// Notifier.
type Dispatcher struct {
	sink            *sink.Sink
	notifier        *notify.Notifier
	dedup           *dedup.Cache
	output          config.Output
	rules           []config.LabelRule
	ignoreProcessed bool
	logger          log.Logger
	shards          int
	metrics         *metrics.Metrics
}

// New builds a Dispatcher. notifier may be nil only in tests that do
// not exercise rules with a Request/Script. m may be nil, in which
// case metrics.New(nil) supplies unregistered counters.
func New(s *sink.Sink, n *notify.Notifier, d *dedup.Cache, output config.Output, labelRules []config.LabelRule, ignoreProcessed bool, logger log.Logger, m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Dispatcher{
		sink:            s,
		notifier:        n,
		dedup:           d,
		output:          output,
		rules:           labelRules,
		ignoreProcessed: ignoreProcessed,
		logger:          logger,
		shards:          DefaultShards,
		metrics:         m,
	}
}

// Run reads events off in and dispatches them until in is closed or
// ctx is cancelled, then returns once every shard has drained.
func (d *Dispatcher) Run(ctx context.Context, in <-chan watcher.NormalizedEvent) {
	lanes := make([]chan watcher.NormalizedEvent, d.shards)
	for i := range lanes {
		lanes[i] = make(chan watcher.NormalizedEvent, 64)
	}

	done := make(chan struct{})
	for i := range lanes {
		go func(lane <-chan watcher.NormalizedEvent) {
			for ev := range lane {
				d.process(ctx, ev)
			}
			done <- struct{}{}
		}(lanes[i])
	}

	for {
		select {
		case ev, ok := <-in:
			if !ok {
				for _, lane := range lanes {
					close(lane)
				}
				for range lanes {
					<-done
				}
				return
			}
			lane := lanes[d.shardFor(ev.Ref)]
			select {
			case lane <- ev:
			case <-ctx.Done():
			}
		case <-ctx.Done():
			for _, lane := range lanes {
				close(lane)
			}
			for range lanes {
				<-done
			}
			return
		}
	}
}

func (d *Dispatcher) shardFor(ref kresource.Ref) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(ref.Key().Kind) + "/" + ref.Key().Namespace + "/" + ref.Key().Name))
	return int(h.Sum32()) % d.shards
}

// process implements spec.md §4.3's eight numbered operations for one
// event.
func (d *Dispatcher) process(ctx context.Context, ev watcher.NormalizedEvent) {
	logger := log.With(d.logger, "ref", ev.Ref.String(), "resourceVersion", ev.Ref.ResourceVersion)

	// 1. Deletions are logged only; no files are removed (non-goal).
	if ev.Type == watcher.EventDeleted {
		level.Info(logger).Log("msg", "Processing resource", "event", ev.Type)
		return
	}

	// 2. Compute matching LabelRules; nothing to do if none match.
	matched := rules.MatchingRules(d.rules, ev.Payload.Labels)
	if len(matched) == 0 {
		return
	}

	// 3. ignoreProcessed short-circuit. This must run before the
	// "Processing resource" log line: the 410-Gone re-list path
	// re-emits a synthetic Added for every item at its unchanged rv,
	// and logging ahead of this guard would print a duplicate line for
	// the same (ref, rv) pair (spec.md P5).
	if d.ignoreProcessed && d.dedup.Seen(ev.Ref, ev.Ref.ResourceVersion) {
		d.metrics.DedupHits.Inc()
		return
	}

	level.Info(logger).Log("msg", "Processing resource", "event", ev.Type)
	d.metrics.EventsProcessed.Inc()

	// 4-6. Resolve the output directory and write every file
	// atomically as a single batch.
	root := rules.OutputRoot(d.output, ev.Payload)
	batch := d.buildBatch(root, ev)
	if err := d.sink.Write(batch); err != nil {
		level.Error(logger).Log("msg", "sink write failed", "err", err)
		d.metrics.SinkFailures.Inc()
		return
	}

	// 7. Mark only once every file in the batch is durably written.
	d.dedup.Mark(ev.Ref, ev.Ref.ResourceVersion)

	// 8. Enqueue one Notifier job per matching rule carrying a request
	// template or script.
	if d.notifier == nil {
		return
	}
	for _, rule := range matched {
		if rule.Request == nil && rule.Script == "" {
			continue
		}
		job := notify.Job{
			Ref:   ev.Ref,
			Event: notify.EventKind(ev.Type),
			Rule:  rule,
		}
		if err := d.notifier.Enqueue(ctx, job); err != nil {
			level.Warn(logger).Log("msg", "dropping notification, shutting down", "err", err)
			return
		}
	}
}

// buildBatch resolves the per-resource directory and filenames per
// spec.md §4.3 step 5: one subdirectory per resource by default, or a
// flat per-namespace directory with name-prefixed files when
// uniqueFilenames is set.
func (d *Dispatcher) buildBatch(root string, ev watcher.NormalizedEvent) sink.Batch {
	ns := ev.Ref.Namespace
	name := ev.Ref.Name

	if !d.output.UniqueFilenames {
		dir := filepath.Join(root, ns, name)
		return sink.Batch{Dir: dir, Files: ev.Payload.Files, Mode: d.output.FileMode()}
	}

	dir := filepath.Join(root, ns)
	files := make(map[string][]byte, len(ev.Payload.Files))
	for key, content := range ev.Payload.Files {
		files[fmt.Sprintf("%s-%s", name, key)] = content
	}
	return sink.Batch{Dir: dir, Files: files, Mode: d.output.FileMode()}
}
