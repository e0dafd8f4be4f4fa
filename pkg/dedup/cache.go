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

// Package dedup implements the process-wide de-duplication cache
// described in spec.md §4.2: a map from ResourceRef to the last
// successfully dispatched resourceVersion.
//
// The map is sharded by a hash of the ref (spec.md §5's sharding
// guidance for per-ResourceRef ordering), each shard guarded by its
// own sync.RWMutex, so unrelated resources contend only when they hash
// to the same shard while same-resource access still serializes.
package dedup

import (
	"hash/fnv"
	"sync"

	"github.com/wasim-nihal/k8s-watcher/pkg/kresource"
)

const shardCount = 32

type shard struct {
	mu sync.RWMutex
	m  map[kresource.DedupKey]string
}

// Cache is the DedupCache. The zero value is not usable; use New.
type Cache struct {
	shards [shardCount]*shard
}

// New creates an empty Cache. There is no eviction: the working set is
// bounded by the number of live watched resources (spec.md §4.2).
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{m: make(map[kresource.DedupKey]string)}
	}
	return c
}

func (c *Cache) shardFor(key kresource.DedupKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(key.Kind) + "/" + key.Namespace + "/" + key.Name))
	return c.shards[h.Sum32()%shardCount]
}

// Seen reports whether rv is already recorded for ref, i.e. whether
// Dispatcher should skip this event (spec.md invariant (ii)).
func (c *Cache) Seen(ref kresource.Ref, rv string) bool {
	s := c.shardFor(ref.Key())
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen, ok := s.m[ref.Key()]
	return ok && seen == rv
}

// Mark records that ref was successfully dispatched at rv. Callers
// must only call Mark once the Sink has written every file of the
// event; notifier jobs are not awaited and may still run afterwards
// (spec.md §4.2).
func (c *Cache) Mark(ref kresource.Ref, rv string) {
	s := c.shardFor(ref.Key())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[ref.Key()] = rv
}

// Len returns the number of distinct resources currently tracked, for
// metrics/tests.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
