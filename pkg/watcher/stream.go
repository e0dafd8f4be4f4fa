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

// stream.go implements the per-kind state machine from spec.md §4.1:
//
//	CLOSED → CONNECTING → OPEN → (OPEN | CLOSED_CLEAN | CLOSED_ERROR)
//	CLOSED_CLEAN → CONNECTING (immediate, resume)
//	CLOSED_ERROR → BACKOFF → CONNECTING
//	BACKOFF has timer errorThrottleTime + attempt·errorThrottleTime (cap 60s)
//
// It is grounded on the teacher's pkg/secrets/watch.go restart loop
// (one goroutine owns a watch.Interface, reads ResultChan() in a
// select against ctx.Done, and restarts on closure/error with
// jittered backoff) generalized from "one named object" to "a whole
// kind, resumed by resourceVersion" as spec.md §4.1 requires, plus the
// WATCH/SLEEP method switch and the 410-Gone re-list/synthetic-add
// path the teacher never needed.
package watcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/wasim-nihal/k8s-watcher/pkg/config"
)

const (
	maxBackoff            = 60 * time.Second
	authFailureWindow      = 60 * time.Second
	maxAuthFailuresInWindow = 3
)

// stream runs a single watched kind against one namespace, emitting
// NormalizedEvents onto out until ctx is cancelled. lastResourceVersion
// is single-writer: only this goroutine ever mutates it (spec.md §5).
type stream struct {
	kind   resourceKind
	client kubernetes.Interface
	cfg    config.WatchConfig
	method config.Method
	ns     string
	logger log.Logger
	out    chan<- NormalizedEvent

	lastResourceVersion string
	authFailures        []time.Time
	fatal               chan<- error
}

func (s *stream) run(ctx context.Context) {
	if s.method == config.MethodSleep {
		s.runSleep(ctx)
		return
	}
	s.runWatch(ctx)
}

func (s *stream) runWatch(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if s.lastResourceVersion == "" {
			if err := s.establishBaseline(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if s.recordAuthFailureAndCheckFatal(err) {
					return
				}
				attempt = s.backoff(ctx, attempt)
				continue
			}
		}

		w, err := s.kind.Watch(ctx, s.client, s.ns, s.lastResourceVersion, s.cfg.ServerTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			level.Warn(s.logger).Log("msg", "watch request failed", "err", err)
			if apierrors.IsGone(err) {
				s.lastResourceVersion = ""
			}
			if s.recordAuthFailureAndCheckFatal(err) {
				return
			}
			attempt = s.backoff(ctx, attempt)
			continue
		}

		clean, err := s.consume(ctx, w)
		w.Stop()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			level.Warn(s.logger).Log("msg", "watch stream closed with error", "err", err)
			if s.recordAuthFailureAndCheckFatal(err) {
				return
			}
			attempt = s.backoff(ctx, attempt)
			continue
		}
		// CLOSED_CLEAN → CONNECTING immediately, resuming from
		// lastResourceVersion; no backoff, attempt counter resets.
		attempt = 0
		if clean {
			continue
		}
	}
}

// establishBaseline lists every object of this kind, emits a
// synthetic Added event for each (spec.md §4.1's resume-rejection and
// restart paths both fall back to this), and records the list's
// resourceVersion as the new resume point.
func (s *stream) establishBaseline(ctx context.Context) error {
	items, rv, err := s.kind.List(ctx, s.client, s.ns)
	if err != nil {
		return err
	}
	for _, item := range items {
		select {
		case s.out <- NormalizedEvent{Ref: item.Ref, Payload: item.Payload, Type: EventAdded}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.lastResourceVersion = rv
	return nil
}

// consume reads one watch.Interface's ResultChan until it closes
// (clean=true) or yields a terminal error (clean=false, non-nil err).
// A watch.Error event with a 410/Gone/Expired status clears
// lastResourceVersion so the next
// iteration re-lists (spec.md §4.1 "resume rejection").
func (s *stream) consume(ctx context.Context, w watch.Interface) (clean bool, err error) {
	deadline := clientDeadline(ctx, s.cfg.ClientTimeout)
	for {
		select {
		case ev, ok := <-w.ResultChan():
			if !ok {
				return true, nil
			}
			if handled := s.handleEvent(ctx, ev); handled.gone {
				return false, nil // caller re-lists since lastResourceVersion was cleared
			} else if handled.err != nil {
				return false, handled.err
			}
		case <-deadline:
			// Client-side timeout: treat as a clean close and resume.
			return true, nil
		case <-ctx.Done():
			return true, nil
		}
	}
}

type eventOutcome struct {
	gone bool
	err  error
}

func (s *stream) handleEvent(ctx context.Context, ev watch.Event) eventOutcome {
	switch ev.Type {
	case watch.Added, watch.Modified, watch.Deleted:
		ref, payload, ok := s.kind.Decode(ev.Object)
		if !ok {
			return eventOutcome{}
		}
		s.lastResourceVersion = ref.ResourceVersion
		var typ EventType
		switch ev.Type {
		case watch.Added:
			typ = EventAdded
		case watch.Modified:
			typ = EventModified
		case watch.Deleted:
			typ = EventDeleted
		}
		select {
		case s.out <- NormalizedEvent{Ref: ref, Payload: payload, Type: typ}:
		case <-ctx.Done():
		}
		return eventOutcome{}
	case watch.Bookmark:
		return eventOutcome{}
	case watch.Error:
		status, _ := ev.Object.(*metav1.Status)
		if status != nil && (status.Code == 410 || status.Reason == metav1.StatusReasonGone || status.Reason == metav1.StatusReasonExpired) {
			s.lastResourceVersion = ""
			level.Info(s.logger).Log("msg", "resume token expired, re-listing", "kind", s.kind.Kind())
			return eventOutcome{gone: true}
		}
		return eventOutcome{err: apierrors.FromObject(status)}
	}
	return eventOutcome{}
}

// runSleep implements the SLEEP/poll method: a periodic List every
// ServerTimeout seconds, diffed against the previous snapshot keyed by
// ResourceRef (spec.md §4.1).
func (s *stream) runSleep(ctx context.Context) {
	interval := time.Duration(s.cfg.ServerTimeout) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	prev := map[string]decodedItem{}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() error {
		items, _, err := s.kind.List(ctx, s.client, s.ns)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(items))
		for _, item := range items {
			key := item.Ref.Key().Namespace + "/" + item.Ref.Key().Name
			seen[key] = struct{}{}
			old, existed := prev[key]
			typ := EventAdded
			if existed {
				if old.Ref.ResourceVersion == item.Ref.ResourceVersion {
					continue
				}
				typ = EventModified
			}
			prev[key] = item
			select {
			case s.out <- NormalizedEvent{Ref: item.Ref, Payload: item.Payload, Type: typ}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for key, old := range prev {
			if _, ok := seen[key]; !ok {
				delete(prev, key)
				select {
				case s.out <- NormalizedEvent{Ref: old.Ref, Payload: old.Payload, Type: EventDeleted}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	}

	attempt := 0
	if err := poll(); err != nil {
		if s.recordAuthFailureAndCheckFatal(err) {
			return
		}
		attempt = s.backoff(ctx, attempt)
	}

	for {
		select {
		case <-ticker.C:
			if err := poll(); err != nil {
				if ctx.Err() != nil {
					return
				}
				if s.recordAuthFailureAndCheckFatal(err) {
					return
				}
				attempt = s.backoff(ctx, attempt)
				continue
			}
			attempt = 0
		case <-ctx.Done():
			return
		}
	}
}

// backoff sleeps errorThrottleTime + attempt·errorThrottleTime,
// capped at 60s, plus a small jitter (grounded on the teacher's
// pkg/secrets/watch.go restart jitter), and returns the incremented
// attempt count.
func (s *stream) backoff(ctx context.Context, attempt int) int {
	base := time.Duration(s.cfg.ErrorThrottleTime) * time.Second
	if base <= 0 {
		base = time.Second
	}
	delay := base + time.Duration(attempt)*base
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	select {
	case <-time.After(delay + jitter):
	case <-ctx.Done():
	}
	return attempt + 1
}

// recordAuthFailureAndCheckFatal implements spec.md §4.1's "Error
// policy": authentication failures are not retried beyond three
// attempts within a 60s window, after which the engine emits a fatal
// signal (spec.md §7 classification 4).
func (s *stream) recordAuthFailureAndCheckFatal(err error) bool {
	if !apierrors.IsUnauthorized(err) && !apierrors.IsForbidden(err) {
		return false
	}
	now := time.Now()
	cutoff := now.Add(-authFailureWindow)
	kept := s.authFailures[:0]
	for _, t := range s.authFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.authFailures = append(kept, now)
	if len(s.authFailures) >= maxAuthFailuresInWindow {
		select {
		case s.fatal <- err:
		default:
		}
		return true
	}
	return false
}

func clientDeadline(ctx context.Context, clientTimeout int) <-chan time.Time {
	if clientTimeout <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(clientTimeout) * time.Second)
	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	return t.C
}

// listOptionsWithTimeout is used by kind.go's Watch implementations so
// the server-side serverTimeout bound (spec.md §4.1) rides along on
// the watch request itself.
func listOptionsWithTimeout(resourceVersion string, serverTimeoutSeconds int) metav1.ListOptions {
	opts := metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: false,
	}
	if serverTimeoutSeconds > 0 {
		ts := int64(serverTimeoutSeconds)
		opts.TimeoutSeconds = &ts
	}
	return opts
}
