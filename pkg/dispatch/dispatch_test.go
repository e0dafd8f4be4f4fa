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

package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/wasim-nihal/k8s-watcher/pkg/config"
	"github.com/wasim-nihal/k8s-watcher/pkg/dedup"
	"github.com/wasim-nihal/k8s-watcher/pkg/kresource"
	"github.com/wasim-nihal/k8s-watcher/pkg/notify"
	"github.com/wasim-nihal/k8s-watcher/pkg/sink"
	"github.com/wasim-nihal/k8s-watcher/pkg/watcher"
)

// testOutput builds a config.Output with its unexported file mode
// populated, the same way cmd/k8s-watcher/main.go does via
// config.Config.Validate.
func testOutput(t *testing.T, folder string, uniqueFilenames bool) config.Output {
	t.Helper()
	cfg := &config.Config{Output: config.Output{Folder: folder, UniqueFilenames: uniqueFilenames}}
	require.NoError(t, cfg.Validate())
	return cfg.Output
}

func runDispatcher(t *testing.T, d *Dispatcher, events ...watcher.NormalizedEvent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan watcher.NormalizedEvent, len(events))
	for _, ev := range events {
		in <- ev
	}
	close(in)

	done := make(chan struct{})
	go func() {
		d.Run(ctx, in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("dispatcher did not drain in time")
	}
	cancel()
}

func TestDispatcherWritesFilesForMatchingRule(t *testing.T) {
	dir := t.TempDir()
	out := testOutput(t, dir, false)

	labelRules := []config.LabelRule{{Name: "reload", Value: "true"}}
	d := New(sink.New(), nil, dedup.New(), out, labelRules, false, log.NewNopLogger(), nil)

	ev := watcher.NormalizedEvent{
		Ref:  kresource.Ref{Kind: kresource.KindConfigMap, Namespace: "ns", Name: "app", ResourceVersion: "1"},
		Type: watcher.EventAdded,
		Payload: kresource.Payload{
			Files:  map[string][]byte{"app.conf": []byte("hello")},
			Labels: map[string]string{"reload": "true"},
		},
	}
	runDispatcher(t, d, ev)

	content, err := os.ReadFile(filepath.Join(dir, "ns", "app", "app.conf"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

func TestDispatcherSkipsNonMatchingEvent(t *testing.T) {
	dir := t.TempDir()
	out := testOutput(t, dir, false)

	d := New(sink.New(), nil, dedup.New(), out, []config.LabelRule{{Name: "reload", Value: "true"}}, false, log.NewNopLogger(), nil)
	ev := watcher.NormalizedEvent{
		Ref:     kresource.Ref{Kind: kresource.KindConfigMap, Namespace: "ns", Name: "app"},
		Type:    watcher.EventAdded,
		Payload: kresource.Payload{Files: map[string][]byte{"a": []byte("x")}, Labels: map[string]string{"reload": "false"}},
	}
	runDispatcher(t, d, ev)

	_, err := os.Stat(filepath.Join(dir, "ns", "app"))
	require.True(t, os.IsNotExist(err))
}

func TestDispatcherIgnoresDeletedEvents(t *testing.T) {
	dir := t.TempDir()
	out := testOutput(t, dir, false)

	d := New(sink.New(), nil, dedup.New(), out, []config.LabelRule{{Name: "reload", Value: "true"}}, false, log.NewNopLogger(), nil)
	ev := watcher.NormalizedEvent{
		Ref:     kresource.Ref{Kind: kresource.KindConfigMap, Namespace: "ns", Name: "app"},
		Type:    watcher.EventDeleted,
		Payload: kresource.Payload{Labels: map[string]string{"reload": "true"}},
	}
	runDispatcher(t, d, ev)

	_, err := os.Stat(filepath.Join(dir, "ns", "app"))
	require.True(t, os.IsNotExist(err))
}

func TestDispatcherUniqueFilenames(t *testing.T) {
	dir := t.TempDir()
	out := testOutput(t, dir, true)

	d := New(sink.New(), nil, dedup.New(), out, []config.LabelRule{{Name: "reload", Value: "true"}}, false, log.NewNopLogger(), nil)
	ev := watcher.NormalizedEvent{
		Ref:  kresource.Ref{Kind: kresource.KindConfigMap, Namespace: "ns", Name: "app"},
		Type: watcher.EventAdded,
		Payload: kresource.Payload{
			Files:  map[string][]byte{"a.conf": []byte("x")},
			Labels: map[string]string{"reload": "true"},
		},
	}
	runDispatcher(t, d, ev)

	content, err := os.ReadFile(filepath.Join(dir, "ns", "app-a.conf"))
	require.NoError(t, err)
	require.Equal(t, "x", string(content))
}

func TestDispatcherIgnoreProcessedSkipsRepeatedVersion(t *testing.T) {
	dir := t.TempDir()
	out := testOutput(t, dir, false)

	dedupCache := dedup.New()
	d := New(sink.New(), nil, dedupCache, out, []config.LabelRule{{Name: "reload", Value: "true"}}, true, log.NewNopLogger(), nil)

	ref := kresource.Ref{Kind: kresource.KindConfigMap, Namespace: "ns", Name: "app", ResourceVersion: "1"}
	payload := kresource.Payload{Files: map[string][]byte{"a": []byte("v1")}, Labels: map[string]string{"reload": "true"}}

	runDispatcher(t, d, watcher.NormalizedEvent{Ref: ref, Type: watcher.EventAdded, Payload: payload})
	require.True(t, dedupCache.Seen(ref, "1"))

	// Overwrite the file out-of-band; a repeated rv must not trigger a rewrite.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ns", "app", "a"), []byte("tampered"), 0o644))
	runDispatcher(t, d, watcher.NormalizedEvent{Ref: ref, Type: watcher.EventModified, Payload: payload})

	content, err := os.ReadFile(filepath.Join(dir, "ns", "app", "a"))
	require.NoError(t, err)
	require.Equal(t, "tampered", string(content))
}

func TestDispatcherEnqueuesNotifierJobForMatchingRequestRule(t *testing.T) {
	dir := t.TempDir()
	out := testOutput(t, dir, false)

	n := notify.New(log.NewNopLogger(), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	labelRules := []config.LabelRule{{
		Name: "reload", Value: "true",
		Request: &config.RequestTemplate{URL: "http://127.0.0.1:0", Timeout: 1, Retry: config.Retry{Total: 1, BackoffFactor: 1}},
	}}
	d := New(sink.New(), n, dedup.New(), out, labelRules, false, log.NewNopLogger(), nil)

	ev := watcher.NormalizedEvent{
		Ref:     kresource.Ref{Kind: kresource.KindConfigMap, Namespace: "ns", Name: "app", ResourceVersion: "1"},
		Type:    watcher.EventAdded,
		Payload: kresource.Payload{Files: map[string][]byte{"a": []byte("x")}, Labels: map[string]string{"reload": "true"}},
	}
	// Enqueue must not block or error even though the webhook target is
	// unreachable; the Notifier handles and logs that failure async.
	runDispatcher(t, d, ev)
}
