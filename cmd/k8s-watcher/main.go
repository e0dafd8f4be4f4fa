// Copyright 2021 Google LLC
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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/wasim-nihal/k8s-watcher/pkg/config"
	"github.com/wasim-nihal/k8s-watcher/pkg/dedup"
	"github.com/wasim-nihal/k8s-watcher/pkg/dispatch"
	"github.com/wasim-nihal/k8s-watcher/pkg/klog"
	"github.com/wasim-nihal/k8s-watcher/pkg/metrics"
	"github.com/wasim-nihal/k8s-watcher/pkg/notify"
	"github.com/wasim-nihal/k8s-watcher/pkg/sink"
	"github.com/wasim-nihal/k8s-watcher/pkg/watcher"
)

// Exit codes per spec.md §6: 0 graceful shutdown, 1 configuration
// error, 2 fatal runtime error (repeated 401/403, unwritable root).
const (
	exitOK           = 0
	exitConfigError  = 1
	exitFatalRuntime = 2
)

func main() {
	var kubeconfig *string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = flag.String("kubeconfig", filepath.Join(home, ".kube", "config"), "(optional) absolute path to the kubeconfig file")
	} else {
		kubeconfig = flag.String("kubeconfig", "", "absolute path to the kubeconfig file")
	}
	var (
		configFile  = flag.String("config", "", "path to the watcher YAML configuration file")
		metricsAddr = flag.String("metrics-addr", ":8080", "address on which to expose /metrics")
	)
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "-config is required")
		os.Exit(exitConfigError)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %s\n", err)
		os.Exit(exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %s\n", err)
		os.Exit(exitConfigError)
	}

	format, err := klog.ParseFormat(cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %s\n", err)
		os.Exit(exitConfigError)
	}
	logger := klog.New(os.Stderr, cfg.Logging.Level, format)

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		restCfg, err = clientcmd.BuildConfigFromFlags("", *kubeconfig)
	}
	if err != nil {
		level.Error(logger).Log("msg", "building kubeconfig failed", "err", err)
		os.Exit(exitConfigError)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		level.Error(logger).Log("msg", "building kubernetes client failed", "err", err)
		os.Exit(exitConfigError)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	domainMetrics := metrics.New(reg)

	engine := watcher.New(client, cfg.Kubernetes.Namespace, cfg.Resources, log.With(logger, "component", "watch-engine"))
	dedupCache := dedup.New()
	sinkW := sink.New()
	notifier := notify.New(log.With(logger, "component", "notifier"), notify.DefaultWorkers, domainMetrics)
	dispatcher := dispatch.New(sinkW, notifier, dedupCache, cfg.Output, cfg.Resources.Labels, cfg.Resources.WatchConfig.IgnoreProcessed, log.With(logger, "component", "dispatcher"), domainMetrics)

	ctx, cancel := context.WithCancel(context.Background())

	var g run.Group
	{
		// WatchEngine: produces NormalizedEvents until Stop is called.
		g.Add(func() error {
			engine.Start(ctx)
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
			engine.Stop()
		})
	}
	{
		// Fatal signal from the WatchEngine (repeated auth failure):
		// this actor's exit carries the fatal error through run.Group
		// so main can select exit code 2.
		g.Add(func() error {
			select {
			case err := <-engine.Fatal():
				return fatalError{err}
			case <-ctx.Done():
				return nil
			}
		}, func(error) {
			cancel()
		})
	}
	{
		// Dispatcher: drains the WatchEngine's event channel.
		g.Add(func() error {
			dispatcher.Run(ctx, engine.Events())
			return nil
		}, func(error) {
			cancel()
		})
	}
	{
		// Notifier: drains the webhook/script job queue.
		g.Add(func() error {
			return notifier.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		term := make(chan os.Signal, 1)
		done := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)

		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
			case <-done:
			}
			return nil
		}, func(error) {
			close(done)
			cancel()
		})
	}
	{
		server := &http.Server{Addr: *metricsAddr}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server.Handler = mux

		g.Add(func() error {
			level.Info(logger).Log("msg", "starting metrics server", "addr", *metricsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Run(); err != nil {
		if fe, ok := err.(fatalError); ok {
			level.Error(logger).Log("msg", "fatal runtime error", "err", fe.err)
			os.Exit(exitFatalRuntime)
		}
		level.Error(logger).Log("msg", "running k8s-watcher failed", "err", err)
		os.Exit(exitFatalRuntime)
	}
	os.Exit(exitOK)
}

// fatalError marks a run.Group actor error as spec.md §6's exit code
// 2 case, distinguishing it from an ordinary actor failure.
type fatalError struct {
	err error
}

func (f fatalError) Error() string { return f.err.Error() }
func (f fatalError) Unwrap() error { return f.err }
