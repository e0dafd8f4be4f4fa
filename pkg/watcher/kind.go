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

// kind.go models "which Kubernetes type" as a small capability-set
// interface rather than an inheritance tree, per spec.md §9's
// "Polymorphism over Kind" redesign note: adding a new watched kind is
// one new implementation of resourceKind.
package watcher

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/wasim-nihal/k8s-watcher/pkg/kresource"
)

// resourceKind is the capability set spec.md §9 describes:
// listAll(ns), watch(ns, rv), decodePayload(raw).
type resourceKind interface {
	Kind() kresource.Kind
	List(ctx context.Context, client kubernetes.Interface, namespace string) (items []decodedItem, resourceVersion string, err error)
	Watch(ctx context.Context, client kubernetes.Interface, namespace, resourceVersion string, serverTimeoutSeconds int) (watch.Interface, error)
	Decode(obj interface{}) (kresource.Ref, kresource.Payload, bool)
}

// decodedItem is one object from a List call, pre-decoded.
type decodedItem struct {
	Ref     kresource.Ref
	Payload kresource.Payload
}

type configMapKind struct{}

func (configMapKind) Kind() kresource.Kind { return kresource.KindConfigMap }

func (configMapKind) List(ctx context.Context, client kubernetes.Interface, namespace string) ([]decodedItem, string, error) {
	list, err := client.CoreV1().ConfigMaps(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("listing configmaps in %q: %w", namespace, err)
	}
	items := make([]decodedItem, 0, len(list.Items))
	for i := range list.Items {
		cm := &list.Items[i]
		items = append(items, decodedItem{
			Ref: kresource.Ref{
				Kind:            kresource.KindConfigMap,
				Namespace:       cm.Namespace,
				Name:            cm.Name,
				ResourceVersion: cm.ResourceVersion,
			},
			Payload: kresource.FromConfigMap(cm),
		})
	}
	return items, list.ResourceVersion, nil
}

func (configMapKind) Watch(ctx context.Context, client kubernetes.Interface, namespace, resourceVersion string, serverTimeoutSeconds int) (watch.Interface, error) {
	w, err := client.CoreV1().ConfigMaps(namespace).Watch(ctx, listOptionsWithTimeout(resourceVersion, serverTimeoutSeconds))
	if err != nil {
		return nil, fmt.Errorf("watching configmaps in %q from %q: %w", namespace, resourceVersion, err)
	}
	return w, nil
}

func (configMapKind) Decode(obj interface{}) (kresource.Ref, kresource.Payload, bool) {
	cm, ok := obj.(*corev1.ConfigMap)
	if !ok {
		return kresource.Ref{}, kresource.Payload{}, false
	}
	return kresource.Ref{
		Kind:            kresource.KindConfigMap,
		Namespace:       cm.Namespace,
		Name:            cm.Name,
		ResourceVersion: cm.ResourceVersion,
	}, kresource.FromConfigMap(cm), true
}

type secretKind struct{}

func (secretKind) Kind() kresource.Kind { return kresource.KindSecret }

func (secretKind) List(ctx context.Context, client kubernetes.Interface, namespace string) ([]decodedItem, string, error) {
	list, err := client.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("listing secrets in %q: %w", namespace, err)
	}
	items := make([]decodedItem, 0, len(list.Items))
	for i := range list.Items {
		s := &list.Items[i]
		items = append(items, decodedItem{
			Ref: kresource.Ref{
				Kind:            kresource.KindSecret,
				Namespace:       s.Namespace,
				Name:            s.Name,
				ResourceVersion: s.ResourceVersion,
			},
			Payload: kresource.FromSecret(s),
		})
	}
	return items, list.ResourceVersion, nil
}

func (secretKind) Watch(ctx context.Context, client kubernetes.Interface, namespace, resourceVersion string, serverTimeoutSeconds int) (watch.Interface, error) {
	w, err := client.CoreV1().Secrets(namespace).Watch(ctx, listOptionsWithTimeout(resourceVersion, serverTimeoutSeconds))
	if err != nil {
		return nil, fmt.Errorf("watching secrets in %q from %q: %w", namespace, resourceVersion, err)
	}
	return w, nil
}

func (secretKind) Decode(obj interface{}) (kresource.Ref, kresource.Payload, bool) {
	s, ok := obj.(*corev1.Secret)
	if !ok {
		return kresource.Ref{}, kresource.Payload{}, false
	}
	return kresource.Ref{
		Kind:            kresource.KindSecret,
		Namespace:       s.Namespace,
		Name:            s.Name,
		ResourceVersion: s.ResourceVersion,
	}, kresource.FromSecret(s), true
}

// kindsFor resolves the configured resources.type into the set of
// resourceKind implementations to run streams for.
func kindsFor(t string) []resourceKind {
	switch t {
	case "configmap":
		return []resourceKind{configMapKind{}}
	case "secret":
		return []resourceKind{secretKind{}}
	default:
		return []resourceKind{configMapKind{}, secretKind{}}
	}
}
