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

// Package kresource holds the watcher's view of a Kubernetes object:
// its identity (ResourceRef), its decoded payload (ResourcePayload),
// and the per-kind decoding rules spec.md §4.3 assigns to ConfigMaps
// and Secrets.
package kresource

import (
	"encoding/base64"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// Kind identifies which Kubernetes object type a ResourceRef names.
// spec.md §1 limits this to the two variants below (Non-goal: no
// further kind discovery).
type Kind string

const (
	KindConfigMap Kind = "ConfigMap"
	KindSecret    Kind = "Secret"
)

// Ref is the identity of a watched object, see spec.md §3 "ResourceRef".
type Ref struct {
	Kind            Kind
	Namespace       string
	Name            string
	ResourceVersion string
}

// String renders the ref for log lines.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Kind, r.Namespace, r.Name)
}

// DedupKey identifies the ref independent of resource version, used
// as the DedupCache map key (spec.md §3 "ProcessedMark").
type DedupKey struct {
	Kind      Kind
	Namespace string
	Name      string
}

// Key strips the resource version, yielding the DedupCache lookup key.
func (r Ref) Key() DedupKey {
	return DedupKey{Kind: r.Kind, Namespace: r.Namespace, Name: r.Name}
}

// Payload is the observed content of a watched object: the decoded
// file map plus the labels/annotations/type needed for rule matching
// and path resolution (spec.md §3 "ResourcePayload").
type Payload struct {
	Files       map[string][]byte
	Labels      map[string]string
	Annotations map[string]string
	Type        string
}

// FromConfigMap decodes a ConfigMap's data/binaryData maps into a
// Payload. Text keys from `data` are kept as UTF-8 bytes; binary keys
// from `binaryData` are already raw bytes once decoded off the wire by
// client-go, so no further transform is needed here — spec.md's
// "base64-decoded to raw bytes" is handled by apimachinery's own JSON
// unmarshaling of the []byte-typed binaryData field.
func FromConfigMap(cm *corev1.ConfigMap) Payload {
	files := make(map[string][]byte, len(cm.Data)+len(cm.BinaryData))
	for k, v := range cm.Data {
		files[k] = []byte(v)
	}
	for k, v := range cm.BinaryData {
		files[k] = v
	}
	return Payload{
		Files:       files,
		Labels:      cm.Labels,
		Annotations: cm.Annotations,
	}
}

// FromSecret decodes a Secret's data map. Every value arrives
// base64-encoded on the wire; client-go's corev1.Secret.Data is
// already []byte once the JSON/protobuf layer decodes it, so, as with
// ConfigMap binaryData, the values need no further decoding here.
// TLS secrets (type kubernetes.io/tls) are treated like any other
// secret, per spec.md §4.3.
func FromSecret(s *corev1.Secret) Payload {
	files := make(map[string][]byte, len(s.Data))
	for k, v := range s.Data {
		files[k] = v
	}
	return Payload{
		Files:       files,
		Labels:      s.Labels,
		Annotations: s.Annotations,
		Type:        string(s.Type),
	}
}

// DecodeRawBinary is a defensive helper for callers that receive
// already-base64 text (e.g. a non-typed JSON blob) instead of
// apimachinery's typed []byte fields. Neither FromConfigMap nor
// FromSecret above uses it, and no other package in this module
// calls it.
func DecodeRawBinary(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return b, nil
}
