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

package kresource

import (
	"testing"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestFromConfigMapMergesDataAndBinaryData(t *testing.T) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "app-config",
			Namespace: "default",
			Labels:    map[string]string{"reload": "true"},
		},
		Data: map[string]string{
			"app.conf": "key=value",
		},
		BinaryData: map[string][]byte{
			"cert.der": {0x30, 0x82, 0x01},
		},
	}

	p := FromConfigMap(cm)
	require.Equal(t, []byte("key=value"), p.Files["app.conf"])
	require.Equal(t, []byte{0x30, 0x82, 0x01}, p.Files["cert.der"])
	require.Equal(t, "true", p.Labels["reload"])
}

func TestFromSecretDecodesAllKeysAsBytes(t *testing.T) {
	s := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "tls", Namespace: "default"},
		Type:       corev1.SecretTypeTLS,
		Data: map[string][]byte{
			"tls.crt": []byte("cert-bytes"),
			"tls.key": []byte("key-bytes"),
		},
	}

	p := FromSecret(s)
	require.Equal(t, []byte("cert-bytes"), p.Files["tls.crt"])
	require.Equal(t, string(corev1.SecretTypeTLS), p.Type)
}

func TestRefKeyDropsResourceVersion(t *testing.T) {
	a := Ref{Kind: KindConfigMap, Namespace: "ns", Name: "x", ResourceVersion: "1"}
	b := Ref{Kind: KindConfigMap, Namespace: "ns", Name: "x", ResourceVersion: "2"}
	require.Equal(t, a.Key(), b.Key())
}

func TestRefString(t *testing.T) {
	r := Ref{Kind: KindSecret, Namespace: "ns", Name: "x"}
	require.Equal(t, "Secret/ns/x", r.String())
}

func TestDecodeRawBinary(t *testing.T) {
	b, err := DecodeRawBinary("aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)

	_, err = DecodeRawBinary("not-base64!!")
	require.Error(t, err)
}
