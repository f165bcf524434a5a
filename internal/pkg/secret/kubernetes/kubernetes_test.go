// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package kubernetes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/elastic/elastic-agent-autodiscover/kubernetes"

	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
)

const (
	ns   = "ci"
	pass = "testing_passpass"
)

func newFakeClient() *fake.Clientset {
	return fake.NewSimpleClientset(&v1.Secret{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Secret",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      "gcs-credentials",
			Namespace: ns,
		},
		Data: map[string][]byte{
			"data": []byte(pass),
		},
	})
}

func TestLookup(t *testing.T) {
	s := NewWithClient(newFakeClient(), ns)

	v, err := s.Lookup(context.Background(), secret.Handle{Path: "ci/gcs-credentials", Field: "data"})
	require.NoError(t, err)
	assert.Equal(t, pass, v)

	v, err = s.Lookup(context.Background(), secret.Handle{Path: "gcs-credentials", Field: "data"})
	require.NoError(t, err, "default namespace is used")
	assert.Equal(t, pass, v)
}

func TestLookupNotFound(t *testing.T) {
	s := NewWithClient(newFakeClient(), "")

	for _, h := range []secret.Handle{
		{Path: "ci/missing", Field: "data"},
		{Path: "ci/gcs-credentials", Field: "missing"},
		{Path: "gcs-credentials", Field: "data"}, // default namespace
		{Path: "ci/a/b", Field: "data"},
	} {
		_, err := s.Lookup(context.Background(), h)
		assert.ErrorIs(t, err, secret.ErrNotFound, h.String())
	}
}

func TestLookupErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		retried bool
	}{
		{
			name: "forbidden",
			err:  apierrors.NewForbidden(schema.GroupResource{Resource: "secrets"}, "gcs-credentials", errors.New("rbac")),
			want: secret.ErrAuthFailure,
		},
		{
			name: "unauthorized",
			err:  apierrors.NewUnauthorized("token expired"),
			want: secret.ErrAuthFailure,
		},
		{
			name:    "server error",
			err:     apierrors.NewServiceUnavailable("etcd"),
			retried: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient()
			client.PrependReactor("get", "secrets", func(k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, tc.err
			})

			_, err := NewWithClient(client, ns).Lookup(context.Background(), secret.Handle{Path: "ci/gcs-credentials", Field: "data"})
			require.Error(t, err)
			if tc.retried {
				assert.False(t, errors.Is(err, secret.ErrNotFound))
				assert.False(t, errors.Is(err, secret.ErrAuthFailure))
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNew(t *testing.T) {
	orig := getK8sClientFunc
	defer func() { getK8sClientFunc = orig }()

	getK8sClientFunc = func(kubeconfig string, _ kubernetes.KubeClientOptions) (k8sclient.Interface, error) {
		assert.Equal(t, "/etc/kube/config", kubeconfig)
		return newFakeClient(), nil
	}
	s, err := New(Config{KubeConfig: "/etc/kube/config", Namespace: ns})
	require.NoError(t, err)
	assert.Equal(t, ns, s.namespace)

	getK8sClientFunc = func(string, kubernetes.KubeClientOptions) (k8sclient.Interface, error) {
		return nil, errors.New("no cluster")
	}
	_, err = New(Config{})
	assert.Error(t, err)
}
