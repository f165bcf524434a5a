// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package kubernetes reads secrets from Kubernetes Secret objects. The handle
// path is "<namespace>/<name>" and the field is the data key.
package kubernetes

import (
	"context"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/elastic/elastic-agent-autodiscover/kubernetes"

	"github.com/elastic/ci-orchestrator/internal/pkg/secret"
)

var getK8sClientFunc = getK8sClient

// Config for the kubernetes secret store.
type Config struct {
	KubeConfig        string                       `config:"kube_config"`
	KubeClientOptions kubernetes.KubeClientOptions `config:"kube_client_options"`
	// Namespace is used for handles whose path has no namespace.
	Namespace string `config:"namespace"`
}

// Store is a secret.Store backed by the Kubernetes API.
type Store struct {
	client    k8sclient.Interface
	namespace string
}

// New connects to the cluster described by cfg, the in-cluster
// configuration is used when no kube config is set.
func New(cfg Config) (*Store, error) {
	client, err := getK8sClientFunc(cfg.KubeConfig, cfg.KubeClientOptions)
	if err != nil {
		return nil, fmt.Errorf("could not create kubernetes client: %w", err)
	}
	return NewWithClient(client, cfg.Namespace), nil
}

// NewWithClient creates a store using client.
func NewWithClient(client k8sclient.Interface, namespace string) *Store {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &Store{client: client, namespace: namespace}
}

// Lookup implements secret.Store.
func (s *Store) Lookup(ctx context.Context, h secret.Handle) (string, error) {
	ns, name := s.namespace, h.Path
	if idx := strings.Index(h.Path, "/"); idx >= 0 {
		ns, name = h.Path[:idx], h.Path[idx+1:]
	}
	if ns == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %s is not a <namespace>/<name> secret path", secret.ErrNotFound, h.Path)
	}

	obj, err := s.client.CoreV1().Secrets(ns).Get(context.WithoutCancel(ctx), name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		return "", fmt.Errorf("%w: secret %s/%s", secret.ErrNotFound, ns, name)
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return "", fmt.Errorf("%w: %v", secret.ErrAuthFailure, err)
	case err != nil:
		return "", fmt.Errorf("could not retrieve secret %s/%s from k8s API: %w", ns, name, err)
	}

	value, ok := obj.Data[h.Field]
	if !ok {
		return "", fmt.Errorf("%w: secret %s/%s has no key %q", secret.ErrNotFound, ns, name, h.Field)
	}
	return string(value), nil
}

func getK8sClient(kubeconfig string, opt kubernetes.KubeClientOptions) (k8sclient.Interface, error) {
	return kubernetes.GetKubernetesClient(kubeconfig, opt)
}
