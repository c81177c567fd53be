// Package namespace implements the per-test Namespace handle of spec.md
// §4.6: create, graceful delete with a poll-then-force fallback, and force
// delete (clear finalizers).
package namespace

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/blackjack-test/blackjack/internal/errs"
)

const (
	pollInterval = 500 * time.Millisecond
	pollTimeout  = 10 * time.Second
)

// Handle owns the lifecycle of a single test namespace.
type Handle struct {
	kube kubernetes.Interface
	name string
}

// Create POSTs a Namespace named name. A 409 surfaces as
// *errs.NamespaceExists; every other error propagates unchanged.
func Create(ctx context.Context, kube kubernetes.Interface, name string) (*Handle, error) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	_, err := kube.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil, &errs.NamespaceExists{Name: name}
	}
	if err != nil {
		return nil, err
	}
	return &Handle{kube: kube, name: name}, nil
}

// Name returns the namespace name this handle owns.
func (h *Handle) Name() string { return h.name }

// Delete issues a graceful DELETE; if the namespace is still visible after
// up to pollTimeout of polling, it escalates to ForceDelete.
func (h *Handle) Delete(ctx context.Context) error {
	err := h.kube.CoreV1().Namespaces().Delete(ctx, h.name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		_, err := h.kube.CoreV1().Namespaces().Get(ctx, h.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return h.ForceDelete(ctx)
}

// ForceDelete clears the namespace's finalizers via merge patch and
// reissues a zero-grace-period delete, then polls once more for up to
// pollTimeout.
func (h *Handle) ForceDelete(ctx context.Context) error {
	patch := []byte(`{"metadata":{"finalizers":null}}`)
	_, err := h.kube.CoreV1().Namespaces().Patch(ctx, h.name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	gracePeriod := int64(0)
	err = h.kube.CoreV1().Namespaces().Delete(ctx, h.name, metav1.DeleteOptions{GracePeriodSeconds: &gracePeriod})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		_, err := h.kube.CoreV1().Namespaces().Get(ctx, h.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil
}
