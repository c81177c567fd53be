// Package manifest implements the ManifestHandle of spec.md §4.5: loading
// YAML manifests from a file or directory, resolving each document's
// GroupVersionKind via cluster discovery, and applying/deleting them.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/envsubst"
	"github.com/blackjack-test/blackjack/internal/errs"
	"github.com/blackjack-test/blackjack/internal/spec"
)

// fieldManager is the sentinel field manager every server-side apply uses,
// per spec.md §6.
const fieldManager = "blackjack"

// resource pairs a prepared document with the bound dynamic client handle
// it will be applied/deleted through.
type resource struct {
	obj *unstructured.Unstructured
	ri  dynamic.ResourceInterface
}

// Handle is a loaded, resolved set of manifest documents ready to be
// applied or deleted as a unit.
type Handle struct {
	client    *clusterclient.Client
	resources []resource
}

// New loads applySpec.Path resolved against dir (the test's directory, so
// "manifests/pod.yaml" in a test.yaml finds its manifest the way a script
// finds its working directory), env-substitutes its path and namespace
// fields, resolves every document's GVK, and — when OverrideNamespace is
// true — skips Namespace-kind documents and rewrites namespaced documents'
// target namespace (spec.md §4.5, and the Open Question resolution in
// SPEC_FULL.md pinning "skip Namespace docs iff override-namespace=true").
func New(ctx context.Context, client *clusterclient.Client, dir string, applySpec spec.ApplySpec, env map[string]string) (*Handle, error) {
	path := envsubst.Substitute(applySpec.Path, env)
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	text, err := loadText(path)
	if err != nil {
		return nil, err
	}
	docs, err := splitDocuments(text)
	if err != nil {
		return nil, err
	}

	targetNamespace := envsubst.Substitute(applySpec.Namespace, env)
	override := applySpec.OverrideNamespace == nil || *applySpec.OverrideNamespace

	h := &Handle{client: client}
	for _, doc := range docs {
		u := &unstructured.Unstructured{Object: doc}

		if override && u.GetKind() == "Namespace" {
			continue
		}

		gvk := u.GroupVersionKind()
		resolved, err := client.Resolve(gvk)
		if err != nil {
			return nil, &errs.DiscoveryError{GroupVersionKind: gvk.String(), Err: err}
		}

		if override && resolved.Namespaced {
			u.SetNamespace(targetNamespace)
		}

		var ri dynamic.ResourceInterface
		if resolved.Namespaced {
			ri = client.Dynamic.Resource(resolved.Resource).Namespace(u.GetNamespace())
		} else {
			ri = client.Dynamic.Resource(resolved.Resource)
		}

		h.resources = append(h.resources, resource{obj: u, ri: ri})
	}
	return h, nil
}

// Apply server-side applies every prepared document with field manager
// "blackjack" and force=true, stopping at the first failure.
func (h *Handle) Apply(ctx context.Context) error {
	for _, r := range h.resources {
		data, err := json.Marshal(r.obj.Object)
		if err != nil {
			return fmt.Errorf("marshaling %s/%s: %w", r.obj.GetKind(), r.obj.GetName(), err)
		}
		force := true
		_, err = r.ri.Patch(ctx, r.obj.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{
			FieldManager: fieldManager,
			Force:        &force,
		})
		if err != nil {
			return fmt.Errorf("applying %s/%s: %w", r.obj.GetKind(), r.obj.GetName(), err)
		}
	}
	return nil
}

// Delete issues a delete for every prepared document; a 404 is treated as
// success, any other error is fatal and stops the loop.
func (h *Handle) Delete(ctx context.Context) error {
	for _, r := range h.resources {
		err := r.ri.Delete(ctx, r.obj.GetName(), metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("deleting %s/%s: %w", r.obj.GetKind(), r.obj.GetName(), err)
		}
	}
	return nil
}

// GroupVersion splits an apiVersion string into (group, version); an
// unslashed apiVersion (e.g. "v1") has an empty group, matching spec.md
// §4.5.
func GroupVersion(apiVersion string) schema.GroupVersion {
	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return schema.GroupVersion{Version: apiVersion}
	}
	return gv
}
