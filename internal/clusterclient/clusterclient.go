// Package clusterclient bundles the dynamic, discovery and typed clients
// the rest of the runner needs, and the GVK -> GVR resolution every
// manifest/watch operation goes through. Its construction is the single
// "fatal before-test" failure point named in spec.md §7.
package clusterclient

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
)

// Client bundles every cluster-facing handle the runner needs: the
// dynamic client for unstructured apply/watch/delete, the typed client for
// Namespace CRUD, and a discovery-backed REST mapper for resolving
// GroupVersionKind to GroupVersionResource + namespace scope.
type Client struct {
	Dynamic    dynamic.Interface
	Discovery  discovery.DiscoveryInterface
	Kube       kubernetes.Interface
	RESTMapper meta.RESTMapper
}

// New builds a Client from a REST config, the same three-client
// construction the teacher does inline in janitor.New.
func New(restConfig *rest.Config) (*Client, error) {
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	kubeClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(discoveryClient))

	return &Client{
		Dynamic:    dynamicClient,
		Discovery:  discoveryClient,
		Kube:       kubeClient,
		RESTMapper: mapper,
	}, nil
}

// Resolved is the result of mapping a GroupVersionKind to its resource and
// scope via discovery.
type Resolved struct {
	Resource    schema.GroupVersionResource
	Namespaced  bool
}

// Resolve maps gvk to its GroupVersionResource and namespace scope. A
// resource that discovery cannot find returns an error suitable for
// wrapping in errs.DiscoveryError by the caller.
func (c *Client) Resolve(gvk schema.GroupVersionKind) (Resolved, error) {
	mapping, err := c.RESTMapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		Resource:   mapping.Resource,
		Namespaced: mapping.Scope.Name() == meta.RESTScopeNameNamespace,
	}, nil
}
