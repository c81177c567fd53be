package collector

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/blackjack-test/blackjack/internal/bucket"
	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/spec"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

func newTestClient(objs ...runtime.Object) *clusterclient.Client {
	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		{Group: "", Version: "v1", Resource: "pods"}: "PodList",
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind, objs...)

	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{{Group: "", Version: "v1"}})
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "Pod"}, meta.RESTScopeNamespace)

	return &clusterclient.Client{Dynamic: dyn, RESTMapper: mapper}
}

func newPod(name, namespace, uid string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
			"uid":       uid,
		},
	}}
}

func TestCollector_ReflectsListedObjectIntoBucket(t *testing.T) {
	pod := newPod("a", "ns", "uid-1")
	client := newTestClient(pod)
	store := bucket.NewStore()

	c := New(context.Background(), client, store, discardLogger())
	c.Watch([]spec.WatchSpec{{Name: "pods", Kind: "Pod", Version: "v1", Namespace: "ns"}}, map[string]string{})

	require.Eventually(t, func() bool {
		return len(store.Snapshot("pods")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
}

func TestCollector_SkipsNonNamespacedResource(t *testing.T) {
	scheme := runtime.NewScheme()
	dyn := dynamicfake.NewSimpleDynamicClient(scheme)
	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{{Group: "", Version: "v1"}})
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "Namespace"}, meta.RESTScopeRoot)
	client := &clusterclient.Client{Dynamic: dyn, RESTMapper: mapper}

	store := bucket.NewStore()
	c := New(context.Background(), client, store, discardLogger())
	c.Watch([]spec.WatchSpec{{Name: "namespaces", Kind: "Namespace", Version: "v1"}}, map[string]string{})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, store.Snapshot("namespaces"))
	assert.NoError(t, c.Stop())
}

func TestCollector_DiscoveryFailureIsRecordedAndReturnedByStop(t *testing.T) {
	scheme := runtime.NewScheme()
	dyn := dynamicfake.NewSimpleDynamicClient(scheme)
	mapper := meta.NewDefaultRESTMapper(nil)
	client := &clusterclient.Client{Dynamic: dyn, RESTMapper: mapper}

	store := bucket.NewStore()
	c := New(context.Background(), client, store, discardLogger())
	c.Watch([]spec.WatchSpec{{Name: "widgets", Kind: "Widget", Version: "v1"}}, map[string]string{})

	err := c.Stop()
	require.Error(t, err)
}

func TestCollector_DeletionTimestampDropsFromBucket(t *testing.T) {
	pod := newPod("a", "ns", "uid-1")
	pod.Object["metadata"].(map[string]any)["deletionTimestamp"] = time.Now().UTC().Format(time.RFC3339)
	client := newTestClient(pod)
	store := bucket.NewStore()

	c := New(context.Background(), client, store, discardLogger())
	c.Watch([]spec.WatchSpec{{Name: "pods", Kind: "Pod", Version: "v1", Namespace: "ns"}}, map[string]string{})

	require.Eventually(t, func() bool {
		return len(store.Snapshot("pods")) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
}
