// Package collector implements the watch-and-bucket collector of spec.md
// §4.4: one goroutine per WatchSpec reflects cluster events into a shared
// bucket.Store, adding the sentinel finalizer to every tracked object and
// clearing it once every bucket that held the object has released it.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	apiwatch "k8s.io/apimachinery/pkg/watch"

	"github.com/blackjack-test/blackjack/internal/bucket"
	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/envsubst"
	"github.com/blackjack-test/blackjack/internal/errs"
	"github.com/blackjack-test/blackjack/internal/spec"
)

// FinalizerSentinel is the finalizer every tracked object carries while any
// bucket retains its uid (spec.md §6).
const FinalizerSentinel = "blackjack.io/finalizer"

const errorBackoff = 10 * time.Second

// Collector owns every watch goroutine spawned for a test's steps so far,
// and the single cancellation token that stops all of them together.
type Collector struct {
	client *clusterclient.Client
	store  *bucket.Store
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watchErr []error

	uidMu         sync.Mutex
	syntheticUIDs map[string]string
}

// New creates a Collector bound to store, deriving its cancellation token
// from parent.
func New(parent context.Context, client *clusterclient.Client, store *bucket.Store, logger *logrus.Entry) *Collector {
	ctx, cancel := context.WithCancel(parent)
	return &Collector{
		client:        client,
		store:         store,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		syntheticUIDs: make(map[string]string),
	}
}

// Watch spawns one goroutine per WatchSpec that immediately begins
// reflecting matching objects into the bucket named by spec.Name.
func (c *Collector) Watch(watches []spec.WatchSpec, env map[string]string) {
	for _, w := range watches {
		c.wg.Add(1)
		go c.runWatch(w, env)
	}
}

// Stop cancels every watcher's context and joins them, aggregating their
// errors per spec.md §4.4 (0 -> nil, 1 -> that error, >1 -> MultipleErrors).
func (c *Collector) Stop() error {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return errs.Join(c.watchErr)
}

func (c *Collector) recordErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchErr = append(c.watchErr, err)
}

func (c *Collector) runWatch(w spec.WatchSpec, env map[string]string) {
	defer c.wg.Done()

	namespace := envsubst.Substitute(w.Namespace, env)
	gvk := schema.GroupVersionKind{Group: w.Group, Version: w.Version, Kind: w.Kind}
	resolved, err := c.client.Resolve(gvk)
	if err != nil {
		c.logger.WithError(err).WithField("watch", w.Name).Warn("skipping watch: discovery failed")
		c.recordErr(&errs.DiscoveryError{GroupVersionKind: gvk.String(), Err: err})
		return
	}
	if !resolved.Namespaced {
		c.logger.WithField("watch", w.Name).Warn("skipping non-namespaced resource")
		return
	}

	ri := c.client.Dynamic.Resource(resolved.Resource).Namespace(namespace)
	listOpts := metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(w.Labels).String(),
		FieldSelector: fields.SelectorFromSet(w.Fields).String(),
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.reflectOnce(w, ri, listOpts); err != nil {
			c.logger.WithError(err).WithField("watch", w.Name).Error("watch stream error, backing off")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}
		// reflectOnce only returns nil when the stream ended because of
		// cancellation.
		return
	}
}

type resourceInterface interface {
	List(ctx context.Context, opts metav1.ListOptions) (*unstructured.UnstructuredList, error)
	Watch(ctx context.Context, opts metav1.ListOptions) (apiwatch.Interface, error)
	Patch(ctx context.Context, name string, pt types.PatchType, data []byte, opts metav1.PatchOptions, subresources ...string) (*unstructured.Unstructured, error)
}

// reflectOnce lists the resource once, then watches from that resource
// version until the context is cancelled or the stream errors.
func (c *Collector) reflectOnce(w spec.WatchSpec, ri resourceInterface, listOpts metav1.ListOptions) error {
	list, err := ri.List(c.ctx, listOpts)
	if err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	for i := range list.Items {
		c.handleObject(w, &list.Items[i], ri)
	}

	watchOpts := listOpts
	watchOpts.ResourceVersion = list.GetResourceVersion()
	stream, err := ri.Watch(c.ctx, watchOpts)
	if err != nil {
		return fmt.Errorf("watching: %w", err)
	}
	defer stream.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
		}

		select {
		case <-c.ctx.Done():
			return nil
		case event, ok := <-stream.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed")
			}
			switch event.Type {
			case apiwatch.Added, apiwatch.Modified:
				obj, ok := event.Object.(*unstructured.Unstructured)
				if !ok {
					continue
				}
				c.handleObject(w, obj, ri)
			case apiwatch.Error:
				return fmt.Errorf("watch error event: %v", event.Object)
			default:
				// Deleted and Bookmark events are ignored: a hard delete
				// only happens after this collector has already cleared
				// the sentinel finalizer in handleObject, at which point
				// bookkeeping is already done.
			}
		}
	}
}

func (c *Collector) handleObject(w spec.WatchSpec, obj *unstructured.Unstructured, ri resourceInterface) {
	uid := string(obj.GetUID())
	if uid == "" {
		uid = c.syntheticUID(obj)
	}

	if obj.GetDeletionTimestamp() != nil {
		stillHeld := c.store.Drop(uid)
		if !stillHeld {
			c.clearFinalizer(obj, ri)
		}
		return
	}

	if !hasFinalizer(obj, FinalizerSentinel) {
		c.addFinalizer(obj, ri)
	}

	isNew := !c.store.Contains(uid)
	c.store.Put(w.Name, uid, obj.Object, isNew)
}

// syntheticUID returns a stable fallback identifier for an object that
// carries no metadata.uid (a case the real cluster API never produces, but
// test doubles and CRDs with generated-but-unset status sometimes do),
// keyed by namespace/name so repeated events for the same object reuse the
// same bucket key instead of minting a fresh "new" entry each time.
func (c *Collector) syntheticUID(obj *unstructured.Unstructured) string {
	key := obj.GetNamespace() + "/" + obj.GetName()
	c.uidMu.Lock()
	defer c.uidMu.Unlock()
	if id, ok := c.syntheticUIDs[key]; ok {
		return id
	}
	id := uuid.New().String()
	c.syntheticUIDs[key] = id
	return id
}

func hasFinalizer(obj *unstructured.Unstructured, name string) bool {
	for _, f := range obj.GetFinalizers() {
		if f == name {
			return true
		}
	}
	return false
}

func (c *Collector) addFinalizer(obj *unstructured.Unstructured, ri resourceInterface) {
	finalizers := append(obj.GetFinalizers(), FinalizerSentinel)
	patch, _ := json.Marshal(map[string]any{
		"metadata": map[string]any{"finalizers": finalizers},
	})
	_, err := ri.Patch(c.ctx, obj.GetName(), types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		c.logger.WithError(err).WithField("object", obj.GetName()).Debug("failed to add finalizer")
	}
}

func (c *Collector) clearFinalizer(obj *unstructured.Unstructured, ri resourceInterface) {
	patch := []byte(`{"metadata":{"finalizers":null}}`)
	_, err := ri.Patch(c.ctx, obj.GetName(), types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		c.logger.WithError(err).WithField("object", obj.GetName()).Warn("failed to clear finalizer")
	}
}

// ClearAllFinalizers issues a merge patch clearing finalizers for every uid
// still in store, for teardown (spec.md §4.4 "Finalizer cleanup on
// teardown"). Lookups back to a live dynamic.ResourceInterface require the
// object's own apiVersion/kind, recovered from the stored JSON.
func (c *Collector) ClearAllFinalizers(ctx context.Context, client *clusterclient.Client) {
	for _, uo := range c.store.AllUIDsWithObj() {
		obj, ok := uo.Object.(map[string]any)
		if !ok {
			continue
		}
		u := &unstructured.Unstructured{Object: obj}
		resolved, err := client.Resolve(u.GroupVersionKind())
		if err != nil {
			c.logger.WithError(err).WithField("uid", uo.UID).Warn("cleanup: could not resolve resource for finalizer clear")
			continue
		}
		ri := client.Dynamic.Resource(resolved.Resource).Namespace(u.GetNamespace())
		patch := []byte(`{"metadata":{"finalizers":null}}`)
		if _, err := ri.Patch(ctx, u.GetName(), types.MergePatchType, patch, metav1.PatchOptions{}); err != nil && !apierrors.IsNotFound(err) {
			c.logger.WithError(err).WithField("uid", uo.UID).Warn("cleanup: failed to clear finalizer")
		}
	}
}
