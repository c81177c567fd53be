// Package bucket implements the concurrent bucket-name -> {operation mask,
// uid -> object} store shared by a test's collectors and wait evaluator
// (spec.md §4.3).
package bucket

import (
	"sync"

	"github.com/thoas/go-funk"
)

// Operation is one of the three classes of cluster event a bucket can be
// gated to observe.
type Operation string

const (
	Create Operation = "Create"
	Patch  Operation = "Patch"
	Delete Operation = "Delete"
)

// Mask is the set of Operations a bucket currently accepts updates for.
type Mask []Operation

// DefaultMask is the mask a freshly created bucket starts with when no
// BucketSpec has narrowed it: every operation class is accepted.
func DefaultMask() Mask { return Mask{Create, Patch, Delete} }

// Has reports whether op is a member of the mask.
func (m Mask) Has(op Operation) bool {
	return funk.Contains([]Operation(m), op)
}

// Bucket holds the last-observed JSON for every uid currently retained,
// gated by Operations.
type Bucket struct {
	Operations Mask
	Data       map[string]any
}

// UIDObject pairs a uid with the last JSON observed for it, used by
// AllUIDsWithObj for teardown finalizer cleanup.
type UIDObject struct {
	UID    string
	Object any
}

// Store is the mutex-guarded map of bucket name -> Bucket described by
// spec.md §4.3. One Store is created per test and shared by every collector
// and the wait evaluator for that test's lifetime.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewStore creates an empty bucket store.
func NewStore() *Store {
	return &Store{buckets: make(map[string]*Bucket)}
}

// SetMask creates the named bucket if absent and overwrites its mask.
func (s *Store) SetMask(name string, mask Mask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreateLocked(name)
	b.Operations = mask
}

// Put inserts value under uid in the named bucket if isNew and Create is in
// the bucket's mask, or replaces it if !isNew and Patch is in the mask.
// Otherwise it is a no-op. The bucket is created with DefaultMask if it did
// not already exist (a collector may observe events before any BucketSpec
// narrows the mask).
func (s *Store) Put(bucketName, uid string, value any, isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreateLocked(bucketName)

	if isNew {
		if b.Operations.Has(Create) {
			b.Data[uid] = value
		}
		return
	}
	if b.Operations.Has(Patch) {
		b.Data[uid] = value
	}
}

// Drop removes uid from every bucket whose mask contains Delete, and
// reports whether the uid still exists in any bucket afterward (true when
// at least one owning bucket's mask omits Delete).
func (s *Store) Drop(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buckets {
		if _, ok := b.Data[uid]; ok && b.Operations.Has(Delete) {
			delete(b.Data, uid)
		}
	}
	for _, b := range s.buckets {
		if _, ok := b.Data[uid]; ok {
			return true
		}
	}
	return false
}

// Snapshot returns a shallow copy of the named bucket's values, safe for
// read-only evaluation outside the lock. An absent bucket yields nil.
func (s *Store) Snapshot(name string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return nil
	}
	out := make([]any, 0, len(b.Data))
	for _, v := range b.Data {
		out = append(out, v)
	}
	return out
}

// Contains reports whether uid is retained by any bucket in the store.
func (s *Store) Contains(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets {
		if _, ok := b.Data[uid]; ok {
			return true
		}
	}
	return false
}

// AllUIDsWithObj returns every uid currently retained by any bucket
// together with the last JSON observed for it, for cleanup-time finalizer
// clearing.
func (s *Store) AllUIDsWithObj() []UIDObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UIDObject, 0)
	for _, b := range s.buckets {
		for uid, obj := range b.Data {
			out = append(out, UIDObject{UID: uid, Object: obj})
		}
	}
	return out
}

func (s *Store) getOrCreateLocked(name string) *Bucket {
	b, ok := s.buckets[name]
	if !ok {
		b = &Bucket{Operations: DefaultMask(), Data: make(map[string]any)}
		s.buckets[name] = b
	}
	return b
}
