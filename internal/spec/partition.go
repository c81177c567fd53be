package spec

import "sort"

// Partition splits tests into the Cluster-class and User-class groups the
// scheduler runs as separate phases (spec.md §4.10 step 2). Adapted from
// the teacher's ResourceFilter include/exclude-by-set shape
// (internal/janitor/filter.go), generalized from a namespace/resource
// allowlist to a two-way class split.
func Partition(tests []TestSpec) (cluster, user []TestSpec) {
	for _, t := range tests {
		switch t.Type {
		case ClassCluster:
			cluster = append(cluster, t)
		default:
			user = append(user, t)
		}
	}
	return cluster, user
}

// SortByOrdering stably sorts tests in place by Ordering: tests with no
// Ordering sort before any test that has one; among tests that have one,
// comparison is lexicographic (spec.md §4.10 step 2).
func SortByOrdering(tests []TestSpec) {
	sort.SliceStable(tests, func(i, j int) bool {
		a, b := tests[i].Ordering, tests[j].Ordering
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return *a < *b
		}
	})
}
