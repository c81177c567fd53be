// Package scheduler implements the §4.10 test scheduler: discovery,
// Cluster-then-User phased execution, bounded parallelism within each
// phase, and NotExecuted propagation once a phase's fail-fast policy
// trips.
package scheduler

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/errs"
	"github.com/blackjack-test/blackjack/internal/spec"
	"github.com/blackjack-test/blackjack/internal/test"
)

// Config is the scheduler's process-wide configuration, bound from CLI
// flags/viper by cmd/blackjack.
type Config struct {
	TestDir         string
	Parallel        int
	TimeoutScaling  float64
	DefaultAttempts int
	Client          *clusterclient.Client
	Logger          *logrus.Entry
}

// Result is one test's outcome, named by TestSpec.Name.
type Result struct {
	Name string
	Err  error
}

// Run discovers every test under cfg.TestDir, partitions by class, runs
// Cluster tests serially, and — only if every Cluster test passed — runs
// User tests with up to cfg.Parallel concurrently. It returns
// ErrNoTestsFound, ErrSomeTestsFailed, or nil.
func Run(ctx context.Context, cfg Config) ([]Result, error) {
	tests, err := spec.Discover(cfg.TestDir)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, errs.ErrNoTestsFound
	}

	cluster, user := spec.Partition(tests)
	spec.SortByOrdering(cluster)
	spec.SortByOrdering(user)

	results := runPhase(ctx, cluster, 1, cfg)

	clusterFailed := anyFailed(results)
	if clusterFailed {
		for _, t := range user {
			results = append(results, Result{Name: t.Name, Err: &errs.NotExecuted{TestName: t.Name}})
		}
	} else {
		results = append(results, runPhase(ctx, user, cfg.Parallel, cfg)...)
	}

	if anyFailed(results) {
		return results, errs.ErrSomeTestsFailed
	}
	return results, nil
}

func anyFailed(results []Result) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// runPhase runs tests with up to parallel concurrently, starting the next
// test as soon as a slot frees up. On the first failure, every test that
// has not yet started is recorded as NotExecuted and no new namespace is
// created for it (spec.md §4.10 step 4).
func runPhase(ctx context.Context, tests []spec.TestSpec, parallel int, cfg Config) []Result {
	if len(tests) == 0 {
		return nil
	}
	if parallel < 1 {
		parallel = 1
	}

	results := make([]Result, len(tests))
	var mu sync.Mutex
	var failed bool

	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for i, t := range tests {
		sem <- struct{}{}
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			<-sem
			results[i] = Result{Name: t.Name, Err: &errs.NotExecuted{TestName: t.Name}}
			continue
		}

		wg.Add(1)
		go func(i int, t spec.TestSpec) {
			defer wg.Done()
			defer func() { <-sem }()

			err := test.Run(ctx, t, test.Config{
				Client:          cfg.Client,
				TimeoutScaling:  cfg.TimeoutScaling,
				DefaultAttempts: cfg.DefaultAttempts,
				Logger:          cfg.Logger,
			})

			mu.Lock()
			results[i] = Result{Name: t.Name, Err: err}
			if err != nil {
				failed = true
			}
			mu.Unlock()
		}(i, t)
	}

	wg.Wait()
	return results
}
