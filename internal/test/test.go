// Package test implements the §4.9 test executor: namespace provisioning,
// sequential step execution against a shared bucket store and collector,
// SIGINT racing, and a best-effort cleanup postlude that never fails the
// test it is cleaning up after.
package test

import (
	"context"
	"fmt"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/sirupsen/logrus"

	"github.com/blackjack-test/blackjack/internal/bucket"
	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/collector"
	"github.com/blackjack-test/blackjack/internal/errs"
	"github.com/blackjack-test/blackjack/internal/manifest"
	"github.com/blackjack-test/blackjack/internal/namespace"
	"github.com/blackjack-test/blackjack/internal/spec"
	"github.com/blackjack-test/blackjack/internal/step"
)

const maxNameLen = 32

// Config bundles the cluster client and runtime knobs every test run
// shares, threaded in from the scheduler.
type Config struct {
	Client          *clusterclient.Client
	TimeoutScaling  float64
	DefaultAttempts int
	Logger          *logrus.Entry
}

// GenerateNamespace builds a per-test namespace name:
// "<first 32 chars of name>-<random word>-<random word>", per spec.md §4.9.
func GenerateNamespace(name string) string {
	prefix := name
	if len(prefix) > maxNameLen {
		prefix = prefix[:maxNameLen]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, petname.Generate(1, ""), petname.Generate(1, ""))
}

// Run executes ts end to end, retrying the whole namespace-create-through-
// cleanup cycle up to ts.Attempts times (falling back to cfg.DefaultAttempts,
// then to 1, when unset or not positive) until one attempt
// succeeds or all are exhausted. Each attempt gets its own namespace: a
// dirtied namespace from a failed attempt is never reused.
func Run(ctx context.Context, ts spec.TestSpec, cfg Config) error {
	attempts := 1
	if cfg.DefaultAttempts > 0 {
		attempts = cfg.DefaultAttempts
	}
	if ts.Attempts != nil && *ts.Attempts > 0 {
		attempts = *ts.Attempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		logger := cfg.Logger.WithField("test", ts.Name)
		if attempts > 1 {
			logger = logger.WithField("attempt", attempt)
		}

		lastErr = runOnce(ctx, ts, cfg, logger)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// runOnce performs a single create-namespace/run-steps/cleanup cycle.
func runOnce(ctx context.Context, ts spec.TestSpec, cfg Config, logger *logrus.Entry) error {
	nsName := GenerateNamespace(ts.Name)
	ns, err := namespace.Create(ctx, cfg.Client.Kube, nsName)
	if err != nil {
		return err
	}

	store := bucket.NewStore()
	coll := collector.New(ctx, cfg.Client, store, logger)

	env := map[string]string{"BLACKJACK_NAMESPACE": nsName}
	tc := &step.Context{
		Client:         cfg.Client,
		Store:          store,
		Collector:      coll,
		Dir:            ts.Dir,
		Env:            env,
		TimeoutScaling: cfg.TimeoutScaling,
		Logger:         logger,
	}

	runErr := runSteps(ctx, ts, tc, logger)

	cleanup(context.Background(), coll, tc.Applied, ns, cfg.Client, logger)

	if runErr != nil {
		return &errs.FailedTest{TestName: ts.Name, StepName: runErr.stepName, Err: runErr.err}
	}
	return nil
}

type stepError struct {
	stepName string
	err      error
}

// runSteps races step execution against ctx cancellation (SIGINT), per
// spec.md §4.9 step 4. On cancellation it still waits for the step
// goroutine to unwind before returning, since that goroutine is the sole
// writer of tc.Applied and cleanup (run by the caller right after this
// returns) reads it — returning early would race the two.
func runSteps(ctx context.Context, ts spec.TestSpec, tc *step.Context, logger *logrus.Entry) *stepError {
	done := make(chan *stepError, 1)
	go func() {
		for _, s := range ts.Steps {
			if err := step.Run(ctx, s, tc); err != nil {
				done <- &stepError{stepName: s.Name, err: err}
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Warn("test interrupted, waiting for in-flight step to unwind")
		<-done
		return &stepError{stepName: "", err: errs.ErrSIGINT}
	}
}

// cleanup is the fixed postlude of spec.md §4.9 step 5: stop every
// collector, clear finalizers on everything still held, delete applied
// manifests in LIFO order, then delete the namespace. Every failure here
// degrades to a warning; cleanup never fails the test.
func cleanup(ctx context.Context, coll *collector.Collector, applied []*manifest.Handle, ns *namespace.Handle, client *clusterclient.Client, logger *logrus.Entry) {
	if err := coll.Stop(); err != nil {
		logger.WithError(err).Warn("cleanup: collector shutdown reported errors")
	}

	coll.ClearAllFinalizers(ctx, client)

	for i := len(applied) - 1; i >= 0; i-- {
		if err := applied[i].Delete(ctx); err != nil {
			logger.WithError(err).Warn("cleanup: failed to delete applied manifest")
		}
	}

	if err := ns.Delete(ctx); err != nil {
		logger.WithError(err).Warn("cleanup: failed to delete namespace")
	}
}
