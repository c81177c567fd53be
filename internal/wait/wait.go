// Package wait implements the §4.11 wait evaluator: a fixed-budget
// 100ms polling loop that retains only the WaitSpecs still failing against
// the bucket store, exiting early once none remain.
package wait

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"

	"github.com/blackjack-test/blackjack/internal/bucket"
	"github.com/blackjack-test/blackjack/internal/errs"
	"github.com/blackjack-test/blackjack/internal/expr"
	"github.com/blackjack-test/blackjack/internal/spec"
)

const cycle = 100 * time.Millisecond

// pending is a WaitSpec still being evaluated, together with the most
// recent Failure it produced (nil once it passes).
type pending struct {
	spec spec.WaitSpec
	last *expr.Failure
}

// WaitForAll evaluates specs against store every 100ms until every
// condition holds or the cycle budget is exhausted. The budget is
// max(spec.Timeout) * 10 cycles, scaled by timeoutScaling (spec.md §4.11).
func WaitForAll(ctx context.Context, specs []spec.WaitSpec, store *bucket.Store, env map[string]string, timeoutScaling float64, logger *logrus.Entry) error {
	if len(specs) == 0 {
		return nil
	}

	maxTimeout := uint16(0)
	for _, s := range specs {
		if s.Timeout > maxTimeout {
			maxTimeout = s.Timeout
		}
	}
	budget := int(float64(maxTimeout)*10) * int(math.Ceil(timeoutScaling))

	remaining := make([]pending, len(specs))
	for i, s := range specs {
		remaining[i] = pending{spec: s}
	}

	start := time.Now()
	ticker := time.NewTicker(cycle)
	defer ticker.Stop()

	for cycles := 0; ; cycles++ {
		remaining = evaluate(remaining, store, env)
		if len(remaining) == 0 {
			return nil
		}
		if cycles >= budget {
			return timeoutFailure(remaining, store, env)
		}

		select {
		case <-ctx.Done():
			return errs.ErrSIGINT
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"remaining": len(remaining),
				"elapsed":   humanize.RelTime(start, time.Now(), "", ""),
			}).Debug("wait cycle")
		}
	}
}

// evaluate re-checks every pending spec against a fresh snapshot and
// returns only those still failing, with their latest Failure recorded.
func evaluate(specs []pending, store *bucket.Store, env map[string]string) []pending {
	out := make([]pending, 0, len(specs))
	for _, p := range specs {
		values := store.Snapshot(p.spec.Target)
		if f := expr.Assert(p.spec.Condition, values, env); f != nil {
			p.last = f
			out = append(out, p)
		}
	}
	return out
}

// timeoutFailure re-evaluates every still-pending spec once more for a
// fresh diagnostic and packages the result as ConditionsFailed.
func timeoutFailure(specs []pending, store *bucket.Store, env map[string]string) error {
	failures := make([]errs.TestFailure, 0, len(specs))
	for _, p := range specs {
		values := store.Snapshot(p.spec.Target)
		f := expr.Assert(p.spec.Condition, values, env)
		if f == nil {
			f = p.last
		}
		failures = append(failures, errs.TestFailure{
			Target:     p.spec.Target,
			Diagnostic: diagnostic(p.spec, f),
		})
	}
	return &errs.ConditionsFailed{Failures: failures}
}

// diagnostic renders a human-readable failure for one WaitSpec, including a
// unified diff of the rendered condition (its Display form) against the
// observed value when the failure carries exactly one value.
func diagnostic(s spec.WaitSpec, f *expr.Failure) string {
	if f == nil {
		return s.Condition.Display() + " failed"
	}
	base := f.Error()
	if len(f.Values) != 1 {
		return base
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prettyJSON(s.Condition.Display())),
		B:        difflib.SplitLines(prettyJSON(toJSONString(f.Values[0]))),
		FromFile: "expected",
		ToFile:   "observed",
		Context:  2,
	})
	if err != nil || diff == "" {
		return base
	}
	return base + "\n" + diff
}

func prettyJSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s
	}
	return string(b)
}

func toJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
