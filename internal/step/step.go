// Package step implements the fixed seven-phase step executor of spec.md
// §4.8: watches, bucket masks, apply, delete, scripts, sleep, then wait —
// in that order, with every phase able to short-circuit the step.
package step

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blackjack-test/blackjack/internal/bucket"
	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/collector"
	"github.com/blackjack-test/blackjack/internal/manifest"
	"github.com/blackjack-test/blackjack/internal/script"
	"github.com/blackjack-test/blackjack/internal/spec"
	"github.com/blackjack-test/blackjack/internal/wait"
)

// Context carries everything a step needs that outlives the step itself:
// the cluster client, the test's shared bucket store and collector, its
// working directory (for relative script/manifest paths), the live env map
// threaded across steps, the timeout-scaling factor, and the list of
// applied manifest handles retained for cleanup.
type Context struct {
	Client         *clusterclient.Client
	Store          *bucket.Store
	Collector      *collector.Collector
	Dir            string
	Env            map[string]string
	TimeoutScaling float64
	Logger         *logrus.Entry

	Applied []*manifest.Handle
}

// Run executes s against tc, performing phases 1-7 of spec.md §4.8 in
// order. A failure in any phase aborts the remaining phases of this step.
func Run(ctx context.Context, s spec.StepSpec, tc *Context) error {
	logger := tc.Logger.WithField("step", s.Name)

	tc.Collector.Watch(s.Watch, tc.Env)

	for _, b := range s.Bucket {
		tc.Store.SetMask(b.Name, bucket.Mask(b.Operations))
	}

	for _, a := range s.Apply {
		h, err := manifest.New(ctx, tc.Client, tc.Dir, a, tc.Env)
		if err != nil {
			return fmt.Errorf("apply %s: %w", a.Path, err)
		}
		if err := h.Apply(ctx); err != nil {
			return fmt.Errorf("apply %s: %w", a.Path, err)
		}
		tc.Applied = append(tc.Applied, h)
	}

	for _, d := range s.Delete {
		h, err := manifest.New(ctx, tc.Client, tc.Dir, d, tc.Env)
		if err != nil {
			return fmt.Errorf("delete %s: %w", d.Path, err)
		}
		if err := h.Delete(ctx); err != nil {
			return fmt.Errorf("delete %s: %w", d.Path, err)
		}
	}

	for _, cmdLine := range s.Script {
		if _, err := script.Execute(ctx, cmdLine, tc.Dir, tc.Env, logger); err != nil {
			return err
		}
	}

	if s.Sleep > 0 {
		d := time.Duration(float64(s.Sleep) * tc.TimeoutScaling * float64(time.Second))
		logger.WithField("duration", d).Debug("sleeping")
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if len(s.Wait) > 0 {
		if err := wait.WaitForAll(ctx, s.Wait, tc.Store, tc.Env, tc.TimeoutScaling, logger); err != nil {
			return err
		}
	}

	return nil
}
