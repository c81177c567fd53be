package wait

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackjack-test/blackjack/internal/bucket"
	"github.com/blackjack-test/blackjack/internal/errs"
	"github.com/blackjack-test/blackjack/internal/expr"
	"github.com/blackjack-test/blackjack/internal/spec"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}

func TestWaitForAll_SucceedsImmediatelyWhenAlreadySatisfied(t *testing.T) {
	store := bucket.NewStore()
	store.Put("pods", "uid-1", map[string]any{"ready": true}, true)

	specs := []spec.WaitSpec{{
		Target:    "pods",
		Condition: expr.Size(1),
		Timeout:   1,
	}}

	err := WaitForAll(context.Background(), specs, store, nil, 1, discardLogger())
	assert.NoError(t, err)
}

func TestWaitForAll_SucceedsOnceConditionBecomesTrue(t *testing.T) {
	store := bucket.NewStore()
	specs := []spec.WaitSpec{{
		Target:    "pods",
		Condition: expr.Size(1),
		Timeout:   2,
	}}

	go func() {
		time.Sleep(150 * time.Millisecond)
		store.Put("pods", "uid-1", map[string]any{"ready": true}, true)
	}()

	err := WaitForAll(context.Background(), specs, store, nil, 1, discardLogger())
	assert.NoError(t, err)
}

func TestWaitForAll_TimesOutWithConditionsFailed(t *testing.T) {
	store := bucket.NewStore()
	specs := []spec.WaitSpec{{
		Target:    "pods",
		Condition: expr.Size(1),
		Timeout:   0,
	}}

	err := WaitForAll(context.Background(), specs, store, nil, 1, discardLogger())
	require.Error(t, err)
	var cf *errs.ConditionsFailed
	require.ErrorAs(t, err, &cf)
	require.Len(t, cf.Failures, 1)
	assert.Equal(t, "pods", cf.Failures[0].Target)
}

func TestWaitForAll_EmptySpecsSucceedsImmediately(t *testing.T) {
	store := bucket.NewStore()
	err := WaitForAll(context.Background(), nil, store, nil, 1, discardLogger())
	assert.NoError(t, err)
}

func TestWaitForAll_ContextCancelledReturnsSIGINT(t *testing.T) {
	store := bucket.NewStore()
	specs := []spec.WaitSpec{{
		Target:    "pods",
		Condition: expr.Size(1),
		Timeout:   10,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := WaitForAll(ctx, specs, store, nil, 1, discardLogger())
	assert.ErrorIs(t, err, errs.ErrSIGINT)
}
