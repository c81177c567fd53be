package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/blackjack-test/blackjack/internal/clusterclient"
	"github.com/blackjack-test/blackjack/internal/errs"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}

func newTestClient() *clusterclient.Client {
	scheme := runtime.NewScheme()
	dyn := dynamicfake.NewSimpleDynamicClient(scheme)
	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{{Group: "", Version: "v1"}})
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "Namespace"}, meta.RESTScopeRoot)
	return &clusterclient.Client{
		Dynamic:    dyn,
		RESTMapper: mapper,
		Kube:       k8sfake.NewSimpleClientset(),
	}
}

func writeTest(t *testing.T, dir string, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(yaml), 0o644))
}

func TestRun_NoTestsFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), Config{TestDir: dir, Parallel: 1, TimeoutScaling: 1, Client: newTestClient(), Logger: discardLogger()})
	assert.ErrorIs(t, err, errs.ErrNoTestsFound)
}

func TestRun_AllPassSucceeds(t *testing.T) {
	dir := t.TempDir()
	d1 := filepath.Join(dir, "t1")
	require.NoError(t, os.MkdirAll(d1, 0o755))
	writeTest(t, d1, "name: t1\nsteps: []\n")

	results, err := Run(context.Background(), Config{TestDir: dir, Parallel: 2, TimeoutScaling: 1, Client: newTestClient(), Logger: discardLogger()})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}

func TestRun_ClusterFailureSkipsUserTests(t *testing.T) {
	dir := t.TempDir()
	clusterDir := filepath.Join(dir, "cluster-test")
	require.NoError(t, os.MkdirAll(clusterDir, 0o755))
	writeTest(t, clusterDir, "name: c1\ntype: cluster\nsteps:\n- name: bad\n  apply:\n  - path: /does/not/exist.yaml\n")

	userDir := filepath.Join(dir, "user-test")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	writeTest(t, userDir, "name: u1\nsteps: []\n")

	results, err := Run(context.Background(), Config{TestDir: dir, Parallel: 1, TimeoutScaling: 1, Client: newTestClient(), Logger: discardLogger()})
	require.ErrorIs(t, err, errs.ErrSomeTestsFailed)

	var userResult *Result
	for i := range results {
		if results[i].Name == "u1" {
			userResult = &results[i]
		}
	}
	require.NotNil(t, userResult)
	var notExecuted *errs.NotExecuted
	assert.ErrorAs(t, userResult.Err, &notExecuted)
}
