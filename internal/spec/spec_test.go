package spec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTest(t *testing.T, dir, yamlBody string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, testFileName), []byte(yamlBody), 0o644))
}

func TestLoad_SynthesizesNameFromLastTwoComponents(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "suite-one", "my-test")
	writeTest(t, dir, "steps: []\n")

	ts, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "suite-one-my-test", ts.Name)
	assert.Equal(t, dir, ts.Dir)
	assert.Equal(t, ClassUser, ts.Type)
}

func TestLoad_DefaultsApplyNamespaceAndOverride(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "a", "b")
	writeTest(t, dir, `
steps:
  - apply:
      - path: manifest.yaml
`)
	ts, err := Load(dir)
	require.NoError(t, err)
	apply := ts.Steps[0].Apply[0]
	assert.Equal(t, "${BLACKJACK_NAMESPACE}", apply.Namespace)
	require.NotNil(t, apply.OverrideNamespace)
	assert.True(t, *apply.OverrideNamespace)
}

func TestDiscover_FindsNestedTests(t *testing.T) {
	root := t.TempDir()
	writeTest(t, filepath.Join(root, "suite1", "test-a"), "steps: []\n")
	writeTest(t, filepath.Join(root, "suite2", "nested", "test-b"), "steps: []\n")

	tests, err := Discover(root)
	require.NoError(t, err)
	assert.Len(t, tests, 2)
}

func TestPartition_SplitsByClass(t *testing.T) {
	tests := []TestSpec{
		{Name: "a", Type: ClassCluster},
		{Name: "b", Type: ClassUser},
		{Name: "c"},
	}
	cluster, user := Partition(tests)
	require.Len(t, cluster, 1)
	require.Len(t, user, 2)
	assert.Equal(t, "a", cluster[0].Name)
}

func TestSortByOrdering_NoneBeforeSomeThenLexicographic(t *testing.T) {
	z := "z"
	a := "a"
	tests := []TestSpec{
		{Name: "has-z", Ordering: &z},
		{Name: "none-1"},
		{Name: "has-a", Ordering: &a},
		{Name: "none-2"},
	}
	SortByOrdering(tests)
	names := []string{tests[0].Name, tests[1].Name, tests[2].Name, tests[3].Name}
	assert.Equal(t, []string{"none-1", "none-2", "has-a", "has-z"}, names)
}
