package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

const testFileName = "test.yaml"

// Load decodes dir/test.yaml into a TestSpec, sets Dir, and synthesizes
// Name when the file leaves it empty.
func Load(dir string) (TestSpec, error) {
	data, err := os.ReadFile(filepath.Join(dir, testFileName))
	if err != nil {
		return TestSpec{}, fmt.Errorf("reading %s: %w", filepath.Join(dir, testFileName), err)
	}

	var t TestSpec
	if err := yaml.Unmarshal(data, &t); err != nil {
		return TestSpec{}, fmt.Errorf("parsing %s: %w", filepath.Join(dir, testFileName), err)
	}
	t.Dir = dir
	t.normalize()
	if t.Name == "" {
		t.Name = synthesizeName(dir)
	}
	return t, nil
}

// synthesizeName builds a namespace-safe name from the last two path
// components of dir, per spec.md §3's "name, if empty, is synthesized from
// the last two path components of the containing directory".
func synthesizeName(dir string) string {
	clean := filepath.Clean(dir)
	parts := strings.Split(clean, string(filepath.Separator))
	var tail []string
	if len(parts) >= 2 {
		tail = parts[len(parts)-2:]
	} else {
		tail = parts
	}
	name := strings.ToLower(strings.Join(tail, "-"))
	return sanitizeDNSLabel(name)
}

var invalidLabelChars = regexp.MustCompile(`[^a-z0-9-]+`)

func sanitizeDNSLabel(s string) string {
	s = invalidLabelChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Discover walks testDir recursively: a directory containing test.yaml is a
// test; any other directory is descended into. Matches spec.md §4.10 step
// 1.
func Discover(testDir string) ([]TestSpec, error) {
	var tests []TestSpec

	var walk func(dir string) error
	walk = func(dir string) error {
		if _, err := os.Stat(filepath.Join(dir, testFileName)); err == nil {
			t, err := Load(dir)
			if err != nil {
				return err
			}
			tests = append(tests, t)
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("reading directory %s: %w", dir, err)
		}
		// Sorted for deterministic discovery order; final ordering within
		// a class is still governed by SortByOrdering.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if e.IsDir() {
				if err := walk(filepath.Join(dir, e.Name())); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(testDir); err != nil {
		return nil, err
	}
	return tests, nil
}
