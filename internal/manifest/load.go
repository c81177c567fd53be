package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

// loadText reads path: a single file verbatim, or every *.yaml file in a
// directory concatenated in lexicographic order joined by "---\n", per
// spec.md §4.5 / §6.
func loadText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("reading directory %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".yaml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for i, name := range names {
		if i > 0 {
			buf.WriteString("---\n")
		}
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", filepath.Join(path, name), err)
		}
		buf.Write(data)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

// splitDocuments parses multi-document YAML text into JSON-shaped objects,
// skipping empty documents (a trailing "---" or blank file).
func splitDocuments(text string) ([]map[string]any, error) {
	reader := k8syaml.NewYAMLReader(bufio.NewReader(bytes.NewBufferString(text)))

	var docs []map[string]any
	for {
		raw, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("splitting yaml documents: %w", err)
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		jsonBytes, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("converting yaml document to json: %w", err)
		}
		var obj map[string]any
		if err := json.Unmarshal(jsonBytes, &obj); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		if len(obj) == 0 {
			continue
		}
		docs = append(docs, obj)
	}
	return docs, nil
}
