// Package spec is the data model of spec.md §3: TestSpec and the step
// sub-specs it is built from, plus the YAML loader and discovery walk that
// turn a test directory tree into a list of TestSpecs.
package spec

import (
	"github.com/blackjack-test/blackjack/internal/bucket"
	"github.com/blackjack-test/blackjack/internal/expr"
)

// Class is the scheduling partition a TestSpec belongs to.
type Class string

const (
	ClassCluster Class = "cluster"
	ClassUser    Class = "user"
)

// TestSpec is one test.yaml's decoded contents plus the directory it was
// loaded from.
type TestSpec struct {
	Name      string     `json:"name,omitempty"`
	Type      Class      `json:"type,omitempty"`
	Ordering  *string    `json:"ordering,omitempty"`
	Steps     []StepSpec `json:"steps,omitempty"`
	Attempts  *int       `json:"attempts,omitempty"`

	// Dir is set at load time from the directory containing test.yaml; it
	// is never deserialized from YAML.
	Dir string `json:"-"`
}

// StepSpec is one step of a test. Execution order within a step is fixed
// (spec.md §4.8) regardless of the field order here.
type StepSpec struct {
	Name   string       `json:"name,omitempty"`
	Watch  []WatchSpec  `json:"watch,omitempty"`
	Bucket []BucketSpec `json:"bucket,omitempty"`
	Apply  []ApplySpec  `json:"apply,omitempty"`
	Delete []ApplySpec  `json:"delete,omitempty"`
	Script []string     `json:"script,omitempty"`
	Sleep  uint16       `json:"sleep,omitempty"`
	Wait   []WaitSpec   `json:"wait,omitempty"`
}

// WatchSpec names a bucket (Name) to be kept up to date by watching a
// GroupVersionKind in a namespace, optionally filtered by labels/fields.
type WatchSpec struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	Group     string            `json:"group,omitempty"`
	Version   string            `json:"version"`
	Namespace string            `json:"namespace,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// BucketSpec narrows (or creates) a bucket's operation mask.
type BucketSpec struct {
	Name       string            `json:"name"`
	Operations []bucket.Operation `json:"operations,omitempty"`
}

// ApplySpec identifies a manifest path and how it is targeted.
type ApplySpec struct {
	Path              string `json:"path"`
	OverrideNamespace *bool  `json:"override-namespace,omitempty"`
	Namespace         string `json:"namespace,omitempty"`
}

// WaitSpec pairs a bucket (Target) with the condition that must hold
// against it within Timeout seconds.
type WaitSpec struct {
	Target    string    `json:"target"`
	Condition expr.Expr `json:"condition"`
	Timeout   uint16    `json:"timeout"`
}

const defaultNamespaceRef = "${BLACKJACK_NAMESPACE}"

// normalize fills in the defaults spec.md §3 describes: test type
// (default User), watch/apply namespace (default
// "${BLACKJACK_NAMESPACE}"), and apply's override-namespace (default
// true). It does not synthesize Name or set Dir — the loader does that,
// since it needs the filesystem path.
func (t *TestSpec) normalize() {
	if t.Type == "" {
		t.Type = ClassUser
	}
	for si := range t.Steps {
		step := &t.Steps[si]
		for wi := range step.Watch {
			if step.Watch[wi].Namespace == "" {
				step.Watch[wi].Namespace = defaultNamespaceRef
			}
		}
		for ai := range step.Apply {
			normalizeApplySpec(&step.Apply[ai])
		}
		for di := range step.Delete {
			normalizeApplySpec(&step.Delete[di])
		}
	}
}

func normalizeApplySpec(a *ApplySpec) {
	if a.OverrideNamespace == nil {
		t := true
		a.OverrideNamespace = &t
	}
	if a.Namespace == "" {
		a.Namespace = defaultNamespaceRef
	}
}
