package ai

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ContentError reports well-formed JSON that lacks what the stage needs.
type ContentError struct {
	Field  string
	Reason string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("oracle output field %q: %s", e.Field, e.Reason)
}

// Assessment is the sufficiency verdict for the gathered requirements.
type Assessment struct {
	Enough        bool
	Questions     []string
	Summary       *string
	TechnicalSpec *string
}

type assessmentWire struct {
	Enough        *bool    `json:"enough"`
	Questions     []string `json:"questions"`
	Summary       *string  `json:"summary"`
	TZ            *string  `json:"TZ"`
	TechnicalSpec *string  `json:"technical_spec"`
}

// ParseAssessment decodes an assessment reply. Blank strings count as null.
func ParseAssessment(raw string) (Assessment, error) {
	var w assessmentWire
	if err := ParseJSON(raw, &w); err != nil {
		return Assessment{}, err
	}
	if w.Enough == nil {
		return Assessment{}, &ContentError{Field: "enough", Reason: "missing"}
	}

	a := Assessment{
		Enough:        *w.Enough,
		Summary:       nonBlank(w.Summary),
		TechnicalSpec: nonBlank(w.TZ),
	}
	if a.TechnicalSpec == nil {
		a.TechnicalSpec = nonBlank(w.TechnicalSpec)
	}
	for _, q := range w.Questions {
		if q = strings.TrimSpace(q); q != "" {
			a.Questions = append(a.Questions, q)
		}
	}
	return a, nil
}

// Diagnosis is the verdict on a deployed bot's logs.
type Diagnosis struct {
	HasErrors      bool
	ProblemSummary *string
}

type diagnosisWire struct {
	HasErrors      *bool   `json:"has_errors"`
	NeedToDebug    *bool   `json:"need_to_debug"`
	ProblemSummary *string `json:"problem_summary"`
}

// ParseDiagnosis decodes a diagnosis reply; need_to_debug is accepted as an
// alias of has_errors.
func ParseDiagnosis(raw string) (Diagnosis, error) {
	var w diagnosisWire
	if err := ParseJSON(raw, &w); err != nil {
		return Diagnosis{}, err
	}
	flag := w.HasErrors
	if flag == nil {
		flag = w.NeedToDebug
	}
	if flag == nil {
		return Diagnosis{}, &ContentError{Field: "has_errors", Reason: "missing"}
	}
	return Diagnosis{HasErrors: *flag, ProblemSummary: nonBlank(w.ProblemSummary)}, nil
}

// FileBundle maps a relative slash path to file content.
type FileBundle map[string]string

// ParseFileBundle decodes a path → content object. Every value must be a
// string and every path must stay inside the project directory.
func ParseFileBundle(raw string) (FileBundle, error) {
	var w map[string]json.RawMessage
	if err := ParseJSON(raw, &w); err != nil {
		return nil, err
	}

	out := make(FileBundle, len(w))
	for p, v := range w {
		clean, err := CleanPath(p)
		if err != nil {
			return nil, &ContentError{Field: p, Reason: err.Error()}
		}
		var content string
		if err := json.Unmarshal(v, &content); err != nil {
			return nil, &ContentError{Field: p, Reason: "content is not a string"}
		}
		out[clean] = content
	}
	return out, nil
}

// Paths returns the bundle's paths in sorted order.
func (b FileBundle) Paths() []string {
	out := make([]string, 0, len(b))
	for p := range b {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Missing returns the required paths absent from the bundle.
func (b FileBundle) Missing(required []string) []string {
	var out []string
	for _, r := range required {
		if _, ok := b[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// CleanPath normalizes a generated relative path and rejects anything that
// would escape the project directory.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path")
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path escapes project directory")
	}
	return clean, nil
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
