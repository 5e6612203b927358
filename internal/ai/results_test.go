package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssessment(t *testing.T) {
	a, err := ParseAssessment(`{"enough": true, "questions": null, "summary": "Echo bot", "TZ": "Reply with the same text"}`)
	require.NoError(t, err)
	assert.True(t, a.Enough)
	assert.Empty(t, a.Questions)
	require.NotNil(t, a.Summary)
	assert.Equal(t, "Echo bot", *a.Summary)
	require.NotNil(t, a.TechnicalSpec)
	assert.Equal(t, "Reply with the same text", *a.TechnicalSpec)
}

func TestParseAssessmentBlankFieldsAreNull(t *testing.T) {
	a, err := ParseAssessment(`{'enough': false, 'questions': ['Which language?', ' '], 'summary': '', 'TZ': null}`)
	require.NoError(t, err)
	assert.False(t, a.Enough)
	assert.Equal(t, []string{"Which language?"}, a.Questions)
	assert.Nil(t, a.Summary)
	assert.Nil(t, a.TechnicalSpec)
}

func TestParseAssessmentTechnicalSpecAlias(t *testing.T) {
	a, err := ParseAssessment(`{"enough": true, "summary": "s", "technical_spec": "t"}`)
	require.NoError(t, err)
	require.NotNil(t, a.TechnicalSpec)
	assert.Equal(t, "t", *a.TechnicalSpec)
}

func TestParseAssessmentMissingEnough(t *testing.T) {
	_, err := ParseAssessment(`{"questions": ["q"]}`)
	var cerr *ContentError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "enough", cerr.Field)
}

func TestParseDiagnosis(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		errors  bool
		summary string
	}{
		{name: "has_errors", in: `{"has_errors": true, "problem_summary": "ImportError"}`, errors: true, summary: "ImportError"},
		{name: "need_to_debug alias", in: `{"need_to_debug": true, "problem_summary": "crash"}`, errors: true, summary: "crash"},
		{name: "clean", in: `{"has_errors": false, "problem_summary": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDiagnosis(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.errors, d.HasErrors)
			if tt.summary == "" {
				assert.Nil(t, d.ProblemSummary)
				return
			}
			require.NotNil(t, d.ProblemSummary)
			assert.Equal(t, tt.summary, *d.ProblemSummary)
		})
	}

	_, err := ParseDiagnosis(`{"problem_summary": "x"}`)
	var cerr *ContentError
	assert.True(t, errors.As(err, &cerr))
}

func TestParseFileBundle(t *testing.T) {
	b, err := ParseFileBundle("```json\n{\"main.py\": \"print(1)\", \"./app/handlers.py\": \"\", \"Dockerfile\": \"FROM python:3.12\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"Dockerfile", "app/handlers.py", "main.py"}, b.Paths())
	assert.Equal(t, []string{"README.md"}, b.Missing([]string{"main.py", "README.md"}))
}

func TestParseFileBundleRejectsBadEntries(t *testing.T) {
	for _, in := range []string{
		`{"../escape.py": "x"}`,
		`{"/etc/passwd": "x"}`,
		`{"main.py": 42}`,
	} {
		_, err := ParseFileBundle(in)
		var cerr *ContentError
		assert.True(t, errors.As(err, &cerr), "input %s", in)
	}
}
