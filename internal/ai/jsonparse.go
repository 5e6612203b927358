package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports oracle output that is not JSON even after normalization.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("oracle output is not valid JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)\\s*```$")

// StripFences removes a surrounding Markdown code fence such as ```json ... ```.
// An opening fence without a closing one is also dropped.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimLeft(s, "`")
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// ParseJSON decodes oracle output into v. Fences are stripped first; when the
// body is not valid JSON, single quotes are replaced by double quotes and the
// body is tried once more. Anything else is a *ParseError.
func ParseJSON(raw string, v any) error {
	body := StripFences(raw)
	if body == "" {
		return &ParseError{Raw: raw, Err: errors.New("empty payload")}
	}

	var firstErr error
	for _, candidate := range []string{body, strings.ReplaceAll(body, "'", `"`)} {
		var msg json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &msg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := json.Unmarshal(msg, v); err != nil {
			return &ParseError{Raw: raw, Err: err}
		}
		return nil
	}
	return &ParseError{Raw: raw, Err: firstErr}
}
