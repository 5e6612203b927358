// Package keys normalizes API keys and bot tokens pasted by users or read
// from the environment.
package keys

import "strings"

// Clean strips formatting noise that commonly appears in env-var
// values and pasted tokens: quotes, a "Bearer " prefix, escaped or real line
// breaks and any byte outside visible ASCII.
func Clean(raw string) string {
	key := strings.TrimSpace(raw)
	if key == "" {
		return ""
	}

	key = strings.Trim(key, `"'`)
	key = strings.TrimSpace(key)
	if len(key) >= len("bearer ") && strings.EqualFold(key[:len("bearer ")], "bearer ") {
		key = strings.TrimSpace(key[len("bearer "):])
	}

	key = strings.NewReplacer(`\r`, "", `\n`, "", "\r", "", "\n", "", "\t", "").Replace(key)

	filtered := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		b := key[i]
		if b >= 33 && b <= 126 {
			filtered = append(filtered, b)
		}
	}

	return string(filtered)
}
