package schema

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	displayPolicyOnce sync.Once
	displayPolicy     *bluemonday.Policy
)

// DisplayText strips markup from server-provided labels, step names, and
// option values before they reach a terminal. Stored values are never passed
// through here.
func DisplayText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	cleaned := displaySanitizer().Sanitize(trimmed)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

func displaySanitizer() *bluemonday.Policy {
	displayPolicyOnce.Do(func() {
		displayPolicy = bluemonday.StrictPolicy()
	})
	return displayPolicy
}
