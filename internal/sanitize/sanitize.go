// Package sanitize strips user-supplied markup down to a small set of inline
// formatting tags.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// AllowedTags are kept; every other element is removed along with its attributes.
var AllowedTags = []string{"b", "i", "u", "em", "strong", "br", "p"}

// Policy is safe for concurrent use once built.
type Policy struct {
	p *bluemonday.Policy
}

// New builds the chat markup policy.
func New() *Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(AllowedTags...)
	return &Policy{p: p}
}

// Sanitize returns the cleaned, trimmed text.
func (p *Policy) Sanitize(input string) string {
	return strings.TrimSpace(p.p.Sanitize(input))
}
