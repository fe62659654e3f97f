// Package validator holds the pure format checks applied before any
// town mutation reaches the database.
package validator

import "regexp"

var townNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{3,16}$`)

// Validator applies name-format rules. Stateless.
type Validator struct {
	pattern *regexp.Regexp
}

// New returns a validator with the default ruleset.
func New() *Validator {
	return &Validator{pattern: townNamePattern}
}

// ValidTownName reports whether the name is acceptable for a new or
// renamed town. Uniqueness is checked elsewhere; this is format only.
func (v *Validator) ValidTownName(name string) bool {
	return v.pattern.MatchString(name)
}
