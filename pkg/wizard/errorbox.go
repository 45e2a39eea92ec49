package wizard

import (
	"regexp"
	"strings"
)

var (
	camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)
	separators    = regexp.MustCompile(`[\s_]+`)
)

// kebab turns "planReview" into "plan-review" and "first name" into "first-name".
func kebab(s string) string {
	s = camelBoundary.ReplaceAllString(s, "$1-$2")
	s = separators.ReplaceAllString(s, "-")
	return strings.ToLower(s)
}

// ErrorBoxID resolves where a message for step (and optionally a field on
// it) is shown. An explicit ErrorBoxIDs entry for the step always wins.
func (c *Config) ErrorBoxID(step Step, fieldID string) string {
	if step == "" {
		return ""
	}
	if id, ok := c.ErrorBoxIDs[step]; ok && id != "" {
		return id
	}
	if fieldID != "" {
		return "errorbox-" + kebab(string(step)) + "-" + kebab(fieldID)
	}
	return "errorbox-" + kebab(string(step))
}

// FieldErrorBoxID resolves the error box of a form field.
func (c *Config) FieldErrorBoxID(f Field) string {
	step := f.Step()
	if f == FieldCVR {
		return c.ErrorBoxID(step, "")
	}
	return c.ErrorBoxID(step, c.Fields.ID(f))
}
