package validation

import (
	"fmt"
	"strings"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
)

// ValidationError is a problem with one field of the rules document.
// Field is a path such as "rules[2].allowed_ips[0]".
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every problem found in one pass, so an operator
// can fix the whole file at once.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Add records a problem with field.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, &ValidationError{Field: field, Value: value, Message: message})
}

func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// AsConfigurationError wraps the collection so that errors.Is reports
// domain.ErrConfiguration. It returns nil when there are no errors.
func (e ValidationErrors) AsConfigurationError() error {
	if !e.HasErrors() {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfiguration, e)
}
