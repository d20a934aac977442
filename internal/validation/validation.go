// Package validation performs structural validation of ingest batches
// before they touch the buffer.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Nijaek/analytics-dashboard/internal/models"
)

// BatchValidator validates ingest batch envelopes and each contained event.
type BatchValidator struct {
	validator *validator.Validate
}

// NewBatchValidator constructs a BatchValidator with standard struct validation.
func NewBatchValidator() *BatchValidator {
	return &BatchValidator{
		validator: validator.New(),
	}
}

// ValidateBatch checks the batch envelope: 1..100 events, each with a
// non-empty event_name within length limits. The first violation is
// reported in a client-readable form.
func (v *BatchValidator) ValidateBatch(batch *models.IngestBatch) error {
	if err := v.validator.Struct(batch); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("batch validation failed: %s", describe(verrs[0]))
		}
		return fmt.Errorf("batch validation failed: %w", err)
	}
	return nil
}

// describe renders one field error as "events[3].event_name: required".
func describe(fe validator.FieldError) string {
	// Namespace looks like IngestBatch.Events[3].EventName
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	ns = snakeNamespace(ns)

	switch fe.Tag() {
	case "required":
		return ns + ": required"
	case "min":
		return fmt.Sprintf("%s: must have at least %s", ns, fe.Param())
	case "max":
		return fmt.Sprintf("%s: must have at most %s", ns, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s", ns, fe.Tag())
	}
}

// snakeNamespace converts Events[3].EventName to events[3].event_name.
func snakeNamespace(ns string) string {
	var b strings.Builder
	for i, r := range ns {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && ns[i-1] != '.' && ns[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
