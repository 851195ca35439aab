package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator checks records against the schema constraints.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	v := validator.New()

	// Severity is compared case-insensitively everywhere else, so accept any case here too.
	v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return IsValidSeverity(fl.Field().String())
	})

	return &Validator{validate: v}
}

// Validate returns an error describing the first invalid field of rec.
func (v *Validator) Validate(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("validation failed: nil record")
	}
	if err := v.validate.Struct(rec); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
