// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package screen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// screenValidate is the validator instance for screen and patch shapes.
// Initialized in init() with the componentid tag and layout op rules.
var screenValidate *validator.Validate

func init() {
	screenValidate = validator.New(validator.WithRequiredStructEnabled())
	RegisterValidations(screenValidate)
}

// RegisterValidations installs the screen-specific tags on v.
//
// Packages that embed Screen or Patch in their own request types call this on
// their validator so that nested fields are checked with the same rules.
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("componentid", validateComponentID)
	v.RegisterStructValidation(validateLayoutOp, LayoutOp{})
}

func validateComponentID(fl validator.FieldLevel) bool {
	return IsValidComponentID(fl.Field().String())
}

// validateLayoutOp requires a component id on every op except set.
func validateLayoutOp(sl validator.StructLevel) {
	op := sl.Current().Interface().(LayoutOp)
	if op.Op != LayoutSet && op.ComponentID == "" {
		sl.ReportError(op.ComponentID, "component_id", "ComponentID", "required_unless_set", "")
	}
}

// =============================================================================
// Violations
// =============================================================================

// Violation is one field-level validation failure.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError reports every violation found in a Screen or Patch.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

// Error implements error.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationError extracts a *ValidationError from err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ViolationsFrom converts go-playground validator errors into Violations.
// Errors of any other type become a single violation on field "".
func ViolationsFrom(err error) []Violation {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Violation{{Rule: "invalid", Message: err.Error()}}
	}
	out := make([]Violation, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, Violation{
			Field:   fe.Namespace(),
			Rule:    fe.Tag(),
			Message: describeFieldError(fe),
		})
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless_set":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters or items", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters or items", fe.Param())
	case "componentid":
		return fmt.Sprintf("%q is not a valid component id", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// =============================================================================
// Validation Entry Points
// =============================================================================

// Validate runs the full schema check on a Screen.
//
// # Description
//
// Checks field shapes (lengths, id format) and every layout invariant:
// no dangling layout ids, no duplicates, bounded layout length. This is the
// check the session runs on its final snapshot; unlike Normalize it never
// repairs anything.
//
// # Outputs
//
//   - error: nil when valid, otherwise a *ValidationError.
func Validate(s Screen) error {
	var violations []Violation
	if err := screenValidate.Struct(s); err != nil {
		violations = append(violations, ViolationsFrom(err)...)
	}
	if s.Components == nil {
		violations = append(violations, Violation{Field: "Screen.Components", Rule: "required", Message: "is required"})
	}
	if s.Layout == nil {
		violations = append(violations, Violation{Field: "Screen.Layout", Rule: "required", Message: "is required"})
	}

	seen := make(map[string]bool, len(s.Layout))
	for i, id := range s.Layout {
		field := fmt.Sprintf("Screen.Layout[%d]", i)
		if seen[id] {
			violations = append(violations, Violation{Field: field, Rule: "unique", Message: fmt.Sprintf("%q appears more than once", id)})
		}
		seen[id] = true
		if _, ok := s.Components[id]; !ok {
			violations = append(violations, Violation{Field: field, Rule: "exists", Message: fmt.Sprintf("%q does not name a component", id)})
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// ValidatePatch checks the shape of a Patch received from outside the
// process. Reference errors are not checked here; Apply tolerates them.
func ValidatePatch(p Patch) error {
	if err := screenValidate.Struct(p); err != nil {
		return &ValidationError{Violations: ViolationsFrom(err)}
	}
	return nil
}
