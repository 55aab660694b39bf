package models

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/justsurfingit/career-tracker/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("job_status", func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).Valid()
	})
	return v
}

var requiredMessages = map[string]string{
	"Company":  "Please add a company name",
	"Position": "Please add a position (e.g. Frontend Dev)",
}

var jsonNames = map[string]string{
	"Company":           "company",
	"Position":          "position",
	"Status":            "status",
	"SalaryExpectation": "salaryExpectation",
	"DateApplied":       "dateApplied",
}

// Validate checks a normalized job. The returned error, if any, is an
// *apperr.Error of kind validation listing every failing field.
func (j *Job) Validate() error {
	err := validate.Struct(j)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("Job validation failed: " + err.Error())
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fieldMessage(fe.StructField(), fieldReason(fe, j)))
	}
	return apperr.Validation("Job validation failed: " + strings.Join(parts, ", "))
}

func fieldReason(fe validator.FieldError, j *Job) string {
	switch fe.Tag() {
	case "required":
		if msg, ok := requiredMessages[fe.StructField()]; ok {
			return msg
		}
		return "missing required field"
	case "job_status":
		return enumMessage(string(j.Status))
	default:
		return "invalid value"
	}
}

// fieldMessage formats a single "<field>: <reason>" fragment using the JSON
// field name.
func fieldMessage(structField, reason string) string {
	name, ok := jsonNames[structField]
	if !ok {
		name = structField
	}
	return name + ": " + reason
}
