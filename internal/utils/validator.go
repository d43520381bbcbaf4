// internal/utils/validator.go
package utils

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var stateCodePattern = regexp.MustCompile("^[A-Z]{2}$")

func init() {
	validate = validator.New()
	// Report fields by their JSON names so errors match what callers sent.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	validate.RegisterValidation("state_code", validateStateCode)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateStateCode(fl validator.FieldLevel) bool {
	return stateCodePattern.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   e.Field(),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must have at least " + e.Param() + " entries"
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "gtfield":
		return e.Field() + " must be after " + e.Param()
	case "state_code":
		return "State code must be two uppercase letters"
	case "uuid":
		return e.Field() + " must be a UUID"
	default:
		return e.Field() + " is invalid"
	}
}
