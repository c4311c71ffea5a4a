package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError is a user-correctable input problem
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a *ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

var fieldLabels = map[string]string{
	"Title":       "Title",
	"Description": "Description",
	"Category":    "Category",
	"Lat":         "Latitude",
	"Lng":         "Longitude",
	"UserID":      "User",
}

// fromValidator turns the first validator failure into a readable message
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	label := fieldLabels[fe.Field()]
	if label == "" {
		label = fe.Field()
	}
	field := strings.ToLower(fe.Field())

	switch fe.Tag() {
	case "required":
		if fe.Field() == "Lat" || fe.Field() == "Lng" {
			return invalid(field, "Latitude and longitude are required")
		}
		return invalid(field, "%s is required", label)
	case "latitude":
		return invalid(field, "Latitude must be between -90 and 90")
	case "longitude":
		return invalid(field, "Longitude must be between -180 and 180")
	case "max":
		return invalid(field, "%s must be at most %s characters", label, fe.Param())
	case "gte", "lte":
		return invalid(field, "%s is out of range", label)
	}
	return invalid(field, "%s is invalid", label)
}
