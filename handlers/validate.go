package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessages holds the message reported for any rule a field breaks.
var fieldMessages = map[string]string{
	"name":         "Name must be between 2 and 100 characters",
	"email":        "Please provide a valid email address",
	"phone":        "Phone number must be exactly 10 digits",
	"institution":  "Institution name must be between 2 and 200 characters",
	"requirements": "Requirements must not exceed 500 characters",
}

// validateStruct runs the validate tags of s and converts failures to a
// 400 VALIDATION_FAILED error listing every invalid field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	details := make([]ErrorDetail, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()]
		if !ok {
			msg = fe.Error()
		}
		details = append(details, ErrorDetail{Field: fe.Field(), Message: msg, Value: fe.Value()})
	}
	return validationFailed(details)
}
